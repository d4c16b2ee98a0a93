package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/BurntSushi/toml"
)

// FileConfig is the optional on-disk config file schema. It exists purely as
// an ambient convenience layer (spec.md names no config file; CLI flags and
// environment variables remain authoritative) grounded on the teacher's
// TOML-based internal/config/config.go — the same library, a much smaller
// schema since this spec has no per-drive sections.
type FileConfig struct {
	Username        string `toml:"username"`
	DataDir         string `toml:"data_dir"`
	MFAPort         int    `toml:"mfa_port"`
	DownloadThreads int    `toml:"download_threads"`
	Schedule        string `toml:"schedule"`
	LogLevel        string `toml:"log_level"`
}

// LoadFile reads and parses a TOML config file at path. A missing file is not
// an error — it returns a zero FileConfig, mirroring the "file layer is
// optional" design.
func LoadFile(path string) (FileConfig, error) {
	var fc FileConfig

	if path == "" {
		return fc, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fc, nil
	}

	if err != nil {
		return fc, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if _, err := toml.Decode(string(data), &fc); err != nil {
		return fc, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return fc, nil
}

// Apply merges file-layer values onto cfg. Called before env/CLI layers so
// those continue to win.
func (fc FileConfig) Apply(cfg *Config) {
	if fc.Username != "" {
		cfg.Username = fc.Username
	}

	if fc.DataDir != "" {
		cfg.DataDir = fc.DataDir
	}

	if fc.MFAPort != 0 {
		cfg.MFAPort = fc.MFAPort
	}

	if fc.DownloadThreads != 0 {
		cfg.DownloadThreads = fc.DownloadThreads
	}

	if fc.Schedule != "" {
		cfg.Schedule = fc.Schedule
	}

	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
}
