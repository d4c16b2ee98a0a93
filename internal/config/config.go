// Package config resolves icloud-photos-sync-go's configuration from four
// layers — built-in defaults, an optional TOML file, environment variables,
// and CLI flags — the highest layer always winning. The layering and the
// TOML schema are grounded on the teacher's internal/config package
// (config.go, defaults.go, env.go, load.go in the reference corpus); the
// field set is this spec's own (§6).
package config

import "time"

// Config is the fully resolved configuration for one run, after merging
// defaults, file, env, and CLI flags.
type Config struct {
	Username             string
	Password             string
	TrustToken           string
	DataDir              string
	MFAPort              int
	Force                bool
	RefreshToken         bool
	FailOnMFA            bool
	DownloadThreads      int
	Schedule             string
	EnableCrashReporting bool
	LogLevel             string

	RequestTimeout time.Duration
}

// Default values for configuration options, the "layer 0" of the four-layer
// chain, grounded on the teacher's internal/config/defaults.go.
const (
	DefaultDataDir         = "/opt/icloud-photos-library"
	DefaultMFAPort         = 80
	DefaultDownloadThreads = 16
	DefaultLogLevel        = "info"
	DefaultRequestTimeout  = 60 * time.Second
	DefaultMaxSyncRetry    = 2
	DefaultDownloadRetries = 4
)

// DefaultConfig returns a Config populated with all default values, mirroring
// the teacher's DefaultConfig() in internal/config/defaults.go.
func DefaultConfig() *Config {
	return &Config{
		DataDir:         DefaultDataDir,
		MFAPort:         DefaultMFAPort,
		DownloadThreads: DefaultDownloadThreads,
		LogLevel:        DefaultLogLevel,
		RequestTimeout:  DefaultRequestTimeout,
	}
}
