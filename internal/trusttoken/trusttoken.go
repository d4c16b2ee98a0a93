// Package trusttoken persists the plain-string Apple trust token across
// process runs (spec.md §4.3, <dataDir>/.trust-token.icloud). Grounded on
// the teacher's internal/tokenfile package's atomic write idiom
// (write-to-temp + fsync + rename, 0600 permissions), generalized from a
// JSON-wrapped OAuth2 token to a bare trust-token string since there is no
// companion metadata to carry.
package trusttoken

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FilePerms restricts the trust-token file to owner-only read/write, since
// it is a bearer credential good for the token's validity window.
const FilePerms = 0o600

// Store implements icloud.TrustTokenStore against a fixed path.
type Store struct {
	path string
}

// NewStore returns a Store bound to path (config.TrustTokenPath(dataDir)).
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the persisted trust token. A missing file is not an error —
// it returns "", nil, mirroring "no token yet, sign in fresh".
func Load(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("trusttoken: reading %s: %w", path, err)
	}

	return strings.TrimSpace(string(data)), nil
}

// Save implements icloud.TrustTokenStore: atomic write-to-temp + fsync +
// rename, so a crash mid-write never leaves a truncated token on disk.
func (s *Store) Save(token string) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("trusttoken: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".trust-token-*.tmp")
	if err != nil {
		return fmt.Errorf("trusttoken: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(FilePerms); err != nil {
		tmp.Close()

		return fmt.Errorf("trusttoken: setting permissions: %w", err)
	}

	if _, err := tmp.WriteString(token); err != nil {
		tmp.Close()

		return fmt.Errorf("trusttoken: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()

		return fmt.Errorf("trusttoken: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("trusttoken: closing: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("trusttoken: renaming: %w", err)
	}

	success = true

	return nil
}

// Remove deletes the persisted trust token, used by --refresh-token.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("trusttoken: removing %s: %w", path, err)
	}

	return nil
}
