package config

import "path/filepath"

// Persistent state file names under dataDir, per spec.md §6.
const (
	LockFileName       = ".library.lock"
	TrustTokenFileName = ".trust-token.icloud"
	LogFileName        = ".icloud-photos-sync.log"
)

// LockPath returns the library lock file path for the given data directory.
func LockPath(dataDir string) string { return filepath.Join(dataDir, LockFileName) }

// TrustTokenPath returns the persisted trust-token file path.
func TrustTokenPath(dataDir string) string { return filepath.Join(dataDir, TrustTokenFileName) }

// LogPath returns the log file path under dataDir. Nothing in this
// repository opens or truncates that file; logs are written to stderr.
func LogPath(dataDir string) string { return filepath.Join(dataDir, LogFileName) }

// AssetsDirName is the content-addressed asset store directory (§4.2).
const AssetsDirName = "_All-Photos"

// ArchiveDirName is the archive holding area (§4.2).
const ArchiveDirName = "_Archive"

// StashDirName is the sub-directory of ArchiveDirName holding albums whose
// remote parent is temporarily missing (§4.2).
const StashDirName = ".stash"

// LostFoundDirName holds albums whose remote counterpart disappeared (§4.2).
const LostFoundDirName = "Lost+Found"

// ArchiveSentinelName marks an album directory as ARCHIVED (§4.6).
const ArchiveSentinelName = ".archive"
