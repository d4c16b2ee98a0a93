// Package archive implements the Archive Engine (C6): freezing an album
// locally by replacing its shared symlinks with real copies, and optionally
// deleting the remote originals of non-favorite assets. Grounded on the
// teacher's file-copy/mtime-preservation idioms in internal/sync.
package archive

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/apperror"
	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/config"
	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/icloud"
	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/library"
)

// RemoteDeleter deletes the remote counterpart of an asset, used only when
// --remote-delete is set.
type RemoteDeleter interface {
	DeleteAsset(ctx context.Context, recordName string) error
}

// AssetLookup resolves the remote Asset behind a content-addressed
// filename, needed to check the favorite flag before a remote delete.
type AssetLookup func(filename string) (icloud.Asset, bool)

// Engine runs the archivePath operation, per spec.md §4.6.
type Engine struct {
	lib          *library.PhotosLibrary
	lookupAsset  AssetLookup
	remoteDelete RemoteDeleter
}

// New constructs an archive Engine bound to lib. lookupAsset and
// remoteDelete may be nil when --remote-delete is not requested.
func New(lib *library.PhotosLibrary, lookupAsset AssetLookup, remoteDelete RemoteDeleter) *Engine {
	return &Engine{lib: lib, lookupAsset: lookupAsset, remoteDelete: remoteDelete}
}

// ArchivePath runs the four steps of spec.md §4.6 against path, which must
// be a pretty-named album symlink under the data directory.
func (e *Engine) ArchivePath(ctx context.Context, path string, remoteDeleteRequested bool) error {
	info, err := os.Lstat(path)
	if err != nil {
		return apperror.Wrap(apperror.KindArchiveError, err, "statting archive target", "path", path)
	}

	if info.Mode()&os.ModeSymlink == 0 {
		return apperror.New(apperror.KindArchiveError, "archive target is not a symlink", "path", path)
	}

	target, err := os.Readlink(path)
	if err != nil {
		return apperror.Wrap(apperror.KindArchiveError, err, "reading archive target symlink", "path", path)
	}

	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(path), target)
	}

	uuid := filepathBaseTrimDot(target)

	album, ok := e.lib.Albums[uuid]
	if !ok || album.AlbumType != icloud.AlbumTypeAlbum {
		return apperror.New(apperror.KindArchiveError, "archive target is not an ALBUM", "path", path)
	}

	entries, err := os.ReadDir(target)
	if err != nil {
		return apperror.Wrap(apperror.KindArchiveError, err, "reading album directory", "path", target)
	}

	for _, entry := range entries {
		if entry.Type()&os.ModeSymlink == 0 {
			continue
		}

		linkPath := filepath.Join(target, entry.Name())

		if err := replaceSymlinkWithCopy(linkPath); err != nil {
			return apperror.Wrap(apperror.KindArchiveError, err, "freezing asset", "path", linkPath)
		}
	}

	sentinel := filepath.Join(target, config.ArchiveSentinelName)
	if err := os.WriteFile(sentinel, nil, 0o644); err != nil {
		return apperror.Wrap(apperror.KindArchiveError, err, "writing archive sentinel", "path", target)
	}

	album.AlbumType = icloud.AlbumTypeArchived

	if remoteDeleteRequested && e.remoteDelete != nil {
		if err := e.deleteNonFavorites(ctx, album); err != nil {
			return err
		}
	}

	return nil
}

// deleteNonFavorites issues a remote delete mutation for each asset in
// album that is not marked favorite, per spec.md §4.6 step 4. A single
// asset's delete failure is an ArchiveWarning, not fatal to the whole op.
func (e *Engine) deleteNonFavorites(ctx context.Context, album *library.LocalAlbum) error {
	if e.lookupAsset == nil {
		return apperror.New(apperror.KindArchiveError, "remote-delete requested but no asset lookup configured")
	}

	var warnings []error

	for filename := range album.AssetFilenames {
		asset, ok := e.lookupAsset(filename)
		if !ok || asset.Favorite {
			continue
		}

		if err := e.remoteDelete.DeleteAsset(ctx, asset.RecordName); err != nil {
			warnings = append(warnings, apperror.Wrap(apperror.KindArchiveWarning, err, "remote delete failed", "recordName", asset.RecordName))
		}
	}

	if len(warnings) > 0 {
		return warnings[0]
	}

	return nil
}

// replaceSymlinkWithCopy replaces a symlink with a real copy of its target
// file, preserving mtime, per spec.md §4.6 step 2.
func replaceSymlinkWithCopy(linkPath string) error {
	target, err := os.Readlink(linkPath)
	if err != nil {
		return err
	}

	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(linkPath), target)
	}

	info, err := os.Stat(target)
	if err != nil {
		return err
	}

	src, err := os.Open(target)
	if err != nil {
		return err
	}
	defer src.Close()

	tmpPath := linkPath + ".archive-tmp"

	dst, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(tmpPath)

		return err
	}

	if err := dst.Sync(); err != nil {
		dst.Close()
		os.Remove(tmpPath)

		return err
	}

	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)

		return err
	}

	if err := os.Remove(linkPath); err != nil {
		os.Remove(tmpPath)

		return err
	}

	if err := os.Rename(tmpPath, linkPath); err != nil {
		return err
	}

	return os.Chtimes(linkPath, info.ModTime(), info.ModTime())
}

func filepathBaseTrimDot(path string) string {
	base := filepath.Base(path)
	if len(base) > 0 && base[0] == '.' {
		return base[1:]
	}

	return base
}
