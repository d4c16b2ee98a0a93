package library

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/apperror"
	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/config"
)

const assetFilePermissions = 0o644

// WriteAsset writes content to the asset dir under filename via a
// temp-file-then-rename, per spec.md §4.2: write to a tempfile, fsync,
// rename to final name, then set mtime. If a same-named file already
// exists with matching size, this is a no-op (the idempotence rule).
func (lib *PhotosLibrary) WriteAsset(filename string, size int64, modified time.Time, content io.Reader) error {
	dir := filepath.Join(lib.Root, config.AssetsDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperror.Wrap(apperror.KindLibraryError, err, "creating asset store")
	}

	finalPath := filepath.Join(dir, filename)

	if existing, ok := lib.Assets[filename]; ok && existing.Size == size {
		return nil
	}

	tmp, err := os.CreateTemp(dir, filename+".tmp-*")
	if err != nil {
		return apperror.Wrap(apperror.KindLibraryError, err, "creating temp file", "filename", filename)
	}

	tmpPath := tmp.Name()

	written, err := io.Copy(tmp, content)
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)

		return apperror.Wrap(apperror.KindLibraryError, err, "writing asset content", "filename", filename)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)

		return apperror.Wrap(apperror.KindLibraryError, err, "fsyncing asset", "filename", filename)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)

		return apperror.Wrap(apperror.KindLibraryError, err, "closing temp file", "filename", filename)
	}

	if err := os.Chmod(tmpPath, assetFilePermissions); err != nil {
		os.Remove(tmpPath)

		return apperror.Wrap(apperror.KindLibraryError, err, "chmod temp file", "filename", filename)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)

		return apperror.Wrap(apperror.KindLibraryError, err, "renaming asset into place", "filename", filename)
	}

	if err := os.Chtimes(finalPath, modified, modified); err != nil {
		return apperror.Wrap(apperror.KindLibraryError, err, "setting asset mtime", "filename", filename)
	}

	lib.Assets[filename] = LocalAsset{Filename: filename, Size: written, ModTime: modified}

	return nil
}

// VerifyAsset checks the stored file's size against expectedSize. A
// mismatch deletes the file and reports false so the caller re-downloads,
// per spec.md §4.2.
func (lib *PhotosLibrary) VerifyAsset(filename string, expectedSize int64) (bool, error) {
	asset, ok := lib.Assets[filename]
	if !ok {
		return false, nil
	}

	if asset.Size == expectedSize {
		return true, nil
	}

	if err := lib.DeleteAsset(filename); err != nil {
		return false, err
	}

	return false, nil
}

// DeleteAsset unlinks filename from the asset store. Callers must ensure no
// album still links to it, per spec.md §4.2.
func (lib *PhotosLibrary) DeleteAsset(filename string) error {
	path := filepath.Join(lib.Root, config.AssetsDirName, filename)

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			delete(lib.Assets, filename)

			return nil
		}

		return apperror.Wrap(apperror.KindLibraryError, err, "deleting asset", "filename", filename)
	}

	delete(lib.Assets, filename)

	return nil
}

// AssetPath returns the absolute path to a stored asset file.
func (lib *PhotosLibrary) AssetPath(filename string) string {
	return filepath.Join(lib.Root, config.AssetsDirName, filename)
}

// relativeAssetLinkTarget computes the "../_All-Photos/<filename>"-style
// relative symlink target from an album directory.
func relativeAssetLinkTarget(filename string) string {
	return fmt.Sprintf("../%s/%s", config.AssetsDirName, filename)
}
