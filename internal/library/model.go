package library

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/apperror"
	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/config"
	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/icloud"
)

// LocalAsset is one file in the content-addressed asset store.
type LocalAsset struct {
	Filename string // <checksum>.<ext>, as stored under _All-Photos/
	Size     int64
	ModTime  time.Time
}

// LocalAlbum is one album node reconstructed from the on-disk symlink tree,
// per spec.md §4.2's Loading rules.
type LocalAlbum struct {
	UUID           string
	DisplayName    string
	ParentUUID     string // empty for a top-level album
	AlbumType      icloud.AlbumType
	AssetFilenames map[string]struct{} // content-addressed filenames linked here

	InStash      bool // under _Archive/.stash/
	InLostFound  bool // under _Archive/Lost+Found/
}

// HasAsset reports whether filename is linked to this album.
func (a *LocalAlbum) HasAsset(filename string) bool {
	_, ok := a.AssetFilenames[filename]
	return ok
}

// PhotosLibrary is the in-memory projection of local state, constructed
// fresh from the filesystem at the start of each sync, per spec.md §3.
type PhotosLibrary struct {
	Root   string
	Assets map[string]LocalAsset
	Albums map[string]*LocalAlbum
}

// Load walks root and builds a PhotosLibrary projection.
func Load(root string) (*PhotosLibrary, error) {
	lib := &PhotosLibrary{
		Root:   root,
		Assets: make(map[string]LocalAsset),
		Albums: make(map[string]*LocalAlbum),
	}

	if err := lib.loadAssets(); err != nil {
		return nil, err
	}

	if err := lib.loadAlbums(); err != nil {
		return nil, err
	}

	return lib, nil
}

func (lib *PhotosLibrary) loadAssets() error {
	dir := filepath.Join(lib.Root, config.AssetsDirName)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return apperror.Wrap(apperror.KindLibraryError, err, "reading asset store")
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		info, err := e.Info()
		if err != nil {
			return apperror.Wrap(apperror.KindLibraryError, err, "statting asset", "name", e.Name())
		}

		lib.Assets[e.Name()] = LocalAsset{Filename: e.Name(), Size: info.Size(), ModTime: info.ModTime()}
	}

	return nil
}

func (lib *PhotosLibrary) loadAlbums() error {
	skip := map[string]struct{}{
		config.AssetsDirName:    {},
		config.ArchiveDirName:   {},
		config.LockFileName:    {},
		config.TrustTokenFileName: {},
		config.LogFileName:     {},
	}

	entries, err := os.ReadDir(lib.Root)
	if err != nil {
		return apperror.Wrap(apperror.KindLibraryError, err, "reading library root")
	}

	for _, e := range entries {
		if _, ok := skip[e.Name()]; ok {
			continue
		}

		if e.Type()&os.ModeSymlink == 0 {
			continue
		}

		if err := lib.resolveAlbum(filepath.Join(lib.Root, e.Name()), e.Name(), "", false, false); err != nil {
			return err
		}
	}

	if err := lib.loadArchiveArea(filepath.Join(lib.Root, config.ArchiveDirName, config.StashDirName), true, false); err != nil {
		return err
	}

	if err := lib.loadArchiveArea(filepath.Join(lib.Root, config.ArchiveDirName, config.LostFoundDirName), false, true); err != nil {
		return err
	}

	return nil
}

// loadArchiveArea walks a flat directory of album entries under _Archive/
// (.stash holds raw .<uuid> dirs; Lost+Found holds pretty-named symlinks,
// same as top-level albums).
func (lib *PhotosLibrary) loadArchiveArea(dir string, stash, lostFound bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return apperror.Wrap(apperror.KindLibraryError, err, "reading archive area", "dir", dir)
	}

	for _, e := range entries {
		path := filepath.Join(dir, e.Name())

		if stash && e.IsDir() {
			if err := lib.resolveAlbumDir(path, strings.TrimPrefix(e.Name(), "."), strings.TrimPrefix(e.Name(), "."), "", true, false); err != nil {
				return err
			}

			continue
		}

		if lostFound && e.Type()&os.ModeSymlink != 0 {
			if err := lib.resolveAlbum(path, e.Name(), "", false, true); err != nil {
				return err
			}
		}
	}

	return nil
}

// resolveAlbum follows a pretty-name symlink to its backing .<uuid>/
// directory and delegates to resolveAlbumDir.
func (lib *PhotosLibrary) resolveAlbum(symlinkPath, displayName, parentUUID string, stash, lostFound bool) error {
	target, err := os.Readlink(symlinkPath)
	if err != nil {
		return apperror.Wrap(apperror.KindLibraryError, err, "reading album symlink", "path", symlinkPath)
	}

	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(symlinkPath), target)
	}

	uuid := strings.TrimPrefix(filepath.Base(target), ".")

	return lib.resolveAlbumDir(target, uuid, displayName, parentUUID, stash, lostFound)
}

// resolveAlbumDir reads a backing album directory's contents, classifying
// it FOLDER (contains only nested album symlinks), ALBUM (contains only
// asset symlinks), or ARCHIVED (contains any non-safe entry, i.e. a real
// file left behind by the Archive Engine), per spec.md §4.2.
func (lib *PhotosLibrary) resolveAlbumDir(dirPath, uuid, displayName, parentUUID string, stash, lostFound bool) error {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return apperror.Wrap(apperror.KindLibraryError, err, "reading album directory", "path", dirPath)
	}

	album := &LocalAlbum{
		UUID:           uuid,
		DisplayName:    displayName,
		ParentUUID:     parentUUID,
		AlbumType:      icloud.AlbumTypeAlbum,
		AssetFilenames: make(map[string]struct{}),
		InStash:        stash,
		InLostFound:    lostFound,
	}

	hasNonSafe := false
	hasNested := false

	for _, e := range entries {
		name := e.Name()

		if name == config.ArchiveSentinelName {
			continue
		}

		if e.Type()&os.ModeSymlink != 0 {
			childPath := filepath.Join(dirPath, name)

			target, err := os.Readlink(childPath)
			if err != nil {
				return apperror.Wrap(apperror.KindLibraryError, err, "reading symlink", "path", childPath)
			}

			if !filepath.IsAbs(target) {
				target = filepath.Join(dirPath, target)
			}

			if filepath.Base(filepath.Dir(target)) == config.AssetsDirName {
				album.AssetFilenames[filepath.Base(target)] = struct{}{}
			} else {
				hasNested = true

				if err := lib.resolveAlbumDir(target, strings.TrimPrefix(filepath.Base(target), "."), name, uuid, false, false); err != nil {
					return err
				}
			}

			continue
		}

		if strings.HasPrefix(name, ".") {
			continue
		}

		// A real file here is the Archive Engine's copy-replacement of what
		// was an asset symlink (replaceSymlinkWithCopy renames the copy into
		// the symlink's old path, so the name is still the content-addressed
		// filename) — record it the same as a live link so the album keeps
		// owning it across reloads, not just real garbage a user dropped in.
		if e.Type().IsRegular() {
			album.AssetFilenames[name] = struct{}{}
		}

		hasNonSafe = true
	}

	switch {
	case hasNonSafe:
		album.AlbumType = icloud.AlbumTypeArchived
	case hasNested:
		album.AlbumType = icloud.AlbumTypeFolder
	}

	lib.Albums[uuid] = album

	return nil
}
