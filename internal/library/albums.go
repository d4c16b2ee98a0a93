package library

import (
	"os"
	"path/filepath"

	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/apperror"
	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/config"
	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/icloud"
)

// Backing album directories (".<uuid>/") always live flat at the library
// root; only the pretty-named symlinks pointing at them are nested under a
// parent folder's backing directory. This keeps every asset symlink's
// relative target a constant "../_All-Photos/<filename>" regardless of how
// deep the album sits in the visible tree.

func (lib *PhotosLibrary) backingDir(uuid string) string {
	return filepath.Join(lib.Root, "."+uuid)
}

// CreateAlbum creates the backing directory for album and a pretty-named
// symlink to it from its parent location (library root if top-level,
// otherwise inside the parent album's backing directory), per spec.md §4.2.
// Parents must already exist — callers create in toposorted order.
func (lib *PhotosLibrary) CreateAlbum(album icloud.Album) error {
	dir := lib.backingDir(album.UUID)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperror.Wrap(apperror.KindLibraryError, err, "creating album directory", "uuid", album.UUID)
	}

	linkDir := lib.Root
	if album.ParentUUID != "" {
		linkDir = lib.backingDir(album.ParentUUID)
	}

	linkPath := filepath.Join(linkDir, album.DisplayName)
	target, err := filepath.Rel(linkDir, dir)
	if err != nil {
		target = dir
	}

	if err := replaceSymlink(linkPath, target); err != nil {
		return apperror.Wrap(apperror.KindLibraryError, err, "linking album", "uuid", album.UUID)
	}

	lib.Albums[album.UUID] = &LocalAlbum{
		UUID:           album.UUID,
		DisplayName:    album.DisplayName,
		ParentUUID:     album.ParentUUID,
		AlbumType:      album.AlbumType,
		AssetFilenames: make(map[string]struct{}),
	}

	return nil
}

// DeleteAlbum removes an album's backing directory and its parent symlink.
// The caller must have already unlinked all asset/sub-album content (the
// directory is expected to be empty of real data, only possibly stale
// symlinks remain).
func (lib *PhotosLibrary) DeleteAlbum(uuid string) error {
	local, ok := lib.Albums[uuid]
	if !ok {
		return nil
	}

	linkDir := lib.Root
	if local.ParentUUID != "" {
		linkDir = lib.backingDir(local.ParentUUID)
	}

	if err := os.Remove(filepath.Join(linkDir, local.DisplayName)); err != nil && !os.IsNotExist(err) {
		return apperror.Wrap(apperror.KindLibraryError, err, "removing album symlink", "uuid", uuid)
	}

	if err := os.RemoveAll(lib.backingDir(uuid)); err != nil {
		return apperror.Wrap(apperror.KindLibraryError, err, "removing album directory", "uuid", uuid)
	}

	delete(lib.Albums, uuid)

	return nil
}

// MoveAlbum relinks album uuid from its current parent to newParentUUID,
// applying the archived-album stash/lost+found policy from spec.md §4.2:
// moving an ARCHIVED album whose parent no longer exists diverts it to
// _Archive/Lost+Found/; moving it to a new extant parent pulls it out of
// .stash.
func (lib *PhotosLibrary) MoveAlbum(uuid, newParentUUID string) error {
	local, ok := lib.Albums[uuid]
	if !ok {
		return apperror.New(apperror.KindLibraryError, "moveAlbum: unknown album", "uuid", uuid)
	}

	oldLinkDir := lib.Root
	if local.InStash {
		oldLinkDir = "" // stash entries have no pretty symlink to remove
	} else if local.InLostFound {
		oldLinkDir = filepath.Join(lib.Root, config.ArchiveDirName, config.LostFoundDirName)
	} else if local.ParentUUID != "" {
		oldLinkDir = lib.backingDir(local.ParentUUID)
	}

	if oldLinkDir != "" {
		if err := os.Remove(filepath.Join(oldLinkDir, local.DisplayName)); err != nil && !os.IsNotExist(err) {
			return apperror.Wrap(apperror.KindLibraryError, err, "unlinking album from old parent", "uuid", uuid)
		}
	}

	_, parentExists := lib.Albums[newParentUUID]

	var newLinkDir string

	switch {
	case local.AlbumType == icloud.AlbumTypeArchived && !parentExists:
		// Covers both an explicit relocation (plan.go signals this with
		// NewParentUUID == "") and an ordinary reparent onto a UUID that no
		// longer exists locally — either way an archived album with no
		// surviving parent goes to Lost+Found, never to the library root.
		newLinkDir = filepath.Join(lib.Root, config.ArchiveDirName, config.LostFoundDirName)
		local.InLostFound = true
	case newParentUUID == "":
		newLinkDir = lib.Root
	case parentExists:
		newLinkDir = lib.backingDir(newParentUUID)
		local.InStash = false
		local.InLostFound = false
	default:
		newLinkDir = filepath.Join(lib.Root, config.ArchiveDirName, config.LostFoundDirName)
		local.InLostFound = true
	}

	if err := os.MkdirAll(newLinkDir, 0o755); err != nil {
		return apperror.Wrap(apperror.KindLibraryError, err, "creating new parent link dir", "uuid", uuid)
	}

	target, err := filepath.Rel(newLinkDir, lib.backingDir(uuid))
	if err != nil {
		target = lib.backingDir(uuid)
	}

	if err := replaceSymlink(filepath.Join(newLinkDir, local.DisplayName), target); err != nil {
		return apperror.Wrap(apperror.KindLibraryError, err, "linking album to new parent", "uuid", uuid)
	}

	local.ParentUUID = newParentUUID

	return nil
}

// LinkAssetToAlbum symlinks asset into album's backing directory under its
// pretty filename, idempotently.
func (lib *PhotosLibrary) LinkAssetToAlbum(asset icloud.Asset, filename, albumUUID string) error {
	local, ok := lib.Albums[albumUUID]
	if !ok {
		return apperror.New(apperror.KindLibraryError, "linkAssetToAlbum: unknown album", "uuid", albumUUID)
	}

	pretty, err := PrettyFilename(asset)
	if err != nil {
		return apperror.Wrap(apperror.KindLibraryWarning, err, "deriving pretty filename")
	}

	linkPath := filepath.Join(lib.backingDir(albumUUID), pretty)

	if err := replaceSymlink(linkPath, relativeAssetLinkTarget(filename)); err != nil {
		return apperror.Wrap(apperror.KindLibraryError, err, "linking asset to album", "uuid", albumUUID)
	}

	local.AssetFilenames[filename] = struct{}{}

	return nil
}

// UnlinkAssetFromAlbum removes the symlink pointing at filename inside
// album's backing directory, idempotently. It locates the link by target
// rather than by recomputing the pretty filename, since a removed remote
// asset may no longer carry the metadata PrettyFilename needs.
func (lib *PhotosLibrary) UnlinkAssetFromAlbum(filename, albumUUID string) error {
	local, ok := lib.Albums[albumUUID]
	if !ok {
		return nil
	}

	dir := lib.backingDir(albumUUID)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			delete(local.AssetFilenames, filename)

			return nil
		}

		return apperror.Wrap(apperror.KindLibraryError, err, "reading album directory", "uuid", albumUUID)
	}

	want := relativeAssetLinkTarget(filename)

	for _, e := range entries {
		if e.Type()&os.ModeSymlink == 0 {
			continue
		}

		linkPath := filepath.Join(dir, e.Name())

		target, err := os.Readlink(linkPath)
		if err != nil {
			continue
		}

		if target == want {
			if rmErr := os.Remove(linkPath); rmErr != nil && !os.IsNotExist(rmErr) {
				return apperror.Wrap(apperror.KindLibraryError, rmErr, "unlinking asset from album", "uuid", albumUUID)
			}

			break
		}
	}

	delete(local.AssetFilenames, filename)

	return nil
}

func replaceSymlink(path, target string) error {
	if existing, err := os.Readlink(path); err == nil {
		if existing == target {
			return nil
		}

		if err := os.Remove(path); err != nil {
			return err
		}
	}

	return os.Symlink(target, path)
}
