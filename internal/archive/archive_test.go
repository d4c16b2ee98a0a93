package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/config"
	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/icloud"
	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/library"
)

// newArchiveFixture lays out a minimal library: a real asset file under
// _All-Photos/, a flat backing album directory symlinking to it, and a
// pretty-named symlink to the backing directory, mirroring the tree
// library.Load expects to walk.
func newArchiveFixture(t *testing.T) (root, prettyLink string, lib *library.PhotosLibrary) {
	t.Helper()

	root = t.TempDir()

	allPhotos := filepath.Join(root, "_All-Photos")
	require.NoError(t, os.MkdirAll(allPhotos, 0o755))

	assetPath := filepath.Join(allPhotos, "sum1.jpeg")
	require.NoError(t, os.WriteFile(assetPath, []byte("jpeg-bytes"), 0o644))

	oldTime := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(assetPath, oldTime, oldTime))

	backingDir := filepath.Join(root, ".album-uuid-1")
	require.NoError(t, os.MkdirAll(backingDir, 0o755))
	require.NoError(t, os.Symlink(filepath.Join("..", "_All-Photos", "sum1.jpeg"), filepath.Join(backingDir, "sum1.jpeg")))

	prettyLink = filepath.Join(root, "Trip")
	require.NoError(t, os.Symlink(".album-uuid-1", prettyLink))

	lib = &library.PhotosLibrary{
		Root:   root,
		Assets: map[string]library.LocalAsset{"sum1.jpeg": {Filename: "sum1.jpeg"}},
		Albums: map[string]*library.LocalAlbum{
			"album-uuid-1": {
				UUID:           "album-uuid-1",
				DisplayName:    "Trip",
				AlbumType:      icloud.AlbumTypeAlbum,
				AssetFilenames: map[string]struct{}{"sum1.jpeg": {}},
			},
		},
	}

	return root, prettyLink, lib
}

func TestArchivePath_ReplacesSymlinksAndWritesSentinel(t *testing.T) {
	root, prettyLink, lib := newArchiveFixture(t)

	engine := New(lib, nil, nil)
	require.NoError(t, engine.ArchivePath(context.Background(), prettyLink, false))

	backingDir := filepath.Join(root, ".album-uuid-1")

	info, err := os.Lstat(filepath.Join(backingDir, "sum1.jpeg"))
	require.NoError(t, err)
	assert.Zero(t, info.Mode()&os.ModeSymlink, "asset entry should be a real file, not a symlink")

	data, err := os.ReadFile(filepath.Join(backingDir, "sum1.jpeg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))

	_, err = os.Stat(filepath.Join(backingDir, config.ArchiveSentinelName))
	require.NoError(t, err)

	assert.Equal(t, icloud.AlbumTypeArchived, lib.Albums["album-uuid-1"].AlbumType)
}

func TestArchivePath_PreservesModTime(t *testing.T) {
	root, prettyLink, lib := newArchiveFixture(t)

	backingDir := filepath.Join(root, ".album-uuid-1")
	linkPath := filepath.Join(backingDir, "sum1.jpeg")

	target, err := os.Readlink(linkPath)
	require.NoError(t, err)

	origInfo, err := os.Stat(filepath.Join(backingDir, target))
	require.NoError(t, err)

	engine := New(lib, nil, nil)
	require.NoError(t, engine.ArchivePath(context.Background(), prettyLink, false))

	newInfo, err := os.Lstat(linkPath)
	require.NoError(t, err)
	assert.WithinDuration(t, origInfo.ModTime(), newInfo.ModTime(), time.Second)
}

func TestArchivePath_RejectsNonSymlinkTarget(t *testing.T) {
	root := t.TempDir()
	plainDir := filepath.Join(root, "NotALink")
	require.NoError(t, os.MkdirAll(plainDir, 0o755))

	lib := &library.PhotosLibrary{Assets: map[string]library.LocalAsset{}, Albums: map[string]*library.LocalAlbum{}}

	engine := New(lib, nil, nil)
	err := engine.ArchivePath(context.Background(), plainDir, false)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a symlink")
}

func TestArchivePath_RejectsNonAlbumTarget(t *testing.T) {
	root := t.TempDir()

	backingDir := filepath.Join(root, ".folder-uuid-1")
	require.NoError(t, os.MkdirAll(backingDir, 0o755))

	prettyLink := filepath.Join(root, "Folder")
	require.NoError(t, os.Symlink(".folder-uuid-1", prettyLink))

	lib := &library.PhotosLibrary{
		Assets: map[string]library.LocalAsset{},
		Albums: map[string]*library.LocalAlbum{
			"folder-uuid-1": {UUID: "folder-uuid-1", AlbumType: icloud.AlbumTypeFolder},
		},
	}

	engine := New(lib, nil, nil)
	err := engine.ArchivePath(context.Background(), prettyLink, false)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not an ALBUM")
}

type fakeRemoteDeleter struct {
	deleted []string
	failFor map[string]error
}

func (d *fakeRemoteDeleter) DeleteAsset(ctx context.Context, recordName string) error {
	if err, ok := d.failFor[recordName]; ok {
		return err
	}

	d.deleted = append(d.deleted, recordName)

	return nil
}

func TestArchivePath_RemoteDeleteSkipsFavorites(t *testing.T) {
	_, prettyLink, lib := newArchiveFixture(t)

	lib.Albums["album-uuid-1"].AssetFilenames["sum2.jpeg"] = struct{}{}

	byFilename := map[string]icloud.Asset{
		"sum1.jpeg": {RecordName: "rec-1", Favorite: false},
		"sum2.jpeg": {RecordName: "rec-2", Favorite: true},
	}
	lookup := func(filename string) (icloud.Asset, bool) {
		a, ok := byFilename[filename]
		return a, ok
	}

	deleter := &fakeRemoteDeleter{}

	engine := New(lib, lookup, deleter)
	require.NoError(t, engine.ArchivePath(context.Background(), prettyLink, true))

	assert.Equal(t, []string{"rec-1"}, deleter.deleted)
}

func TestArchivePath_RemoteDeleteFailureIsWarningNotFatal(t *testing.T) {
	_, prettyLink, lib := newArchiveFixture(t)

	lookup := func(filename string) (icloud.Asset, bool) {
		return icloud.Asset{RecordName: "rec-1", Favorite: false}, true
	}

	deleter := &fakeRemoteDeleter{failFor: map[string]error{"rec-1": errors.New("network down")}}

	engine := New(lib, lookup, deleter)
	err := engine.ArchivePath(context.Background(), prettyLink, true)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "network down")
	// The freeze itself (symlink replacement, sentinel, reclassification)
	// already committed before the remote delete ran.
	assert.Equal(t, icloud.AlbumTypeArchived, lib.Albums["album-uuid-1"].AlbumType)
}
