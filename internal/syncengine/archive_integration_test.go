package syncengine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/archive"
	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/library"
)

// TestComputePlan_AssetSurvivesArchiveThenReload runs the real Archive
// Engine against a real temp tree, reloads the library from disk the way a
// subsequent sync would, and confirms the archived album's asset is still
// protected from removal once the remote stops listing it — the scenario
// archivedFilenames exists for, exercised end to end instead of through a
// hand-built LocalAlbum fixture.
func TestComputePlan_AssetSurvivesArchiveThenReload(t *testing.T) {
	root := t.TempDir()

	allPhotos := filepath.Join(root, "_All-Photos")
	require.NoError(t, os.MkdirAll(allPhotos, 0o755))

	assetPath := filepath.Join(allPhotos, "sum1.jpeg")
	require.NoError(t, os.WriteFile(assetPath, []byte("jpeg-bytes"), 0o644))

	modTime := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(assetPath, modTime, modTime))

	backingDir := filepath.Join(root, ".album-1")
	require.NoError(t, os.MkdirAll(backingDir, 0o755))
	require.NoError(t, os.Symlink(filepath.Join("..", "_All-Photos", "sum1.jpeg"), filepath.Join(backingDir, "sum1.jpeg")))

	prettyLink := filepath.Join(root, "Trip")
	require.NoError(t, os.Symlink(".album-1", prettyLink))

	libBeforeArchive, err := library.Load(root)
	require.NoError(t, err)

	engine := archive.New(libBeforeArchive, nil, nil)
	require.NoError(t, engine.ArchivePath(context.Background(), prettyLink, false))

	lib, err := library.Load(root)
	require.NoError(t, err)

	album, ok := lib.Albums["album-1"]
	require.True(t, ok)
	assert.True(t, album.HasAsset("sum1.jpeg"), "reloaded archived album should still own its asset copy")

	snap := NewSnapshot(nil, nil)
	plan := ComputePlan(snap, lib)

	assert.Empty(t, plan.AssetsToRemove, "asset owned by an archived album must survive even when the remote no longer lists it")
}
