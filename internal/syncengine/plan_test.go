package syncengine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/icloud"
	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/library"
)

func assetWithChecksum(recordName, checksum string) icloud.Asset {
	return icloud.Asset{
		RecordName:       recordName,
		FileChecksum:     checksum,
		FileType:         "public.jpeg",
		OriginalFilename: recordName,
		Origin:           icloud.OriginOriginal,
	}
}

func filenameFor(a icloud.Asset) string {
	fn, ok := icloud.StoreFilename(a.FileChecksum, a.FileType)
	if !ok {
		panic("unexpected unresolvable filename in test fixture")
	}

	return fn
}

func TestComputePlan_NewRemoteAssetIsAdded(t *testing.T) {
	a := assetWithChecksum("rec-1", "sum-1")
	snap := NewSnapshot([]icloud.Asset{a}, nil)
	lib := &library.PhotosLibrary{Assets: map[string]library.LocalAsset{}, Albums: map[string]*library.LocalAlbum{}}

	plan := ComputePlan(snap, lib)

	assert.Len(t, plan.AssetsToAdd, 1)
	assert.Equal(t, "rec-1", plan.AssetsToAdd[0].RecordName)
	assert.Empty(t, plan.AssetsToKeep)
	assert.Empty(t, plan.AssetsToRemove)
}

func TestComputePlan_MatchingLocalAssetIsKept(t *testing.T) {
	a := assetWithChecksum("rec-1", "sum-1")
	fn := filenameFor(a)

	snap := NewSnapshot([]icloud.Asset{a}, nil)
	lib := &library.PhotosLibrary{
		Assets: map[string]library.LocalAsset{fn: {Filename: fn}},
		Albums: map[string]*library.LocalAlbum{},
	}

	plan := ComputePlan(snap, lib)

	assert.Equal(t, []string{fn}, plan.AssetsToKeep)
	assert.Empty(t, plan.AssetsToAdd)
	assert.Empty(t, plan.AssetsToRemove)
}

func TestComputePlan_LocalOnlyAssetIsRemoved(t *testing.T) {
	snap := NewSnapshot(nil, nil)
	lib := &library.PhotosLibrary{
		Assets: map[string]library.LocalAsset{"stale.jpeg": {Filename: "stale.jpeg"}},
		Albums: map[string]*library.LocalAlbum{},
	}

	plan := ComputePlan(snap, lib)

	assert.Equal(t, []string{"stale.jpeg"}, plan.AssetsToRemove)
}

func TestComputePlan_AssetLinkedFromArchivedAlbumSurvives(t *testing.T) {
	snap := NewSnapshot(nil, nil)
	lib := &library.PhotosLibrary{
		Assets: map[string]library.LocalAsset{"kept.jpeg": {Filename: "kept.jpeg"}},
		Albums: map[string]*library.LocalAlbum{
			"album-1": {
				UUID:           "album-1",
				AlbumType:      icloud.AlbumTypeArchived,
				AssetFilenames: map[string]struct{}{"kept.jpeg": {}},
			},
		},
	}

	plan := ComputePlan(snap, lib)

	assert.Empty(t, plan.AssetsToRemove)
}

func TestComputePlan_NewRemoteAlbumIsCreated(t *testing.T) {
	remote := icloud.Album{UUID: "album-1", DisplayName: "Trip", AlbumType: icloud.AlbumTypeAlbum}
	snap := NewSnapshot(nil, []icloud.Album{remote})
	lib := &library.PhotosLibrary{Assets: map[string]library.LocalAsset{}, Albums: map[string]*library.LocalAlbum{}}

	plan := ComputePlan(snap, lib)

	assert.Len(t, plan.AlbumsToCreate, 1)
	assert.Equal(t, "album-1", plan.AlbumsToCreate[0].UUID)
}

func TestComputePlan_VanishedLocalAlbumIsDeleted(t *testing.T) {
	snap := NewSnapshot(nil, nil)
	lib := &library.PhotosLibrary{
		Assets: map[string]library.LocalAsset{},
		Albums: map[string]*library.LocalAlbum{
			"album-1": {UUID: "album-1", AlbumType: icloud.AlbumTypeAlbum},
		},
	}

	plan := ComputePlan(snap, lib)

	assert.Equal(t, []string{"album-1"}, plan.AlbumsToDelete)
}

func TestComputePlan_ArchivedAlbumIsIgnoredByDiff(t *testing.T) {
	snap := NewSnapshot(nil, nil)
	lib := &library.PhotosLibrary{
		Assets: map[string]library.LocalAsset{},
		Albums: map[string]*library.LocalAlbum{
			"album-1": {UUID: "album-1", AlbumType: icloud.AlbumTypeArchived, InLostFound: true},
		},
	}

	plan := ComputePlan(snap, lib)

	assert.Empty(t, plan.AlbumsToDelete)
	assert.Empty(t, plan.AlbumsToMove)
}

func TestComputePlan_ArchivedAlbumGoneRemoteRelocatesToLostFound(t *testing.T) {
	snap := NewSnapshot(nil, nil)
	lib := &library.PhotosLibrary{
		Assets: map[string]library.LocalAsset{},
		Albums: map[string]*library.LocalAlbum{
			"album-1": {UUID: "album-1", AlbumType: icloud.AlbumTypeArchived, InLostFound: false},
		},
	}

	plan := ComputePlan(snap, lib)

	require := assert.New(t)
	require.Len(plan.AlbumsToMove, 1)
	require.Equal("album-1", plan.AlbumsToMove[0].UUID)
	require.Equal("", plan.AlbumsToMove[0].NewParentUUID)
}

func TestComputePlan_ReparentedAlbumIsMoved(t *testing.T) {
	remote := icloud.Album{UUID: "album-1", ParentUUID: "folder-2", AlbumType: icloud.AlbumTypeAlbum}
	snap := NewSnapshot(nil, []icloud.Album{remote})
	lib := &library.PhotosLibrary{
		Assets: map[string]library.LocalAsset{},
		Albums: map[string]*library.LocalAlbum{
			"album-1": {UUID: "album-1", ParentUUID: "folder-1", AlbumType: icloud.AlbumTypeAlbum},
		},
	}

	plan := ComputePlan(snap, lib)

	assert.Equal(t, []AlbumMove{{UUID: "album-1", NewParentUUID: "folder-2"}}, plan.AlbumsToMove)
}

func TestComputePlan_LinkChangeAddsAndRemoves(t *testing.T) {
	kept := assetWithChecksum("rec-kept", "sum-kept")
	added := assetWithChecksum("rec-added", "sum-added")
	keptFn := filenameFor(kept)

	remote := icloud.Album{
		UUID:      "album-1",
		AlbumType: icloud.AlbumTypeAlbum,
		AssetRecordNames: map[string]struct{}{
			"rec-kept":  {},
			"rec-added": {},
		},
	}

	snap := NewSnapshot([]icloud.Asset{kept, added}, []icloud.Album{remote})
	lib := &library.PhotosLibrary{
		Assets: map[string]library.LocalAsset{keptFn: {Filename: keptFn}},
		Albums: map[string]*library.LocalAlbum{
			"album-1": {
				UUID:           "album-1",
				AlbumType:      icloud.AlbumTypeAlbum,
				AssetFilenames: map[string]struct{}{keptFn: {}, "gone.jpeg": {}},
			},
		},
	}

	plan := ComputePlan(snap, lib)

	require := assert.New(t)
	require.Len(plan.LinkChanges, 1)
	lc := plan.LinkChanges[0]
	require.Equal("album-1", lc.AlbumUUID)
	require.Equal([]string{"rec-added"}, lc.AddRecordNames)
	require.Equal([]string{"gone.jpeg"}, lc.RemoveFilenames)
}

func TestComputePlan_UnchangedAlbumContentProducesNoLinkChange(t *testing.T) {
	kept := assetWithChecksum("rec-kept", "sum-kept")
	keptFn := filenameFor(kept)

	remote := icloud.Album{
		UUID:             "album-1",
		AlbumType:        icloud.AlbumTypeAlbum,
		AssetRecordNames: map[string]struct{}{"rec-kept": {}},
	}

	snap := NewSnapshot([]icloud.Asset{kept}, []icloud.Album{remote})
	lib := &library.PhotosLibrary{
		Assets: map[string]library.LocalAsset{keptFn: {Filename: keptFn}},
		Albums: map[string]*library.LocalAlbum{
			"album-1": {
				UUID:           "album-1",
				AlbumType:      icloud.AlbumTypeAlbum,
				AssetFilenames: map[string]struct{}{keptFn: {}},
			},
		},
	}

	plan := ComputePlan(snap, lib)

	assert.Empty(t, plan.LinkChanges)
}

func TestComputePlan_ToposortPlacesParentBeforeChild(t *testing.T) {
	parent := icloud.Album{UUID: "parent", AlbumType: icloud.AlbumTypeFolder}
	child := icloud.Album{UUID: "child", ParentUUID: "parent", AlbumType: icloud.AlbumTypeAlbum}

	// Construct remote listing with the child before the parent to confirm
	// ordering comes from the topological pass and not insertion order.
	snap := NewSnapshot(nil, []icloud.Album{child, parent})
	lib := &library.PhotosLibrary{Assets: map[string]library.LocalAsset{}, Albums: map[string]*library.LocalAlbum{}}

	plan := ComputePlan(snap, lib)

	require := assert.New(t)
	require.Len(plan.AlbumsToCreate, 2)
	require.Equal("parent", plan.AlbumsToCreate[0].UUID)
	require.Equal("child", plan.AlbumsToCreate[1].UUID)
}
