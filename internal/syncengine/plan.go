// Package syncengine implements the three-way diff/sync engine (C5):
// computing the minimal set of asset and album mutations that reconciles
// remote with local, applying them idempotently with per-asset
// verification and retry, and making the sync safely re-runnable after a
// crash. Grounded on the teacher's internal/sync package (planner +
// executor split), generalized from a path-keyed remote mirror to iCloud's
// checksum-addressed asset store plus symlink album tree.
package syncengine

import (
	"sort"

	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/icloud"
	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/library"
)

// Snapshot bundles one cycle's remote listing with the derived lookups the
// plan and apply phases both need, computed once per sync.
type Snapshot struct {
	Assets []icloud.Asset
	Albums []icloud.Album

	byRecordName map[string]icloud.Asset
	filenameByRecordName map[string]string
}

// NewSnapshot indexes a remote listing. Assets whose fileType is not in the
// closed MIME table are dropped with no filename assigned — C5 simply never
// proposes them for add, matching the sync-level behavior for unrecognized
// types.
func NewSnapshot(assets []icloud.Asset, albums []icloud.Album) *Snapshot {
	s := &Snapshot{
		Assets:                assets,
		Albums:                albums,
		byRecordName:          make(map[string]icloud.Asset, len(assets)),
		filenameByRecordName:  make(map[string]string, len(assets)),
	}

	for _, a := range assets {
		s.byRecordName[a.RecordName] = a

		if fn, ok := icloud.StoreFilename(a.FileChecksum, a.FileType); ok {
			s.filenameByRecordName[a.RecordName] = fn
		}
	}

	return s
}

// AlbumMove describes an album whose parent changed.
type AlbumMove struct {
	UUID          string
	NewParentUUID string
}

// LinkChange describes per-album asset link additions/removals.
type LinkChange struct {
	AlbumUUID       string
	AddRecordNames  []string
	RemoveFilenames []string
}

// Plan is the pure output of diffing a Snapshot against a local library
// projection, per spec.md §4.5.
type Plan struct {
	AssetsToAdd    []icloud.Asset // remote assets with no local file yet
	AssetsToRemove []string       // local filenames with no remote counterpart
	AssetsToKeep   []string

	AlbumsToCreate []icloud.Album // toposorted, parent before child
	AlbumsToMove   []AlbumMove
	AlbumsToDelete []string
	LinkChanges    []LinkChange
}

// ComputePlan is the pure diff step: no I/O, no mutation.
func ComputePlan(snap *Snapshot, lib *library.PhotosLibrary) *Plan {
	plan := &Plan{}

	planAssets(snap, lib, plan)
	planAlbums(snap, lib, plan)

	return plan
}

func planAssets(snap *Snapshot, lib *library.PhotosLibrary, plan *Plan) {
	remoteFilenames := make(map[string]struct{}, len(snap.Assets))

	for _, a := range snap.Assets {
		fn, ok := snap.filenameByRecordName[a.RecordName]
		if !ok {
			continue
		}

		remoteFilenames[fn] = struct{}{}

		if _, exists := lib.Assets[fn]; exists {
			plan.AssetsToKeep = append(plan.AssetsToKeep, fn)
		} else {
			plan.AssetsToAdd = append(plan.AssetsToAdd, a)
		}
	}

	archived := archivedFilenames(lib)

	for fn := range lib.Assets {
		if _, stillRemote := remoteFilenames[fn]; stillRemote {
			continue
		}

		if _, linked := archived[fn]; linked {
			continue
		}

		plan.AssetsToRemove = append(plan.AssetsToRemove, fn)
	}
}

// archivedFilenames returns the set of filenames linked from any locally
// ARCHIVED album — these must survive even if the remote no longer lists
// them, per spec.md §4.5's linkedByArchivedAlbum guard.
func archivedFilenames(lib *library.PhotosLibrary) map[string]struct{} {
	out := make(map[string]struct{})

	for _, album := range lib.Albums {
		if album.AlbumType != icloud.AlbumTypeArchived {
			continue
		}

		for fn := range album.AssetFilenames {
			out[fn] = struct{}{}
		}
	}

	return out
}

func planAlbums(snap *Snapshot, lib *library.PhotosLibrary, plan *Plan) {
	remoteByUUID := make(map[string]icloud.Album, len(snap.Albums))
	for _, a := range snap.Albums {
		remoteByUUID[a.UUID] = a
	}

	for uuid, local := range lib.Albums {
		if local.AlbumType == icloud.AlbumTypeArchived {
			// Ignored by future diffs, per spec.md §4.5's invariant — except
			// that an album whose own UUID has vanished remotely is still
			// relocated to Lost+Found.
			if _, stillExists := remoteByUUID[uuid]; !stillExists && !local.InLostFound {
				plan.AlbumsToMove = append(plan.AlbumsToMove, AlbumMove{UUID: uuid, NewParentUUID: ""})
			}

			continue
		}

		remote, ok := remoteByUUID[uuid]
		if !ok {
			plan.AlbumsToDelete = append(plan.AlbumsToDelete, uuid)

			continue
		}

		if remote.ParentUUID != local.ParentUUID {
			plan.AlbumsToMove = append(plan.AlbumsToMove, AlbumMove{UUID: uuid, NewParentUUID: remote.ParentUUID})
		}

		if lc := diffAlbumContent(snap, remote, local); lc != nil {
			plan.LinkChanges = append(plan.LinkChanges, *lc)
		}
	}

	for uuid, remote := range remoteByUUID {
		if _, exists := lib.Albums[uuid]; !exists {
			plan.AlbumsToCreate = append(plan.AlbumsToCreate, remote)

			if lc := diffAlbumContent(snap, remote, &library.LocalAlbum{}); lc != nil {
				plan.LinkChanges = append(plan.LinkChanges, *lc)
			}
		}
	}

	toposortCreates(plan)
}

func diffAlbumContent(snap *Snapshot, remote icloud.Album, local *library.LocalAlbum) *LinkChange {
	if remote.AlbumType != icloud.AlbumTypeAlbum {
		return nil
	}

	var add []string

	remoteFilenames := make(map[string]struct{}, len(remote.AssetRecordNames))

	for recordName := range remote.AssetRecordNames {
		fn, ok := snap.filenameByRecordName[recordName]
		if !ok {
			continue
		}

		remoteFilenames[fn] = struct{}{}

		if !local.HasAsset(fn) {
			add = append(add, recordName)
		}
	}

	var remove []string

	for fn := range local.AssetFilenames {
		if _, ok := remoteFilenames[fn]; !ok {
			remove = append(remove, fn)
		}
	}

	if len(add) == 0 && len(remove) == 0 {
		return nil
	}

	sort.Strings(add)
	sort.Strings(remove)

	return &LinkChange{AlbumUUID: remote.UUID, AddRecordNames: add, RemoveFilenames: remove}
}

// toposortCreates orders plan.AlbumsToCreate parent-before-child, since
// parents may not yet exist locally, per spec.md §4.5.
func toposortCreates(plan *Plan) {
	byUUID := make(map[string]icloud.Album, len(plan.AlbumsToCreate))
	for _, a := range plan.AlbumsToCreate {
		byUUID[a.UUID] = a
	}

	var (
		ordered []icloud.Album
		placed  = make(map[string]struct{})
	)

	var place func(a icloud.Album)
	place = func(a icloud.Album) {
		if _, done := placed[a.UUID]; done {
			return
		}

		if parent, isNew := byUUID[a.ParentUUID]; isNew {
			place(parent)
		}

		placed[a.UUID] = struct{}{}
		ordered = append(ordered, a)
	}

	names := make([]string, 0, len(plan.AlbumsToCreate))
	for uuid := range byUUID {
		names = append(names, uuid)
	}

	sort.Strings(names)

	for _, uuid := range names {
		place(byUUID[uuid])
	}

	plan.AlbumsToCreate = ordered
}
