package icloud

import (
	"context"

	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/apperror"
)

// rootFolderUUID is CloudKit's well-known root folder record name, the
// starting point for the depth-first album traversal (spec.md §4.4).
const rootFolderUUID = "----Root-Folder----"

var albumDesiredKeys = []string{"recordName", "albumNameEnc", "albumType", "parentId"}

// FetchAllCPLAlbums traverses the album hierarchy depth-first from the root
// CloudKit folder, caching visited UUIDs to break accidental cycles
// (spec.md §4.4 — a design defense even though the remote should be a
// tree). Each album's asset membership is resolved by a second,
// per-album-shard query against the containment relation.
func (q *Query) FetchAllCPLAlbums(ctx context.Context) ([]Album, error) {
	visited := map[string]struct{}{rootFolderUUID: {}}

	var out []Album

	if err := q.walkAlbums(ctx, rootFolderUUID, visited, &out); err != nil {
		return nil, err
	}

	for i := range out {
		if out[i].AlbumType != AlbumTypeAlbum {
			continue
		}

		members, err := q.fetchAlbumMembers(ctx, out[i].UUID)
		if err != nil {
			return nil, apperror.Wrap(apperror.KindICloudError, err, "fetching album members", "album", out[i].UUID)
		}

		out[i].AssetRecordNames = members
	}

	return out, nil
}

func (q *Query) walkAlbums(ctx context.Context, parentUUID string, visited map[string]struct{}, out *[]Album) error {
	children, err := q.queryByShards(ctx, "CPLAlbumByPositionLive", albumDesiredKeys, "parentId", []string{parentUUID})
	if err != nil {
		return apperror.Wrap(apperror.KindICloudError, err, "querying album children", "parent", parentUUID)
	}

	for _, r := range children {
		if _, seen := visited[r.RecordName]; seen {
			continue
		}

		visited[r.RecordName] = struct{}{}

		album := Album{
			UUID:        r.RecordName,
			DisplayName: getString(r.Fields, "albumNameEnc"),
			ParentUUID:  parentUUID,
			AlbumType:   albumTypeFromRecord(r),
		}

		*out = append(*out, album)

		if album.AlbumType == AlbumTypeFolder {
			if err := q.walkAlbums(ctx, album.UUID, visited, out); err != nil {
				return err
			}
		}
	}

	return nil
}

func albumTypeFromRecord(r cplRecord) AlbumType {
	switch getString(r.Fields, "albumType") {
	case "folder":
		return AlbumTypeFolder
	default:
		return AlbumTypeAlbum
	}
}

// fetchAlbumMembers resolves the set of asset record names linked to
// albumUUID via the containment relation record type.
func (q *Query) fetchAlbumMembers(ctx context.Context, albumUUID string) (map[string]struct{}, error) {
	recs, err := q.queryByShards(ctx, "CPLContainerRelationLiveByAssetDate", []string{"assetId"}, "parentId", []string{albumUUID})
	if err != nil {
		return nil, err
	}

	members := make(map[string]struct{}, len(recs))
	for _, r := range recs {
		if name := getString(r.Fields, "assetId"); name != "" {
			members[name] = struct{}{}
		}
	}

	return members, nil
}
