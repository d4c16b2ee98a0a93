package icloud

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/apperror"
)

var assetDesiredKeys = []string{
	"recordName", "masterRef", "fileChecksum", "resOriginalFileSize", "itemType",
	"resOriginalRes", "resOriginalWidth", "resOriginalHeight", "originalOrientation",
	"assetDate", "addedDate", "isFavorite", "isHidden", "isDeleted", "filenameEnc",
}

// FetchAllCPLAssets runs the two parallel logical queries spec.md §4.4
// names (assets in "All Photos", and expunged deletions), joining them by
// record name, per spec.md §4.4. albumUUIDs is the shard predicate pool
// used if a logical query approaches the record ceiling.
func (q *Query) FetchAllCPLAssets(ctx context.Context, albumUUIDs []string) ([]Asset, error) {
	var (
		live    []cplRecord
		deleted []cplRecord
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		recs, err := q.queryOnce(gctx, "CPLAssetAndMasterInSmartAlbumByAssetDate", nil, assetDesiredKeys)
		if _, approaching := err.(errApproachingCeiling); approaching {
			recs, err = q.queryByShards(gctx, "CPLAssetAndMasterInSmartAlbumByAssetDate", assetDesiredKeys, "parentRecordName", albumUUIDs)
		}

		if err != nil {
			return apperror.Wrap(apperror.KindICloudError, err, "fetching live assets")
		}

		live = recs

		return nil
	})

	g.Go(func() error {
		recs, err := q.queryOnce(gctx, "CPLAssetDeletedByExpungedDate", nil, []string{"recordName"})
		if err != nil {
			return apperror.Wrap(apperror.KindICloudError, err, "fetching expunged assets")
		}

		deleted = recs

		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	expunged := make(map[string]struct{}, len(deleted))
	for _, r := range deleted {
		expunged[r.RecordName] = struct{}{}
	}

	assets := make([]Asset, 0, len(live))

	for _, r := range live {
		if _, gone := expunged[r.RecordName]; gone {
			continue
		}

		if getBool(r.Fields, "isDeleted") {
			continue
		}

		assets = append(assets, recordToAsset(r))
	}

	return assets, nil
}

// FetchAssetByRecordName re-queries a single asset record, used to obtain a
// fresh signed download URL after the previous one expired (spec.md §4.5).
func (q *Query) FetchAssetByRecordName(ctx context.Context, recordName string) (Asset, error) {
	filter := []filterClause{{
		FieldName:      "recordName",
		ComparatorType: "EQUALS",
		FieldValue:     recordField{Value: recordName},
	}}

	recs, err := q.queryOnce(ctx, "CPLAssetAndMasterInSmartAlbumByAssetDate", filter, assetDesiredKeys)
	if err != nil {
		return Asset{}, apperror.Wrap(apperror.KindICloudError, err, "re-fetching asset", "recordName", recordName)
	}

	if len(recs) == 0 {
		return Asset{}, apperror.New(apperror.KindICloudError, "asset no longer present", "recordName", recordName)
	}

	return recordToAsset(recs[0]), nil
}

func recordToAsset(r cplRecord) Asset {
	return Asset{
		RecordName:       r.RecordName,
		FileChecksum:     getString(r.Fields, "fileChecksum"),
		Size:             getInt64(r.Fields, "resOriginalFileSize"),
		ModifiedMs:       getInt64(r.Fields, "assetDate"),
		FileType:         getString(r.Fields, "itemType"),
		Favorite:         getBool(r.Fields, "isFavorite"),
		Origin:           originFromRecord(r),
		OriginalFilename: decodeFilename(getString(r.Fields, "filenameEnc")),
	}
}

// decodeFilename decodes the remote's base64-encoded original filename and
// strips any extension, since the local pretty name always uses ext(fileType).
func decodeFilename(enc string) string {
	raw := decodeChecksumBytes(enc)
	name := string(raw)

	if name == "" {
		return ""
	}

	if dot := strings.LastIndex(name, "."); dot > 0 {
		name = name[:dot]
	}

	return name
}

func originFromRecord(r cplRecord) Origin {
	switch getString(r.Fields, "originalOrientation") {
	case "edited":
		return OriginEdit
	case "live":
		return OriginLive
	default:
		return OriginOriginal
	}
}

func getString(fields map[string]recordField, key string) string {
	f, ok := fields[key]
	if !ok {
		return ""
	}

	s, _ := f.Value.(string)

	return s
}

func getInt64(fields map[string]recordField, key string) int64 {
	f, ok := fields[key]
	if !ok {
		return 0
	}

	switch v := f.Value.(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	default:
		return 0
	}
}

func getBool(fields map[string]recordField, key string) bool {
	f, ok := fields[key]
	if !ok {
		return false
	}

	switch v := f.Value.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	default:
		return false
	}
}
