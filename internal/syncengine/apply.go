package syncengine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/apperror"
	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/icloud"
	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/library"
)

// DownloadFunc streams one asset's bytes.
type DownloadFunc func(ctx context.Context, asset icloud.Asset) (io.ReadCloser, error)

// RefetchFunc re-queries a single asset record by name, used to obtain a
// fresh signed download URL after a 410/403 (spec.md §4.5).
type RefetchFunc func(ctx context.Context, recordName string) (icloud.Asset, error)

// Applier applies a Plan to a PhotosLibrary, per spec.md §4.5's four-phase
// ordered application. Grounded on the teacher's Executor/WorkerPool split
// (internal/sync/executor_transfer.go, worker.go), generalized from a flat
// dependency-tracked action queue to the simpler four-barrier-phase model
// this spec calls for.
type Applier struct {
	lib      *library.PhotosLibrary
	snap     *Snapshot
	download DownloadFunc
	refetch  RefetchFunc
	workers  int
	retries  int
	logger   *slog.Logger
}

// NewApplier constructs an Applier. workers bounds download concurrency
// (spec.md §5, default 16); retries bounds per-asset redownload attempts on
// a stale signed URL (default 4).
func NewApplier(lib *library.PhotosLibrary, snap *Snapshot, download DownloadFunc, refetch RefetchFunc, workers, retries int, logger *slog.Logger) *Applier {
	if workers < 1 {
		workers = 1
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Applier{lib: lib, snap: snap, download: download, refetch: refetch, workers: workers, retries: retries, logger: logger}
}

// Apply runs the four ordered phases against plan, returning a Report.
// Non-fatal per-asset failures are recorded as warnings and do not abort
// the sync; any other error aborts and is returned.
func (ap *Applier) Apply(ctx context.Context, plan *Plan) (*Report, error) {
	report := &Report{AssetsKept: len(plan.AssetsToKeep)}

	if err := ap.applyDownloads(ctx, plan, report); err != nil {
		return report, err
	}

	if err := ap.applyAlbumStructure(plan, report); err != nil {
		return report, err
	}

	if err := ap.applyLinkChanges(plan, report); err != nil {
		return report, err
	}

	if err := ap.applyRemovals(plan, report); err != nil {
		return report, err
	}

	return report, nil
}

// applyDownloads is phase 1: assets added, downloaded in parallel with
// bounded concurrency.
func (ap *Applier) applyDownloads(ctx context.Context, plan *Plan, report *Report) error {
	if len(plan.AssetsToAdd) == 0 {
		return nil
	}

	sem := make(chan struct{}, ap.workers)

	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex

	for _, asset := range plan.AssetsToAdd {
		asset := asset

		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			ok, warnErr := ap.downloadOne(gctx, asset)

			mu.Lock()
			defer mu.Unlock()

			if ok {
				report.AssetsAdded++
			} else {
				report.SkippedAssets = append(report.SkippedAssets, asset.RecordName)
				report.Warnings = append(report.Warnings, warnErr.Error())
			}

			return nil
		})
	}

	return g.Wait()
}

// downloadOne downloads a single asset, retrying on a stale signed URL
// (410/403) up to ap.retries times with exponential backoff, per spec.md
// §4.5. A persistent failure is reported as a warning, not fatal — the
// caller skips the asset and it is retried on the next sync.
func (ap *Applier) downloadOne(ctx context.Context, asset icloud.Asset) (bool, error) {
	var lastErr error

	for attempt := 0; attempt <= ap.retries; attempt++ {
		filename, ok := icloud.StoreFilename(asset.FileChecksum, asset.FileType)
		if !ok {
			return false, apperror.New(apperror.KindSyncWarning, "unrecognized fileType, skipping asset",
				"recordName", asset.RecordName, "fileType", asset.FileType)
		}

		body, err := ap.download(ctx, asset)
		if err != nil {
			if isStaleURL(err) && attempt < ap.retries && ap.refetch != nil {
				fresh, rerr := ap.refetch(ctx, asset.RecordName)
				if rerr == nil {
					asset = fresh
				}

				time.Sleep(backoffFor(attempt))

				lastErr = err

				continue
			}

			return false, apperror.Wrap(apperror.KindSyncWarning, err, "downloading asset", "recordName", asset.RecordName)
		}

		modified := time.UnixMilli(asset.ModifiedMs)

		writeErr := ap.lib.WriteAsset(filename, asset.Size, modified, body)
		body.Close()

		if writeErr != nil {
			return false, apperror.Wrap(apperror.KindSyncWarning, writeErr, "writing asset", "recordName", asset.RecordName)
		}

		if ok, _ := ap.lib.VerifyAsset(filename, asset.Size); !ok {
			lastErr = apperror.New(apperror.KindSyncWarning, "asset failed size verification after write", "recordName", asset.RecordName)
			time.Sleep(backoffFor(attempt))

			continue
		}

		return true, nil
	}

	if lastErr == nil {
		lastErr = apperror.New(apperror.KindSyncWarning, "asset download failed after retries", "recordName", asset.RecordName)
	}

	return false, lastErr
}

func isStaleURL(err error) bool {
	var respErr *icloud.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusGone || respErr.StatusCode == http.StatusForbidden
	}

	return false
}

func backoffFor(attempt int) time.Duration {
	d := time.Second << attempt
	if d > 30*time.Second {
		d = 30 * time.Second
	}

	return d
}

// applyAlbumStructure is phase 2: albums created (toposorted), moved, then
// deleted.
func (ap *Applier) applyAlbumStructure(plan *Plan, report *Report) error {
	for _, album := range plan.AlbumsToCreate {
		if err := ap.lib.CreateAlbum(album); err != nil {
			return err
		}

		report.AlbumsCreated++
	}

	for _, move := range plan.AlbumsToMove {
		if err := ap.lib.MoveAlbum(move.UUID, move.NewParentUUID); err != nil {
			return err
		}

		report.AlbumsMoved++
	}

	for _, uuid := range plan.AlbumsToDelete {
		if err := ap.lib.DeleteAlbum(uuid); err != nil {
			return err
		}

		report.AlbumsDeleted++
	}

	return nil
}

// applyLinkChanges is phase 3: independent per-album link reconciliations,
// safe to run in any order since each touches a disjoint album directory.
func (ap *Applier) applyLinkChanges(plan *Plan, report *Report) error {
	for _, lc := range plan.LinkChanges {
		for _, recordName := range lc.AddRecordNames {
			asset, ok := ap.snap.byRecordName[recordName]
			if !ok {
				continue
			}

			filename, ok := ap.snap.filenameByRecordName[recordName]
			if !ok {
				continue
			}

			if err := ap.lib.LinkAssetToAlbum(asset, filename, lc.AlbumUUID); err != nil {
				return err
			}

			report.LinksChanged++
		}

		for _, filename := range lc.RemoveFilenames {
			if err := ap.lib.UnlinkAssetFromAlbum(filename, lc.AlbumUUID); err != nil {
				return err
			}

			report.LinksChanged++
		}
	}

	return nil
}

// applyRemovals is phase 4: assets removed last, safe because no album
// still references them by this point.
func (ap *Applier) applyRemovals(plan *Plan, report *Report) error {
	for _, filename := range plan.AssetsToRemove {
		if err := ap.lib.DeleteAsset(filename); err != nil {
			return err
		}

		report.AssetsRemoved++
	}

	return nil
}
