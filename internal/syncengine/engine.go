package syncengine

import (
	"context"
	"log/slog"

	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/apperror"
	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/icloud"
	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/library"
)

// Reauthenticator is the subset of icloud.Auth the Engine needs to refresh
// the session between sync-level retries.
type Reauthenticator interface {
	Reauthenticate(ctx context.Context) error
}

// Engine orchestrates one sync() call end to end: lock is assumed already
// held by the caller (C1), this type only runs C4's fetch, C5's diff, and
// C5's apply, with sync-level retry on FATAL failure per spec.md §4.5.
type Engine struct {
	dataDir string
	query   *icloud.Query
	client  *icloud.Client
	auth    Reauthenticator

	workers        int
	downloadRetries int
	maxSyncRetry   int

	logger *slog.Logger
}

// Config bundles Engine construction parameters.
type Config struct {
	DataDir         string
	Query           *icloud.Query
	Client          *icloud.Client
	Auth            Reauthenticator
	Workers         int
	DownloadRetries int
	MaxSyncRetry    int
	Logger          *slog.Logger
}

// New constructs an Engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		dataDir:         cfg.DataDir,
		query:           cfg.Query,
		client:          cfg.Client,
		auth:            cfg.Auth,
		workers:         cfg.Workers,
		downloadRetries: cfg.DownloadRetries,
		maxSyncRetry:    cfg.MaxSyncRetry,
		logger:          logger,
	}
}

// Sync runs the sync transaction, retrying up to MaxSyncRetry times on a
// FATAL error, refreshing auth between attempts, per spec.md §4.5.
func (e *Engine) Sync(ctx context.Context) (*Report, error) {
	var lastErr error

	for attempt := 0; attempt <= e.maxSyncRetry; attempt++ {
		report, err := e.syncOnce(ctx)
		if err == nil {
			return report, nil
		}

		if !apperror.IsFatal(err) {
			return report, err
		}

		lastErr = err

		if attempt < e.maxSyncRetry {
			e.logger.Warn("sync attempt failed, retrying", slog.Int("attempt", attempt+1), slog.String("error", err.Error()))

			if e.auth != nil {
				if rerr := e.auth.Reauthenticate(ctx); rerr != nil {
					lastErr = rerr

					continue
				}
			}
		}
	}

	return nil, lastErr
}

func (e *Engine) syncOnce(ctx context.Context) (*Report, error) {
	lib, err := library.Load(e.dataDir)
	if err != nil {
		return nil, err
	}

	remoteAlbums, err := e.query.FetchAllCPLAlbums(ctx)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindSyncError, err, "fetching remote albums")
	}

	albumUUIDs := make([]string, 0, len(remoteAlbums))
	for _, a := range remoteAlbums {
		albumUUIDs = append(albumUUIDs, a.UUID)
	}

	remoteAssets, err := e.query.FetchAllCPLAssets(ctx, albumUUIDs)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindSyncError, err, "fetching remote assets")
	}

	snap := NewSnapshot(remoteAssets, remoteAlbums)
	plan := ComputePlan(snap, lib)

	applier := NewApplier(lib, snap, e.client.DownloadAsset, e.query.FetchAssetByRecordName, e.workers, e.downloadRetries, e.logger)

	return applier.Apply(ctx, plan)
}
