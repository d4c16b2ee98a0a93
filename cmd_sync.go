package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/apperror"
	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/config"
	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/library"
	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/syncengine"
)

// newSyncCmd runs a single one-way sync cycle, per spec.md §4.5.
func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle against the local library",
		RunE:  runSyncCmd,
	}
}

func runSyncCmd(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	report, err := runOneSync(cmd.Context(), cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}

	cc.Logger.Info("sync complete",
		slog.Int("assets_added", report.AssetsAdded),
		slog.Int("assets_removed", report.AssetsRemoved),
		slog.Int("assets_kept", report.AssetsKept),
		slog.Int("albums_created", report.AlbumsCreated),
		slog.Int("albums_moved", report.AlbumsMoved),
		slog.Int("albums_deleted", report.AlbumsDeleted),
		slog.Int("links_changed", report.LinksChanged),
		slog.Int("warnings", len(report.Warnings)),
	)

	for _, w := range report.Warnings {
		cc.Logger.Warn("sync warning", slog.String("detail", w))
	}

	return nil
}

// runOneSync acquires the library lock, authenticates, and runs one sync
// transaction end to end. Shared by the sync and daemon commands.
func runOneSync(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*syncengine.Report, error) {
	if err := ensureDataDir(cfg.DataDir); err != nil {
		return nil, apperror.Wrap(apperror.KindLibraryError, err, "preparing data directory")
	}

	lock := library.NewLock(cfg.DataDir, cfg.Force)
	if err := lock.Acquire(); err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("releasing lock", slog.String("error", err.Error()))
		}
	}()

	result, err := authenticate(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	engine := syncengine.New(syncengine.Config{
		DataDir:         cfg.DataDir,
		Query:           result.query,
		Client:          result.client,
		Auth:            result.auth,
		Workers:         cfg.DownloadThreads,
		DownloadRetries: config.DefaultDownloadRetries,
		MaxSyncRetry:    config.DefaultMaxSyncRetry,
		Logger:          logger,
	})

	return engine.Sync(ctx)
}
