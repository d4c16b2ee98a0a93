package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/apperror"
	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/archive"
	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/icloud"
	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/library"
)

// newArchiveCmd freezes an album locally and optionally deletes its
// non-favorite remote originals, per spec.md §4.6.
func newArchiveCmd() *cobra.Command {
	var remoteDelete bool

	cmd := &cobra.Command{
		Use:   "archive <path>",
		Short: "Freeze an album's symlinks into real copies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchiveCmd(cmd, args[0], remoteDelete)
		},
	}

	cmd.Flags().BoolVar(&remoteDelete, "remote-delete", false, "also delete non-favorite remote originals after freezing")

	return cmd
}

func runArchiveCmd(cmd *cobra.Command, path string, remoteDelete bool) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	if err := ensureDataDir(cc.Cfg.DataDir); err != nil {
		return apperror.Wrap(apperror.KindLibraryError, err, "preparing data directory")
	}

	lock := library.NewLock(cc.Cfg.DataDir, cc.Cfg.Force)
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			cc.Logger.Warn("releasing lock", slog.String("error", err.Error()))
		}
	}()

	lib, err := library.Load(cc.Cfg.DataDir)
	if err != nil {
		return err
	}

	var (
		lookupAsset   archive.AssetLookup
		remoteDeleter archive.RemoteDeleter
	)

	if remoteDelete {
		result, err := authenticate(ctx, cc.Cfg, cc.Logger)
		if err != nil {
			return err
		}

		remoteAlbums, err := result.query.FetchAllCPLAlbums(ctx)
		if err != nil {
			return apperror.Wrap(apperror.KindArchiveError, err, "fetching remote albums")
		}

		albumUUIDs := make([]string, 0, len(remoteAlbums))
		for _, a := range remoteAlbums {
			albumUUIDs = append(albumUUIDs, a.UUID)
		}

		remoteAssets, err := result.query.FetchAllCPLAssets(ctx, albumUUIDs)
		if err != nil {
			return apperror.Wrap(apperror.KindArchiveError, err, "fetching remote assets")
		}

		byFilename := make(map[string]icloud.Asset, len(remoteAssets))

		for _, a := range remoteAssets {
			if filename, ok := icloud.StoreFilename(a.FileChecksum, a.FileType); ok {
				byFilename[filename] = a
			}
		}

		lookupAsset = func(filename string) (icloud.Asset, bool) {
			a, ok := byFilename[filename]

			return a, ok
		}

		remoteDeleter = result.query
	}

	engine := archive.New(lib, lookupAsset, remoteDeleter)

	return engine.ArchivePath(ctx, path, remoteDelete)
}
