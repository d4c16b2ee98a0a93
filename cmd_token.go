package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/apperror"
	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/library"
)

// newTokenCmd authenticates and persists a trust token without syncing,
// per spec.md §6's command list.
func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Authenticate and persist a trust token, without syncing",
		RunE:  runTokenCmd,
	}
}

func runTokenCmd(cmd *cobra.Command, _ []string) error {
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

	result, err := authenticate(ctx, cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}

	cc.Logger.Info("authenticated", slog.String("state", result.session.State().String()))

	return nil
}
