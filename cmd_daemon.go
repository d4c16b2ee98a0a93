package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/apperror"
	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/scheduler"
)

// newDaemonCmd runs the cron-driven sync loop, per spec.md §4.7. It is also
// the root command's default RunE, since spec.md §6 lists daemon as the
// command that runs when none is given.
func newDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run sync on a cron schedule until stopped",
		RunE:  runDaemonCmd,
	}
}

func runDaemonCmd(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if cc.Cfg.Schedule == "" {
		return apperror.New(apperror.KindDaemonAppError, "daemon requires --schedule (or SCHEDULE env/config)")
	}

	ctx := shutdownContext(cmd.Context(), cc.Logger)

	daemon, err := scheduler.New(cc.Cfg.Schedule, func(tickCtx context.Context) error {
		_, syncErr := runOneSync(tickCtx, cc.Cfg, cc.Logger)

		return syncErr
	}, cc.Logger)
	if err != nil {
		return apperror.Wrap(apperror.KindDaemonAppError, err, "parsing cron schedule", "schedule", cc.Cfg.Schedule)
	}

	go logDaemonEvents(daemon.Events(), cc.Logger)

	daemon.Run(ctx)

	return nil
}

// logDaemonEvents drains the daemon's typed lifecycle event stream into
// structured log lines until the stream closes (Run returning).
func logDaemonEvents(events <-chan scheduler.Event, logger *slog.Logger) {
	for e := range events {
		attrs := []any{slog.String("kind", e.Kind.String())}

		if e.Tries > 0 {
			attrs = append(attrs, slog.Int("tries", e.Tries))
		}

		if e.Err != nil {
			attrs = append(attrs, slog.String("error", e.Err.Error()))
			logger.Warn("daemon event", attrs...)

			continue
		}

		logger.Info("daemon event", attrs...)
	}
}
