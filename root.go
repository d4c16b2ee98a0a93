package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/apperror"
	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath      string
	flagUsername        string
	flagPassword        string
	flagTrustToken      string
	flagDataDir         string
	flagPort            int
	flagForce           bool
	flagRefreshToken    bool
	flagFailOnMFA       bool
	flagDownloadThreads int
	flagSchedule        string
	flagCrashReporting  bool
	flagLogLevel        string
)

// CLIContext bundles resolved config and logger, built once in
// PersistentPreRunE and threaded through cmd.Context() to every RunE.
type CLIContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
}

type cliContextKey struct{}

func cliContextFrom(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		return nil
	}

	return cc
}

func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context — every command resolves config in PersistentPreRunE")
	}

	return cc
}

// httpClientTimeout bounds every request made through this client: auth,
// queries and downloads alike, since http.Client.Timeout also covers
// reading the response body.
const httpClientTimeout = 60 * time.Second

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: httpClientTimeout}
}

// newRootCmd builds the fully-assembled root command. daemon is the
// no-subcommand default, per spec.md §6.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "icloud-photos-sync-go",
		Short:   "One-way iCloud Photos sync to a local, symlinked library",
		Long: `Mirrors an iCloud Photos library into a local directory: content-addressed
asset storage, a symlinked album tree reflecting the remote folder/album
hierarchy, and an archive workflow for freezing albums locally.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
		RunE: runDaemonCmd,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVarP(&flagUsername, "username", "u", "", "Apple ID username")
	cmd.PersistentFlags().StringVarP(&flagPassword, "password", "p", "", "Apple ID password (prompted if omitted and stdin is a terminal)")
	cmd.PersistentFlags().StringVarP(&flagTrustToken, "trust-token", "T", "", "pre-existing trust token, skips MFA if still valid")
	cmd.PersistentFlags().StringVarP(&flagDataDir, "data-dir", "d", "", "local library root (default "+config.DefaultDataDir+")")
	cmd.PersistentFlags().IntVar(&flagPort, "port", 0, "MFA intake server port (default 80)")
	cmd.PersistentFlags().BoolVar(&flagForce, "force", false, "override the library lock and PID ownership checks")
	cmd.PersistentFlags().BoolVar(&flagRefreshToken, "refresh-token", false, "discard any persisted trust token and force a fresh login")
	cmd.PersistentFlags().BoolVar(&flagFailOnMFA, "fail-on-mfa", false, "fail immediately instead of waiting for an MFA code")
	cmd.PersistentFlags().IntVar(&flagDownloadThreads, "download-threads", 0, "concurrent asset downloads (default 16)")
	cmd.PersistentFlags().StringVar(&flagSchedule, "schedule", "", "cron expression for the daemon command")
	cmd.PersistentFlags().BoolVar(&flagCrashReporting, "enable-crash-reporting", false, "enable crash report upload (no-op placeholder, see SPEC_FULL.md §7)")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "trace|debug|info|warn|error (default info)")

	// The spec names -p/--port as the MFA server's shorthand alongside
	// -p/--password; cobra cannot bind one shorthand to two flags, so --port
	// keeps the long form only. Recorded as an Open Question decision in
	// DESIGN.md rather than silently dropping one of the two.

	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newArchiveCmd())
	cmd.AddCommand(newDaemonCmd())

	return cmd
}

// loadConfig resolves the four-layer config chain and stores the result in
// the command's context, then scrubs secrets from argv/env per spec.md §6.
func loadConfig(cmd *cobra.Command) error {
	logger := buildLogger("")

	cli := config.CLIOverrides{ConfigPath: flagConfigPath}

	f := cmd.Flags()
	if f.Changed("username") {
		cli.Username = config.StrPtr(flagUsername)
	}

	if f.Changed("password") {
		cli.Password = config.StrPtr(flagPassword)
	}

	if f.Changed("trust-token") {
		cli.TrustToken = config.StrPtr(flagTrustToken)
	}

	if f.Changed("data-dir") {
		cli.DataDir = config.StrPtr(flagDataDir)
	}

	if f.Changed("port") {
		cli.MFAPort = config.IntPtr(flagPort)
	}

	if f.Changed("force") {
		cli.Force = config.BoolPtr(flagForce)
	}

	if f.Changed("refresh-token") {
		cli.RefreshToken = config.BoolPtr(flagRefreshToken)
	}

	if f.Changed("fail-on-mfa") {
		cli.FailOnMFA = config.BoolPtr(flagFailOnMFA)
	}

	if f.Changed("download-threads") {
		cli.DownloadThreads = config.IntPtr(flagDownloadThreads)
	}

	if f.Changed("schedule") {
		cli.Schedule = config.StrPtr(flagSchedule)
	}

	if f.Changed("enable-crash-reporting") {
		cli.CrashReporting = config.BoolPtr(flagCrashReporting)
	}

	if f.Changed("log-level") {
		cli.LogLevel = config.StrPtr(flagLogLevel)
	}

	resolved, err := config.Resolve(cli)
	if err != nil {
		return apperror.Wrap(apperror.KindLibraryError, err, "resolving configuration")
	}

	if resolved.RefreshToken {
		resolved.TrustToken = ""
	}

	if resolved.Password == "" {
		if prompted, perr := promptPassword(); perr == nil && prompted != "" {
			resolved.Password = prompted
		}
	}

	finalLogger := buildLogger(resolved.LogLevel)
	cc := &CLIContext{Cfg: resolved, Logger: finalLogger}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	config.Scrub()

	return nil
}

// buildLogger maps spec.md §6's five-level scheme onto slog, which has no
// native trace level below debug — trace is mapped to slog.LevelDebug-4, a
// numeric level below debug, rather than a named slog.Level constant.
func buildLogger(level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	switch level {
	case "trace":
		opts.Level = slog.LevelDebug - 4
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// exitOnError maps err's apperror.Kind to an exit code (§7) and prints it.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(apperror.ExitCode(err))
}
