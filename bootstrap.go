package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/config"
	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/icloud"
	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/mfaintake"
	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/trusttoken"
)

// ensureDataDir creates the library root on first run. Everything beneath
// it (the asset store, album directories, the lock file) is created lazily
// by the components that own each piece.
func ensureDataDir(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	return nil
}

// authenticated bundles everything a command needs after the Auth Session
// reaches READY: the live session, the retrying HTTP client, the query
// layer bound to the per-account photos domain, and the Auth driver itself
// (also the syncengine.Reauthenticator used for sync-level retry).
type authenticated struct {
	session *icloud.Session
	client  *icloud.Client
	query   *icloud.Query
	auth    *icloud.Auth
	mfa     *mfaintake.Server
}

// authenticate runs the full auth state machine to READY, starting the MFA
// intake server (spec.md §6) for the duration of the attempt. Cancel ctx to
// abort a login stuck waiting on an MFA code.
func authenticate(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*authenticated, error) {
	trustToken := cfg.TrustToken

	if !cfg.RefreshToken && trustToken == "" {
		persisted, err := trusttoken.Load(config.TrustTokenPath(cfg.DataDir))
		if err != nil {
			logger.Warn("failed to load persisted trust token", slog.String("error", err.Error()))
		} else {
			trustToken = persisted
		}
	}

	if cfg.RefreshToken {
		if err := trusttoken.Remove(config.TrustTokenPath(cfg.DataDir)); err != nil {
			logger.Warn("failed to remove persisted trust token", slog.String("error", err.Error()))
		}
	}

	session := icloud.NewSession(cfg.Username, cfg.Password, trustToken)

	mfaServer := mfaintake.New(cfg.MFAPort, logger)

	mfaCtx, cancelMFA := context.WithCancel(ctx)

	mfaErrCh := make(chan error, 1)

	go func() { mfaErrCh <- mfaServer.Start(mfaCtx) }()

	httpClient := defaultHTTPClient()
	tokenStore := trusttoken.NewStore(config.TrustTokenPath(cfg.DataDir))

	auth := icloud.NewAuth(session, httpClient, mfaServer, tokenStore, logger, cfg.FailOnMFA)

	runErr := auth.Run(ctx)

	cancelMFA()
	<-mfaErrCh

	if runErr != nil {
		return nil, runErr
	}

	client := icloud.NewClient(httpClient, session, auth, logger)
	query := icloud.NewQuery(client, session.PhotosDomain())

	return &authenticated{session: session, client: client, query: query, auth: auth, mfa: mfaServer}, nil
}
