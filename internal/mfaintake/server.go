// Package mfaintake implements the external MFA intake HTTP server named in
// spec.md §6: a thin, replaceable collaborator that does nothing but accept
// the operator's second-factor code or resend request and forward it to the
// Auth State Machine over the icloud.Channel boundary. It intentionally
// contains no auth logic of its own. Grounded on the teacher's localhost
// callback server (internal/graph/auth.go's startCallbackServer/
// shutdownCallbackServer), generalized from a one-shot OAuth2 redirect
// catcher to a small always-on intake endpoint.
package mfaintake

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/icloud"
)

const shutdownTimeout = 5 * time.Second

// Server implements icloud.Channel over two HTTP endpoints: POST /mfa and
// POST /resend, per spec.md §6.
type Server struct {
	httpServer *http.Server
	codeCh     chan icloud.Submission
	resendCh   chan icloud.Resend
	logger     *slog.Logger
}

// New constructs a Server bound to port. Call Start to begin listening.
func New(port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		codeCh:   make(chan icloud.Submission),
		resendCh: make(chan icloud.Resend),
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/mfa", s.handleMFA)
	mux.HandleFunc("/resend", s.handleResend)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Start listens and serves until ctx is canceled, then shuts down
// gracefully. Start blocks; run it in its own goroutine.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("mfaintake: binding %s: %w", s.httpServer.Addr, err)
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- s.httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}

		return err
	}
}

func (s *Server) handleMFA(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing code parameter", http.StatusBadRequest)

		return
	}

	select {
	case s.codeCh <- icloud.Submission{Method: icloud.MethodDevice, Code: code}:
		writeJSON(w, map[string]string{"status": "accepted"})
	case <-r.Context().Done():
	}
}

func (s *Server) handleResend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

		return
	}

	method, ok := icloud.ParseMethod(r.URL.Query().Get("method"))
	if !ok {
		http.Error(w, "invalid or missing method parameter", http.StatusBadRequest)

		return
	}

	phoneNumberID := r.URL.Query().Get("phoneNumberId")

	select {
	case s.resendCh <- icloud.Resend{Method: method, PhoneNumberID: phoneNumberID}:
		writeJSON(w, map[string]string{"status": "accepted"})
	case <-r.Context().Done():
	}
}

// WaitForCode implements icloud.Channel.
func (s *Server) WaitForCode(ctx context.Context) (icloud.Submission, error) {
	select {
	case sub := <-s.codeCh:
		return sub, nil
	case <-ctx.Done():
		return icloud.Submission{}, ctx.Err()
	}
}

// WaitForResend implements icloud.Channel.
func (s *Server) WaitForResend(ctx context.Context) (icloud.Resend, error) {
	select {
	case r := <-s.resendCh:
		return r, nil
	case <-ctx.Done():
		return icloud.Resend{}, ctx.Err()
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
