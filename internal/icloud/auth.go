package icloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/apperror"
)

const (
	signInURL = "https://idmsa.apple.com/appleauth/auth/signin"
	trustURL  = "https://idmsa.apple.com/appleauth/auth/2sv/trust"
	setupURL  = "https://setup.icloud.com/setup/ws/1/accountLogin"
	mfaSMSURL = "https://idmsa.apple.com/appleauth/auth/verify/phone"
	mfaCodeURL = "https://idmsa.apple.com/appleauth/auth/verify/trusteddevice/securitycode"
)

// TrustTokenStore persists the trust token across process runs, per
// spec.md §6 (<dataDir>/.trust-token.icloud).
type TrustTokenStore interface {
	Save(token string) error
}

// Auth drives the Auth Session's state machine (spec.md §3/§4.3): login,
// MFA challenge/resend/submit, trust-token acquisition, session cookie
// setup. Grounded on the teacher's device-code auth flow shape
// (internal/auth), generalized from OAuth2 device flow to Apple's
// signin/2sv/setup sequence.
type Auth struct {
	session   *Session
	http      *http.Client
	mfa       Channel
	trustSave TrustTokenStore
	logger    *slog.Logger
	failOnMFA bool
}

// NewAuth constructs an Auth driver. trustSave may be nil to skip
// persistence (e.g. when --refresh-token forces a fresh login every run).
func NewAuth(session *Session, httpClient *http.Client, mfa Channel, trustSave TrustTokenStore, logger *slog.Logger, failOnMFA bool) *Auth {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Auth{
		session:   session,
		http:      httpClient,
		mfa:       mfa,
		trustSave: trustSave,
		logger:    logger,
		failOnMFA: failOnMFA,
	}
}

// Reauthenticate implements Reauthenticator: it re-runs the full state
// machine from UNAUTHENTICATED, for the single-flight 401 recovery path in
// Client.Do (SPEC_FULL.md §4.3/§4.4).
func (a *Auth) Reauthenticate(ctx context.Context) error {
	a.session.setState(StateUnauthenticated)

	return a.signIn(ctx)
}

// Run drives the state machine to READY (or a fatal error), signaling
// session.Ready() exactly once on completion.
func (a *Auth) Run(ctx context.Context) error {
	err := a.signIn(ctx)
	a.session.signalReady(err)

	return err
}

// signIn performs UNAUTHENTICATED → AUTHENTICATING and its two successor
// paths, per spec.md §4.3.
func (a *Auth) signIn(ctx context.Context) error {
	a.session.setState(StateAuthenticating)

	payload, err := json.Marshal(map[string]any{
		"accountName": a.session.account.Username,
		"password":    a.session.account.Password,
		"trustTokens": []string{a.session.TrustToken()},
	})
	if err != nil {
		return apperror.Wrap(apperror.KindAuthError, err, "encoding signin payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, signInURL, bytes.NewReader(payload))
	if err != nil {
		return apperror.Wrap(apperror.KindAuthError, err, "building signin request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return apperror.Wrap(apperror.KindAuthError, err, "signin request failed")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		a.captureAuthSecrets(resp)

		return a.completeAuthenticated(ctx)
	case http.StatusConflict:
		a.captureAuthSecrets(resp)
		a.session.setState(StateMFARequired)

		return a.handleMFA(ctx)
	case http.StatusUnauthorized:
		return apperror.New(apperror.KindAuthError, "invalid username or password")
	case http.StatusForbidden:
		return apperror.New(apperror.KindAuthError, "unknown Apple ID")
	default:
		return apperror.New(apperror.KindAuthError, "unexpected signin response",
			"status", resp.StatusCode)
	}
}

func (a *Auth) captureAuthSecrets(resp *http.Response) {
	a.session.mu.Lock()
	defer a.session.mu.Unlock()

	a.session.auth.SessionID = resp.Header.Get("X-Apple-ID-Session-Id")
	a.session.auth.Scnt = resp.Header.Get("scnt")

	for _, c := range resp.Cookies() {
		if c.Name == "aasp" {
			a.session.auth.Aasp = c.Value
		}
	}
}

// handleMFA waits for the external MFA intake channel to deliver a code or
// a resend request, per spec.md §4.3/§6. --fail-on-mfa short-circuits this
// to a fatal error for unattended environments.
func (a *Auth) handleMFA(ctx context.Context) error {
	if a.failOnMFA {
		return apperror.New(apperror.KindAuthError, "MFA required but --fail-on-mfa is set")
	}

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resendDone := make(chan struct{})

	go func() {
		defer close(resendDone)

		for {
			r, err := a.mfa.WaitForResend(subCtx)
			if err != nil {
				return
			}

			if rerr := a.resend(ctx, r.Method, r.PhoneNumberID); rerr != nil {
				a.logger.Warn("mfa resend failed",
					slog.String("method", r.Method.String()), slog.String("error", rerr.Error()))
			}
		}
	}()

	sub, err := a.mfa.WaitForCode(subCtx)
	cancel()
	<-resendDone

	if err != nil {
		return apperror.Wrap(apperror.KindAuthError, err, "waiting for MFA code")
	}

	if err := a.submitMFA(ctx, sub.Method, sub.Code); err != nil {
		return err
	}

	return a.completeAuthenticated(ctx)
}

// resend triggers a fresh code push over the given method. A failed resend
// is a warning (MFAWarning), not fatal — the operator may simply retry.
func (a *Auth) resend(ctx context.Context, method Method, phoneNumberID string) error {
	body, err := json.Marshal(map[string]any{
		"phoneNumber": map[string]any{"id": phoneNumberID},
		"mode":        method.String(),
	})
	if err != nil {
		return apperror.Wrap(apperror.KindMFAWarning, err, "encoding resend payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, mfaSMSURL, bytes.NewReader(body))
	if err != nil {
		return apperror.Wrap(apperror.KindMFAWarning, err, "building resend request")
	}

	a.setMFAHeaders(req)

	resp, err := a.http.Do(req)
	if err != nil {
		return apperror.Wrap(apperror.KindMFAWarning, err, "resend request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return apperror.New(apperror.KindMFAWarning, "resend rejected", "status", resp.StatusCode)
	}

	return nil
}

// submitMFA validates the operator-supplied code. A wrong code or rejected
// submission is fatal (AuthError), per spec.md §4.3.
func (a *Auth) submitMFA(ctx context.Context, method Method, code string) error {
	var (
		body map[string]any
		url  = mfaCodeURL
	)

	if method == MethodDevice {
		body = map[string]any{"securityCode": map[string]any{"code": code}}
	} else {
		body = map[string]any{"securityCode": map[string]any{"code": code}, "mode": method.String()}
		url = mfaSMSURL + "/securitycode"
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return apperror.Wrap(apperror.KindAuthError, err, "encoding mfa submission")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return apperror.Wrap(apperror.KindAuthError, err, "building mfa submission request")
	}

	a.setMFAHeaders(req)

	resp, err := a.http.Do(req)
	if err != nil {
		return apperror.Wrap(apperror.KindAuthError, err, "mfa submission request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return apperror.New(apperror.KindAuthError, "incorrect MFA code", "status", resp.StatusCode)
	}

	a.session.setState(StateAuthenticated)

	return nil
}

func (a *Auth) setMFAHeaders(req *http.Request) {
	a.session.mu.RLock()
	defer a.session.mu.RUnlock()

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Apple-ID-Session-Id", a.session.auth.SessionID)
	req.Header.Set("scnt", a.session.auth.Scnt)
	req.Header.Set("Cookie", "aasp="+a.session.auth.Aasp)
}

// completeAuthenticated runs AUTHENTICATED → TRUSTED → SETUP_DONE → READY,
// the tail shared by both the no-MFA and post-MFA paths.
func (a *Auth) completeAuthenticated(ctx context.Context) error {
	if err := a.getTokens(ctx); err != nil {
		return err
	}

	if err := a.setup(ctx); err != nil {
		return err
	}

	warmClient := NewClient(a.http, a.session, nil, a.logger)
	if err := NewQuery(warmClient, a.session.PhotosDomain()).WarmUp(ctx); err != nil {
		return err
	}

	a.session.setState(StateReady)

	return nil
}

// getTokens performs AUTHENTICATED → TRUSTED: GET /trust with MFA headers,
// extracting sessionToken and a fresh trustToken from response headers.
func (a *Auth) getTokens(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, trustURL, nil)
	if err != nil {
		return apperror.Wrap(apperror.KindTokenError, err, "building trust request")
	}

	a.setMFAHeaders(req)

	resp, err := a.http.Do(req)
	if err != nil {
		return apperror.Wrap(apperror.KindTokenError, err, "trust request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return apperror.New(apperror.KindTokenError, "trust request rejected", "status", resp.StatusCode)
	}

	sessionToken := resp.Header.Get("X-Apple-Session-Token")
	trustToken := resp.Header.Get("X-Apple-TwoSV-Trust-Token")

	a.session.mu.Lock()
	a.session.tokens.SessionToken = sessionToken
	if trustToken != "" {
		a.session.tokens.TrustToken = trustToken
	}
	a.session.state = StateTrusted
	a.session.mu.Unlock()

	if trustToken != "" && a.trustSave != nil {
		if err := a.trustSave.Save(trustToken); err != nil {
			a.logger.Warn("failed to persist trust token", slog.String("error", err.Error()))
		}
	}

	return nil
}

// setup performs TRUSTED → SETUP_DONE: POST /setup with the session and
// trust tokens, extracting cloud cookies and the per-account photosDomain.
func (a *Auth) setup(ctx context.Context) error {
	a.session.mu.RLock()
	payload, err := json.Marshal(map[string]any{
		"dsWebAuthToken": a.session.tokens.SessionToken,
		"trustToken":     a.session.tokens.TrustToken,
	})
	a.session.mu.RUnlock()

	if err != nil {
		return apperror.Wrap(apperror.KindAuthError, err, "encoding setup payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, setupURL, bytes.NewReader(payload))
	if err != nil {
		return apperror.Wrap(apperror.KindAuthError, err, "building setup request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return apperror.Wrap(apperror.KindAuthError, err, "setup request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperror.Wrap(apperror.KindAuthError, err, "reading setup response")
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return apperror.New(apperror.KindAuthError, "setup request rejected", "status", resp.StatusCode)
	}

	var parsed struct {
		Webservices struct {
			Ckdatabasews struct {
				URL string `json:"url"`
			} `json:"ckdatabasews"`
		} `json:"webservices"`
	}

	if err := json.Unmarshal(raw, &parsed); err != nil {
		return apperror.Wrap(apperror.KindAuthError, err, "decoding setup response")
	}

	if parsed.Webservices.Ckdatabasews.URL == "" {
		return apperror.New(apperror.KindAuthError, "setup response missing photos webservice")
	}

	cookies := make([]string, 0, len(resp.Cookies()))
	for _, c := range resp.Cookies() {
		cookies = append(cookies, fmt.Sprintf("%s=%s", c.Name, c.Value))
	}

	a.session.mu.Lock()
	a.session.domain = parsed.Webservices.Ckdatabasews.URL
	a.session.cookies = cookies
	a.session.state = StateSetupDone
	a.session.mu.Unlock()

	return nil
}
