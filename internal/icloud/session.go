package icloud

import "sync"

// AccountSecrets holds the credentials supplied by the user, per spec.md §3.
type AccountSecrets struct {
	Username string
	Password string
}

// AuthSecrets holds the per-attempt secrets captured from the /signin
// response headers (spec.md §4.3): the session id, scnt anti-CSRF token,
// and the aasp cookie.
type AuthSecrets struct {
	SessionID string
	Scnt      string
	Aasp      string
}

// AccountTokens holds the tokens captured from the /trust response headers.
type AccountTokens struct {
	SessionToken string
	TrustToken   string
}

// Session is the mutable per-process authentication session (spec.md §3's
// AuthSession). It is owned by the Auth Session and read-only for other
// components after READY (spec.md §3 Ownership); the mutex guards the
// single-flight re-authentication path described in SPEC_FULL.md §4.3,
// since C4 may observe a 401 from several concurrent queries at once.
type Session struct {
	mu sync.RWMutex

	account AccountSecrets
	auth    AuthSecrets
	tokens  AccountTokens
	cookies []string
	domain  string

	state State

	ready    chan struct{}
	readyErr error
	readyOne sync.Once
}

// NewSession creates a Session in UNAUTHENTICATED state for the given
// account credentials and optional pre-existing trust token.
func NewSession(username, password, trustToken string) *Session {
	s := &Session{
		account: AccountSecrets{Username: username, Password: password},
		tokens:  AccountTokens{TrustToken: trustToken},
		state:   StateUnauthenticated,
		ready:   make(chan struct{}),
	}

	return s
}

// State returns the current state under a read lock.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// TrustToken returns the currently held trust token, if any.
func (s *Session) TrustToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.tokens.TrustToken
}

// PhotosDomain returns the per-user photos webservice host discovered during
// setup, empty until SETUP_DONE.
func (s *Session) PhotosDomain() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.domain
}

// Cookies returns a copy of the cloud cookies captured during setup.
func (s *Session) Cookies() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.cookies))
	copy(out, s.cookies)

	return out
}

// Ready returns a channel closed exactly once, on the first transition to
// READY or the first fatal authentication error — a single-assignment
// latch, grounded on the teacher's waitForCallback select-on-channel idiom
// (internal/graph/auth.go) and SPEC_FULL.md §9's oneshot-barrier guidance.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// ReadyErr returns the error that caused a fatal Ready signal, or nil if the
// session reached READY successfully. Only meaningful after Ready() closes.
func (s *Session) ReadyErr() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.readyErr
}

// signalReady closes the ready latch exactly once, recording err (nil on
// success).
func (s *Session) signalReady(err error) {
	s.readyOne.Do(func() {
		s.mu.Lock()
		s.readyErr = err
		s.mu.Unlock()
		close(s.ready)
	})
}
