package icloud

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/apperror"
)

// fakeTransport routes requests by URL path regardless of host, since Auth's
// endpoints are hardcoded absolute URLs and the setup response controls
// which host later warm-up requests target.
type fakeTransport struct {
	mu        sync.Mutex
	responder func(req *http.Request) (*http.Response, error)
}

func (t *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.responder(req)
}

func jsonResponse(status int, body string, headers map[string]string) *http.Response {
	resp := &http.Response{
		StatusCode: status,
		Body:       http.NoBody,
		Header:     make(http.Header),
	}

	for k, v := range headers {
		resp.Header.Set(k, v)
	}

	if body != "" {
		resp.Body = io.NopCloser(strings.NewReader(body))
	}

	return resp
}

type fakeChannel struct {
	code Submission
	err  error
}

func (c *fakeChannel) WaitForCode(ctx context.Context) (Submission, error) {
	if c.err != nil {
		return Submission{}, c.err
	}

	return c.code, nil
}

func (c *fakeChannel) WaitForResend(ctx context.Context) (Resend, error) {
	<-ctx.Done()

	return Resend{}, ctx.Err()
}

func newAuthForTest(t *testing.T, responder func(req *http.Request) (*http.Response, error), mfa Channel, failOnMFA bool) (*Auth, *Session) {
	t.Helper()

	session := NewSession("user@example.com", "hunter2", "")
	httpClient := &http.Client{Transport: &fakeTransport{responder: responder}}

	return NewAuth(session, httpClient, mfa, nil, nil, failOnMFA), session
}

func pathRouter(routes map[string]func(req *http.Request) (*http.Response, error)) func(req *http.Request) (*http.Response, error) {
	return func(req *http.Request) (*http.Response, error) {
		for suffix, fn := range routes {
			if strings.HasSuffix(req.URL.Path, suffix) {
				return fn(req)
			}
		}

		return nil, errors.New("fakeTransport: no route for " + req.URL.Path)
	}
}

func successfulTailRoutes() map[string]func(req *http.Request) (*http.Response, error) {
	return map[string]func(req *http.Request) (*http.Response, error){
		"/2sv/trust": func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, "", map[string]string{
				"X-Apple-Session-Token":    "session-token",
				"X-Apple-TwoSV-Trust-Token": "trust-token",
			}), nil
		},
		"/accountLogin": func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, `{"webservices":{"ckdatabasews":{"url":"https://p00-ckdatabasews.icloud.com"}}}`, nil), nil
		},
		"/records/query": func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, `{"records":[]}`, nil), nil
		},
	}
}

func TestAuth_SignIn_SuccessReachesReady(t *testing.T) {
	routes := successfulTailRoutes()
	routes["/auth/signin"] = func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, "", nil), nil
	}

	auth, session := newAuthForTest(t, pathRouter(routes), nil, false)

	err := auth.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateReady, session.State())

	select {
	case <-session.Ready():
	default:
		t.Fatal("expected Ready() to be closed")
	}
	assert.NoError(t, session.ReadyErr())
}

func TestAuth_SignIn_BadCredentialsIsFatal(t *testing.T) {
	auth, session := newAuthForTest(t, pathRouter(map[string]func(req *http.Request) (*http.Response, error){
		"/auth/signin": func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusUnauthorized, "", nil), nil
		},
	}), nil, false)

	err := auth.Run(context.Background())
	require.Error(t, err)

	var appErr *apperror.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.KindAuthError, appErr.Kind())
	assert.Equal(t, StateAuthenticating, session.State())
}

func TestAuth_SignIn_UnknownAppleIDIsFatal(t *testing.T) {
	auth, _ := newAuthForTest(t, pathRouter(map[string]func(req *http.Request) (*http.Response, error){
		"/auth/signin": func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusForbidden, "", nil), nil
		},
	}), nil, false)

	err := auth.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown Apple ID")
}

func TestAuth_SignIn_MFARequired_FailOnMFAIsFatal(t *testing.T) {
	auth, session := newAuthForTest(t, pathRouter(map[string]func(req *http.Request) (*http.Response, error){
		"/auth/signin": func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusConflict, "", nil), nil
		},
	}), nil, true)

	err := auth.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fail-on-mfa")
	assert.Equal(t, StateMFARequired, session.State())
}

func TestAuth_SignIn_MFARequired_SuccessfulSubmitReachesReady(t *testing.T) {
	routes := successfulTailRoutes()
	routes["/auth/signin"] = func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusConflict, "", nil), nil
	}
	routes["/securitycode"] = func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, "", nil), nil
	}

	channel := &fakeChannel{code: Submission{Method: MethodSMS, Code: "123456"}}

	auth, session := newAuthForTest(t, pathRouter(routes), channel, false)

	err := auth.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateReady, session.State())
}

func TestAuth_SignIn_MFARequired_WrongCodeIsFatal(t *testing.T) {
	routes := map[string]func(req *http.Request) (*http.Response, error){
		"/auth/signin": func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusConflict, "", nil), nil
		},
		"/securitycode": func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusUnauthorized, "", nil), nil
		},
	}

	channel := &fakeChannel{code: Submission{Method: MethodSMS, Code: "000000"}}

	auth, _ := newAuthForTest(t, pathRouter(routes), channel, false)

	err := auth.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "incorrect MFA code")
}

func TestAuth_GetTokens_RejectedIsTokenError(t *testing.T) {
	auth, _ := newAuthForTest(t, pathRouter(map[string]func(req *http.Request) (*http.Response, error){
		"/auth/signin": func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, "", nil), nil
		},
		"/2sv/trust": func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusInternalServerError, "", nil), nil
		},
	}), nil, false)

	err := auth.Run(context.Background())
	require.Error(t, err)

	var appErr *apperror.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.KindTokenError, appErr.Kind())
}
