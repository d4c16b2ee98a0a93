package icloud

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Per-request retry policy: base 1s, factor 2x, max 30s, ±25% jitter, max 3
// retries per request (distinct from C5's whole-sync MAX_RETRY).
const (
	maxRetries     = 3
	baseBackoff    = 1 * time.Second
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	userAgent      = "icloud-photos-sync-go/0.1"
)

// Reauthenticator re-runs the sign-in flow and installs fresh cookies on the
// session. Client calls it at most once concurrently (single-flight) when a
// request comes back 401, grounded on the teacher's tokenBridge/
// OnTokenChange refresh hook (internal/graph, internal/auth) generalized
// from a token refresh to a full re-authentication.
type Reauthenticator interface {
	Reauthenticate(ctx context.Context) error
}

// Client is an HTTP client for Apple's private iCloud web services. It
// carries cookies from Session, retries transient failures with backoff,
// and single-flights re-authentication on 401. Grounded on the teacher's
// graph.Client (internal/graph/client.go).
type Client struct {
	httpClient *http.Client
	session    *Session
	reauth     Reauthenticator
	logger     *slog.Logger

	sleepFunc func(ctx context.Context, d time.Duration) error

	reauthMu sync.Mutex
	inFlight *sync.WaitGroup
}

// NewClient creates an iCloud HTTP client bound to session.
func NewClient(httpClient *http.Client, session *Session, reauth Reauthenticator, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		httpClient: httpClient,
		session:    session,
		reauth:     reauth,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// Do executes a request against url with method and body, retrying
// transient failures and re-authenticating once on 401. The caller closes
// the response body on success.
func (c *Client) Do(ctx context.Context, method, url string, body io.Reader, headers http.Header) (*http.Response, error) {
	var attempt int
	reauthed := false

	for {
		if err := rewindBody(body); err != nil {
			return nil, err
		}

		resp, err := c.doOnce(ctx, method, url, body, headers)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("icloud: request canceled: %w", ctx.Err())
			}

			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", method), slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff), slog.String("error", err.Error()))

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("icloud: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("icloud: %s %s failed after %d retries: %w", method, url, maxRetries, err)
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			return resp, nil
		}

		if resp.StatusCode == http.StatusUnauthorized && !reauthed && c.reauth != nil {
			resp.Body.Close()
			reauthed = true

			if err := c.triggerReauth(ctx); err != nil {
				return nil, fmt.Errorf("icloud: re-authentication after 401 failed: %w", err)
			}

			continue
		}

		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method), slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1), slog.Duration("backoff", backoff))

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("icloud: request canceled: %w", err)
			}

			attempt++

			continue
		}

		return nil, &ResponseError{StatusCode: resp.StatusCode, Message: string(errBody), Err: classifyStatus(resp.StatusCode)}
	}
}

// triggerReauth runs c.reauth.Reauthenticate at most once concurrently;
// callers that arrive while a reauth is already in flight wait for it
// instead of starting a second sign-in.
func (c *Client) triggerReauth(ctx context.Context) error {
	c.reauthMu.Lock()
	if wg := c.inFlight; wg != nil {
		c.reauthMu.Unlock()
		wg.Wait()

		return nil
	}

	wg := &sync.WaitGroup{}
	wg.Add(1)
	c.inFlight = wg
	c.reauthMu.Unlock()

	err := c.reauth.Reauthenticate(ctx)

	c.reauthMu.Lock()
	c.inFlight = nil
	c.reauthMu.Unlock()
	wg.Done()

	return err
}

func (c *Client) doOnce(ctx context.Context, method, url string, body io.Reader, headers http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)

	for _, cookie := range c.session.Cookies() {
		req.Header.Add("Cookie", cookie)
	}

	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	for key, vals := range headers {
		for _, v := range vals {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", slog.String("url", url), slog.String("error", err.Error()))

		return nil, err
	}

	c.logger.Debug("HTTP response received", slog.String("url", url), slog.Int("status", resp.StatusCode))

	return resp, nil
}

func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1)
	backoff += jitter

	return time.Duration(backoff)
}

func rewindBody(body io.Reader) error {
	if body == nil {
		return nil
	}

	if seeker, ok := body.(io.Seeker); ok {
		if _, err := seeker.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("icloud: rewinding request body for retry: %w", err)
		}
	}

	return nil
}

func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
