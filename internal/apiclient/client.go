// client.go -- HTTP client for the storefront API that transparently refreshes
// an expired access token and retries the failed request once.
//
// Concurrent requests that hit 401 while a refresh is running wait for that
// refresh instead of starting their own. Every waiter observes the same outcome.
package apiclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"
)

// ErrSessionExpired is returned when a 401 could not be recovered by refreshing.
var ErrSessionExpired = errors.New("session expired")

// Options configures a Client. The zero value is usable.
type Options struct {
	// RefreshPath is the refresh endpoint, relative to the base URL. Default "/refresh-token".
	RefreshPath string
	// Timeout bounds every HTTP call, including the refresh. Default 30s.
	Timeout time.Duration
	// OnLogout runs once per failed refresh, and on 403 when LogoutOnForbidden is set.
	OnLogout func()
	// IsAuthRoute suppresses OnLogout after a failed refresh when it reports true
	// (the caller is already on a login or signup screen).
	IsAuthRoute func() bool
	// LogoutOnForbidden treats any 403 as a lost session (seller dashboard behaviour).
	LogoutOnForbidden bool
}

// refreshState serialises refresh calls for one Client.
type refreshState struct {
	mu       sync.Mutex
	inFlight bool
	waiters  []chan error
}

// Client wraps http.Client with cookie-based session handling.
type Client struct {
	base       *url.URL
	refreshURL *url.URL
	opts       Options

	http   *http.Client
	bypass *http.Client // refresh calls; shares the jar but never re-enters Do

	refresh refreshState
}

// New returns a Client for the API at baseURL.
func New(baseURL string, opts Options) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	if opts.RefreshPath == "" {
		opts.RefreshPath = "/refresh-token"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	refreshURL, err := base.Parse(opts.RefreshPath)
	if err != nil {
		return nil, fmt.Errorf("parsing refresh path: %w", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	return &Client{
		base:       base,
		refreshURL: refreshURL,
		opts:       opts,
		http:       &http.Client{Jar: jar, Timeout: opts.Timeout},
		bypass:     &http.Client{Jar: jar, Timeout: opts.Timeout},
	}, nil
}

// NewRequest builds a request for path relative to the base URL.
// Bodies from bytes.Reader, bytes.Buffer or strings.Reader can be replayed on retry.
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u, err := c.base.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("parsing path: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Cookies returns the session cookies currently held for the base URL.
func (c *Client) Cookies() []*http.Cookie {
	return c.http.Jar.Cookies(c.base)
}

// Do sends req. A 401 from any endpoint other than the refresh endpoint triggers
// (or joins) a refresh, then req is sent once more. If the refresh fails Do
// returns ErrSessionExpired and no response.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	c.checkForbidden(resp)
	if resp.StatusCode != http.StatusUnauthorized || c.isRefresh(req) {
		return resp, nil
	}
	discard(resp)

	if err := c.awaitRefresh(req.Context()); err != nil {
		return nil, err
	}

	retry, err := rewind(req)
	if err != nil {
		return nil, err
	}
	resp, err = c.http.Do(retry)
	if err != nil {
		return nil, err
	}
	c.checkForbidden(resp)
	return resp, nil
}

// awaitRefresh leads a refresh if none is running, otherwise waits for the running one.
func (c *Client) awaitRefresh(ctx context.Context) error {
	s := &c.refresh
	s.mu.Lock()
	if s.inFlight {
		ch := make(chan error, 1)
		s.waiters = append(s.waiters, ch)
		s.mu.Unlock()
		select {
		case err := <-ch:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.inFlight = true
	s.mu.Unlock()

	// The leader's own cancellation must not fail everyone queued behind it.
	err := c.doRefresh(context.WithoutCancel(ctx))

	s.mu.Lock()
	waiters := s.waiters
	s.waiters = nil
	s.inFlight = false
	s.mu.Unlock()

	for _, ch := range waiters {
		ch <- err
	}

	if err != nil {
		slog.Debug("token refresh failed", "error", err, "waiters", len(waiters))
		if c.opts.IsAuthRoute == nil || !c.opts.IsAuthRoute() {
			c.logout()
		}
		return err
	}
	slog.Debug("token refreshed", "waiters", len(waiters))
	return nil
}

// doRefresh calls the refresh endpoint on the bypass client. The new access
// cookie lands in the shared jar.
func (c *Client) doRefresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.refreshURL.String(), http.NoBody)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	resp, err := c.bypass.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	discard(resp)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: refresh returned %d", ErrSessionExpired, resp.StatusCode)
	}
	return nil
}

func (c *Client) checkForbidden(resp *http.Response) {
	if resp.StatusCode == http.StatusForbidden && c.opts.LogoutOnForbidden {
		c.logout()
	}
}

func (c *Client) logout() {
	if c.opts.OnLogout != nil {
		c.opts.OnLogout()
	}
}

func (c *Client) isRefresh(req *http.Request) bool {
	return req.URL.Host == c.refreshURL.Host && req.URL.Path == c.refreshURL.Path
}

// rewind clones req with a fresh body for the retry.
func rewind(req *http.Request) (*http.Request, error) {
	retry := req.Clone(req.Context())
	// http.Client wrote the stale jar cookies onto req; the retry must pick up the new ones.
	retry.Header.Del("Cookie")
	if req.Body == nil || req.Body == http.NoBody {
		return retry, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("request body cannot be replayed after refresh")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("rewinding request body: %w", err)
	}
	retry.Body = body
	return retry, nil
}

// discard drains and closes resp so the connection can be reused.
func discard(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
