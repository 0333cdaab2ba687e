package apiclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// waiting reports how many requests are queued behind the running refresh.
func (c *Client) waiting() int {
	c.refresh.mu.Lock()
	defer c.refresh.mu.Unlock()
	return len(c.refresh.waiters)
}

// api is a fake backend: /data needs accessToken=fresh, /refresh-token sets it.
type api struct {
	refreshes atomic.Int32
	refreshOK bool
	// gate, when set, runs inside the refresh handler before it answers.
	gate func()
}

func (a *api) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		a.refreshes.Add(1)
		if a.gate != nil {
			a.gate()
		}
		if !a.refreshOK {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "accessToken", Value: "fresh", Path: "/"})
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("accessToken")
		if err != nil || c.Value != "fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	})
	mux.HandleFunc("/forbidden", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	return mux
}

func newTestClient(t *testing.T, a *api, opts Options) *Client {
	t.Helper()
	srv := httptest.NewServer(a.handler())
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

// waitFor blocks the refresh handler until n requests are queued behind it.
func waitFor(c **Client, n int) func() {
	return func() {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) && (*c).waiting() < n {
			time.Sleep(time.Millisecond)
		}
	}
}

// eventually polls cond until it holds or 5s pass.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func get(t *testing.T, c *Client, ctx context.Context, path string) (*http.Response, error) {
	t.Helper()
	req, err := c.NewRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return c.Do(req)
}

func TestNew(t *testing.T) {
	for _, bad := range []string{"not a url", "/relative"} {
		if _, err := New(bad, Options{}); err == nil {
			t.Errorf("New(%q): expected error", bad)
		}
	}

	c, err := New("http://api.example.com", Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.refreshURL.String(); got != "http://api.example.com/refresh-token" {
		t.Errorf("refresh url: %s", got)
	}
	if c.opts.Timeout != 30*time.Second {
		t.Errorf("default timeout: %v", c.opts.Timeout)
	}
}

func TestDo_RefreshesAndRetriesOnce(t *testing.T) {
	a := &api{refreshOK: true}
	c := newTestClient(t, a, Options{})

	req, err := c.NewRequest(context.Background(), http.MethodPost, "/data", strings.NewReader(`{"n":1}`))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status: expected 200, got %d", resp.StatusCode)
	}
	if string(body) != `{"n":1}` {
		t.Errorf("retry must replay the body, got %q", body)
	}
	if n := a.refreshes.Load(); n != 1 {
		t.Errorf("refreshes: expected 1, got %d", n)
	}

	// The jar now holds the fresh cookie, so no further refresh is needed.
	resp, err = get(t, c, context.Background(), "/data")
	if err != nil {
		t.Fatalf("second Do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || a.refreshes.Load() != 1 {
		t.Errorf("second call: status %d, refreshes %d", resp.StatusCode, a.refreshes.Load())
	}
}

func TestDo_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	const n = 8
	var c *Client
	a := &api{refreshOK: true}
	a.gate = waitFor(&c, n-1)
	c = newTestClient(t, a, Options{})

	var wg sync.WaitGroup
	codes := make([]int, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := get(t, c, context.Background(), "/data")
			errs[i] = err
			if err == nil {
				codes[i] = resp.StatusCode
				resp.Body.Close()
			}
		}()
	}
	wg.Wait()

	if got := a.refreshes.Load(); got != 1 {
		t.Errorf("expected exactly one refresh call, got %d", got)
	}
	for i := range n {
		if errs[i] != nil || codes[i] != http.StatusOK {
			t.Errorf("request %d: status %d err %v", i, codes[i], errs[i])
		}
	}
	if w := c.waiting(); w != 0 {
		t.Errorf("%d waiters left behind", w)
	}
}

func TestDo_FailedRefreshRejectsEveryWaiter(t *testing.T) {
	const n = 5
	var c *Client
	var logouts atomic.Int32
	a := &api{refreshOK: false}
	a.gate = waitFor(&c, n-1)
	c = newTestClient(t, a, Options{OnLogout: func() { logouts.Add(1) }})

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = get(t, c, context.Background(), "/data")
		}()
	}
	wg.Wait()

	if got := a.refreshes.Load(); got != 1 {
		t.Errorf("refreshes: expected 1, got %d", got)
	}
	if got := logouts.Load(); got != 1 {
		t.Errorf("logout runs once per failed refresh, got %d", got)
	}
	for i, err := range errs {
		if !errors.Is(err, ErrSessionExpired) {
			t.Errorf("request %d: expected ErrSessionExpired, got %v", i, err)
		}
	}
}

func TestDo_NoLogoutOnAuthRoute(t *testing.T) {
	var logouts atomic.Int32
	a := &api{refreshOK: false}
	c := newTestClient(t, a, Options{
		OnLogout:    func() { logouts.Add(1) },
		IsAuthRoute: func() bool { return true },
	})

	_, err := get(t, c, context.Background(), "/data")
	if !errors.Is(err, ErrSessionExpired) {
		t.Errorf("expected ErrSessionExpired, got %v", err)
	}
	if logouts.Load() != 0 {
		t.Error("logout must not run on an auth route")
	}
}

func TestDo_RefreshEndpointIsNotRetried(t *testing.T) {
	a := &api{refreshOK: false}
	c := newTestClient(t, a, Options{})

	req, err := c.NewRequest(context.Background(), http.MethodPost, "/refresh-token", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status: expected 401, got %d", resp.StatusCode)
	}
	if got := a.refreshes.Load(); got != 1 {
		t.Errorf("expected only the caller's own request, got %d", got)
	}
}

func TestDo_ForbiddenLogsOutWhenConfigured(t *testing.T) {
	tests := []struct {
		name        string
		logoutOn403 bool
		want        int32
	}{
		{"seller dashboard", true, 1},
		{"storefront", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logouts atomic.Int32
			c := newTestClient(t, &api{}, Options{
				LogoutOnForbidden: tt.logoutOn403,
				OnLogout:          func() { logouts.Add(1) },
			})
			resp, err := get(t, c, context.Background(), "/forbidden")
			if err != nil {
				t.Fatalf("Do: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusForbidden {
				t.Errorf("status: expected 403, got %d", resp.StatusCode)
			}
			if got := logouts.Load(); got != tt.want {
				t.Errorf("logouts: expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestDo_WaiterHonoursCancellation(t *testing.T) {
	var c *Client
	release := make(chan struct{})
	a := &api{refreshOK: true}
	a.gate = func() { <-release }
	c = newTestClient(t, a, Options{})

	leader := make(chan error, 1)
	go func() {
		resp, err := get(t, c, context.Background(), "/data")
		if err == nil {
			resp.Body.Close()
		}
		leader <- err
	}()
	eventually(t, "refresh to start", func() bool { return a.refreshes.Load() == 1 })

	ctx, cancel := context.WithCancel(context.Background())
	waiter := make(chan error, 1)
	go func() {
		_, err := get(t, c, ctx, "/data")
		waiter <- err
	}()
	eventually(t, "waiter to queue", func() bool { return c.waiting() == 1 })

	cancel()
	if err := <-waiter; !errors.Is(err, context.Canceled) {
		t.Errorf("waiter: expected context.Canceled, got %v", err)
	}

	close(release)
	if err := <-leader; err != nil {
		t.Errorf("leader: %v", err)
	}
}

func TestRewind_UnreplayableBody(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, "http://x/data", io.NopCloser(strings.NewReader("x")))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if _, err := rewind(req); err == nil {
		t.Error("expected error for a body without GetBody")
	}
}
