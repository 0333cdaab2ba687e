// helpers_test.go

// Shared fixture and assertion helpers for auth package tests.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"

	"github.com/MGallo-Code/kiosk/internal/otp"
	"github.com/MGallo-Code/kiosk/internal/store"
	"github.com/MGallo-Code/kiosk/internal/testutil"
	"github.com/MGallo-Code/kiosk/internal/token"
)

const (
	testAccessSecret  = "test-access-secret"
	testRefreshSecret = "test-refresh-secret"
	testPassword      = "hunter2hunter2"
)

// fixture wires an AuthHandler to in-memory collaborators.
// OTP state and reset tickets live in miniredis so TTLs can be fast-forwarded.
type fixture struct {
	h        *AuthHandler
	mr       *miniredis.Miniredis
	accounts *testutil.MockAccountStore
	mailer   *testutil.MockMailer
	events   *testutil.MockPublisher
	tokens   *token.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	cache := store.NewRedisCache(rdb)

	tm, err := token.NewManager(token.Config{
		AccessSecret:  []byte(testAccessSecret),
		RefreshSecret: []byte(testRefreshSecret),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}

	f := &fixture{
		mr:       mr,
		accounts: testutil.NewMockAccountStore(nil, nil),
		mailer:   &testutil.MockMailer{},
		events:   &testutil.MockPublisher{},
		tokens:   tm,
	}
	f.h = &AuthHandler{
		Accounts: f.accounts,
		OTP:      otp.NewService(cache, f.mailer, otp.DefaultPolicy()),
		Tokens:   tm,
		Tickets:  cache,
		Events:   f.events,
	}
	return f
}

// seedUser inserts a user (or admin) with a real Argon2id hash of password.
func (f *fixture) seedUser(t *testing.T, email, password string, role store.Role) *store.User {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("seedUser: %v", err)
	}
	u := &store.User{ID: uuid.Must(uuid.NewV7()), Name: "Ada", Email: email, PasswordHash: &hash, Role: role}
	f.accounts.Users[email] = u
	return u
}

// seedSeller inserts a seller with a real Argon2id hash of password.
func (f *fixture) seedSeller(t *testing.T, email, password string) *store.Seller {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("seedSeller: %v", err)
	}
	s := &store.Seller{
		ID: uuid.Must(uuid.NewV7()), Name: "Shop", Email: email,
		PhoneNumber: "+15551234567", Country: "US", PasswordHash: hash,
	}
	f.accounts.Sellers[email] = s
	return s
}

// lastOTP returns the code from the most recent email.
func (f *fixture) lastOTP(t *testing.T) string {
	t.Helper()
	if f.mailer.Count() == 0 {
		t.Fatal("no mail sent")
	}
	return f.mailer.Last().Data["otp"]
}

// jsonBody marshals v for use as a request body.
func jsonBody(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("jsonBody: %v", err)
	}
	return string(b)
}

// call runs handler with a JSON body and optional cookies.
func call(handler http.HandlerFunc, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		r.AddCookie(c)
	}
	w := httptest.NewRecorder()
	handler(w, r)
	return w
}

// decode unmarshals the response body into a generic map.
func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("response not JSON: %v (%q)", err, w.Body.String())
	}
	return m
}

// assertResponse checks status, JSON content type and the message field.
func assertResponse(t *testing.T, w *httptest.ResponseRecorder, status int, msg string) {
	t.Helper()
	if w.Code != status {
		t.Errorf("status: expected %d, got %d (body %q)", status, w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: expected application/json, got %q", ct)
	}
	if got := decode(t, w)["message"]; got != msg {
		t.Errorf("message: expected %q, got %q", msg, got)
	}
}

// cookie returns the named Set-Cookie from w, or nil.
func cookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// fakeCaptcha accepts exactly one token value.
type fakeCaptcha struct{ accept string }

func (f fakeCaptcha) Verify(_ context.Context, tok, _ string) error {
	if tok != f.accept {
		return errors.New("rejected")
	}
	return nil
}
