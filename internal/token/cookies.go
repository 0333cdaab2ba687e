package token

import (
	"net/http"
	"time"
)

// Cookie names shared with the storefront clients.
const (
	AccessCookie  = "accessToken"
	RefreshCookie = "refreshToken"
)

func authCookie(name, value string, ttl time.Duration, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	}
}

// SetAuthCookies writes both tokens of p. MaxAge matches each token's TTL.
func SetAuthCookies(w http.ResponseWriter, p Pair, secure bool) {
	http.SetCookie(w, authCookie(AccessCookie, p.Access, p.AccessTTL, secure))
	http.SetCookie(w, authCookie(RefreshCookie, p.Refresh, p.RefreshTTL, secure))
}

// SetAccessCookie writes only the access cookie, used by refresh.
func SetAccessCookie(w http.ResponseWriter, access string, ttl time.Duration, secure bool) {
	http.SetCookie(w, authCookie(AccessCookie, access, ttl, secure))
}

// ClearAuthCookies expires both cookies on the client.
func ClearAuthCookies(w http.ResponseWriter, secure bool) {
	for _, name := range []string{AccessCookie, RefreshCookie} {
		c := authCookie(name, "", 0, secure)
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}
