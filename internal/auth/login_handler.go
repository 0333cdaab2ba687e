// login_handler.go -- Login, access token refresh, logout and the current principal.
package auth

import (
	"errors"
	"net/http"

	"github.com/gofrs/uuid/v5"

	"github.com/MGallo-Code/kiosk/internal/apperr"
	"github.com/MGallo-Code/kiosk/internal/store"
	"github.com/MGallo-Code/kiosk/internal/token"
)

var errInvalidCredentials = apperr.New(apperr.Authentication, "Invalid credentials")

// login authenticates email + password for the route's audience.
// Unknown email and wrong password both return 401 after one Argon2id derivation.
func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request, role store.Role) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		WriteError(w, r, err)
		return
	}
	in.Email = normalizeEmail(in.Email)
	if in.Email == "" || in.Password == "" {
		WriteError(w, r, apperr.New(apperr.Validation, "Email and password are required"))
		return
	}

	creds, err := h.lookupByEmail(r.Context(), role, in.Email)
	if err != nil {
		if !errors.Is(err, store.ErrAccountNotFound) {
			InternalServerError(w, r, err)
			return
		}
		VerifyPassword(in.Password, dummyPasswordHash())
		logInfo(r, "login attempted with unknown email", "role", role)
		WriteError(w, r, errInvalidCredentials)
		return
	}
	if creds.hash == "" {
		VerifyPassword(in.Password, dummyPasswordHash())
		WriteError(w, r, errInvalidCredentials)
		return
	}

	valid, err := VerifyPassword(in.Password, creds.hash)
	if err != nil {
		logError(r, "password verification failed", "error", err)
		InternalServerError(w, r, err)
		return
	}
	if !valid {
		logInfo(r, "login attempted with incorrect password", "account_id", creds.account.ID)
		WriteError(w, r, errInvalidCredentials)
		return
	}

	pair, err := h.Tokens.IssuePair(creds.account)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	token.SetAuthCookies(w, pair, h.SecureCookies)

	acct := creds.account
	logInfo(r, "login succeeded", "account_id", acct.ID, "role", acct.Role)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Login successful",
		"user": map[string]string{
			"id":    acct.ID.String(),
			"email": acct.Email,
			"name":  acct.Name,
			"role":  string(acct.Role),
		},
	})
}

// Login handles POST /login for buyers and admins.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, store.RoleUser)
}

// SellerLogin handles POST /seller/login.
func (h *AuthHandler) SellerLogin(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, store.RoleSeller)
}

// RefreshToken handles POST /refresh-token.
// The refresh token comes from its cookie or, failing that, a Bearer header.
// Only the access cookie is rewritten; the refresh token keeps its original expiry.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	raw := ""
	if c, err := r.Cookie(token.RefreshCookie); err == nil {
		raw = c.Value
	}
	if raw == "" {
		raw = bearerToken(r)
	}
	if raw == "" {
		WriteError(w, r, apperr.New(apperr.Authentication, "Unauthorized! No refresh token."))
		return
	}

	claims, err := h.Tokens.ParseRefresh(raw)
	if err != nil {
		logInfo(r, "refresh rejected", "error", err)
		WriteError(w, r, apperr.New(apperr.Authentication, "Unauthorized! Invalid refresh token."))
		return
	}
	id, err := uuid.FromString(claims.ID)
	if err != nil {
		WriteError(w, r, apperr.New(apperr.Authentication, "Unauthorized! Invalid refresh token."))
		return
	}

	acct, err := h.Accounts.FindAccount(r.Context(), claims.Role, id)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			WriteError(w, r, errAccountNotFound)
			return
		}
		InternalServerError(w, r, err)
		return
	}

	access, err := h.Tokens.IssueAccess(acct.ID.String(), acct.Role)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	token.SetAccessCookie(w, access, h.Tokens.AccessTTL(), h.SecureCookies)

	logDebug(r, "access token refreshed", "account_id", acct.ID)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Logout handles POST /logout. Tokens are stateless, so this only clears cookies.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token.ClearAuthCookies(w, h.SecureCookies)
	OK(w, "Logged out successfully")
}

// Me handles GET /me and GET /seller/me. Must run behind RequireAuth.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	acct, ok := AccountFromContext(r.Context())
	if !ok {
		InternalServerError(w, r, errors.New("missing account in context"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		roleKey(acct.Role): acct,
	})
}
