// middleware.go

// Access token authentication middleware.
package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"

	"github.com/gofrs/uuid/v5"

	"github.com/MGallo-Code/kiosk/internal/apperr"
	"github.com/MGallo-Code/kiosk/internal/store"
	"github.com/MGallo-Code/kiosk/internal/token"
)

// contextKey is unexported to prevent collisions with other packages using the same context.
type contextKey string

const accountKey contextKey = "account"

var (
	errTokenMissing    = apperr.New(apperr.Authentication, "Unauthorized! Token missing.")
	errTokenInvalid    = apperr.New(apperr.Authentication, "Unauthorized! Invalid token.")
	errAccessDenied    = apperr.New(apperr.Forbidden, "Access denied")
	errAccountNotFound = apperr.New(apperr.Authentication, "Account not found")
)

// AccountFromContext retrieves the authenticated principal.
// Returns nil and false if RequireAuth hasn't run.
func AccountFromContext(ctx context.Context) (*store.Account, bool) {
	acct, ok := ctx.Value(accountKey).(*store.Account)
	return acct, ok
}

// RoleFromContext retrieves the authenticated principal's role.
func RoleFromContext(ctx context.Context) (store.Role, bool) {
	acct, ok := AccountFromContext(ctx)
	if !ok {
		return "", false
	}
	return acct.Role, true
}

// accessToken reads the access cookie, falling back to a Bearer header.
// A non-empty cookie wins when both are present.
func accessToken(r *http.Request) string {
	if c, err := r.Cookie(token.AccessCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return bearerToken(r)
}

// RequireAuth admits requests carrying a valid access token, then loads the
// account and injects it into context. With roles given, other roles get 403.
func (h *AuthHandler) RequireAuth(roles ...store.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := accessToken(r)
			if raw == "" {
				logDebug(r, "require auth failed", "reason", "missing_token")
				WriteError(w, r, errTokenMissing)
				return
			}

			claims, err := h.Tokens.ParseAccess(raw)
			if err != nil {
				logInfo(r, "require auth failed", "reason", "invalid_token", "error", err)
				WriteError(w, r, errTokenInvalid)
				return
			}
			id, err := uuid.FromString(claims.ID)
			if err != nil {
				logWarn(r, "require auth failed", "reason", "malformed_subject")
				WriteError(w, r, errTokenInvalid)
				return
			}

			if len(roles) > 0 && !slices.Contains(roles, claims.Role) {
				logInfo(r, "require auth failed", "reason", "role_not_allowed", "role", claims.Role)
				WriteError(w, r, errAccessDenied)
				return
			}

			acct, err := h.Accounts.FindAccount(r.Context(), claims.Role, id)
			if err != nil {
				if errors.Is(err, store.ErrAccountNotFound) {
					logWarn(r, "require auth failed", "reason", "account_not_found", "account_id", id)
					WriteError(w, r, errAccountNotFound)
					return
				}
				InternalServerError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), accountKey, acct)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
