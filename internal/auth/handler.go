// handler.go -- AuthHandler, its dependencies, and helpers shared by all handlers.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/MGallo-Code/kiosk/internal/apperr"
	"github.com/MGallo-Code/kiosk/internal/captcha"
	"github.com/MGallo-Code/kiosk/internal/events"
	"github.com/MGallo-Code/kiosk/internal/otp"
	"github.com/MGallo-Code/kiosk/internal/store"
	"github.com/MGallo-Code/kiosk/internal/token"
)

// AccountStore defines database operations needed by auth handlers.
// Satisfied by *store.PostgresStore.
type AccountStore interface {
	CheckHealth(ctx context.Context) error

	// CreateUser inserts a buyer. Returns store.ErrDuplicateEmail on conflict.
	CreateUser(ctx context.Context, id uuid.UUID, name, email, passwordHash string) error
	// GetUserByEmail returns user or admin rows. store.ErrAccountNotFound when absent.
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)

	// CreateSeller inserts a seller. Returns store.ErrDuplicateEmail on conflict.
	CreateSeller(ctx context.Context, seller *store.Seller) error
	GetSellerByEmail(ctx context.Context, email string) (*store.Seller, error)

	// FindAccount loads the principal for (role, id). store.ErrAccountNotFound when absent.
	FindAccount(ctx context.Context, role store.Role, id uuid.UUID) (*store.Account, error)

	UpdatePassword(ctx context.Context, role store.Role, id uuid.UUID, passwordHash string) error
}

// OTPFlow is the one-time-password lifecycle. Satisfied by *otp.Service.
type OTPFlow interface {
	CheckEligibility(ctx context.Context, identity string) error
	RecordRequest(ctx context.Context, identity string) error
	Issue(ctx context.Context, identity, name, templateID string) error
	// Hold sets the cooldown Issue would have set, without mailing.
	Hold(ctx context.Context, identity string) error
	Verify(ctx context.Context, identity, code string) error
}

// TicketCache stores password reset tickets. Satisfied by *store.RedisCache.
type TicketCache interface {
	CheckHealth(ctx context.Context) error
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	GetDel(ctx context.Context, key string) (string, error)
}

// Mail template ids sent by this service.
const (
	templateUserActivation   = "user-activation-mail"
	templateSellerActivation = "seller-activation-mail"
	templateForgotPassword   = "forgot-password-mail"
)

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 1 << 20

// AuthHandler holds dependencies for every HTTP handler and the auth guard.
type AuthHandler struct {
	Accounts AccountStore
	OTP      OTPFlow
	Tokens   *token.Manager
	Tickets  TicketCache

	// Events receives account.<role>.created. Nil disables publishing.
	Events events.Publisher
	// Captcha gates signup OTP requests. Nil disables the check.
	Captcha captcha.Verifier

	// SecureCookies marks auth cookies Secure (production).
	SecureCookies bool
	// Passwords is the complexity policy; zero value means DefaultPasswordPolicy.
	Passwords PasswordPolicy
	// ResetTicketTTL bounds the gap between reset verify and reset; zero means 15 minutes.
	ResetTicketTTL time.Duration
}

func (h *AuthHandler) passwordPolicy() PasswordPolicy {
	if h.Passwords == (PasswordPolicy{}) {
		return DefaultPasswordPolicy
	}
	return h.Passwords
}

func (h *AuthHandler) resetTicketTTL() time.Duration {
	if h.ResetTicketTTL <= 0 {
		return 15 * time.Minute
	}
	return h.ResetTicketTTL
}

var errBadBody = apperr.New(apperr.Validation, "error decoding request body")

// decodeJSON reads one JSON object from r into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		logWarn(r, "failed to decode request body", "error", err)
		return errBadBody
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errBadBody
	}
	return nil
}

// validationError builds a 400 from the first non-empty message in msgs.
func validationError(msgs ...string) error {
	for _, m := range msgs {
		if m != "" {
			return apperr.New(apperr.Validation, m)
		}
	}
	return nil
}

// checkPassword applies the password policy, listing every failure in details.
func (h *AuthHandler) checkPassword(password string) error {
	failures := h.passwordPolicy().Validate(password)
	if len(failures) == 0 {
		return nil
	}
	return apperr.New(apperr.Validation, failures[0]).WithDetails(failures)
}

// normalizeEmail is the identity key used for OTP state and lookups.
func normalizeEmail(email string) string {
	return otp.NormalizeIdentity(email)
}

// clientIP strips the port from RemoteAddr (already rewritten by chi's RealIP).
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// verifyCaptcha runs the configured captcha check, if any.
func (h *AuthHandler) verifyCaptcha(r *http.Request, tokenValue string) error {
	if h.Captcha == nil {
		return nil
	}
	if err := h.Captcha.Verify(r.Context(), tokenValue, clientIP(r)); err != nil {
		logInfo(r, "captcha rejected", "error", err)
		return apperr.New(apperr.Validation, "Captcha verification failed")
	}
	return nil
}

// credentials is an account plus its stored password hash ("" when none is set).
type credentials struct {
	account *store.Account
	hash    string
}

// lookupByEmail finds the account for the route's audience. Buyer routes accept
// user and admin rows; seller routes only sellers. Returns store.ErrAccountNotFound.
func (h *AuthHandler) lookupByEmail(ctx context.Context, role store.Role, email string) (*credentials, error) {
	if role == store.RoleSeller {
		s, err := h.Accounts.GetSellerByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		return &credentials{account: s.Account(), hash: s.PasswordHash}, nil
	}
	u, err := h.Accounts.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	c := &credentials{account: u.Account()}
	if u.PasswordHash != nil {
		c.hash = *u.PasswordHash
	}
	return c, nil
}

// publishCreated emits account.<role>.created. Failures never fail the request.
func (h *AuthHandler) publishCreated(r *http.Request, acct *store.Account) {
	if h.Events == nil {
		return
	}
	if err := h.Events.Publish(r.Context(), events.AccountCreated(acct, time.Now())); err != nil {
		logWarn(r, "failed to publish account event", "error", err, "account_id", acct.ID)
	}
}

// roleKey is the JSON key the storefront expects for a principal of role.
func roleKey(role store.Role) string {
	if role == store.RoleSeller {
		return "seller"
	}
	return "user"
}

// bearerToken extracts the token from "Authorization: Bearer <t>".
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
