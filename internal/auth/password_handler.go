// password_handler.go -- Forgot-password flow: request an OTP, trade it for a reset ticket,
// spend the ticket on a new password.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/MGallo-Code/kiosk/internal/apperr"
	"github.com/MGallo-Code/kiosk/internal/store"
)

const resetRequestMsg = "If that email is registered, an OTP has been sent."

var (
	errResetTicket  = apperr.New(apperr.Validation, "Invalid or expired reset token")
	errSamePassword = apperr.New(apperr.Validation, "New password cannot be the same as the old password")
)

// ticketKey is the cache key for a reset ticket. Only the hash is stored.
func ticketKey(ticket string) string {
	sum := sha256.Sum256([]byte(ticket))
	return "reset_ticket:" + hex.EncodeToString(sum[:])
}

// ForgotPasswordRequest handles POST /forgot-password/request and its seller twin.
// Rate limits apply before lookup, and the response never reveals whether the email exists.
func (h *AuthHandler) ForgotPasswordRequest(role store.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Email string `json:"email"`
		}
		if err := decodeJSON(w, r, &in); err != nil {
			WriteError(w, r, err)
			return
		}
		email := normalizeEmail(in.Email)
		if err := validationError(ValidateEmail(email)); err != nil {
			WriteError(w, r, err)
			return
		}

		if err := h.OTP.CheckEligibility(r.Context(), email); err != nil {
			WriteError(w, r, err)
			return
		}
		if err := h.OTP.RecordRequest(r.Context(), email); err != nil {
			WriteError(w, r, err)
			return
		}

		creds, err := h.lookupByEmail(r.Context(), role, email)
		if err != nil {
			if !errors.Is(err, store.ErrAccountNotFound) {
				logError(r, "failed to look up account for reset", "error", err)
			} else {
				logInfo(r, "password reset requested for unknown email", "role", role)
			}
			h.holdReset(r, email)
			OK(w, resetRequestMsg)
			return
		}

		if err := h.OTP.Issue(r.Context(), email, creds.account.Name, templateForgotPassword); err != nil {
			logError(r, "failed to issue reset otp", "error", err, "account_id", creds.account.ID)
			h.holdReset(r, email)
			OK(w, resetRequestMsg)
			return
		}

		logInfo(r, "password reset otp issued", "account_id", creds.account.ID)
		OK(w, resetRequestMsg)
	}
}

// holdReset leaves the cooldown a successful send would have left, so a
// repeated request answers the same for every email.
func (h *AuthHandler) holdReset(r *http.Request, email string) {
	if err := h.OTP.Hold(r.Context(), email); err != nil {
		logWarn(r, "failed to set reset cooldown", "error", err)
	}
}

// ForgotPasswordVerify handles POST /forgot-password/verify.
// A valid OTP is exchanged for a single-use reset ticket.
func (h *AuthHandler) ForgotPasswordVerify(role store.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Email string `json:"email"`
			OTP   string `json:"otp"`
		}
		if err := decodeJSON(w, r, &in); err != nil {
			WriteError(w, r, err)
			return
		}
		email := normalizeEmail(in.Email)
		if email == "" || in.OTP == "" {
			WriteError(w, r, apperr.New(apperr.Validation, "Email and OTP are required"))
			return
		}

		if err := h.OTP.Verify(r.Context(), email, in.OTP); err != nil {
			WriteError(w, r, err)
			return
		}

		var raw [32]byte
		if _, err := rand.Read(raw[:]); err != nil {
			InternalServerError(w, r, err)
			return
		}
		ticket := base64.RawURLEncoding.EncodeToString(raw[:])

		if err := h.Tickets.Set(r.Context(), ticketKey(ticket), string(role)+":"+email, h.resetTicketTTL()); err != nil {
			WriteError(w, r, apperr.Unavailable(err))
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"reset_token": ticket})
	}
}

// ForgotPasswordReset handles POST /forgot-password/reset.
// The ticket is consumed before the password is compared, so any outcome past
// that point requires a new OTP.
func (h *AuthHandler) ForgotPasswordReset(role store.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			ResetToken  string `json:"reset_token"`
			NewPassword string `json:"new_password"`
		}
		if err := decodeJSON(w, r, &in); err != nil {
			WriteError(w, r, err)
			return
		}
		if in.ResetToken == "" {
			WriteError(w, r, errResetTicket)
			return
		}
		if err := h.checkPassword(in.NewPassword); err != nil {
			WriteError(w, r, err)
			return
		}

		val, err := h.Tickets.GetDel(r.Context(), ticketKey(in.ResetToken))
		if err != nil {
			if errors.Is(err, store.ErrCacheMiss) {
				WriteError(w, r, errResetTicket)
				return
			}
			WriteError(w, r, apperr.Unavailable(err))
			return
		}
		ticketRole, email, ok := strings.Cut(val, ":")
		if !ok || store.Role(ticketRole) != role {
			logWarn(r, "reset ticket used on wrong route", "ticket_role", ticketRole, "route_role", role)
			WriteError(w, r, errResetTicket)
			return
		}

		creds, err := h.lookupByEmail(r.Context(), role, email)
		if err != nil {
			if errors.Is(err, store.ErrAccountNotFound) {
				WriteError(w, r, errResetTicket)
				return
			}
			InternalServerError(w, r, err)
			return
		}

		if creds.hash != "" {
			same, err := VerifyPassword(in.NewPassword, creds.hash)
			if err != nil {
				InternalServerError(w, r, err)
				return
			}
			if same {
				WriteError(w, r, errSamePassword)
				return
			}
		}

		hash, err := HashPassword(in.NewPassword)
		if err != nil {
			InternalServerError(w, r, err)
			return
		}
		if err := h.Accounts.UpdatePassword(r.Context(), creds.account.Role, creds.account.ID, hash); err != nil {
			InternalServerError(w, r, err)
			return
		}

		logInfo(r, "password reset", "account_id", creds.account.ID)
		OK(w, "Password reset successfully")
	}
}
