// signup_handler.go -- Buyer and seller signup: request an OTP, then verify and create.
package auth

import (
	"errors"
	"net/http"

	"github.com/gofrs/uuid/v5"

	"github.com/MGallo-Code/kiosk/internal/apperr"
	"github.com/MGallo-Code/kiosk/internal/store"
	"github.com/MGallo-Code/kiosk/internal/token"
)

const otpSentMsg = "OTP sent to email. Please verify your account."

var (
	errUserExists   = apperr.New(apperr.Conflict, "User already exists")
	errSellerExists = apperr.New(apperr.Conflict, "Seller already exists with this email")
)

type signupInput struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	PhoneNumber  string `json:"phone_number"`
	Country      string `json:"country"`
	CaptchaToken string `json:"captcha_token"`
}

// validate checks every field for role. Sellers also need phone and country.
func (h *AuthHandler) validateSignup(role store.Role, in *signupInput) error {
	in.Email = normalizeEmail(in.Email)
	if err := validationError(ValidateName(in.Name), ValidateEmail(in.Email)); err != nil {
		return err
	}
	if role == store.RoleSeller {
		if err := validationError(ValidatePhone(in.PhoneNumber), ValidateCountry(in.Country)); err != nil {
			return err
		}
	}
	return h.checkPassword(in.Password)
}

// requestSignupOTP is the shared body of Signup and SellerSendOTP.
func (h *AuthHandler) requestSignupOTP(w http.ResponseWriter, r *http.Request, role store.Role) {
	var in signupInput
	if err := decodeJSON(w, r, &in); err != nil {
		WriteError(w, r, err)
		return
	}
	if err := h.validateSignup(role, &in); err != nil {
		WriteError(w, r, err)
		return
	}
	if err := h.verifyCaptcha(r, in.CaptchaToken); err != nil {
		WriteError(w, r, err)
		return
	}

	// Existing account: reject before any OTP state is touched.
	_, err := h.lookupByEmail(r.Context(), role, in.Email)
	switch {
	case err == nil:
		logInfo(r, "signup attempted with existing email", "role", role)
		if role == store.RoleSeller {
			WriteError(w, r, errSellerExists)
		} else {
			WriteError(w, r, errUserExists)
		}
		return
	case !errors.Is(err, store.ErrAccountNotFound):
		InternalServerError(w, r, err)
		return
	}

	if err := h.OTP.CheckEligibility(r.Context(), in.Email); err != nil {
		WriteError(w, r, err)
		return
	}
	if err := h.OTP.RecordRequest(r.Context(), in.Email); err != nil {
		WriteError(w, r, err)
		return
	}

	tmpl := templateUserActivation
	if role == store.RoleSeller {
		tmpl = templateSellerActivation
	}
	if err := h.OTP.Issue(r.Context(), in.Email, in.Name, tmpl); err != nil {
		WriteError(w, r, err)
		return
	}

	logInfo(r, "signup otp issued", "role", role)
	OK(w, otpSentMsg)
}

// Signup handles POST /signup -- validates a buyer and emails an activation OTP.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	h.requestSignupOTP(w, r, store.RoleUser)
}

// SellerSendOTP handles POST /seller/send-seller-otp.
func (h *AuthHandler) SellerSendOTP(w http.ResponseWriter, r *http.Request) {
	h.requestSignupOTP(w, r, store.RoleSeller)
}

type verifyInput struct {
	signupInput
	OTP string `json:"otp"`
}

// verifyAndCreate is the shared body of SignupVerify and SellerVerifyCreate.
// On success the new account is logged in: both auth cookies are set.
func (h *AuthHandler) verifyAndCreate(w http.ResponseWriter, r *http.Request, role store.Role) {
	var in verifyInput
	if err := decodeJSON(w, r, &in); err != nil {
		WriteError(w, r, err)
		return
	}
	if in.OTP == "" {
		WriteError(w, r, apperr.New(apperr.Validation, "OTP is required"))
		return
	}
	if err := h.validateSignup(role, &in.signupInput); err != nil {
		WriteError(w, r, err)
		return
	}

	if err := h.OTP.Verify(r.Context(), in.Email, in.OTP); err != nil {
		WriteError(w, r, err)
		return
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	id, err := uuid.NewV7()
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	var acct *store.Account
	if role == store.RoleSeller {
		s := &store.Seller{
			ID:           id,
			Name:         in.Name,
			Email:        in.Email,
			PhoneNumber:  in.PhoneNumber,
			Country:      in.Country,
			PasswordHash: hash,
		}
		err = h.Accounts.CreateSeller(r.Context(), s)
		acct = s.Account()
	} else {
		err = h.Accounts.CreateUser(r.Context(), id, in.Name, in.Email, hash)
		acct = &store.Account{ID: id, Role: store.RoleUser, Name: in.Name, Email: in.Email}
	}
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			if role == store.RoleSeller {
				WriteError(w, r, errSellerExists)
			} else {
				WriteError(w, r, errUserExists)
			}
			return
		}
		logError(r, "failed to create account", "role", role, "error", err)
		InternalServerError(w, r, err)
		return
	}

	h.publishCreated(r, acct)

	pair, err := h.Tokens.IssuePair(acct)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	token.SetAuthCookies(w, pair, h.SecureCookies)

	logInfo(r, "account created", "role", role, "account_id", acct.ID)
	msg := "User created successfully"
	if role == store.RoleSeller {
		msg = "Seller created successfully"
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": msg,
		roleKey(role): map[string]string{
			"id":    acct.ID.String(),
			"name":  acct.Name,
			"email": acct.Email,
		},
	})
}

// SignupVerify handles POST /signup/verify.
func (h *AuthHandler) SignupVerify(w http.ResponseWriter, r *http.Request) {
	h.verifyAndCreate(w, r, store.RoleUser)
}

// SellerVerifyCreate handles POST /seller/verify-create-seller.
func (h *AuthHandler) SellerVerifyCreate(w http.ResponseWriter, r *http.Request) {
	h.verifyAndCreate(w, r, store.RoleSeller)
}
