// models.go -- Shared domain types for the store package.
// Used by both Postgres (accounts) and Redis (OTP and reset state).
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
)

// ErrCacheMiss is returned by RedisCache.Get when the key is not in Redis.
// Callers use errors.Is to distinguish a true miss from a Redis infrastructure failure.
var ErrCacheMiss = errors.New("cache miss")

// ErrAccountNotFound is returned by account lookups when no row matches.
var ErrAccountNotFound = errors.New("account not found")

// ErrDuplicateEmail is returned by CreateUser/CreateSeller on a unique email violation.
var ErrDuplicateEmail = errors.New("email already registered")

// Role is the closed set of principals an access token can name.
type Role string

const (
	RoleUser   Role = "user"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

// ParseRole validates s against the known roles.
// Anything outside the set is rejected so unknown strings never reach a table lookup.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser, RoleSeller, RoleAdmin:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// User represents a row in the users table (buyers and admins).
type User struct {
	ID           uuid.UUID
	Name         string
	Email        string
	PasswordHash *string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Seller represents a row in the sellers table.
// StripeAccountID is nil until payment onboarding completes.
type Seller struct {
	ID              uuid.UUID
	Name            string
	Email           string
	PhoneNumber     string
	Country         string
	PasswordHash    string
	StripeAccountID *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Account is the role-tagged projection the auth guard attaches to a request.
// Never carries a password hash.
type Account struct {
	ID        uuid.UUID `json:"id"`
	Role      Role      `json:"role"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Account projects u for the request context.
func (u *User) Account() *Account {
	return &Account{ID: u.ID, Role: u.Role, Name: u.Name, Email: u.Email, CreatedAt: u.CreatedAt}
}

// Account projects s for the request context.
func (s *Seller) Account() *Account {
	return &Account{ID: s.ID, Role: RoleSeller, Name: s.Name, Email: s.Email, CreatedAt: s.CreatedAt}
}
