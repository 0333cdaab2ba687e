// Package token issues and parses the access/refresh JWT pair and writes them as cookies.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MGallo-Code/kiosk/internal/store"
)

// Issuer is stamped into every token and required on parse.
const Issuer = "kiosk"

// ErrInvalidToken wraps every parse failure: bad signature, expiry, wrong issuer, missing claims.
var ErrInvalidToken = errors.New("invalid token")

// Config configures a Manager. Secrets must be non-empty and distinct.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// Claims carried by both token kinds. Email is only set on refresh tokens.
type Claims struct {
	ID    string     `json:"id"`
	Role  store.Role `json:"role"`
	Email string     `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Pair is a freshly issued access/refresh pair with the TTLs used to sign them.
type Pair struct {
	Access     string
	Refresh    string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Manager signs and verifies tokens with HS256.
type Manager struct {
	cfg Config
	now func() time.Time
}

// NewManager validates cfg. Misconfiguration is fatal at startup.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("token secrets must be set")
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token TTLs must be positive")
	}
	if cfg.AccessTTL >= cfg.RefreshTTL {
		return nil, fmt.Errorf("access TTL %s must be shorter than refresh TTL %s", cfg.AccessTTL, cfg.RefreshTTL)
	}
	return &Manager{cfg: cfg, now: time.Now}, nil
}

// AccessTTL returns the configured access token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.cfg.AccessTTL }

func (m *Manager) sign(secret []byte, ttl time.Duration, id string, role store.Role, email string) (string, error) {
	now := m.now()
	claims := Claims{
		ID:    id,
		Role:  role,
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   id,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// IssueAccess signs a short-lived access token for (id, role).
func (m *Manager) IssueAccess(id string, role store.Role) (string, error) {
	return m.sign(m.cfg.AccessSecret, m.cfg.AccessTTL, id, role, "")
}

// IssueRefresh signs a refresh token for (id, role, email).
func (m *Manager) IssueRefresh(id string, role store.Role, email string) (string, error) {
	return m.sign(m.cfg.RefreshSecret, m.cfg.RefreshTTL, id, role, email)
}

// IssuePair signs both tokens for acct.
func (m *Manager) IssuePair(acct *store.Account) (Pair, error) {
	id := acct.ID.String()
	access, err := m.IssueAccess(id, acct.Role)
	if err != nil {
		return Pair{}, fmt.Errorf("signing access token: %w", err)
	}
	refresh, err := m.IssueRefresh(id, acct.Role, acct.Email)
	if err != nil {
		return Pair{}, fmt.Errorf("signing refresh token: %w", err)
	}
	return Pair{Access: access, Refresh: refresh, AccessTTL: m.cfg.AccessTTL, RefreshTTL: m.cfg.RefreshTTL}, nil
}

// ParseAccess verifies an access token.
func (m *Manager) ParseAccess(raw string) (*Claims, error) {
	return m.parse(raw, m.cfg.AccessSecret)
}

// ParseRefresh verifies a refresh token. Access tokens fail here since the secrets differ.
func (m *Manager) ParseRefresh(raw string) (*Claims, error) {
	return m.parse(raw, m.cfg.RefreshSecret)
}

func (m *Manager) parse(raw string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(Issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.ID == "" || claims.Role == "" {
		return nil, fmt.Errorf("%w: missing id or role", ErrInvalidToken)
	}
	if _, err := store.ParseRole(string(claims.Role)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}
