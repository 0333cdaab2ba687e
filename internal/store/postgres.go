// Package store handles all database and cache interactions.
//
// postgres.go -- pgxpool connection setup and account queries.
// Creates a connection pool at startup, shared across all handlers.
// All queries use parameterized statements (no string concatenation).
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// The store used by program to connect with Postgres db
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a verified connection pool to PostgreSQL wrapped in a store.
// Call once at startup from main.go...the returned store is safe for concurrent use.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	// Create a pool w/ database url, return if err
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	// Ping db to make sure connection works
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool}, nil
}

// Close shuts down the connection pool and releases all resources.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// CheckHealth pings Postgres.
func (s *PostgresStore) CheckHealth(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateUser inserts a buyer (role 'user').
// The caller generates the UUID v7 and Argon2id hash BEFORE calling this.
// Returns ErrDuplicateEmail on unique violation.
func (s *PostgresStore) CreateUser(ctx context.Context, id uuid.UUID, name, email, passwordHash string) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO users (id, name, email, password_hash, role) VALUES ($1, $2, $3, $4, 'user')",
		id, name, email, passwordHash)
	return mapInsertErr(err)
}

// GetUserByEmail fetches a user or admin row by email.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, email, password_hash, role, created_at, updated_at
		FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// GetUserByID fetches a user or admin row by id.
func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, email, password_hash, role, created_at, updated_at
		FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// CreateSeller inserts a seller row. StripeAccountID is left NULL.
// Returns ErrDuplicateEmail on unique violation.
func (s *PostgresStore) CreateSeller(ctx context.Context, seller *Seller) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sellers (id, name, email, phone_number, country, password_hash)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		seller.ID, seller.Name, seller.Email, seller.PhoneNumber, seller.Country, seller.PasswordHash)
	return mapInsertErr(err)
}

// GetSellerByEmail fetches a seller by email.
func (s *PostgresStore) GetSellerByEmail(ctx context.Context, email string) (*Seller, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, email, phone_number, country, password_hash, stripe_account_id, created_at, updated_at
		FROM sellers WHERE email = $1`, email)
	return scanSeller(row)
}

// GetSellerByID fetches a seller by id.
func (s *PostgresStore) GetSellerByID(ctx context.Context, id uuid.UUID) (*Seller, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, email, phone_number, country, password_hash, stripe_account_id, created_at, updated_at
		FROM sellers WHERE id = $1`, id)
	return scanSeller(row)
}

// FindAccount loads the projection for (role, id).
// Buyer and admin rows share the users table; the role column must match the token's role,
// so a buyer token can never resolve to an admin row.
func (s *PostgresStore) FindAccount(ctx context.Context, role Role, id uuid.UUID) (*Account, error) {
	switch role {
	case RoleUser, RoleAdmin:
		u, err := s.GetUserByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if u.Role != role {
			return nil, ErrAccountNotFound
		}
		return u.Account(), nil
	case RoleSeller:
		sl, err := s.GetSellerByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return sl.Account(), nil
	}
	return nil, fmt.Errorf("finding account: unknown role %q", role)
}

// UpdatePassword sets password_hash for the account identified by (role, id).
// Returns ErrAccountNotFound if no row was updated.
func (s *PostgresStore) UpdatePassword(ctx context.Context, role Role, id uuid.UUID, passwordHash string) error {
	var query string
	switch role {
	case RoleUser, RoleAdmin:
		query = "UPDATE users SET password_hash = $1, updated_at = NOW() WHERE id = $2"
	case RoleSeller:
		query = "UPDATE sellers SET password_hash = $1, updated_at = NOW() WHERE id = $2"
	default:
		return fmt.Errorf("updating password: unknown role %q", role)
	}
	tag, err := s.pool.Exec(ctx, query, passwordHash, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var role string
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	if u.Role, err = ParseRole(role); err != nil {
		return nil, err
	}
	return &u, nil
}

func scanSeller(row pgx.Row) (*Seller, error) {
	var sl Seller
	err := row.Scan(&sl.ID, &sl.Name, &sl.Email, &sl.PhoneNumber, &sl.Country,
		&sl.PasswordHash, &sl.StripeAccountID, &sl.CreatedAt, &sl.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &sl, nil
}

// mapInsertErr translates a unique violation (23505) into ErrDuplicateEmail.
func mapInsertErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateEmail
	}
	return err
}
