// Package otp issues and verifies email one-time passwords.
//
// All state lives in the cache under per-identity keys with TTLs:
//
//	otp:<id>               current code              CodeTTL
//	otp_cooldown:<id>      resend cooldown flag      Cooldown
//	otp_request_count:<id> issuance counter          RequestWindow (reset on each request)
//	otp_spam_lock:<id>     too many requests         SpamLockTTL
//	otp_attempts:<id>      failed verify counter     FailedAttemptTTL
//	otp_lock:<id>          too many failed verifies  LockTTL
//
// Nothing is deleted explicitly except the code and attempt counter on a
// successful verify or on lockout.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/MGallo-Code/kiosk/internal/apperr"
	"github.com/MGallo-Code/kiosk/internal/mail"
	"github.com/MGallo-Code/kiosk/internal/store"
)

// Cache is the key/value surface the OTP flow needs.
// Satisfied by *store.RedisCache.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
	SetAll(ctx context.Context, entries ...store.CacheEntry) error
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Policy holds the TTLs and thresholds. DefaultPolicy matches the storefront clients.
type Policy struct {
	CodeTTL           time.Duration
	Cooldown          time.Duration
	RequestWindow     time.Duration
	SpamThreshold     int64 // requests allowed per window; the next one spam-locks
	SpamLockTTL       time.Duration
	MaxFailedAttempts int64 // wrong codes before the identity is locked
	FailedAttemptTTL  time.Duration
	LockTTL           time.Duration
}

// DefaultPolicy returns the production policy.
func DefaultPolicy() Policy {
	return Policy{
		CodeTTL:           5 * time.Minute,
		Cooldown:          time.Minute,
		RequestWindow:     time.Hour,
		SpamThreshold:     2,
		SpamLockTTL:       time.Hour,
		MaxFailedAttempts: 3,
		FailedAttemptTTL:  5 * time.Minute,
		LockTTL:           30 * time.Minute,
	}
}

// Client-visible rejections.
var (
	ErrLocked           = apperr.New(apperr.RateLimit, "Account locked due to multiple failed attempts. Try again after 30 minutes.")
	ErrSpamLocked       = apperr.New(apperr.RateLimit, "Too many OTP requests. Please wait 1 hour before requesting again.")
	ErrCooldown         = apperr.New(apperr.RateLimit, "Please wait 1 minute before requesting a new OTP.")
	ErrInvalidOrExpired = apperr.New(apperr.Validation, "Invalid or expired OTP.")
	ErrLockedAfterFails = apperr.New(apperr.RateLimit, "Too many failed attempts. Your account is locked for 30 minutes.")
)

// Service runs the guard, recorder, issuer and verifier against one cache.
type Service struct {
	cache   Cache
	mailer  mail.Mailer
	policy  Policy
	genCode func() (string, error)
}

// NewService wires a Service. Zero-valued policy fields are not defaulted;
// pass DefaultPolicy() unless a test needs otherwise.
func NewService(cache Cache, mailer mail.Mailer, policy Policy) *Service {
	return &Service{cache: cache, mailer: mailer, policy: policy, genCode: GenerateCode}
}

// NormalizeIdentity lowercases and trims an email for use as a key namespace.
func NormalizeIdentity(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func codeKey(id string) string         { return "otp:" + id }
func cooldownKey(id string) string     { return "otp_cooldown:" + id }
func requestCountKey(id string) string { return "otp_request_count:" + id }
func spamLockKey(id string) string     { return "otp_spam_lock:" + id }
func attemptsKey(id string) string     { return "otp_attempts:" + id }
func lockKey(id string) string         { return "otp_lock:" + id }

// GenerateCode returns a uniformly random code in [100000, 999999].
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generating otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// CheckEligibility rejects identity if it is locked, spam-locked or cooling down,
// checked in that order. Read-only.
func (s *Service) CheckEligibility(ctx context.Context, identity string) error {
	checks := []struct {
		key string
		err *apperr.Error
	}{
		{lockKey(identity), ErrLocked},
		{spamLockKey(identity), ErrSpamLocked},
		{cooldownKey(identity), ErrCooldown},
	}
	for _, c := range checks {
		set, err := s.cache.Exists(ctx, c.key)
		if err != nil {
			return apperr.Unavailable(err)
		}
		if set {
			return c.err
		}
	}
	return nil
}

// RecordRequest counts an OTP request. The counter's TTL is reset on every call.
// Once the count passes SpamThreshold the identity is spam-locked and the request rejected.
func (s *Service) RecordRequest(ctx context.Context, identity string) error {
	n, err := s.cache.IncrWithTTL(ctx, requestCountKey(identity), s.policy.RequestWindow)
	if err != nil {
		return apperr.Unavailable(err)
	}
	if n > s.policy.SpamThreshold {
		if err := s.cache.Set(ctx, spamLockKey(identity), "locked", s.policy.SpamLockTTL); err != nil {
			return apperr.Unavailable(err)
		}
		slog.WarnContext(ctx, "otp spam lock set", "identity", identity, "requests", n)
		return ErrSpamLocked
	}
	return nil
}

// Issue generates a code, mails it with templateID, then stores the code and cooldown.
// Nothing is stored when the mailer fails, so a failed send does not block a resend.
func (s *Service) Issue(ctx context.Context, identity, name, templateID string) error {
	code, err := s.genCode()
	if err != nil {
		return err
	}

	err = s.mailer.SendTemplate(ctx, identity, "", templateID, map[string]string{
		"name": name,
		"otp":  code,
	})
	if err != nil {
		return apperr.Unavailable(fmt.Errorf("sending otp mail: %w", err))
	}

	err = s.cache.SetAll(ctx,
		store.CacheEntry{Key: codeKey(identity), Value: code, TTL: s.policy.CodeTTL},
		store.CacheEntry{Key: cooldownKey(identity), Value: "true", TTL: s.policy.Cooldown},
	)
	if err != nil {
		return apperr.Unavailable(err)
	}
	return nil
}

// Hold sets the resend cooldown without sending or storing a code. Flows that
// must not reveal whether an account exists call it where Issue would have run.
func (s *Service) Hold(ctx context.Context, identity string) error {
	if err := s.cache.Set(ctx, cooldownKey(identity), "true", s.policy.Cooldown); err != nil {
		return apperr.Unavailable(err)
	}
	return nil
}

// Request runs CheckEligibility, RecordRequest and Issue in order.
func (s *Service) Request(ctx context.Context, identity, name, templateID string) error {
	if err := s.CheckEligibility(ctx, identity); err != nil {
		return err
	}
	if err := s.RecordRequest(ctx, identity); err != nil {
		return err
	}
	return s.Issue(ctx, identity, name, templateID)
}

// Verify checks code against the stored OTP for identity.
// A match consumes the code. A mismatch counts a failed attempt; reaching
// MaxFailedAttempts writes the account lock and discards the code.
func (s *Service) Verify(ctx context.Context, identity, code string) error {
	stored, err := s.cache.Get(ctx, codeKey(identity))
	if err != nil {
		if errors.Is(err, store.ErrCacheMiss) {
			return ErrInvalidOrExpired
		}
		return apperr.Unavailable(err)
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(code)) == 1 {
		if err := s.cache.Del(ctx, codeKey(identity), attemptsKey(identity)); err != nil {
			// Code matched; a stale key only lives until its TTL.
			slog.WarnContext(ctx, "failed to clear otp after verify", "identity", identity, "error", err)
		}
		return nil
	}

	n, err := s.cache.IncrWithTTL(ctx, attemptsKey(identity), s.policy.FailedAttemptTTL)
	if err != nil {
		return apperr.Unavailable(err)
	}
	if n >= s.policy.MaxFailedAttempts {
		if err := s.cache.Set(ctx, lockKey(identity), "locked", s.policy.LockTTL); err != nil {
			return apperr.Unavailable(err)
		}
		if err := s.cache.Del(ctx, codeKey(identity), attemptsKey(identity)); err != nil {
			slog.WarnContext(ctx, "failed to clear otp after lock", "identity", identity, "error", err)
		}
		slog.WarnContext(ctx, "otp verify lock set", "identity", identity)
		return ErrLockedAfterFails
	}

	left := s.policy.MaxFailedAttempts - n
	return apperr.New(apperr.Validation, fmt.Sprintf("Incorrect OTP. %d attempts left.", left))
}
