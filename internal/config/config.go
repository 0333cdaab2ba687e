// config.go

// Environment variable loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all env configuration vars for kiosk.
type Config struct {
	DatabaseURL string
	RedisURL    string
	Port        string
	Environment string
	LogLevel    slog.Level

	// Token signing. Secrets are required and must differ.
	AccessTokenSecret  string
	RefreshTokenSecret string
	AccessTokenTTL     time.Duration // default 15m
	RefreshTokenTTL    time.Duration // default 168h

	// SMTP configuration for outbound email. All optional -- empty Host disables sending.
	SMTPHost        string
	SMTPPort        string // defaults to 587
	SMTPUsername    string
	SMTPPassword    string
	SMTPFromAddress string
	// MailQueue routes mail through the Redis queue worker. Defaults to true when SMTP is set.
	MailQueue bool

	// AMQPURL enables account events over RabbitMQ. Empty disables publishing.
	AMQPURL string

	// Turnstile CAPTCHA on signup. Empty secret disables the check.
	TurnstileSecret   string
	TurnstileHostname string

	// OTP policy. Defaults match the storefront clients' copy ("wait 1 minute", "30 minutes").
	OTPCodeTTL       time.Duration
	OTPCooldown      time.Duration
	OTPRequestWindow time.Duration
	OTPSpamLockTTL   time.Duration
	OTPLockTTL       time.Duration
	OTPSpamThreshold int
	OTPMaxAttempts   int

	// CORSOrigins lists browser origins allowed to call with credentials.
	CORSOrigins []string
}

// Production reports whether cookies must be marked Secure.
func (c *Config) Production() bool {
	return c.Environment == "production"
}

// LoadConfig reads environment variables and returns a validated Config.
// Returns an error if required variables are missing or the token secrets collide.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	cfg.AccessTokenSecret = os.Getenv("ACCESS_TOKEN_SECRET")
	cfg.RefreshTokenSecret = os.Getenv("REFRESH_TOKEN_SECRET")
	if cfg.AccessTokenSecret == "" || cfg.RefreshTokenSecret == "" {
		return nil, fmt.Errorf("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET are required")
	}
	if cfg.AccessTokenSecret == cfg.RefreshTokenSecret {
		return nil, fmt.Errorf("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ")
	}

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "7866"
	}

	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	// Parse log level, default to info
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	cfg.AccessTokenTTL = envDuration("ACCESS_TOKEN_TTL", 15*time.Minute)
	cfg.RefreshTokenTTL = envDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour)
	if cfg.AccessTokenTTL >= cfg.RefreshTokenTTL {
		return nil, fmt.Errorf("ACCESS_TOKEN_TTL (%s) must be shorter than REFRESH_TOKEN_TTL (%s)",
			cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	}

	// SMTP -- all optional; empty Host means no email sending (NopMailer).
	cfg.SMTPHost = os.Getenv("SMTP_HOST")
	cfg.SMTPPort = os.Getenv("SMTP_PORT")
	if cfg.SMTPPort == "" {
		cfg.SMTPPort = "587"
	}
	cfg.SMTPUsername = os.Getenv("SMTP_USERNAME")
	cfg.SMTPPassword = os.Getenv("SMTP_PASSWORD")
	cfg.SMTPFromAddress = os.Getenv("SMTP_FROM")
	if cfg.SMTPHost != "" && cfg.SMTPFromAddress == "" {
		return nil, fmt.Errorf("SMTP_FROM must be set when SMTP_HOST is set")
	}
	cfg.MailQueue = envBool("MAIL_QUEUE", cfg.SMTPHost != "")

	cfg.AMQPURL = os.Getenv("AMQP_URL")

	cfg.TurnstileSecret = os.Getenv("TURNSTILE_SECRET")
	cfg.TurnstileHostname = os.Getenv("TURNSTILE_HOSTNAME")

	cfg.OTPCodeTTL = envDuration("OTP_CODE_TTL", 5*time.Minute)
	cfg.OTPCooldown = envDuration("OTP_COOLDOWN", time.Minute)
	cfg.OTPRequestWindow = envDuration("OTP_REQUEST_WINDOW", time.Hour)
	cfg.OTPSpamLockTTL = envDuration("OTP_SPAM_LOCK_TTL", time.Hour)
	cfg.OTPLockTTL = envDuration("OTP_LOCK_TTL", 30*time.Minute)
	cfg.OTPSpamThreshold = envInt("OTP_SPAM_THRESHOLD", 2)
	cfg.OTPMaxAttempts = envInt("OTP_MAX_ATTEMPTS", 3)

	for _, o := range strings.Split(os.Getenv("CORS_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}

	return cfg, nil
}

// envInt reads an env var as int, returning def if missing or unparseable.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

// envDuration reads an env var as time.Duration, returning def if missing or unparseable.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

// envBool reads an env var as bool, returning def if missing or unparseable.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}
