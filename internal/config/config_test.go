package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// setRequired sets the minimum required env vars for a valid config.
func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/kiosk")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("ACCESS_TOKEN_SECRET", "access-secret")
	t.Setenv("REFRESH_TOKEN_SECRET", "refresh-secret")
}

// --- LoadConfig ---

func TestLoadConfig(t *testing.T) {
	t.Run("returns valid config with all required vars", func(t *testing.T) {
		setRequired(t)

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.DatabaseURL != "postgres://localhost/kiosk" {
			t.Errorf("DatabaseURL: got %q", cfg.DatabaseURL)
		}
		if cfg.RedisURL != "redis://localhost:6379" {
			t.Errorf("RedisURL: got %q", cfg.RedisURL)
		}
	})

	missing := []string{"DATABASE_URL", "REDIS_URL", "ACCESS_TOKEN_SECRET", "REFRESH_TOKEN_SECRET"}
	for _, key := range missing {
		t.Run("errors when "+key+" is missing", func(t *testing.T) {
			setRequired(t)
			t.Setenv(key, "")
			if _, err := LoadConfig(); err == nil {
				t.Fatalf("expected error for missing %s, got nil", key)
			}
		})
	}

	t.Run("errors when token secrets are equal", func(t *testing.T) {
		setRequired(t)
		t.Setenv("REFRESH_TOKEN_SECRET", "access-secret")
		if _, err := LoadConfig(); err == nil {
			t.Fatal("expected error for equal secrets, got nil")
		}
	})

	t.Run("errors when access TTL is not shorter than refresh TTL", func(t *testing.T) {
		setRequired(t)
		t.Setenv("ACCESS_TOKEN_TTL", "2h")
		t.Setenv("REFRESH_TOKEN_TTL", "1h")
		if _, err := LoadConfig(); err == nil {
			t.Fatal("expected error for inverted TTLs, got nil")
		}
	})

	t.Run("defaults", func(t *testing.T) {
		setRequired(t)
		t.Setenv("PORT", "")
		t.Setenv("ENVIRONMENT", "")
		t.Setenv("SMTP_HOST", "")
		t.Setenv("MAIL_QUEUE", "")

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Port != "7866" {
			t.Errorf("Port: expected 7866, got %q", cfg.Port)
		}
		if cfg.Production() {
			t.Error("Production: expected false by default")
		}
		if cfg.AccessTokenTTL != 15*time.Minute || cfg.RefreshTokenTTL != 7*24*time.Hour {
			t.Errorf("token TTLs: got %s / %s", cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
		}
		if cfg.OTPCodeTTL != 5*time.Minute || cfg.OTPCooldown != time.Minute || cfg.OTPLockTTL != 30*time.Minute {
			t.Errorf("otp TTLs: got %s / %s / %s", cfg.OTPCodeTTL, cfg.OTPCooldown, cfg.OTPLockTTL)
		}
		if cfg.OTPSpamThreshold != 2 || cfg.OTPMaxAttempts != 3 {
			t.Errorf("otp thresholds: got %d / %d", cfg.OTPSpamThreshold, cfg.OTPMaxAttempts)
		}
		if cfg.MailQueue {
			t.Error("MailQueue: expected false without SMTP")
		}
	})

	t.Run("production environment", func(t *testing.T) {
		setRequired(t)
		t.Setenv("ENVIRONMENT", "Production")
		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if !cfg.Production() {
			t.Error("Production: expected true")
		}
	})

	t.Run("SMTP enables queue by default", func(t *testing.T) {
		setRequired(t)
		t.Setenv("SMTP_HOST", "smtp.kiosk.test")
		t.Setenv("SMTP_FROM", "noreply@kiosk.test")
		t.Setenv("MAIL_QUEUE", "")
		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if !cfg.MailQueue {
			t.Error("MailQueue: expected true with SMTP configured")
		}
	})

	t.Run("SMTP without from address errors", func(t *testing.T) {
		setRequired(t)
		t.Setenv("SMTP_HOST", "smtp.kiosk.test")
		t.Setenv("SMTP_FROM", "")
		if _, err := LoadConfig(); err == nil {
			t.Fatal("expected error, got nil")
		}
	})

	t.Run("CORS origins are split and trimmed", func(t *testing.T) {
		setRequired(t)
		t.Setenv("CORS_ORIGINS", " https://shop.kiosk.test, ,https://seller.kiosk.test")
		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://seller.kiosk.test" {
			t.Errorf("CORSOrigins: got %v", cfg.CORSOrigins)
		}
	})

	t.Run("invalid numeric values fall back to defaults", func(t *testing.T) {
		setRequired(t)
		t.Setenv("OTP_MAX_ATTEMPTS", "lots")
		t.Setenv("OTP_COOLDOWN", "-5s")
		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.OTPMaxAttempts != 3 || cfg.OTPCooldown != time.Minute {
			t.Errorf("fallbacks: got %d / %s", cfg.OTPMaxAttempts, cfg.OTPCooldown)
		}
	})
}

// --- envBool ---

func TestEnvBool(t *testing.T) {
	t.Setenv("KIOSK_FLAG", "false")
	if envBool("KIOSK_FLAG", true) {
		t.Error("expected false")
	}
	t.Setenv("KIOSK_FLAG", "maybe")
	if !envBool("KIOSK_FLAG", true) {
		t.Error("expected default true for unparseable value")
	}
}

// --- loadDotEnv ---

func TestLoadDotEnv(t *testing.T) {
	t.Run("missing file is not an error", func(t *testing.T) {
		if err := loadDotEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
			t.Errorf("expected nil, got %v", err)
		}
	})

	t.Run("loads values without overriding process env", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".env")
		if err := os.WriteFile(path, []byte("KIOSK_A=from-file\nKIOSK_B=from-file\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		t.Setenv("KIOSK_A", "from-process")
		t.Setenv("KIOSK_B", "")
		os.Unsetenv("KIOSK_B")

		if err := loadDotEnv(path); err != nil {
			t.Fatalf("loadDotEnv failed: %v", err)
		}
		if got := os.Getenv("KIOSK_A"); got != "from-process" {
			t.Errorf("KIOSK_A: got %q", got)
		}
		if got := os.Getenv("KIOSK_B"); got != "from-file" {
			t.Errorf("KIOSK_B: got %q", got)
		}
	})
}

// --- applySecret ---

type fakeSecrets struct {
	out *secretsmanager.GetSecretValueOutput
	err error
}

func (f *fakeSecrets) GetSecretValue(_ context.Context, _ *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	return f.out, f.err
}

func TestApplySecret(t *testing.T) {
	ctx := context.Background()

	t.Run("sets unset keys only", func(t *testing.T) {
		t.Setenv("KIOSK_SECRET_A", "")
		os.Unsetenv("KIOSK_SECRET_A")
		t.Setenv("KIOSK_SECRET_B", "kept")

		f := &fakeSecrets{out: &secretsmanager.GetSecretValueOutput{
			SecretString: aws.String(`{"KIOSK_SECRET_A":"alpha","KIOSK_SECRET_B":"beta"}`),
		}}
		n, err := applySecret(ctx, f, "kiosk/dev")
		if err != nil {
			t.Fatalf("applySecret failed: %v", err)
		}
		if n != 1 {
			t.Errorf("applied: expected 1, got %d", n)
		}
		if os.Getenv("KIOSK_SECRET_A") != "alpha" || os.Getenv("KIOSK_SECRET_B") != "kept" {
			t.Errorf("env: A=%q B=%q", os.Getenv("KIOSK_SECRET_A"), os.Getenv("KIOSK_SECRET_B"))
		}
	})

	t.Run("fetch error propagates", func(t *testing.T) {
		f := &fakeSecrets{err: errors.New("denied")}
		if _, err := applySecret(ctx, f, "kiosk/dev"); err == nil {
			t.Fatal("expected error, got nil")
		}
	})

	t.Run("non-JSON payload errors", func(t *testing.T) {
		f := &fakeSecrets{out: &secretsmanager.GetSecretValueOutput{SecretString: aws.String("plain")}}
		if _, err := applySecret(ctx, f, "kiosk/dev"); err == nil {
			t.Fatal("expected error, got nil")
		}
	})

	t.Run("empty payload errors", func(t *testing.T) {
		f := &fakeSecrets{out: &secretsmanager.GetSecretValueOutput{}}
		if _, err := applySecret(ctx, f, "kiosk/dev"); err == nil {
			t.Fatal("expected error, got nil")
		}
	})
}
