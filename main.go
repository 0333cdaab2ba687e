package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/MGallo-Code/kiosk/internal/auth"
	"github.com/MGallo-Code/kiosk/internal/captcha"
	"github.com/MGallo-Code/kiosk/internal/config"
	"github.com/MGallo-Code/kiosk/internal/events"
	"github.com/MGallo-Code/kiosk/internal/mail"
	"github.com/MGallo-Code/kiosk/internal/otp"
	"github.com/MGallo-Code/kiosk/internal/store"
	"github.com/MGallo-Code/kiosk/internal/token"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

// Embeds the migration files INTO the go bin

//go:embed migrations/*.sql
var migrationsDir embed.FS

// mailAttempts is how often the worker tries one message before dropping it.
const mailAttempts = 3

func main() {
	// Secrets Manager and .env populate the environment before config reads it.
	if err := config.LoadEnv(context.Background()); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		// Fallback logger before config is available
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	// Include source location in log entries at debug level only.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: cfg.LogLevel == slog.LevelDebug,
	})))

	// Cancel ctx on SIGINT/SIGTERM; run() shuts down when ctx is done.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, nil, nil); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// run holds all server logic and returns error instead of calling os.Exit,
// so deferred resource cleanup always runs.
// Shuts down when ctx is cancelled (signal handling is the caller's concern).
// If ready is non-nil, the server's base URL is sent on it once the listener is bound.
// A non-nil ml replaces the mailer selected from cfg (tests capture OTPs this way).
func run(ctx context.Context, cfg *config.Config, ready chan<- string, ml mail.Mailer) error {
	ps, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to set up postgres store: %w", err)
	}
	defer ps.Close()

	migrationsFS, err := fs.Sub(migrationsDir, "migrations")
	if err != nil {
		return fmt.Errorf("failed to access embedded migrations: %w", err)
	}
	applied, err := ps.Migrate(ctx, migrationsFS)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("migrations applied", "count", applied)

	// All Redis users share one connection pool.
	rdb, err := store.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to set up redis client: %w", err)
	}
	defer rdb.Close()
	cache := store.NewRedisCache(rdb)

	// Background workers stop when run() returns.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	if ml == nil {
		ml = selectMailer(workerCtx, cfg, rdb)
	}

	var pub events.Publisher = events.NopPublisher{}
	if cfg.AMQPURL != "" {
		ap, err := events.DialAMQP(cfg.AMQPURL)
		if err != nil {
			return fmt.Errorf("failed to connect to amqp: %w", err)
		}
		pub = ap
	}
	defer pub.Close()

	tm, err := token.NewManager(token.Config{
		AccessSecret:  []byte(cfg.AccessTokenSecret),
		RefreshSecret: []byte(cfg.RefreshTokenSecret),
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to set up token manager: %w", err)
	}

	h := &auth.AuthHandler{
		Accounts:      ps,
		OTP:           otp.NewService(cache, ml, otpPolicy(cfg)),
		Tokens:        tm,
		Tickets:       cache,
		Events:        pub,
		SecureCookies: cfg.Production(),
	}
	// Left nil when unset so the interface stays nil.
	if cfg.TurnstileSecret != "" {
		h.Captcha = captcha.NewTurnstileVerifier(cfg.TurnstileSecret, cfg.TurnstileHostname)
	}

	// Bind listener; ":0" picks a free port (useful in tests).
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{Handler: buildRouter(h, cfg.CORSOrigins)}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("kiosk listening", "addr", ln.Addr().String(), "environment", cfg.Environment)
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Signal readiness to caller (used by tests; nil in production).
	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// selectMailer picks Nop, direct SMTP, or SMTP behind the Redis queue.
// The queue worker runs until ctx is cancelled.
func selectMailer(ctx context.Context, cfg *config.Config, rdb *redis.Client) mail.Mailer {
	if cfg.SMTPHost == "" {
		slog.Warn("SMTP not configured, outbound mail is discarded")
		return &mail.NopMailer{}
	}
	smtp := mail.NewSMTPMailer(mail.SMTPConfig{
		Host:        cfg.SMTPHost,
		Port:        cfg.SMTPPort,
		Username:    cfg.SMTPUsername,
		Password:    cfg.SMTPPassword,
		FromAddress: cfg.SMTPFromAddress,
	}, nil)
	if !cfg.MailQueue {
		return smtp
	}
	// A mail that arrives after its code expired is useless.
	q := mail.NewQueuedMailer(smtp, rdb, mail.QueueOptions{
		MaxSize:     mail.DefaultMaxQueueSize,
		MaxAge:      cfg.OTPCodeTTL,
		MaxAttempts: mailAttempts,
	})
	go q.StartWorker(ctx)
	return q
}

// otpPolicy maps config onto the OTP service policy.
func otpPolicy(cfg *config.Config) otp.Policy {
	p := otp.DefaultPolicy()
	p.CodeTTL = cfg.OTPCodeTTL
	p.Cooldown = cfg.OTPCooldown
	p.RequestWindow = cfg.OTPRequestWindow
	p.SpamLockTTL = cfg.OTPSpamLockTTL
	p.LockTTL = cfg.OTPLockTTL
	p.SpamThreshold = int64(cfg.OTPSpamThreshold)
	p.MaxFailedAttempts = int64(cfg.OTPMaxAttempts)
	return p
}

// buildRouter wires all routes and middleware.
// Called from run() and directly by smoke tests.
func buildRouter(h *auth.AuthHandler, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware(corsOrigins))

	r.Get("/health", h.CheckHealth)

	// Buyers (and admins, who log in on the buyer route)
	r.Post("/signup", h.Signup)
	r.Post("/signup/verify", h.SignupVerify)
	r.Post("/login", h.Login)
	r.Post("/forgot-password/request", h.ForgotPasswordRequest(store.RoleUser))
	r.Post("/forgot-password/verify", h.ForgotPasswordVerify(store.RoleUser))
	r.Post("/forgot-password/reset", h.ForgotPasswordReset(store.RoleUser))

	// Shared
	r.Post("/refresh-token", h.RefreshToken)
	r.Post("/logout", h.Logout)
	r.With(h.RequireAuth(store.RoleUser, store.RoleAdmin)).Get("/me", h.Me)

	r.Route("/seller", func(r chi.Router) {
		r.Post("/send-seller-otp", h.SellerSendOTP)
		r.Post("/verify-create-seller", h.SellerVerifyCreate)
		r.Post("/login", h.SellerLogin)
		r.Post("/forgot-password/request", h.ForgotPasswordRequest(store.RoleSeller))
		r.Post("/forgot-password/verify", h.ForgotPasswordVerify(store.RoleSeller))
		r.Post("/forgot-password/reset", h.ForgotPasswordReset(store.RoleSeller))
		r.With(h.RequireAuth(store.RoleSeller)).Get("/me", h.Me)
	})

	return r
}

// corsMiddleware admits credentialed requests from the listed origins.
// Browsers need an exact origin echo (not "*") to send the auth cookies.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && slices.Contains(origins, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
