// Command server runs the notecase HTTP API.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kuitang/notecase/internal/api"
	"github.com/kuitang/notecase/internal/auth"
	"github.com/kuitang/notecase/internal/config"
	"github.com/kuitang/notecase/internal/crypto"
	"github.com/kuitang/notecase/internal/db"
	"github.com/kuitang/notecase/internal/email"
	"github.com/kuitang/notecase/internal/mcp"
	"github.com/kuitang/notecase/internal/notes"
	"github.com/kuitang/notecase/internal/obs"
	"github.com/kuitang/notecase/internal/ratelimit"
	"github.com/kuitang/notecase/internal/s3client"
)

const (
	shutdownTimeout    = 30 * time.Second
	tokenSweepInterval = time.Hour
)

func main() {
	obs.Init()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		obs.Pkg("main").Error("server_exit", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	flags, err := config.ParseFlags(flag.NewFlagSet("server", flag.ContinueOnError), args)
	if err != nil {
		return err
	}
	if err := config.LoadEnvFile(flags.EnvFile); err != nil {
		return err
	}
	cfg, err := config.LoadConfig(flags)
	if err != nil {
		return err
	}
	obs.SetLevel(cfg.SlogLevel())
	cfg.PrintStartupSummary()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	go a.sweepExpiredTokens(ctx, tokenSweepInterval)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		obs.Pkg("main").Info("server_listening", "addr", cfg.ListenAddr, "base_url", cfg.BaseURL)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	obs.Pkg("main").Info("server_shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// app holds the wired services behind the HTTP handler.
type app struct {
	db          *sql.DB
	authStore   *auth.Store
	handler     http.Handler
	authLimiter *ratelimit.RateLimiter
	apiLimiter  *ratelimit.RateLimiter
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	masterKey, err := cfg.MasterKeyBytes()
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.Open(cfg.DatabasePath, crypto.DeriveKey(masterKey, crypto.PurposeDatabase))
	if err != nil {
		return nil, err
	}

	publisher, err := newPublisher(ctx, cfg)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	emailSvc := newEmailService(cfg)

	authStore := auth.NewStore(sqlDB)
	users := auth.NewUserService(authStore, auth.Argon2Hasher{}, emailSvc, cfg.BaseURL, cfg.VerificationTokenTTL)
	tokens := auth.NewTokenService(authStore,
		crypto.DeriveKey(masterKey, crypto.PurposeAccessTokens), cfg.AccessTokenTTL, cfg.RefreshTokenTTL)

	notesSvc := notes.NewService(notes.NewStore(sqlDB))
	notesSvc.SetInviteMailer(emailSvc, cfg.BaseURL)
	notesSvc.SetPublisher(publisher)

	// Invites sent before the account existed become live on registration.
	users.OnRegister(func(ctx context.Context, u *auth.User) error {
		_, err := notesSvc.LinkPendingInvites(ctx, u.ID, u.Email)
		return err
	})

	a := &app{
		db:          sqlDB,
		authStore:   authStore,
		authLimiter: ratelimit.NewRateLimiter(cfg.AuthRateLimit),
		apiLimiter:  ratelimit.NewRateLimiter(cfg.APIRateLimit),
	}

	mux := http.NewServeMux()
	api.NewHandler(api.Config{
		Users:        users,
		Tokens:       tokens,
		Notes:        notesSvc,
		DB:           sqlDB,
		AuthLimiter:  a.authLimiter,
		APILimiter:   a.apiLimiter,
		MaxBodyBytes: cfg.MaxBodyBytes,
		MCP:          mcp.NewHTTPHandler(notesSvc),
	}).RegisterRoutes(mux)
	a.handler = obs.RequestContextMiddleware(obs.AccessLogMiddleware("http", mux))
	return a, nil
}

func (a *app) Close() {
	a.authLimiter.Stop()
	a.apiLimiter.Stop()
	if err := a.db.Close(); err != nil {
		obs.Pkg("main").Warn("db_close_failed", "error", err)
	}
}

// sweepExpiredTokens deletes spent one-time tokens and refresh tokens
// until ctx is done.
func (a *app) sweepExpiredTokens(ctx context.Context, every time.Duration) {
	logger := obs.Pkg("main")
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.authStore.DeleteExpiredTokens(ctx, time.Now())
			if err != nil {
				logger.Warn("token_sweep_failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("token_sweep", "deleted", n)
			}
		}
	}
}

func newEmailService(cfg *config.Config) email.EmailService {
	if cfg.NoEmail {
		return email.NewMockEmailService()
	}
	return email.NewResendEmailService(cfg.ResendAPIKey, cfg.ResendFromEmail)
}

// newPublisher returns nil under --no-s3; a nil publisher skips snapshots.
func newPublisher(ctx context.Context, cfg *config.Config) (*notes.Publisher, error) {
	if cfg.NoS3 {
		return nil, nil
	}
	client, err := s3client.New(ctx, s3client.Config{
		Endpoint:        cfg.AWSEndpointS3,
		Region:          cfg.AWSRegion,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
		BucketName:      cfg.AWSBucketName,
		PublicURL:       cfg.AWSPublicURL,
		UsePathStyle:    cfg.AWSUsePathStyle,
		CacheControl:    cfg.SnapshotCacheControl,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	return notes.NewPublisher(client, cfg.BaseURL), nil
}
