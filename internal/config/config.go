// Package config loads the server configuration from CLI flags, environment
// variables and an optional .env file, validates required fields, and
// provides defaults.
//
// CLI flags control which services are mocked (--no-email, --no-s3, --test).
// Environment variables provide secrets and service configuration.
package config

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/kuitang/notecase/internal/obs"
	"github.com/kuitang/notecase/internal/ratelimit"
)

const (
	defaultS3Region = "auto"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	ListenAddr   string
	BaseURL      string
	MaxBodyBytes int64
	LogLevel     string // debug, info, warn or error

	// Database and secrets
	MasterKey    string // 64 hex characters (32 bytes)
	DatabasePath string // Directory holding notes.db

	// Token lifetimes
	AccessTokenTTL       time.Duration
	RefreshTokenTTL      time.Duration
	VerificationTokenTTL time.Duration

	// Rate limiting
	AuthRateLimit ratelimit.Config // per client IP on /auth/*
	APIRateLimit  ratelimit.Config // per authenticated user

	// Mock service flags (controlled by CLI flags, not env vars)
	NoEmail bool // If true, use mock email service (--no-email)
	NoS3    bool // If true, public snapshots are not published (--no-s3)

	// Resend Email
	ResendAPIKey    string
	ResendFromEmail string

	// S3 storage for public note snapshots
	AWSEndpointS3        string // AWS_ENDPOINT_URL_S3
	AWSRegion            string // AWS_REGION
	AWSAccessKeyID       string // AWS_ACCESS_KEY_ID
	AWSSecretAccessKey   string // AWS_SECRET_ACCESS_KEY
	AWSBucketName        string // BUCKET_NAME
	AWSPublicURL         string // S3_PUBLIC_URL
	AWSUsePathStyle      bool   // S3_USE_PATH_STYLE
	SnapshotCacheControl string // SNAPSHOT_CACHE_CONTROL
}

// Flags are the parsed command line switches.
type Flags struct {
	NoEmail bool
	NoS3    bool
	Addr    string
	EnvFile string
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// ParseFlags registers and parses --no-email, --no-s3, --test, --addr and
// --env-file. Call before LoadConfig.
func ParseFlags(fset *flag.FlagSet, args []string) (Flags, error) {
	var f Flags
	var testMode bool
	fset.BoolVar(&f.NoEmail, "no-email", false, "Use mock email service (logs emails)")
	fset.BoolVar(&f.NoS3, "no-s3", false, "Disable public snapshot publishing to S3")
	fset.BoolVar(&testMode, "test", false, "Shorthand for --no-email --no-s3")
	fset.StringVar(&f.Addr, "addr", "", "Listen address (default :8080, overrides LISTEN_ADDR env var)")
	fset.StringVar(&f.EnvFile, "env-file", ".env", "Optional dotenv file loaded before reading the environment")
	if err := fset.Parse(args); err != nil {
		return Flags{}, err
	}

	if testMode {
		f.NoEmail = true
		f.NoS3 = true
	}
	return f, nil
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// LoadConfig loads configuration from environment variables and CLI flag values.
func LoadConfig(f Flags) (*Config, error) {
	cfg := &Config{}

	cfg.NoEmail = f.NoEmail
	cfg.NoS3 = f.NoS3

	// Server settings
	cfg.ListenAddr = getEnvOrDefault("LISTEN_ADDR", ":8080")
	if f.Addr != "" {
		cfg.ListenAddr = f.Addr
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("BASE_URL")), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost" + cfg.ListenAddr
	}
	cfg.MaxBodyBytes = int64(parseIntOrDefault("MAX_BODY_BYTES", 2<<20))
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database and secrets
	cfg.MasterKey = strings.TrimSpace(os.Getenv("MASTER_KEY"))
	cfg.DatabasePath = getEnvOrDefault("DATABASE_PATH", "./data")

	cfg.AccessTokenTTL = parseDurationOrDefault("ACCESS_TOKEN_TTL", 15*time.Minute)
	cfg.RefreshTokenTTL = parseDurationOrDefault("REFRESH_TOKEN_TTL", 30*24*time.Hour)
	cfg.VerificationTokenTTL = parseDurationOrDefault("VERIFICATION_TOKEN_TTL", 24*time.Hour)

	cleanup := parseDurationOrDefault("RATE_LIMIT_CLEANUP_INTERVAL", time.Hour)
	cfg.AuthRateLimit = ratelimit.Config{
		RPS:             parseFloat64OrDefault("RATE_LIMIT_AUTH_RPS", ratelimit.DefaultAuthConfig.RPS),
		Burst:           parseIntOrDefault("RATE_LIMIT_AUTH_BURST", ratelimit.DefaultAuthConfig.Burst),
		CleanupInterval: cleanup,
	}
	cfg.APIRateLimit = ratelimit.Config{
		RPS:             parseFloat64OrDefault("RATE_LIMIT_API_RPS", ratelimit.DefaultAPIConfig.RPS),
		Burst:           parseIntOrDefault("RATE_LIMIT_API_BURST", ratelimit.DefaultAPIConfig.Burst),
		CleanupInterval: cleanup,
	}

	// Resend Email
	cfg.ResendAPIKey = os.Getenv("RESEND_API_KEY")
	cfg.ResendFromEmail = getEnvOrDefault("RESEND_FROM_EMAIL", "noreply@notecase.app")

	// S3
	cfg.AWSEndpointS3 = strings.TrimSpace(os.Getenv("AWS_ENDPOINT_URL_S3"))
	cfg.AWSRegion = getEnvOrDefault("AWS_REGION", defaultS3Region)
	cfg.AWSAccessKeyID = strings.TrimSpace(os.Getenv("AWS_ACCESS_KEY_ID"))
	cfg.AWSSecretAccessKey = strings.TrimSpace(os.Getenv("AWS_SECRET_ACCESS_KEY"))
	cfg.AWSBucketName = strings.TrimSpace(os.Getenv("BUCKET_NAME"))
	cfg.AWSPublicURL = strings.TrimSpace(os.Getenv("S3_PUBLIC_URL"))
	if cfg.AWSPublicURL == "" && cfg.AWSEndpointS3 != "" && cfg.AWSBucketName != "" {
		cfg.AWSPublicURL = strings.TrimRight(cfg.AWSEndpointS3, "/") + "/" + cfg.AWSBucketName
	}
	cfg.AWSUsePathStyle = strings.EqualFold(strings.TrimSpace(os.Getenv("S3_USE_PATH_STYLE")), "true")
	cfg.SnapshotCacheControl = getEnvOrDefault("SNAPSHOT_CACHE_CONTROL", "public, max-age=300")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SlogLevel returns the parsed LOG_LEVEL, or info when it does not parse.
func (c *Config) SlogLevel() slog.Level {
	l, err := obs.ParseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return l
}

// Validate checks that all required configuration is present and valid.
// When mocks are NOT active for a service, the corresponding secrets are required.
func (c *Config) Validate() error {
	var errs []string

	if !c.NoEmail && c.ResendAPIKey == "" {
		errs = append(errs, "RESEND_API_KEY is required (set env var or use --no-email)")
	}

	if !c.NoS3 {
		if c.AWSEndpointS3 == "" {
			errs = append(errs, "AWS_ENDPOINT_URL_S3 is required (set env var or use --no-s3)")
		}
		if c.AWSBucketName == "" {
			errs = append(errs, "BUCKET_NAME is required (set env var or use --no-s3)")
		}
		if c.AWSAccessKeyID == "" {
			errs = append(errs, "AWS_ACCESS_KEY_ID is required (set env var or use --no-s3)")
		}
		if c.AWSSecretAccessKey == "" {
			errs = append(errs, "AWS_SECRET_ACCESS_KEY is required (set env var or use --no-s3)")
		}
	}

	if _, err := obs.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL %q is not one of debug, info, warn, error", c.LogLevel))
	}

	// Losing the master key makes the database unreadable and invalidates every token.
	if c.MasterKey == "" {
		errs = append(errs, "MASTER_KEY is required (generate with: openssl rand -hex 32)")
	} else if _, err := hex.DecodeString(c.MasterKey); err != nil || len(c.MasterKey) != 64 {
		errs = append(errs, "MASTER_KEY must be 64 hex characters (32 bytes)")
	}

	if c.AccessTokenTTL <= 0 {
		errs = append(errs, "ACCESS_TOKEN_TTL must be positive")
	}
	if c.RefreshTokenTTL <= c.AccessTokenTTL {
		errs = append(errs, "REFRESH_TOKEN_TTL must be longer than ACCESS_TOKEN_TTL")
	}
	if c.VerificationTokenTTL <= 0 {
		errs = append(errs, "VERIFICATION_TOKEN_TTL must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, "MAX_BODY_BYTES must be positive")
	}

	if c.AuthRateLimit.RPS <= 0 || c.AuthRateLimit.Burst <= 0 {
		errs = append(errs, "RATE_LIMIT_AUTH_RPS and RATE_LIMIT_AUTH_BURST must be positive")
	}
	if c.APIRateLimit.RPS <= 0 || c.APIRateLimit.Burst <= 0 {
		errs = append(errs, "RATE_LIMIT_API_RPS and RATE_LIMIT_API_BURST must be positive")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}

	return nil
}

// MasterKeyBytes decodes MasterKey. Validate guarantees it succeeds.
func (c *Config) MasterKeyBytes() ([]byte, error) {
	key, err := hex.DecodeString(c.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("decode MASTER_KEY: %w", err)
	}
	return key, nil
}

// IsDevelopment returns true if any mock services are enabled.
func (c *Config) IsDevelopment() bool {
	return c.NoEmail || c.NoS3
}

// PrintStartupSummary prints a human-readable summary of the configuration to stderr.
func (c *Config) PrintStartupSummary() {
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "notecase server starting...")

	if c.NoEmail {
		fmt.Fprintln(os.Stderr, "  Email:    Mock (--no-email)")
	} else {
		fmt.Fprintf(os.Stderr, "  Email:    Resend (from: %s)\n", c.ResendFromEmail)
	}

	if c.NoS3 {
		fmt.Fprintln(os.Stderr, "  Publish:  Disabled (--no-s3)")
	} else {
		fmt.Fprintf(os.Stderr, "  Publish:  S3 (endpoint: %s, bucket: %s)\n", c.AWSEndpointS3, c.AWSBucketName)
	}

	fmt.Fprintf(os.Stderr, "  Database: %s\n", c.DatabasePath)
	fmt.Fprintf(os.Stderr, "  Tokens:   access %s, refresh %s\n", c.AccessTokenTTL, c.RefreshTokenTTL)
	fmt.Fprintf(os.Stderr, "  Listen:   %s\n", c.ListenAddr)
	fmt.Fprintf(os.Stderr, "  Base:     %s\n", c.BaseURL)
	fmt.Fprintln(os.Stderr, "")
}

// Helper functions for parsing environment variables

func getEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func parseIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
