package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	defaultAppName          = "CongoPay Backoffice"
	defaultAppEnv           = "development"
	defaultPort             = "8080"
	defaultLogLevel         = "info"
	defaultShutdownDelay    = 10 * time.Second
	defaultIdempotencyTTL   = 24 * time.Hour
	defaultCurrency         = "USD"
	defaultTACTTL           = 15 * time.Minute
	defaultTACMaxAttempts   = 5
	defaultOutboxInterval   = 2 * time.Second
	defaultOutboxBatch      = 100
	defaultReconcileEvery   = 15 * time.Minute
	defaultVerifyPerMinute  = 10
	defaultEventStream      = "ledger:events"
	defaultEventStreamMaxLn = 100000
	idemTTLSecondsEnvVar    = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar        = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar   = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar  = "SHUTDOWN_TIMEOUT"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	RunMigrations  bool
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	JWTSecret       string
	DefaultCurrency string

	TACTTL         time.Duration
	TACMaxAttempts int
	// TACHashCost of 0 selects bcrypt's default cost.
	TACHashCost int

	// KYCThreshold of zero disables the KYC gate.
	KYCThreshold decimal.Decimal

	VerifyAttemptsPerMinute int

	OutboxInterval    time.Duration
	OutboxBatchSize   int
	EventStream       string
	EventStreamMaxLen int64
	ReconcileInterval time.Duration
}

// Load reads configuration values from the environment and populates a Config
// instance. A .env file in the working directory is read first when present;
// real environment variables win over it.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (Config, error) {
	cfg := Config{
		AppName:           getEnv("APP_NAME", defaultAppName),
		AppEnv:            strings.ToLower(getEnv("APP_ENV", defaultAppEnv)),
		Port:              getEnv("PORT", defaultPort),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		ShutdownPeriod:    defaultShutdownDelay,
		IdempotencyTTL:    defaultIdempotencyTTL,
		JWTSecret:         os.Getenv("JWT_SECRET"),
		DefaultCurrency:   strings.ToUpper(getEnv("DEFAULT_CURRENCY", defaultCurrency)),
		TACTTL:            defaultTACTTL,
		TACMaxAttempts:    defaultTACMaxAttempts,
		KYCThreshold:      decimal.Zero,
		OutboxInterval:    defaultOutboxInterval,
		OutboxBatchSize:   defaultOutboxBatch,
		EventStream:       getEnv("EVENT_STREAM", defaultEventStream),
		EventStreamMaxLen: defaultEventStreamMaxLn,
		ReconcileInterval: defaultReconcileEvery,

		VerifyAttemptsPerMinute: defaultVerifyPerMinute,
	}

	var err error
	if cfg.ShutdownPeriod, err = secondsOrDuration(shutdownSecondsEnvVar, shutdownDurationEnvVar, cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = secondsOrDuration(idemTTLSecondsEnvVar, idemTTLDurEnvVar, cfg.IdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.TACTTL, err = duration("TAC_TTL", cfg.TACTTL); err != nil {
		return Config{}, err
	}
	if cfg.OutboxInterval, err = duration("OUTBOX_INTERVAL", cfg.OutboxInterval); err != nil {
		return Config{}, err
	}
	if cfg.ReconcileInterval, err = duration("RECONCILE_INTERVAL", cfg.ReconcileInterval); err != nil {
		return Config{}, err
	}
	if cfg.TACMaxAttempts, err = integer("TAC_MAX_ATTEMPTS", cfg.TACMaxAttempts); err != nil {
		return Config{}, err
	}
	if cfg.TACHashCost, err = integer("TAC_HASH_COST", cfg.TACHashCost); err != nil {
		return Config{}, err
	}
	if cfg.OutboxBatchSize, err = integer("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize); err != nil {
		return Config{}, err
	}
	if cfg.VerifyAttemptsPerMinute, err = integer("VERIFY_ATTEMPTS_PER_MINUTE", cfg.VerifyAttemptsPerMinute); err != nil {
		return Config{}, err
	}
	maxLen, err := integer("EVENT_STREAM_MAXLEN", int(cfg.EventStreamMaxLen))
	if err != nil {
		return Config{}, err
	}
	cfg.EventStreamMaxLen = int64(maxLen)

	if v := os.Getenv("KYC_THRESHOLD"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil || d.IsNegative() {
			return Config{}, fmt.Errorf("invalid KYC_THRESHOLD: %q", v)
		}
		cfg.KYCThreshold = d
	}
	if v := os.Getenv("RUN_MIGRATIONS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid RUN_MIGRATIONS: %w", err)
		}
		cfg.RunMigrations = b
	}

	if len(cfg.DefaultCurrency) != 3 {
		return Config{}, fmt.Errorf("DEFAULT_CURRENCY must be a 3-letter code")
	}
	if cfg.TACMaxAttempts <= 0 {
		return Config{}, fmt.Errorf("TAC_MAX_ATTEMPTS must be positive")
	}
	if cfg.TACTTL <= 0 {
		return Config{}, fmt.Errorf("TAC_TTL must be positive")
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET must be set")
	}

	// Development may run on the in-memory ledger without Redis.
	if cfg.IsDevelopment() {
		return cfg, nil
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}

	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set")
	}

	return cfg, nil
}

// IsDevelopment reports whether the app runs in a local development environment.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == "development" || c.AppEnv == "dev" || c.AppEnv == "local"
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func secondsOrDuration(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	return duration(durationKey, fallback)
}

func duration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func integer(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
