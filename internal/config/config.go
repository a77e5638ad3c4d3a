package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName        = "Accounts"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
	defaultStoreDriver    = StorePostgres
	defaultSQLiteDSN      = "file:accounts.db?cache=shared"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour
	defaultUploadDir      = "uploads"
	defaultMaxUpload      = 10 << 20
	defaultSMTPPort       = 587

	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

// SMTP holds outbound mail settings. An empty Host selects the logging mailer.
type SMTP struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Google holds OAuth client credentials. Federated login is disabled when
// ClientID is empty.
type Google struct {
	ClientID     string
	ClientSecret string
}

// Config captures application runtime configuration loaded from environment
// variables. It is read once at startup and passed by value.
type Config struct {
	AppName   string
	AppEnv    string
	Port      string
	LogLevel  string
	LogFormat string

	StoreDriver string
	DatabaseURL string
	SQLiteDSN   string
	RedisURL    string

	JWTSecret       string
	JWTIssuer       string
	TokenDefaultTTL time.Duration
	BcryptCost      int

	PublicBaseURL string
	FrontendURL   string
	MailFrom      string
	OpsMailbox    string
	SMTP          SMTP

	UploadDir      string
	MaxUploadBytes int

	Google Google

	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:       getEnv("APP_NAME", defaultAppName),
		AppEnv:        getEnv("APP_ENV", defaultAppEnv),
		Port:          getEnv("PORT", defaultPort),
		LogLevel:      strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogFormat:     strings.ToLower(getEnv("LOG_FORMAT", defaultLogFormat)),
		StoreDriver:   strings.ToLower(getEnv("STORE_DRIVER", defaultStoreDriver)),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		SQLiteDSN:     getEnv("SQLITE_DSN", defaultSQLiteDSN),
		RedisURL:      os.Getenv("REDIS_URL"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		JWTIssuer:     os.Getenv("JWT_ISSUER"),
		PublicBaseURL: strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/"),
		FrontendURL:   strings.TrimRight(os.Getenv("FRONTEND_URL"), "/"),
		MailFrom:      os.Getenv("MAIL_FROM"),
		OpsMailbox:    os.Getenv("OPS_MAILBOX"),
		SMTP: SMTP{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     defaultSMTPPort,
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
		},
		UploadDir:      getEnv("UPLOAD_DIR", defaultUploadDir),
		MaxUploadBytes: defaultMaxUpload,
		Google: Google{
			ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
			ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		},
		ShutdownPeriod: defaultShutdownDelay,
		IdempotencyTTL: defaultIdempotencyTTL,
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv(shutdownSecondsEnvVar, shutdownDurationEnvVar, cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv(idemTTLSecondsEnvVar, idemTTLDurEnvVar, cfg.IdempotencyTTL); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("TOKEN_DEFAULT_TTL"); v != "" {
		if cfg.TokenDefaultTTL, err = time.ParseDuration(v); err != nil {
			return Config{}, fmt.Errorf("invalid TOKEN_DEFAULT_TTL: %w", err)
		}
	}
	if cfg.BcryptCost, err = intEnv("BCRYPT_COST", 0); err != nil {
		return Config{}, err
	}
	if cfg.SMTP.Port, err = intEnv("SMTP_PORT", cfg.SMTP.Port); err != nil {
		return Config{}, err
	}
	if cfg.MaxUploadBytes, err = intEnv("MAX_UPLOAD_BYTES", cfg.MaxUploadBytes); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET must be set")
	}
	if c.TokenDefaultTTL < 0 {
		return errors.New("TOKEN_DEFAULT_TTL must not be negative")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be positive")
	}
	switch c.StoreDriver {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL must be set")
		}
	case StoreSQLite:
		if c.SQLiteDSN == "" {
			return errors.New("SQLITE_DSN must be set")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if !c.IsDevelopment() {
		if c.StoreDriver == StoreMemory {
			return fmt.Errorf("STORE_DRIVER=memory is not allowed in %s", c.AppEnv)
		}
		if c.RedisURL == "" {
			return errors.New("REDIS_URL must be set")
		}
	}
	return nil
}

// IsDevelopment reports whether the app runs in a local or test environment.
func (c Config) IsDevelopment() bool {
	switch c.AppEnv {
	case "development", "dev", "local", "test":
		return true
	}
	return false
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// BaseURL is the externally visible origin of the API, PUBLIC_BASE_URL or
// localhost on the configured port.
func (c Config) BaseURL() string {
	if c.PublicBaseURL != "" {
		return c.PublicBaseURL
	}
	return "http://localhost" + c.Address()
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
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

// durationEnv reads a whole number of seconds from secondsKey, falling back to
// a Go duration in durationKey.
func durationEnv(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}
