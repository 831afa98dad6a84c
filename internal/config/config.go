package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	StoreEnvelope = "envelope"
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StoreMySQL    = "mysql"
	StoreMongo    = "mongo"

	minSecretLength = 32

	// devSecret keeps local development usable without configuration.
	// Validate refuses it in production.
	devSecret = "insecure-development-secret-change-me!"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Addr     string `env:"BFF_ADDR" envDefault:":8082"`
	Env      string `env:"APP_ENV" envDefault:"development"`
	SiteURL  string `env:"SITE_URL"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	BackendURL      string        `env:"BACKEND_API_URL" envDefault:"http://localhost:8000/api/v1"`
	BackendAuthMode string        `env:"BACKEND_AUTH_MODE" envDefault:"cookie"`
	BackendTimeout  time.Duration `env:"BACKEND_TIMEOUT" envDefault:"10s"`
	BackendIdleConn int           `env:"BACKEND_MAX_IDLE_CONNS" envDefault:"32"`

	SessionSecret         string        `env:"BFF_SESSION_SECRET"`
	SessionSecretPrevious string        `env:"BFF_SESSION_SECRET_PREVIOUS"`
	SessionStore          string        `env:"SESSION_STORE" envDefault:"envelope"`
	SessionTTL            time.Duration `env:"SESSION_TTL" envDefault:"168h"`
	CookieName            string        `env:"SESSION_COOKIE_NAME" envDefault:"bff_session"`
	CookieDomain          string        `env:"SESSION_COOKIE_DOMAIN"`
	SweepInterval         time.Duration `env:"SWEEP_INTERVAL" envDefault:"10m"`

	ProactiveRefresh bool          `env:"PROACTIVE_REFRESH" envDefault:"true"`
	RefreshSkew      time.Duration `env:"REFRESH_SKEW" envDefault:"30s"`
	RefreshCoalesce  bool          `env:"REFRESH_COALESCE" envDefault:"true"`

	MaxBodyBytes int64  `env:"MAX_BODY_BYTES" envDefault:"10485760"`
	StaticDir    string `env:"STATIC_DIR" envDefault:"./static"`

	RedisURL    string `env:"REDIS_URL"`
	MySQLDSN    string `env:"MYSQL_DSN"`
	MongoURI    string `env:"MONGO_URI"`
	MongoDBName string `env:"MONGO_DB_NAME" envDefault:"tutorbff"`
}

// Load reads the optional env file named by ENV_FILE (default .env) and
// parses the environment into a Config. Variables already set in the
// environment win over the file.
func Load() (*Config, error) {
	file := os.Getenv("ENV_FILE")
	if file == "" {
		file = ".env"
	}
	if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load %s: %w", file, err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Production() bool {
	return c.Env == EnvProduction
}

// Secrets returns the signing secrets, current first.
func (c *Config) Secrets() []string {
	secrets := []string{c.SessionSecret}
	if c.SessionSecretPrevious != "" {
		secrets = append(secrets, c.SessionSecretPrevious)
	}
	return secrets
}

// Validate checks the settings that cannot be defaulted. In development a
// missing secret is replaced with a fixed one and a warning is logged.
func (c *Config) Validate(logger *slog.Logger) error {
	switch c.Env {
	case EnvDevelopment, EnvProduction:
	default:
		return fmt.Errorf("%w: APP_ENV must be %q or %q", ErrInvalidConfig, EnvDevelopment, EnvProduction)
	}

	if len(c.SessionSecret) < minSecretLength {
		if c.Production() {
			return fmt.Errorf("%w: BFF_SESSION_SECRET must be at least %d characters in production", ErrInvalidConfig, minSecretLength)
		}
		logger.Warn("BFF_SESSION_SECRET is missing or short, using an insecure development secret")
		c.SessionSecret = devSecret
	}

	switch c.BackendAuthMode {
	case "cookie", "bearer":
	default:
		return fmt.Errorf("%w: BACKEND_AUTH_MODE must be cookie or bearer", ErrInvalidConfig)
	}

	var missing string
	switch c.SessionStore {
	case StoreEnvelope, StoreMemory:
	case StoreRedis:
		if c.RedisURL == "" {
			missing = "REDIS_URL"
		}
	case StoreMySQL:
		if c.MySQLDSN == "" {
			missing = "MYSQL_DSN"
		}
	case StoreMongo:
		if c.MongoURI == "" {
			missing = "MONGO_URI"
		}
	default:
		return fmt.Errorf("%w: unknown SESSION_STORE %q", ErrInvalidConfig, c.SessionStore)
	}
	if missing != "" {
		return fmt.Errorf("%w: SESSION_STORE=%s requires %s", ErrInvalidConfig, c.SessionStore, missing)
	}

	if c.BackendTimeout <= 0 || c.SessionTTL <= 0 || c.MaxBodyBytes <= 0 {
		return fmt.Errorf("%w: BACKEND_TIMEOUT, SESSION_TTL and MAX_BODY_BYTES must be positive", ErrInvalidConfig)
	}
	if c.SiteURL != "" && !strings.HasPrefix(c.SiteURL, "http://") && !strings.HasPrefix(c.SiteURL, "https://") {
		return fmt.Errorf("%w: SITE_URL must be an absolute http(s) URL", ErrInvalidConfig)
	}
	return nil
}
