package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/Skotchmaster/taskhub/internal/domain"
	"github.com/Skotchmaster/taskhub/internal/tokens"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	SessionBackendDB    = "db"
	SessionBackendRedis = "redis"
)

type Config struct {
	AppEnv    string `env:"APP_ENV"    envDefault:"development"`
	Port      int    `env:"PORT"       envDefault:"8000"`
	BasePath  string `env:"BASE_PATH"  envDefault:"/api"`
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	DBDriver    string `env:"DB_DRIVER"    envDefault:"postgres"`
	DatabaseURL string `env:"DATABASE_URL"`
	SeedRoles   bool   `env:"SEED_ROLES"   envDefault:"true"`

	AccessSecret     string        `env:"JWT_ACCESS_TOKEN_SECRET"`
	AccessExpiresIn  string        `env:"JWT_ACCESS_TOKEN_EXPIRES_IN"  envDefault:"15m"`
	RefreshSecret    string        `env:"JWT_REFRESH_TOKEN_SECRET"`
	RefreshExpiresIn string        `env:"JWT_REFRESH_TOKEN_EXPIRES_IN" envDefault:"7d"`
	RefreshRotation  bool          `env:"REFRESH_TOKEN_ROTATION"       envDefault:"false"`
	RotationGrace    time.Duration `env:"REFRESH_TOKEN_ROTATION_GRACE" envDefault:"30s"`
	BcryptCost       int           `env:"BCRYPT_COST"                  envDefault:"10"`

	CookieDomain string `env:"COOKIE_DOMAIN"`

	SessionBackend       string        `env:"SESSION_BACKEND"        envDefault:"db"`
	SessionSweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"10m"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB"       envDefault:"0"`
	RedisPrefix   string `env:"REDIS_PREFIX"   envDefault:"auth:"`

	RateLimitEnabled bool `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	// TrustedProxies lists CIDRs whose X-Forwarded-For is believed.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	EventBackends []string `env:"EVENT_BACKENDS" envSeparator:","`
	KafkaBrokers  []string `env:"KAFKA_BROKERS"  envSeparator:","`
	KafkaTopic    string   `env:"KAFKA_TOPIC"    envDefault:"user_events"`
	RabbitURL     string   `env:"RABBITMQ_URL"`
	RabbitQueue   string   `env:"RABBITMQ_QUEUE" envDefault:"auth.events"`
	ESURL         string   `env:"ES_URL"`
	ESUser        string   `env:"ES_USER"`
	ESPassword    string   `env:"ES_PASSWORD"`
	ESIndex       string   `env:"ES_INDEX"       envDefault:"auth_events"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleCallbackURL  string `env:"GOOGLE_CALLBACK_URL"`

	FrontendOrigin      string `env:"FRONTEND_ORIGIN"       envDefault:"http://localhost:5173"`
	FrontendCallbackURL string `env:"FRONTEND_CALLBACK_URL"`

	AccessTTL  time.Duration `env:"-"`
	RefreshTTL time.Duration `env:"-"`
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		slog.Info("Notice: .env file not found, using system environment variables")
	}
	return Parse()
}

func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func missing(name string) error {
	return fmt.Errorf("missing required env %s: %w", name, domain.ErrConfig)
}

func (c *Config) validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, missing("DATABASE_URL"))
	}
	if c.AccessSecret == "" {
		errs = append(errs, missing("JWT_ACCESS_TOKEN_SECRET"))
	}
	if c.RefreshSecret == "" {
		errs = append(errs, missing("JWT_REFRESH_TOKEN_SECRET"))
	}
	if c.AccessSecret != "" && c.AccessSecret == c.RefreshSecret {
		errs = append(errs, fmt.Errorf("JWT secrets must differ: %w", domain.ErrConfig))
	}

	var err error
	if c.AccessTTL, err = tokens.ParseDuration(c.AccessExpiresIn); err != nil {
		errs = append(errs, fmt.Errorf("JWT_ACCESS_TOKEN_EXPIRES_IN: %w", err))
	}
	if c.RefreshTTL, err = tokens.ParseDuration(c.RefreshExpiresIn); err != nil {
		errs = append(errs, fmt.Errorf("JWT_REFRESH_TOKEN_EXPIRES_IN: %w", err))
	}

	switch c.SessionBackend {
	case SessionBackendDB:
	case SessionBackendRedis:
		if c.RedisAddr == "" {
			errs = append(errs, missing("REDIS_ADDR"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SESSION_BACKEND %q: %w", c.SessionBackend, domain.ErrConfig))
	}

	for _, b := range c.EventBackends {
		switch strings.TrimSpace(b) {
		case "kafka":
			if len(c.KafkaBrokers) == 0 {
				errs = append(errs, missing("KAFKA_BROKERS"))
			}
		case "rabbitmq":
			if c.RabbitURL == "" {
				errs = append(errs, missing("RABBITMQ_URL"))
			}
		case "elasticsearch":
			if c.ESURL == "" {
				errs = append(errs, missing("ES_URL"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown event backend %q: %w", b, domain.ErrConfig))
		}
	}

	for _, p := range c.TrustedProxies {
		if _, _, err := net.ParseCIDR(strings.TrimSpace(p)); err != nil {
			errs = append(errs, fmt.Errorf("TRUSTED_PROXIES %q: %w", p, domain.ErrConfig))
		}
	}

	if c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.FrontendCallbackURL == "" {
		errs = append(errs, missing("FRONTEND_CALLBACK_URL"))
	}

	c.BasePath = "/" + strings.Trim(c.BasePath, "/")
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" &&
		c.GoogleCallbackURL != "" && c.FrontendCallbackURL != ""
}
