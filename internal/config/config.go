package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces every variable, e.g. CASHBOX_DATABASE_URL.
const EnvPrefix = "CASHBOX"

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName string `envconfig:"APP_NAME" default:"Cashbox"`
	AppEnv  string `envconfig:"APP_ENV" default:"development"`
	Port    string `envconfig:"PORT" default:"8080"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	ShutdownPeriod time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"10"`
	DBMinConns  int32  `envconfig:"DB_MIN_CONNS" default:"1"`
	AutoMigrate bool   `envconfig:"AUTO_MIGRATE" default:"false"`

	// RedisURL is optional; without it request de-duplication is disabled.
	RedisURL       string        `envconfig:"REDIS_URL"`
	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`

	AllowOverdraft bool `envconfig:"ALLOW_OVERDRAFT" default:"false"`

	// ReconcileInterval schedules in-process reconciliation; zero disables it.
	ReconcileInterval time.Duration `envconfig:"RECONCILE_INTERVAL" default:"0s"`
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("%s_DATABASE_URL must be set", EnvPrefix)
	}
	if c.DBMaxConns <= 0 {
		return fmt.Errorf("%s_DB_MAX_CONNS must be positive", EnvPrefix)
	}
	if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("%s_DB_MIN_CONNS must be between 0 and %s_DB_MAX_CONNS", EnvPrefix, EnvPrefix)
	}
	if c.IdempotencyTTL <= 0 {
		return fmt.Errorf("%s_IDEMPOTENCY_TTL must be positive", EnvPrefix)
	}
	if c.ReconcileInterval < 0 {
		return fmt.Errorf("%s_RECONCILE_INTERVAL must not be negative", EnvPrefix)
	}
	return nil
}

// IsDev reports whether the app runs in development mode.
func (c Config) IsDev() bool {
	return strings.EqualFold(c.AppEnv, AppEnvDev) || strings.EqualFold(c.AppEnv, "dev")
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
