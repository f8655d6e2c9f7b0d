/*
Package config loads service configuration.

SOURCES (later wins):
  1. Defaults below
  2. config/.env.<env> if present (ENV selects: dev, test, prod; default dev)
  3. Environment variables with the BILLING_ prefix, e.g. BILLING_PORT=9090
  4. Command-line flags applied by cmd/server (-port, -db, -driver)

KEYS:
  port             HTTP port (8080)
  db_driver        sqlite3 | postgres | memory (sqlite3)
  db_dsn           SQLite path or Postgres DSN (billing.db)
  log_level        debug | info | warn | error (info)
  jwt_secret       HS256 secret; empty disables authentication
  cors_origins     comma-separated allowed origins
  enable_scenarios mount the demo scenario routes (true in dev)
  max_retries      optimistic-concurrency retries for appends (3)
*/
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the resolved service configuration.
type Config struct {
	Env             string
	Port            int
	DBDriver        string
	DBDSN           string
	LogLevel        string
	JWTSecret       string
	CORSOrigins     []string
	EnableScenarios bool
	MaxRetries      int
	ShutdownTimeout time.Duration
}

// AuthEnabled reports whether requests must carry a valid token.
func (c Config) AuthEnabled() bool { return c.JWTSecret != "" }

// Load reads configuration. dir is where .env.<env> files are looked up;
// an empty dir means ./config.
func Load(dir string) (Config, error) {
	v := viper.New()
	v.SetTypeByDefaultValue(true)
	v.SetDefault("port", 8080)
	v.SetDefault("db_driver", "sqlite3")
	v.SetDefault("db_dsn", "billing.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("cors_origins", "http://localhost:5173,http://localhost:8080")
	v.SetDefault("max_retries", 3)
	v.SetDefault("shutdown_timeout", 30*time.Second)

	env := strings.ToLower(os.Getenv("ENV"))
	if env == "" {
		env = "dev"
	}
	v.SetDefault("enable_scenarios", env == "dev")

	if dir == "" {
		dir = "config"
	}
	dotEnvPath := filepath.Join(dir, ".env."+env)
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			return Config{}, errors.Wrapf(err, "load %s", dotEnvPath)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, errors.Wrapf(err, "stat %s", dotEnvPath)
	}

	v.SetEnvPrefix("BILLING")
	v.AutomaticEnv()

	cfg := Config{
		Env:             env,
		Port:            v.GetInt("port"),
		DBDriver:        v.GetString("db_driver"),
		DBDSN:           v.GetString("db_dsn"),
		LogLevel:        v.GetString("log_level"),
		JWTSecret:       v.GetString("jwt_secret"),
		CORSOrigins:     splitList(v.GetString("cors_origins")),
		EnableScenarios: v.GetBool("enable_scenarios"),
		MaxRetries:      v.GetInt("max_retries"),
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),
	}
	return cfg, cfg.Validate()
}

// Validate rejects unusable settings.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Errorf("invalid port %d", c.Port)
	}
	switch c.DBDriver {
	case "sqlite3", "postgres", "memory":
	default:
		return errors.Errorf("unsupported db_driver %q", c.DBDriver)
	}
	if c.MaxRetries < 0 {
		return errors.Errorf("max_retries must not be negative")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
