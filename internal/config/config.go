// Package config loads application configuration from defaults, an optional
// YAML file and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment overrides. A double underscore
// separates nested keys: CLINIC_DATABASE__URL sets database.url.
const EnvPrefix = "CLINIC_"

// EnvironmentDevelopment relaxes secret length checks.
const EnvironmentDevelopment = "development"

const minSecretLength = 32

// DefaultBootstrapAdminPassword is only accepted in development.
const DefaultBootstrapAdminPassword = "admin123"

// Config is the full application configuration.
type Config struct {
	Environment string          `koanf:"environment"`
	Server      ServerConfig    `koanf:"server"`
	Database    DatabaseConfig  `koanf:"database"`
	Log         LogConfig       `koanf:"log"`
	JWT         JWTConfig       `koanf:"jwt"`
	Auth        AuthConfig      `koanf:"auth"`
	CORS        CORSConfig      `koanf:"cors"`
	RateLimit   RateLimitConfig `koanf:"rate_limit"`
}

// ServerConfig configures the HTTP servers.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	// RequestTimeout bounds each request, including waits for a pool connection.
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// JWTConfig configures session tokens.
type JWTConfig struct {
	SecretKey     string        `koanf:"secret_key"`
	TokenDuration time.Duration `koanf:"token_duration"`
	Issuer        string        `koanf:"issuer"`
}

// AuthConfig configures registration and the bootstrap admin.
type AuthConfig struct {
	BcryptCost             int    `koanf:"bcrypt_cost"`
	AllowSelfAssignedRoles bool   `koanf:"allow_self_assigned_roles"`
	BootstrapAdminEmail    string `koanf:"bootstrap_admin_email"`
	BootstrapAdminPassword string `koanf:"bootstrap_admin_password"`
}

// CORSConfig configures allowed browser origins.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// RateLimitConfig configures the per-IP limiter.
type RateLimitConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Requests int           `koanf:"requests"`
	Window   time.Duration `koanf:"window"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Environment: EnvironmentDevelopment,
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "3000",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      65 * time.Second,
			IdleTimeout:       120 * time.Second,
			RequestTimeout:    60 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: time.Hour,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
			AutoMigrate:     true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		JWT: JWTConfig{
			TokenDuration: 24 * time.Hour,
			Issuer:        "homa-clinic",
		},
		Auth: AuthConfig{
			BcryptCost:             12,
			BootstrapAdminEmail:    "admin@homaclinic.com",
			BootstrapAdminPassword: DefaultBootstrapAdminPassword,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		RateLimit: RateLimitConfig{
			Enabled:  true,
			Requests: 100,
			Window:   15 * time.Minute,
		},
	}
}

// legacyEnv maps unprefixed variables to config keys.
var legacyEnv = map[string]string{
	"PORT":         "server.port",
	"JWT_SECRET":   "jwt.secret_key",
	"DATABASE_URL": "database.url",
}

// Load reads configuration. path may be empty, in which case only defaults
// and environment variables apply. Prefixed variables win over legacy ones.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return legacyEnv[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("load legacy env: %w", err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PathFromEnv returns the config file path set through CLINIC_CONFIG.
func PathFromEnv() string {
	return os.Getenv(EnvPrefix + "CONFIG")
}

// Validate checks required settings.
func (c *Config) Validate() error {
	var errs []error

	if c.JWT.SecretKey == "" {
		errs = append(errs, errors.New("jwt.secret_key is required"))
	} else if c.Environment != EnvironmentDevelopment && len(c.JWT.SecretKey) < minSecretLength {
		errs = append(errs, fmt.Errorf("jwt.secret_key must be at least %d characters outside development", minSecretLength))
	}
	if c.Auth.BootstrapAdminEmail != "" && c.Environment != EnvironmentDevelopment {
		switch c.Auth.BootstrapAdminPassword {
		case "":
			errs = append(errs, errors.New("auth.bootstrap_admin_password is required when auth.bootstrap_admin_email is set"))
		case DefaultBootstrapAdminPassword:
			errs = append(errs, errors.New("auth.bootstrap_admin_password must be changed from the default outside development"))
		}
	}
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Server.MetricsPort == "" {
		errs = append(errs, errors.New("server.metrics_port is required"))
	}
	if c.Server.RequestTimeout <= 0 {
		errs = append(errs, errors.New("server.request_timeout must be positive"))
	}
	if c.Database.MaxOpenConns <= 0 {
		errs = append(errs, errors.New("database.max_open_conns must be positive"))
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		errs = append(errs, errors.New("auth.bcrypt_cost must be between 4 and 31"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0) {
		errs = append(errs, errors.New("rate_limit.requests and rate_limit.window must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
