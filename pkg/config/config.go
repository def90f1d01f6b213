// Package config provides configuration management for the accounts service
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	apperrors "github.com/pnocera/accounts/pkg/errors"
)

// EnvPrefix is the prefix of environment overrides, e.g. ACCOUNTS_SERVER_PORT
const EnvPrefix = "ACCOUNTS"

// Placeholder secrets shipped with the defaults; rejected outside development
const (
	defaultTokenSecret = "dev-token-secret-change-me"
	defaultCryptKey    = "dev-crypt-key-change-me"
)

// Environments
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Config is the root configuration of the service
type Config struct {
	Server        ServerConfig        `mapstructure:"server" yaml:"server"`
	API           APIConfig           `mapstructure:"api" yaml:"api"`
	App           AppConfig           `mapstructure:"app" yaml:"app"`
	Database      DatabaseConfig      `mapstructure:"database" yaml:"database"`
	Log           LogConfig           `mapstructure:"log" yaml:"log"`
	Notifications NotificationsConfig `mapstructure:"notifications" yaml:"notifications"`
	Revocation    RevocationConfig    `mapstructure:"revocation" yaml:"revocation"`
	Metrics       MetricsConfig       `mapstructure:"metrics" yaml:"metrics"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Env             string        `mapstructure:"env" yaml:"env" validate:"oneof=development production test"`
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`
	CORSOrigins     []string      `mapstructure:"cors_origins" yaml:"cors_origins" validate:"min=1"`
	// TrustedProxies may set X-Forwarded-For; empty means the peer address is the client
	TrustedProxies  []string      `mapstructure:"trusted_proxies" yaml:"trusted_proxies" validate:"dive,cidr|ip"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// APIConfig describes the API identity and its security settings
type APIConfig struct {
	Name        string          `mapstructure:"name" yaml:"name" validate:"required"`
	Alias       string          `mapstructure:"alias" yaml:"alias" validate:"required"`
	URI         string          `mapstructure:"uri" yaml:"uri" validate:"required,url"`
	SystemUser  string          `mapstructure:"system_user" yaml:"system_user" validate:"required,min=3,max=32"`
	Auth        AuthConfig      `mapstructure:"auth" yaml:"auth"`
	Crypt       CryptConfig     `mapstructure:"crypt" yaml:"crypt"`
	RecoveryTTL time.Duration   `mapstructure:"recovery_ttl" yaml:"recovery_ttl" validate:"gt=0"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// AuthConfig configures authentication
type AuthConfig struct {
	// Disabled bypasses the auth guards; honoured only in development
	Disabled     bool        `mapstructure:"disabled" yaml:"disabled"`
	PasswordCost int         `mapstructure:"password_cost" yaml:"password_cost" validate:"min=4,max=31"`
	Token        TokenConfig `mapstructure:"token" yaml:"token"`
}

// TokenConfig configures JWT issuance
type TokenConfig struct {
	Secret     string        `mapstructure:"secret" yaml:"secret" validate:"required,min=16"`
	Expiration time.Duration `mapstructure:"expiration" yaml:"expiration" validate:"gt=0"`
}

// CryptConfig holds the root key for recovery token encryption
type CryptConfig struct {
	Key string `mapstructure:"key" yaml:"key" validate:"required,min=16"`
}

// RateLimitConfig configures the per-IP limiter of the public auth routes; RPS 0 disables it
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps" yaml:"rps" validate:"gte=0"`
	Burst int     `mapstructure:"burst" yaml:"burst" validate:"gte=0"`
}

// AppConfig describes the front-end application
type AppConfig struct {
	URI string `mapstructure:"uri" yaml:"uri" validate:"required,url"`
}

// DatabaseConfig configures the relational store
type DatabaseConfig struct {
	Driver     string `mapstructure:"driver" yaml:"driver" validate:"oneof=sqlite postgres"`
	Path       string `mapstructure:"path" yaml:"path" validate:"required_if=Driver sqlite"`
	DSN        string `mapstructure:"dsn" yaml:"dsn" validate:"required_if=Driver postgres"`
	MaxRetries int    `mapstructure:"max_retries" yaml:"max_retries" validate:"gte=0"`
	LogLevel   string `mapstructure:"log_level" yaml:"log_level" validate:"oneof=silent error warn info"`
}

// LogConfig configures the logger
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=json console"`
}

// NotificationsConfig selects how user notifications are delivered
type NotificationsConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend" validate:"oneof=log nats"`
	NATSURL string `mapstructure:"nats_url" yaml:"nats_url" validate:"required_if=Backend nats"`
	Subject string `mapstructure:"subject" yaml:"subject" validate:"required"`
}

// RevocationConfig selects where revoked token ids are kept
type RevocationConfig struct {
	Backend       string `mapstructure:"backend" yaml:"backend" validate:"oneof=memory redis"`
	RedisAddr     string `mapstructure:"redis_addr" yaml:"redis_addr" validate:"required_if=Backend redis"`
	RedisPassword string `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" yaml:"redis_db" validate:"gte=0"`
}

// MetricsConfig toggles the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// DefaultConfig returns a configuration suitable for local development
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Env:             EnvDevelopment,
			Host:            "0.0.0.0",
			Port:            3000,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"http://localhost:5173"},
		},
		API: APIConfig{
			Name:       "Accounts",
			Alias:      "accounts-api",
			URI:        "http://localhost:3000",
			SystemUser: "system",
			Auth: AuthConfig{
				PasswordCost: 10,
				Token: TokenConfig{
					Secret:     defaultTokenSecret,
					Expiration: time.Hour,
				},
			},
			Crypt:       CryptConfig{Key: defaultCryptKey},
			RecoveryTTL: 30 * time.Minute,
			RateLimit:   RateLimitConfig{RPS: 5, Burst: 10},
		},
		App: AppConfig{URI: "http://localhost:5173"},
		Database: DatabaseConfig{
			Driver:     "sqlite",
			Path:       "data/accounts.db",
			MaxRetries: 5,
			LogLevel:   "silent",
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Notifications: NotificationsConfig{
			Backend: "log",
			NATSURL: "nats://127.0.0.1:4222",
			Subject: "accounts.notifications",
		},
		Revocation: RevocationConfig{
			Backend:   "memory",
			RedisAddr: "127.0.0.1:6379",
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

var validate = validator.New()

// Validate checks the configuration
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return apperrors.NewConfigInvalidError("invalid configuration", err)
	}
	if c.Server.Env == EnvProduction {
		if c.API.Auth.Token.Secret == defaultTokenSecret {
			return apperrors.NewConfigInvalidError("api.auth.token.secret must be set in production", nil)
		}
		if c.API.Crypt.Key == defaultCryptKey {
			return apperrors.NewConfigInvalidError("api.crypt.key must be set in production", nil)
		}
	}
	return nil
}

// AuthBypassed reports whether the auth guards are switched off
func (c *Config) AuthBypassed() bool {
	return c.API.Auth.Disabled && c.Server.Env == EnvDevelopment
}

// WriteYAML saves the configuration to a YAML file
func (c *Config) WriteYAML(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0600)
}

// Manager loads the configuration and follows changes of the config file
type Manager struct {
	mu     sync.RWMutex
	viper  *viper.Viper
	config *Config
}

// NewManager creates a manager reading the optional file at path and ACCOUNTS_* variables
func NewManager(path string) *Manager {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	}

	return &Manager{viper: v}
}

// Load reads, decodes and validates the configuration
func (m *Manager) Load() (*Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.viper.ConfigFileUsed() != "" {
		if err := m.viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg, err := m.decode()
	if err != nil {
		return nil, err
	}
	m.config = cfg
	return cfg, nil
}

// Current returns the last successfully loaded configuration
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Watch reloads the config file on change and hands valid results to callback
func (m *Manager) Watch(callback func(cfg *Config, err error)) {
	if m.viper.ConfigFileUsed() == "" {
		return
	}

	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		m.mu.Lock()
		cfg, err := m.decode()
		if err == nil {
			m.config = cfg
		}
		m.mu.Unlock()

		callback(cfg, err)
	})
	m.viper.WatchConfig()
}

func (m *Manager) decode() (*Config, error) {
	cfg := &Config{}
	if err := m.viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment overrides reach Unmarshal
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.env", d.Server.Env)
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	v.SetDefault("server.trusted_proxies", d.Server.TrustedProxies)

	v.SetDefault("api.name", d.API.Name)
	v.SetDefault("api.alias", d.API.Alias)
	v.SetDefault("api.uri", d.API.URI)
	v.SetDefault("api.system_user", d.API.SystemUser)
	v.SetDefault("api.auth.disabled", d.API.Auth.Disabled)
	v.SetDefault("api.auth.password_cost", d.API.Auth.PasswordCost)
	v.SetDefault("api.auth.token.secret", d.API.Auth.Token.Secret)
	v.SetDefault("api.auth.token.expiration", d.API.Auth.Token.Expiration)
	v.SetDefault("api.crypt.key", d.API.Crypt.Key)
	v.SetDefault("api.recovery_ttl", d.API.RecoveryTTL)
	v.SetDefault("api.rate_limit.rps", d.API.RateLimit.RPS)
	v.SetDefault("api.rate_limit.burst", d.API.RateLimit.Burst)

	v.SetDefault("app.uri", d.App.URI)

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.max_retries", d.Database.MaxRetries)
	v.SetDefault("database.log_level", d.Database.LogLevel)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("notifications.backend", d.Notifications.Backend)
	v.SetDefault("notifications.nats_url", d.Notifications.NATSURL)
	v.SetDefault("notifications.subject", d.Notifications.Subject)

	v.SetDefault("revocation.backend", d.Revocation.Backend)
	v.SetDefault("revocation.redis_addr", d.Revocation.RedisAddr)
	v.SetDefault("revocation.redis_password", d.Revocation.RedisPassword)
	v.SetDefault("revocation.redis_db", d.Revocation.RedisDB)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
}
