// Package config provides configuration management for the control plane.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the control plane.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Events    EventsConfig    `mapstructure:"events"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Providers ProvidersConfig `mapstructure:"providers"`
	OAuth     OAuthConfig     `mapstructure:"oauth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Services  ServicesConfig  `mapstructure:"services"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// NATSConfig holds NATS messaging configuration. An empty URL selects the
// in-memory event bus backend instead.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClusterID     string `mapstructure:"clusterId"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// EventsConfig holds event bus namespace and buffering configuration.
type EventsConfig struct {
	// Namespace is loaded from config (or CONTROLPLANE_EVENTS_NAMESPACE); no
	// event bus backend reads it, so queue groups are not namespaced by it.
	Namespace string `mapstructure:"namespace"`
	// SubscriberBufferSize is loaded from config but not read: both event bus
	// backends use a fixed per-subscriber queue of 256 events (eventbus's
	// subscriberBufferSize), dropping the oldest unread event when it is full.
	SubscriberBufferSize int `mapstructure:"subscriberBufferSize"`
}

// SchedulerConfig holds the maintenance job scheduler's configuration.
type SchedulerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// ProcessCleanupCron, MaliciousIPCron, TaskTimeoutCron, and LogRetentionCron
	// are 6-field (seconds-resolution) cron expressions for the respective jobs.
	ProcessCleanupCron string `mapstructure:"processCleanupCron"`
	MaliciousIPCron    string `mapstructure:"maliciousIpCron"`
	TaskTimeoutCron    string `mapstructure:"taskTimeoutCron"`
	LogRetentionCron   string `mapstructure:"logRetentionCron"`
}

// ProvidersConfig holds LLM provider credentials for the execution planner.
type ProvidersConfig struct {
	AnthropicAPIKey string `mapstructure:"anthropicApiKey"`
	OpenAIAPIKey    string `mapstructure:"openaiApiKey"`
	GeminiAPIKey    string `mapstructure:"geminiApiKey"`
	DefaultProvider string `mapstructure:"defaultProvider"`
	DefaultModel    string `mapstructure:"defaultModel"`
}

// OAuthConfig holds OAuth 2.1 authorization server configuration.
type OAuthConfig struct {
	JWTSecret           string `mapstructure:"jwtSecret"`
	AccessTokenDuration int    `mapstructure:"accessTokenDuration"`  // in seconds
	RefreshTokenTTLDays int    `mapstructure:"refreshTokenTtlDays"`
	Issuer              string `mapstructure:"issuer"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ServicesConfig holds filesystem locations for declarative service manifests
// consumed by the config loader (internal/serviceconfig).
type ServicesConfig struct {
	ManifestRoots []string `mapstructure:"manifestRoots"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// AccessTokenDurationTime returns the access token lifetime as a time.Duration.
func (a *OAuthConfig) AccessTokenDurationTime() time.Duration {
	return time.Duration(a.AccessTokenDuration) * time.Second
}

// RefreshTokenTTL returns the refresh token lifetime as a time.Duration.
func (a *OAuthConfig) RefreshTokenTTL() time.Duration {
	return time.Duration(a.RefreshTokenTTLDays) * 24 * time.Hour
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("CONTROLPLANE_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "controlplane")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "controlplane")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clusterId", "controlplane-cluster")
	v.SetDefault("nats.clientId", "controlplane-client")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("events.namespace", "")
	v.SetDefault("events.subscriberBufferSize", 256)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.processCleanupCron", "0 */15 * * * *")
	v.SetDefault("scheduler.maliciousIpCron", "0 0 */6 * * *")
	v.SetDefault("scheduler.taskTimeoutCron", "0 */5 * * * *")
	v.SetDefault("scheduler.logRetentionCron", "0 0 3 * * *")

	v.SetDefault("providers.anthropicApiKey", "")
	v.SetDefault("providers.openaiApiKey", "")
	v.SetDefault("providers.geminiApiKey", "")
	v.SetDefault("providers.defaultProvider", "anthropic")
	v.SetDefault("providers.defaultModel", "claude-sonnet-4-5")

	v.SetDefault("oauth.jwtSecret", "")
	v.SetDefault("oauth.accessTokenDuration", 3600) // 1 hour
	v.SetDefault("oauth.refreshTokenTtlDays", 30)
	v.SetDefault("oauth.issuer", "http://localhost:8080")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("services.manifestRoots", []string{"./services"})
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix CONTROLPLANE_ followed by the key path
// with dots replaced by underscores (e.g. CONTROLPLANE_SERVER_READTIMEOUT);
// logging.level, events.namespace and oauth.jwtSecret also accept the names
// bound explicitly in LoadWithPath.
// Config file should be named config.yaml and placed in the current directory or /etc/controlplane/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("CONTROLPLANE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("logging.level", "CONTROLPLANE_LOG_LEVEL")
	_ = v.BindEnv("events.namespace", "CONTROLPLANE_EVENTS_NAMESPACE")
	_ = v.BindEnv("oauth.jwtSecret", "CONTROLPLANE_OAUTH_JWT_SECRET")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/controlplane/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		errs = append(errs, "database.port must be between 1 and 65535")
	}
	if cfg.Database.User == "" {
		errs = append(errs, "database.user is required")
	}
	if cfg.Database.DBName == "" {
		errs = append(errs, "database.dbName is required")
	}

	if cfg.OAuth.JWTSecret == "" {
		cfg.OAuth.JWTSecret = generateDevSecret()
	}
	if cfg.OAuth.AccessTokenDuration <= 0 {
		errs = append(errs, "oauth.accessTokenDuration must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// generateDevSecret builds a development-mode placeholder secret from a fixed
// prefix and the current time in nanoseconds; it is not random.
// In production, operators must set CONTROLPLANE_OAUTH_JWT_SECRET.
func generateDevSecret() string {
	return "dev-secret-change-in-production-" + fmt.Sprintf("%d", time.Now().UnixNano())
}
