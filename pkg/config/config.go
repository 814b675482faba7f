package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Directory database configuration
	Database DatabaseConfig `yaml:"database"`

	// Redis session store configuration
	Redis RedisConfig `yaml:"redis"`

	// Session lifetimes
	Session SessionConfig `yaml:"session"`

	// Tenant layout
	Tenant TenantConfig `yaml:"tenant"`

	// Single sign-on settings
	SSO SSOSettings `yaml:"sso"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	BaseURL         string        `yaml:"base_url"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`

	// Password login throttling per client IP; zero attempts disables it
	LoginAttempts int           `yaml:"login_attempts"`
	LoginWindow   time.Duration `yaml:"login_window"`
}

// DatabaseConfig holds directory database settings
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig holds session store settings. An empty URL selects the
// in-process store.
type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

// SessionConfig holds session lifetimes and cookie flags
type SessionConfig struct {
	UpstreamTTL   time.Duration `yaml:"upstream_ttl"`
	LocalTTL      time.Duration `yaml:"local_ttl"`
	CacheSize     int           `yaml:"cache_size"`
	SecureCookies bool          `yaml:"secure_cookies"`
}

// TenantConfig describes the installation layout
type TenantConfig struct {
	Multisite     bool   `yaml:"multisite"`
	DefaultName   string `yaml:"default_name"`
	DefaultDomain string `yaml:"default_domain"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`

	// OTLPEndpoint is the gRPC collector for trace export; empty disables tracing
	OTLPEndpoint     string  `yaml:"otlp_endpoint"`
	OTLPInsecure     bool    `yaml:"otlp_insecure"`
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			BaseURL:         "http://localhost:8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
			LoginAttempts:   10,
			LoginWindow:     time.Minute,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			PoolSize: 10,
			Prefix:   "websso:session",
		},
		Session: SessionConfig{
			UpstreamTTL:   8 * time.Hour,
			LocalTTL:      48 * time.Hour,
			CacheSize:     10000,
			SecureCookies: true,
		},
		Tenant: TenantConfig{
			DefaultName:   "WebSSO",
			DefaultDomain: "localhost",
		},
		SSO: SSOSettings{
			IdentityClientLocation: DefaultIdentityClientLocation,
			AuthSourceName:         DefaultAuthSourceName,
		},
		Observability: ObservabilityConfig{
			LogLevel:         "info",
			LogFormat:        "json",
			MetricsEnabled:   true,
			TraceSampleRatio: 1,
		},
	}
}

// Load loads configuration from the optional WEBSSO_CONFIG_FILE overlay and
// environment variables. Environment variables take precedence.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("WEBSSO_CONFIG_FILE"); path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadFile overlays the YAML file at path onto cfg
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides cfg with any WEBSSO_* environment variables
func applyEnv(cfg *Config) {
	cfg.Server = loadServerConfig(cfg.Server)
	cfg.Database = loadDatabaseConfig(cfg.Database)
	cfg.Redis = loadRedisConfig(cfg.Redis)
	cfg.Session = loadSessionConfig(cfg.Session)
	cfg.Tenant = loadTenantConfig(cfg.Tenant)
	cfg.SSO = loadSSOSettings(cfg.SSO)
	cfg.Observability = loadObservabilityConfig(cfg.Observability)
}

func loadServerConfig(cur ServerConfig) ServerConfig {
	return ServerConfig{
		Host:            getEnv("WEBSSO_HOST", cur.Host),
		Port:            getEnv("WEBSSO_PORT", cur.Port),
		BaseURL:         strings.TrimRight(getEnv("WEBSSO_BASE_URL", cur.BaseURL), "/"),
		ReadTimeout:     getEnvDuration("WEBSSO_READ_TIMEOUT", cur.ReadTimeout),
		WriteTimeout:    getEnvDuration("WEBSSO_WRITE_TIMEOUT", cur.WriteTimeout),
		IdleTimeout:     getEnvDuration("WEBSSO_IDLE_TIMEOUT", cur.IdleTimeout),
		ShutdownTimeout: getEnvDuration("WEBSSO_SHUTDOWN_TIMEOUT", cur.ShutdownTimeout),
		HealthPort:      getEnv("WEBSSO_HEALTH_PORT", cur.HealthPort),
		LoginAttempts:   getEnvInt("WEBSSO_LOGIN_ATTEMPTS", cur.LoginAttempts),
		LoginWindow:     getEnvDuration("WEBSSO_LOGIN_WINDOW", cur.LoginWindow),
	}
}

func loadDatabaseConfig(cur DatabaseConfig) DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("WEBSSO_DATABASE_URL", cur.URL),
		MaxOpenConns:    getEnvInt("WEBSSO_DATABASE_MAX_OPEN_CONNS", cur.MaxOpenConns),
		MaxIdleConns:    getEnvInt("WEBSSO_DATABASE_MAX_IDLE_CONNS", cur.MaxIdleConns),
		ConnMaxLifetime: getEnvDuration("WEBSSO_DATABASE_CONN_MAX_LIFETIME", cur.ConnMaxLifetime),
	}
}

func loadRedisConfig(cur RedisConfig) RedisConfig {
	return RedisConfig{
		URL:      getEnv("WEBSSO_REDIS_URL", cur.URL),
		Password: getEnv("WEBSSO_REDIS_PASSWORD", cur.Password),
		DB:       getEnvInt("WEBSSO_REDIS_DB", cur.DB),
		PoolSize: getEnvInt("WEBSSO_REDIS_POOL_SIZE", cur.PoolSize),
		Prefix:   getEnv("WEBSSO_REDIS_PREFIX", cur.Prefix),
	}
}

func loadSessionConfig(cur SessionConfig) SessionConfig {
	return SessionConfig{
		UpstreamTTL:   getEnvDuration("WEBSSO_UPSTREAM_SESSION_TTL", cur.UpstreamTTL),
		LocalTTL:      getEnvDuration("WEBSSO_LOCAL_SESSION_TTL", cur.LocalTTL),
		CacheSize:     getEnvInt("WEBSSO_SESSION_CACHE_SIZE", cur.CacheSize),
		SecureCookies: getEnvBool("WEBSSO_SECURE_COOKIES", cur.SecureCookies),
	}
}

func loadTenantConfig(cur TenantConfig) TenantConfig {
	return TenantConfig{
		Multisite:     getEnvBool("WEBSSO_MULTISITE", cur.Multisite),
		DefaultName:   getEnv("WEBSSO_SITE_NAME", cur.DefaultName),
		DefaultDomain: strings.ToLower(getEnv("WEBSSO_SITE_DOMAIN", cur.DefaultDomain)),
	}
}

func loadSSOSettings(cur SSOSettings) SSOSettings {
	return SSOSettings{
		IdentityClientLocation: getEnv("WEBSSO_IDENTITY_CLIENT", cur.IdentityClientLocation),
		AuthSourceName:         getEnv("WEBSSO_AUTH_SOURCE", cur.AuthSourceName),
		ForceSSO:               getEnvBool("WEBSSO_FORCE_SSO", cur.ForceSSO),
	}
}

func loadObservabilityConfig(cur ObservabilityConfig) ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:         getEnv("WEBSSO_LOG_LEVEL", cur.LogLevel),
		LogFormat:        getEnv("WEBSSO_LOG_FORMAT", cur.LogFormat),
		MetricsEnabled:   getEnvBool("WEBSSO_METRICS_ENABLED", cur.MetricsEnabled),
		OTLPEndpoint:     getEnv("WEBSSO_OTLP_ENDPOINT", cur.OTLPEndpoint),
		OTLPInsecure:     getEnvBool("WEBSSO_OTLP_INSECURE", cur.OTLPInsecure),
		TraceSampleRatio: getEnvFloat("WEBSSO_TRACE_SAMPLE_RATIO", cur.TraceSampleRatio),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}

	if c.Server.LoginAttempts > 0 && c.Server.LoginWindow <= 0 {
		return fmt.Errorf("login window must be positive when throttling is enabled")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}

	if c.Session.UpstreamTTL <= 0 || c.Session.LocalTTL <= 0 {
		return fmt.Errorf("session lifetimes must be positive")
	}

	if c.Tenant.DefaultDomain == "" {
		return fmt.Errorf("default site domain is required")
	}

	if c.SSO.AuthSourceName == "" {
		return fmt.Errorf("auth source name is required")
	}

	if _, err := logrus.ParseLevel(c.Observability.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %s", c.Observability.LogLevel)
	}
	switch c.Observability.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Observability.LogFormat)
	}
	if r := c.Observability.TraceSampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("trace sample ratio must be between 0 and 1")
	}

	return nil
}

// NewLogger builds the process logger from the observability settings
func (c ObservabilityConfig) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(parseLogLevel(c.LogLevel))
	if c.LogFormat == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
