// Package config loads runtime configuration for Argus. Settings come
// from three layers, lowest priority first: built-in defaults, an
// optional YAML file named by CONFIG_FILE, and environment variables.
// Environment always wins so container deployments can override a
// mounted file without editing it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`

	// ConfigDir is watched by the ConfigManager for hot-reloadable
	// files (sequence.yaml, argus.yaml, pipeline seeds).
	ConfigDir string `yaml:"config_dir"`

	Service   ServiceConfig   `yaml:"service"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Session   SessionConfig   `yaml:"session"`
	Cache     CacheConfig     `yaml:"cache"`
	Budget    BudgetConfig    `yaml:"budget"`
	Health    HealthConfig    `yaml:"health"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Router    RouterConfig    `yaml:"router"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServiceConfig holds the HTTP listener settings. Port serves the API,
// AdminPort serves health probes and metrics.
type ServiceConfig struct {
	Port            int           `yaml:"port"`
	AdminPort       int           `yaml:"admin_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	GracefulTimeout time.Duration `yaml:"graceful_timeout"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes"`
}

// PostgresConfig holds store connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// ConnectionString returns the lib/pq key-value DSN.
func (p PostgresConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// RedisConfig holds session-backend connection settings.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Addr returns host:port for the Redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// SessionConfig tunes the session manager.
type SessionConfig struct {
	TTL       time.Duration `yaml:"ttl"`
	CacheSize int           `yaml:"cache_size"`
}

// CacheConfig tunes the response cache.
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled"`
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// BudgetConfig bounds a task run. DefaultTokens of zero means no
// session token ceiling unless a submission sets one.
type BudgetConfig struct {
	DefaultTokens         int     `yaml:"default_tokens"`
	MaxHops               int     `yaml:"max_hops"`
	BackpressureThreshold float64 `yaml:"backpressure_threshold"`
	BackpressureRate      float64 `yaml:"backpressure_rate"`
}

// HealthConfig tunes the background health manager.
type HealthConfig struct {
	Enabled       bool          `yaml:"enabled"`
	CheckInterval time.Duration `yaml:"check_interval"`
	Timeout       time.Duration `yaml:"timeout"`
}

// MetricsConfig controls the Prometheus endpoint on the admin port.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls the OTLP trace exporter.
type TracingConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// RouterConfig selects the stage-selection strategy. Mode "heuristic"
// runs without a model; "llm" asks the configured provider and falls
// back to the heuristic on any failure.
type RouterConfig struct {
	Mode     string `yaml:"mode"`
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// ProvidersConfig holds model-provider credentials. An empty APIKey
// leaves that provider unregistered.
type ProvidersConfig struct {
	OpenAI    ProviderConfig `yaml:"openai"`
	Anthropic ProviderConfig `yaml:"anthropic"`
}

// ProviderConfig is one provider endpoint.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// Load builds the configuration from defaults, the optional CONFIG_FILE
// YAML, and environment overrides. It never fails: a broken file is
// ignored and the caller sees defaults plus environment. Call Validate
// before using the result.
func Load() *Config {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			_ = yaml.Unmarshal(data, cfg)
		}
	}

	applyEnv(cfg)
	return cfg
}

func defaults() *Config {
	return &Config{
		Environment: "development",
		LogLevel:    "info",
		ConfigDir:   "/app/config",
		Service: ServiceConfig{
			Port:            8080,
			AdminPort:       8081,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			GracefulTimeout: 30 * time.Second,
			MaxHeaderBytes:  1 << 20,
		},
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "argus",
			Password: "argus",
			Database: "argus",
			SSLMode:  "disable",
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		Session: SessionConfig{
			TTL:       24 * time.Hour,
			CacheSize: 1024,
		},
		Cache: CacheConfig{
			Enabled:       true,
			TTL:           5 * time.Minute,
			SweepInterval: time.Minute,
		},
		Budget: BudgetConfig{
			DefaultTokens:         0,
			MaxHops:               16,
			BackpressureThreshold: 0.8,
			BackpressureRate:      2,
		},
		Health: HealthConfig{
			Enabled:       true,
			CheckInterval: 30 * time.Second,
			Timeout:       5 * time.Second,
		},
		Metrics: MetricsConfig{Enabled: true},
		Tracing: TracingConfig{
			Enabled:      false,
			ServiceName:  "argus",
			OTLPEndpoint: "localhost:4317",
		},
		Router: RouterConfig{
			Mode:     "heuristic",
			Provider: "openai",
			Model:    "gpt-4o-mini",
		},
		Providers: ProvidersConfig{
			OpenAI:    ProviderConfig{BaseURL: "https://api.openai.com"},
			Anthropic: ProviderConfig{BaseURL: "https://api.anthropic.com"},
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.Environment = getEnvOrDefault("ENVIRONMENT", cfg.Environment)
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.ConfigDir = getEnvOrDefault("CONFIG_DIR", cfg.ConfigDir)

	cfg.Service.Port = getEnvInt("PORT", cfg.Service.Port)
	cfg.Service.AdminPort = getEnvInt("ADMIN_PORT", cfg.Service.AdminPort)
	cfg.Service.ReadTimeout = getEnvDuration("READ_TIMEOUT", cfg.Service.ReadTimeout)
	cfg.Service.WriteTimeout = getEnvDuration("WRITE_TIMEOUT", cfg.Service.WriteTimeout)
	cfg.Service.GracefulTimeout = getEnvDuration("GRACEFUL_TIMEOUT", cfg.Service.GracefulTimeout)

	cfg.Postgres.Host = getEnvOrDefault("POSTGRES_HOST", cfg.Postgres.Host)
	cfg.Postgres.Port = getEnvInt("POSTGRES_PORT", cfg.Postgres.Port)
	cfg.Postgres.User = getEnvOrDefault("POSTGRES_USER", cfg.Postgres.User)
	cfg.Postgres.Password = getEnvOrDefault("POSTGRES_PASSWORD", cfg.Postgres.Password)
	cfg.Postgres.Database = getEnvOrDefault("POSTGRES_DB", cfg.Postgres.Database)
	cfg.Postgres.SSLMode = getEnvOrDefault("POSTGRES_SSLMODE", cfg.Postgres.SSLMode)

	cfg.Redis.Host = getEnvOrDefault("REDIS_HOST", cfg.Redis.Host)
	cfg.Redis.Port = getEnvInt("REDIS_PORT", cfg.Redis.Port)
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("REDIS_DB", cfg.Redis.DB)

	cfg.Session.TTL = getEnvDuration("SESSION_TTL", cfg.Session.TTL)
	cfg.Session.CacheSize = getEnvInt("SESSION_CACHE_SIZE", cfg.Session.CacheSize)

	cfg.Cache.Enabled = getEnvBool("CACHE_ENABLED", cfg.Cache.Enabled)
	cfg.Cache.TTL = getEnvDuration("CACHE_TTL", cfg.Cache.TTL)
	cfg.Cache.SweepInterval = getEnvDuration("CACHE_SWEEP_INTERVAL", cfg.Cache.SweepInterval)

	cfg.Budget.DefaultTokens = getEnvInt("TOKEN_BUDGET", cfg.Budget.DefaultTokens)
	cfg.Budget.MaxHops = getEnvInt("MAX_HOPS", cfg.Budget.MaxHops)
	cfg.Budget.BackpressureThreshold = getEnvFloat("BACKPRESSURE_THRESHOLD", cfg.Budget.BackpressureThreshold)
	cfg.Budget.BackpressureRate = getEnvFloat("BACKPRESSURE_RATE", cfg.Budget.BackpressureRate)

	cfg.Health.Enabled = getEnvBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.CheckInterval = getEnvDuration("HEALTH_CHECK_INTERVAL", cfg.Health.CheckInterval)
	cfg.Health.Timeout = getEnvDuration("HEALTH_TIMEOUT", cfg.Health.Timeout)

	cfg.Metrics.Enabled = getEnvBool("ENABLE_METRICS", cfg.Metrics.Enabled)

	cfg.Tracing.Enabled = getEnvBool("ENABLE_TRACING", cfg.Tracing.Enabled)
	cfg.Tracing.ServiceName = getEnvOrDefault("TRACING_SERVICE_NAME", cfg.Tracing.ServiceName)
	cfg.Tracing.OTLPEndpoint = getEnvOrDefault("OTLP_ENDPOINT", cfg.Tracing.OTLPEndpoint)

	cfg.Router.Mode = getEnvOrDefault("ROUTER_MODE", cfg.Router.Mode)
	cfg.Router.Provider = getEnvOrDefault("ROUTER_PROVIDER", cfg.Router.Provider)
	cfg.Router.Model = getEnvOrDefault("ROUTER_MODEL", cfg.Router.Model)

	cfg.Providers.OpenAI.APIKey = getEnvOrDefault("OPENAI_API_KEY", cfg.Providers.OpenAI.APIKey)
	cfg.Providers.OpenAI.BaseURL = getEnvOrDefault("OPENAI_BASE_URL", cfg.Providers.OpenAI.BaseURL)
	cfg.Providers.Anthropic.APIKey = getEnvOrDefault("ANTHROPIC_API_KEY", cfg.Providers.Anthropic.APIKey)
	cfg.Providers.Anthropic.BaseURL = getEnvOrDefault("ANTHROPIC_BASE_URL", cfg.Providers.Anthropic.BaseURL)
}

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

var environments = map[string]bool{"development": true, "staging": true, "production": true, "test": true}

var routerModes = map[string]bool{"heuristic": true, "llm": true}

// Validate checks ranges and enums. It reports the first problem found.
func (c *Config) Validate() error {
	if !environments[c.Environment] {
		return fmt.Errorf("environment %q is not one of development, staging, production, test", c.Environment)
	}
	if !logLevels[c.LogLevel] {
		return fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel)
	}
	if err := validPort("service port", c.Service.Port); err != nil {
		return err
	}
	if err := validPort("admin port", c.Service.AdminPort); err != nil {
		return err
	}
	if c.Service.Port == c.Service.AdminPort {
		return fmt.Errorf("service port and admin port are both %d", c.Service.Port)
	}
	if c.Postgres.Host == "" || c.Postgres.User == "" || c.Postgres.Database == "" {
		return fmt.Errorf("postgres host, user and database are required")
	}
	if err := validPort("postgres port", c.Postgres.Port); err != nil {
		return err
	}
	if c.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}
	if err := validPort("redis port", c.Redis.Port); err != nil {
		return err
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive when the cache is enabled, got %s", c.Cache.TTL)
	}
	if c.Budget.DefaultTokens < 0 {
		return fmt.Errorf("default token budget cannot be negative, got %d", c.Budget.DefaultTokens)
	}
	if c.Budget.MaxHops < 1 {
		return fmt.Errorf("max hops must be at least 1, got %d", c.Budget.MaxHops)
	}
	if c.Budget.BackpressureThreshold <= 0 || c.Budget.BackpressureThreshold > 1 {
		return fmt.Errorf("backpressure threshold must be in (0, 1], got %v", c.Budget.BackpressureThreshold)
	}
	if c.Budget.BackpressureRate <= 0 {
		return fmt.Errorf("backpressure rate must be positive, got %v", c.Budget.BackpressureRate)
	}
	if !routerModes[c.Router.Mode] {
		return fmt.Errorf("router mode %q is not one of heuristic, llm", c.Router.Mode)
	}
	if c.Router.Mode == "llm" && c.Providers.OpenAI.APIKey == "" && c.Providers.Anthropic.APIKey == "" {
		return fmt.Errorf("router mode llm needs at least one provider api key")
	}
	return nil
}

func validPort(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", name, port)
	}
	return nil
}

func getEnvOrDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
