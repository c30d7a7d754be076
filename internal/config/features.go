package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// ObservabilityConfig mirrors the observability block of argus.yaml.
type ObservabilityConfig struct {
	Metrics struct {
		Enabled  bool   `mapstructure:"enabled"`
		Provider string `mapstructure:"provider"`
		Port     int    `mapstructure:"port"`
	} `mapstructure:"metrics"`
	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
}

// RouterFeature mirrors the router block of argus.yaml. Empty fields
// leave the environment-derived values untouched.
type RouterFeature struct {
	Mode     string `mapstructure:"mode"`
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
}

// LimitsFeature mirrors the limits block of argus.yaml. Zero disables
// submission rate limiting.
type LimitsFeature struct {
	SubmitPerMinute int `mapstructure:"submit_per_minute"`
	SubmitBurst     int `mapstructure:"submit_burst"`
}

// Features is the optional operator-tunable feature file. Unlike the
// environment Config it can be absent entirely.
type Features struct {
	Observability ObservabilityConfig `mapstructure:"observability"`
	Router        RouterFeature       `mapstructure:"router"`
	Limits        LimitsFeature       `mapstructure:"limits"`
}

// LoadFeatures reads argus.yaml from CONFIG_PATH or the default
// location.
func LoadFeatures() (*Features, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "/app/config/argus.yaml"
	}

	v := viper.New()
	v.SetConfigFile(cfgPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var f Features
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &f, nil
}

// MetricsPort returns the port from METRICS_PORT, then the feature
// file, then defaultPort.
func MetricsPort(defaultPort int) int {
	if p := os.Getenv("METRICS_PORT"); p != "" {
		var v int
		_, _ = fmt.Sscanf(p, "%d", &v)
		if v > 0 {
			return v
		}
	}
	if f, err := LoadFeatures(); err == nil {
		if f.Observability.Metrics.Port > 0 {
			return f.Observability.Metrics.Port
		}
	}
	return defaultPort
}

// ApplyFeatures folds the feature file into an environment-derived
// Config. Only set fields apply, and an explicitly set environment
// variable still wins over the file.
func ApplyFeatures(cfg *Config, f *Features) {
	if f == nil {
		return
	}
	if f.Observability.Logging.Level != "" && os.Getenv("LOG_LEVEL") == "" {
		cfg.LogLevel = f.Observability.Logging.Level
	}
	if f.Observability.Metrics.Port > 0 && os.Getenv("ADMIN_PORT") == "" {
		cfg.Service.AdminPort = f.Observability.Metrics.Port
	}
	if f.Router.Mode != "" && os.Getenv("ROUTER_MODE") == "" {
		cfg.Router.Mode = f.Router.Mode
	}
	if f.Router.Provider != "" && os.Getenv("ROUTER_PROVIDER") == "" {
		cfg.Router.Provider = f.Router.Provider
	}
	if f.Router.Model != "" && os.Getenv("ROUTER_MODEL") == "" {
		cfg.Router.Model = f.Router.Model
	}
}
