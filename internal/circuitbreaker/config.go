package circuitbreaker

import (
	"os"
	"strconv"
	"time"
)

// Profiles are tuned per collaborator and overridable through
// environment variables so an operator can loosen a breaker without a
// rebuild.

// RedisConfig is the session-store breaker profile.
func RedisConfig() Config {
	return Config{
		MaxRequests:      envUint32("CB_REDIS_MAX_REQUESTS", 5),
		Interval:         envDuration("CB_REDIS_INTERVAL", 30*time.Second),
		Timeout:          envDuration("CB_REDIS_TIMEOUT", 15*time.Second),
		FailureThreshold: envUint32("CB_REDIS_FAILURE_THRESHOLD", 3),
		SuccessThreshold: envUint32("CB_REDIS_SUCCESS_THRESHOLD", 2),
	}
}

// DatabaseConfig is the relational-store breaker profile.
func DatabaseConfig() Config {
	return Config{
		MaxRequests:      envUint32("CB_DB_MAX_REQUESTS", 3),
		Interval:         envDuration("CB_DB_INTERVAL", 60*time.Second),
		Timeout:          envDuration("CB_DB_TIMEOUT", 30*time.Second),
		FailureThreshold: envUint32("CB_DB_FAILURE_THRESHOLD", 5),
		SuccessThreshold: envUint32("CB_DB_SUCCESS_THRESHOLD", 2),
	}
}

// ProviderConfig is the model-provider HTTP breaker profile. Providers
// fail fast and recover fast relative to stores.
func ProviderConfig() Config {
	return Config{
		MaxRequests:      envUint32("CB_PROVIDER_MAX_REQUESTS", 5),
		Interval:         envDuration("CB_PROVIDER_INTERVAL", 30*time.Second),
		Timeout:          envDuration("CB_PROVIDER_TIMEOUT", 15*time.Second),
		FailureThreshold: envUint32("CB_PROVIDER_FAILURE_THRESHOLD", 3),
		SuccessThreshold: envUint32("CB_PROVIDER_SUCCESS_THRESHOLD", 2),
	}
}

func envUint32(key string, fallback uint32) uint32 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseUint(val, 10, 32); err == nil {
			return uint32(parsed)
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}
