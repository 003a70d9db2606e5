package circuitbreaker

import (
	"os"
	"strconv"
	"time"
)

// CircuitBreakerConfig represents configuration for a circuit breaker
type CircuitBreakerConfig struct {
	MaxProbes        uint32
	Cooldown         time.Duration
	FailureThreshold uint32
	SuccessThreshold uint32
}

// GetHTTPConfig returns HTTP circuit breaker configuration from environment variables
func GetHTTPConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxProbes:        getEnvUint32("CB_HTTP_MAX_PROBES", 5),
		Cooldown:         getEnvDuration("CB_HTTP_COOLDOWN", 15*time.Second),
		FailureThreshold: getEnvUint32("CB_HTTP_FAILURE_THRESHOLD", 3),
		SuccessThreshold: getEnvUint32("CB_HTTP_SUCCESS_THRESHOLD", 2),
	}
}

// GetRedisConfig returns Redis circuit breaker configuration from environment variables
func GetRedisConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxProbes:        getEnvUint32("CB_REDIS_MAX_PROBES", 5),
		Cooldown:         getEnvDuration("CB_REDIS_COOLDOWN", 15*time.Second),
		FailureThreshold: getEnvUint32("CB_REDIS_FAILURE_THRESHOLD", 3),
		SuccessThreshold: getEnvUint32("CB_REDIS_SUCCESS_THRESHOLD", 2),
	}
}

// ToConfig converts CircuitBreakerConfig to circuit breaker Config
func (cbc CircuitBreakerConfig) ToConfig() Config {
	return Config{
		MaxProbes:        cbc.MaxProbes,
		Cooldown:         cbc.Cooldown,
		FailureThreshold: cbc.FailureThreshold,
		SuccessThreshold: cbc.SuccessThreshold,
		OnStateChange:    nil, // Will be set by wrapper
	}
}

func getEnvUint32(key string, defaultValue uint32) uint32 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseUint(val, 10, 32); err == nil {
			return uint32(parsed)
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return defaultValue
}
