package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/wallethub-hq/intentrunner/pkg/logger"
)

const (
	// DefaultMetricsPort defines the default port for the metrics server
	DefaultMetricsPort = "8080"

	// DefaultProviderTimeoutSeconds bounds each quote/balance provider call
	DefaultProviderTimeoutSeconds = 10

	// DefaultQuoteMaxAgeSeconds is the freshness window after which a
	// quote is considered stale and re-fetched before building
	DefaultQuoteMaxAgeSeconds = 30

	// DefaultGasWarnThresholdGwei is the gas price above which previews
	// carry a "gas prices are high" warning
	DefaultGasWarnThresholdGwei = 50

	// DefaultSlippageWarnBps is the expected slippage above which
	// previews carry a "high slippage" warning (100 bps = 1%)
	DefaultSlippageWarnBps = 100

	// DefaultViolationLogSize caps retained limiter violations per user
	DefaultViolationLogSize = 50

	// DefaultViolationLogTTLMinutes ages out retained limiter violations
	DefaultViolationLogTTLMinutes = 60

	// DefaultTelemetryBuffer is the telemetry channel capacity; events
	// beyond it are dropped rather than blocking the pipeline
	DefaultTelemetryBuffer = 256

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of provider
	// failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker
	DefaultCircuitBreakerWindow = 30

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker
	DefaultCircuitBreakerReset = 60
)

// GetEnvMetricsPort returns the metrics server port from environment variables
func GetEnvMetricsPort() (string, error) {
	metricsPort := os.Getenv("METRICS_PORT")
	if metricsPort == "" {
		return DefaultMetricsPort, nil
	}

	// Validate port format
	if _, err := strconv.Atoi(metricsPort); err != nil {
		return "", fmt.Errorf("invalid METRICS_PORT value: %s, must be a valid integer", metricsPort)
	}
	return metricsPort, nil
}

// GetEnvSQLitePath returns the sqlite database path; empty selects the
// in-memory store
func GetEnvSQLitePath() string {
	return os.Getenv("SQLITE_PATH")
}

// GetEnvProviderTimeout returns the per-provider-call timeout
func GetEnvProviderTimeout() (time.Duration, error) {
	return getEnvSeconds("PROVIDER_TIMEOUT", DefaultProviderTimeoutSeconds)
}

// GetEnvQuoteMaxAge returns the quote freshness window
func GetEnvQuoteMaxAge() (time.Duration, error) {
	return getEnvSeconds("QUOTE_MAX_AGE", DefaultQuoteMaxAgeSeconds)
}

// GetEnvGasWarnThreshold returns the gas price warning threshold in wei
func GetEnvGasWarnThreshold() (*big.Int, error) {
	gwei := int64(DefaultGasWarnThresholdGwei)
	if raw := os.Getenv("GAS_WARN_THRESHOLD_GWEI"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid GAS_WARN_THRESHOLD_GWEI value: %s, must be an integer", raw)
		}
		if parsed <= 0 {
			return nil, fmt.Errorf("GAS_WARN_THRESHOLD_GWEI must be greater than 0")
		}
		gwei = parsed
	}
	return new(big.Int).Mul(big.NewInt(gwei), big.NewInt(1_000_000_000)), nil
}

// GetEnvSlippageWarnBps returns the slippage warning threshold in basis points
func GetEnvSlippageWarnBps() (int, error) {
	return getEnvPositiveInt("SLIPPAGE_WARN_BPS", DefaultSlippageWarnBps)
}

// GetEnvViolationLogSize returns the per-user violation log capacity
func GetEnvViolationLogSize() (int, error) {
	return getEnvPositiveInt("VIOLATION_LOG_SIZE", DefaultViolationLogSize)
}

// GetEnvViolationLogTTL returns the violation log retention window
func GetEnvViolationLogTTL() (time.Duration, error) {
	minutes, err := getEnvPositiveInt("VIOLATION_LOG_TTL_MINUTES", DefaultViolationLogTTLMinutes)
	if err != nil {
		return 0, err
	}
	return time.Duration(minutes) * time.Minute, nil
}

// GetEnvTelemetryBuffer returns the telemetry channel capacity
func GetEnvTelemetryBuffer() (int, error) {
	return getEnvPositiveInt("TELEMETRY_BUFFER", DefaultTelemetryBuffer)
}

// GetEnvCircuitBreakerEnabled returns whether the circuit breaker is enabled
func GetEnvCircuitBreakerEnabled() (bool, error) {
	enabled := os.Getenv("CIRCUIT_BREAKER_ENABLED")
	if enabled == "" {
		return DefaultCircuitBreakerEnabled, nil
	}

	if enabled == "true" {
		return true, nil
	} else if enabled == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid CIRCUIT_BREAKER_ENABLED value: %s, must be 'true' or 'false'", enabled)
}

// GetEnvCircuitBreakerThreshold returns the circuit breaker threshold
func GetEnvCircuitBreakerThreshold() (int, error) {
	return getEnvPositiveInt("CIRCUIT_BREAKER_THRESHOLD", DefaultCircuitBreakerThreshold)
}

// GetEnvCircuitBreakerWindow returns the circuit breaker window duration
func GetEnvCircuitBreakerWindow() (time.Duration, error) {
	window := os.Getenv("CIRCUIT_BREAKER_WINDOW")
	if window == "" {
		return DefaultCircuitBreakerWindow * time.Second, nil
	}

	parsed, err := time.ParseDuration(window)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_WINDOW value: %s, must be a valid duration string", window)
	}
	return parsed, nil
}

// GetEnvCircuitBreakerReset returns the circuit breaker reset timeout
func GetEnvCircuitBreakerReset() (time.Duration, error) {
	reset := os.Getenv("CIRCUIT_BREAKER_RESET")
	if reset == "" {
		return DefaultCircuitBreakerReset * time.Second, nil
	}

	parsed, err := time.ParseDuration(reset)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_RESET value: %s, must be a valid duration string", reset)
	}
	return parsed, nil
}

// GetEnvLogLevel returns the logging level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	switch os.Getenv("LOG_LEVEL") {
	case "", "info":
		return logger.InfoLevel, nil
	case "debug":
		return logger.DebugLevel, nil
	case "notice":
		return logger.NoticeLevel, nil
	case "error":
		return logger.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("invalid LOG_LEVEL value: %s, must be debug, info, notice or error", os.Getenv("LOG_LEVEL"))
	}
}

// GetEnvLogColoring returns whether log coloring is enabled
func GetEnvLogColoring() (bool, error) {
	coloring := os.Getenv("LOG_COLORING")
	if coloring == "" {
		return true, nil
	}

	if coloring == "true" {
		return true, nil
	} else if coloring == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid LOG_COLORING value: %s, must be 'true' or 'false'", coloring)
}

func getEnvSeconds(key string, defaultSeconds int) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return time.Duration(defaultSeconds) * time.Second, nil
	}

	seconds, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be an integer", key, raw)
	}
	if seconds <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}
	return time.Duration(seconds) * time.Second, nil
}

func getEnvPositiveInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be an integer", key, raw)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}
	return value, nil
}
