package config

import (
	"log"
	"math/big"
	"time"

	"github.com/joho/godotenv"
	"github.com/wallethub-hq/intentrunner/pkg/logger"
)

// Config holds the configuration for the intent pipeline service
type Config struct {
	MetricsPort      string
	SQLitePath       string
	ProviderTimeout  time.Duration
	QuoteMaxAge      time.Duration
	GasWarnThreshold *big.Int // wei; preview warns above this gas price
	SlippageWarnBps  int
	ViolationLogSize int
	ViolationLogTTL  time.Duration
	TelemetryBuffer  int
	CircuitBreaker   CircuitBreakerConfig
	LoggerConfig     LoggerConfig
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	metricsPort, err := GetEnvMetricsPort()
	if err != nil {
		return nil, err
	}

	providerTimeout, err := GetEnvProviderTimeout()
	if err != nil {
		return nil, err
	}

	quoteMaxAge, err := GetEnvQuoteMaxAge()
	if err != nil {
		return nil, err
	}

	gasWarnThreshold, err := GetEnvGasWarnThreshold()
	if err != nil {
		return nil, err
	}

	slippageWarnBps, err := GetEnvSlippageWarnBps()
	if err != nil {
		return nil, err
	}

	violationLogSize, err := GetEnvViolationLogSize()
	if err != nil {
		return nil, err
	}

	violationLogTTL, err := GetEnvViolationLogTTL()
	if err != nil {
		return nil, err
	}

	telemetryBuffer, err := GetEnvTelemetryBuffer()
	if err != nil {
		return nil, err
	}

	cbEnabled, err := GetEnvCircuitBreakerEnabled()
	if err != nil {
		return nil, err
	}

	cbThreshold, err := GetEnvCircuitBreakerThreshold()
	if err != nil {
		return nil, err
	}

	cbWindow, err := GetEnvCircuitBreakerWindow()
	if err != nil {
		return nil, err
	}

	cbReset, err := GetEnvCircuitBreakerReset()
	if err != nil {
		return nil, err
	}

	logLevel, err := GetEnvLogLevel()
	if err != nil {
		return nil, err
	}

	logColoring, err := GetEnvLogColoring()
	if err != nil {
		return nil, err
	}

	return &Config{
		MetricsPort:      metricsPort,
		SQLitePath:       GetEnvSQLitePath(),
		ProviderTimeout:  providerTimeout,
		QuoteMaxAge:      quoteMaxAge,
		GasWarnThreshold: gasWarnThreshold,
		SlippageWarnBps:  slippageWarnBps,
		ViolationLogSize: violationLogSize,
		ViolationLogTTL:  violationLogTTL,
		TelemetryBuffer:  telemetryBuffer,
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        cbEnabled,
			Threshold:      cbThreshold,
			WindowDuration: cbWindow,
			ResetTimeout:   cbReset,
		},
		LoggerConfig: LoggerConfig{
			Level:    logLevel,
			Coloring: logColoring,
		},
	}, nil
}
