// Package config handles breaker policy configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/mbd888/hazardbreaker"
	"github.com/mbd888/hazardbreaker/logging"
	"github.com/mbd888/hazardbreaker/risk"
)

// Config holds breaker policy and ambient configuration
type Config struct {
	// Hazard model weights
	Base             float64
	FailureWeight    float64
	SeasonalWeight   float64
	VolatilityWeight float64
	SeverityWeight   float64
	Threshold        float64

	// Breaker behavior
	CooldownSeconds   float64
	TimeBudgetSeconds float64
	MemoryBudgetBytes uint64

	// Ambient
	AuditLogPath string
	LogLevel     string
	LogFormat    string
	OTLPEndpoint string // OpenTelemetry collector endpoint (optional)
}

// Defaults
const (
	DefaultThreshold       = 1.0
	DefaultCooldownSeconds = 5.0
	DefaultAuditLogPath    = "circuit_audit.log"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Base:              getEnvFloat("HAZARD_BASE", 0),
		FailureWeight:     getEnvFloat("HAZARD_FAILURE_WEIGHT", 0),
		SeasonalWeight:    getEnvFloat("HAZARD_SEASONAL_WEIGHT", 0),
		VolatilityWeight:  getEnvFloat("HAZARD_VOLATILITY_WEIGHT", 0),
		SeverityWeight:    getEnvFloat("HAZARD_SEVERITY_WEIGHT", 0),
		Threshold:         getEnvFloat("HAZARD_THRESHOLD", DefaultThreshold),
		CooldownSeconds:   getEnvFloat("HAZARD_COOLDOWN_SECONDS", DefaultCooldownSeconds),
		TimeBudgetSeconds: getEnvFloat("HAZARD_TIME_BUDGET_SECONDS", 0),
		MemoryBudgetBytes: uint64(getEnvInt64("HAZARD_MEMORY_BUDGET_BYTES", 0)),
		AuditLogPath:      getEnv("AUDIT_LOG_PATH", DefaultAuditLogPath),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:         getEnv("LOG_FORMAT", DefaultLogFormat),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is coherent
func (c *Config) Validate() error {
	if c.Threshold <= 0 {
		return fmt.Errorf("HAZARD_THRESHOLD must be positive, got %g", c.Threshold)
	}
	if c.CooldownSeconds < 0 {
		return fmt.Errorf("HAZARD_COOLDOWN_SECONDS must not be negative, got %g", c.CooldownSeconds)
	}
	if c.TimeBudgetSeconds < 0 {
		return fmt.Errorf("HAZARD_TIME_BUDGET_SECONDS must not be negative, got %g", c.TimeBudgetSeconds)
	}
	return nil
}

// Params returns the configured hazard model weights.
func (c *Config) Params() risk.Params {
	return risk.Params{
		Base:             c.Base,
		FailureWeight:    c.FailureWeight,
		SeasonalWeight:   c.SeasonalWeight,
		VolatilityWeight: c.VolatilityWeight,
		SeverityWeight:   c.SeverityWeight,
		Threshold:        c.Threshold,
	}
}

// ManagerOptions returns manager options for the configured behavior,
// including a structured logger at the configured level and format. The
// audit sink is opened separately (audit.Open(c.AuditLogPath)) so the
// caller owns its lifetime.
func (c *Config) ManagerOptions() []hazardbreaker.Option {
	opts := []hazardbreaker.Option{
		hazardbreaker.WithCooldown(time.Duration(c.CooldownSeconds * float64(time.Second))),
		hazardbreaker.WithLogger(logging.New(c.LogLevel, c.LogFormat)),
	}
	if c.TimeBudgetSeconds > 0 {
		opts = append(opts, hazardbreaker.WithTimeBudget(time.Duration(c.TimeBudgetSeconds*float64(time.Second))))
	}
	if c.MemoryBudgetBytes > 0 {
		opts = append(opts, hazardbreaker.WithMemoryBudget(c.MemoryBudgetBytes))
	}
	return opts
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
