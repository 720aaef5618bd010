// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Payment providers
	PaystackSecretKey     string // Verifies inbound Paystack webhooks, authorizes payouts
	FlutterwaveSecretHash string // Verifies inbound Flutterwave webhooks (optional)
	PaystackBaseURL       string // Overridable for tests

	// Escrow settings
	PlatformFeePercent int    // Platform cut of each booking payment
	Currency           string // ISO currency code for payouts

	// Security
	AdminSecret  string // Protects release/admin endpoints
	RateLimitRPM int

	// Observability
	OTLPEndpoint string // OpenTelemetry collector; tracing disabled if empty
}

const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultPaystackBaseURL = "https://api.paystack.co"
	DefaultFeePercent      = 15
	DefaultCurrency        = "NGN"
	DefaultRateLimit       = 120
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", DefaultPort),
		Env:                   getEnv("ENV", DefaultEnv),
		LogLevel:              getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:           os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		PaystackSecretKey:     os.Getenv("PAYSTACK_SECRET_KEY"),
		FlutterwaveSecretHash: os.Getenv("FLUTTERWAVE_SECRET_HASH"),
		PaystackBaseURL:       getEnv("PAYSTACK_BASE_URL", DefaultPaystackBaseURL),
		PlatformFeePercent:    getEnvInt("PLATFORM_FEE_PERCENT", DefaultFeePercent),
		Currency:              getEnv("CURRENCY", DefaultCurrency),
		AdminSecret:           os.Getenv("ADMIN_SECRET"),
		RateLimitRPM:          getEnvInt("RATE_LIMIT_RPM", DefaultRateLimit),
		OTLPEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.PaystackSecretKey == "" && c.FlutterwaveSecretHash == "" {
		return fmt.Errorf("at least one of PAYSTACK_SECRET_KEY or FLUTTERWAVE_SECRET_HASH is required")
	}

	if c.PlatformFeePercent < 0 || c.PlatformFeePercent > 100 {
		return fmt.Errorf("PLATFORM_FEE_PERCENT must be between 0 and 100, got %d", c.PlatformFeePercent)
	}

	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
