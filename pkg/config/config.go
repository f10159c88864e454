// Package config provides configuration management for the OTP validator.
// Loads settings from environment variables and .env files with validation and defaults.
// The CLI only needs the validation client settings; the gateway additionally
// requires its HMAC secret.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"otp-validator/pkg/auth"
	"otp-validator/pkg/client"

	"github.com/joho/godotenv"
)

// Config holds all configuration settings for the gateway and CLI.
type Config struct {
	// Validation Client Configuration
	ClientID           string   // API client id issued by the validation service
	APIKey             string   // Base64 API key shared with the validation service
	APIURLs            []string // Validation server endpoints queried in parallel
	TimeoutSeconds     int      // Deadline for one validation across all servers
	HTTPTimeoutSeconds int      // Per-request HTTP timeout
	RetryAttempts      int      // Extra attempts when no server answers at all

	// Gateway Configuration
	GatewayHost         string // Gateway HTTP bind host address
	GatewayPort         string // Gateway HTTP bind port
	GatewayGRPCAddr     string // Address of the gRPC health endpoint
	GatewayDBPath       string // File path for the gateway SQLite database
	GatewayHMACKeyID    string // Key identifier accepted by the gateway
	GatewayHMACSecret   string // Secret for gateway request signing
	RequireTokenBinding bool   // Reject OTPs whose token is not bound to the claimed user

	// Security
	ClockSkewSeconds int // Maximum allowed time difference for HMAC timestamp validation

	// Logging
	LogLevel string // Log level (debug, info, warn, error)
}

// Load reads configuration from environment variables and .env file.
// Automatically loads .env file if present, with environment variables taking precedence.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if file doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		ClientID:           getEnv("OTP_CLIENT_ID", ""),
		APIKey:             getEnv("OTP_API_KEY", ""),
		APIURLs:            getEnvAsList("OTP_API_URLS", client.DefaultAPIURLs()),
		TimeoutSeconds:     getEnvAsInt("OTP_TIMEOUT_SECONDS", 5),
		HTTPTimeoutSeconds: getEnvAsInt("OTP_HTTP_TIMEOUT_SECONDS", 10),
		RetryAttempts:      getEnvAsInt("OTP_RETRY_ATTEMPTS", 0),

		GatewayHost:         getEnv("GATEWAY_HOST", "0.0.0.0"),
		GatewayPort:         getEnv("GATEWAY_PORT", "8080"),
		GatewayGRPCAddr:     getEnv("GATEWAY_GRPC_ADDR", ":9090"),
		GatewayDBPath:       getEnv("GATEWAY_DB_PATH", "gateway.db"),
		GatewayHMACKeyID:    getEnv("GATEWAY_HMAC_KEY_ID", "gw-kid-1"),
		GatewayHMACSecret:   getEnv("GATEWAY_HMAC_SECRET", ""),
		RequireTokenBinding: getEnvAsBool("REQUIRE_TOKEN_BINDING", false),

		ClockSkewSeconds: getEnvAsInt("CLOCK_SKEW_SECONDS", 300),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return config, config.validate()
}

// validate ensures the validation client credentials are present and usable.
func (c *Config) validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("OTP_CLIENT_ID must be set")
	}
	if c.APIKey == "" {
		return fmt.Errorf("OTP_API_KEY must be set")
	}
	if _, err := auth.DecodeKey(c.APIKey); err != nil {
		return fmt.Errorf("OTP_API_KEY: %w", err)
	}
	if len(c.APIURLs) == 0 {
		return fmt.Errorf("OTP_API_URLS must list at least one server")
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("OTP_TIMEOUT_SECONDS must be positive")
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("OTP_RETRY_ATTEMPTS must not be negative")
	}
	return nil
}

// ValidateGateway checks the settings only the gateway service needs.
func (c *Config) ValidateGateway() error {
	if c.GatewayHMACSecret == "" {
		return fmt.Errorf("GATEWAY_HMAC_SECRET must be set")
	}
	if c.GatewayPort == "" {
		return fmt.Errorf("GATEWAY_PORT must be set")
	}
	return nil
}

// GetGatewayAddr returns the complete address for the gateway HTTP server.
func (c *Config) GetGatewayAddr() string {
	return fmt.Sprintf("%s:%s", c.GatewayHost, c.GatewayPort)
}

// GetClockSkew returns the clock skew tolerance as a time.Duration.
func (c *Config) GetClockSkew() time.Duration {
	return time.Duration(c.ClockSkewSeconds) * time.Second
}

// GetTimeout returns the validation deadline.
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GetHTTPTimeout returns the per-request HTTP timeout.
func (c *Config) GetHTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// GetGatewaySecrets returns the HMAC secrets map accepted by the gateway.
func (c *Config) GetGatewaySecrets() map[string]string {
	secrets := make(map[string]string)
	if c.GatewayHMACSecret != "" {
		secrets[c.GatewayHMACKeyID] = c.GatewayHMACSecret
	}
	return secrets
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as integer or returns a default.
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as boolean or returns a default.
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma separated environment variable, dropping empty
// entries. Returns the default when the variable is unset or lists nothing.
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}
