package config

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the agent service.
type Config struct {
	// Service addresses
	APIPort    string
	HealthPort string
	NatsURL    string

	// Engine endpoints
	EngineHTTPURL string
	EngineWSURL   string

	// Pipeline settings
	ExecutionTimeoutSeconds int
	SafeModeEnabled         bool
	RollbackEnabled         bool
	MetricsEnabled          bool

	// Preview settings
	PreviewTTLSeconds    int
	PreviewSweepSeconds  int
	MaxPendingPreviews   int
	AutoApproveThreshold string

	// Rollback history settings
	RollbackMaxEntries   int
	RollbackMaxAgeHours  int
	RollbackSweepSeconds int

	// Policy rules file (optional; defaults compiled in)
	SafetyRulesPath string
}

// Load reads configuration from environment variables and .env file.
func Load() (*Config, error) {
	envPaths := []string{
		".env",
		"../.env",
		"/app/.env", // Docker
	}

	envLoaded := false
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			log.Printf("Loaded config from: %s", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		log.Printf("No .env file found, using environment variables")
	}

	config := &Config{
		APIPort:    getEnvOrDefault("API_PORT", "8084"),
		HealthPort: getEnvOrDefault("HEALTH_PORT", "8082"),
		NatsURL:    getEnvOrDefault("NATS_URL", "nats://localhost:4222"),

		EngineHTTPURL: getEnvOrDefault("ENGINE_HTTP_URL", "http://localhost:30010"),
		EngineWSURL:   getEnvOrDefault("ENGINE_WS_URL", "ws://localhost:30020"),

		ExecutionTimeoutSeconds: parseIntOrDefault("EXECUTION_TIMEOUT_SECONDS", 30),
		SafeModeEnabled:         getEnvOrDefault("SAFE_MODE_ENABLED", "true") == "true",
		RollbackEnabled:         getEnvOrDefault("ROLLBACK_ENABLED", "true") == "true",
		MetricsEnabled:          getEnvOrDefault("METRICS_ENABLED", "true") == "true",

		PreviewTTLSeconds:    parseIntOrDefault("PREVIEW_TTL_SECONDS", 300),
		PreviewSweepSeconds:  parseIntOrDefault("PREVIEW_SWEEP_SECONDS", 60),
		MaxPendingPreviews:   parseIntOrDefault("MAX_PENDING_PREVIEWS", 100),
		AutoApproveThreshold: getEnvOrDefault("AUTO_APPROVE_THRESHOLD", "low"),

		RollbackMaxEntries:   parseIntOrDefault("ROLLBACK_MAX_ENTRIES", 1000),
		RollbackMaxAgeHours:  parseIntOrDefault("ROLLBACK_MAX_AGE_HOURS", 24),
		RollbackSweepSeconds: parseIntOrDefault("ROLLBACK_SWEEP_SECONDS", 300),

		SafetyRulesPath: getEnvOrDefault("SAFETY_RULES_PATH", ""),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.APIPort == "" {
		return fmt.Errorf("API_PORT is required")
	}

	if c.EngineHTTPURL == "" {
		return fmt.Errorf("ENGINE_HTTP_URL is required")
	}

	if c.ExecutionTimeoutSeconds < 1 {
		return fmt.Errorf("EXECUTION_TIMEOUT_SECONDS must be at least 1")
	}

	if c.MaxPendingPreviews < 1 {
		return fmt.Errorf("MAX_PENDING_PREVIEWS must be at least 1")
	}

	if c.RollbackMaxEntries < 1 {
		return fmt.Errorf("ROLLBACK_MAX_ENTRIES must be at least 1")
	}

	return nil
}

// Helper functions
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}
