package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	"gopower/domain/power"
	"gopower/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Simulation SimulationConfig
	Database   DatabaseConfig
	Server     ServerConfig
	Paths      PathConfig
}

// SimulationConfig holds the sweep defaults; CLI flags override them
type SimulationConfig struct {
	ModelFile string
	Plan      power.Plan
}

// DatabaseConfig holds the results store connection. Postgres URLs use
// lib/pq, anything else is treated as a SQLite path.
type DatabaseConfig struct {
	URL string
}

// ServerConfig holds report server settings
type ServerConfig struct {
	Port string
}

// PathConfig holds file system paths
type PathConfig struct {
	OutputDir string
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := &Config{
		Simulation: loadSimulationConfig(),
		Database:   DatabaseConfig{URL: getEnvOrDefault("DATABASE_URL", "gopower.db")},
		Server:     ServerConfig{Port: getEnvOrDefault("PORT", "8080")},
		Paths:      PathConfig{OutputDir: getEnvOrDefault("OUTPUT_DIR", "out")},
	}

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

func loadSimulationConfig() SimulationConfig {
	plan := power.DefaultPlan()
	plan.From = getEnvIntOrDefault("POWER_N_FROM", plan.From)
	plan.To = getEnvIntOrDefault("POWER_N_TO", plan.To)
	plan.Step = getEnvIntOrDefault("POWER_N_STEP", plan.Step)
	plan.Replications = getEnvIntOrDefault("POWER_REPLICATIONS", plan.Replications)
	plan.ConfirmReplications = getEnvIntOrDefault("POWER_CONFIRM_REPLICATIONS", plan.Replications)
	plan.MCDraws = getEnvIntOrDefault("POWER_MC_DRAWS", plan.MCDraws)
	plan.CILevel = getEnvFloatOrDefault("POWER_CI_LEVEL", plan.CILevel)
	plan.TargetPower = getEnvFloatOrDefault("POWER_TARGET", plan.TargetPower)
	plan.Seed = getEnvInt64OrDefault("POWER_SEED", plan.Seed)
	plan.Workers = ResolveWorkers(getEnvIntOrDefault("POWER_WORKERS", 0))
	plan.StopAtTarget = getEnvBoolOrDefault("POWER_STOP_AT_TARGET", false)
	plan.Targets = getEnvListOrDefault("POWER_TARGETS", nil)

	return SimulationConfig{
		ModelFile: getEnvOrDefault("POWER_MODEL_FILE", ""),
		Plan:      plan,
	}
}

// ResolveWorkers maps a worker count of zero or less to the number of CPUs
func ResolveWorkers(n int) int {
	if n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

func validateConfig(config *Config) error {
	if err := config.Simulation.Plan.Validate(); err != nil {
		return errors.WithCode(errors.CodeConfigInvalid, err)
	}
	if config.Database.URL == "" {
		return errors.ConfigInvalid("DATABASE_URL cannot be empty")
	}
	if config.Paths.OutputDir == "" {
		return errors.ConfigInvalid("OUTPUT_DIR cannot be empty")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
