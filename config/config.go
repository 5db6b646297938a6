// Package config loads service settings from the environment. A local .env
// file is honored when present so development setups need no shell exports.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Settings holds everything the service needs at startup. The pool limits
// are deliberate configuration, not constants: only the 30 minute idle
// timeout is an inherited default, the rest are deployment-chosen.
type Settings struct {
	HTTPAddr string

	PoolCapacity     int
	IdleTimeout      time.Duration
	SweepInterval    time.Duration
	ConstructTimeout time.Duration

	LogLevel  string
	LogFormat string
}

// Load reads settings from the environment with defaults. A missing .env
// file is not an error.
func Load() (*Settings, error) {
	_ = godotenv.Load()

	s := &Settings{
		HTTPAddr:  getEnv("AGENTDOCK_HTTP_ADDR", ":8080"),
		LogLevel:  getEnv("AGENTDOCK_LOG_LEVEL", "info"),
		LogFormat: getEnv("AGENTDOCK_LOG_FORMAT", "json"),
	}

	var err error
	if s.PoolCapacity, err = getEnvInt("AGENTDOCK_POOL_CAPACITY", 16); err != nil {
		return nil, err
	}
	if s.IdleTimeout, err = getEnvDuration("AGENTDOCK_IDLE_TIMEOUT", 30*time.Minute); err != nil {
		return nil, err
	}
	if s.SweepInterval, err = getEnvDuration("AGENTDOCK_SWEEP_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if s.ConstructTimeout, err = getEnvDuration("AGENTDOCK_CONSTRUCT_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}

	if s.PoolCapacity < 1 {
		return nil, fmt.Errorf("AGENTDOCK_POOL_CAPACITY must be at least 1, got %d", s.PoolCapacity)
	}

	return s, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
