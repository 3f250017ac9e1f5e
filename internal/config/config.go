// Package config provides configuration for the supervisor.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the supervisor configuration. Heartbeat cadence and the stale
// timeout are policy inputs shared by workers and the reaper; nothing here is
// a protocol constant.
type Config struct {
	// Server settings
	WorkerPort   int
	ConsumerPort int

	// Database
	DatabaseURL string

	// Liveness protocol
	HeartbeatInterval    time.Duration
	StaleMultiplier      int
	ReaperTick           time.Duration
	ReaperAlertThreshold int

	// Store access
	StoreTimeout time.Duration

	// Worker-side retry/backoff (served to clients, used by pkg/agentapi)
	RetryMaxAttempts  int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
	EmitQueueSize     int

	// Retention
	RetentionWindow time.Duration
	ArchiveSchedule string

	// Logging
	LogLevel string
}

// StaleTimeout returns the heartbeat timeout window: interval * multiplier.
func (c *Config) StaleTimeout() time.Duration {
	return c.HeartbeatInterval * time.Duration(c.StaleMultiplier)
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		WorkerPort:           getEnvInt("WORKER_PORT", 8080),
		ConsumerPort:         getEnvInt("CONSUMER_PORT", 8081),
		DatabaseURL:          getEnv("DATABASE_URL", "file:warden.db?cache=shared&mode=rwc"),
		HeartbeatInterval:    getEnvDuration("HEARTBEAT_INTERVAL_MS", 30000),
		StaleMultiplier:      getEnvInt("STALE_MULTIPLIER", 3),
		ReaperTick:           getEnvDuration("REAPER_TICK_MS", 15000),
		ReaperAlertThreshold: getEnvInt("REAPER_ALERT_THRESHOLD", 5),
		StoreTimeout:         getEnvDuration("STORE_TIMEOUT_MS", 5000),
		RetryMaxAttempts:     getEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryInitialDelay:    getEnvDuration("RETRY_INITIAL_DELAY_MS", 1000),
		RetryMaxDelay:        getEnvDuration("RETRY_MAX_DELAY_MS", 30000),
		EmitQueueSize:        getEnvInt("EMIT_QUEUE_SIZE", 256),
		RetentionWindow:      getEnvDuration("RETENTION_MS", int(30*24*time.Hour/time.Millisecond)),
		ArchiveSchedule:      getEnv("ARCHIVE_SCHEDULE", "0 3 * * *"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultMs int) time.Duration {
	return time.Duration(getEnvInt(key, defaultMs)) * time.Millisecond
}
