package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents the agent configuration sourced from the environment.
type Config struct {
	AppName         string
	ServerURL       string
	StorePath       string
	UserID          int64
	UserName        string
	SyncInterval    time.Duration
	ProbeInterval   time.Duration
	MetricsAddr     string
	ShutdownTimeout time.Duration
	OTLPEndpoint    string

	HeartbeatInterval    time.Duration
	WatchdogTimeout      time.Duration
	ReconnectBase        time.Duration
	ReconnectCap         time.Duration
	MaxReconnectAttempts int
}

// Load reads configuration from the environment while applying sensible
// defaults for local development.
func Load() (Config, error) {
	cfg := Config{
		AppName:         getEnv("APP_NAME", "family-sync"),
		ServerURL:       getEnv("SERVER_URL", "http://localhost:8080"),
		StorePath:       getEnv("STORE_PATH", "family-sync.db"),
		UserName:        getEnv("USER_NAME", ""),
		SyncInterval:    getDuration("SYNC_INTERVAL", 60*time.Second),
		ProbeInterval:   getDuration("PROBE_INTERVAL", 15*time.Second),
		MetricsAddr:     getEnv("METRICS_LISTEN_ADDR", ":9090"),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),

		HeartbeatInterval:    getDuration("WS_HEARTBEAT_INTERVAL", 30*time.Second),
		WatchdogTimeout:      getDuration("WS_WATCHDOG_TIMEOUT", 90*time.Second),
		ReconnectBase:        getDuration("WS_RECONNECT_BASE", time.Second),
		ReconnectCap:         getDuration("WS_RECONNECT_CAP", 30*time.Second),
		MaxReconnectAttempts: getInt("WS_MAX_RECONNECT_ATTEMPTS", 10),
	}
	cfg.UserID = getInt64("USER_ID", 0)

	if cfg.UserID == 0 {
		return Config{}, fmt.Errorf("USER_ID must be provided")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func getInt64(key string, fallback int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
