package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the coordinator process. Values resolve in
// order: built-in defaults, then a YAML file when one is given, then
// environment variables, then command-line flags.
type Config struct {
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	LogLevel     string   `yaml:"log_level"`
	LogJSON      bool     `yaml:"log_json"`
	DBPath       string   `yaml:"db_path"`
	CORSOrigins  []string `yaml:"cors_origins"`
	SharedSecret string   `yaml:"shared_secret"`

	NodeStaleSeconds    int `yaml:"node_stale_seconds"`
	HeartbeatTTLSeconds int `yaml:"heartbeat_ttl_seconds"`
	TaskLeaseSeconds    int `yaml:"task_lease_seconds"`
	TaskPollSeconds     int `yaml:"task_poll_seconds"`
	StaleScanSeconds    int `yaml:"stale_scan_seconds"`
	RecoveryScanSeconds int `yaml:"recovery_scan_seconds"`
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Host:                "0.0.0.0",
		Port:                8000,
		LogLevel:            "info",
		LogJSON:             false,
		DBPath:              "coordinator.db",
		CORSOrigins:         []string{"http://localhost:5173"},
		SharedSecret:        "",
		NodeStaleSeconds:    15,
		HeartbeatTTLSeconds: 60,
		TaskLeaseSeconds:    30,
		TaskPollSeconds:     2,
		StaleScanSeconds:    5,
		RecoveryScanSeconds: 3,
	}
}

// Load builds a Config from defaults, an optional YAML file, and the
// environment, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := cfg.FromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv overrides fields from the process environment
func (c *Config) FromEnv() error {
	if v := os.Getenv("COORDINATOR_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("COORDINATOR_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("COORDINATOR_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("COORDINATOR_CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitOrigins(v)
	}
	if v := os.Getenv("EDGE_MESH_SHARED_SECRET"); v != "" {
		c.SharedSecret = v
	}

	intVars := []struct {
		name   string
		target *int
	}{
		{"COORDINATOR_PORT", &c.Port},
		{"NODE_STALE_SECONDS", &c.NodeStaleSeconds},
		{"COORDINATOR_HEARTBEAT_TTL_SECONDS", &c.HeartbeatTTLSeconds},
		{"TASK_LEASE_SECONDS", &c.TaskLeaseSeconds},
		{"TASK_POLL_SECONDS", &c.TaskPollSeconds},
		{"NODE_STALE_SCAN_SECONDS", &c.StaleScanSeconds},
		{"TASK_RECOVERY_INTERVAL_SECONDS", &c.RecoveryScanSeconds},
	}
	for _, iv := range intVars {
		raw := os.Getenv(iv.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %q", iv.name, raw)
		}
		*iv.target = n
	}
	return nil
}

// Validate rejects configurations the coordinator cannot run with
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be within [1,65535], got %d", c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	positives := []struct {
		name  string
		value int
	}{
		{"node_stale_seconds", c.NodeStaleSeconds},
		{"heartbeat_ttl_seconds", c.HeartbeatTTLSeconds},
		{"task_lease_seconds", c.TaskLeaseSeconds},
		{"task_poll_seconds", c.TaskPollSeconds},
		{"stale_scan_seconds", c.StaleScanSeconds},
		{"recovery_scan_seconds", c.RecoveryScanSeconds},
	}
	for _, p := range positives {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.name, p.value)
		}
	}
	if c.HeartbeatTTLSeconds < c.NodeStaleSeconds {
		return fmt.Errorf("heartbeat_ttl_seconds (%d) must be >= node_stale_seconds (%d)",
			c.HeartbeatTTLSeconds, c.NodeStaleSeconds)
	}
	return nil
}

// ListenAddr returns the host:port the HTTP server binds to
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StaleAfter is how long a node may stay silent before it is marked STALE
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.NodeStaleSeconds) * time.Second
}

// OfflineAfter is how long a node may stay silent before it is marked OFFLINE
func (c *Config) OfflineAfter() time.Duration {
	return time.Duration(c.HeartbeatTTLSeconds) * time.Second
}

// LeaseDuration is how long a pulled task stays assigned without a result
func (c *Config) LeaseDuration() time.Duration {
	return time.Duration(c.TaskLeaseSeconds) * time.Second
}

// StaleScanInterval is the staleness sweep period
func (c *Config) StaleScanInterval() time.Duration {
	return time.Duration(c.StaleScanSeconds) * time.Second
}

// RecoveryScanInterval is the expired-lease sweep period
func (c *Config) RecoveryScanInterval() time.Duration {
	return time.Duration(c.RecoveryScanSeconds) * time.Second
}

func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
