/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// PrefsBackend selects where preferences are stored.
type PrefsBackend string

const (
	PrefsMemory   PrefsBackend = "memory"
	PrefsSQLite   PrefsBackend = "sqlite"
	PrefsPostgres PrefsBackend = "postgres"
	PrefsMySQL    PrefsBackend = "mysql"
)

// EventBusBackend selects how playback events leave the process.
type EventBusBackend string

const (
	EventBusMemory EventBusBackend = "memory"
	EventBusRedis  EventBusBackend = "redis"
	EventBusNATS   EventBusBackend = "nats"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int

	// Playback defaults
	CommitTimeout time.Duration
	ChangeRate    time.Duration
	JournalSize   int
	PhasedCommit  bool

	// Preference store
	PrefsBackend PrefsBackend
	PrefsDSN     string

	// Event distribution
	EventBus      EventBusBackend
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NATSURL       string
	NATSToken     string
	InstanceID    string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// JWTSigningKey enables bearer token checks on mutating API routes when set.
	JWTSigningKey string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"TIMELAPSE_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"TIMELAPSE_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"TIMELAPSE_HTTP_PORT"}, 8080),

		CommitTimeout: getEnvDurationAny([]string{"TIMELAPSE_COMMIT_TIMEOUT"}, 2*time.Second),
		ChangeRate:    getEnvDurationAny([]string{"TIMELAPSE_CHANGE_RATE"}, time.Second),
		JournalSize:   getEnvIntAny([]string{"TIMELAPSE_JOURNAL_SIZE"}, 1024),
		PhasedCommit:  getEnvBoolAny([]string{"TIMELAPSE_PHASED_COMMIT"}, true),

		PrefsBackend: PrefsBackend(strings.ToLower(getEnvAny([]string{"TIMELAPSE_PREFS_BACKEND"}, string(PrefsMemory)))),
		PrefsDSN:     getEnvAny([]string{"TIMELAPSE_PREFS_DSN"}, ""),

		EventBus:      EventBusBackend(strings.ToLower(getEnvAny([]string{"TIMELAPSE_EVENTBUS"}, string(EventBusMemory)))),
		RedisAddr:     getEnvAny([]string{"TIMELAPSE_REDIS_ADDR", "REDIS_ADDR"}, "localhost:6379"),
		RedisPassword: getEnvAny([]string{"TIMELAPSE_REDIS_PASSWORD", "REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"TIMELAPSE_REDIS_DB", "REDIS_DB"}, 0),
		NATSURL:       getEnvAny([]string{"TIMELAPSE_NATS_URL", "NATS_URL"}, "nats://localhost:4222"),
		NATSToken:     getEnvAny([]string{"TIMELAPSE_NATS_TOKEN", "NATS_TOKEN"}, ""),
		InstanceID:    getEnvAny([]string{"TIMELAPSE_INSTANCE_ID"}, ""),

		TracingEnabled:    getEnvBoolAny([]string{"TIMELAPSE_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"TIMELAPSE_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"TIMELAPSE_TRACING_SAMPLE_RATE"}, 1.0),

		JWTSigningKey: getEnvAny([]string{"TIMELAPSE_JWT_SIGNING_KEY", "JWT_SIGNING_KEY"}, ""),
	}

	switch cfg.PrefsBackend {
	case PrefsMemory:
	case PrefsSQLite:
		if cfg.PrefsDSN == "" {
			cfg.PrefsDSN = "timelapse.db"
		}
	case PrefsPostgres, PrefsMySQL:
		if cfg.PrefsDSN == "" {
			return nil, fmt.Errorf("TIMELAPSE_PREFS_DSN must be provided for the %s preference backend", cfg.PrefsBackend)
		}
	default:
		return nil, fmt.Errorf("unsupported preference backend %q", cfg.PrefsBackend)
	}

	switch cfg.EventBus {
	case EventBusMemory, EventBusRedis, EventBusNATS:
	default:
		return nil, fmt.Errorf("unsupported event bus %q", cfg.EventBus)
	}

	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		return nil, fmt.Errorf("TIMELAPSE_HTTP_PORT %d out of range", cfg.HTTPPort)
	}
	if cfg.CommitTimeout <= 0 {
		return nil, fmt.Errorf("TIMELAPSE_COMMIT_TIMEOUT must be positive")
	}
	if cfg.ChangeRate <= 0 {
		return nil, fmt.Errorf("TIMELAPSE_CHANGE_RATE must be positive")
	}
	if cfg.JournalSize <= 0 {
		return nil, fmt.Errorf("TIMELAPSE_JOURNAL_SIZE must be positive")
	}
	if cfg.TracingSampleRate < 0 || cfg.TracingSampleRate > 1 {
		return nil, fmt.Errorf("TIMELAPSE_TRACING_SAMPLE_RATE must be within [0,1]")
	}

	if cfg.InstanceID == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.InstanceID = host
		}
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

// HTTPAddr returns the listen address for the HTTP API.
func (c *Config) HTTPAddr() string {
	return net.JoinHostPort(c.HTTPBind, strconv.Itoa(c.HTTPPort))
}

// IsProduction reports whether the environment is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"ENVIRONMENT":         "use TIMELAPSE_ENV",
		"TRACING_ENABLED":     "use TIMELAPSE_TRACING_ENABLED",
		"OTLP_ENDPOINT":       "use TIMELAPSE_OTLP_ENDPOINT",
		"TRACING_SAMPLE_RATE": "use TIMELAPSE_TRACING_SAMPLE_RATE",
		"COMMIT_TIMEOUT":      "use TIMELAPSE_COMMIT_TIMEOUT",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvDurationAny returns the first set duration from keys, or def. Bare
// integers are read as milliseconds.
func getEnvDurationAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		v := strings.TrimSpace(os.Getenv(k))
		if v == "" {
			continue
		}
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}
