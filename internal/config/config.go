/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/friendsincode/cueloop/internal/monitor"
	"github.com/friendsincode/cueloop/internal/orchestrator"
	"github.com/friendsincode/cueloop/internal/transition"
)

// StorageBackend selects where the playlist is persisted.
type StorageBackend string

const (
	StorageFile     StorageBackend = "file"
	StorageSQLite   StorageBackend = "sqlite"
	StoragePostgres StorageBackend = "postgres"
	StorageMySQL    StorageBackend = "mysql"
)

// IsDatabase reports whether the backend is served by gorm.
func (b StorageBackend) IsDatabase() bool {
	return b == StorageSQLite || b == StoragePostgres || b == StorageMySQL
}

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment    string
	LogLevel       string
	LogFormat      string
	HTTPBind       string
	HTTPPort       int
	StorageBackend StorageBackend
	StateFile      string
	DBDSN          string

	// Player behaviour
	AutoAdvance        bool
	TransitionsEnabled bool
	TransitionSeconds  int
	ApplauseEnabled    bool
	ApplauseCue        string
	FadeEnabled        bool
	FadeIn             time.Duration
	FadeOut            time.Duration
	FadeSettle         time.Duration
	TargetVolume       int
	PollInterval       time.Duration
	ProgressInterval   time.Duration
	AdvanceCooldown    time.Duration
	ErrorSkipDelay     time.Duration
	CueTimeout         time.Duration

	// Event export
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	NATSURL        string
	EventsPrefix   string
	EventsExcluded []string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64
}

// PlayerSettings groups the per-component settings derived from Config.
type PlayerSettings struct {
	Engine     orchestrator.Settings
	Monitor    monitor.Settings
	Transition transition.Settings
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:    getEnvAny([]string{"CUELOOP_ENV"}, "development"),
		LogLevel:       getEnvAny([]string{"CUELOOP_LOG_LEVEL"}, ""),
		LogFormat:      strings.ToLower(getEnvAny([]string{"CUELOOP_LOG_FORMAT"}, "console")),
		HTTPBind:       getEnvAny([]string{"CUELOOP_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:       getEnvIntAny([]string{"CUELOOP_HTTP_PORT"}, 8080),
		StorageBackend: StorageBackend(strings.ToLower(getEnvAny([]string{"CUELOOP_STORAGE_BACKEND"}, string(StorageFile)))),
		StateFile:      getEnvAny([]string{"CUELOOP_STATE_FILE"}, "./cueloop-playlist.json"),
		DBDSN:          getEnvAny([]string{"CUELOOP_DB_DSN"}, ""),

		AutoAdvance:        getEnvBoolAny([]string{"CUELOOP_AUTO_ADVANCE"}, true),
		TransitionsEnabled: getEnvBoolAny([]string{"CUELOOP_TRANSITIONS_ENABLED"}, true),
		TransitionSeconds:  getEnvIntAny([]string{"CUELOOP_TRANSITION_SECONDS"}, 10),
		ApplauseEnabled:    getEnvBoolAny([]string{"CUELOOP_APPLAUSE_ENABLED"}, true),
		ApplauseCue:        getEnvAny([]string{"CUELOOP_APPLAUSE_CUE"}, "applause"),
		FadeEnabled:        getEnvBoolAny([]string{"CUELOOP_FADE_ENABLED"}, true),
		FadeIn:             getEnvMillisAny([]string{"CUELOOP_FADE_IN_MS"}, 2000),
		FadeOut:            getEnvMillisAny([]string{"CUELOOP_FADE_OUT_MS"}, 3000),
		FadeSettle:         getEnvMillisAny([]string{"CUELOOP_FADE_SETTLE_MS"}, 300),
		TargetVolume:       getEnvIntAny([]string{"CUELOOP_TARGET_VOLUME"}, 100),
		PollInterval:       getEnvMillisAny([]string{"CUELOOP_POLL_INTERVAL_MS"}, 100),
		ProgressInterval:   getEnvMillisAny([]string{"CUELOOP_PROGRESS_INTERVAL_MS"}, 500),
		AdvanceCooldown:    getEnvMillisAny([]string{"CUELOOP_ADVANCE_COOLDOWN_MS"}, 1000),
		ErrorSkipDelay:     getEnvMillisAny([]string{"CUELOOP_ERROR_SKIP_MS"}, 2000),
		CueTimeout:         getEnvMillisAny([]string{"CUELOOP_CUE_TIMEOUT_MS"}, 15000),

		RedisAddr:      getEnvAny([]string{"CUELOOP_REDIS_ADDR"}, ""),
		RedisPassword:  getEnvAny([]string{"CUELOOP_REDIS_PASSWORD"}, ""),
		RedisDB:        getEnvIntAny([]string{"CUELOOP_REDIS_DB"}, 0),
		NATSURL:        getEnvAny([]string{"CUELOOP_NATS_URL"}, ""),
		EventsPrefix:   getEnvAny([]string{"CUELOOP_EVENTS_PREFIX"}, "cueloop.events"),
		EventsExcluded: getEnvListAny([]string{"CUELOOP_EVENTS_EXCLUDE"}, []string{"player.progress", "engine.transition_tick"}),

		TracingEnabled:    getEnvBoolAny([]string{"CUELOOP_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"CUELOOP_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"CUELOOP_TRACING_SAMPLE_RATE"}, 1.0),
	}

	if cfg.LogFormat != "console" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("CUELOOP_LOG_FORMAT must be console or json, got %q", cfg.LogFormat)
	}

	switch cfg.StorageBackend {
	case StorageFile:
		if cfg.StateFile == "" {
			return nil, fmt.Errorf("CUELOOP_STATE_FILE must be provided for the file backend")
		}
	case StorageSQLite, StoragePostgres, StorageMySQL:
		if cfg.DBDSN == "" {
			return nil, fmt.Errorf("CUELOOP_DB_DSN must be provided for the %s backend", cfg.StorageBackend)
		}
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.StorageBackend)
	}

	if cfg.TargetVolume < 0 || cfg.TargetVolume > 100 {
		return nil, fmt.Errorf("CUELOOP_TARGET_VOLUME must be between 0 and 100, got %d", cfg.TargetVolume)
	}
	if cfg.TransitionSeconds < 0 {
		return nil, fmt.Errorf("CUELOOP_TRANSITION_SECONDS must not be negative, got %d", cfg.TransitionSeconds)
	}
	if cfg.RedisDB < 0 {
		return nil, fmt.Errorf("CUELOOP_REDIS_DB must not be negative, got %d", cfg.RedisDB)
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("CUELOOP_POLL_INTERVAL_MS must be positive")
	}

	return cfg, nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

// EventExportEnabled reports whether any remote event sink is configured.
func (c *Config) EventExportEnabled() bool {
	return c.RedisAddr != "" || c.NATSURL != ""
}

// Player projects the configuration onto the engine, monitor and transition
// settings.
func (c *Config) Player() PlayerSettings {
	trans := transition.DefaultSettings()
	trans.Enabled = c.TransitionsEnabled
	trans.Seconds = c.TransitionSeconds
	trans.CueEnabled = c.ApplauseEnabled
	trans.CueName = c.ApplauseCue
	trans.CueTimeout = c.CueTimeout

	return PlayerSettings{
		Engine: orchestrator.Settings{
			AutoAdvance:     c.AutoAdvance,
			FadeEnabled:     c.FadeEnabled,
			AdvanceCooldown: c.AdvanceCooldown,
			ErrorSkipDelay:  c.ErrorSkipDelay,
		},
		Monitor: monitor.Settings{
			FadeIn:           c.FadeIn,
			FadeOut:          c.FadeOut,
			FadeSettle:       c.FadeSettle,
			TargetVolume:     c.TargetVolume,
			PollInterval:     c.PollInterval,
			ProgressInterval: c.ProgressInterval,
		},
		Transition: trans,
	}
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

// getEnvMillisAny reads a millisecond count as a duration.
func getEnvMillisAny(keys []string, defMillis int) time.Duration {
	return time.Duration(getEnvIntAny(keys, defMillis)) * time.Millisecond
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

// getEnvListAny reads a comma separated list. An explicitly empty value is
// indistinguishable from unset, so "none" clears the default.
func getEnvListAny(keys []string, def []string) []string {
	for _, k := range keys {
		v := strings.TrimSpace(os.Getenv(k))
		if v == "" {
			continue
		}
		if strings.EqualFold(v, "none") {
			return nil
		}
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return def
}
