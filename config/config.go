// Package config loads the orchestrator's environment-supplied
// configuration: the ambient inputs that select logging verbosity, the
// optional shared cache backend, optional skill-library storage, and
// optional analytics sink — everything else (planning algorithm, embedding
// model, tool catalogs) is wired in code, not read from the environment.
//
// # Environment variables
//
//	ORCHESTRATOR_LOG_LEVEL       - log verbosity: debug|info|warn|error (default: "info")
//	ORCHESTRATOR_CACHE_URL       - Redis connection URL for the shared registry/search
//	                                cache (optional; in-process caching only when unset)
//	ORCHESTRATOR_SKILL_DIR       - filesystem root for skill-library persistence
//	                                (optional; skill persistence disabled when unset)
//	ORCHESTRATOR_ANALYTICS_SINK  - analytics sink selector: none|stdout (default: "none")
package config

import (
	"os"

	"github.com/goplan/orchestrator/orcherr"
)

// AnalyticsSink closes the set of analytics destinations a deployment may
// select. Concrete sink implementations live outside this package; Config
// only carries the caller's selection.
type AnalyticsSink string

const (
	AnalyticsSinkNone   AnalyticsSink = "none"
	AnalyticsSinkStdout AnalyticsSink = "stdout"
)

// Config is the orchestrator's environment-derived configuration.
type Config struct {
	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string
	// CacheURL is a Redis connection URL for the shared registry/search
	// cache. Empty disables the shared cache.
	CacheURL string
	// SkillDir is the filesystem root the skills package persists under.
	// Empty disables skill-library persistence.
	SkillDir string
	// AnalyticsSink selects where analytics events are sent.
	AnalyticsSink AnalyticsSink
}

// Load reads Config from the process environment, applying defaults for
// unset variables and rejecting an unrecognized ORCHESTRATOR_ANALYTICS_SINK.
func Load() (Config, error) {
	cfg := Config{
		LogLevel:      envOr("ORCHESTRATOR_LOG_LEVEL", "info"),
		CacheURL:      os.Getenv("ORCHESTRATOR_CACHE_URL"),
		SkillDir:      os.Getenv("ORCHESTRATOR_SKILL_DIR"),
		AnalyticsSink: AnalyticsSink(envOr("ORCHESTRATOR_ANALYTICS_SINK", string(AnalyticsSinkNone))),
	}
	switch cfg.AnalyticsSink {
	case AnalyticsSinkNone, AnalyticsSinkStdout:
	default:
		return Config{}, orcherr.Newf(orcherr.ValidationError, "ORCHESTRATOR_ANALYTICS_SINK: unrecognized sink %q", cfg.AnalyticsSink)
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, orcherr.Newf(orcherr.ValidationError, "ORCHESTRATOR_LOG_LEVEL: unrecognized level %q", cfg.LogLevel)
	}
	return cfg, nil
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
