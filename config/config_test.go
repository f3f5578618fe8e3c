package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ORCHESTRATOR_LOG_LEVEL", "")
	t.Setenv("ORCHESTRATOR_CACHE_URL", "")
	t.Setenv("ORCHESTRATOR_SKILL_DIR", "")
	t.Setenv("ORCHESTRATOR_ANALYTICS_SINK", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "info", cfg.LogLevel)
	require.Empty(t, cfg.CacheURL)
	require.Empty(t, cfg.SkillDir)
	require.Equal(t, AnalyticsSinkNone, cfg.AnalyticsSink)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ORCHESTRATOR_LOG_LEVEL", "debug")
	t.Setenv("ORCHESTRATOR_CACHE_URL", "redis://localhost:6379")
	t.Setenv("ORCHESTRATOR_SKILL_DIR", "/var/lib/orchestrator/skills")
	t.Setenv("ORCHESTRATOR_ANALYTICS_SINK", "stdout")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "redis://localhost:6379", cfg.CacheURL)
	require.Equal(t, "/var/lib/orchestrator/skills", cfg.SkillDir)
	require.Equal(t, AnalyticsSinkStdout, cfg.AnalyticsSink)
}

func TestLoadRejectsUnknownSink(t *testing.T) {
	t.Setenv("ORCHESTRATOR_ANALYTICS_SINK", "kafka")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsUnknownLogLevel(t *testing.T) {
	t.Setenv("ORCHESTRATOR_LOG_LEVEL", "verbose")
	_, err := Load()
	require.Error(t, err)
}
