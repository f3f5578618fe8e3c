package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/goplan/orchestrator/dispatch"
	"github.com/goplan/orchestrator/registry"
)

func TestNewAppliesDefaults(t *testing.T) {
	reg := registry.New()
	ctx := New(reg)

	require.Same(t, reg, ctx.Catalog)
	require.Equal(t, dispatch.DefaultGuardrails(), ctx.DispatchGuardrails)
	require.NotNil(t, ctx.Logger)
	require.NotNil(t, ctx.Metrics)
	require.NotNil(t, ctx.Tracer)
	require.Nil(t, ctx.Search)
}

func TestNewAppliesOptions(t *testing.T) {
	reg := registry.New()
	guardrails := dispatch.Guardrails{MaxConcurrency: 3, MaxDuration: 2 * time.Second}
	ctx := New(reg, WithDispatchGuardrails(guardrails))

	require.Equal(t, guardrails, ctx.DispatchGuardrails)
}
