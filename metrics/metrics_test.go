package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()

	require.NoError(t, Register(reg))
	// Re-registration must tolerate already-registered collectors.
	require.NoError(t, Register(reg))
}

func TestObserveHelpers(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))

	ObserveEvaluation("success")
	ObserveEvaluation("failed")
	ObserveProviderCall("openai", 120*time.Millisecond)
	ObserveRun("completed")

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
