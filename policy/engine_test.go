package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(context.Background(), DefaultPolicy)
	require.NoError(t, err)
	return e
}

func TestEvaluateAgentAllow(t *testing.T) {
	e := newTestEngine(t)

	decision, reason, err := e.EvaluateAgent(context.Background(), AgentInput{
		Provider:    "openai",
		ModelName:   "gpt-4o",
		Temperature: 0.7,
		MaxTokens:   1024,
	})
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, decision)
	assert.Empty(t, reason)
}

func TestEvaluateAgentDeny(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		input  AgentInput
		reason string
	}{
		{
			name:   "unsupported provider",
			input:  AgentInput{Provider: "homebrew", ModelName: "m", Temperature: 0.5, MaxTokens: 512},
			reason: "unsupported provider",
		},
		{
			name:   "temperature too high",
			input:  AgentInput{Provider: "anthropic", ModelName: "m", Temperature: 3.0, MaxTokens: 512},
			reason: "temperature out of range",
		},
		{
			name:   "temperature negative",
			input:  AgentInput{Provider: "anthropic", ModelName: "m", Temperature: -0.1, MaxTokens: 512},
			reason: "temperature out of range",
		},
		{
			name:   "max_tokens zero",
			input:  AgentInput{Provider: "groq", ModelName: "m", Temperature: 0.5, MaxTokens: 0},
			reason: "max_tokens out of range",
		},
		{
			name:   "max_tokens too large",
			input:  AgentInput{Provider: "groq", ModelName: "m", Temperature: 0.5, MaxTokens: 65536},
			reason: "max_tokens out of range",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision, reason, err := e.EvaluateAgent(ctx, tc.input)
			require.NoError(t, err)
			assert.Equal(t, DecisionDeny, decision)
			assert.Equal(t, tc.reason, reason)
		})
	}
}

func TestEvaluateAgentMockProviderAllowed(t *testing.T) {
	e := newTestEngine(t)

	decision, _, err := e.EvaluateAgent(context.Background(), AgentInput{
		Provider:    "mock",
		ModelName:   "offline",
		Temperature: 0,
		MaxTokens:   256,
	})
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, decision)
}

func TestNewEngineRejectsBrokenPolicy(t *testing.T) {
	_, err := NewEngine(context.Background(), "package admission\n\nresult := {")
	assert.Error(t, err)
}
