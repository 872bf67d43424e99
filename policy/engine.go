// Package policy validates agent registrations against an OPA rego admission
// policy: allowed providers and sane generation bounds. Gating decisions on
// bias scores are deliberately not made here; score thresholds belong to the
// external release-gate consumer.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Policy decisions.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// Engine evaluates the admission policy.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates an engine from the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.admission.result"),
		rego.Module("admission.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}
	return &Engine{query: query}, nil
}

// AgentInput is the document evaluated for one registration request.
type AgentInput struct {
	Provider    string  `json:"provider"`
	ModelName   string  `json:"model_name"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Endpoint    string  `json:"endpoint,omitempty"`
}

// EvaluateAgent returns the policy decision ("allow" or "deny") and the
// denial reason when denied.
func (e *Engine) EvaluateAgent(ctx context.Context, input AgentInput) (string, string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionAllow, "", nil
	}

	obj, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return DecisionAllow, "", nil
	}
	decision, _ := obj["decision"].(string)
	reason, _ := obj["reason"].(string)
	if decision == "" {
		decision = DecisionAllow
	}
	return decision, reason, nil
}

// DefaultPolicy is the built-in admission policy.
const DefaultPolicy = `
package admission

import rego.v1

allowed_providers := {"openai", "anthropic", "groq", "together", "nvidia", "mock"}

default result := {"decision": "allow", "reason": ""}

result := {"decision": "deny", "reason": "unsupported provider"} if {
	not allowed_providers[input.provider]
}

result := {"decision": "deny", "reason": "temperature out of range"} if {
	allowed_providers[input.provider]
	input.temperature < 0
}

result := {"decision": "deny", "reason": "temperature out of range"} if {
	allowed_providers[input.provider]
	input.temperature > 2
}

result := {"decision": "deny", "reason": "max_tokens out of range"} if {
	allowed_providers[input.provider]
	input.temperature >= 0
	input.temperature <= 2
	input.max_tokens <= 0
}

result := {"decision": "deny", "reason": "max_tokens out of range"} if {
	allowed_providers[input.provider]
	input.temperature >= 0
	input.temperature <= 2
	input.max_tokens > 32768
}
`
