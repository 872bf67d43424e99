package domain

import (
	"fmt"
	"time"
)

// ScenarioParams carries the template-specific numeric inputs a scenario was
// generated with. The same values feed both the prompt text and the scoring
// benchmarks, so a stored scenario is sufficient to re-derive its score.
type ScenarioParams struct {
	Ticker       string  `json:"ticker,omitempty"`
	CurrentPrice float64 `json:"current_price,omitempty"`

	// Anchoring twins.
	AnchorType string  `json:"anchor_type,omitempty"` // "high" or "low"
	PERatio    float64 `json:"pe_ratio,omitempty"`

	// Recency.
	RecentReturns      []float64 `json:"recent_returns,omitempty"`
	HistoricalQ1Return float64   `json:"historical_q1_return,omitempty"`
	TimeHorizon        string    `json:"time_horizon,omitempty"`

	// Loss aversion.
	PositionAReturn float64 `json:"position_a_return,omitempty"`
	PositionBReturn float64 `json:"position_b_return,omitempty"`
	RationalChoice  string  `json:"rational_choice,omitempty"`

	// Overconfidence.
	InformationCompleteness float64 `json:"information_completeness,omitempty"`
	CalibrationBaseline     float64 `json:"calibration_baseline,omitempty"`
}

// Scenario is an immutable, point-in-time-safe benchmark scenario. Anchoring
// scenarios come in twin pairs sharing AnchorPairID and differing only in the
// anchor figure.
type Scenario struct {
	ID            string         `json:"scenario_id"`
	Name          string         `json:"name"`
	BiasType      BiasType       `json:"bias_type"`
	TemplateID    string         `json:"template_id"`
	MarketRegime  MarketRegime   `json:"market_regime"`
	AnchorPairID  string         `json:"anchor_pair_id,omitempty"`
	AnchorValue   *float64       `json:"anchor_value,omitempty"`
	Prompt        string         `json:"prompt"`
	AsOf          time.Time      `json:"as_of"`
	CorrectAction string         `json:"correct_action"`
	Params        ScenarioParams `json:"params"`
	Seed          int64          `json:"seed"`
	CreatedAt     time.Time      `json:"created_at"`
}

// AgentConfig captures per-agent generation settings. EndpointOverride and
// CredentialEnv support gateway-routed or in-house-hosted deployments.
type AgentConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxTokens        int     `json:"max_tokens"`
	EndpointOverride string  `json:"endpoint_override,omitempty"`
	CredentialEnv    string  `json:"credential_env,omitempty"`
}

// Agent is a registered model under test. Immutable after registration.
type Agent struct {
	AgentID   string      `json:"agent_id"`
	Provider  string      `json:"provider"`
	ModelName string      `json:"model_name"`
	Config    AgentConfig `json:"config"`
	CreatedAt time.Time   `json:"created_at"`
}

// Run is the audit handle for one benchmark execution over a fixed
// agent×scenario matrix. Only the orchestrator mutates its status.
type Run struct {
	RunID       string     `json:"run_id"`
	AgentIDs    []string   `json:"agent_ids"`
	ScenarioIDs []string   `json:"scenario_ids"`
	Status      RunStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

// ParsedDecision is the structured tuple recovered from a raw model response.
type ParsedDecision struct {
	Action     string   `json:"action"`
	Estimate   *float64 `json:"estimate,omitempty"`
	Confidence float64  `json:"confidence"`
	Rationale  string   `json:"rationale,omitempty"`
	Strategy   string   `json:"strategy,omitempty"` // extraction strategy that succeeded
}

// Evaluation is the append-only record of one agent-scenario interaction.
// Never mutated after reaching a terminal status; written incrementally as
// tasks complete.
type Evaluation struct {
	ID          string           `json:"evaluation_id"`
	RunID       string           `json:"run_id"`
	AgentID     string           `json:"agent_id"`
	ScenarioID  string           `json:"scenario_id"`
	RawResponse string           `json:"raw_response,omitempty"`
	Decision    *ParsedDecision  `json:"parsed_decision,omitempty"`
	Status      EvaluationStatus `json:"status"`
	LatencyMs   int64            `json:"latency_ms"`
	Attempts    int              `json:"attempts"`
	Error       string           `json:"error,omitempty"`
	EvaluatedAt time.Time        `json:"evaluated_at"`
}

// EvaluationID builds the idempotency key for one task of the run matrix.
// Stable across persistence retries, so duplicate deliveries upsert in place.
func EvaluationID(runID, agentID, scenarioID string) string {
	return fmt.Sprintf("eval_%s:%s:%s", runID, agentID, scenarioID)
}

// BiasScore is one derived scoring record, recomputable from Evaluations.
// Per-scenario scores key on ScenarioID; pairwise anchoring scores key on
// AnchorPairID instead. Excluded scores carry a nil Score and a reason.
type BiasScore struct {
	ID             string             `json:"score_id"`
	RunID          string             `json:"run_id"`
	AgentID        string             `json:"agent_id"`
	BiasType       BiasType           `json:"bias_type"`
	ScenarioID     string             `json:"scenario_id,omitempty"`
	AnchorPairID   string             `json:"anchor_pair_id,omitempty"`
	Score          *float64           `json:"score,omitempty"`
	Components     map[string]float64 `json:"components,omitempty"`
	ExcludedReason string             `json:"excluded_reason,omitempty"`
}

// ScoreID builds the natural key for a bias score; subject is the scenario id
// or, for pairwise anchoring, the anchor pair id.
func ScoreID(runID, agentID, subject string) string {
	return fmt.Sprintf("score_%s:%s:%s", runID, agentID, subject)
}

// RunSummary is one (run, agent, bias type) statistical rollup. When no valid
// scores exist for the group, InsufficientData is set and the numeric fields
// are meaningless; downstream gating must branch on the marker, not the mean.
type RunSummary struct {
	RunID            string   `json:"run_id"`
	AgentID          string   `json:"agent_id"`
	ModelName        string   `json:"model_name,omitempty"`
	BiasType         BiasType `json:"bias_type"`
	MeanScore        float64  `json:"mean_score"`
	StdDev           float64  `json:"dispersion"`
	P25              float64  `json:"percentile_25"`
	P50              float64  `json:"percentile_50"`
	P75              float64  `json:"percentile_75"`
	N                int      `json:"n"`
	Excluded         int      `json:"excluded"`
	InsufficientData bool     `json:"insufficient_data"`
}
