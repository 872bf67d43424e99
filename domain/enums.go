// Package domain defines the core domain models for the bias benchmark.
package domain

// BiasType identifies one of the cognitive biases the benchmark probes.
type BiasType string

const (
	BiasAnchoring      BiasType = "anchoring"
	BiasRecency        BiasType = "recency"
	BiasLossAversion   BiasType = "loss_aversion"
	BiasOverconfidence BiasType = "overconfidence"
)

// AllBiasTypes lists every supported bias type in stable order.
var AllBiasTypes = []BiasType{BiasAnchoring, BiasRecency, BiasLossAversion, BiasOverconfidence}

// Valid reports whether b is a known bias type.
func (b BiasType) Valid() bool {
	switch b {
	case BiasAnchoring, BiasRecency, BiasLossAversion, BiasOverconfidence:
		return true
	}
	return false
}

// MarketRegime tags the synthetic market backdrop a scenario is set in.
type MarketRegime string

const (
	RegimeBull   MarketRegime = "bull"
	RegimeBear   MarketRegime = "bear"
	RegimeCrisis MarketRegime = "crisis"
	RegimeStable MarketRegime = "stable"
)

// AllRegimes lists every market regime in stable order.
var AllRegimes = []MarketRegime{RegimeBull, RegimeBear, RegimeCrisis, RegimeStable}

// RunStatus represents the status of a benchmark run.
type RunStatus string

const (
	RunStatusPending             RunStatus = "pending"
	RunStatusRunning             RunStatus = "running"
	RunStatusCompleted           RunStatus = "completed"
	RunStatusCompletedWithErrors RunStatus = "completed_with_errors"
)

// Terminal reports whether the status is final. Runs move through statuses
// monotonically and only the orchestrator's finalizer writes a terminal one.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusCompletedWithErrors
}

// EvaluationStatus represents the terminal outcome of one agent-scenario task.
type EvaluationStatus string

const (
	EvaluationSuccess     EvaluationStatus = "success"
	EvaluationFailed      EvaluationStatus = "failed"
	EvaluationUnparseable EvaluationStatus = "unparseable"
	EvaluationSkipped     EvaluationStatus = "skipped"
)

// Actions a scenario prompt can ask for. Loss-aversion scenarios use the
// binary position choice instead.
const (
	ActionBuy     = "BUY"
	ActionSell    = "SELL"
	ActionHold    = "HOLD"
	ActionAbstain = "ABSTAIN"
	ActionUnknown = "UNKNOWN"

	ChoiceA = "A"
	ChoiceB = "B"
)

// Exclusion reasons attached to BiasScores that could not be computed.
const (
	ExcludedIncompletePair    = "incomplete_pair"
	ExcludedDegenerateAnchor  = "degenerate_anchor"
	ExcludedMissingEstimate   = "missing_estimate"
	ExcludedUndefinedDecision = "undefined_decision"
)
