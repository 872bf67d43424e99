// Package detector scores parsed decisions for cognitive bias. Every
// function here is pure: no I/O, no shared state, no clock reads. Scores are
// clamped to the documented bounds below and exclusions always carry a
// machine-readable reason, never a silent zero or NaN.
package detector

import (
	"github.com/alphagauge/biasbench/domain"
)

// Documented clamp bounds per bias type.
const (
	// Anchoring: ratio of estimate shift to anchor shift. 0 means immune,
	// 1 means the estimates moved one-for-one with the anchors. Negative
	// values capture contrarian adjustment, values above 1 overshoot.
	AnchoringMin = -1.0
	AnchoringMax = 2.0

	// Recency: signed deviation from the rational weighting of recent vs.
	// historical data. Positive overweights the recent window, negative
	// overweights stale history.
	RecencyMin = -1.0
	RecencyMax = 1.0

	// Loss aversion: differential willingness to realize the losing
	// position. 0 is rational, 1 fully loss-averse.
	LossAversionMin = 0.0
	LossAversionMax = 1.0

	// Overconfidence: stated confidence minus the scenario's calibration
	// baseline, nudged upward when the action itself was wrong.
	OverconfidenceMin = -1.0
	OverconfidenceMax = 1.0
)

// Result is the outcome of one scoring call. Excluded results have a nil
// Score and a non-empty ExcludedReason.
type Result struct {
	Score          *float64
	Components     map[string]float64
	ExcludedReason string
}

func scored(v float64, components map[string]float64) Result {
	return Result{Score: &v, Components: components}
}

func excluded(reason string) Result {
	return Result{ExcludedReason: reason}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Anchoring computes the pairwise anchoring score for one twin pair:
//
//	clamp((estimateHigh - estimateLow) / (anchorHigh - anchorLow), -1, 2)
//
// Both twins must be successful evaluations with numeric estimates; a pair
// with a missing or unparseable twin is excluded as incomplete_pair, and a
// zero anchor span as degenerate_anchor.
func Anchoring(high, low *domain.Evaluation, anchorHigh, anchorLow float64) Result {
	if high == nil || low == nil ||
		high.Status != domain.EvaluationSuccess || low.Status != domain.EvaluationSuccess ||
		high.Decision == nil || low.Decision == nil {
		return excluded(domain.ExcludedIncompletePair)
	}
	if anchorHigh == anchorLow {
		return excluded(domain.ExcludedDegenerateAnchor)
	}
	if high.Decision.Estimate == nil || low.Decision.Estimate == nil {
		return excluded(domain.ExcludedMissingEstimate)
	}

	estHigh := *high.Decision.Estimate
	estLow := *low.Decision.Estimate
	raw := (estHigh - estLow) / (anchorHigh - anchorLow)

	return scored(clamp(raw, AnchoringMin, AnchoringMax), map[string]float64{
		"estimate_high": estHigh,
		"estimate_low":  estLow,
		"anchor_high":   anchorHigh,
		"anchor_low":    anchorLow,
		"raw_ratio":     raw,
	})
}

// Recency scores how far a decision deviates from the rational weighting of
// recent vs. historical data. The scenario's correct action is the rational
// benchmark; the recent-window and historical cues are re-derived from the
// scenario parameters. Matching the recency cue against the benchmark scores
// +1 (amplified slightly by high confidence), matching the stale-history cue
// scores -1, any other mismatch +0.5.
func Recency(d *domain.ParsedDecision, s *domain.Scenario) Result {
	if d == nil || d.Action == "" || d.Action == domain.ActionUnknown {
		return excluded(domain.ExcludedUndefinedDecision)
	}

	recentTrend := mean(s.Params.RecentReturns)
	recencyAction := domain.ActionHold
	if recentTrend < -0.03 {
		recencyAction = domain.ActionSell
	}
	historicalAction := domain.ActionHold
	if s.Params.HistoricalQ1Return > 0.05 {
		historicalAction = domain.ActionBuy
	}

	var score float64
	switch d.Action {
	case s.CorrectAction:
		score = 0.0
	case recencyAction:
		score = 1.0
		if d.Confidence > 0.8 {
			score += 0.1
		}
	case historicalAction:
		score = -1.0
	default:
		score = 0.5
	}

	return scored(clamp(score, RecencyMin, RecencyMax), map[string]float64{
		"recent_trend":    recentTrend,
		"historical_mean": s.Params.HistoricalQ1Return,
		"confidence":      d.Confidence,
	})
}

// LossAversion scores the A/B framing choice against the rational choice.
// Refusing to realize the deteriorating position scores fully loss-averse.
func LossAversion(d *domain.ParsedDecision, s *domain.Scenario) Result {
	if d == nil || (d.Action != domain.ChoiceA && d.Action != domain.ChoiceB) {
		return excluded(domain.ExcludedUndefinedDecision)
	}

	rational := s.Params.RationalChoice
	if rational == "" {
		rational = s.CorrectAction
	}

	score := 1.0
	if d.Action == rational {
		score = 0.0
	}

	return scored(clamp(score, LossAversionMin, LossAversionMax), map[string]float64{
		"confidence":        d.Confidence,
		"position_a_return": s.Params.PositionAReturn,
		"position_b_return": s.Params.PositionBReturn,
	})
}

// Overconfidence scores the gap between stated confidence and the scenario's
// calibration baseline. Committing to a directional action when the scenario
// warrants abstention widens the gap by a fixed penalty.
func Overconfidence(d *domain.ParsedDecision, s *domain.Scenario) Result {
	if d == nil || d.Action == "" || d.Action == domain.ActionUnknown {
		return excluded(domain.ExcludedUndefinedDecision)
	}

	baseline := s.Params.CalibrationBaseline
	if baseline == 0 {
		baseline = 0.5
	}

	gap := d.Confidence - baseline
	wrongAction := 0.0
	if d.Action != s.CorrectAction {
		wrongAction = 0.25
	}

	return scored(clamp(gap+wrongAction, OverconfidenceMin, OverconfidenceMax), map[string]float64{
		"confidence":           d.Confidence,
		"calibration_baseline": baseline,
		"wrong_action_penalty": wrongAction,
	})
}

// Score dispatches the per-scenario bias types. Anchoring is pairwise and
// handled separately once both twins are terminal.
func Score(biasType domain.BiasType, d *domain.ParsedDecision, s *domain.Scenario) Result {
	switch biasType {
	case domain.BiasRecency:
		return Recency(d, s)
	case domain.BiasLossAversion:
		return LossAversion(d, s)
	case domain.BiasOverconfidence:
		return Overconfidence(d, s)
	}
	return excluded(domain.ExcludedUndefinedDecision)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
