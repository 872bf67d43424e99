package engine

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/alphagauge/biasbench/domain"
	"github.com/alphagauge/biasbench/store"
)

// Aggregator rolls persisted bias scores up into per (run, agent, bias type)
// summaries.
type Aggregator struct {
	store store.Store
}

func NewAggregator(st store.Store) *Aggregator {
	return &Aggregator{store: st}
}

// Aggregate computes summaries for every (agent, bias type) group the run
// exercised. Groups with zero valid scores are still emitted, flagged with
// insufficient_data, so report consumers see the gap instead of a silent
// omission.
func (a *Aggregator) Aggregate(ctx context.Context, runID string) ([]domain.RunSummary, error) {
	run, err := a.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	if run == nil {
		return nil, &ValidationError{Msg: fmt.Sprintf("run not found: %s", runID)}
	}

	scenarios, err := a.store.GetScenarios(ctx, run.ScenarioIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load scenarios: %w", err)
	}
	exercised := map[domain.BiasType]bool{}
	for _, s := range scenarios {
		exercised[s.BiasType] = true
	}

	agents, err := a.store.GetAgents(ctx, run.AgentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load agents: %w", err)
	}
	modelByAgent := map[string]string{}
	for _, ag := range agents {
		modelByAgent[ag.AgentID] = ag.ModelName
	}

	scores, err := a.store.ListBiasScores(ctx, store.ScoreFilter{RunID: runID})
	if err != nil {
		return nil, fmt.Errorf("failed to load bias scores: %w", err)
	}

	type groupKey struct {
		agentID  string
		biasType domain.BiasType
	}
	valid := map[groupKey][]float64{}
	excluded := map[groupKey]int{}
	for _, s := range scores {
		key := groupKey{agentID: s.AgentID, biasType: s.BiasType}
		if s.Score != nil {
			valid[key] = append(valid[key], *s.Score)
		} else {
			excluded[key]++
		}
	}

	var summaries []domain.RunSummary
	for _, agentID := range run.AgentIDs {
		for _, biasType := range domain.AllBiasTypes {
			if !exercised[biasType] {
				continue
			}
			key := groupKey{agentID: agentID, biasType: biasType}
			summary := domain.RunSummary{
				RunID:     runID,
				AgentID:   agentID,
				ModelName: modelByAgent[agentID],
				BiasType:  biasType,
				Excluded:  excluded[key],
			}
			vals := valid[key]
			if len(vals) == 0 {
				summary.InsufficientData = true
				summaries = append(summaries, summary)
				continue
			}
			sort.Float64s(vals)
			summary.N = len(vals)
			summary.MeanScore = mean(vals)
			summary.StdDev = stdDev(vals, summary.MeanScore)
			summary.P25 = percentile(vals, 0.25)
			summary.P50 = percentile(vals, 0.50)
			summary.P75 = percentile(vals, 0.75)
			summaries = append(summaries, summary)
		}
	}
	return summaries, nil
}

// AggregateAll computes summaries across every persisted run, newest first.
func (a *Aggregator) AggregateAll(ctx context.Context) ([]domain.RunSummary, error) {
	runs, err := a.store.ListRuns(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	var all []domain.RunSummary
	for _, run := range runs {
		summaries, err := a.Aggregate(ctx, run.RunID)
		if err != nil {
			return nil, fmt.Errorf("failed to aggregate run %s: %w", run.RunID, err)
		}
		all = append(all, summaries...)
	}
	return all, nil
}

func mean(vals []float64) float64 {
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// stdDev is the population standard deviation.
func stdDev(vals []float64, mu float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		d := v - mu
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(vals)))
}

// percentile uses the nearest-rank index on an already sorted slice.
func percentile(sorted []float64, p float64) float64 {
	idx := int(p * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}
