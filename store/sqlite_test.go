package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphagauge/biasbench/domain"
	"github.com/alphagauge/biasbench/store"
	"github.com/alphagauge/biasbench/tests/helpers"
)

func f(v float64) *float64 { return &v }

func createRun(t *testing.T, s store.Store, runID string) {
	t.Helper()
	err := s.CreateRun(context.Background(), &domain.Run{
		RunID:       runID,
		AgentIDs:    []string{"agent_1"},
		ScenarioIDs: []string{"scn_1"},
		Status:      domain.RunStatusPending,
		CreatedAt:   time.Now().UTC(),
	})
	require.NoError(t, err)
}

func testScenario(id string) *domain.Scenario {
	return &domain.Scenario{
		ID:            id,
		Name:          "AAPL_stable_anchoring_high",
		BiasType:      domain.BiasAnchoring,
		TemplateID:    "anchoring",
		MarketRegime:  domain.RegimeStable,
		AnchorPairID:  "pair_aapl_stable_42",
		AnchorValue:   f(200),
		Prompt:        "You are a financial analyst...",
		AsOf:          time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		CorrectAction: domain.ActionHold,
		Params: domain.ScenarioParams{
			Ticker:       "AAPL",
			CurrentPrice: 150,
			AnchorType:   "high",
		},
		Seed:      42,
		CreatedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestScenarioRoundtrip(t *testing.T) {
	s := helpers.NewTestSQLiteStore(t)
	ctx := context.Background()

	want := testScenario("scn_anchoring_stable_42_high")
	require.NoError(t, s.UpsertScenario(ctx, want))

	got, err := s.GetScenario(ctx, want.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.BiasType, got.BiasType)
	assert.Equal(t, want.AnchorPairID, got.AnchorPairID)
	require.NotNil(t, got.AnchorValue)
	assert.Equal(t, 200.0, *got.AnchorValue)
	assert.Equal(t, want.Params, got.Params)
	assert.True(t, want.AsOf.Equal(got.AsOf))
}

func TestScenarioUpsertIdempotent(t *testing.T) {
	s := helpers.NewTestSQLiteStore(t)
	ctx := context.Background()

	sc := testScenario("scn_anchoring_stable_42_high")
	require.NoError(t, s.UpsertScenario(ctx, sc))
	require.NoError(t, s.UpsertScenario(ctx, sc))

	all, err := s.ListScenarios(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetScenarioNotFound(t *testing.T) {
	s := helpers.NewTestSQLiteStore(t)

	got, err := s.GetScenario(context.Background(), "scn_missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAgentRoundtrip(t *testing.T) {
	s := helpers.NewTestSQLiteStore(t)
	ctx := context.Background()

	agent := &domain.Agent{
		AgentID:   "agent_abc12345",
		Provider:  "openai",
		ModelName: "gpt-4o",
		Config: domain.AgentConfig{
			Temperature: 0.7,
			MaxTokens:   1024,
		},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.RegisterAgent(ctx, agent))

	got, err := s.GetAgent(ctx, agent.AgentID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "openai", got.Provider)
	assert.Equal(t, "gpt-4o", got.ModelName)
	assert.Equal(t, agent.Config, got.Config)

	agents, err := s.GetAgents(ctx, []string{agent.AgentID, "agent_missing"})
	require.NoError(t, err)
	assert.Len(t, agents, 1)
}

func TestRunLifecycle(t *testing.T) {
	s := helpers.NewTestSQLiteStore(t)
	ctx := context.Background()

	run := &domain.Run{
		RunID:       "run_deadbeef",
		AgentIDs:    []string{"agent_1", "agent_2"},
		ScenarioIDs: []string{"scn_1"},
		Status:      domain.RunStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, s.CreateRun(ctx, run))

	require.NoError(t, s.UpdateRunStatus(ctx, run.RunID, domain.RunStatusRunning))
	got, err := s.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.RunStatusRunning, got.Status)
	assert.Equal(t, run.AgentIDs, got.AgentIDs)
	assert.Nil(t, got.EndedAt)

	ended := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.CompleteRun(ctx, run.RunID, domain.RunStatusCompletedWithErrors, ended))
	got, err = s.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompletedWithErrors, got.Status)
	require.NotNil(t, got.EndedAt)
	assert.True(t, ended.Equal(*got.EndedAt))
}

func TestEvaluationUpsertIdempotent(t *testing.T) {
	s := helpers.NewTestSQLiteStore(t)
	ctx := context.Background()
	createRun(t, s, "run_1")

	ev := &domain.Evaluation{
		ID:          domain.EvaluationID("run_1", "agent_1", "scn_1"),
		RunID:       "run_1",
		AgentID:     "agent_1",
		ScenarioID:  "scn_1",
		RawResponse: "HOLD, target of $150, 80% confidence",
		Decision: &domain.ParsedDecision{
			Action:     domain.ActionHold,
			Estimate:   f(150),
			Confidence: 0.8,
			Strategy:   "pattern",
		},
		Status:      domain.EvaluationSuccess,
		LatencyMs:   412,
		Attempts:    2,
		EvaluatedAt: time.Now().UTC(),
	}

	require.NoError(t, s.UpsertEvaluation(ctx, ev))
	// Retried persistence of the same natural key must not duplicate.
	require.NoError(t, s.UpsertEvaluation(ctx, ev))

	evals, err := s.ListEvaluations(ctx, "run_1")
	require.NoError(t, err)
	require.Len(t, evals, 1)
	got := evals[0]
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, domain.EvaluationSuccess, got.Status)
	require.NotNil(t, got.Decision)
	assert.Equal(t, domain.ActionHold, got.Decision.Action)
	require.NotNil(t, got.Decision.Estimate)
	assert.Equal(t, 150.0, *got.Decision.Estimate)
	assert.Equal(t, 2, got.Attempts)
}

func TestEvaluationWithoutDecision(t *testing.T) {
	s := helpers.NewTestSQLiteStore(t)
	ctx := context.Background()
	createRun(t, s, "run_1")

	ev := &domain.Evaluation{
		ID:          domain.EvaluationID("run_1", "agent_1", "scn_2"),
		RunID:       "run_1",
		AgentID:     "agent_1",
		ScenarioID:  "scn_2",
		RawResponse: "I cannot provide financial advice.",
		Status:      domain.EvaluationUnparseable,
		EvaluatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.UpsertEvaluation(ctx, ev))

	evals, err := s.ListEvaluations(ctx, "run_1")
	require.NoError(t, err)
	require.Len(t, evals, 1)
	assert.Nil(t, evals[0].Decision)
	assert.Equal(t, "I cannot provide financial advice.", evals[0].RawResponse)
}

func TestBiasScoreUpsertAndFilter(t *testing.T) {
	s := helpers.NewTestSQLiteStore(t)
	ctx := context.Background()
	createRun(t, s, "run_1")

	scored := &domain.BiasScore{
		ID:           domain.ScoreID("run_1", "agent_1", "pair_aapl_stable_42"),
		RunID:        "run_1",
		AgentID:      "agent_1",
		BiasType:     domain.BiasAnchoring,
		AnchorPairID: "pair_aapl_stable_42",
		Score:        f(0.6),
		Components:   map[string]float64{"raw_ratio": 0.6},
	}
	excludedScore := &domain.BiasScore{
		ID:             domain.ScoreID("run_1", "agent_2", "scn_recency"),
		RunID:          "run_1",
		AgentID:        "agent_2",
		BiasType:       domain.BiasRecency,
		ScenarioID:     "scn_recency",
		ExcludedReason: domain.ExcludedUndefinedDecision,
	}

	require.NoError(t, s.UpsertBiasScore(ctx, scored))
	require.NoError(t, s.UpsertBiasScore(ctx, scored))
	require.NoError(t, s.UpsertBiasScore(ctx, excludedScore))

	all, err := s.ListBiasScores(ctx, store.ScoreFilter{RunID: "run_1"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	anchoring, err := s.ListBiasScores(ctx, store.ScoreFilter{RunID: "run_1", BiasType: domain.BiasAnchoring})
	require.NoError(t, err)
	require.Len(t, anchoring, 1)
	require.NotNil(t, anchoring[0].Score)
	assert.InDelta(t, 0.6, *anchoring[0].Score, 1e-9)
	assert.Equal(t, "pair_aapl_stable_42", anchoring[0].AnchorPairID)

	byAgent, err := s.ListBiasScores(ctx, store.ScoreFilter{RunID: "run_1", AgentID: "agent_2"})
	require.NoError(t, err)
	require.Len(t, byAgent, 1)
	assert.Nil(t, byAgent[0].Score)
	assert.Equal(t, domain.ExcludedUndefinedDecision, byAgent[0].ExcludedReason)
}
