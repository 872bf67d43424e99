package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphagauge/biasbench/config"
	"github.com/alphagauge/biasbench/domain"
	"github.com/alphagauge/biasbench/engine"
	"github.com/alphagauge/biasbench/parser"
	"github.com/alphagauge/biasbench/policy"
	"github.com/alphagauge/biasbench/provider"
	"github.com/alphagauge/biasbench/scenario"
	"github.com/alphagauge/biasbench/store"
	"github.com/alphagauge/biasbench/tests/helpers"
)

func newTestHandler(t *testing.T) (*Handler, store.Store) {
	t.Helper()
	t.Setenv(provider.EnvBiasbenchMode, provider.ModeMock)

	s := helpers.NewTestSQLiteStore(t)
	guard := scenario.NewGuard(nil)
	gen := scenario.NewGenerator(guard)
	admission, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)

	cfg := &config.Config{
		ProviderTimeout:    time.Second,
		MaxAttempts:        2,
		RetryBaseDelay:     time.Millisecond,
		RetryMaxDelay:      2 * time.Millisecond,
		DefaultConcurrency: 2,
		AbandonOnCancel:    true,
	}
	orch := engine.NewOrchestrator(s, provider.NewFactory(cfg.ProviderTimeout), parser.New(), guard, cfg, nil)
	agg := engine.NewAggregator(s)

	return NewHandler(s, gen, orch, agg, admission, nil), s
}

func doJSON(t *testing.T, h echo.HandlerFunc, method, path, body string, pathParams map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	for k, v := range pathParams {
		c.SetParamNames(k)
		c.SetParamValues(v)
	}
	require.NoError(t, h(c))
	return rec
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doJSON(t, h.Health, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestRegisterAgentValidation(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doJSON(t, h.RegisterAgent, http.MethodPost, "/api/v1/agents", `{"model_name":"gpt-4o"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h.RegisterAgent, http.MethodPost, "/api/v1/agents", `{"provider":"openai"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterAgentPolicyDeny(t *testing.T) {
	h, _ := newTestHandler(t)

	body := `{"provider":"homebrew","model_name":"m","temperature":0.5,"max_tokens":512}`
	rec := doJSON(t, h.RegisterAgent, http.MethodPost, "/api/v1/agents", body, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "unsupported provider")
}

func TestRegisterAgentSuccess(t *testing.T) {
	h, s := newTestHandler(t)

	body := `{"provider":"mock","model_name":"offline","temperature":0.7,"max_tokens":512}`
	rec := doJSON(t, h.RegisterAgent, http.MethodPost, "/api/v1/agents", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var agent domain.Agent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agent))
	assert.True(t, strings.HasPrefix(agent.AgentID, "agent_"))
	assert.Equal(t, "mock", agent.Provider)

	stored, err := s.GetAgent(context.Background(), agent.AgentID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 512, stored.Config.MaxTokens)
}

func TestGenerateScenarios(t *testing.T) {
	h, s := newTestHandler(t)

	asOf := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	body := `{"template_ids":["anchoring"],"seed":42,"as_of":"` + asOf + `"}`
	rec := doJSON(t, h.GenerateScenarios, http.MethodPost, "/api/v1/scenarios/generate", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count     int               `json:"count"`
		Scenarios []domain.Scenario `json:"scenarios"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, resp.Scenarios[0].AnchorPairID, resp.Scenarios[1].AnchorPairID)

	stored, err := s.ListScenarios(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestGenerateScenariosSuite(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doJSON(t, h.GenerateScenarios, http.MethodPost, "/api/v1/scenarios/generate", `{"seed":7}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 24, resp.Count)
}

func TestGenerateScenariosCount(t *testing.T) {
	h, _ := newTestHandler(t)

	body := `{"template_ids":["loss_aversion","overconfidence"],"seed":3,"count":3}`
	rec := doJSON(t, h.GenerateScenarios, http.MethodPost, "/api/v1/scenarios/generate", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 6, resp.Count)
}

func TestGenerateScenariosRejectsFutureAsOf(t *testing.T) {
	h, _ := newTestHandler(t)

	future := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	body := `{"template_ids":["recency"],"seed":1,"as_of":"` + future + `"}`
	rec := doJSON(t, h.GenerateScenarios, http.MethodPost, "/api/v1/scenarios/generate", body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "point-in-time violation")
}

func TestGetScenarioNotFound(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doJSON(t, h.GetScenario, http.MethodGet, "/api/v1/scenarios/scn_missing", "", map[string]string{"scenario_id": "scn_missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartRunValidation(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doJSON(t, h.StartRun, http.MethodPost, "/api/v1/benchmark/run", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h.StartRun, http.MethodPost, "/api/v1/benchmark/run", `{"agent_ids":["agent_ghost"],"scenario_ids":["scn_ghost"]}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBenchmarkRunEndToEnd(t *testing.T) {
	h, s := newTestHandler(t)
	ctx := context.Background()

	// Register an offline agent.
	rec := doJSON(t, h.RegisterAgent, http.MethodPost, "/api/v1/agents",
		`{"provider":"mock","model_name":"offline","temperature":0.3,"max_tokens":512}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var agent domain.Agent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agent))

	// Generate the full suite.
	rec = doJSON(t, h.GenerateScenarios, http.MethodPost, "/api/v1/scenarios/generate", `{"seed":11}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	scenarios, err := s.ListScenarios(ctx)
	require.NoError(t, err)
	var scenarioIDs []string
	for _, sc := range scenarios {
		scenarioIDs = append(scenarioIDs, sc.ID)
	}

	runReq, err := json.Marshal(RunRequest{AgentIDs: []string{agent.AgentID}, ScenarioIDs: scenarioIDs})
	require.NoError(t, err)
	rec = doJSON(t, h.StartRun, http.MethodPost, "/api/v1/benchmark/run", string(runReq), nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var started struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	require.NotEmpty(t, started.RunID)

	var run *domain.Run
	require.Eventually(t, func() bool {
		r, err := s.GetRun(ctx, started.RunID)
		if err != nil || r == nil {
			return false
		}
		run = r
		return r.Status.Terminal()
	}, 10*time.Second, 20*time.Millisecond)

	// The mock backend answers every prompt parseably.
	assert.Equal(t, domain.RunStatusCompleted, run.Status)

	rec = doJSON(t, h.ResultsByModel, http.MethodGet, "/api/v1/results/by-model?run_id="+started.RunID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var results struct {
		Summaries []domain.RunSummary `json:"summaries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	// One summary per bias type for the single agent.
	assert.Len(t, results.Summaries, len(domain.AllBiasTypes))
}

func TestResultsByModelAcrossRuns(t *testing.T) {
	h, s := newTestHandler(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.RegisterAgent(ctx, &domain.Agent{
		AgentID:   "agent_x",
		Provider:  "mock",
		ModelName: "offline",
		Config:    domain.AgentConfig{Temperature: 0.3, MaxTokens: 256},
		CreatedAt: now,
	}))
	require.NoError(t, s.UpsertScenario(ctx, &domain.Scenario{
		ID: "scn_r", Name: "r", BiasType: domain.BiasRecency, TemplateID: "recency",
		Prompt: "p", AsOf: now, CorrectAction: domain.ActionBuy, CreatedAt: now,
	}))

	score := 0.5
	for _, runID := range []string{"run_one", "run_two"} {
		require.NoError(t, s.CreateRun(ctx, &domain.Run{
			RunID:       runID,
			AgentIDs:    []string{"agent_x"},
			ScenarioIDs: []string{"scn_r"},
			Status:      domain.RunStatusCompleted,
			CreatedAt:   now,
		}))
		require.NoError(t, s.UpsertBiasScore(ctx, &domain.BiasScore{
			ID:         domain.ScoreID(runID, "agent_x", "scn_r"),
			RunID:      runID,
			AgentID:    "agent_x",
			BiasType:   domain.BiasRecency,
			ScenarioID: "scn_r",
			Score:      &score,
		}))
	}

	// Omitting run_id aggregates every persisted run.
	rec := doJSON(t, h.ResultsByModel, http.MethodGet, "/api/v1/results/by-model", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var results struct {
		Summaries []domain.RunSummary `json:"summaries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results.Summaries, 2)
	runsSeen := map[string]bool{}
	for _, sum := range results.Summaries {
		runsSeen[sum.RunID] = true
		assert.Equal(t, "agent_x", sum.AgentID)
		assert.Equal(t, "offline", sum.ModelName)
		assert.Equal(t, 1, sum.N)
	}
	assert.True(t, runsSeen["run_one"] && runsSeen["run_two"])

	// agent_id still narrows the cross-run view.
	rec = doJSON(t, h.ResultsByModel, http.MethodGet, "/api/v1/results/by-model?agent_id=agent_ghost", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	assert.Empty(t, results.Summaries)
}

func TestResultsByModelUnknownRun(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doJSON(t, h.ResultsByModel, http.MethodGet, "/api/v1/results/by-model?run_id=run_ghost", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelRunNotActive(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doJSON(t, h.CancelRun, http.MethodPost, "/api/v1/runs/run_ghost/cancel", "", map[string]string{"run_id": "run_ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
