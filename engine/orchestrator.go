// Package engine schedules and executes the agent×scenario evaluation matrix
// and aggregates the resulting bias scores.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/alphagauge/biasbench/config"
	"github.com/alphagauge/biasbench/detector"
	"github.com/alphagauge/biasbench/domain"
	"github.com/alphagauge/biasbench/metrics"
	"github.com/alphagauge/biasbench/parser"
	"github.com/alphagauge/biasbench/provider"
	"github.com/alphagauge/biasbench/scenario"
	"github.com/alphagauge/biasbench/store"
)

// ValidationError rejects a malformed run request before anything is
// persisted.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// IsValidationError reports whether err is a pre-dispatch validation failure.
func IsValidationError(err error) bool {
	_, ok := err.(*ValidationError)
	return ok
}

// Orchestrator drives benchmark runs: per-provider bounded worker pools,
// retry with exponential backoff for transient provider failures, fail-fast
// scoped to an agent on fatal ones, and streaming idempotent persistence of
// every terminal evaluation.
type Orchestrator struct {
	store     store.Store
	providers provider.Factory
	parser    *parser.Parser
	guard     *scenario.Guard
	cfg       *config.Config
	logger    *zap.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewOrchestrator wires the orchestrator.
func NewOrchestrator(st store.Store, providers provider.Factory, p *parser.Parser, guard *scenario.Guard, cfg *config.Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if guard == nil {
		guard = scenario.NewGuard(nil)
	}
	return &Orchestrator{
		store:     st,
		providers: providers,
		parser:    p,
		guard:     guard,
		cfg:       cfg,
		logger:    logger,
		cancels:   map[string]context.CancelFunc{},
	}
}

// StartRun validates the request, creates the run record and returns its id
// immediately; execution proceeds in the background. Completion is observed
// by polling run status or by the streamed evaluation writes.
func (o *Orchestrator) StartRun(ctx context.Context, agentIDs, scenarioIDs []string) (string, error) {
	if len(agentIDs) == 0 {
		return "", &ValidationError{Msg: "at least one agent_id is required"}
	}
	if len(scenarioIDs) == 0 {
		return "", &ValidationError{Msg: "at least one scenario_id is required"}
	}

	agents, err := o.store.GetAgents(ctx, agentIDs)
	if err != nil {
		return "", fmt.Errorf("failed to load agents: %w", err)
	}
	if missing := missingIDs(agentIDs, agentKeys(agents)); len(missing) > 0 {
		return "", &ValidationError{Msg: fmt.Sprintf("unknown agent ids: %v", missing)}
	}

	scenarios, err := o.store.GetScenarios(ctx, scenarioIDs)
	if err != nil {
		return "", fmt.Errorf("failed to load scenarios: %w", err)
	}
	if missing := missingIDs(scenarioIDs, scenarioKeys(scenarios)); len(missing) > 0 {
		return "", &ValidationError{Msg: fmt.Sprintf("unknown scenario ids: %v", missing)}
	}
	for i := range scenarios {
		if err := o.guard.Validate(&scenarios[i]); err != nil {
			return "", &ValidationError{Msg: err.Error()}
		}
	}

	run := &domain.Run{
		RunID:       "run_" + uuid.New().String()[:8],
		AgentIDs:    agentIDs,
		ScenarioIDs: scenarioIDs,
		Status:      domain.RunStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("failed to create run: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.cancels[run.RunID] = cancel
	o.mu.Unlock()

	go o.execute(runCtx, run, agents, scenarios)

	return run.RunID, nil
}

// CancelRun cancels an in-progress run. Evaluations already persisted remain
// valid partial results; unstarted tasks are recorded as skipped.
func (o *Orchestrator) CancelRun(runID string) bool {
	o.mu.Lock()
	cancel, ok := o.cancels[runID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (o *Orchestrator) release(runID string) {
	o.mu.Lock()
	if cancel, ok := o.cancels[runID]; ok {
		cancel()
		delete(o.cancels, runID)
	}
	o.mu.Unlock()
}

type task struct {
	agent *domain.Agent
	scn   *domain.Scenario
}

// execute runs the full task matrix for one run. Persistence uses a
// background context so cancellation never loses completed work.
func (o *Orchestrator) execute(ctx context.Context, run *domain.Run, agents []domain.Agent, scenarios []domain.Scenario) {
	defer o.release(run.RunID)

	persistCtx := context.Background()
	if err := o.store.UpdateRunStatus(persistCtx, run.RunID, domain.RunStatusRunning); err != nil {
		o.logger.Error("failed to mark run running", zap.String("run_id", run.RunID), zap.Error(err))
	}

	byProvider := map[string][]*domain.Agent{}
	for i := range agents {
		a := &agents[i]
		byProvider[a.Provider] = append(byProvider[a.Provider], a)
	}

	scenarioByID := map[string]*domain.Scenario{}
	for i := range scenarios {
		scenarioByID[scenarios[i].ID] = &scenarios[i]
	}

	results := make(chan *domain.Evaluation, len(agents)*len(scenarios))
	down := &sync.Map{} // agent_id -> fatal error message

	var g errgroup.Group
	for providerName, provAgents := range byProvider {
		taskCh := make(chan task)
		go func(provAgents []*domain.Agent) {
			defer close(taskCh)
			for _, a := range provAgents {
				for i := range scenarios {
					taskCh <- task{agent: a, scn: &scenarios[i]}
				}
			}
		}(provAgents)

		workers := o.cfg.ConcurrencyFor(providerName)
		for w := 0; w < workers; w++ {
			g.Go(func() error {
				for t := range taskCh {
					results <- o.evaluateTask(ctx, run.RunID, t, down)
				}
				return nil
			})
		}
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()

	allSuccess := true
	evals := make([]*domain.Evaluation, 0, len(agents)*len(scenarios))
	for ev := range results {
		if err := o.store.UpsertEvaluation(persistCtx, ev); err != nil {
			o.logger.Error("failed to persist evaluation",
				zap.String("evaluation_id", ev.ID), zap.Error(err))
		}
		metrics.ObserveEvaluation(string(ev.Status))
		if ev.Status != domain.EvaluationSuccess {
			allSuccess = false
		}
		evals = append(evals, ev)

		scn := scenarioByID[ev.ScenarioID]
		if scn != nil && scn.BiasType != domain.BiasAnchoring && ev.Status == domain.EvaluationSuccess {
			o.persistScenarioScore(persistCtx, run.RunID, ev, scn)
		}
	}

	o.scoreAnchoringPairs(persistCtx, run.RunID, evals, scenarios)

	status := domain.RunStatusCompleted
	if !allSuccess {
		status = domain.RunStatusCompletedWithErrors
	}
	if err := o.store.CompleteRun(persistCtx, run.RunID, status, time.Now().UTC()); err != nil {
		o.logger.Error("failed to finalize run", zap.String("run_id", run.RunID), zap.Error(err))
		return
	}
	metrics.ObserveRun(string(status))
	o.logger.Info("run finalized",
		zap.String("run_id", run.RunID),
		zap.String("status", string(status)),
		zap.Int("evaluations", len(evals)))
}

// evaluateTask performs one agent-scenario interaction and returns its
// terminal evaluation. Never returns an error: every failure mode maps to a
// terminal status so nothing is silently dropped.
func (o *Orchestrator) evaluateTask(ctx context.Context, runID string, t task, down *sync.Map) *domain.Evaluation {
	ev := &domain.Evaluation{
		ID:          domain.EvaluationID(runID, t.agent.AgentID, t.scn.ID),
		RunID:       runID,
		AgentID:     t.agent.AgentID,
		ScenarioID:  t.scn.ID,
		EvaluatedAt: time.Now().UTC(),
	}

	if ctx.Err() != nil {
		ev.Status = domain.EvaluationSkipped
		ev.Error = "run cancelled before dispatch"
		return ev
	}

	if reason, isDown := down.Load(t.agent.AgentID); isDown {
		ev.Status = domain.EvaluationFailed
		ev.Error = fmt.Sprintf("agent failed fast: %v", reason)
		return ev
	}

	// Re-validated immediately before dispatch so a reused scenario cannot
	// be replayed past its epoch even if clocks drifted since generation.
	if err := o.guard.Validate(t.scn); err != nil {
		ev.Status = domain.EvaluationSkipped
		ev.Error = err.Error()
		return ev
	}

	client, err := o.providers.ForAgent(t.agent)
	if err != nil {
		down.Store(t.agent.AgentID, err.Error())
		ev.Status = domain.EvaluationFailed
		ev.Error = err.Error()
		return ev
	}

	resp, attempts, err := o.callWithRetry(ctx, client, t)
	ev.Attempts = attempts
	ev.EvaluatedAt = time.Now().UTC()
	if err != nil {
		if provider.IsFatal(err) {
			// A bad credential or unknown model recurs identically for
			// every remaining call to this agent; fail its tasks now.
			down.Store(t.agent.AgentID, err.Error())
			ev.Status = domain.EvaluationFailed
			ev.Error = err.Error()
			return ev
		}
		if ctx.Err() != nil {
			ev.Status = domain.EvaluationSkipped
			ev.Error = "run cancelled"
			return ev
		}
		ev.Status = domain.EvaluationFailed
		ev.Error = err.Error()
		return ev
	}

	metrics.ObserveProviderCall(client.Name(), resp.Latency)
	ev.RawResponse = resp.Content
	ev.LatencyMs = resp.Latency.Milliseconds()

	decision, ok := o.parser.Parse(resp.Content, t.scn.BiasType)
	if !ok {
		// Raw text is retained for audit; the record is excluded from
		// scoring but counted separately.
		ev.Status = domain.EvaluationUnparseable
		return ev
	}
	ev.Decision = decision
	ev.Status = domain.EvaluationSuccess
	return ev
}

// callWithRetry invokes the provider under the per-call timeout, retrying
// transient failures with exponential backoff up to the configured attempt
// budget. Fatal errors abort immediately.
func (o *Orchestrator) callWithRetry(ctx context.Context, client provider.Client, t task) (*provider.Response, int, error) {
	genCfg := provider.GenConfig{
		Model:       t.agent.ModelName,
		Temperature: t.agent.Config.Temperature,
		MaxTokens:   t.agent.Config.MaxTokens,
	}

	callBase := ctx
	if !o.cfg.AbandonOnCancel {
		// Policy: let in-flight calls finish even if the run is cancelled.
		callBase = context.Background()
	}

	attempts := 0
	op := func() (*provider.Response, error) {
		attempts++
		callCtx, cancel := context.WithTimeout(callBase, o.cfg.ProviderTimeout)
		defer cancel()

		resp, err := client.Generate(callCtx, t.scn.Prompt, genCfg)
		if err == nil {
			return resp, nil
		}
		if provider.IsTransient(err) {
			o.logger.Warn("transient provider error",
				zap.String("provider", client.Name()),
				zap.String("agent_id", t.agent.AgentID),
				zap.Int("attempt", attempts),
				zap.Error(err))
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.cfg.RetryBaseDelay
	bo.MaxInterval = o.cfg.RetryMaxDelay

	maxRetries := uint64(0)
	if o.cfg.MaxAttempts > 1 {
		maxRetries = uint64(o.cfg.MaxAttempts - 1)
	}

	resp, err := backoff.RetryWithData(op, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx))
	return resp, attempts, err
}

// persistScenarioScore computes and stores the per-scenario score for the
// non-pairwise bias types.
func (o *Orchestrator) persistScenarioScore(ctx context.Context, runID string, ev *domain.Evaluation, scn *domain.Scenario) {
	res := detector.Score(scn.BiasType, ev.Decision, scn)
	score := &domain.BiasScore{
		ID:             domain.ScoreID(runID, ev.AgentID, scn.ID),
		RunID:          runID,
		AgentID:        ev.AgentID,
		BiasType:       scn.BiasType,
		ScenarioID:     scn.ID,
		Score:          res.Score,
		Components:     res.Components,
		ExcludedReason: res.ExcludedReason,
	}
	if err := o.store.UpsertBiasScore(ctx, score); err != nil {
		o.logger.Error("failed to persist bias score", zap.String("score_id", score.ID), zap.Error(err))
	}
}

// scoreAnchoringPairs computes pairwise anchoring scores once every task is
// terminal. Twins correlate by anchor_pair_id, not dispatch order, so this is
// the earliest point both sides are guaranteed known.
func (o *Orchestrator) scoreAnchoringPairs(ctx context.Context, runID string, evals []*domain.Evaluation, scenarios []domain.Scenario) {
	type twin struct {
		scn  *domain.Scenario
		eval *domain.Evaluation
	}
	// pair_id -> anchor_type -> twin
	pairs := map[string]map[string]twin{}
	for i := range scenarios {
		scn := &scenarios[i]
		if scn.BiasType != domain.BiasAnchoring || scn.AnchorPairID == "" {
			continue
		}
		if pairs[scn.AnchorPairID] == nil {
			pairs[scn.AnchorPairID] = map[string]twin{}
		}
		pairs[scn.AnchorPairID][scn.Params.AnchorType] = twin{scn: scn}
	}
	if len(pairs) == 0 {
		return
	}

	evalByKey := map[string]*domain.Evaluation{}
	agentIDs := map[string]bool{}
	for _, ev := range evals {
		evalByKey[ev.AgentID+"|"+ev.ScenarioID] = ev
		agentIDs[ev.AgentID] = true
	}

	for pairID, twins := range pairs {
		high := twins["high"]
		low := twins["low"]
		for agentID := range agentIDs {
			var highEval, lowEval *domain.Evaluation
			var anchorHigh, anchorLow float64
			if high.scn != nil {
				highEval = evalByKey[agentID+"|"+high.scn.ID]
				if high.scn.AnchorValue != nil {
					anchorHigh = *high.scn.AnchorValue
				}
			}
			if low.scn != nil {
				lowEval = evalByKey[agentID+"|"+low.scn.ID]
				if low.scn.AnchorValue != nil {
					anchorLow = *low.scn.AnchorValue
				}
			}

			res := detector.Anchoring(highEval, lowEval, anchorHigh, anchorLow)
			score := &domain.BiasScore{
				ID:             domain.ScoreID(runID, agentID, pairID),
				RunID:          runID,
				AgentID:        agentID,
				BiasType:       domain.BiasAnchoring,
				AnchorPairID:   pairID,
				Score:          res.Score,
				Components:     res.Components,
				ExcludedReason: res.ExcludedReason,
			}
			if err := o.store.UpsertBiasScore(ctx, score); err != nil {
				o.logger.Error("failed to persist anchoring score", zap.String("score_id", score.ID), zap.Error(err))
			}
		}
	}
}

func agentKeys(agents []domain.Agent) map[string]bool {
	out := make(map[string]bool, len(agents))
	for _, a := range agents {
		out[a.AgentID] = true
	}
	return out
}

func scenarioKeys(scenarios []domain.Scenario) map[string]bool {
	out := make(map[string]bool, len(scenarios))
	for _, s := range scenarios {
		out[s.ID] = true
	}
	return out
}

func missingIDs(requested []string, have map[string]bool) []string {
	var missing []string
	for _, id := range requested {
		if !have[id] {
			missing = append(missing, id)
		}
	}
	return missing
}
