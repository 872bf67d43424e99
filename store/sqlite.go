package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alphagauge/biasbench/domain"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dsn and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Serialized access: the engine streams evaluation writes from
	// concurrent collectors and sqlite handles one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS scenarios (
			scenario_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			bias_type TEXT NOT NULL,
			template_id TEXT NOT NULL,
			market_regime TEXT,
			anchor_pair_id TEXT,
			anchor_value REAL,
			prompt TEXT NOT NULL,
			as_of DATETIME NOT NULL,
			correct_action TEXT NOT NULL,
			params TEXT,
			seed INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scenarios_bias_type ON scenarios(bias_type)`,
		`CREATE INDEX IF NOT EXISTS idx_scenarios_pair ON scenarios(anchor_pair_id)`,
		`CREATE TABLE IF NOT EXISTS agents (
			agent_id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			model_name TEXT NOT NULL,
			config TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			agent_ids TEXT NOT NULL,
			scenario_ids TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			ended_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS evaluations (
			evaluation_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			scenario_id TEXT NOT NULL,
			raw_response TEXT,
			parsed_decision TEXT,
			status TEXT NOT NULL,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			attempts INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			evaluated_at DATETIME NOT NULL,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_evaluations_run ON evaluations(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_evaluations_agent ON evaluations(agent_id)`,
		`CREATE TABLE IF NOT EXISTS bias_scores (
			score_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			bias_type TEXT NOT NULL,
			scenario_id TEXT,
			anchor_pair_id TEXT,
			score REAL,
			components TEXT,
			excluded_reason TEXT,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bias_scores_run ON bias_scores(run_id, agent_id, bias_type)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertScenario writes a scenario, replacing a prior record with the same
// id. Regenerating a scenario deterministically yields the same id and text,
// so the replace is a no-op in practice.
func (s *SQLiteStore) UpsertScenario(ctx context.Context, sc *domain.Scenario) error {
	params, err := json.Marshal(sc.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	var anchorValue sql.NullFloat64
	if sc.AnchorValue != nil {
		anchorValue = sql.NullFloat64{Float64: *sc.AnchorValue, Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO scenarios
		 (scenario_id, name, bias_type, template_id, market_regime, anchor_pair_id, anchor_value, prompt, as_of, correct_action, params, seed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.Name, sc.BiasType, sc.TemplateID, sc.MarketRegime, nullString(sc.AnchorPairID),
		anchorValue, sc.Prompt, sc.AsOf, sc.CorrectAction, string(params), sc.Seed, sc.CreatedAt)
	return err
}

// GetScenario retrieves a scenario by id; nil when absent.
func (s *SQLiteStore) GetScenario(ctx context.Context, id string) (*domain.Scenario, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT scenario_id, name, bias_type, template_id, market_regime, anchor_pair_id, anchor_value, prompt, as_of, correct_action, params, seed, created_at
		 FROM scenarios WHERE scenario_id = ?`, id)
	sc, err := scanScenario(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sc, nil
}

// GetScenarios retrieves the scenarios matching ids, in store order.
func (s *SQLiteStore) GetScenarios(ctx context.Context, ids []string) ([]domain.Scenario, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(
		`SELECT scenario_id, name, bias_type, template_id, market_regime, anchor_pair_id, anchor_value, prompt, as_of, correct_action, params, seed, created_at
		 FROM scenarios WHERE scenario_id IN (%s) ORDER BY scenario_id`, placeholders(len(ids)))
	rows, err := s.db.QueryContext(ctx, query, toArgs(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectScenarios(rows)
}

// ListScenarios returns every stored scenario.
func (s *SQLiteStore) ListScenarios(ctx context.Context) ([]domain.Scenario, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT scenario_id, name, bias_type, template_id, market_regime, anchor_pair_id, anchor_value, prompt, as_of, correct_action, params, seed, created_at
		 FROM scenarios ORDER BY created_at, scenario_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectScenarios(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScenario(row rowScanner) (*domain.Scenario, error) {
	var sc domain.Scenario
	var pairID sql.NullString
	var anchorValue sql.NullFloat64
	var params sql.NullString
	if err := row.Scan(&sc.ID, &sc.Name, &sc.BiasType, &sc.TemplateID, &sc.MarketRegime, &pairID,
		&anchorValue, &sc.Prompt, &sc.AsOf, &sc.CorrectAction, &params, &sc.Seed, &sc.CreatedAt); err != nil {
		return nil, err
	}
	if pairID.Valid {
		sc.AnchorPairID = pairID.String
	}
	if anchorValue.Valid {
		v := anchorValue.Float64
		sc.AnchorValue = &v
	}
	if params.Valid && params.String != "" {
		if err := json.Unmarshal([]byte(params.String), &sc.Params); err != nil {
			return nil, fmt.Errorf("failed to unmarshal scenario params: %w", err)
		}
	}
	return &sc, nil
}

func collectScenarios(rows *sql.Rows) ([]domain.Scenario, error) {
	var out []domain.Scenario
	for rows.Next() {
		sc, err := scanScenario(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sc)
	}
	return out, rows.Err()
}

// RegisterAgent stores a new agent. Agents are immutable after registration.
func (s *SQLiteStore) RegisterAgent(ctx context.Context, a *domain.Agent) error {
	config, err := json.Marshal(a.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal agent config: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agents (agent_id, provider, model_name, config, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.AgentID, a.Provider, a.ModelName, string(config), a.CreatedAt)
	return err
}

// GetAgent retrieves an agent by id; nil when absent.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	var a domain.Agent
	var config sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT agent_id, provider, model_name, config, created_at FROM agents WHERE agent_id = ?`,
		id).Scan(&a.AgentID, &a.Provider, &a.ModelName, &config, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if config.Valid && config.String != "" {
		if err := json.Unmarshal([]byte(config.String), &a.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal agent config: %w", err)
		}
	}
	return &a, nil
}

// GetAgents retrieves the agents matching ids.
func (s *SQLiteStore) GetAgents(ctx context.Context, ids []string) ([]domain.Agent, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(
		`SELECT agent_id, provider, model_name, config, created_at FROM agents WHERE agent_id IN (%s) ORDER BY agent_id`,
		placeholders(len(ids)))
	rows, err := s.db.QueryContext(ctx, query, toArgs(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAgents(rows)
}

// ListAgents returns every registered agent.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, provider, model_name, config, created_at FROM agents ORDER BY created_at, agent_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAgents(rows)
}

func collectAgents(rows *sql.Rows) ([]domain.Agent, error) {
	var out []domain.Agent
	for rows.Next() {
		var a domain.Agent
		var config sql.NullString
		if err := rows.Scan(&a.AgentID, &a.Provider, &a.ModelName, &config, &a.CreatedAt); err != nil {
			return nil, err
		}
		if config.Valid && config.String != "" {
			if err := json.Unmarshal([]byte(config.String), &a.Config); err != nil {
				return nil, fmt.Errorf("failed to unmarshal agent config: %w", err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateRun stores a new run record.
func (s *SQLiteStore) CreateRun(ctx context.Context, r *domain.Run) error {
	agentIDs, _ := json.Marshal(r.AgentIDs)
	scenarioIDs, _ := json.Marshal(r.ScenarioIDs)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, agent_ids, scenario_ids, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.RunID, string(agentIDs), string(scenarioIDs), r.Status, r.CreatedAt)
	return err
}

// GetRun retrieves a run by id; nil when absent.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, agent_ids, scenario_ids, status, created_at, ended_at FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListRuns returns all runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context) ([]domain.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, agent_ids, scenario_ids, status, created_at, ended_at FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var r domain.Run
	var agentIDs, scenarioIDs string
	var endedAt sql.NullTime
	if err := row.Scan(&r.RunID, &agentIDs, &scenarioIDs, &r.Status, &r.CreatedAt, &endedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(agentIDs), &r.AgentIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal agent ids: %w", err)
	}
	if err := json.Unmarshal([]byte(scenarioIDs), &r.ScenarioIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scenario ids: %w", err)
	}
	if endedAt.Valid {
		r.EndedAt = &endedAt.Time
	}
	return &r, nil
}

// UpdateRunStatus advances a run's status.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE runs SET status = ? WHERE run_id = ?`, status, runID)
	return err
}

// CompleteRun writes the terminal status and end time.
func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, status domain.RunStatus, endedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, ended_at = ? WHERE run_id = ?`, status, endedAt, runID)
	return err
}

// UpsertEvaluation writes one terminal evaluation, keyed by its idempotency
// id: re-delivery after a retried persistence call replaces in place rather
// than duplicating.
func (s *SQLiteStore) UpsertEvaluation(ctx context.Context, e *domain.Evaluation) error {
	var decision sql.NullString
	if e.Decision != nil {
		raw, err := json.Marshal(e.Decision)
		if err != nil {
			return fmt.Errorf("failed to marshal parsed decision: %w", err)
		}
		decision = sql.NullString{String: string(raw), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO evaluations
		 (evaluation_id, run_id, agent_id, scenario_id, raw_response, parsed_decision, status, latency_ms, attempts, error, evaluated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RunID, e.AgentID, e.ScenarioID, e.RawResponse, decision, e.Status,
		e.LatencyMs, e.Attempts, nullString(e.Error), e.EvaluatedAt)
	return err
}

// ListEvaluations retrieves all evaluations of a run.
func (s *SQLiteStore) ListEvaluations(ctx context.Context, runID string) ([]domain.Evaluation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT evaluation_id, run_id, agent_id, scenario_id, raw_response, parsed_decision, status, latency_ms, attempts, error, evaluated_at
		 FROM evaluations WHERE run_id = ? ORDER BY evaluated_at, evaluation_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Evaluation
	for rows.Next() {
		var e domain.Evaluation
		var decision, errMsg sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.AgentID, &e.ScenarioID, &e.RawResponse, &decision,
			&e.Status, &e.LatencyMs, &e.Attempts, &errMsg, &e.EvaluatedAt); err != nil {
			return nil, err
		}
		if decision.Valid && decision.String != "" {
			var d domain.ParsedDecision
			if err := json.Unmarshal([]byte(decision.String), &d); err != nil {
				return nil, fmt.Errorf("failed to unmarshal parsed decision: %w", err)
			}
			e.Decision = &d
		}
		if errMsg.Valid {
			e.Error = errMsg.String
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertBiasScore writes one derived score, keyed by its natural id.
func (s *SQLiteStore) UpsertBiasScore(ctx context.Context, sc *domain.BiasScore) error {
	var score sql.NullFloat64
	if sc.Score != nil {
		score = sql.NullFloat64{Float64: *sc.Score, Valid: true}
	}
	var components sql.NullString
	if len(sc.Components) > 0 {
		raw, err := json.Marshal(sc.Components)
		if err != nil {
			return fmt.Errorf("failed to marshal score components: %w", err)
		}
		components = sql.NullString{String: string(raw), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO bias_scores
		 (score_id, run_id, agent_id, bias_type, scenario_id, anchor_pair_id, score, components, excluded_reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.RunID, sc.AgentID, sc.BiasType, nullString(sc.ScenarioID), nullString(sc.AnchorPairID),
		score, components, nullString(sc.ExcludedReason))
	return err
}

// ListBiasScores retrieves scores matching the filter.
func (s *SQLiteStore) ListBiasScores(ctx context.Context, filter ScoreFilter) ([]domain.BiasScore, error) {
	query := `SELECT score_id, run_id, agent_id, bias_type, scenario_id, anchor_pair_id, score, components, excluded_reason
	          FROM bias_scores WHERE 1=1`
	var args []any
	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	if filter.AgentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, filter.AgentID)
	}
	if filter.BiasType != "" {
		query += ` AND bias_type = ?`
		args = append(args, filter.BiasType)
	}
	query += ` ORDER BY run_id, agent_id, bias_type, score_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.BiasScore
	for rows.Next() {
		var sc domain.BiasScore
		var scenarioID, pairID, components, reason sql.NullString
		var score sql.NullFloat64
		if err := rows.Scan(&sc.ID, &sc.RunID, &sc.AgentID, &sc.BiasType, &scenarioID, &pairID,
			&score, &components, &reason); err != nil {
			return nil, err
		}
		if scenarioID.Valid {
			sc.ScenarioID = scenarioID.String
		}
		if pairID.Valid {
			sc.AnchorPairID = pairID.String
		}
		if score.Valid {
			v := score.Float64
			sc.Score = &v
		}
		if components.Valid && components.String != "" {
			if err := json.Unmarshal([]byte(components.String), &sc.Components); err != nil {
				return nil, fmt.Errorf("failed to unmarshal score components: %w", err)
			}
		}
		if reason.Valid {
			sc.ExcludedReason = reason.String
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
