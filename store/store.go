// Package store defines the persistence contract consumed by the benchmark
// engine and its SQLite implementation. Evaluation and BiasScore writes are
// append-only and idempotent on their natural keys, so retried persistence
// calls never create duplicate records.
package store

import (
	"context"
	"time"

	"github.com/alphagauge/biasbench/domain"
)

// ScoreFilter narrows bias-score reads. Zero-valued fields match everything.
type ScoreFilter struct {
	RunID    string
	AgentID  string
	BiasType domain.BiasType
}

// Store is the persistence contract. The engine only ever appends
// evaluations and scores and advances run status; nothing mutates a record
// after its terminal state.
type Store interface {
	UpsertScenario(ctx context.Context, s *domain.Scenario) error
	GetScenario(ctx context.Context, id string) (*domain.Scenario, error)
	GetScenarios(ctx context.Context, ids []string) ([]domain.Scenario, error)
	ListScenarios(ctx context.Context) ([]domain.Scenario, error)

	RegisterAgent(ctx context.Context, a *domain.Agent) error
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)
	GetAgents(ctx context.Context, ids []string) ([]domain.Agent, error)
	ListAgents(ctx context.Context) ([]domain.Agent, error)

	CreateRun(ctx context.Context, r *domain.Run) error
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	ListRuns(ctx context.Context) ([]domain.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus) error
	CompleteRun(ctx context.Context, runID string, status domain.RunStatus, endedAt time.Time) error

	UpsertEvaluation(ctx context.Context, e *domain.Evaluation) error
	ListEvaluations(ctx context.Context, runID string) ([]domain.Evaluation, error)

	UpsertBiasScore(ctx context.Context, s *domain.BiasScore) error
	ListBiasScores(ctx context.Context, filter ScoreFilter) ([]domain.BiasScore, error)

	Close() error
}
