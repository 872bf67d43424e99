// Package api provides HTTP handlers for the benchmark service.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/alphagauge/biasbench/engine"
	"github.com/alphagauge/biasbench/policy"
	"github.com/alphagauge/biasbench/scenario"
	"github.com/alphagauge/biasbench/store"
)

// Handler handles HTTP requests.
type Handler struct {
	store        store.Store
	generator    *scenario.Generator
	orchestrator *engine.Orchestrator
	aggregator   *engine.Aggregator
	admission    *policy.Engine
	logger       *zap.Logger
}

// NewHandler creates a new handler.
func NewHandler(st store.Store, gen *scenario.Generator, orch *engine.Orchestrator, agg *engine.Aggregator, admission *policy.Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:        st,
		generator:    gen,
		orchestrator: orch,
		aggregator:   agg,
		admission:    admission,
		logger:       logger,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	v1 := e.Group("/api/v1")

	v1.POST("/scenarios/generate", h.GenerateScenarios)
	v1.GET("/scenarios", h.ListScenarios)
	v1.GET("/scenarios/:scenario_id", h.GetScenario)

	v1.POST("/agents", h.RegisterAgent)
	v1.GET("/agents", h.ListAgents)
	v1.GET("/agents/:agent_id", h.GetAgent)

	v1.POST("/benchmark/run", h.StartRun)
	v1.GET("/runs", h.ListRuns)
	v1.GET("/runs/:run_id", h.GetRun)
	v1.POST("/runs/:run_id/cancel", h.CancelRun)

	v1.GET("/results/by-model", h.ResultsByModel)
	v1.GET("/runs/:run_id/evaluations", h.ListEvaluations)
	v1.GET("/runs/:run_id/scores", h.ListScores)

	e.GET("/health", h.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}
