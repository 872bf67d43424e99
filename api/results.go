package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/alphagauge/biasbench/domain"
	"github.com/alphagauge/biasbench/engine"
	"github.com/alphagauge/biasbench/store"
)

// ResultsByModel returns aggregated bias summaries, optionally narrowed to
// one run and one agent. Without run_id it aggregates every persisted run.
// GET /api/v1/results/by-model?run_id=...&agent_id=...
func (h *Handler) ResultsByModel(c echo.Context) error {
	ctx := c.Request().Context()

	runID := c.QueryParam("run_id")

	var summaries []domain.RunSummary
	var err error
	if runID == "" {
		summaries, err = h.aggregator.AggregateAll(ctx)
	} else {
		summaries, err = h.aggregator.Aggregate(ctx, runID)
	}
	if err != nil {
		if engine.IsValidationError(err) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
		}
		h.logger.Error("failed to aggregate results", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to aggregate results"})
	}

	if agentID := c.QueryParam("agent_id"); agentID != "" {
		filtered := summaries[:0]
		for _, s := range summaries {
			if s.AgentID == agentID {
				filtered = append(filtered, s)
			}
		}
		summaries = filtered
	}

	resp := map[string]interface{}{"summaries": summaries}
	if runID != "" {
		resp["run_id"] = runID
	}
	return c.JSON(http.StatusOK, resp)
}

// ListScores returns the raw per-scenario and per-pair scores for a run.
// GET /api/v1/runs/:run_id/scores
func (h *Handler) ListScores(c echo.Context) error {
	ctx := c.Request().Context()

	filter := store.ScoreFilter{
		RunID:   c.Param("run_id"),
		AgentID: c.QueryParam("agent_id"),
	}
	if bt := c.QueryParam("bias_type"); bt != "" {
		biasType := domain.BiasType(bt)
		if !biasType.Valid() {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown bias_type"})
		}
		filter.BiasType = biasType
	}

	scores, err := h.store.ListBiasScores(ctx, filter)
	if err != nil {
		h.logger.Error("failed to list bias scores", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list bias scores"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"scores": scores,
	})
}
