package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/alphagauge/biasbench/engine"
)

// RunRequest is the request to start a benchmark run.
type RunRequest struct {
	AgentIDs    []string `json:"agent_ids"`
	ScenarioIDs []string `json:"scenario_ids"`
}

// StartRun starts an asynchronous benchmark run and returns its id.
// POST /api/v1/benchmark/run
func (h *Handler) StartRun(c echo.Context) error {
	ctx := c.Request().Context()

	var req RunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	runID, err := h.orchestrator.StartRun(ctx, req.AgentIDs, req.ScenarioIDs)
	if err != nil {
		if engine.IsValidationError(err) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		h.logger.Error("failed to start run", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to start run"})
	}

	return c.JSON(http.StatusAccepted, map[string]string{
		"run_id": runID,
		"status": "pending",
	})
}

// ListRuns lists all runs.
// GET /api/v1/runs
func (h *Handler) ListRuns(c echo.Context) error {
	ctx := c.Request().Context()

	runs, err := h.store.ListRuns(ctx)
	if err != nil {
		h.logger.Error("failed to list runs", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list runs"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"runs": runs,
	})
}

// GetRun fetches a single run.
// GET /api/v1/runs/:run_id
func (h *Handler) GetRun(c echo.Context) error {
	ctx := c.Request().Context()

	run, err := h.store.GetRun(ctx, c.Param("run_id"))
	if err != nil {
		h.logger.Error("failed to get run", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get run"})
	}
	if run == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}
	return c.JSON(http.StatusOK, run)
}

// CancelRun cancels an in-progress run. Persisted evaluations survive as
// partial results.
// POST /api/v1/runs/:run_id/cancel
func (h *Handler) CancelRun(c echo.Context) error {
	runID := c.Param("run_id")
	if !h.orchestrator.CancelRun(runID) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not active"})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"run_id": runID,
		"status": "cancelling",
	})
}

// ListEvaluations lists the evaluations persisted for a run so far.
// GET /api/v1/runs/:run_id/evaluations
func (h *Handler) ListEvaluations(c echo.Context) error {
	ctx := c.Request().Context()

	evals, err := h.store.ListEvaluations(ctx, c.Param("run_id"))
	if err != nil {
		h.logger.Error("failed to list evaluations", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list evaluations"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"evaluations": evals,
	})
}
