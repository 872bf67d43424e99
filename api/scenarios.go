package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/alphagauge/biasbench/domain"
	"github.com/alphagauge/biasbench/scenario"
)

// ScenarioGenerateRequest is the request to generate scenarios. When
// TemplateIDs is empty the full suite (every template across every regime) is
// generated from the seed; Count > 1 produces Count batches at consecutive
// seeds.
type ScenarioGenerateRequest struct {
	TemplateIDs  []string `json:"template_ids,omitempty"`
	Count        int      `json:"count,omitempty"`
	Seed         int64    `json:"seed"`
	AsOf         string   `json:"as_of,omitempty"`
	MarketRegime string   `json:"market_regime,omitempty"`
	CurrentPrice float64  `json:"current_price,omitempty"`
	AnchorHigh   float64  `json:"anchor_high,omitempty"`
	AnchorLow    float64  `json:"anchor_low,omitempty"`
}

// GenerateScenarios generates and persists a deterministic scenario batch.
// POST /api/v1/scenarios/generate
func (h *Handler) GenerateScenarios(c echo.Context) error {
	ctx := c.Request().Context()

	var req ScenarioGenerateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	asOf := time.Now().UTC()
	if req.AsOf != "" {
		parsed, err := time.Parse(time.RFC3339, req.AsOf)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "as_of must be RFC3339"})
		}
		asOf = parsed
	}

	count := req.Count
	if count <= 0 {
		count = 1
	}

	var scenarios []*domain.Scenario
	for i := 0; i < count; i++ {
		seed := req.Seed + int64(i)
		if len(req.TemplateIDs) == 0 {
			batch, err := h.generator.GenerateSuite(seed, asOf)
			if err != nil {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
			}
			scenarios = append(scenarios, batch...)
			continue
		}
		params := scenario.GenParams{
			Regime:       domain.MarketRegime(req.MarketRegime),
			CurrentPrice: req.CurrentPrice,
			AnchorHigh:   req.AnchorHigh,
			AnchorLow:    req.AnchorLow,
		}
		for _, templateID := range req.TemplateIDs {
			batch, err := h.generator.Generate(templateID, seed, asOf, params)
			if err != nil {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
			}
			scenarios = append(scenarios, batch...)
		}
	}

	for _, s := range scenarios {
		if err := h.store.UpsertScenario(ctx, s); err != nil {
			h.logger.Error("failed to persist scenario", zap.String("scenario_id", s.ID), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to persist scenarios"})
		}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"count":     len(scenarios),
		"scenarios": scenarios,
	})
}

// ListScenarios lists all stored scenarios.
// GET /api/v1/scenarios
func (h *Handler) ListScenarios(c echo.Context) error {
	ctx := c.Request().Context()

	scenarios, err := h.store.ListScenarios(ctx)
	if err != nil {
		h.logger.Error("failed to list scenarios", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list scenarios"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"scenarios": scenarios,
	})
}

// GetScenario fetches a single scenario.
// GET /api/v1/scenarios/:scenario_id
func (h *Handler) GetScenario(c echo.Context) error {
	ctx := c.Request().Context()

	s, err := h.store.GetScenario(ctx, c.Param("scenario_id"))
	if err != nil {
		h.logger.Error("failed to get scenario", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get scenario"})
	}
	if s == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "scenario not found"})
	}
	return c.JSON(http.StatusOK, s)
}
