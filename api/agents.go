package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/alphagauge/biasbench/domain"
	"github.com/alphagauge/biasbench/policy"
)

// AgentRegisterRequest is the request to register an agent under test.
type AgentRegisterRequest struct {
	Provider         string  `json:"provider"`
	ModelName        string  `json:"model_name"`
	Temperature      float64 `json:"temperature"`
	MaxTokens        int     `json:"max_tokens"`
	EndpointOverride string  `json:"endpoint_override,omitempty"`
	CredentialEnv    string  `json:"credential_env,omitempty"`
}

// RegisterAgent registers a new agent after it clears the admission policy.
// POST /api/v1/agents
func (h *Handler) RegisterAgent(c echo.Context) error {
	ctx := c.Request().Context()

	var req AgentRegisterRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Provider == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "provider is required"})
	}
	if req.ModelName == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "model_name is required"})
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = 1024
	}

	decision, reason, err := h.admission.EvaluateAgent(ctx, policy.AgentInput{
		Provider:    req.Provider,
		ModelName:   req.ModelName,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Endpoint:    req.EndpointOverride,
	})
	if err != nil {
		h.logger.Error("admission policy evaluation failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "policy evaluation failed"})
	}
	if decision != policy.DecisionAllow {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{
			"error":  "agent rejected by admission policy",
			"reason": reason,
		})
	}

	agent := &domain.Agent{
		AgentID:   "agent_" + uuid.New().String()[:8],
		Provider:  req.Provider,
		ModelName: req.ModelName,
		Config: domain.AgentConfig{
			Temperature:      req.Temperature,
			MaxTokens:        req.MaxTokens,
			EndpointOverride: req.EndpointOverride,
			CredentialEnv:    req.CredentialEnv,
		},
		CreatedAt: time.Now().UTC(),
	}

	if err := h.store.RegisterAgent(ctx, agent); err != nil {
		h.logger.Error("failed to register agent", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to register agent"})
	}

	return c.JSON(http.StatusOK, agent)
}

// ListAgents lists all registered agents.
// GET /api/v1/agents
func (h *Handler) ListAgents(c echo.Context) error {
	ctx := c.Request().Context()

	agents, err := h.store.ListAgents(ctx)
	if err != nil {
		h.logger.Error("failed to list agents", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list agents"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"agents": agents,
	})
}

// GetAgent fetches a single agent.
// GET /api/v1/agents/:agent_id
func (h *Handler) GetAgent(c echo.Context) error {
	ctx := c.Request().Context()

	a, err := h.store.GetAgent(ctx, c.Param("agent_id"))
	if err != nil {
		h.logger.Error("failed to get agent", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get agent"})
	}
	if a == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "agent not found"})
	}
	return c.JSON(http.StatusOK, a)
}
