// Package server exposes the gateway over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"aigateway/internal/core"
	"aigateway/internal/gateway"
	"aigateway/internal/monitor"
	"aigateway/internal/usage"
)

// AgentService answers agent questions.
type AgentService interface {
	AskAgent(ctx context.Context, agentID, message, actorID string, opts gateway.Options) (*gateway.Response, error)
}

// UsageSource serves the usage dashboard and windowed metrics.
type UsageSource interface {
	Dashboard(ctx context.Context) []monitor.ProviderStatus
	Metrics(ctx context.Context, window time.Duration) ([]usage.ProviderStats, error)
}

// ProviderDiagnostics describes one provider binding.
type ProviderDiagnostics struct {
	Provider   core.ProviderID `json:"provider"`
	Configured bool            `json:"configured"`
	Model      string          `json:"model,omitempty"`
}

// Diagnostics is the body of GET /v1/diagnostics.
type Diagnostics struct {
	Providers      []ProviderDiagnostics `json:"providers"`
	FallbackChain  []core.ProviderID     `json:"fallback_chain"`
	AlertThreshold int                   `json:"alert_threshold"`
	SkipThreshold  int                   `json:"skip_threshold"`
	StorageType    string                `json:"storage_type"`
	HealthBackend  string                `json:"health_backend"`
	Agents         []string              `json:"agents"`
}

// DiagnosticsFunc produces the diagnostics report.
type DiagnosticsFunc func(ctx context.Context) Diagnostics

// Handler holds the HTTP handlers
type Handler struct {
	agents      AgentService
	usage       UsageSource
	diagnostics DiagnosticsFunc
}

// NewHandler creates a new handler
func NewHandler(agents AgentService, usage UsageSource, diagnostics DiagnosticsFunc) *Handler {
	return &Handler{
		agents:      agents,
		usage:       usage,
		diagnostics: diagnostics,
	}
}

// AskRequest is the body of POST /v1/agents/:agent/ask.
type AskRequest struct {
	Message       string `json:"message"`
	ActorID       string `json:"actor_id"`
	Feature       string `json:"feature"`
	Restricted    bool   `json:"restricted"`
	ForceProvider string `json:"force_provider"`

	// ReasoningEffort is "1x", "3x" or "auto" (default)
	ReasoningEffort string `json:"reasoning_effort"`
}

// Ask handles POST /v1/agents/:agent/ask
func (h *Handler) Ask(c echo.Context) error {
	var req AskRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body", err))
	}

	feature, err := core.ParseFeature(req.Feature)
	if err != nil {
		return handleError(c, core.NewInvalidRequestError(err.Error(), err))
	}
	opts := gateway.Options{
		Restricted:      req.Restricted,
		Feature:         feature,
		ReasoningEffort: core.ReasoningEffort(req.ReasoningEffort),
	}
	if req.ForceProvider != "" {
		p, err := core.ParseProviderID(req.ForceProvider)
		if err != nil {
			return handleError(c, core.NewInvalidRequestError(err.Error(), err))
		}
		opts.ForceProvider = p
	}

	resp, err := h.agents.AskAgent(c.Request().Context(), c.Param("agent"), req.Message, req.ActorID, opts)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// UsageProviders handles GET /v1/usage/providers
func (h *Handler) UsageProviders(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"providers": h.usage.Dashboard(c.Request().Context()),
	})
}

// UsageMetrics handles GET /v1/usage/metrics?window=24h
func (h *Handler) UsageMetrics(c echo.Context) error {
	var window time.Duration
	if raw := c.QueryParam("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return handleError(c, core.NewInvalidRequestError("invalid window "+raw, err))
		}
		window = d
	}

	stats, err := h.usage.Metrics(c.Request().Context(), window)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"metrics": stats})
}

// Diagnostics handles GET /v1/diagnostics
func (h *Handler) Diagnostics(c echo.Context) error {
	return c.JSON(http.StatusOK, h.diagnostics(c.Request().Context()))
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleError converts gateway errors to appropriate HTTP responses
func handleError(c echo.Context, err error) error {
	var gatewayErr *core.GatewayError
	var forcedErr *core.ForcedProviderError
	if errors.As(err, &gatewayErr) || errors.As(err, &forcedErr) {
		gwErr := core.AsGatewayError(err)
		return c.JSON(gwErr.HTTPStatusCode(), gwErr.ToJSON())
	}

	// Fallback for unexpected errors
	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}
