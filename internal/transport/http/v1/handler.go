// Package v1 provides the worker-facing HTTP handlers.
package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/taskforge/warden/internal/domain"
	"github.com/taskforge/warden/internal/service"
)

// Handler handles worker-facing HTTP requests.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers worker-facing routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/instances", h.CreateInstance)
	e.POST("/v1/instances/:instance_id/heartbeat", h.Heartbeat)
	e.POST("/v1/instances/:instance_id/terminal", h.MarkTerminal)
	e.POST("/v1/executions/:execution_id/entries", h.EmitEntry)

	e.GET("/health", h.Health)
}

// Health returns health status, including the reaper alert condition.
func (h *Handler) Health(c echo.Context) error {
	failures, alert := h.service.ReaperAlert()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":                 "healthy",
		"reaper_sweep_failures":  failures,
		"reaper_alert":           alert,
		"heartbeat_interval_ms":  h.service.Config().HeartbeatInterval.Milliseconds(),
		"heartbeat_timeout_ms":   h.service.Config().StaleTimeout().Milliseconds(),
		"retry_max_attempts":     h.service.Config().RetryMaxAttempts,
		"retry_initial_delay_ms": h.service.Config().RetryInitialDelay.Milliseconds(),
	})
}

// errorJSON maps service errors to HTTP status codes with a stable error
// code consumers can branch on.
func errorJSON(c echo.Context, err error) error {
	var status int
	var code string
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrInvalidTransition):
		status, code = http.StatusConflict, "invalid_transition"
	case errors.Is(err, domain.ErrConflictingTransition):
		status, code = http.StatusConflict, "conflicting_transition"
	case errors.Is(err, domain.ErrInstanceTerminated):
		status, code = http.StatusGone, "instance_terminated"
	case errors.Is(err, domain.ErrStoreUnavailable):
		status, code = http.StatusServiceUnavailable, "store_unavailable"
	default:
		status, code = http.StatusBadRequest, "bad_request"
	}
	return c.JSON(status, map[string]interface{}{
		"error": domain.ErrorBody{Code: code, Message: err.Error()},
	})
}
