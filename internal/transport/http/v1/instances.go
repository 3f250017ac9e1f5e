package v1

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/taskforge/warden/internal/domain"
)

// CreateInstance registers a spawned worker.
// POST /v1/instances
func (h *Handler) CreateInstance(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.CreateInstanceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	instance, execution, err := h.service.CreateInstance(ctx, req)
	if err != nil {
		return errorJSON(c, err)
	}

	return c.JSON(http.StatusCreated, domain.CreateInstanceResponse{
		InstanceID:  instance.InstanceID,
		ExecutionID: execution.ExecutionID,
		TaskID:      instance.TaskID,
	})
}

// Heartbeat records a liveness signal for an instance.
// POST /v1/instances/:instance_id/heartbeat
func (h *Handler) Heartbeat(c echo.Context) error {
	ctx := c.Request().Context()
	instanceID := c.Param("instance_id")

	var req domain.HeartbeatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Ts == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "ts is required"})
	}

	if err := h.service.Heartbeat(ctx, instanceID, time.UnixMilli(req.Ts)); err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// MarkTerminal records a worker's graceful self-reported completion or
// failure.
// POST /v1/instances/:instance_id/terminal
func (h *Handler) MarkTerminal(c echo.Context) error {
	ctx := c.Request().Context()
	instanceID := c.Param("instance_id")

	var req domain.TerminalRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Status == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "status is required"})
	}

	if err := h.service.MarkTerminal(ctx, instanceID, req.Status, req.Reason, "worker"); err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}
