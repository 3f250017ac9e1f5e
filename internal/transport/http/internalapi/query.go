package internalapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/taskforge/warden/internal/domain"
)

// EffectiveStatus returns the reconciled status for one instance. A missing
// instance is a well-defined not-found result, not an error.
// GET /internal/instances/:instance_id/status
func (h *Handler) EffectiveStatus(c echo.Context) error {
	ctx := c.Request().Context()
	instanceID := c.Param("instance_id")

	status, err := h.service.EffectiveStatus(ctx, instanceID)
	if err != nil {
		return errorJSON(c, err)
	}
	if !status.Found {
		return c.JSON(http.StatusNotFound, status)
	}
	return c.JSON(http.StatusOK, status)
}

// ListInstances returns the reconciled view for every matching instance.
// GET /internal/instances?status=&task_list_id=&include_archived=&limit=
func (h *Handler) ListInstances(c echo.Context) error {
	ctx := c.Request().Context()

	filter := domain.InstanceFilter{
		Status:     domain.InstanceStatus(c.QueryParam("status")),
		TaskListID: c.QueryParam("task_list_id"),
	}
	if c.QueryParam("include_archived") == "true" {
		filter.IncludeArchived = true
	}
	if limit := c.QueryParam("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			filter.Limit = n
		}
	}

	views, err := h.service.ListInstances(ctx, filter)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"instances": views,
	})
}

// GetTranscript returns ordered entries with sequence >= from_sequence.
// GET /internal/executions/:execution_id/transcript?from_sequence=&limit=
func (h *Handler) GetTranscript(c echo.Context) error {
	ctx := c.Request().Context()
	executionID := c.Param("execution_id")

	var fromSequence int64
	if from := c.QueryParam("from_sequence"); from != "" {
		n, err := strconv.ParseInt(from, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid from_sequence"})
		}
		fromSequence = n
	}
	limit := 0
	if l := c.QueryParam("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			limit = n
		}
	}

	entries, err := h.service.GetTranscript(ctx, executionID, fromSequence, limit)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"execution_id": executionID,
		"entries":      entries,
	})
}

// ListToolUses returns the tool-use projection for an execution.
// GET /internal/executions/:execution_id/tool_uses
func (h *Handler) ListToolUses(c echo.Context) error {
	ctx := c.Request().Context()

	uses, err := h.service.GetToolUses(ctx, c.Param("execution_id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"tool_uses": uses})
}

// ListAssertions returns the assertion projection for an execution.
// GET /internal/executions/:execution_id/assertions
func (h *Handler) ListAssertions(c echo.Context) error {
	ctx := c.Request().Context()

	results, err := h.service.GetAssertions(ctx, c.Param("execution_id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"assertions": results})
}
