package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/taskforge/warden/internal/domain"
)

// EmitEntry writes one telemetry entry through the emission facade. Sequence
// is assigned server-side; a success response means the entry is durable and
// queryable.
// POST /v1/executions/:execution_id/entries
func (h *Handler) EmitEntry(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.EmitRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	req.ExecutionID = c.Param("execution_id")

	entry, err := h.service.Emit(ctx, req)
	if err != nil {
		return errorJSON(c, err)
	}

	return c.JSON(http.StatusCreated, domain.EmitResponse{
		EntryID:     entry.EntryID,
		Sequence:    entry.Sequence,
		CommittedAt: entry.CommittedAt,
	})
}
