// Package internalapi provides the consumer-facing HTTP handlers: reconciled
// state queries, transcript reads, and live subscriptions.
package internalapi

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/taskforge/warden/internal/domain"
	"github.com/taskforge/warden/internal/service"
)

// Handler handles consumer-facing HTTP requests.
type Handler struct {
	service  *service.Service
	upgrader websocket.Upgrader
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// RegisterRoutes registers consumer-facing routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/internal/instances", h.ListInstances)
	e.GET("/internal/instances/:instance_id/status", h.EffectiveStatus)
	e.GET("/internal/executions/:execution_id/transcript", h.GetTranscript)
	e.GET("/internal/executions/:execution_id/tool_uses", h.ListToolUses)
	e.GET("/internal/executions/:execution_id/assertions", h.ListAssertions)
	e.GET("/internal/executions/:execution_id/subscribe", h.Subscribe)
}

func errorJSON(c echo.Context, err error) error {
	var status int
	var code string
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrStoreUnavailable):
		status, code = http.StatusServiceUnavailable, "store_unavailable"
	default:
		status, code = http.StatusInternalServerError, "internal"
	}
	return c.JSON(status, map[string]interface{}{
		"error": domain.ErrorBody{Code: code, Message: err.Error()},
	})
}
