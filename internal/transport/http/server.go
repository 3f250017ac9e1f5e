// Package http provides the HTTP server implementations for the supervisor.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/taskforge/warden/internal/service"
	"github.com/taskforge/warden/internal/transport/http/internalapi"
	v1 "github.com/taskforge/warden/internal/transport/http/v1"
)

// NewWorkerServer creates and configures the worker-facing HTTP server.
// This server handles instance registration, heartbeats, terminal reports,
// and telemetry emission.
func NewWorkerServer(svc *service.Service) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// Handlers
	v1Handler := v1.NewHandler(svc)
	v1Handler.RegisterRoutes(e)

	return e
}

// NewConsumerServer creates and configures the consumer-facing HTTP server.
// This server handles requests from dashboards, cleanup jobs, and downstream
// agents; every read goes through the reconciled state query.
func NewConsumerServer(svc *service.Service) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	internalHandler := internalapi.NewHandler(svc)
	internalHandler.RegisterRoutes(e)

	return e
}
