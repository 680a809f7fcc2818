package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// NewRouter sets up all Echo routes and middleware for the local management
// surface. The agent binds to loopback by default; there is no auth layer —
// origin-side authentication happens with the API key/secret headers on
// outbound calls only.
func NewRouter(h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger())

	// Health (always available)
	e.GET("/health", h.Health)

	// Stored calls
	e.GET("/api/calls", h.ListCalls)
	e.DELETE("/api/calls/:id", h.DeleteCall)
	e.POST("/api/calls/:id/retry", h.RetryCall)

	// Local status stream
	e.GET("/api/events", h.Monitor)

	// Endpoint CRUD pass-through to the origin
	e.GET("/api/endpoints", h.ListEndpoints)
	e.POST("/api/endpoints", h.CreateEndpoint)
	e.PUT("/api/endpoints/:id", h.UpdateEndpoint)
	e.DELETE("/api/endpoints/:id", h.DeleteEndpoint)

	return e
}
