// Package http provides the HTTP servers of the chat service.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/xiaot623/chatline/internal/config"
	"github.com/xiaot623/chatline/internal/service"
	"github.com/xiaot623/chatline/internal/transport/http/internalapi"
	v1 "github.com/xiaot623/chatline/internal/transport/http/v1"
	"github.com/xiaot623/chatline/internal/transport/ws"
)

// NewExternalServer creates the client-facing server: the REST API under
// /v1 and the WebSocket upgrade at /ws.
func NewExternalServer(cfg *config.Config, svc *service.Service, gateway *ws.Server) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	v1Handler := v1.NewHandler(svc)

	// Register Routes
	var limits []echo.MiddlewareFunc
	if cfg.RateLimit > 0 {
		limits = append(limits, middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(cfg.RateLimit))))
	}
	v1Handler.RegisterRoutes(e, limits...)
	e.GET("/ws", gateway.HandleWebSocket)

	return e
}

// NewInternalServer creates the server for collaborators inside the
// deployment. It must not be exposed publicly.
func NewInternalServer(svc *service.Service) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// Handlers
	internalHandler := internalapi.NewHandler(svc)

	// Register Routes
	internalHandler.RegisterRoutes(e)

	return e
}
