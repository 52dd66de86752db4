package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Maddoux/Canadian-Helper/internal/errors"
)

func (s *Server) registerRoutes() {
	// Observability endpoints (no rate limit)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.GET("/version", s.handleVersion)

	// Moderation API
	api := s.echo.Group("/api",
		errors.Middleware(),
		newRateLimitMiddleware(s.config.APIRatePerSecond, s.config.APIRateBurst),
	)
	api.GET("/rules", s.handleListRules)
	api.POST("/infractions", s.handleRecordInfraction)
	api.GET("/users/:user_id/history", s.handleHistory)
	api.DELETE("/users/:user_id/infractions/:id", s.handleRetract)
	api.GET("/sanctions", s.handleListSanctions)
	api.DELETE("/sanctions/:user_id/:kind", s.handleForceLift)
}
