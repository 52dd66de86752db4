// Package server exposes the moderation API over HTTP: recording
// infractions, retracting them, inspecting history, and lifting sanctions.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Maddoux/Canadian-Helper/internal/catalog"
	"github.com/Maddoux/Canadian-Helper/internal/domain"
	"github.com/Maddoux/Canadian-Helper/internal/engine"
	"github.com/Maddoux/Canadian-Helper/internal/platform/config"
)

// punishmentService is the subset of the engine the handlers need.
type punishmentService interface {
	RecordInfraction(ctx context.Context, req engine.RecordRequest) (*engine.RecordResult, error)
	ForceLift(ctx context.Context, userID string, kind domain.SanctionKind) (*domain.Sanction, error)
	Retract(ctx context.Context, userID string, infractionID int64) error
	History(ctx context.Context, userID string) ([]domain.Infraction, error)
	ActiveSanctions(ctx context.Context) ([]domain.Sanction, error)
}

// pinger is a minimal interface for backing-store health checks.
type pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	echo        *echo.Echo
	config      *config.Config
	service     punishmentService
	catalog     *catalog.Catalog
	dbHealth    pinger
	redisHealth pinger
	startTime   time.Time
}

func NewServer(cfg *config.Config, service punishmentService, cat *catalog.Catalog, dbHealth, redisHealth pinger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())

	srv := &Server{
		echo:        e,
		config:      cfg,
		service:     service,
		catalog:     cat,
		dbHealth:    dbHealth,
		redisHealth: redisHealth,
		startTime:   time.Now(),
	}

	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Echo exposes the router for handler tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
