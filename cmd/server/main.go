package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/Maddoux/Canadian-Helper/internal/catalog"
	"github.com/Maddoux/Canadian-Helper/internal/database"
	"github.com/Maddoux/Canadian-Helper/internal/domain"
	"github.com/Maddoux/Canadian-Helper/internal/enforcer"
	"github.com/Maddoux/Canadian-Helper/internal/engine"
	"github.com/Maddoux/Canadian-Helper/internal/platform/config"
	"github.com/Maddoux/Canadian-Helper/internal/platform/logging"
	"github.com/Maddoux/Canadian-Helper/internal/redis"
	"github.com/Maddoux/Canadian-Helper/internal/scheduler"
	"github.com/Maddoux/Canadian-Helper/internal/server"
)

const (
	leaderKey      = "leader:sweep"
	leaderTTL      = 30 * time.Second
	leaderInterval = 10 * time.Second
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupCatalog(cfg *config.Config) *catalog.Catalog {
	cat, err := catalog.LoadFile(cfg.CatalogPath)
	if err != nil {
		slog.Error("Failed to load rule catalog", "path", cfg.CatalogPath, "error", err)
		os.Exit(1)
	}
	slog.Info("Rule catalog loaded", "path", cfg.CatalogPath, "rules", len(cat.Rules()))
	return cat
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := database.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(cfg *config.Config) *redis.Client {
	client, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		slog.Error("Failed to ping Redis", "error", err)
		os.Exit(1)
	}

	return client
}

func setupEnforcer(cfg *config.Config) domain.Enforcer {
	if cfg.EnforcerURL == "" {
		slog.Warn("No enforcer URL configured, running with noop enforcer")
		return enforcer.Noop{}
	}
	return enforcer.NewHTTPEnforcer(cfg.EnforcerURL, &http.Client{Timeout: cfg.EnforcerTimeout})
}

// sanctionEventLog surfaces sanction broadcasts in this instance's log, so
// any node shows cluster-wide moderation activity and not just its own.
type sanctionEventLog struct{}

func (sanctionEventLog) HandleSanctionApplied(event redis.SanctionAppliedEvent) {
	slog.Info("Sanction broadcast: applied",
		"user_id", event.UserID,
		"kind", event.Kind,
		"duration_seconds", event.DurationSeconds,
		"unbounded", event.Unbounded)
}

func (sanctionEventLog) HandleSanctionLifted(event redis.SanctionLiftedEvent) {
	slog.Info("Sanction broadcast: lifted",
		"user_id", event.UserID,
		"kind", event.Kind,
		"reason", event.Reason)
}

func runGracefulShutdown(srv *server.Server, stopBackground context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		stopBackground()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	// Initialize structured logging
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	cat := setupCatalog(cfg)

	pool := setupDB(cfg)
	defer pool.Close()

	redisClient := setupRedis(cfg)
	defer func() { _ = redisClient.Close() }()

	infractions := database.NewInfractionStore(pool)
	sanctions := database.NewSanctionStore(pool)
	events := redis.NewEventPublisher(redisClient.Underlying())

	sched := scheduler.New(sanctions, setupEnforcer(cfg), events, clock, scheduler.Options{
		SweepInterval:   cfg.SweepInterval,
		EnforcerTimeout: cfg.EnforcerTimeout,
		MaxLiftAttempts: cfg.MaxLiftAttempts,
	})

	// Reconcile sanction state before serving traffic so lifts that came due
	// during downtime execute immediately.
	recoverCtx, cancelRecover := context.WithTimeout(context.Background(), 30*time.Second)
	if err := sched.Recover(recoverCtx); err != nil {
		cancelRecover()
		slog.Error("Failed to recover sanction state", "error", err)
		os.Exit(1)
	}
	cancelRecover()

	eng := engine.New(cat, infractions, sched, clock)

	backgroundCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	instanceID := uuid.NewString()
	election := redis.NewLeaderElection(redisClient.Underlying(), instanceID, leaderKey, leaderTTL)
	sweepLeader := redis.NewSweepLeader(election, sched, leaderInterval)
	go sweepLeader.Run(backgroundCtx)

	listener := redis.NewEventListener(redisClient.Underlying(), sanctionEventLog{})
	go listener.Start(backgroundCtx)

	srv := server.NewServer(cfg, eng, cat, pool, redisClient)

	done := runGracefulShutdown(srv, stopBackground)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
