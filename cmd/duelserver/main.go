// Package main runs the duel server: a websocket relay that seats two
// players per room and referees their moves with a pluggable rules engine.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/duel/internal/archive"
	"github.com/cory-johannsen/duel/internal/config"
	"github.com/cory-johannsen/duel/internal/game/room"
	"github.com/cory-johannsen/duel/internal/gateway"
	"github.com/cory-johannsen/duel/internal/health"
	"github.com/cory-johannsen/duel/internal/observability"
	"github.com/cory-johannsen/duel/internal/server"
	"github.com/cory-johannsen/duel/internal/storage/postgres"
)

const defaultConfigPath = "configs/dev.yaml"

func main() {
	start := time.Now()

	configPath := flag.String("config", defaultConfigPath, "path to configuration file (skipped if the default is absent)")
	dbHealthInterval := flag.Duration("db-health-interval", 30*time.Second, "interval between database health checks")
	flag.Parse()

	path := *configPath
	if path == defaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}

	// Load configuration
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	// Initialize logger
	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting duel server",
		zap.String("config", path),
		zap.String("engine", cfg.Engine.Kind),
		zap.String("addr", cfg.Server.Addr()),
	)

	adapter, closeAdapter, err := buildAdapter(cfg.Engine)
	if err != nil {
		logger.Fatal("building rules engine", zap.Error(err))
	}
	logger.Info("rules engine ready", zap.String("game", adapter.Name()))

	ctx := context.Background()
	lifecycle := server.NewLifecycle(logger, server.WithStopTimeout(cfg.Server.ShutdownTimeout))
	// First in, last out: rooms may call the engine until the gateway stops.
	lifecycle.Add("engine", &server.FuncService{StopFn: closeAdapter})

	// Archive concluded games when enabled.
	var recorder room.Recorder = room.NopRecorder{}
	if cfg.Archive.Enabled {
		dbStart := time.Now()
		pool, err := postgres.NewPool(ctx, cfg.Database,
			observability.Component(logger, "postgres"),
			postgres.WithCheckInterval(*dbHealthInterval),
		)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Int("port", cfg.Database.Port),
			zap.String("database", cfg.Database.Name),
			zap.Duration("elapsed", time.Since(dbStart)),
		)

		writer := archive.NewWriter(
			postgres.NewGameRepository(pool.DB()),
			cfg.Archive.Buffer,
			cfg.Archive.WriteTimeout,
			observability.Component(logger, "archive"),
		)
		recorder = writer

		lifecycle.Add("postgres", pool)
		// Added after postgres so it stops (and drains) before the pool closes.
		lifecycle.Add("archive", writer)
	}

	// Rooms and gateway
	hub := gateway.NewHub(observability.Component(logger, "gateway"))
	registry := room.NewRegistry(adapter)
	rooms := room.NewService(registry, hub, recorder, observability.Component(logger, "room"))
	hub.Attach(rooms)

	if cfg.Health.Enabled {
		lifecycle.Add("health", health.NewServer(cfg.Health.Addr(), observability.Component(logger, "health")))
	}
	gw := gateway.NewServer(cfg.Server, cfg.Gateway, hub, registry, observability.Component(logger, "gateway"))
	lifecycle.Add("gateway", gw)

	logger.Info("duel server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("http_addr", cfg.Server.Addr()),
		zap.Bool("archive", cfg.Archive.Enabled),
		zap.Bool("grpc_health", cfg.Health.Enabled),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
