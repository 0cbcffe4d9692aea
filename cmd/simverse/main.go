// Package main provides the simulation server: the NPC registry, its tick
// driver, the HTTP command API, and the websocket viewer channel.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/simverse/internal/config"
	"github.com/cory-johannsen/simverse/internal/events"
	"github.com/cory-johannsen/simverse/internal/game/command"
	"github.com/cory-johannsen/simverse/internal/game/grid"
	"github.com/cory-johannsen/simverse/internal/game/npc"
	"github.com/cory-johannsen/simverse/internal/game/pathfind"
	"github.com/cory-johannsen/simverse/internal/game/session"
	"github.com/cory-johannsen/simverse/internal/gameserver"
	"github.com/cory-johannsen/simverse/internal/observability"
	"github.com/cory-johannsen/simverse/internal/server"
	"github.com/cory-johannsen/simverse/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging, "simverse")
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting simverse",
		zap.String("addr", cfg.Server.Addr()),
		zap.Duration("tick_interval", cfg.Simulation.TickInterval),
	)

	// Load static content
	contentStart := time.Now()
	world, err := grid.LoadFromFile(cfg.Content.MapFile)
	if err != nil {
		logger.Fatal("loading map", zap.Error(err))
	}
	roster, err := npc.LoadRoster(cfg.Content.RosterFile)
	if err != nil {
		logger.Fatal("loading roster", zap.Error(err))
	}
	if err := roster.CheckPlacement(world); err != nil {
		logger.Fatal("placing roster", zap.Error(err))
	}
	logger.Info("content loaded",
		zap.Int("width", world.Width()),
		zap.Int("height", world.Height()),
		zap.Int("npcs", len(roster.NPCs)),
		zap.Duration("elapsed", time.Since(contentStart)),
	)

	reg := npc.NewRegistry(npc.Options{
		Speed:          cfg.Simulation.Speed,
		ArrivalEpsilon: cfg.Simulation.ArrivalEpsilon,
		MoveTimeout:    cfg.Simulation.MoveTimeout,
	})
	if err := roster.Populate(reg); err != nil {
		logger.Fatal("registering npcs", zap.Error(err))
	}

	hub := session.NewHub(reg, cfg.Server.OutboundQueue, logger)
	proc := command.NewProcessor(reg, world, pathfind.Planner{Simplify: cfg.Simulation.SimplifyPaths},
		cfg.Simulation.RetryFromFailed, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lifecycle := server.NewLifecycle(logger)

	// Event mirror
	if cfg.Events.Enabled {
		url := cfg.Events.URL
		if cfg.Events.Embedded {
			ns, err := events.NewEmbeddedServer("127.0.0.1", cfg.Events.EmbeddedPort, logger)
			if err != nil {
				logger.Fatal("configuring embedded nats", zap.Error(err))
			}
			if err := ns.Start(); err != nil {
				logger.Fatal("starting embedded nats", zap.Error(err))
			}
			defer ns.Shutdown()
			url = ns.ClientURL()
		}
		nc, err := events.Connect(url, logger)
		if err != nil {
			logger.Fatal("connecting to nats", zap.Error(err))
		}
		defer nc.Close()

		pub := events.NewPublisher(nc, cfg.Events.Subject, cfg.Server.OutboundQueue, logger)
		hub.AddMirror(pub)
		done := make(chan struct{})
		lifecycle.Add("nats-mirror", &server.FuncService{
			StartFn: func() error {
				defer close(done)
				pub.Run(ctx)
				return nil
			},
			StopFn: func() {
				pub.Close()
				<-done
			},
		})
	}

	// Move journal
	var history gameserver.HistoryReader
	var healthCheck func(context.Context) error
	if cfg.Database.Enabled {
		dbCtx, dbCancel := context.WithTimeout(ctx, 30*time.Second)
		pool, err := postgres.NewPool(dbCtx, cfg.Database, logger)
		dbCancel()
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		defer pool.Close()

		healthCheck = pool.Health
		repo := postgres.NewJournalRepository(pool.DB())
		history = repo
		journal := postgres.NewJournal(repo, cfg.Database.JournalBuffer, logger)
		hub.AddMirror(journal)
		journalDone := make(chan struct{})
		lifecycle.Add("journal", &server.FuncService{
			StartFn: func() error {
				defer close(journalDone)
				if err := journal.Run(ctx); !errors.Is(err, postgres.ErrJournalClosed) {
					return err
				}
				return nil
			},
			StopFn: func() {
				journal.Close()
				<-journalDone
				logger.Info("journal stopped",
					zap.Uint64("written", journal.Written()),
					zap.Uint64("dropped", journal.Dropped()),
				)
			},
		})
	}

	// Progression driver
	ticker := gameserver.NewTicker(cfg.Simulation.TickInterval, reg.Advance, time.Now, logger)
	tickCtx, tickCancel := context.WithCancel(ctx)
	tickDone := make(chan struct{})
	lifecycle.Add("ticker", &server.FuncService{
		StartFn: func() error {
			defer close(tickDone)
			ticker.Run(tickCtx)
			return nil
		},
		StopFn: func() {
			tickCancel()
			<-tickDone
			logger.Info("ticker stopped",
				zap.Uint64("ticks", ticker.Ticks()),
				zap.Uint64("skipped", ticker.Skipped()),
			)
		},
	})

	// HTTP + websocket
	api := gameserver.NewAPI(gameserver.APIConfig{
		Processor:      proc,
		Registry:       reg,
		World:          world,
		History:        history,
		AdminTokenHash: cfg.Admin.TokenHash,
		HealthCheck:    healthCheck,
		Logger:         logger,
	})
	ws := gameserver.NewWSHandler(hub, proc, gameserver.WSConfig{
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, logger)
	httpSvc := gameserver.NewHTTPService(cfg.Server.Addr(), gameserver.NewMux(api, ws), cfg.Server.ReadTimeout, logger)
	lifecycle.Add("http", &server.FuncService{
		StartFn: httpSvc.Start,
		StopFn: func() {
			httpSvc.Stop()
			hub.Close()
		},
	})

	// gRPC health
	if cfg.Admin.HealthPort != 0 {
		health, err := server.NewHealthService(cfg.Admin.HealthAddr(), logger)
		if err != nil {
			logger.Fatal("binding health listener", zap.Error(err))
		}
		lifecycle.Add("health", health)
		lifecycle.AddReadiness(health)
	}

	logger.Info("simverse initialized", zap.Duration("startup", time.Since(start)))
	if err := lifecycle.Run(ctx); err != nil {
		logger.Error("lifecycle error", zap.Error(err))
	}
}
