// Package main is the entry point for the BenTrade research workstation.
// It wires the provider clients, stores, scanner orchestrator and refresh
// pipeline, starts the HTTP server and the background scheduler, and waits
// for a shutdown signal.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bentrade/bentrade/internal/config"
	"github.com/bentrade/bentrade/internal/database"
	"github.com/bentrade/bentrade/internal/events"
	"github.com/bentrade/bentrade/internal/modules/opportunities"
	"github.com/bentrade/bentrade/internal/modules/reports"
	"github.com/bentrade/bentrade/internal/modules/scanner"
	"github.com/bentrade/bentrade/internal/modules/snapshots"
	"github.com/bentrade/bentrade/internal/modules/universe"
	"github.com/bentrade/bentrade/internal/pipeline"
	"github.com/bentrade/bentrade/internal/progress"
	"github.com/bentrade/bentrade/internal/providers"
	"github.com/bentrade/bentrade/internal/ratelimit"
	"github.com/bentrade/bentrade/internal/reliability"
	"github.com/bentrade/bentrade/internal/scheduler"
	"github.com/bentrade/bentrade/internal/server"
	"github.com/bentrade/bentrade/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.Pretty,
	})

	log.Info().Msg("Starting BenTrade")

	// 2-database layout: universe.db holds durable state (symbol universe,
	// decision index), cache.db holds the ephemeral snapshot.
	universeDB, err := database.New(database.Config{
		Path:   filepath.Join(cfg.DataDir, "universe.db"),
		Name:   "universe",
		Schema: universe.Schema + reports.DecisionSchema,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open universe database")
	}
	defer universeDB.Close()

	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
		Schema:  snapshots.Schema,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer cacheDB.Close()

	bus := events.NewBus(log)
	health := providers.NewHealthRegistry(log)
	limiter := ratelimit.New(ratelimit.Config{
		MinDelay:    cfg.RateLimit.MinDelay,
		MaxRetries:  cfg.RateLimit.MaxRetries,
		BackoffBase: cfg.RateLimit.BackoffBase,
		BackoffCap:  cfg.RateLimit.BackoffCap,
	}, health, log)

	provider := providers.NewRemoteProvider("data_service", cfg.ProviderBaseURL, log)

	var analyzer providers.ModelAnalyzer
	if cfg.ModelBaseURL != "" {
		analyzer = providers.NewRemoteAnalyzer(cfg.ModelBaseURL, log)
		log.Info().Str("url", cfg.ModelBaseURL).Msg("Model analyzer enabled")
	}

	var broker providers.Broker
	if cfg.BrokerBaseURL != "" {
		broker = providers.NewRemoteBroker(cfg.BrokerBaseURL, log)
		log.Info().Str("url", cfg.BrokerBaseURL).Msg("Broker bridge enabled")
	}

	universeStore := universe.NewStore(universe.NewRepository(universeDB.Conn(), log), bus, log)
	reportStore := reports.NewStore(cfg.DataDir, log)
	decisionLog := reports.NewDecisionLog(cfg.DataDir, universeDB.Conn(), log)

	normalizer := opportunities.NewNormalizer(log)
	ranker := opportunities.NewRanker(log)
	orchestrator := scanner.NewOrchestrator(provider, limiter, normalizer, universeStore, bus, log)

	builder := snapshots.NewBuilder(provider, broker, limiter, orchestrator, ranker, log)
	snapshotStore := snapshots.NewStore(builder, snapshots.NewRepository(cacheDB.Conn()), bus, cfg.RefreshInterval, log)

	pipe := pipeline.New(pipeline.DefaultPhases(pipeline.Deps{
		Store:        snapshotStore,
		Provider:     provider,
		Broker:       broker,
		Limiter:      limiter,
		Orchestrator: orchestrator,
		Ranker:       ranker,
	}), bus, log)

	generator := progress.NewGenerator(provider, limiter, log)

	sched := scheduler.New(log)
	if cfg.RefreshCron != "" {
		err := sched.AddJob(cfg.RefreshCron, scheduler.FuncJob{
			JobName: "silent_refresh",
			Fn: func() error {
				snapshotStore.RefreshSilent(context.Background(), snapshots.RefreshOptions{})
				return nil
			},
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to register refresh job")
		}
	}

	backupSvc, err := reliability.NewBackupService(context.Background(), cfg.Backup, cfg.DataDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize backup service")
	}
	if backupSvc != nil {
		err := sched.AddJob(cfg.BackupCron, scheduler.FuncJob{
			JobName: "nightly_backup",
			Fn: func() error {
				return backupSvc.Run(context.Background())
			},
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to register backup job")
		}
	}

	srv := server.New(server.Config{
		Log:          log,
		Port:         cfg.Port,
		DataDir:      cfg.DataDir,
		Provider:     provider,
		Analyzer:     analyzer,
		Reports:      reportStore,
		Decisions:    decisionLog,
		Universe:     universeStore,
		Snapshots:    snapshotStore,
		Orchestrator: orchestrator,
		Generator:    generator,
		Pipeline:     pipe,
		Health:       health,
		Bus:          bus,
		Backup:       backupSvc,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	sched.Start()

	// Warm the snapshot so the first dashboard request is served from cache.
	go snapshotStore.RefreshSilent(context.Background(), snapshots.RefreshOptions{})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	sched.Stop()
	pipe.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
	log.Info().Msg("BenTrade stopped")
}
