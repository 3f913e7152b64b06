// Package server provides the HTTP server and routing for BenTrade.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/bentrade/bentrade/internal/events"
	"github.com/bentrade/bentrade/internal/modules/reports"
	"github.com/bentrade/bentrade/internal/modules/scanner"
	"github.com/bentrade/bentrade/internal/modules/snapshots"
	"github.com/bentrade/bentrade/internal/modules/universe"
	"github.com/bentrade/bentrade/internal/pipeline"
	"github.com/bentrade/bentrade/internal/progress"
	"github.com/bentrade/bentrade/internal/providers"
	"github.com/bentrade/bentrade/internal/reliability"
)

// legacyStrategy backs the unversioned /api/reports and /api/generate routes.
const legacyStrategy = "credit_put"

// Config holds everything the HTTP surface serves.
type Config struct {
	Log          zerolog.Logger
	Port         int
	DataDir      string
	Provider     providers.MarketProvider
	Analyzer     providers.ModelAnalyzer // nil disables /api/model/analyze
	Reports      *reports.Store
	Decisions    *reports.DecisionLog
	Universe     *universe.Store
	Snapshots    *snapshots.Store
	Orchestrator *scanner.Orchestrator
	Generator    *progress.Generator
	Pipeline     *pipeline.Pipeline
	Health       *providers.HealthRegistry
	Bus          *events.Bus
	Backup       *reliability.BackupService // nil disables /api/system/backup
}

// Server is the HTTP server.
type Server struct {
	router *chi.Mux
	server *http.Server
	cfg    Config
	log    zerolog.Logger
}

// New creates the HTTP server and mounts all routes.
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		cfg:    cfg,
		log:    cfg.Log.With().Str("component", "server").Logger(),
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// SSE endpoints manage their own lifetimes, so the global request
		// timeout applies only to the JSON routes.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/reports", s.handleLegacyListReports)
			r.Route("/strategies/{strategyID}", func(r chi.Router) {
				r.Get("/reports", s.handleListReports)
				r.Get("/reports/{name}", s.handleGetReport)
			})

			r.Get("/stock/scanner", s.handleStockScanner)

			r.Post("/decisions/reject", s.handleRejectDecision)
			r.Get("/decisions/{reportFile}", s.handleGetDecisions)

			r.Get("/regime", s.handleRegime)
			r.Get("/playbook", s.handlePlaybook)
			r.Get("/health/sources", s.handleSourceHealth)
			r.Post("/model/analyze", s.handleModelAnalyze)

			r.Route("/symbols", func(r chi.Router) {
				r.Get("/", s.handleGetSymbols)
				r.Post("/", s.handleAddSymbol)
				r.Delete("/{symbol}", s.handleRemoveSymbol)
				r.Post("/reset", s.handleResetSymbols)
			})

			r.Get("/snapshot", s.handleGetSnapshot)
			r.Route("/refresh", func(r chi.Router) {
				r.Post("/", s.handleRefreshNow)
				r.Post("/silent", s.handleRefreshSilent)
				r.Post("/full", s.handleFullRefresh)
				r.Post("/stop", s.handleStopRefresh)
				r.Get("/status", s.handleRefreshStatus)
			})

			r.Get("/system/status", s.handleSystemStatus)
			r.Get("/health/system", s.handleSystemStatus)
			r.Post("/system/backup", s.handleBackupNow)
		})

		r.Get("/generate", s.handleLegacyGenerate)
		r.Get("/strategies/{strategyID}/generate", s.handleGenerate)
		r.Get("/events/stream", s.handleEventsStream)
	})

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router exposes the mux for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins serving. Blocks until Shutdown or failure.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
