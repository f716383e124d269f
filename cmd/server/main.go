// Command server runs the deliberation backend: REST API, background sweeper,
// and observability endpoints, all configured from the environment.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/averis/go-deliberation-backend/internal/config"
	httpapi "github.com/averis/go-deliberation-backend/internal/http"
	"github.com/averis/go-deliberation-backend/internal/observability"
	"github.com/averis/go-deliberation-backend/internal/repo"
	"github.com/averis/go-deliberation-backend/internal/services"
	"github.com/averis/go-deliberation-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// Load .env in development; absence is fine in production.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	sysutil.ConfigureLogging(cfg.LogLevel, cfg.LogPretty)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		if err := shutdownOTel(context.Background()); err != nil {
			log.Error().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath, cfg.OTEL.Enabled)
	if err != nil {
		log.Fatal().Err(err).Str("db_path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database failed")
	}

	engine := gin.New()
	httpapi.RegisterRoutes(engine, db, cfg)

	// Background sweeper for discussion periods, voting deadlines, and
	// accumulation windows. It shares the idempotent service paths with the
	// HTTP endpoints, so it is safe alongside manual resolve calls.
	formation := services.NewFormationService(db)
	tiers := services.NewTierService(db, formation)
	tiers.ShowdownTarget = cfg.Deliberation.ShowdownTarget
	resolution := &services.ResolutionService{
		DB:                 db,
		Tiers:              tiers,
		SoloVoterMinPoints: cfg.Deliberation.SoloVoterMinPoints,
	}
	rolling := services.NewRollingService(db, formation)
	rolling.MaxEmptyWindows = cfg.Deliberation.MaxEmptyWindows
	sweeper := services.NewScheduler(db, resolution, rolling)
	go sweeper.Run(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		os.Exit(1)
	}
}
