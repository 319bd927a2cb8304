package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/oryxsec/scanhub/internal/api"
	"github.com/oryxsec/scanhub/internal/database"
	"github.com/oryxsec/scanhub/internal/gmp"
	"github.com/oryxsec/scanhub/internal/scans"
	"github.com/oryxsec/scanhub/internal/targets"
	"github.com/oryxsec/scanhub/pkg/config"
	"github.com/oryxsec/scanhub/pkg/util"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)

	db, err := database.Connect(cfg.Scan.DBPath, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	if err := database.AutoMigrate(db); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	engines := make(map[string]scans.Engine, len(cfg.Probes))
	for _, probe := range cfg.Probes {
		engines[probe.Name] = gmp.NewClient(probe, logger)
	}

	manager := scans.NewManager(db, cfg, engines, logger)

	recovered, err := manager.Recover()
	if err != nil {
		logger.Error("failed to recover pending scans", "error", err)
		os.Exit(1)
	}
	if recovered > 0 {
		logger.Info("recovered pending scans", "count", recovered)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Source.Enabled() {
		sync := targets.NewSync(db, cfg.Source, logger)
		go sync.RunLoop(ctx)

		scheduler := targets.NewScheduler(db, manager, cfg.Source.ScheduleEvery(), logger)
		go scheduler.RunLoop(ctx)
	} else {
		logger.Info("no source configured, target sync and scheduler disabled")
	}

	router := api.NewRouter(api.RouterConfig{
		DB:      db,
		Manager: manager,
		Config:  cfg,
		Logger:  logger,
	})

	server := &http.Server{
		Addr:         cfg.API.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			"addr", server.Addr,
			"probes", len(cfg.Probes),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	manager.Stop()

	done := make(chan struct{})
	go func() {
		manager.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		logger.Warn("workers did not drain in time")
	}

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}

	logger.Info("shutdown complete")
}
