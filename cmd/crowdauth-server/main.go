package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrEthical07/crowdauth/internal/config"
	"github.com/MrEthical07/crowdauth/internal/obs"
	"github.com/MrEthical07/crowdauth/internal/postgres"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", os.Getenv("CROWDAUTH_CONFIG"), "path to a YAML config file; env vars override it")
	flag.Parse()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := obs.NewLogger(cfg.AsLoggerConfig())
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting crowdauth",
		zap.String("env", cfg.App.Env),
		zap.String("ver", cfg.App.Version),
		zap.String("session_backend", cfg.Session.Backend),
	)

	otel, err := obs.SetupOTel(rootCtx, cfg.AsOTELConfig())
	if err != nil {
		logger.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = otel.Shutdown(context.Background()) }()

	db, err := postgres.New(rootCtx, cfg.DB.AsPostgresConfig())
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	if cfg.DB.AutoMigrate {
		if err := postgres.Migrate(rootCtx, db); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		logger.Info("migrations applied")
	}

	svc, err := buildApp(cfg, logger, db)
	if err != nil {
		logger.Fatal("build", zap.Error(err))
	}
	defer svc.close()

	janitorErrCh := make(chan error, 1)
	if svc.janitor != nil {
		go func() { janitorErrCh <- svc.janitor.Run(rootCtx) }()
	}

	httpErrCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", svc.server.Addr))
		httpErrCh <- svc.server.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal")
	case err := <-httpErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve", zap.Error(err))
		}
	case err := <-janitorErrCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("janitor stopped", zap.Error(err))
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := svc.server.Shutdown(shCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	logger.Info("bye")
}
