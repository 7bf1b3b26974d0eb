package main

import (
	"context"
	"flag"
	"log"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Read(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if cfg.DB.DSN == "" {
		log.Fatal("db.dsn is required")
	}

	logger, err := obs.NewLogger(cfg.AsLoggerConfig())
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := postgres.New(ctx, cfg.DB.AsPostgresConfig())
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	if err := postgres.Migrate(ctx, db); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}
	logger.Info("migrations applied")
}
