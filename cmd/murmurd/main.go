package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"murmur/internal/config"
	"murmur/internal/lease"
	"murmur/internal/logging"
	"murmur/internal/orchestrator"
	"murmur/internal/queue"
)

func main() {
	configPath := flag.String("config", "", "Configuration file path")
	flag.Parse()

	// Local .env files are a development convenience; absence is normal.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("ensure directories: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("validate config: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return
	}
	defer store.Close()

	leases, err := lease.FromConfig(cfg, store)
	if err != nil {
		logger.Error("init lease store", logging.Error(err))
		return
	}

	orch := orchestrator.New(cfg, store, leases, logger)

	d := newDaemon(cfg, orch, logger)
	if err := d.Run(ctx); err != nil {
		logger.Error("daemon exited", logging.Error(err))
		return
	}
	logger.Info("murmurd shut down")
}
