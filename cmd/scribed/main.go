package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"scribe/internal/config"
	"scribe/internal/daemon"
	"scribe/internal/logging"
	"scribe/internal/notify"
	"scribe/internal/orchestrator"
	"scribe/internal/store"
)

func main() {
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	js, err := store.Open(cfg)
	if err != nil {
		logger.Error("open job store", logging.Error(err))
		return
	}

	notifier, err := notify.NewService(cfg)
	if err != nil {
		logger.Error("connect event bus", logging.Error(err))
		return
	}

	clients, breakers := buildClients(cfg)
	runner := orchestrator.NewRunner(cfg, js, clients, notifier, logger)

	d, err := daemon.New(cfg, js, runner, notifier, breakers, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("scribed shutting down")
}
