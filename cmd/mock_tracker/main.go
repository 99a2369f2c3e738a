package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/space_calibrator/internal/app"
	"github.com/relabs-tech/space_calibrator/internal/config"
	"github.com/relabs-tech/space_calibrator/internal/logging"
)

func main() {
	log.Println("starting mock tracker (MQTT publisher)")

	// Load configuration
	if err := config.InitGlobal("calibrator_config.txt"); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	logger, err := logging.NewLogger("mock-tracker", level)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunMockTracker(ctx, cfg, logger); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
