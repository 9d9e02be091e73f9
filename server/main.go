package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/logger"

	"github.com/cloudx-io/liveauction/config"
)

func main() {
	defer logger.Init("liveauction", true, false, io.Discard).Close()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logger.Level(cfg.LogVerbose))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewServer(cfg).Start(ctx); err != nil {
		logger.Fatalf("Server stopped: %v", err)
	}
}
