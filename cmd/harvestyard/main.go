package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/harvestyard/internal/app"
	"github.com/ternarybob/harvestyard/internal/common"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	config, err := common.LoadFromFiles(*configPath)
	if err != nil {
		println("failed to load configuration:", err.Error())
		os.Exit(1)
	}

	logger := common.SetupLogger(config)

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to construct application")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Ready(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start application")
	}

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), common.ShutdownTimeout)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error during shutdown")
	}
}
