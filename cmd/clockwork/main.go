package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/akave-ai/clockwork/internal/config"
	"github.com/akave-ai/clockwork/internal/logging"
	"github.com/akave-ai/clockwork/internal/server"
)

func main() {
	envFile := pflag.String("env-file", "", "dotenv file to load before reading CLOCKWORK_* variables")
	port := pflag.String("port", "", "listen port, overrides CLOCKWORK_SERVER__PORT")
	pflag.Parse()

	cfg, err := config.LoadConfig(*envFile)
	if err != nil {
		logging.New(nil).Fatal().Err(err).Msg("load config")
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	logger := logging.New(cfg.Observability)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("build server")
	}
	if err := srv.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}
	// waits for the shutdown started by the signal to release storage
	_ = srv.Shutdown(context.Background())
	logger.Info().Msg("server stopped")
}
