package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"cardiag/internal/config"
	"cardiag/internal/logger"
	"cardiag/internal/server"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		logger.Logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		cancel()
	}()

	if err := server.New(cfg).Run(ctx); err != nil {
		logger.Logger.Fatal().Err(err).Msg("server exited with error")
	}
}
