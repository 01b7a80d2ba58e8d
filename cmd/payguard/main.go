package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/CedrosPay/payguard/internal/config"
	"github.com/CedrosPay/payguard/internal/httpserver"
	"github.com/CedrosPay/payguard/pkg/payguard"
)

func main() {
	configPath := flag.String("config", "", "path to config yaml (optional, env overrides apply)")
	flag.Parse()

	// .env is optional; real deployments inject the environment directly.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("payguard: could not read .env")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("payguard: load config")
	}

	app, err := payguard.NewApp(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("payguard: build app")
	}

	srv := httpserver.NewServer(cfg, app.Handler())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		app.Logger.Info().
			Str("address", cfg.Server.Address).
			Str("provider", cfg.Provider.Name).
			Str("environment", cfg.Environment).
			Msg("payguard: listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Logger.Error().Err(err).Msg("payguard: server stopped")
		}
	case <-ctx.Done():
		app.Logger.Info().Msg("payguard: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.Logger.Error().Err(err).Msg("payguard: graceful shutdown failed")
		}
		cancel()
	}

	if err := app.Close(); err != nil {
		app.Logger.Error().Err(err).Msg("payguard: close resources")
	}
}
