// Package main runs the raffle service: it deploys a raffle for the
// configured network, drives it with the keeper and serves the HTTP API.
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

	app "github.com/R3E-Network/raffle/internal/app"
	"github.com/R3E-Network/raffle/internal/app/httpapi"
	"github.com/R3E-Network/raffle/internal/app/metrics"
	"github.com/R3E-Network/raffle/internal/config"
	"github.com/R3E-Network/raffle/pkg/logger"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to the YAML config file")
	envFile := flag.String("env-file", ".env", "Optional dotenv file loaded before the config")
	flag.Parse()

	bootLog := logger.NewDefault("raffled")
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		bootLog.WithError(err).Warn("load env file")
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		bootLog.WithError(err).Fatal("load config")
	}

	log := logger.New("raffled", logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	network, _ := cfg.Active()
	log.WithField("chain_id", cfg.ChainID).
		WithField("network", network.Name).
		WithField("addr", cfg.Server.Addr).
		Info("Starting raffle service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application, err := app.New(ctx, cfg, app.Options{Logger: log.Named("app")})
	if err != nil {
		log.WithError(err).Fatal("build application")
	}
	if err := application.Start(ctx); err != nil {
		log.WithError(err).Fatal("start application")
	}

	handler := httpapi.NewHandler(application, httpapi.Options{
		RateLimit: cfg.Server.RateLimit,
		RateBurst: cfg.Server.RateBurst,
		Logger:    log.Named("httpapi"),
	})
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           metrics.InstrumentHandler(handler),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("HTTP API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application stop")
	}
	cancel()
	log.Info("Raffle service stopped")
}
