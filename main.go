// Copyright 2025 MobileChurch Contributors
// SPDX-License-Identifier: Apache-2.0

// Command mobilechurch-sync runs the church API server that offline mobile
// clients sync against. The client-side library lives in the offlinestore,
// offlinesync, and netcheck packages.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jkalala/mobilechurch-sync/churchapi"
)

func main() {
	cfg := churchapi.LoadConfig()
	logger := churchapi.SetupLogger(cfg, os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create connection pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	repo := churchapi.NewPgRepository(pool, logger)
	if err := repo.InitSchema(ctx); err != nil {
		logger.Error("failed to initialize schema", "error", err)
		os.Exit(1)
	}

	var authenticator churchapi.ClientAuthenticator
	if cfg.JWTSecret != "" {
		authenticator = churchapi.NewJWTAuth(cfg.JWTSecret)
	} else {
		logger.Warn("JWT_SECRET not set, running without authentication")
	}

	handlers := churchapi.NewHTTPHandlers(repo, authenticator, logger)
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: handlers.Mux(),
	}

	go func() {
		logger.Info("church API server listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
