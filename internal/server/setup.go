// Copyright 2025 Waleed Mirza
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/waleed-mirza/expenser/reconcile"
)

// Components bundles everything the server binary runs.
type Components struct {
	Pool    *pgxpool.Pool
	Service *reconcile.Service
	JWTAuth *reconcile.JWTAuth
	Handler http.Handler
	Logger  *slog.Logger
}

// Close releases the database pool.
func (c *Components) Close() {
	if c.Pool != nil {
		c.Pool.Close()
	}
}

// Setup builds the reconciliation service and its HTTP surface from config.
func Setup(ctx context.Context, cfg *Config) (*Components, error) {
	logger := newLogger(cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = 20
	poolCfg.MinConns = 2
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := reconcile.NewPgStore(pool)
	if err := store.InitSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	service := reconcile.NewService(store, reconcile.DefaultServiceConfig(), logger)
	jwtAuth := reconcile.NewJWTAuth(cfg.JWTSecret)
	handlers := reconcile.NewHTTPHandlers(service, jwtAuth, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Post("/sync/batch", handlers.HandleBatch)
	r.Get("/healthz", handlers.HandleHealth)

	return &Components{
		Pool:    pool,
		Service: service,
		JWTAuth: jwtAuth,
		Handler: r,
		Logger:  logger,
	}, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
