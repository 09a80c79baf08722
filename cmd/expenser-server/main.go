// Copyright 2025 Waleed Mirza
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/waleed-mirza/expenser/internal/server"
)

func main() {
	cfg := server.LoadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	comps, err := server.Setup(ctx, cfg)
	if err != nil {
		// Logger may not exist yet; stderr is the fallback.
		os.Stderr.WriteString("server setup failed: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer comps.Close()

	logger := comps.Logger
	logger.Info("expenser sync server listening", "addr", cfg.RunAddress)

	srv := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           comps.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
		}
		logger.Info("server stopped")
	}
}
