package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/chorechart/internal/server"
)

const (
	shutdownTimeout     = 10 * time.Second
	rateLimitCleanup    = 5 * time.Minute
	backupCheckInterval = time.Hour
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and change feed",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := server.New(cfg.HTTP, server.Stores{
		Config:  a.config,
		State:   a.state,
		Ledger:  a.ledger,
		Storage: a.factory,
		Settler: a.settler,
	}, logger)

	go srv.RateLimiter().RunCleanup(ctx, rateLimitCleanup)
	if a.backup.Enabled() {
		go pruneBackups(ctx, a)
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("chorechart listening", "port", cfg.HTTP.Port, "backend", a.factory.Info().Allowance, "auth", cfg.HTTP.AuthEnabled())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// pruneBackups removes expired snapshots once an hour until ctx ends.
func pruneBackups(ctx context.Context, a *app) {
	ticker := time.NewTicker(backupCheckInterval)
	defer ticker.Stop()
	for {
		if _, err := a.backup.Cleanup(ctx, cfg.Backup.RetentionDays); err != nil {
			logger.Warn("backup cleanup failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
