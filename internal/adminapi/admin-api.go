// Package adminapi is the operator-facing HTTP surface over the pipeline
// (spec.md §6, SPEC_FULL §4.9): manual job submission, status lookup, and
// the two one-shot operator triggers, each routed through gorilla/mux and
// a shared middleware chain for auth, rate limiting, and audit logging.
package adminapi

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/newsline/shorts-pipeline/internal/channel"
)

// Run builds and serves the admin API until ctx is canceled.
func Run(ctx context.Context, cfg *Config, store Store, bus Publisher, registry *channel.Registry, scheduler SchedulerTrigger, cleanup CleanupTrigger, channelID string, logger *zap.Logger) error {
	queue := NewWorkQueue(cfg.WorkQueueDepth, logger)
	queue.Run(ctx, cfg.WorkQueueWorkers)

	h := NewHandler(store, bus, registry, scheduler, cleanup, queue, channelID, logger)
	server, err := NewServer(cfg, h, queue, logger)
	if err != nil {
		return fmt.Errorf("adminapi: create server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down admin api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("adminapi: server error: %w", err)
	}
}
