// Package cleanup implements the retention-window sweep that lazily
// destroys terminal jobs (spec.md §3.1, SPEC_FULL §4.10), grounded on
// internal/reaper's periodic-task shape but scanning terminal stages for
// age instead of active stages for staleness, and deleting instead of
// failing.
package cleanup

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/newsline/shorts-pipeline/internal/channel"
	"github.com/newsline/shorts-pipeline/internal/job"
	"github.com/newsline/shorts-pipeline/internal/obs"
)

// Store is the subset of the job store the cleanup task depends on.
type Store interface {
	AllTerminalOlderThan(ctx context.Context, channelID string, cutoff time.Time) ([]string, error)
	Get(ctx context.Context, id string) (job.Job, error)
	Delete(ctx context.Context, id string) error
}

// Task periodically destroys terminal-stage jobs past the configured
// retention window, removing their store record and any on-disk
// artifact files.
type Task struct {
	Store           Store
	Registry        *channel.Registry
	RetentionWindow time.Duration
	Log             *zap.Logger

	// RemoveFile deletes an on-disk artifact, overridable in tests;
	// defaults to os.Remove and tolerates a missing file.
	RemoveFile func(path string) error
}

// New builds a cleanup Task.
func New(store Store, registry *channel.Registry, retentionWindow time.Duration, log *zap.Logger) *Task {
	return &Task{Store: store, Registry: registry, RetentionWindow: retentionWindow, Log: log}
}

func defaultRemoveFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Run ticks interval until ctx is canceled, sweeping every channel on
// each tick.
func (t *Task) Run(ctx context.Context, interval time.Duration) {
	if t.RemoveFile == nil {
		t.RemoveFile = defaultRemoveFile
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.SweepAll(ctx)
		}
	}
}

// SweepAll runs one sweep pass over every channel the registry knows,
// usable both from Run's ticker and the /manual/cleanup/trigger admin
// route.
func (t *Task) SweepAll(ctx context.Context) int {
	if t.RemoveFile == nil {
		t.RemoveFile = defaultRemoveFile
	}
	cutoff := time.Now().Add(-t.RetentionWindow)
	swept := 0
	for _, channelID := range t.Registry.ChannelIDs() {
		ids, err := t.Store.AllTerminalOlderThan(ctx, channelID, cutoff)
		if err != nil {
			t.Log.Warn("cleanup: list terminal jobs failed", obs.String("channel", channelID), obs.Err(err))
			continue
		}
		for _, id := range ids {
			j, err := t.Store.Get(ctx, id)
			if err != nil {
				continue
			}
			for _, path := range []string{j.FilePath, j.ThumbnailPath} {
				if err := t.RemoveFile(path); err != nil {
					t.Log.Warn("cleanup: remove artifact failed", obs.String("job", id), obs.String("path", path), obs.Err(err))
				}
			}
			if err := t.Store.Delete(ctx, id); err != nil {
				t.Log.Warn("cleanup: delete job failed", obs.String("job", id), obs.Err(err))
				continue
			}
			swept++
			obs.CleanupSwept.Inc()
		}
	}
	return swept
}
