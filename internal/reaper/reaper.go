// Package reaper implements the stale/abandoned job sweep (spec §7 class
// 7): jobs stuck in an active stage past a configurable age are swept to
// FAILED by a periodic reconciler. Generalized from the teacher's
// heartbeat-absence sweep over a single processing list to a per-stage
// staleness budget compared against updatedAt, since the pipeline's
// stages (unlike the teacher's worker processing lists) carry no
// per-job heartbeat key of their own — the Claim Service's
// compare-and-set write is what keeps this sweep from racing a live
// worker.
package reaper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/newsline/shorts-pipeline/internal/channel"
	"github.com/newsline/shorts-pipeline/internal/config"
	"github.com/newsline/shorts-pipeline/internal/job"
	"github.com/newsline/shorts-pipeline/internal/obs"
	"github.com/newsline/shorts-pipeline/internal/stage"
)

// sweptStages lists every active stage eligible for the sweep. COMPLETED
// is deliberately excluded: it is a deliberate waiting state the
// scheduler drains one-per-tick and can stop draining entirely for the
// rest of a quota period, so a throttled upload backlog can sit there
// far longer than any active-stage staleness budget without being
// stuck in the sense this sweep targets.
var sweptStages = []stage.Stage{
	stage.Queued,
	stage.Scripting,
	stage.AssetsQueued,
	stage.AssetsGenerating,
	stage.RenderQueued,
	stage.Rendering,
	stage.Uploading,
	stage.UploadFailed,
	stage.RetryQueued,
}

// Store is the subset of the job store the reaper depends on.
type Store interface {
	AllIDsInStage(ctx context.Context, channelID string, st stage.Stage) ([]string, error)
	Get(ctx context.Context, id string) (job.Job, error)
}

// Claimer is the subset of the Claim Service the reaper depends on.
type Claimer interface {
	ClaimFromAny(ctx context.Context, jobID string, fromStates []stage.Stage, to stage.Stage) (bool, error)
}

// Reaper periodically sweeps every known channel's active stages for
// jobs that have sat past their stage's staleness budget.
type Reaper struct {
	Store    Store
	Claim    Claimer
	Registry *channel.Registry
	Cfg      config.Reaper
	Log      *zap.Logger
}

// New builds a Reaper.
func New(store Store, claim Claimer, registry *channel.Registry, cfg config.Reaper, log *zap.Logger) *Reaper {
	return &Reaper{Store: store, Claim: claim, Registry: registry, Cfg: cfg, Log: log}
}

// Run ticks ScanInterval until ctx is canceled.
func (r *Reaper) Run(ctx context.Context) {
	interval := r.Cfg.ScanInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SweepAll(ctx)
		}
	}
}

// SweepAll runs one sweep pass over every channel the registry knows.
func (r *Reaper) SweepAll(ctx context.Context) {
	for _, channelID := range r.Registry.ChannelIDs() {
		for _, st := range sweptStages {
			if err := r.sweepStage(ctx, channelID, st); err != nil {
				r.Log.Warn("reaper: sweep failed", obs.String("channel", channelID), obs.String("stage", string(st)), obs.Err(err))
			}
		}
	}
}

// sweepStage fails every job in st, for a single channel, whose
// updatedAt has exceeded the stage's staleness budget.
func (r *Reaper) sweepStage(ctx context.Context, channelID string, st stage.Stage) error {
	maxAge := r.maxAgeFor(st)
	ids, err := r.Store.AllIDsInStage(ctx, channelID, st)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-maxAge)
	for _, id := range ids {
		j, err := r.Store.Get(ctx, id)
		if err != nil {
			continue
		}
		if j.Stage != st || j.UpdatedAt.After(cutoff) {
			continue
		}
		ok, err := r.Claim.ClaimFromAny(ctx, id, []stage.Stage{st}, stage.Failed)
		if err != nil {
			r.Log.Warn("reaper: claim failed", obs.String("job", id), obs.Err(err))
			continue
		}
		if !ok {
			continue // a live worker or concurrent sweep already moved it.
		}
		obs.ReaperRecovered.Inc()
		r.Log.Warn("reaper: swept stale job", obs.String("job", id), obs.String("stage", string(st)))
	}
	return nil
}

// maxAgeFor resolves the configured budget for a stage, falling back to
// the reaper's default.
func (r *Reaper) maxAgeFor(st stage.Stage) time.Duration {
	if d, ok := r.Cfg.StageMaxAge[string(st)]; ok && d > 0 {
		return d
	}
	if r.Cfg.DefaultMaxAge > 0 {
		return r.Cfg.DefaultMaxAge
	}
	return 2 * time.Hour
}
