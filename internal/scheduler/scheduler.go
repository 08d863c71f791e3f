// Package scheduler implements the Upload Scheduler (spec §4.5): a
// fixed-cadence tick, one per channel, that promotes at most one
// COMPLETED job per tick into UPLOADING once the quota and per-channel
// cadence gates clear. Cadence parsing is grounded on the teacher's
// internal/calendar-view validator's robfig/cron descriptor parser,
// reused here for the scheduler's own "@every 5m"-style tick interval.
package scheduler

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/newsline/shorts-pipeline/internal/channel"
	"github.com/newsline/shorts-pipeline/internal/claim"
	"github.com/newsline/shorts-pipeline/internal/job"
	"github.com/newsline/shorts-pipeline/internal/obs"
	"github.com/newsline/shorts-pipeline/internal/quota"
	"github.com/newsline/shorts-pipeline/internal/stage"
)

// defaultUploadIntervalHours is §4.5 step 2's stated default when
// UPLOAD_INTERVAL_HOURS has no System Setting override.
const defaultUploadIntervalHours = 1.0

// Store is the subset of the job store the scheduler reads.
type Store interface {
	OldestInStage(ctx context.Context, channelID string, st stage.Stage) (job.Job, bool, error)
	MostRecentInStage(ctx context.Context, channelID string, st stage.Stage) (job.Job, bool, error)
}

// Publisher is the subset of the event bus the scheduler publishes
// through.
type Publisher interface {
	Publish(ctx context.Context, topic, channelID, correlationID, eventType string, data interface{}) error
}

// Scheduler runs the per-channel upload tick on a cron cadence.
type Scheduler struct {
	Store    Store
	Claim    *claim.Service
	Quota    *quota.Tracker
	Settings *channel.Settings
	Registry *channel.Registry
	Bus      Publisher
	Log      *zap.Logger

	// ArtifactExists reports whether a rendered artifact still exists on
	// disk, overridable in tests; defaults to os.Stat.
	ArtifactExists func(path string) bool

	cronRunner *cron.Cron
}

func defaultArtifactExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// Run starts the cron scheduler with tickCron (an "@every"-style
// expression) and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context, tickCron string, channelIDs []string) error {
	if s.ArtifactExists == nil {
		s.ArtifactExists = defaultArtifactExists
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s.cronRunner = cron.New(cron.WithParser(parser))
	_, err := s.cronRunner.AddFunc(tickCron, func() {
		s.TickAll(ctx, channelIDs)
	})
	if err != nil {
		return err
	}
	s.cronRunner.Start()
	<-ctx.Done()
	stopCtx := s.cronRunner.Stop()
	<-stopCtx.Done()
	return nil
}

// TickAll runs one tick for every channel id, logging (not propagating)
// per-channel errors so one failing channel never blocks the rest.
func (s *Scheduler) TickAll(ctx context.Context, channelIDs []string) {
	for _, id := range channelIDs {
		if id == channel.RendererChannelID {
			continue
		}
		behavior, err := s.Registry.Resolve(id)
		if err != nil {
			s.Log.Error("scheduler: resolve channel", obs.Err(err), obs.String("channel", id))
			continue
		}
		if err := s.Tick(ctx, behavior); err != nil {
			s.Log.Error("scheduler: tick", obs.Err(err), obs.String("channel", id))
		}
	}
}

// Tick runs the five-step tick for a single channel (spec §4.5).
func (s *Scheduler) Tick(ctx context.Context, behavior channel.Behavior) error {
	now := time.Now().UTC()

	exhausted, err := s.Quota.Exhausted(ctx, behavior.ChannelID, now)
	if err != nil {
		return err
	}
	if exhausted {
		obs.QuotaExhausted.WithLabelValues(behavior.ChannelID).Inc()
		return nil
	}

	interval, err := s.uploadIntervalHours(ctx, behavior.ChannelID)
	if err != nil {
		return err
	}
	lastUploaded, found, err := s.Store.MostRecentInStage(ctx, behavior.ChannelID, stage.Uploaded)
	if err != nil {
		return err
	}
	if found {
		nextAllowed := lastUploaded.UpdatedAt.Add(time.Duration(interval * float64(time.Hour)))
		if nextAllowed.After(now) {
			return nil
		}
	}

	candidate, found, err := s.Store.OldestInStage(ctx, behavior.ChannelID, stage.Completed)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	if !s.ArtifactExists(candidate.FilePath) {
		if candidate.RegenCount < job.MaxRegenerations {
			return s.Bus.Publish(ctx, "pipeline.regeneration-requested", behavior.ChannelID, candidate.ID, "RegenerationRequested", candidate)
		}
		_, _, err := s.Claim.ClaimWithUpdate(ctx, candidate.ID, []stage.Stage{stage.Completed}, stage.Failed, func(mut *job.Job) {
			mut.FailureStep = "UPLOAD_SCHEDULER"
			mut.ErrorMessage = "rendered artifact missing and regeneration budget exhausted"
		})
		return err
	}

	ok, next, err := s.Claim.ClaimWithUpdate(ctx, candidate.ID, []stage.Stage{stage.Completed}, stage.Uploading, nil)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return s.Bus.Publish(ctx, "pipeline.upload-requested", next.ChannelID, next.ID, "UploadRequested", next)
}

// uploadIntervalHours reads the UPLOAD_INTERVAL_HOURS System Setting,
// falling back to the spec's stated default.
func (s *Scheduler) uploadIntervalHours(ctx context.Context, channelID string) (float64, error) {
	raw, ok, err := s.Settings.Get(ctx, channelID, channel.SettingUploadIntervalHours)
	if err != nil {
		return 0, err
	}
	if !ok {
		return defaultUploadIntervalHours, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return defaultUploadIntervalHours, nil
	}
	return v, nil
}
