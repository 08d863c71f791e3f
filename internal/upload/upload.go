// Package upload implements the Upload Worker (spec §4.6): pre-upload
// validation, the upload collaborator call, and the terminal/retry
// branching on its outcome, grounded on the teacher's internal/worker
// skeleton (claim, invoke collaborator, persist outcome) applied to the
// single UPLOADING stage instead of a claim-then-active pair.
package upload

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/newsline/shorts-pipeline/internal/channel"
	"github.com/newsline/shorts-pipeline/internal/collaborator"
	"github.com/newsline/shorts-pipeline/internal/config"
	"github.com/newsline/shorts-pipeline/internal/eventbus"
	"github.com/newsline/shorts-pipeline/internal/job"
	"github.com/newsline/shorts-pipeline/internal/obs"
	"github.com/newsline/shorts-pipeline/internal/quota"
	"github.com/newsline/shorts-pipeline/internal/stage"
	"github.com/newsline/shorts-pipeline/internal/store"
)

// Store is the subset of the job store the upload worker depends on.
type Store interface {
	Get(ctx context.Context, id string) (job.Job, error)
}

// Claimer is the subset of the Claim Service the upload worker depends
// on.
type Claimer interface {
	ClaimFromAny(ctx context.Context, jobID string, fromStates []stage.Stage, to stage.Stage) (bool, error)
	ClaimWithUpdate(ctx context.Context, jobID string, fromStates []stage.Stage, to stage.Stage, mutate func(*job.Job)) (bool, job.Job, error)
}

// Publisher is the subset of the event bus the upload worker publishes
// through.
type Publisher interface {
	Publish(ctx context.Context, topic, channelID, correlationID, eventType string, data interface{}) error
}

// Worker consumes upload-requested (and the co-consumed legacy
// video-created) events and drives a job through pre-upload validation,
// the upload collaborator, and the success/retry/quota branches.
type Worker struct {
	Store    Store
	Claim    Claimer
	Quota    *quota.Tracker
	Settings *channel.Settings
	Registry *channel.Registry
	Target   collaborator.UploadTarget
	Notifier collaborator.Notifier
	Bus      Publisher
	Cfg      config.Upload
	Log      *zap.Logger

	// ArtifactStat reports a rendered artifact's size, overridable in
	// tests; defaults to os.Stat.
	ArtifactStat func(path string) (size int64, exists bool)
}

func defaultArtifactStat(path string) (int64, bool) {
	if path == "" {
		return 0, false
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return info.Size(), true
}

// HandleUploadRequested is the eventbus.Handler for both
// TopicUploadRequested and TopicLegacyVideoCreated (spec §9: resolved as
// co-consumption, each subject on its own durable consumer).
func (w *Worker) HandleUploadRequested(ctx context.Context, env eventbus.Envelope) error {
	if w.ArtifactStat == nil {
		w.ArtifactStat = defaultArtifactStat
	}

	id := env.CorrelationID
	current, err := w.Store.Get(ctx, id)
	if err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return fmt.Errorf("upload: get job: %w", err)
	}

	// Idempotency (§4.6 step 1): a job already terminal-success never
	// re-uploads, whichever topic redelivered the event.
	if current.Stage == stage.Uploaded {
		return nil
	}

	if current.Stage != stage.Uploading {
		// The legacy video-created path (and any direct republish) has not
		// already been claimed into UPLOADING by the scheduler or retry
		// controller, so this worker performs that claim itself (spec §4.6
		// step 2). The upload-requested path is already in UPLOADING by the
		// time it reaches here, because the Upload Scheduler's own claim
		// (§4.5 step 5) is the admissible claim for this stage — Uploading
		// has no distinct *_QUEUED variant in §4.1's enumeration.
		ok, err := w.Claim.ClaimFromAny(ctx, id, []stage.Stage{stage.Completed, stage.UploadFailed, stage.Failed}, stage.Uploading)
		if err != nil {
			return fmt.Errorf("upload: claim: %w", err)
		}
		if !ok {
			return nil
		}
		current, err = w.Store.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("upload: reload after claim: %w", err)
		}
	}

	behavior, err := w.Registry.Resolve(current.ChannelID)
	if err != nil {
		return fmt.Errorf("upload: resolve channel: %w", err)
	}

	if errs := w.validate(ctx, behavior, &current); len(errs) > 0 {
		_, _, ferr := w.Claim.ClaimWithUpdate(ctx, id, []stage.Stage{stage.Uploading}, stage.Failed, func(mut *job.Job) {
			mut.FailureStep = "VALIDATION"
			mut.ValidationErrors = errs
		})
		obs.StageFailures.WithLabelValues("VALIDATION").Inc()
		return ferr
	}

	tags := mergeTags(behavior.DefaultTags, current.Tags, w.Cfg.MaxTagLength, w.Cfg.MaxTags)
	description := appendHashtags(current.Description, behavior.DefaultHashtags)

	out, uploadErr := w.Target.Upload(ctx, collaborator.UploadInput{
		FilePath:      current.FilePath,
		ThumbnailPath: current.ThumbnailPath,
		Title:         current.Title,
		Description:   description,
		Tags:          tags,
	})

	if uploadErr == nil {
		now := time.Now().UTC()
		_, _, err := w.Claim.ClaimWithUpdate(ctx, id, []stage.Stage{stage.Uploading}, stage.Uploaded, func(mut *job.Job) {
			mut.YoutubeURL = out.URL
			mut.ExternalID = out.ExternalID
			mut.Tags = tags
			mut.Description = description
			mut.ErrorMessage = ""
			mut.FailureStep = ""
		})
		if err != nil {
			return fmt.Errorf("upload: persist success: %w", err)
		}
		if qerr := w.Quota.Increment(ctx, current.ChannelID, now, 1); qerr != nil {
			w.Log.Error("upload: quota increment failed", obs.Err(qerr), obs.String("job", id))
		}
		obs.UploadsSucceeded.Inc()
		if perr := w.Bus.Publish(ctx, eventbus.TopicVideoUploaded, current.ChannelID, id, "UploadSucceeded", current); perr != nil {
			return fmt.Errorf("upload: publish succeeded: %w", perr)
		}
		if w.Notifier != nil {
			_ = w.Notifier.Notify(ctx, current.ChannelID, fmt.Sprintf("uploaded %q: %s", current.Title, out.URL))
		}
		return nil
	}

	// Quota exhaustion is terminal and never enters the retry loop (spec
	// §4.6 step 6, §7 class 4).
	if strings.Contains(strings.ToLower(uploadErr.Error()), "quota") {
		_, _, err := w.Claim.ClaimWithUpdate(ctx, id, []stage.Stage{stage.Uploading}, stage.Failed, func(mut *job.Job) {
			mut.FailureStep = "QUOTA_EXCEEDED"
			mut.ErrorMessage = uploadErr.Error()
		})
		obs.QuotaExhausted.WithLabelValues(current.ChannelID).Inc()
		return err
	}

	// Transient failure: persist UPLOAD_FAILED and hand off to the retry
	// controller via upload-failed (spec §4.6 step 5).
	_, next, err := w.Claim.ClaimWithUpdate(ctx, id, []stage.Stage{stage.Uploading}, stage.UploadFailed, func(mut *job.Job) {
		mut.FailureStep = "UPLOAD"
		mut.ErrorMessage = uploadErr.Error()
	})
	if err != nil {
		return fmt.Errorf("upload: persist failure: %w", err)
	}
	obs.StageFailures.WithLabelValues("UPLOAD").Inc()
	return w.Bus.Publish(ctx, eventbus.TopicUploadFailed, next.ChannelID, next.ID, "UploadFailed", next)
}

// validate runs the pre-upload validation chain (spec §4.6 step 3, plus
// the requiresStrictDateCheck resolution in SPEC_FULL §9). It does not
// modify j; the tag/description merge happens after validation
// succeeds.
func (w *Worker) validate(ctx context.Context, behavior channel.Behavior, j *job.Job) []string {
	var errs []string

	size, exists := w.ArtifactStat(j.FilePath)
	if !exists {
		errs = append(errs, "ARTIFACT_MISSING")
		return errs // fail closed; nothing else is worth checking.
	}
	if size < w.Cfg.MinFileSizeBytes {
		w.Log.Warn("upload: artifact smaller than expected", obs.String("job", j.ID), obs.Int("size", int(size)))
	}

	if behavior.RequiresNativeTitle && !containsRuneInRange(j.Title, w.Cfg.HangulLowRune, w.Cfg.HangulHighRune) {
		errs = append(errs, "TITLE_ENGLISH")
	}

	if behavior.RequiresStrictDateCheck {
		if err := w.checkStrictDate(ctx, behavior, *j); err != nil {
			errs = append(errs, "STRICT_DATE_REQUIRED")
		}
	}

	return errs
}

// checkStrictDate resolves spec.md §9's open question: it is enforced
// here, inside the Upload Worker, requiring the job's news item to still
// be "fresh" — created within the last 48 hours — for channels that
// demand strict dating instead of allowing an arbitrarily aged draft to
// reach the platform.
func (w *Worker) checkStrictDate(_ context.Context, _ channel.Behavior, j job.Job) error {
	const freshnessWindow = 48 * time.Hour
	if time.Since(j.CreatedAt) > freshnessWindow {
		return fmt.Errorf("upload: job %s failed strict date check: created %s ago", j.ID, time.Since(j.CreatedAt))
	}
	return nil
}

// containsRuneInRange reports whether s has at least one rune r with
// low <= r <= high.
func containsRuneInRange(s string, low, high rune) bool {
	for _, r := range s {
		if r >= low && r <= high {
			return true
		}
	}
	return false
}

// mergeTags unions defaults and produced tags, deduplicates, trims each
// to maxLen, drops single-character tags, and caps the result at max
// entries (spec §4.6 step 3).
func mergeTags(defaults, produced []string, maxLen, max int) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, t := range append(append([]string{}, defaults...), produced...) {
		t = strings.TrimSpace(t)
		if len(t) > maxLen {
			t = t[:maxLen]
		}
		if len(t) <= 1 {
			continue
		}
		key := strings.ToLower(t)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
		if len(out) >= max {
			break
		}
	}
	return out
}

// appendHashtags appends any channel default hashtag absent from
// description (spec §4.6 step 3).
func appendHashtags(description string, hashtags []string) string {
	var missing []string
	for _, h := range hashtags {
		if !strings.Contains(description, h) {
			missing = append(missing, h)
		}
	}
	if len(missing) == 0 {
		return description
	}
	if description == "" {
		return strings.Join(missing, " ")
	}
	return description + "\n\n" + strings.Join(missing, " ")
}
