// Package retry implements the Retry / Regeneration Controller (spec
// §4.7): it consumes upload-failed events and applies the bounded-retry,
// then-regeneration, then-permanent-failure policy, grounded on the
// teacher's internal/worker failure-branch idiom (claim, mutate, publish)
// applied here to a single consumer instead of a full stage worker.
//
// RETRY_QUEUED is reserved for the regeneration cycle only (spec §9):
// ordinary bounded retries claim UPLOAD_FAILED straight back to
// UPLOADING and republish the upload trigger, since the already-modeled
// stage graph has no UPLOADING successor from RETRY_QUEUED. Only a
// regeneration passes through RETRY_QUEUED; a permanent failure claims
// UPLOAD_FAILED straight to FAILED.
package retry

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/newsline/shorts-pipeline/internal/eventbus"
	"github.com/newsline/shorts-pipeline/internal/job"
	"github.com/newsline/shorts-pipeline/internal/obs"
	"github.com/newsline/shorts-pipeline/internal/stage"
	"github.com/newsline/shorts-pipeline/internal/store"
)

// Store is the subset of the job store the retry controller depends on.
type Store interface {
	Get(ctx context.Context, id string) (job.Job, error)
}

// Claimer is the subset of the Claim Service the retry controller depends
// on.
type Claimer interface {
	ClaimWithUpdate(ctx context.Context, jobID string, fromStates []stage.Stage, to stage.Stage, mutate func(*job.Job)) (bool, job.Job, error)
}

// Publisher is the subset of the event bus the retry controller
// publishes through.
type Publisher interface {
	Publish(ctx context.Context, topic, channelID, correlationID, eventType string, data interface{}) error
}

// Controller consumes upload-failed events and drives a job through the
// bounded-retry / regeneration / permanent-failure policy.
type Controller struct {
	Store            Store
	Claim            Claimer
	Bus              Publisher
	Log              *zap.Logger
	MaxUploadRetries int
	MaxRegenerations int
}

// HandleUploadFailed is the eventbus.Handler for TopicUploadFailed.
func (c *Controller) HandleUploadFailed(ctx context.Context, env eventbus.Envelope) error {
	current, err := c.Store.Get(ctx, env.CorrelationID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return fmt.Errorf("retry: get job: %w", err)
	}
	if current.Stage != stage.UploadFailed {
		return nil // already handled; redelivery is a no-op.
	}

	// Quota exhaustion never reaches this controller in practice — the
	// Upload Worker routes it straight to FAILED (spec §4.6 step 6) — but
	// the literal policy text guards for it defensively, in case a future
	// collaborator surfaces quota failures through this path instead.
	if strings.Contains(strings.ToLower(current.ErrorMessage), "quota") {
		return c.terminal(ctx, current)
	}

	if current.RetryCount+1 <= c.MaxUploadRetries {
		ok, next, err := c.Claim.ClaimWithUpdate(ctx, current.ID, []stage.Stage{stage.UploadFailed}, stage.Uploading, func(mut *job.Job) {
			mut.RetryCount++
			mut.ErrorMessage = ""
		})
		if err != nil {
			return fmt.Errorf("retry: claim upload-failed to uploading: %w", err)
		}
		if !ok {
			return nil
		}
		obs.UploadsRetried.Inc()
		return c.Bus.Publish(ctx, eventbus.TopicUploadRequested, next.ChannelID, next.ID, "RetryRequested", next)
	}

	if current.RegenCount < c.MaxRegenerations {
		ok, next, err := c.Claim.ClaimWithUpdate(ctx, current.ID, []stage.Stage{stage.UploadFailed}, stage.RetryQueued, nil)
		if err != nil {
			return fmt.Errorf("retry: claim upload-failed to retry-queued: %w", err)
		}
		if !ok {
			return nil
		}
		return c.Bus.Publish(ctx, eventbus.TopicRegenerationRequest, next.ChannelID, next.ID, "RegenerationRequested", next)
	}

	return c.terminal(ctx, current)
}

// terminal persists FAILED and forwards the job to the dead-letter topic
// (spec §4.7 final branch, §7 class 2).
func (c *Controller) terminal(ctx context.Context, current job.Job) error {
	ok, next, err := c.Claim.ClaimWithUpdate(ctx, current.ID, []stage.Stage{stage.UploadFailed}, stage.Failed, func(mut *job.Job) {
		mut.FailureStep = "RETRY_EXHAUSTED"
	})
	if err != nil {
		return fmt.Errorf("retry: claim upload-failed to failed: %w", err)
	}
	if !ok {
		return nil
	}
	obs.DeadLettered.WithLabelValues("upload_retries_exhausted").Inc()
	return c.Bus.Publish(ctx, eventbus.TopicDeadLetter, next.ChannelID, next.ID, "UploadPermanentlyFailed", next)
}
