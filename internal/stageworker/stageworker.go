// Package stageworker implements the shared six-step skeleton every
// content-producing stage follows (spec §4.4), generalized from the
// teacher's internal/worker.Worker into one generic type parameterized
// by the collaborator interface it invokes, so the Scripting, Assets,
// and Rendering workers are three instantiations of the same loop
// instead of three copy-pasted ones.
package stageworker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/newsline/shorts-pipeline/internal/channel"
	"github.com/newsline/shorts-pipeline/internal/claim"
	"github.com/newsline/shorts-pipeline/internal/collaborator"
	"github.com/newsline/shorts-pipeline/internal/eventbus"
	"github.com/newsline/shorts-pipeline/internal/job"
	"github.com/newsline/shorts-pipeline/internal/obs"
	"github.com/newsline/shorts-pipeline/internal/stage"
)

// Publisher is the subset of the event bus a stage worker publishes
// through.
type Publisher interface {
	Publish(ctx context.Context, topic, channelID, correlationID, eventType string, data interface{}) error
}

// Invoke calls the collaborator for job j and returns an apply function
// that writes its outputs onto the in-flight job mutation, or an error
// to fail the stage. Returning a nil apply with a nil error is treated
// as an empty-output stage failure (spec §4.4 tie-break policy).
type Invoke[C any] func(ctx context.Context, j job.Job, c C, progress collaborator.ProgressFunc) (apply func(*job.Job), err error)

// Worker runs the shared stage skeleton for one collaborator type C.
type Worker[C any] struct {
	Name         string // e.g. "SCRIPTING", used in metrics and failureStep/"<STAGE>_DLT".
	Behavior     channel.Behavior
	InputTopic   string
	OutputTopic  string
	FromQueued   stage.Stage
	ToActive     stage.Stage
	ToNextQueued stage.Stage

	Claim        *claim.Service
	Bus          Publisher
	Collaborator C
	Invoke       Invoke[C]
	Log          *zap.Logger
}

// HandleEvent is the eventbus.Handler for this stage worker's input
// topic.
func (w *Worker[C]) HandleEvent(ctx context.Context, env eventbus.Envelope) error {
	if !w.Behavior.Owns(env.ChannelID) {
		return nil
	}

	j, err := job.Unmarshal(string(env.Data))
	if err != nil {
		w.Log.Error("stageworker: invalid job payload, dropping", obs.Err(err), obs.String("stage", w.Name))
		return nil
	}

	ok, err := w.Claim.ClaimFromAny(ctx, j.ID, []stage.Stage{w.FromQueued}, w.ToActive)
	if err != nil {
		return fmt.Errorf("stageworker[%s]: claim: %w", w.Name, err)
	}
	if !ok {
		return nil
	}

	start := time.Now()
	progress := func(pct int, step string) {
		_, _, _ = w.Claim.ClaimWithUpdate(ctx, j.ID, []stage.Stage{w.ToActive}, w.ToActive, func(mut *job.Job) {
			mut.Progress = pct
			mut.CurrentStep = step
		})
	}

	apply, invokeErr := w.Invoke(ctx, j, w.Collaborator, progress)
	obs.StageDuration.WithLabelValues(w.Name).Observe(time.Since(start).Seconds())

	if invokeErr != nil {
		return w.fail(ctx, j.ID, invokeErr.Error())
	}
	if apply == nil {
		return w.fail(ctx, j.ID, "collaborator returned empty output")
	}

	okFinal, next, err := w.Claim.ClaimWithUpdate(ctx, j.ID, []stage.Stage{w.ToActive}, w.ToNextQueued, func(mut *job.Job) {
		apply(mut)
		mut.FailureStep = ""
		mut.ErrorMessage = ""
	})
	if err != nil {
		return fmt.Errorf("stageworker[%s]: persist success: %w", w.Name, err)
	}
	if !okFinal {
		return nil
	}

	if err := w.Bus.Publish(ctx, w.OutputTopic, next.ChannelID, next.ID, w.Name+"Succeeded", next); err != nil {
		return fmt.Errorf("stageworker[%s]: publish: %w", w.Name, err)
	}
	return nil
}

// fail persists a terminal FAILED transition with failureStep/errorMessage
// (spec §4.4 step 5) and records the failure metric. It never returns the
// collaborator's error, matching "on collaborator failure... do not
// publish forward" — there is nothing left for the bus to retry; only an
// error from the store write itself is returned.
func (w *Worker[C]) fail(ctx context.Context, jobID, reason string) error {
	_, _, err := w.Claim.ClaimWithUpdate(ctx, jobID, []stage.Stage{w.ToActive}, stage.Failed, func(mut *job.Job) {
		mut.FailureStep = w.Name
		mut.ErrorMessage = reason
	})
	obs.StageFailures.WithLabelValues(w.Name).Inc()
	return err
}

// HandleDeadLetter marks a job FAILED with failureStep "<STAGE>_DLT"
// once the bus has exhausted redelivery for it (spec §4.4 step 6). The
// dead-letter envelope's payload is the bus's own failure record, not
// the job, so the job id is read from CorrelationID (every publish in
// this package keys the subject on the job id). It is meant to be
// registered as the handler for the dead-letter subject by the same
// process that runs this stage's primary worker.
func (w *Worker[C]) HandleDeadLetter(ctx context.Context, env eventbus.Envelope) error {
	if !w.Behavior.Owns(env.ChannelID) {
		return nil
	}
	_, _, err := w.Claim.ClaimWithUpdate(ctx, env.CorrelationID, []stage.Stage{w.ToActive, w.FromQueued}, stage.Failed, func(mut *job.Job) {
		mut.FailureStep = w.Name + "_DLT"
		mut.ErrorMessage = "exhausted bus redelivery"
	})
	return err
}
