// Package claim implements the Claim Service: the only admissible way a
// worker takes ownership of a job's next stage (spec §4.2). It is a thin
// layer over the job store that additionally enforces the stage
// successor graph, so a caller can never claim into an illegal stage
// even if it passes mismatched from/to arguments.
package claim

import (
	"context"
	"fmt"

	"github.com/newsline/shorts-pipeline/internal/job"
	"github.com/newsline/shorts-pipeline/internal/obs"
	"github.com/newsline/shorts-pipeline/internal/stage"
)

// Store is the subset of store.Store the claim service depends on, kept
// narrow so tests can fake it without a real Redis.
type Store interface {
	Transition(ctx context.Context, id string, froms []stage.Stage, to stage.Stage, mutate func(*job.Job)) (bool, job.Job, error)
}

// Service is the Claim Service.
type Service struct {
	store Store
}

// New builds a Claim Service over a job store.
func New(s Store) *Service {
	return &Service{store: s}
}

// Claim atomically transitions jobId from fromState to toState, bumping
// updatedAt in the same write. It returns false (not an error) if the
// job's current stage was not fromState, or if fromState->toState is not
// a listed successor edge.
func (c *Service) Claim(ctx context.Context, jobID string, from, to stage.Stage) (bool, error) {
	return c.ClaimFromAny(ctx, jobID, []stage.Stage{from}, to)
}

// ClaimFromAny atomically transitions jobId from any of fromStates into
// toState. fromStates whose (from, toState) pair is not a legal
// successor edge are dropped; if none is left, the claim is rejected
// without touching the store.
func (c *Service) ClaimFromAny(ctx context.Context, jobID string, fromStates []stage.Stage, to stage.Stage) (bool, error) {
	ok, _, err := c.ClaimWithUpdate(ctx, jobID, fromStates, to, nil)
	return ok, err
}

// ClaimWithUpdate claims jobId into toState exactly like ClaimFromAny,
// and additionally applies mutate to the job record in the same atomic
// write — used by stage workers that must persist outputs and advance
// the stage together (spec §4.4 step 4).
func (c *Service) ClaimWithUpdate(ctx context.Context, jobID string, fromStates []stage.Stage, to stage.Stage, mutate func(*job.Job)) (bool, job.Job, error) {
	legal := make([]stage.Stage, 0, len(fromStates))
	for _, from := range fromStates {
		if stage.CanTransition(from, to) {
			legal = append(legal, from)
		}
	}
	if len(legal) == 0 {
		return false, job.Job{}, nil
	}

	ok, next, err := c.store.Transition(ctx, jobID, legal, to, mutate)
	outcome := "rejected"
	if err != nil {
		return false, job.Job{}, fmt.Errorf("claim: %w", err)
	}
	if ok {
		outcome = "accepted"
	}
	obs.ClaimAttempts.WithLabelValues(string(to), outcome).Inc()
	return ok, next, nil
}
