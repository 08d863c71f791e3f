package adminapi

import (
	"context"

	"go.uber.org/zap"
)

// task is one unit of fire-and-forget work accepted by an async handler.
type task func(ctx context.Context)

// WorkQueue is the bounded, service-owned queue that async handlers enqueue
// onto instead of spawning a goroutine per request (spec.md §6's admin
// surface, REDESIGN FLAGS "fire and forget"). A fixed pool of drain loops is
// started once at service construction and stopped on shutdown, the same
// lifecycle shape internal/eventbus gives its subscriptions.
type WorkQueue struct {
	tasks chan task
	log   *zap.Logger
}

// NewWorkQueue builds a work queue with the given backlog depth.
func NewWorkQueue(depth int, log *zap.Logger) *WorkQueue {
	if depth <= 0 {
		depth = 256
	}
	return &WorkQueue{tasks: make(chan task, depth), log: log}
}

// Enqueue submits t for execution, returning false without blocking if the
// queue is full.
func (q *WorkQueue) Enqueue(t task) bool {
	select {
	case q.tasks <- t:
		return true
	default:
		q.log.Warn("adminapi: work queue full, dropping task")
		return false
	}
}

// Run drains the queue with n worker loops until ctx is canceled.
func (q *WorkQueue) Run(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 4
	}
	for i := 0; i < workers; i++ {
		go q.drain(ctx)
	}
}

func (q *WorkQueue) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-q.tasks:
			func() {
				defer func() {
					if r := recover(); r != nil {
						q.log.Error("adminapi: work queue task panicked", zap.Any("recover", r))
					}
				}()
				t(ctx)
			}()
		}
	}
}
