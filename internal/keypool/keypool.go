// Package keypool implements the multi-key external-API pool fronting
// rate-limited collaborators such as the LLM provider (spec §5), owned
// mutable state grounded on the teacher's internal/breaker sliding
// window shape, applied here per key instead of globally, plus an
// x/time/rate limiter per key for shaping request bursts. The limiter
// is independent of the cooldown, which is tracked from each key's last
// recorded failure.
package keypool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/newsline/shorts-pipeline/internal/obs"
)

// Key is an opaque external-API credential handle.
type Key string

// ErrNoKeysConfigured is returned by Select when the pool was built with
// zero keys.
var ErrNoKeysConfigured = fmt.Errorf("keypool: no keys configured")

// ErrAllKeysCoolingDown is the error for a pool with no usable key.
// Select does not return it for a non-empty pool: when every key is
// still cooling down, Select falls back to the oldest-failed key.
var ErrAllKeysCoolingDown = fmt.Errorf("keypool: all keys cooling down")

type keyState struct {
	failureCount int
	lastFailure  time.Time
	limiter      *rate.Limiter
}

// Pool selects among a fixed set of keys, preferring the key with the
// lowest recent failure count whose cooldown has elapsed, and recording
// outcomes to update that selection (spec §5's "Shared-resource
// policy").
type Pool struct {
	mu       sync.Mutex
	cooldown time.Duration
	order    []Key
	states   map[Key]*keyState
}

// New builds a pool over keys, each independently rate limited at
// ratePerSecond with the given burst, and cooling down for cooldown
// after a recorded failure.
func New(keys []Key, cooldown time.Duration, ratePerSecond float64, burst int) *Pool {
	states := make(map[Key]*keyState, len(keys))
	order := make([]Key, 0, len(keys))
	for _, k := range keys {
		states[k] = &keyState{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
		order = append(order, k)
	}
	return &Pool{cooldown: cooldown, order: order, states: states}
}

// Select returns the best available key: the lowest-failure-count key
// whose cooldown has elapsed, falling back to the oldest-failed key if
// every key is still cooling down (spec §5). It does not block on the
// per-key rate limiter; callers that need to wait should call Wait
// after a successful Select.
func (p *Pool) Select(ctx context.Context) (Key, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.order) == 0 {
		return "", ErrNoKeysConfigured
	}

	now := time.Now()
	var best Key
	bestFailures := -1
	var oldestFailed Key
	oldestFailedAt := now
	haveOldest := false

	for _, k := range p.order {
		st := p.states[k]
		cooledDown := st.failureCount == 0 || now.Sub(st.lastFailure) >= p.cooldown
		if cooledDown {
			if bestFailures == -1 || st.failureCount < bestFailures {
				best = k
				bestFailures = st.failureCount
			}
			continue
		}
		if !haveOldest || st.lastFailure.Before(oldestFailedAt) {
			oldestFailed = k
			oldestFailedAt = st.lastFailure
			haveOldest = true
		}
	}

	if bestFailures != -1 {
		return best, nil
	}
	if haveOldest {
		return oldestFailed, nil
	}
	return "", ErrAllKeysCoolingDown
}

// Wait blocks until key's rate limiter admits another request, or ctx
// is done.
func (p *Pool) Wait(ctx context.Context, key Key) error {
	p.mu.Lock()
	st, ok := p.states[key]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("keypool: unknown key")
	}
	return st.limiter.Wait(ctx)
}

// Report records the outcome of a call made with key: a failing
// outcome increments the key's failure counter and starts its cooldown
// window; a successful outcome resets the counter (spec §5: "On HTTP
// 429 the key's failure counter increments... on HTTP 200 the counter
// resets").
func (p *Pool) Report(key Key, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, exists := p.states[key]
	if !exists {
		return
	}
	if ok {
		st.failureCount = 0
		obs.KeyPoolCooldowns.WithLabelValues(string(key), "recovered").Inc()
		return
	}
	st.failureCount++
	st.lastFailure = time.Now()
	obs.KeyPoolCooldowns.WithLabelValues(string(key), "failed").Inc()
}
