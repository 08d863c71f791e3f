// Package quota tracks the per-day unit budget consumed against the
// upload target (spec §3.2), an atomic Redis counter keyed by date the
// way the Job Store's secondary indexes are keyed by channel, so
// increments from concurrent Upload Worker instances never race.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tracker is the daily quota-usage counter.
type Tracker struct {
	rdb      *redis.Client
	dailyCap int64
}

// New builds a Tracker enforcing dailyCap units per channel per day.
func New(rdb *redis.Client, dailyCap int64) *Tracker {
	return &Tracker{rdb: rdb, dailyCap: dailyCap}
}

func key(channelID string, day time.Time) string {
	return fmt.Sprintf("quota:%s:%s", channelID, day.UTC().Format("2006-01-02"))
}

// Used returns the units consumed for channelID on day.
func (t *Tracker) Used(ctx context.Context, channelID string, day time.Time) (int64, error) {
	n, err := t.rdb.Get(ctx, key(channelID, day)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("quota: used: %w", err)
	}
	return n, nil
}

// Exhausted reports whether channelID has consumed its full daily
// budget for day (spec §4.5 step 1, §4.6 step 6, P6).
func (t *Tracker) Exhausted(ctx context.Context, channelID string, day time.Time) (bool, error) {
	if t.dailyCap <= 0 {
		return false, nil
	}
	used, err := t.Used(ctx, channelID, day)
	if err != nil {
		return false, err
	}
	return used >= t.dailyCap, nil
}

// Increment debits units (the Quota Usage's Unit field) for channelID
// on day, expiring the counter after two days so the key set does not
// grow unbounded.
func (t *Tracker) Increment(ctx context.Context, channelID string, day time.Time, units int64) error {
	if units <= 0 {
		units = 1
	}
	k := key(channelID, day)
	pipe := t.rdb.TxPipeline()
	incr := pipe.IncrBy(ctx, k, units)
	pipe.Expire(ctx, k, 48*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("quota: increment: %w", err)
	}
	_ = incr
	return nil
}
