package quota

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestTracker(t *testing.T, dailyCap int64) *Tracker {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, dailyCap)
}

func TestIncrementAccumulatesWithinADay(t *testing.T) {
	tr := newTestTracker(t, 10)
	ctx := context.Background()
	day := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)

	if err := tr.Increment(ctx, "news-shorts", day, 1); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := tr.Increment(ctx, "news-shorts", day, 2); err != nil {
		t.Fatalf("increment: %v", err)
	}
	used, err := tr.Used(ctx, "news-shorts", day)
	if err != nil {
		t.Fatalf("used: %v", err)
	}
	if used != 3 {
		t.Fatalf("expected 3 used, got %d", used)
	}
}

func TestExhaustedReportsTrueAtCap(t *testing.T) {
	tr := newTestTracker(t, 2)
	ctx := context.Background()
	day := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)

	if err := tr.Increment(ctx, "news-shorts", day, 2); err != nil {
		t.Fatalf("increment: %v", err)
	}
	exhausted, err := tr.Exhausted(ctx, "news-shorts", day)
	if err != nil {
		t.Fatalf("exhausted: %v", err)
	}
	if !exhausted {
		t.Fatal("expected quota to be exhausted at cap")
	}
}

func TestZeroCapNeverExhausts(t *testing.T) {
	tr := newTestTracker(t, 0)
	ctx := context.Background()
	day := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)

	if err := tr.Increment(ctx, "news-shorts", day, 1000); err != nil {
		t.Fatalf("increment: %v", err)
	}
	exhausted, err := tr.Exhausted(ctx, "news-shorts", day)
	if err != nil {
		t.Fatalf("exhausted: %v", err)
	}
	if exhausted {
		t.Fatal("expected zero cap to mean unlimited")
	}
}

func TestUsedIsPerChannel(t *testing.T) {
	tr := newTestTracker(t, 10)
	ctx := context.Background()
	day := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)

	if err := tr.Increment(ctx, "news-shorts", day, 5); err != nil {
		t.Fatalf("increment: %v", err)
	}
	used, err := tr.Used(ctx, "deep-dives", day)
	if err != nil {
		t.Fatalf("used: %v", err)
	}
	if used != 0 {
		t.Fatalf("expected other channel to be unaffected, got %d", used)
	}
}
