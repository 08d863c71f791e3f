package claim

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/newsline/shorts-pipeline/internal/job"
	"github.com/newsline/shorts-pipeline/internal/stage"
	"github.com/newsline/shorts-pipeline/internal/store"
)

func newTestClaim(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	s := store.New(rdb)
	return New(s), s
}

func TestClaimRejectsIllegalSuccessor(t *testing.T) {
	c, s := newTestClaim(t)
	ctx := context.Background()

	j := job.New("news-shorts", "t", "s", "https://x/y")
	if err := s.Create(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, err := c.Claim(ctx, j.ID, stage.Queued, stage.Rendering)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if ok {
		t.Fatal("expected claim into a non-successor stage to be rejected")
	}
}

func TestClaimWithUpdatePersistsFieldsAtomically(t *testing.T) {
	c, s := newTestClaim(t)
	ctx := context.Background()

	j := job.New("news-shorts", "t", "s", "https://x/y")
	if err := s.Create(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, next, err := c.ClaimWithUpdate(ctx, j.ID, []stage.Stage{stage.Queued}, stage.Scripting, func(jb *job.Job) {
		jb.CurrentStep = "drafting script"
		jb.Progress = 10
	})
	if err != nil || !ok {
		t.Fatalf("claim with update: ok=%v err=%v", ok, err)
	}
	if next.CurrentStep != "drafting script" || next.Progress != 10 {
		t.Fatalf("expected mutate to persist, got %+v", next)
	}

	got, err := s.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Stage != stage.Scripting || got.CurrentStep != "drafting script" {
		t.Fatalf("unexpected stored job: %+v", got)
	}
}

// TestConcurrentClaimFromAnyExactlyOneWins is property P1 at the claim
// layer, mirroring store's but going through the full legality check.
func TestConcurrentClaimFromAnyExactlyOneWins(t *testing.T) {
	c, s := newTestClaim(t)
	ctx := context.Background()

	j := job.New("news-shorts", "t", "s", "https://x/y")
	if err := s.Create(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]bool, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			ok, err := c.Claim(ctx, j.ID, stage.Queued, stage.Scripting)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			results[idx] = ok
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, r := range results {
		if r {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}
