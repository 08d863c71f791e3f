package store

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/newsline/shorts-pipeline/internal/job"
	"github.com/newsline/shorts-pipeline/internal/stage"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb), mr
}

func TestCreateRejectsDuplicateLink(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	j1 := job.New("news-shorts", "first", "summary", "https://x/y")
	if err := s.Create(ctx, j1); err != nil {
		t.Fatalf("create j1: %v", err)
	}
	j2 := job.New("news-shorts", "second", "summary", "https://x/y?utm=1")
	err := s.Create(ctx, j2)
	if err != ErrDuplicateLink {
		t.Fatalf("expected ErrDuplicateLink, got %v", err)
	}
}

func TestTransitionOnlyFromExpectedStage(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	j := job.New("news-shorts", "title", "summary", "https://x/y")
	if err := s.Create(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, next, err := s.Transition(ctx, j.ID, []stage.Stage{stage.Queued}, stage.Scripting, nil)
	if err != nil || !ok {
		t.Fatalf("expected transition to succeed: ok=%v err=%v", ok, err)
	}
	if next.Stage != stage.Scripting {
		t.Fatalf("unexpected stage: %s", next.Stage)
	}

	// A second attempt from the same stale precondition must be a no-op.
	ok2, _, err := s.Transition(ctx, j.ID, []stage.Stage{stage.Queued}, stage.Scripting, nil)
	if err != nil {
		t.Fatalf("transition error: %v", err)
	}
	if ok2 {
		t.Fatal("expected second transition to fail (stage already advanced)")
	}
}

// TestConcurrentClaimExactlyOneWins is property P1: for two concurrent
// claims with the same fromState, exactly one returns true.
func TestConcurrentClaimExactlyOneWins(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	j := job.New("news-shorts", "title", "summary", "https://x/y")
	if err := s.Create(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]bool, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			ok, _, err := s.Transition(ctx, j.ID, []stage.Stage{stage.Queued}, stage.Scripting, nil)
			if err != nil {
				t.Errorf("transition: %v", err)
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

func TestTerminalTransitionReleasesLinkIndex(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	j := job.New("news-shorts", "title", "summary", "https://x/y")
	if err := s.Create(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}
	ok, _, err := s.Transition(ctx, j.ID, []stage.Stage{stage.Queued}, stage.Failed, nil)
	if err != nil || !ok {
		t.Fatalf("transition to failed: ok=%v err=%v", ok, err)
	}

	exists, err := s.LinkExists(ctx, j.ChannelID, j.Link)
	if err != nil {
		t.Fatalf("link exists: %v", err)
	}
	if exists {
		t.Fatal("expected link index to be released after terminal transition")
	}

	j2 := job.New(j.ChannelID, "another title", "summary", j.Link)
	if err := s.Create(ctx, j2); err != nil {
		t.Fatalf("expected re-creation with same link to succeed, got %v", err)
	}
}

func TestCountActiveExcludesTerminal(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	j1 := job.New("news-shorts", "a", "s", "https://x/1")
	j2 := job.New("news-shorts", "b", "s", "https://x/2")
	if err := s.Create(ctx, j1); err != nil {
		t.Fatalf("create j1: %v", err)
	}
	if err := s.Create(ctx, j2); err != nil {
		t.Fatalf("create j2: %v", err)
	}
	n, err := s.CountActive(ctx, "news-shorts")
	if err != nil || n != 2 {
		t.Fatalf("expected 2 active, got %d err=%v", n, err)
	}

	if _, _, err := s.Transition(ctx, j1.ID, []stage.Stage{stage.Queued}, stage.Blocked, nil); err != nil {
		t.Fatalf("transition: %v", err)
	}
	n, err = s.CountActive(ctx, "news-shorts")
	if err != nil || n != 1 {
		t.Fatalf("expected 1 active after terminal transition, got %d err=%v", n, err)
	}
}

func TestOldestInStagePicksEarliestCreated(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	j1 := job.New("news-shorts", "a", "s", "https://x/1")
	j1.CreatedAt = j1.CreatedAt.Add(-2 * 60 * 60 * 1e9)
	j2 := job.New("news-shorts", "b", "s", "https://x/2")
	if err := s.Create(ctx, j1); err != nil {
		t.Fatalf("create j1: %v", err)
	}
	if err := s.Create(ctx, j2); err != nil {
		t.Fatalf("create j2: %v", err)
	}
	for _, id := range []string{j1.ID, j2.ID} {
		if _, _, err := s.Transition(ctx, id, []stage.Stage{stage.Queued}, stage.Completed, nil); err != nil {
			t.Fatalf("transition %s: %v", id, err)
		}
	}

	oldest, ok, err := s.OldestInStage(ctx, "news-shorts", stage.Completed)
	if err != nil || !ok {
		t.Fatalf("oldest in stage: ok=%v err=%v", ok, err)
	}
	if oldest.ID != j1.ID {
		t.Fatalf("expected j1 to be oldest, got %s", oldest.ID)
	}
}
