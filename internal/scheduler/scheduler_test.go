package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/newsline/shorts-pipeline/internal/channel"
	"github.com/newsline/shorts-pipeline/internal/claim"
	"github.com/newsline/shorts-pipeline/internal/job"
	"github.com/newsline/shorts-pipeline/internal/quota"
	"github.com/newsline/shorts-pipeline/internal/stage"
	"github.com/newsline/shorts-pipeline/internal/store"
)

type recordingBus struct {
	published []string
	last      job.Job
}

func (b *recordingBus) Publish(_ context.Context, topic, channelID, correlationID, eventType string, data interface{}) error {
	b.published = append(b.published, topic+":"+eventType)
	if j, ok := data.(job.Job); ok {
		b.last = j
	}
	return nil
}

func newTestScheduler(t *testing.T, dailyCap int64) (*Scheduler, *store.Store, *recordingBus) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s := store.New(rdb)
	c := claim.New(s)
	q := quota.New(rdb, dailyCap)
	settings := channel.NewSettings(rdb)
	bus := &recordingBus{}

	sched := &Scheduler{
		Store:          s,
		Claim:          c,
		Quota:          q,
		Settings:       settings,
		Bus:            bus,
		Log:            zap.NewNop(),
		ArtifactExists: func(string) bool { return true },
	}
	return sched, s, bus
}

func TestTickPromotesOldestCompletedJob(t *testing.T) {
	sched, s, bus := newTestScheduler(t, 10)
	ctx := context.Background()

	j := job.New("news-shorts", "t", "s", "https://x/y")
	j.Stage = stage.Completed
	j.FilePath = "/tmp/final.mp4"
	if err := s.Create(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := sched.Tick(ctx, channel.Behavior{ChannelID: "news-shorts"}); err != nil {
		t.Fatalf("tick: %v", err)
	}

	got, err := s.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Stage != stage.Uploading {
		t.Fatalf("expected UPLOADING, got %s", got.Stage)
	}
	if len(bus.published) != 1 || bus.published[0] != "pipeline.upload-requested:UploadRequested" {
		t.Fatalf("unexpected publishes: %+v", bus.published)
	}
}

func TestTickStopsWhenQuotaExhausted(t *testing.T) {
	sched, s, bus := newTestScheduler(t, 1)
	ctx := context.Background()

	if err := sched.Quota.Increment(ctx, "news-shorts", time.Now().UTC(), 1); err != nil {
		t.Fatalf("increment: %v", err)
	}

	j := job.New("news-shorts", "t", "s", "https://x/y")
	j.Stage = stage.Completed
	j.FilePath = "/tmp/final.mp4"
	if err := s.Create(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := sched.Tick(ctx, channel.Behavior{ChannelID: "news-shorts"}); err != nil {
		t.Fatalf("tick: %v", err)
	}

	got, err := s.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Stage != stage.Completed {
		t.Fatalf("expected job untouched when quota exhausted, got %s", got.Stage)
	}
	if len(bus.published) != 0 {
		t.Fatal("expected no publish when quota exhausted")
	}
}

func TestTickHonorsCadenceGate(t *testing.T) {
	sched, s, bus := newTestScheduler(t, 10)
	ctx := context.Background()

	uploaded := job.New("news-shorts", "prev", "s", "https://x/prev")
	uploaded.Stage = stage.Uploaded
	if err := s.Create(ctx, uploaded); err != nil {
		t.Fatalf("create uploaded: %v", err)
	}

	if err := sched.Settings.Set(ctx, "news-shorts", channel.SettingUploadIntervalHours, "999"); err != nil {
		t.Fatalf("set interval: %v", err)
	}

	candidate := job.New("news-shorts", "next", "s", "https://x/next")
	candidate.Stage = stage.Completed
	candidate.FilePath = "/tmp/final.mp4"
	if err := s.Create(ctx, candidate); err != nil {
		t.Fatalf("create candidate: %v", err)
	}

	if err := sched.Tick(ctx, channel.Behavior{ChannelID: "news-shorts"}); err != nil {
		t.Fatalf("tick: %v", err)
	}

	got, err := s.Get(ctx, candidate.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Stage != stage.Completed {
		t.Fatalf("expected cadence gate to block promotion, got %s", got.Stage)
	}
	if len(bus.published) != 0 {
		t.Fatal("expected no publish when cadence gate is closed")
	}
}

func TestTickRequestsRegenerationWhenArtifactMissing(t *testing.T) {
	sched, s, bus := newTestScheduler(t, 10)
	sched.ArtifactExists = func(string) bool { return false }
	ctx := context.Background()

	j := job.New("news-shorts", "t", "s", "https://x/y")
	j.Stage = stage.Completed
	j.FilePath = "/tmp/missing.mp4"
	if err := s.Create(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := sched.Tick(ctx, channel.Behavior{ChannelID: "news-shorts"}); err != nil {
		t.Fatalf("tick: %v", err)
	}

	got, err := s.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Stage != stage.Completed {
		t.Fatalf("expected job to remain COMPLETED pending regeneration, got %s", got.Stage)
	}
	if len(bus.published) != 1 || bus.published[0] != "pipeline.regeneration-requested:RegenerationRequested" {
		t.Fatalf("unexpected publishes: %+v", bus.published)
	}
}

func TestTickFailsJobWhenArtifactMissingAndRegenExhausted(t *testing.T) {
	sched, s, bus := newTestScheduler(t, 10)
	sched.ArtifactExists = func(string) bool { return false }
	ctx := context.Background()

	j := job.New("news-shorts", "t", "s", "https://x/y")
	j.Stage = stage.Completed
	j.FilePath = "/tmp/missing.mp4"
	j.RegenCount = job.MaxRegenerations
	if err := s.Create(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := sched.Tick(ctx, channel.Behavior{ChannelID: "news-shorts"}); err != nil {
		t.Fatalf("tick: %v", err)
	}

	got, err := s.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Stage != stage.Failed {
		t.Fatalf("expected FAILED once regen budget is exhausted, got %s", got.Stage)
	}
	if len(bus.published) != 0 {
		t.Fatal("expected no regeneration publish once budget is exhausted")
	}
}

func TestArtifactExistsChecksRealFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.mp4")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !defaultArtifactExists(path) {
		t.Fatal("expected existing file to report true")
	}
	if defaultArtifactExists(filepath.Join(dir, "missing.mp4")) {
		t.Fatal("expected missing file to report false")
	}
}
