package stageworker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/newsline/shorts-pipeline/internal/channel"
	"github.com/newsline/shorts-pipeline/internal/claim"
	"github.com/newsline/shorts-pipeline/internal/collaborator"
	"github.com/newsline/shorts-pipeline/internal/eventbus"
	"github.com/newsline/shorts-pipeline/internal/job"
	"github.com/newsline/shorts-pipeline/internal/stage"
	"github.com/newsline/shorts-pipeline/internal/store"
)

type recordingBus struct {
	published []string
}

func (b *recordingBus) Publish(_ context.Context, topic, channelID, correlationID, eventType string, data interface{}) error {
	b.published = append(b.published, topic+":"+eventType)
	return nil
}

func newScriptingWorker(t *testing.T, gen collaborator.FakeScriptGenerator) (*Worker[collaborator.ScriptGenerator], *store.Store, *recordingBus) {
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
	bus := &recordingBus{}
	log := zap.NewNop()

	w := &Worker[collaborator.ScriptGenerator]{
		Name:         "SCRIPTING",
		Behavior:     channel.Behavior{ChannelID: "news-shorts"},
		InputTopic:   "ingest.new-item",
		OutputTopic:  "pipeline.script-created",
		FromQueued:   stage.Queued,
		ToActive:     stage.Scripting,
		ToNextQueued: stage.AssetsQueued,
		Claim:        c,
		Bus:          bus,
		Collaborator: gen,
		Invoke: func(ctx context.Context, j job.Job, g collaborator.ScriptGenerator, progress collaborator.ProgressFunc) (func(*job.Job), error) {
			out, err := g.Generate(ctx, collaborator.ScriptInput{Title: j.Title, Summary: j.Summary}, progress)
			if err != nil {
				return nil, err
			}
			return func(mut *job.Job) {
				mut.Description = out.Description
				mut.Scenes = out.Scenes
				mut.Tags = out.Tags
			}, nil
		},
		Log: log,
	}
	return w, s, bus
}

func envelopeFor(j job.Job) eventbus.Envelope {
	data, _ := json.Marshal(j)
	return eventbus.Envelope{ChannelID: j.ChannelID, CorrelationID: j.ID, Type: "IngestionSucceeded", Data: data}
}

func TestStageWorkerAdvancesOnSuccess(t *testing.T) {
	w, s, bus := newScriptingWorker(t, collaborator.FakeScriptGenerator{})
	ctx := context.Background()

	j := job.New("news-shorts", "Breaking", "summary", "https://x/y")
	if err := s.Create(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := w.HandleEvent(ctx, envelopeFor(j)); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	got, err := s.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Stage != stage.AssetsQueued {
		t.Fatalf("expected AssetsQueued, got %s", got.Stage)
	}
	if len(bus.published) != 1 || bus.published[0] != "pipeline.script-created:SCRIPTINGSucceeded" {
		t.Fatalf("unexpected publishes: %+v", bus.published)
	}
}

func TestStageWorkerFailsJobOnCollaboratorError(t *testing.T) {
	w, s, bus := newScriptingWorker(t, collaborator.FakeScriptGenerator{FailOn: "Breaking"})
	ctx := context.Background()

	j := job.New("news-shorts", "Breaking", "summary", "https://x/y")
	if err := s.Create(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := w.HandleEvent(ctx, envelopeFor(j)); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	got, err := s.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Stage != stage.Failed {
		t.Fatalf("expected FAILED, got %s", got.Stage)
	}
	if got.FailureStep != "SCRIPTING" {
		t.Fatalf("expected failureStep SCRIPTING, got %q", got.FailureStep)
	}
	if len(bus.published) != 0 {
		t.Fatalf("expected no forward publish on failure, got %+v", bus.published)
	}
}

func TestStageWorkerDropsEventForOtherChannel(t *testing.T) {
	w, s, bus := newScriptingWorker(t, collaborator.FakeScriptGenerator{})
	ctx := context.Background()

	j := job.New("other-channel", "Breaking", "summary", "https://x/y")
	if err := s.Create(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := w.HandleEvent(ctx, envelopeFor(j)); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	got, err := s.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Stage != stage.Queued {
		t.Fatalf("expected job untouched in QUEUED, got %s", got.Stage)
	}
	if len(bus.published) != 0 {
		t.Fatal("expected no publish for a dropped event")
	}
}

func TestStageWorkerDropsEventAlreadyClaimedByAnother(t *testing.T) {
	w, s, _ := newScriptingWorker(t, collaborator.FakeScriptGenerator{})
	ctx := context.Background()

	j := job.New("news-shorts", "Breaking", "summary", "https://x/y")
	if err := s.Create(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}
	ok, _, err := s.Transition(ctx, j.ID, []stage.Stage{stage.Queued}, stage.Scripting, nil)
	if err != nil || !ok {
		t.Fatalf("pre-claim: ok=%v err=%v", ok, err)
	}

	if err := w.HandleEvent(ctx, envelopeFor(j)); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	got, err := s.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Stage != stage.Scripting {
		t.Fatalf("expected stage to remain Scripting (redelivery no-op), got %s", got.Stage)
	}
}

// TestAssetsWorkerTreatsEmptyOutputAsFailure instantiates the same
// generic Worker over the Assets collaborator to confirm the
// empty-output tie-break policy (spec §4.4) generalizes across stages.
func TestAssetsWorkerTreatsEmptyOutputAsFailure(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s := store.New(rdb)
	c := claim.New(s)
	bus := &recordingBus{}

	w := &Worker[collaborator.AssetAssembler]{
		Name:         "ASSETS_GENERATING",
		Behavior:     channel.Behavior{ChannelID: "news-shorts"},
		OutputTopic:  "pipeline.assets-ready",
		FromQueued:   stage.AssetsQueued,
		ToActive:     stage.AssetsGenerating,
		ToNextQueued: stage.RenderQueued,
		Claim:        c,
		Bus:          bus,
		Collaborator: collaborator.FakeAssetAssembler{ReturnEmpty: true},
		Invoke: func(ctx context.Context, j job.Job, a collaborator.AssetAssembler, progress collaborator.ProgressFunc) (func(*job.Job), error) {
			out, err := a.Assemble(ctx, collaborator.AssetInput{Scenes: j.Scenes}, progress)
			if err != nil {
				return nil, err
			}
			if len(out.ClipPaths) == 0 {
				return nil, nil
			}
			return func(mut *job.Job) {}, nil
		},
		Log: zap.NewNop(),
	}

	ctx := context.Background()
	j := job.New("news-shorts", "Breaking", "summary", "https://x/y")
	j.Stage = stage.AssetsQueued
	j.Scenes = []string{"intro"}
	if err := s.Create(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := w.HandleEvent(ctx, envelopeFor(j)); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	got, err := s.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Stage != stage.Failed {
		t.Fatalf("expected FAILED on empty output, got %s", got.Stage)
	}
}
