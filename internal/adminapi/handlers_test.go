package adminapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/newsline/shorts-pipeline/internal/channel"
	"github.com/newsline/shorts-pipeline/internal/store"
)

const testChannelsYAML = `
news-shorts:
  channel_name: "News Shorts"
  daily_limit: 5
`

type fakePublisher struct {
	published int
}

func (f *fakePublisher) Publish(ctx context.Context, topic, channelID, correlationID, eventType string, data interface{}) error {
	f.published++
	return nil
}

type fakeScheduler struct {
	ticked bool
}

func (f *fakeScheduler) TickAll(ctx context.Context, channelIDs []string) {
	f.ticked = true
}

type fakeCleanup struct {
	swept bool
}

func (f *fakeCleanup) SweepAll(ctx context.Context) int {
	f.swept = true
	return 0
}

func newTestServer(t *testing.T) (*mux.Router, *store.Store, *fakePublisher, *fakeScheduler, *fakeCleanup) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	s := store.New(rdb)

	dir := t.TempDir()
	path := filepath.Join(dir, "channels.yaml")
	if err := os.WriteFile(path, []byte(testChannelsYAML), 0o644); err != nil {
		t.Fatalf("write channels: %v", err)
	}
	reg, err := channel.LoadRegistry(path)
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}

	bus := &fakePublisher{}
	sched := &fakeScheduler{}
	cleanup := &fakeCleanup{}
	queue := NewWorkQueue(16, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	queue.Run(ctx, 2)

	h := NewHandler(s, bus, reg, sched, cleanup, queue, "news-shorts", zap.NewNop())
	cfg := DefaultConfig()
	cfg.RequireAuth = false
	cfg.RateLimitEnabled = false
	cfg.AuditEnabled = false
	srv, err := NewServer(cfg, h, queue, zap.NewNop())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv.routes().(*mux.Router), s, bus, sched, cleanup
}

func TestHandleCreateInsertsJobAndPublishes(t *testing.T) {
	router, s, bus, _, _ := newTestServer(t)

	body, _ := json.Marshal(ManualCreateRequest{Title: "Volcano erupts", Summary: "details"})
	req := httptest.NewRequest(http.MethodPost, "/manual/create", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp JobStatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Stage != "QUEUED" {
		t.Fatalf("expected QUEUED, got %s", resp.Stage)
	}
	if bus.published != 1 {
		t.Fatalf("expected 1 publish, got %d", bus.published)
	}

	if _, err := s.Get(context.Background(), resp.ID); err != nil {
		t.Fatalf("expected job to exist in store: %v", err)
	}
}

func TestHandleCreateRejectsMissingTitle(t *testing.T) {
	router, _, _, _, _ := newTestServer(t)

	body, _ := json.Marshal(ManualCreateRequest{Summary: "no title"})
	req := httptest.NewRequest(http.MethodPost, "/manual/create", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleAsyncTopicReturnsMatchingID(t *testing.T) {
	router, s, _, _, _ := newTestServer(t)

	body, _ := json.Marshal(ManualTopicRequest{Topic: "election results", Style: "news"})
	req := httptest.NewRequest(http.MethodPost, "/manual/async/topic", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var resp AsyncAcceptedResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Stage != "QUEUED" || resp.ID == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	// The work queue drains asynchronously; poll briefly for the job to
	// land under the id the response promised.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := s.Get(context.Background(), resp.ID); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never appeared in the store", resp.ID)
}

func TestHandleStatusNotFound(t *testing.T) {
	router, _, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/manual/status/does-not-exist", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHandleSchedulerTriggerEnqueuesTick(t *testing.T) {
	router, _, _, sched, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/manual/scheduler/trigger", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !sched.ticked {
		time.Sleep(10 * time.Millisecond)
	}
	if !sched.ticked {
		t.Fatalf("expected scheduler tick to run")
	}
}

func TestHandleCleanupTriggerEnqueuesSweep(t *testing.T) {
	router, _, _, _, cl := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/manual/cleanup/trigger", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !cl.swept {
		time.Sleep(10 * time.Millisecond)
	}
	if !cl.swept {
		t.Fatalf("expected cleanup sweep to run")
	}
}
