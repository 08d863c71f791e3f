package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/newsline/shorts-pipeline/internal/channel"
	"github.com/newsline/shorts-pipeline/internal/eventbus"
	"github.com/newsline/shorts-pipeline/internal/job"
	"github.com/newsline/shorts-pipeline/internal/store"
)

// Store is the subset of the job store the admin surface depends on.
type Store interface {
	Create(ctx context.Context, j job.Job) error
	Get(ctx context.Context, id string) (job.Job, error)
}

// Publisher is the subset of the event bus the admin surface publishes
// through to kick off a manually created job's pipeline run.
type Publisher interface {
	Publish(ctx context.Context, topic, channelID, correlationID, eventType string, data interface{}) error
}

// SchedulerTrigger is the upload scheduler's manual-trigger surface.
type SchedulerTrigger interface {
	TickAll(ctx context.Context, channelIDs []string)
}

// CleanupTrigger is the cleanup task's manual-trigger surface.
type CleanupTrigger interface {
	SweepAll(ctx context.Context) int
}

// Handler implements every /manual/* route.
type Handler struct {
	store     Store
	bus       Publisher
	registry  *channel.Registry
	scheduler SchedulerTrigger
	cleanup   CleanupTrigger
	queue     *WorkQueue
	channelID string
	logger    *zap.Logger
}

// NewHandler wires a Handler against the service's shared collaborators.
// channelID is the process's configured SHORTS_CHANNEL_ID (spec.md §6),
// used to attribute manually created jobs to a concrete channel.
func NewHandler(store Store, bus Publisher, registry *channel.Registry, scheduler SchedulerTrigger, cleanup CleanupTrigger, queue *WorkQueue, channelID string, logger *zap.Logger) *Handler {
	return &Handler{
		store:     store,
		bus:       bus,
		registry:  registry,
		scheduler: scheduler,
		cleanup:   cleanup,
		queue:     queue,
		channelID: channelID,
		logger:    logger,
	}
}

// createJob inserts a job row under id and publishes its ingestion event,
// bypassing the Ingestion Gate's dedup/capacity chain: a manual submission
// is an explicit operator action, not an RSS candidate competing for a
// channel's daily slot.
func (h *Handler) createJob(ctx context.Context, id, title, summary string) (job.Job, error) {
	behavior, err := h.registry.Resolve(h.channelID)
	if err != nil {
		return job.Job{}, err
	}
	j := job.New(h.channelID, title, summary, "manual://"+id)
	j.ID = id
	j.ChannelBehaviorVersion = behavior.VersionTag(j.CreatedAt)
	if err := h.store.Create(ctx, j); err != nil {
		return job.Job{}, err
	}
	if err := h.bus.Publish(ctx, eventbus.TopicIngestNewItem, j.ChannelID, j.ID, "ManualIngestionSucceeded", j); err != nil {
		return job.Job{}, err
	}
	return j, nil
}

// HandleCreate serves POST /manual/create: synchronous single-job
// production from an operator-supplied title and summary.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req ManualCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION", "title is required")
		return
	}
	j, err := h.createJob(r.Context(), uuid.NewString(), req.Title, req.Summary)
	if err != nil {
		h.logger.Error("manual create failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to create job")
		return
	}
	writeJSON(w, http.StatusCreated, toJobStatus(j))
}

// HandleTopic serves POST /manual/topic: synchronous, treating the
// supplied topic as the job's working title for LLM-generated content.
func (h *Handler) HandleTopic(w http.ResponseWriter, r *http.Request) {
	var req ManualTopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Topic) == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION", "topic is required")
		return
	}
	j, err := h.createJob(r.Context(), uuid.NewString(), req.Topic, "style: "+req.Style)
	if err != nil {
		h.logger.Error("manual topic failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to create job")
		return
	}
	writeJSON(w, http.StatusCreated, toJobStatus(j))
}

// HandleAsyncTopic serves POST /manual/async/topic: enqueues job creation
// onto the bounded work queue and returns immediately (spec.md §6's
// `{id, stage, message}` shape), per REDESIGN FLAGS' "fire and forget".
func (h *Handler) HandleAsyncTopic(w http.ResponseWriter, r *http.Request) {
	var req ManualTopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Topic) == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION", "topic is required")
		return
	}

	id := uuid.NewString()
	accepted := h.queue.Enqueue(func(ctx context.Context) {
		if _, err := h.createJob(ctx, id, req.Topic, "style: "+req.Style); err != nil {
			h.logger.Error("async manual topic failed", zap.Error(err), zap.String("id", id))
		}
	})
	if !accepted {
		writeError(w, http.StatusServiceUnavailable, "QUEUE_FULL", "work queue is full, try again later")
		return
	}
	writeJSON(w, http.StatusAccepted, AsyncAcceptedResponse{
		ID:      id,
		Stage:   "QUEUED",
		Message: "accepted for asynchronous production",
	})
}

// HandleBatchTopic serves POST /manual/batch/topic: enqueues one creation
// task per topic.
func (h *Handler) HandleBatchTopic(w http.ResponseWriter, r *http.Request) {
	var req ManualBatchTopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	if len(req.Topics) == 0 {
		writeError(w, http.StatusBadRequest, "VALIDATION", "topics is required")
		return
	}

	resp := BatchAcceptedResponse{}
	for _, topic := range req.Topics {
		topic := topic
		if strings.TrimSpace(topic) == "" {
			resp.Dropped++
			continue
		}
		id := uuid.NewString()
		accepted := h.queue.Enqueue(func(ctx context.Context) {
			if _, err := h.createJob(ctx, id, topic, "style: "+req.Style); err != nil {
				h.logger.Error("batch manual topic failed", zap.Error(err), zap.String("id", id))
			}
		})
		if !accepted {
			resp.Dropped++
			continue
		}
		resp.Accepted = append(resp.Accepted, AsyncAcceptedResponse{
			ID:      id,
			Stage:   "QUEUED",
			Message: "accepted for asynchronous production",
		})
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// HandleStatus serves GET /manual/status/{id}.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	j, err := h.store.Get(r.Context(), id)
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "job not found")
		return
	}
	if err != nil {
		h.logger.Error("status lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to fetch job")
		return
	}
	writeJSON(w, http.StatusOK, toJobStatus(j))
}

// HandleSchedulerTrigger serves POST /manual/scheduler/trigger: enqueues
// one scheduler tick across every known channel.
func (h *Handler) HandleSchedulerTrigger(w http.ResponseWriter, r *http.Request) {
	accepted := h.queue.Enqueue(func(ctx context.Context) {
		h.scheduler.TickAll(ctx, h.registry.ChannelIDs())
	})
	if !accepted {
		writeError(w, http.StatusServiceUnavailable, "QUEUE_FULL", "work queue is full, try again later")
		return
	}
	writeJSON(w, http.StatusAccepted, TriggerResponse{Accepted: true, Message: "scheduler tick enqueued"})
}

// HandleCleanupTrigger serves POST /manual/cleanup/trigger: enqueues one
// retention sweep.
func (h *Handler) HandleCleanupTrigger(w http.ResponseWriter, r *http.Request) {
	accepted := h.queue.Enqueue(func(ctx context.Context) {
		swept := h.cleanup.SweepAll(ctx)
		h.logger.Info("manual cleanup sweep complete", zap.Int("swept", swept))
	})
	if !accepted {
		writeError(w, http.StatusServiceUnavailable, "QUEUE_FULL", "work queue is full, try again later")
		return
	}
	writeJSON(w, http.StatusAccepted, TriggerResponse{Accepted: true, Message: "cleanup sweep enqueued"})
}

func toJobStatus(j job.Job) JobStatusResponse {
	return JobStatusResponse{
		ID:               j.ID,
		ChannelID:        j.ChannelID,
		Title:            j.Title,
		Stage:            string(j.Stage),
		Progress:         j.Progress,
		CurrentStep:      j.CurrentStep,
		FailureStep:      j.FailureStep,
		ErrorMessage:     j.ErrorMessage,
		ValidationErrors: j.ValidationErrors,
		RetryCount:       j.RetryCount,
		RegenCount:       j.RegenCount,
		YoutubeURL:       j.YoutubeURL,
		ExternalID:       j.ExternalID,
		CreatedAt:        j.CreatedAt,
		UpdatedAt:        j.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}
