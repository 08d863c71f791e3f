package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/newsline/shorts-pipeline/internal/config"
	"github.com/newsline/shorts-pipeline/internal/obs"
)

// Envelope is the self-describing wire format every producer serializes
// to and every consumer tolerates additive fields on (spec §3.4).
type Envelope struct {
	ChannelID     string          `json:"channelId"`
	CorrelationID string          `json:"correlationId"`
	Type          string          `json:"type"`
	Data          json.RawMessage `json:"data"`
	PublishedAt   time.Time       `json:"publishedAt"`
	Attempt       int             `json:"attempt,omitempty"`
}

// Handler processes one delivered event. Returning an error triggers
// bus-level redelivery with backoff, up to the configured retry tier;
// returning nil acknowledges the message.
type Handler func(ctx context.Context, env Envelope) error

// Bus is a durable, partitioned, at-least-once topic transport backed by
// NATS JetStream, with per-topic retry tiers and a dead-letter sink.
type Bus struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	cfg  config.EventBus
	log  *zap.Logger
}

// Connect dials NATS, opens a JetStream context, and ensures the
// pipeline's stream exists.
func Connect(cfg config.EventBus, log *zap.Logger) (*Bus, error) {
	conn, err := nats.Connect(cfg.URL, nats.Timeout(cfg.ConnectTimeout), nats.Name("shorts-pipeline"))
	if err != nil {
		return nil, fmt.Errorf("eventbus: connect: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("eventbus: jetstream: %w", err)
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     cfg.StreamName,
		Subjects: []string{"ingest.>", "pipeline.>", "system.>"},
	})
	if err != nil && !strings.Contains(err.Error(), "already in use") {
		conn.Close()
		return nil, fmt.Errorf("eventbus: add stream: %w", err)
	}
	return &Bus{conn: conn, js: js, cfg: cfg, log: log}, nil
}

// Close drains the NATS connection.
func (b *Bus) Close() {
	_ = b.conn.Drain()
}

// Subject builds the full subject for a topic, keyed by channel and
// correlation id so per-job ordering falls out of JetStream's per-subject
// ordered delivery (spec §5).
func Subject(topic, channelID, correlationID string) string {
	return fmt.Sprintf("%s.%s.%s", topic, channelID, correlationID)
}

// Publish marshals data into an Envelope and publishes it to topic, keyed
// by channelID and correlationID.
func (b *Bus) Publish(ctx context.Context, topic, channelID, correlationID, eventType string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("eventbus: marshal payload: %w", err)
	}
	env := Envelope{
		ChannelID:     channelID,
		CorrelationID: correlationID,
		Type:          eventType,
		Data:          raw,
		PublishedAt:   time.Now().UTC(),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("eventbus: marshal envelope: %w", err)
	}
	msg := &nats.Msg{Subject: Subject(topic, channelID, correlationID), Data: payload}
	msg.Header = nats.Header{}
	msg.Header.Set("Event-Type", eventType)
	msg.Header.Set("Channel-Id", channelID)
	msg.Header.Set("Correlation-Id", correlationID)
	if _, err := b.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("eventbus: publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe creates a durable JetStream consumer over topicFilter (a
// subject wildcard such as "pipeline.script-created.>") and invokes
// handler for each delivery. Handler errors are retried per the
// configured backoff tier up to MaxDeliver attempts; on exhaustion the
// message is routed to the dead-letter subject and acknowledged so it
// does not redeliver forever (spec §4.4 step 6, §7 class 2).
func (b *Bus) Subscribe(topicFilter, durable string, handler Handler) (*nats.Subscription, error) {
	return b.js.Subscribe(topicFilter, func(msg *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			b.log.Error("eventbus: invalid envelope, dropping", obs.Err(err), obs.String("subject", msg.Subject))
			_ = msg.Term()
			return
		}

		numDelivered := 1
		if meta, err := msg.Metadata(); err == nil {
			numDelivered = int(meta.NumDelivered)
		}
		env.Attempt = numDelivered

		ctx := context.Background()
		if err := handler(ctx, env); err != nil {
			if numDelivered >= b.cfg.MaxDeliver {
				b.sendDeadLetter(env, msg.Subject, err)
				_ = msg.Ack()
				return
			}
			delay := backoff(numDelivered, b.cfg.BackoffBase, b.cfg.BackoffMax)
			_ = msg.NakWithDelay(delay)
			return
		}
		_ = msg.Ack()
	}, nats.Durable(durable), nats.ManualAck(), nats.AckWait(b.cfg.AckWait), nats.MaxDeliver(b.cfg.MaxDeliver))
}

func (b *Bus) sendDeadLetter(env Envelope, originalSubject string, cause error) {
	dlData, _ := json.Marshal(map[string]string{
		"originalSubject": originalSubject,
		"reason":          cause.Error(),
	})
	dl := Envelope{
		ChannelID:     env.ChannelID,
		CorrelationID: env.CorrelationID,
		Type:          "dead-letter",
		Data:          dlData,
		PublishedAt:   time.Now().UTC(),
	}
	payload, _ := json.Marshal(dl)
	if _, err := b.js.Publish(b.cfg.DeadLetterSubject, payload); err != nil {
		b.log.Error("eventbus: failed to publish dead-letter", obs.Err(err))
	}
	obs.DeadLettered.WithLabelValues(cause.Error()).Inc()
}

// backoff is a doubling schedule capped at max, mirroring the teacher's
// worker.backoff().
func backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(1<<uint(attempt-1)) * base
	if d <= 0 || d > max {
		return max
	}
	return d
}
