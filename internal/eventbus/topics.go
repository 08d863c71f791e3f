// Package eventbus wraps NATS JetStream as the pipeline's durable,
// partitioned, at-least-once event transport (spec §2, §6), grounded on
// the teacher repo's internal/event-hooks NATS publisher and its
// sliding-window backoff idiom from internal/worker's backoff().
package eventbus

// Topic prefixes match spec §6's event bus table. A topic's full NATS
// subject is Subject(topic, channelID, correlationID), so every event
// for a given job lands on one subject and therefore one ordered
// JetStream consumer (spec §5's per-job ordering guarantee).
const (
	TopicIngestNewItem       = "ingest.new-item"
	TopicScriptCreated       = "pipeline.script-created"
	TopicAssetsReady         = "pipeline.assets-ready"
	TopicUploadRequested     = "pipeline.upload-requested"
	TopicVideoUploaded       = "pipeline.video-uploaded"
	TopicUploadFailed        = "pipeline.upload-failed"
	TopicRegenerationRequest = "pipeline.regeneration-requested"
	TopicDeadLetter          = "pipeline.dead-letter"
	TopicSystemLogs          = "system.logs"

	// TopicLegacyVideoCreated is the legacy topic resolved in SPEC_FULL §9:
	// the upload worker co-consumes it alongside TopicUploadRequested.
	TopicLegacyVideoCreated = "pipeline.video-created"
)
