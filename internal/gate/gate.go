// Package gate implements the Ingestion Gate (spec §4.3): the ordered
// survivor pipeline every candidate news item runs through before a job
// is created, grounded on the teacher's internal/producer rate-limiting
// idiom for the capacity check and internal/multi-tenant-isolation's
// quota-enforcement shape for the per-channel daily limit.
package gate

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/newsline/shorts-pipeline/internal/channel"
	"github.com/newsline/shorts-pipeline/internal/collaborator"
	"github.com/newsline/shorts-pipeline/internal/eventbus"
	"github.com/newsline/shorts-pipeline/internal/job"
	"github.com/newsline/shorts-pipeline/internal/obs"
	"github.com/newsline/shorts-pipeline/internal/stage"
)

// titleFuzzyDistanceThreshold bounds the Levenshtein-style distance
// fuzzy.RankMatchNormalizedFold must stay within for two titles to be
// treated as near-duplicates (spec §4.3 step 3's advisory title dedup).
const titleFuzzyDistanceThreshold = 4

// recentTitleWindow is how many of a channel's most recent jobs back the
// semantic-similarity comparison (spec §4.3 step 5: "N≈15-30").
const recentTitleWindow = 20

// Candidate is one item in an ingestion bundle.
type Candidate struct {
	Title   string
	Summary string
	Link    string
}

// Store is the subset of the job store the gate reads from.
type Store interface {
	CountActive(ctx context.Context, channelID string) (int64, error)
	LinkExists(ctx context.Context, channelID, link string) (bool, error)
	TitleExists(ctx context.Context, channelID, title string) (bool, error)
	RecentTitles(ctx context.Context, channelID string, n int64) ([]string, error)
	Create(ctx context.Context, j job.Job) error
}

// Publisher is the subset of the event bus the gate publishes through.
type Publisher interface {
	Publish(ctx context.Context, topic, channelID, correlationID, eventType string, data interface{}) error
}

// Claimer is the subset of the Claim Service the gate depends on to
// consume a regeneration request back into the front of the pipeline.
type Claimer interface {
	ClaimWithUpdate(ctx context.Context, jobID string, fromStates []stage.Stage, to stage.Stage, mutate func(*job.Job)) (bool, job.Job, error)
}

// RejectReason names why a candidate (or whole bundle) did not survive.
type RejectReason string

const (
	RejectCapacity        RejectReason = "capacity"
	RejectLinkDuplicate   RejectReason = "link_duplicate"
	RejectTitleDuplicate  RejectReason = "title_duplicate"
	RejectPlatformTitle   RejectReason = "platform_title_duplicate"
	RejectSimilar         RejectReason = "similar_to_recent"
	RejectUnsafe          RejectReason = "unsafe"
)

// Gate runs ingestion bundles through the survivor pipeline.
type Gate struct {
	store      Store
	bus        Publisher
	claim      Claimer
	settings   *channel.Settings
	similarity collaborator.SimilarityClassifier
	safety     collaborator.SafetyClassifier
	platform   collaborator.PlatformTitleChecker
}

// New builds an Ingestion Gate.
func New(store Store, bus Publisher, settings *channel.Settings, similarity collaborator.SimilarityClassifier, safety collaborator.SafetyClassifier, platform collaborator.PlatformTitleChecker) *Gate {
	return &Gate{store: store, bus: bus, settings: settings, similarity: similarity, safety: safety, platform: platform}
}

// WithClaimer attaches the Claim Service used by HandleRegenerationRequested.
// Kept separate from New so the zero-dependency constructor stays usable in
// tests that never exercise regeneration.
func (g *Gate) WithClaimer(c Claimer) *Gate {
	g.claim = c
	return g
}

// ProcessBundle runs one ingestion bundle through the gate (spec §4.3).
// For channels with ShouldAggregateNews, the bundle is first synthesized
// into a single candidate and steps 2-6 run only on that synthesized
// item.
func (g *Gate) ProcessBundle(ctx context.Context, behavior channel.Behavior, bundle []Candidate) error {
	if len(bundle) == 0 {
		return nil
	}
	if behavior.ShouldAggregateNews {
		bundle = []Candidate{synthesize(bundle)}
	}

	limit, err := g.effectiveDailyLimit(ctx, behavior)
	if err != nil {
		return fmt.Errorf("gate: resolve daily limit: %w", err)
	}
	active, err := g.store.CountActive(ctx, behavior.ChannelID)
	if err != nil {
		return fmt.Errorf("gate: count active: %w", err)
	}
	if active >= int64(limit) {
		obs.JobsRejected.WithLabelValues(behavior.ChannelID, string(RejectCapacity)).Inc()
		return nil
	}

	for _, cand := range bundle {
		ok, reason, err := g.admit(ctx, behavior, cand)
		if err != nil {
			return fmt.Errorf("gate: admit candidate: %w", err)
		}
		if !ok {
			obs.JobsRejected.WithLabelValues(behavior.ChannelID, string(reason)).Inc()
			continue
		}

		j := job.New(behavior.ChannelID, cand.Title, cand.Summary, cand.Link)
		j.RSSTitle = cand.Title
		j.ChannelBehaviorVersion = behavior.VersionTag(j.CreatedAt)
		if err := g.store.Create(ctx, j); err != nil {
			return fmt.Errorf("gate: create job: %w", err)
		}
		obs.JobsIngested.WithLabelValues(behavior.ChannelID).Inc()
		if err := g.bus.Publish(ctx, "ingest.new-item", behavior.ChannelID, j.ID, "IngestionSucceeded", j); err != nil {
			return fmt.Errorf("gate: publish ingestion event: %w", err)
		}
		return nil // first survivor wins; the rest of the bundle is dropped.
	}
	return nil
}

// admit runs the per-candidate survivor chain (spec §4.3 steps 2-6).
func (g *Gate) admit(ctx context.Context, behavior channel.Behavior, cand Candidate) (bool, RejectReason, error) {
	normalized := job.NormalizeLink(cand.Link)

	exists, err := g.store.LinkExists(ctx, behavior.ChannelID, normalized)
	if err != nil {
		return false, "", err
	}
	if exists {
		return false, RejectLinkDuplicate, nil
	}

	titleExists, err := g.store.TitleExists(ctx, behavior.ChannelID, cand.Title)
	if err != nil {
		return false, "", err
	}
	if titleExists {
		return false, RejectTitleDuplicate, nil
	}

	recent, err := g.store.RecentTitles(ctx, behavior.ChannelID, recentTitleWindow)
	if err != nil {
		return false, "", err
	}
	if fuzzyTitleDuplicate(cand.Title, recent) {
		return false, RejectTitleDuplicate, nil
	}

	if g.platform != nil {
		onPlatform, err := g.platform.ExistsOnPlatform(ctx, behavior.ChannelID, cand.Title)
		if err != nil {
			return false, "", err
		}
		if onPlatform {
			return false, RejectPlatformTitle, nil
		}
	}

	if g.similarity != nil {
		similar, err := g.similarity.IsSimilar(ctx, cand.Title, cand.Summary, recent)
		if err != nil {
			// Classifier failure defaults to accept, to preserve forward
			// progress (spec §4.3 step 5).
			similar = false
		}
		if similar {
			return false, RejectSimilar, nil
		}
	}

	if g.safety != nil {
		safe, err := g.safety.IsSafe(ctx, cand.Title, cand.Summary)
		if err != nil {
			return false, "", err
		}
		if !safe {
			return false, RejectUnsafe, nil
		}
	}

	return true, "", nil
}

// effectiveDailyLimit prefers a live MAX_GENERATION_LIMIT override from
// System Settings over the channel behavior's compiled-in default.
func (g *Gate) effectiveDailyLimit(ctx context.Context, behavior channel.Behavior) (int, error) {
	if g.settings == nil {
		return behavior.DailyLimit, nil
	}
	raw, ok, err := g.settings.Get(ctx, behavior.ChannelID, channel.SettingMaxGenerationLimit)
	if err != nil {
		return 0, err
	}
	if !ok {
		return behavior.DailyLimit, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return behavior.DailyLimit, nil
	}
	return n, nil
}

// synthesize merges an aggregation bundle into one candidate: the first
// item's link anchors dedup (aggregated items are not individually
// addressable), titles are joined for a combined headline, and
// summaries are concatenated in order.
func synthesize(bundle []Candidate) Candidate {
	titles := make([]string, 0, len(bundle))
	summaries := make([]string, 0, len(bundle))
	for _, c := range bundle {
		titles = append(titles, c.Title)
		summaries = append(summaries, c.Summary)
	}
	return Candidate{
		Title:   strings.Join(titles, " / "),
		Summary: strings.Join(summaries, "\n\n"),
		Link:    bundle[0].Link,
	}
}

// fuzzyTitleDuplicate reports whether title is a near-duplicate of any
// of the recent titles, using fuzzysearch's normalized edit distance.
func fuzzyTitleDuplicate(title string, recent []string) bool {
	for _, r := range recent {
		d := fuzzy.RankMatchNormalizedFold(title, r)
		if d >= 0 && d <= titleFuzzyDistanceThreshold {
			return true
		}
	}
	return false
}

// HandleRegenerationRequested consumes regeneration-requested (spec §9:
// its consumer is Ingestion, not a stage worker). RETRY_QUEUED is reserved
// exclusively for this cycle — ordinary bounded upload retries never pass
// through it, they claim UPLOAD_FAILED straight back to UPLOADING. Only
// this handler increments RegenCount, on the literal reading of spec
// §4.7 that "the ingestion path consumes by... incrementing regenCount".
func (g *Gate) HandleRegenerationRequested(ctx context.Context, env eventbus.Envelope) error {
	if g.claim == nil {
		return fmt.Errorf("gate: regeneration handler: no claimer configured")
	}
	id := env.CorrelationID
	ok, next, err := g.claim.ClaimWithUpdate(ctx, id, []stage.Stage{stage.RetryQueued}, stage.Queued, func(mut *job.Job) {
		mut.RegenCount++
		mut.FailureStep = ""
		mut.ErrorMessage = ""
		mut.Progress = 0
	})
	if err != nil {
		return fmt.Errorf("gate: claim retry-queued to queued: %w", err)
	}
	if !ok {
		return nil
	}
	obs.Regenerations.Inc()
	if err := g.bus.Publish(ctx, eventbus.TopicIngestNewItem, next.ChannelID, next.ID, "RegenerationAccepted", next); err != nil {
		return fmt.Errorf("gate: publish regeneration re-ingestion: %w", err)
	}
	return nil
}
