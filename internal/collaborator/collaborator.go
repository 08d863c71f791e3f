// Package collaborator declares the narrow external-system interfaces
// every stage worker and the ingestion gate invoke (spec §4.3, §4.4,
// §4.6), grounded on the teacher repo's pattern of keeping a worker's
// Redis/bus plumbing separate from the "do the actual work" call
// (internal/worker.Worker never embeds an LLM client directly, it calls
// out through a narrow seam). Real implementations (LLM, TTS, renderer,
// upload target) are out of scope per spec §1 Non-goals; this package
// also provides deterministic in-memory fakes for tests.
package collaborator

import "context"

// ProgressFunc reports incremental progress during a long-running stage
// invocation. Callers must treat it as best-effort: a ProgressFunc must
// never fail the stage (spec §4.4 tie-break policy).
type ProgressFunc func(progress int, currentStep string)

// ScriptInput is what the Scripting worker hands to a ScriptGenerator.
type ScriptInput struct {
	Title            string
	Summary          string
	SystemPrompt     string
	ExtraPrompt      string
	ShouldAggregate  bool
}

// ScriptOutput is what a ScriptGenerator produces.
type ScriptOutput struct {
	Description string
	Scenes      []string
	Tags        []string
}

// ScriptGenerator turns a news item into a script (spec §4.4, Scripting
// worker).
type ScriptGenerator interface {
	Generate(ctx context.Context, in ScriptInput, progress ProgressFunc) (ScriptOutput, error)
}

// AssetInput is what the Assets worker hands to an AssetAssembler.
type AssetInput struct {
	Scenes []string
}

// AssetOutput is what an AssetAssembler produces. An empty ClipPaths
// slice is treated as a stage failure (spec §4.4 tie-break policy).
type AssetOutput struct {
	ClipPaths     []string
	VoiceoverPath string
}

// AssetAssembler fetches clips and synthesizes voiceover for a script's
// scenes (spec §4.4, Assets worker).
type AssetAssembler interface {
	Assemble(ctx context.Context, in AssetInput, progress ProgressFunc) (AssetOutput, error)
}

// RenderInput is what the Rendering worker hands to a Renderer.
type RenderInput struct {
	ClipPaths     []string
	VoiceoverPath string
	BGMCategory   string
}

// RenderOutput is what a Renderer produces.
type RenderOutput struct {
	FilePath      string
	ThumbnailPath string
}

// Renderer composes clips, voiceover, and background music into a final
// video file (spec §4.4, Rendering worker).
type Renderer interface {
	Render(ctx context.Context, in RenderInput, progress ProgressFunc) (RenderOutput, error)
}

// UploadInput is what the Upload Worker hands to an UploadTarget.
type UploadInput struct {
	FilePath      string
	ThumbnailPath string
	Title         string
	Description   string
	Tags          []string
}

// UploadOutput is what an UploadTarget returns on success.
type UploadOutput struct {
	ExternalID string
	URL        string
}

// UploadTarget publishes a rendered video to the destination platform
// (spec §4.6). An error whose message contains "quota" (case
// insensitive) is treated as a terminal quota-exceeded outcome rather
// than a retryable failure.
type UploadTarget interface {
	Upload(ctx context.Context, in UploadInput) (UploadOutput, error)
}

// SimilarityClassifier compares a candidate item against the most
// recent jobs for a channel (spec §4.3 step 5). Rejection is advisory:
// callers must default to accept on classifier error, to preserve
// forward progress.
type SimilarityClassifier interface {
	IsSimilar(ctx context.Context, candidateTitle, candidateSummary string, recentTitles []string) (bool, error)
}

// SafetyClassifier approves or denies a candidate topic (spec §4.3 step
// 6). Rejection here is terminal for the item, unlike SimilarityClassifier.
type SafetyClassifier interface {
	IsSafe(ctx context.Context, candidateTitle, candidateSummary string) (bool, error)
}

// PlatformTitleChecker queries the target upload platform for an
// existing item with an exact title match (spec §4.3 step 4).
type PlatformTitleChecker interface {
	ExistsOnPlatform(ctx context.Context, channelID, title string) (bool, error)
}

// Notifier informs an external channel (chat ops, email) that a job
// reached a notable outcome (spec §4.6 step 4).
type Notifier interface {
	Notify(ctx context.Context, channelID, message string) error
}
