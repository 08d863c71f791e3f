package collaborator

import (
	"context"
	"fmt"
	"strings"
)

// FakeScriptGenerator returns a deterministic script derived from its
// input, for use in stage-worker tests without a real LLM.
type FakeScriptGenerator struct {
	FailOn string // Title that triggers a forced error, for failure-path tests.
}

func (f FakeScriptGenerator) Generate(_ context.Context, in ScriptInput, progress ProgressFunc) (ScriptOutput, error) {
	if progress != nil {
		progress(50, "drafting script")
	}
	if f.FailOn != "" && in.Title == f.FailOn {
		return ScriptOutput{}, fmt.Errorf("fake generator: forced failure for %q", in.Title)
	}
	return ScriptOutput{
		Description: fmt.Sprintf("%s: %s", in.Title, in.Summary),
		Scenes:      []string{"intro", "body", "outro"},
		Tags:        []string{"auto-generated"},
	}, nil
}

// FakeAssetAssembler returns one clip path per scene.
type FakeAssetAssembler struct {
	ReturnEmpty bool // Forces the empty-output stage-failure path.
}

func (f FakeAssetAssembler) Assemble(_ context.Context, in AssetInput, progress ProgressFunc) (AssetOutput, error) {
	if progress != nil {
		progress(50, "assembling assets")
	}
	if f.ReturnEmpty {
		return AssetOutput{}, nil
	}
	clips := make([]string, 0, len(in.Scenes))
	for i, scene := range in.Scenes {
		clips = append(clips, fmt.Sprintf("/tmp/clips/%d-%s.mp4", i, scene))
	}
	return AssetOutput{ClipPaths: clips, VoiceoverPath: "/tmp/voiceover.wav"}, nil
}

// FakeRenderer stitches clip paths into a single deterministic output
// file path.
type FakeRenderer struct{}

func (FakeRenderer) Render(_ context.Context, in RenderInput, progress ProgressFunc) (RenderOutput, error) {
	if progress != nil {
		progress(100, "rendering")
	}
	if len(in.ClipPaths) == 0 {
		return RenderOutput{}, nil
	}
	return RenderOutput{FilePath: "/tmp/final.mp4", ThumbnailPath: "/tmp/final.jpg"}, nil
}

// FakeUploadTarget records every upload and can be configured to fail,
// including a quota-exceeded failure for §4.6 step 6's branching.
type FakeUploadTarget struct {
	FailWithQuotaError bool
	FailWithError      error
	Uploaded           []UploadInput
}

func (f *FakeUploadTarget) Upload(_ context.Context, in UploadInput) (UploadOutput, error) {
	if f.FailWithQuotaError {
		return UploadOutput{}, fmt.Errorf("upload rejected: daily quota exceeded")
	}
	if f.FailWithError != nil {
		return UploadOutput{}, f.FailWithError
	}
	f.Uploaded = append(f.Uploaded, in)
	return UploadOutput{ExternalID: fmt.Sprintf("ext-%d", len(f.Uploaded)), URL: "https://example.invalid/watch?v=fake"}, nil
}

// FakeSimilarityClassifier flags a candidate as similar only if its
// title exactly matches one of the recent titles, a deliberately
// simplistic stand-in for a real embedding comparison.
type FakeSimilarityClassifier struct {
	Err error
}

func (f FakeSimilarityClassifier) IsSimilar(_ context.Context, candidateTitle, _ string, recentTitles []string) (bool, error) {
	if f.Err != nil {
		return false, f.Err
	}
	for _, t := range recentTitles {
		if strings.EqualFold(t, candidateTitle) {
			return true, nil
		}
	}
	return false, nil
}

// FakeSafetyClassifier denies any title/summary containing a
// configured blocklist term (case insensitive).
type FakeSafetyClassifier struct {
	Blocklist []string
}

func (f FakeSafetyClassifier) IsSafe(_ context.Context, candidateTitle, candidateSummary string) (bool, error) {
	haystack := strings.ToLower(candidateTitle + " " + candidateSummary)
	for _, term := range f.Blocklist {
		if strings.Contains(haystack, strings.ToLower(term)) {
			return false, nil
		}
	}
	return true, nil
}

// FakePlatformTitleChecker reports a match for any title in Published.
type FakePlatformTitleChecker struct {
	Published map[string][]string // channelID -> published titles
}

func (f FakePlatformTitleChecker) ExistsOnPlatform(_ context.Context, channelID, title string) (bool, error) {
	for _, t := range f.Published[channelID] {
		if strings.EqualFold(t, title) {
			return true, nil
		}
	}
	return false, nil
}

// FakeNotifier records every notification sent.
type FakeNotifier struct {
	Sent []string
}

func (f *FakeNotifier) Notify(_ context.Context, channelID, message string) error {
	f.Sent = append(f.Sent, channelID+": "+message)
	return nil
}
