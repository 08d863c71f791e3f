package stage

import "testing"

func TestCanTransitionHappyPath(t *testing.T) {
	steps := []struct{ from, to Stage }{
		{Queued, Scripting},
		{Scripting, AssetsQueued},
		{AssetsQueued, AssetsGenerating},
		{AssetsGenerating, RenderQueued},
		{RenderQueued, Rendering},
		{Rendering, Completed},
		{Completed, Uploading},
		{Uploading, Uploaded},
	}
	for _, s := range steps {
		if !CanTransition(s.from, s.to) {
			t.Fatalf("expected %s -> %s to be legal", s.from, s.to)
		}
	}
}

func TestCanTransitionRejectsSkips(t *testing.T) {
	if CanTransition(Queued, Rendering) {
		t.Fatal("Queued -> Rendering must not be legal")
	}
	if CanTransition(Uploaded, Queued) {
		t.Fatal("terminal stage must not transition")
	}
}

func TestTerminalStages(t *testing.T) {
	for _, s := range []Stage{Uploaded, Failed, Blocked} {
		if !IsTerminal(s) {
			t.Fatalf("%s should be terminal", s)
		}
	}
	if IsTerminal(Queued) {
		t.Fatal("QUEUED should not be terminal")
	}
}

func TestRetryRegenerationCycle(t *testing.T) {
	if !CanTransition(UploadFailed, RetryQueued) {
		t.Fatal("UPLOAD_FAILED -> RETRY_QUEUED must be legal")
	}
	if !CanTransition(RetryQueued, Queued) {
		t.Fatal("RETRY_QUEUED -> QUEUED must be legal")
	}
}
