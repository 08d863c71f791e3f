package collaborator

import (
	"context"
	"testing"
)

func TestFakeScriptGeneratorFailsOnConfiguredTitle(t *testing.T) {
	g := FakeScriptGenerator{FailOn: "bad title"}
	if _, err := g.Generate(context.Background(), ScriptInput{Title: "bad title"}, nil); err == nil {
		t.Fatal("expected forced failure")
	}
	out, err := g.Generate(context.Background(), ScriptInput{Title: "ok", Summary: "s"}, nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(out.Scenes) == 0 {
		t.Fatal("expected non-empty scenes")
	}
}

func TestFakeAssetAssemblerReturnsEmptyWhenConfigured(t *testing.T) {
	a := FakeAssetAssembler{ReturnEmpty: true}
	out, err := a.Assemble(context.Background(), AssetInput{Scenes: []string{"a"}}, nil)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if len(out.ClipPaths) != 0 {
		t.Fatal("expected empty clip paths")
	}
}

func TestFakeUploadTargetQuotaFailureIsDetectable(t *testing.T) {
	u := &FakeUploadTarget{FailWithQuotaError: true}
	_, err := u.Upload(context.Background(), UploadInput{})
	if err == nil {
		t.Fatal("expected quota error")
	}
}

func TestFakeSimilarityClassifierMatchesCaseInsensitive(t *testing.T) {
	c := FakeSimilarityClassifier{}
	similar, err := c.IsSimilar(context.Background(), "Breaking News", "", []string{"breaking news"})
	if err != nil {
		t.Fatalf("is similar: %v", err)
	}
	if !similar {
		t.Fatal("expected case-insensitive match")
	}
}

func TestFakeSafetyClassifierBlocksConfiguredTerms(t *testing.T) {
	c := FakeSafetyClassifier{Blocklist: []string{"hate speech"}}
	safe, err := c.IsSafe(context.Background(), "title", "contains Hate Speech content")
	if err != nil {
		t.Fatalf("is safe: %v", err)
	}
	if safe {
		t.Fatal("expected blocklisted content to be rejected")
	}
}
