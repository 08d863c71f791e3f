package collaborator

import (
	"context"
	"testing"
	"time"

	"github.com/newsline/shorts-pipeline/internal/keypool"
)

func TestKeyPooledScriptGeneratorReportsSuccess(t *testing.T) {
	pool := keypool.New([]keypool.Key{"k1"}, time.Minute, 100, 10)
	g := KeyPooledScriptGenerator{Inner: FakeScriptGenerator{}, Pool: pool}

	out, err := g.Generate(context.Background(), ScriptInput{Title: "t", Summary: "s"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Scenes) == 0 {
		t.Fatal("expected scenes from the fake generator")
	}

	key, err := pool.Select(context.Background())
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if key != "k1" {
		t.Fatalf("expected only key to still be selectable, got %q", key)
	}
}

func TestKeyPooledScriptGeneratorReportsFailureAndCoolsDown(t *testing.T) {
	pool := keypool.New([]keypool.Key{"bad", "good"}, time.Hour, 100, 10)
	g := KeyPooledScriptGenerator{Inner: FakeScriptGenerator{FailOn: "boom"}, Pool: pool}

	for i := 0; i < 3; i++ {
		key, err := pool.Select(context.Background())
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if key != "bad" {
			break
		}
		_, _ = g.Generate(context.Background(), ScriptInput{Title: "boom"}, nil)
	}

	key, err := pool.Select(context.Background())
	if err != nil {
		t.Fatalf("select after failures: %v", err)
	}
	if key != "good" {
		t.Fatalf("expected the healthy key to be preferred, got %q", key)
	}
}
