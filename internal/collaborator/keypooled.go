package collaborator

import (
	"context"

	"github.com/newsline/shorts-pipeline/internal/keypool"
)

// KeyPool is the subset of keypool.Pool a decorated collaborator needs:
// select a credential before the call, wait for its rate limiter, and
// report the outcome afterward.
type KeyPool interface {
	Select(ctx context.Context) (keypool.Key, error)
	Wait(ctx context.Context, key keypool.Key) error
	Report(key keypool.Key, ok bool)
}

// KeyPooledScriptGenerator fronts a ScriptGenerator with a multi-key
// pool (spec §5): every call selects the least-failing available key,
// waits for that key's own rate limit, and reports the outcome back to
// the pool so a failing key cools down independently of the rest.
type KeyPooledScriptGenerator struct {
	Inner ScriptGenerator
	Pool  KeyPool
}

func (g KeyPooledScriptGenerator) Generate(ctx context.Context, in ScriptInput, progress ProgressFunc) (ScriptOutput, error) {
	key, err := g.Pool.Select(ctx)
	if err != nil {
		return ScriptOutput{}, err
	}
	if err := g.Pool.Wait(ctx, key); err != nil {
		return ScriptOutput{}, err
	}
	out, err := g.Inner.Generate(ctx, in, progress)
	g.Pool.Report(key, err == nil)
	return out, err
}
