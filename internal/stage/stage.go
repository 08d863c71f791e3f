// Package stage defines the pipeline's shared job-stage enumeration and
// the legal transition table that both the claim service and tests
// check against.
package stage

// Stage is the coarse state of a job in the pipeline state machine.
// It is a closed enumeration: callers at every boundary (HTTP, event
// payloads, store rows) must map into one of these values and reject
// unknowns rather than pass strings through.
type Stage string

const (
	Queued            Stage = "QUEUED"
	Scripting         Stage = "SCRIPTING"
	AssetsQueued      Stage = "ASSETS_QUEUED"
	AssetsGenerating  Stage = "ASSETS_GENERATING"
	RenderQueued      Stage = "RENDER_QUEUED"
	Rendering         Stage = "RENDERING"
	Completed         Stage = "COMPLETED"
	Uploading         Stage = "UPLOADING"
	Uploaded          Stage = "UPLOADED"
	Failed            Stage = "FAILED"
	Blocked           Stage = "BLOCKED"
	UploadFailed      Stage = "UPLOAD_FAILED"
	RetryQueued       Stage = "RETRY_QUEUED"
)

// terminal stages never transition further.
var terminal = map[Stage]bool{
	Uploaded: true,
	Failed:   true,
	Blocked:  true,
}

// successors lists, for each stage, the stages it may legally move to.
// RetryQueued can cycle back to Queued at most once per job; that cap is
// enforced by the retry controller (regenCount), not by this table.
var successors = map[Stage][]Stage{
	Queued:           {Scripting, Failed, Blocked},
	Scripting:        {AssetsQueued, Failed},
	AssetsQueued:     {AssetsGenerating, Failed},
	AssetsGenerating: {RenderQueued, Failed},
	RenderQueued:     {Rendering, Failed},
	Rendering:        {Completed, Failed},
	Completed:        {Uploading, Failed},
	Uploading:        {Uploaded, UploadFailed, Failed},
	UploadFailed:     {Uploading, RetryQueued, Failed},
	RetryQueued:      {Queued, Failed},
	Uploaded:         {},
	Failed:           {},
	Blocked:          {},
}

// IsTerminal reports whether s cannot transition further.
func IsTerminal(s Stage) bool {
	return terminal[s]
}

// CanTransition reports whether from -> to is a listed successor edge.
func CanTransition(from, to Stage) bool {
	for _, s := range successors[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is one of the known enumeration values.
func Valid(s Stage) bool {
	_, ok := successors[s]
	return ok
}
