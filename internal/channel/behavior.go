// Package channel resolves per-channel behavior (spec §4.8) and exposes
// the System Setting / System Prompt store (spec §3.3), grounded on the
// teacher repo's internal/multi-tenant-isolation TenantConfig shape,
// applied here as per-channel (not per-tenant) partitioning, and loaded
// through the same viper layer as internal/config.
package channel

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RendererChannelID is the sentinel channel id identifying a stage
// worker that accepts events for any channel and never produces
// content itself (spec §4.8).
const RendererChannelID = "renderer"

// Behavior is the resolved per-process object every worker consults to
// decide whether it owns an event and how to parameterize content
// generation for it.
type Behavior struct {
	ChannelID     string `mapstructure:"channel_id"`
	ChannelName   string `mapstructure:"channel_name"`
	IsLongForm    bool   `mapstructure:"is_long_form"`
	DailyLimit    int    `mapstructure:"daily_limit"`
	UseAsyncFlow  bool   `mapstructure:"use_async_flow"`

	RequiresStrictDateCheck bool `mapstructure:"requires_strict_date_check"`
	ShouldAggregateNews     bool `mapstructure:"should_aggregate_news"`

	// RequiresNativeTitle gates the Upload Worker's title-language check
	// (spec §4.6 step 3): when set, the produced title must contain at
	// least one character in the Upload config's
	// HangulLowRune..HangulHighRune range.
	RequiresNativeTitle bool `mapstructure:"requires_native_title"`

	BGMCategory string `mapstructure:"bgm_category"`

	DefaultTags     []string `mapstructure:"default_tags"`
	DefaultHashtags []string `mapstructure:"default_hashtags"`

	ScriptSystemPromptText string `mapstructure:"script_system_prompt"`
	ExtraPromptTemplate    string `mapstructure:"extra_prompt_template"`
}

// ShouldSkipGeneration reports whether this behavior bypasses the
// content-producing stages, true only for the renderer sentinel.
func (b Behavior) ShouldSkipGeneration() bool {
	return b.ChannelID == RendererChannelID
}

// ScriptSystemPrompt returns the system prompt the scripting worker
// sends for this channel.
func (b Behavior) ScriptSystemPrompt() string {
	return b.ScriptSystemPromptText
}

// ExtraPrompt renders the channel's extra-prompt template against
// today's date, substituting the literal token "{today}".
func (b Behavior) ExtraPrompt(todayISO string) string {
	if b.ExtraPromptTemplate == "" {
		return ""
	}
	return strings.ReplaceAll(b.ExtraPromptTemplate, "{today}", todayISO)
}

// Registry is the resolved set of known channel behaviors, loaded once
// at startup from a YAML file (spec.md §4.8: "selected from
// configuration at startup").
type Registry struct {
	behaviors map[string]Behavior
}

// LoadRegistry reads every channel behavior entry from path (a YAML
// document keyed by channel id) the same way internal/config.Load reads
// the main config, so a malformed channels file fails startup instead of
// silently defaulting.
func LoadRegistry(path string) (*Registry, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("channel: read channels file: %w", err)
	}

	raw := map[string]Behavior{}
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("channel: unmarshal channels file: %w", err)
	}
	for id, b := range raw {
		b.ChannelID = id
		raw[id] = b
	}
	return &Registry{behaviors: raw}, nil
}

// Resolve returns the behavior for channelID, or an error if it is not
// a known channel (and not the renderer sentinel).
func (r *Registry) Resolve(channelID string) (Behavior, error) {
	if channelID == RendererChannelID {
		if b, ok := r.behaviors[RendererChannelID]; ok {
			return b, nil
		}
		return Behavior{ChannelID: RendererChannelID}, nil
	}
	b, ok := r.behaviors[channelID]
	if !ok {
		return Behavior{}, fmt.Errorf("channel: unknown channel id %q", channelID)
	}
	return b, nil
}

// ChannelIDs lists every concrete (non-renderer) channel id the registry
// knows about, used by the reaper and cleanup sweeps to enumerate every
// channel's per-stage indexes.
func (r *Registry) ChannelIDs() []string {
	ids := make([]string, 0, len(r.behaviors))
	for id := range r.behaviors {
		if id == RendererChannelID {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// Owns reports whether a worker resolved to behavior should process an
// event carrying eventChannelID, per §4.8's "All other workers drop
// events whose channelId does not match" plus the renderer's
// any-channel acceptance.
func (b Behavior) Owns(eventChannelID string) bool {
	return b.ChannelID == RendererChannelID || b.ChannelID == eventChannelID
}

// VersionTag returns the tag stored in Job.ChannelBehaviorVersion: the
// channel id and the calendar date of at ("<channelId>@YYYY-MM-DD"). It
// does not depend on the behavior's other fields, so two snapshots of
// the same channel on the same date get the same tag even if the
// channels file changed in between.
func (b Behavior) VersionTag(at time.Time) string {
	return fmt.Sprintf("%s@%s", b.ChannelID, at.Format("2006-01-02"))
}
