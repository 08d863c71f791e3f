package channel

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// SettingKey is a closed enum of the string-valued overrides spec.md
// §3.3 allows per (channelId, key), rejecting unknown keys at the store
// boundary rather than silently accepting them (REDESIGN FLAGS'
// string-typed status guidance applied to settings too).
type SettingKey string

const (
	SettingMaxGenerationLimit SettingKey = "MAX_GENERATION_LIMIT"
	SettingUploadIntervalHours SettingKey = "UPLOAD_INTERVAL_HOURS"
	SettingUploadBlockedUntil SettingKey = "UPLOAD_BLOCKED_UNTIL"
	SettingScriptSystemPrompt SettingKey = "SCRIPT_SYSTEM_PROMPT"
	SettingExtraPrompt        SettingKey = "EXTRA_PROMPT"
)

var validSettingKeys = map[SettingKey]struct{}{
	SettingMaxGenerationLimit:  {},
	SettingUploadIntervalHours: {},
	SettingUploadBlockedUntil:  {},
	SettingScriptSystemPrompt:  {},
	SettingExtraPrompt:         {},
}

// ErrUnknownSettingKey is returned by Settings.Set/Get for any key
// outside the closed enum.
var ErrUnknownSettingKey = fmt.Errorf("channel: unknown system setting key")

// Settings is the hot-readable per-channel override store (spec.md
// §3.3), backed by a Redis hash so compiled-in Behavior defaults can be
// overridden without a restart.
type Settings struct {
	rdb *redis.Client
}

// NewSettings wraps an existing Redis client for system settings.
func NewSettings(rdb *redis.Client) *Settings {
	return &Settings{rdb: rdb}
}

func settingsKey(channelID string) string {
	return fmt.Sprintf("settings:%s", channelID)
}

// Get reads a single setting override, returning ("", false, nil) if
// unset so the caller falls back to the compiled-in Behavior default.
func (s *Settings) Get(ctx context.Context, channelID string, key SettingKey) (string, bool, error) {
	if _, ok := validSettingKeys[key]; !ok {
		return "", false, ErrUnknownSettingKey
	}
	val, err := s.rdb.HGet(ctx, settingsKey(channelID), string(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("channel: get setting %s: %w", key, err)
	}
	return val, true, nil
}

// Set writes a single setting override.
func (s *Settings) Set(ctx context.Context, channelID string, key SettingKey, value string) error {
	if _, ok := validSettingKeys[key]; !ok {
		return ErrUnknownSettingKey
	}
	if err := s.rdb.HSet(ctx, settingsKey(channelID), string(key), value).Err(); err != nil {
		return fmt.Errorf("channel: set setting %s: %w", key, err)
	}
	return nil
}

// All returns every override currently set for a channel.
func (s *Settings) All(ctx context.Context, channelID string) (map[SettingKey]string, error) {
	raw, err := s.rdb.HGetAll(ctx, settingsKey(channelID)).Result()
	if err != nil {
		return nil, fmt.Errorf("channel: get all settings: %w", err)
	}
	out := make(map[SettingKey]string, len(raw))
	for k, v := range raw {
		out[SettingKey(k)] = v
	}
	return out, nil
}
