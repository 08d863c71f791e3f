// Package store implements the durable job record and its conditional
// transitions against Redis, grounded on the teacher repo's
// internal/exactly_once idempotency scripts and internal/worker's use of
// Redis as the only shared mutable state.
package store

import "fmt"

func jobKey(id string) string {
	return fmt.Sprintf("job:%s", id)
}

func linkIndexKey(channelID, normalizedLink string) string {
	return fmt.Sprintf("idx:link:%s:%s", channelID, normalizedLink)
}

func titleSetKey(channelID string) string {
	return fmt.Sprintf("idx:title:%s", channelID)
}

func stageSetKey(channelID, st string) string {
	return fmt.Sprintf("idx:stage:%s:%s", channelID, st)
}

func activeSetKey(channelID string) string {
	return fmt.Sprintf("idx:active:%s", channelID)
}

func createdZSetKey(channelID string) string {
	return fmt.Sprintf("idx:created:%s", channelID)
}

func updatedZSetKey(channelID string) string {
	return fmt.Sprintf("idx:updated:%s", channelID)
}
