package store

import "errors"

// ErrDuplicateLink is returned by Create when (channelId, normalizedLink)
// already has a non-terminal job (spec §3.1 invariant 1).
var ErrDuplicateLink = errors.New("store: duplicate link for channel")

// ErrNotFound is returned by Get when no job exists for the given id.
var ErrNotFound = errors.New("store: job not found")
