// Package threadstore implements the event-sourced thread store contract:
// append-only, ordered, durable events with atomic compaction that preserves
// replay equivalence. Grounded on the copy-on-read/write discipline of
// haasonsaas-nexus's internal/sessions store, generalized from session
// message history to an immutable, fully-replayable event log (no silent
// truncation — only an explicit COMPACTION event may shorten history).
package threadstore

import (
	"context"

	"github.com/lacehq/lace/pkg/lace"
)

// Store is the thread store capability every backend must implement.
type Store interface {
	// CreateThread registers a new thread with the given metadata. It is not
	// an error to create a thread that already exists with identical metadata.
	CreateThread(ctx context.Context, id lace.ThreadId, meta lace.ThreadMetadata) error

	// Append durably persists evt to the thread and returns its assigned id.
	// Transient event types are rejected with a ValidationError: they never
	// reach the store.
	Append(ctx context.Context, threadId lace.ThreadId, evt lace.Event) (int64, error)

	// Events returns the thread's raw, ordered event log. A past compaction
	// appears as a single literal COMPACTION event carrying its replacement
	// events, not spliced inline — callers that need the externally
	// observable, fully-expanded sequence must run it through lace.Replay.
	Events(ctx context.Context, threadId lace.ThreadId) ([]lace.Event, error)

	// LatestThreadId returns the most recently touched thread id, used for
	// CLI resume. ok is false if the store holds no threads.
	LatestThreadId(ctx context.Context) (id lace.ThreadId, ok bool, err error)

	// Compact atomically replaces the thread's current event sequence with
	// replacement, recording strategyId and the original count for audit.
	// Calling Compact again with an unchanged prefix and identical
	// replacement is a no-op.
	Compact(ctx context.Context, threadId lace.ThreadId, strategyId string, replacement []lace.Event) error
}
