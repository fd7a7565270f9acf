package tools

import (
	"context"

	"github.com/lacehq/lace/pkg/lace"
)

// callingThreadKey is the context key under which Execute stashes the
// calling thread's id for the duration of a single tool invocation. Tools
// that need to know which thread invoked them — delegation being the prime
// example — read it back with CallingThread. Grounded on the teacher's
// WithCurrentAgent/CurrentAgentFromContext pattern (internal/multiagent
// /orchestrator.go), narrowed from an agent identity to a thread id.
type callingThreadKey struct{}

func withCallingThread(ctx context.Context, id lace.ThreadId) context.Context {
	return context.WithValue(ctx, callingThreadKey{}, id)
}

// CallingThread returns the thread id of the turn that invoked the tool
// currently executing on ctx, if any.
func CallingThread(ctx context.Context) (lace.ThreadId, bool) {
	id, ok := ctx.Value(callingThreadKey{}).(lace.ThreadId)
	return id, ok
}
