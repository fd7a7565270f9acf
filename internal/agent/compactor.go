package agent

import (
	"context"

	"github.com/lacehq/lace/internal/threadstore"
	"github.com/lacehq/lace/pkg/lace"
)

// Compactor produces and applies a replacement event sequence for a thread
// that has crossed its token budget's warning threshold. The concrete
// "summarize-with-model" strategy lives in internal/compaction; this
// interface exists here so the agent loop can depend on the capability
// without importing a package that itself depends on a Provider.
type Compactor interface {
	Compact(ctx context.Context, store threadstore.Store, threadId lace.ThreadId) error
}
