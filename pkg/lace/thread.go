// Package lace defines the core domain types shared across the runtime:
// thread identifiers, the closed event taxonomy, tool calls/results, and
// token usage. Nothing in this package touches storage, providers, or
// scheduling — those live in internal/.
package lace

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// ThreadId identifies a thread. Root threads look like
// "lace_20250101_abcdef"; a child delegated thread extends its parent with
// dotted segments, e.g. "lace_20250101_abcdef.1", "lace_20250101_abcdef.1.2".
type ThreadId string

const base36Alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewRootThreadId generates a fresh root thread id for the given instant.
func NewRootThreadId(now time.Time) (ThreadId, error) {
	suffix, err := randomBase36(6)
	if err != nil {
		return "", err
	}
	return ThreadId(fmt.Sprintf("lace_%s_%s", now.UTC().Format("20060102"), suffix)), nil
}

func randomBase36(n int) (string, error) {
	var sb strings.Builder
	max := big.NewInt(int64(len(base36Alphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate thread id suffix: %w", err)
		}
		sb.WriteByte(base36Alphabet[idx.Int64()])
	}
	return sb.String(), nil
}

// Root returns the root ancestor of this thread id (strips all dotted
// segments). A root thread id is its own root.
func (t ThreadId) Root() ThreadId {
	if i := strings.IndexByte(string(t), '.'); i >= 0 {
		return t[:i]
	}
	return t
}

// IsRoot reports whether this thread id has no parent (no dotted segment).
func (t ThreadId) IsRoot() bool {
	return !strings.Contains(string(t), ".")
}

// Parent returns the immediate parent thread id and true, or "" and false if
// this is already a root thread id.
func (t ThreadId) Parent() (ThreadId, bool) {
	i := strings.LastIndexByte(string(t), '.')
	if i < 0 {
		return "", false
	}
	return t[:i], true
}

// Depth returns the delegation depth: 0 for a root thread, 1 for its direct
// children, and so on.
func (t ThreadId) Depth() int {
	return strings.Count(string(t), ".")
}

// Child builds the id of the nth child thread spawned from this thread.
func (t ThreadId) Child(n int) ThreadId {
	return ThreadId(fmt.Sprintf("%s.%d", t, n))
}

func (t ThreadId) String() string { return string(t) }
