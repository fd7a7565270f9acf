// Package tokenbudget tracks prompt/completion/total token usage for a
// thread across compaction boundaries. Grounded on the accumulation shape of
// haasonsaas-nexus's internal/usage.Usage/Tracker, adapted from a
// lifetime-sum tracker into the spec's compaction-aware variant: record()
// accumulates, handleCompaction() resets to the replacement's usage instead
// of continuing to sum across it. This is the only token-tracking path
// implemented — no legacy simple-sum path is carried forward.
package tokenbudget

import (
	"sync"

	"github.com/lacehq/lace/pkg/lace"
)

const charsPerToken = 4

// Config configures a Budget. Zero-value Limit means unlimited.
type Config struct {
	Limit            int64
	WarningThreshold float64
	Reserve          int64
}

// DefaultConfig mirrors the recognized configuration defaults from spec §6.
func DefaultConfig(limit int64) Config {
	return Config{Limit: limit, WarningThreshold: 0.85, Reserve: 1024}
}

// Status is a snapshot of the budget's current state.
type Status struct {
	Prompt     int64
	Completion int64
	Total      int64
	Limit      int64
	PctUsed    float64
	NearLimit  bool
}

// Budget tracks the current token usage for a single thread. It is owned by
// exactly one agent and mutated only from that agent's turn loop.
type Budget struct {
	mu     sync.Mutex
	cfg    Config
	prompt int64
	compl  int64
}

// New builds a Budget with zeroed counters.
func New(cfg Config) *Budget {
	return &Budget{cfg: cfg}
}

// Record adds a non-negative usage to the running totals; negative fields
// are clamped to zero rather than rejected.
func (b *Budget) Record(usage lace.TokenUsage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if usage.Prompt > 0 {
		b.prompt += usage.Prompt
	}
	if usage.Completion > 0 {
		b.compl += usage.Completion
	}
}

// HandleCompaction resets the running totals to the sum of the replacement
// events' usages, then accumulation continues from subsequent Record calls.
// This is the invariant that keeps the budget observable-equivalent across
// compaction.
func (b *Budget) HandleCompaction(replacement []lace.Event) {
	usage := SumUsages(replacement)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prompt = usage.Prompt
	b.compl = usage.Completion
}

// Status reports the current total, configured limit, percentage used, and
// whether that percentage has crossed the warning threshold.
func (b *Budget) Status() Status {
	b.mu.Lock()
	prompt := b.prompt
	compl := b.compl
	limit := b.cfg.Limit
	threshold := b.cfg.WarningThreshold
	b.mu.Unlock()

	total := prompt + compl
	var pct float64
	if limit > 0 {
		pct = float64(total) / float64(limit)
	}
	return Status{
		Prompt:     prompt,
		Completion: compl,
		Total:      total,
		Limit:      limit,
		PctUsed:    pct,
		NearLimit:  limit > 0 && pct >= threshold,
	}
}

// CanRequest reports whether a request estimated to cost estimate tokens can
// be made without exceeding the limit once the reserve is accounted for.
// With no configured limit, every request is allowed.
func (b *Budget) CanRequest(estimate int64) bool {
	b.mu.Lock()
	total := b.prompt + b.compl
	limit := b.cfg.Limit
	reserve := b.cfg.Reserve
	b.mu.Unlock()
	if limit <= 0 {
		return true
	}
	return total+estimate+reserve <= limit
}

// EstimateTokens gives a conservative ~4-characters-per-token estimate of
// prompt length, used when a provider response carries no usage data. It is
// a pure function so it is directly testable.
func EstimateTokens(text string) int64 {
	if len(text) == 0 {
		return 0
	}
	return int64((len(text) + charsPerToken - 1) / charsPerToken)
}

// SumUsages aggregates token usage from a raw event list the way a cold
// restart must: locate the most recent COMPACTION event, and sum its
// replacement events' usages plus every usage after it. Events before the
// most recent compaction are ignored. If no compaction exists, every usage
// in the list is summed.
func SumUsages(events []lace.Event) lace.TokenUsage {
	lastCompaction := -1
	for i, e := range events {
		if e.Type == lace.EventCompaction {
			lastCompaction = i
		}
	}

	var total lace.TokenUsage
	if lastCompaction < 0 {
		for _, e := range events {
			total = total.Add(usageOf(e))
		}
		return total
	}

	if e := events[lastCompaction]; e.DataCompaction != nil {
		for _, r := range e.DataCompaction.Replacement {
			total = total.Add(usageOf(r))
		}
	}
	for _, e := range events[lastCompaction+1:] {
		total = total.Add(usageOf(e))
	}
	return total
}

func usageOf(e lace.Event) lace.TokenUsage {
	if e.Type == lace.EventAgentMessage && e.DataAgentMessage != nil && e.DataAgentMessage.Usage != nil {
		return *e.DataAgentMessage.Usage
	}
	return lace.TokenUsage{}
}
