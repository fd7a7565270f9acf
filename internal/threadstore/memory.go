package threadstore

import (
	"context"
	"sync"
	"time"

	"github.com/lacehq/lace/pkg/lace"
)

type threadRecord struct {
	mu        sync.Mutex
	meta      lace.ThreadMetadata
	events    []lace.Event
	nextId    int64
	readOnly  bool
	touchedAt time.Time

	// lastCompactionStrategy/lastCompactionCount identify the most recent
	// compaction so a repeat call with an unchanged prefix is a no-op rather
	// than wrapping an already-compacted summary in another layer.
	lastCompactionStrategy string
	lastCompactionCount    int
}

// MemoryStore is an in-process Store, grounded on the teacher's
// internal/sessions.MemoryStore locking/cloning discipline. Unlike that
// store it never silently drops events — events() always returns the
// complete history; only compact() may shorten it, and only explicitly.
type MemoryStore struct {
	mu       sync.RWMutex
	threads  map[lace.ThreadId]*threadRecord
	latestId lace.ThreadId
	latestAt time.Time
}

// NewMemoryStore constructs an empty in-process thread store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[lace.ThreadId]*threadRecord)}
}

func (s *MemoryStore) getOrCreate(id lace.ThreadId) *threadRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.threads[id]
	if !ok {
		rec = &threadRecord{touchedAt: time.Now()}
		s.threads[id] = rec
	}
	return rec
}

func (s *MemoryStore) touch(id lace.ThreadId, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if at.After(s.latestAt) || s.latestId == "" {
		s.latestId = id
		s.latestAt = at
	}
}

// CreateThread registers id with meta. Safe to call more than once.
func (s *MemoryStore) CreateThread(_ context.Context, id lace.ThreadId, meta lace.ThreadMetadata) error {
	rec := s.getOrCreate(id)
	rec.mu.Lock()
	rec.meta = meta
	rec.mu.Unlock()
	s.touch(id, time.Now())
	return nil
}

// Append validates evt's type, assigns a monotonic id and non-decreasing
// timestamp, and appends it.
func (s *MemoryStore) Append(_ context.Context, threadId lace.ThreadId, evt lace.Event) (int64, error) {
	if !evt.Type.Known() {
		return 0, lace.New(lace.KindValidation, "unknown event type: "+string(evt.Type)).WithThread(threadId)
	}
	if evt.Type.Transient() {
		return 0, lace.New(lace.KindValidation, "transient event type may not be appended: "+string(evt.Type)).WithThread(threadId)
	}

	rec := s.getOrCreate(threadId)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.readOnly {
		return 0, lace.New(lace.KindThreadCorrupt, "thread is read-only after corruption").WithThread(threadId)
	}

	rec.nextId++
	evt.ID = rec.nextId
	evt.ThreadId = threadId
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if n := len(rec.events); n > 0 && evt.Timestamp.Before(rec.events[n-1].Timestamp) {
		evt.Timestamp = rec.events[n-1].Timestamp
	}
	rec.events = append(rec.events, cloneEvent(evt))

	s.touch(threadId, evt.Timestamp)
	return evt.ID, nil
}

// Events returns a defensive copy of the thread's full event sequence.
func (s *MemoryStore) Events(_ context.Context, threadId lace.ThreadId) ([]lace.Event, error) {
	s.mu.RLock()
	rec, ok := s.threads[threadId]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.readOnly && len(rec.events) == 0 {
		return nil, lace.New(lace.KindThreadCorrupt, "thread marked read-only").WithThread(threadId)
	}
	out := make([]lace.Event, len(rec.events))
	for i, e := range rec.events {
		out[i] = cloneEvent(e)
	}
	return out, nil
}

// LatestThreadId returns the most recently touched thread id.
func (s *MemoryStore) LatestThreadId(_ context.Context) (lace.ThreadId, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latestId == "" {
		return "", false, nil
	}
	return s.latestId, true, nil
}

// Compact atomically replaces the thread's entire current event sequence
// with replacement, reassigning ids sequentially. Re-running with a
// semantically identical replacement over an unchanged prefix is a no-op.
func (s *MemoryStore) Compact(_ context.Context, threadId lace.ThreadId, strategyId string, replacement []lace.Event) error {
	rec := s.getOrCreate(threadId)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.readOnly {
		return lace.New(lace.KindThreadCorrupt, "thread is read-only after corruption").WithThread(threadId)
	}

	originalCount := len(rec.events)
	if rec.lastCompactionStrategy == strategyId &&
		len(rec.events) == 1 && rec.events[0].Type == lace.EventCompaction &&
		sameReplacement(rec.events[0].DataCompaction, replacement) {
		// Identical compaction already applied over this exact prefix.
		return nil
	}

	compactionEvt := lace.Event{
		Type:     lace.EventCompaction,
		ThreadId: threadId,
		DataCompaction: &lace.CompactionData{
			StrategyId:         strategyId,
			OriginalEventCount: originalCount,
			Replacement:        cloneEvents(replacement),
		},
	}
	if len(replacement) > 0 {
		compactionEvt.Timestamp = replacement[len(replacement)-1].Timestamp
	}

	rec.nextId = 1
	compactionEvt.ID = rec.nextId
	rec.events = []lace.Event{cloneEvent(compactionEvt)}
	rec.lastCompactionStrategy = strategyId
	rec.lastCompactionCount = originalCount

	s.touch(threadId, compactionEvt.Timestamp)
	return nil
}

func sameReplacement(existing *lace.CompactionData, replacement []lace.Event) bool {
	if existing == nil || len(existing.Replacement) != len(replacement) {
		return false
	}
	for i := range replacement {
		if existing.Replacement[i].Type != replacement[i].Type {
			return false
		}
	}
	return true
}

func cloneEvents(events []lace.Event) []lace.Event {
	out := make([]lace.Event, len(events))
	for i, e := range events {
		out[i] = cloneEvent(e)
	}
	return out
}

func cloneEvent(e lace.Event) lace.Event {
	out := e
	if e.DataToolCall != nil {
		dc := *e.DataToolCall
		dc.Arguments = cloneMap(e.DataToolCall.Arguments)
		out.DataToolCall = &dc
	}
	if e.DataToolResult != nil {
		dr := *e.DataToolResult
		dr.Content = append([]lace.ContentBlock(nil), e.DataToolResult.Content...)
		out.DataToolResult = &dr
	}
	if e.DataCompaction != nil {
		dcmp := *e.DataCompaction
		dcmp.Replacement = append([]lace.Event(nil), e.DataCompaction.Replacement...)
		out.DataCompaction = &dcmp
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
