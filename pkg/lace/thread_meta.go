package lace

// ThreadMetadata carries project/session bookkeeping alongside a thread's
// event log. It has no bearing on replay semantics.
type ThreadMetadata struct {
	ProjectId string
	CreatedAt int64 // unix seconds; avoids importing time into every caller
}

// Thread is the in-memory view of a thread: its id, the metadata attached at
// creation, and nothing else — the event sequence itself is always fetched
// from a ThreadStore rather than cached on this struct, so there is exactly
// one place that can go stale.
type Thread struct {
	Id       ThreadId
	Metadata ThreadMetadata
}
