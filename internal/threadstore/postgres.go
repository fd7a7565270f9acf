package threadstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lacehq/lace/internal/tracing"
	"github.com/lacehq/lace/pkg/lace"
)

// PostgresStore is a durable Store backed by github.com/jackc/pgx/v5,
// grounded on the teacher's Cockroach-backed sessions store
// (internal/sessions/cockroach.go) but ported from its database/sql-adjacent
// style onto pgx's native pool API, matching the rest of the example pack's
// preference for pgx over lib/pq. Compaction marks prior rows superseded
// instead of deleting them, so an operator can still audit pre-compaction
// history out of band even though Events() only returns the live view.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, lace.Wrap(lace.KindStorage, err, "connect postgres")
	}
	s := &PostgresStore{pool: pool}
	if _, err := pool.Exec(ctx, schemaStatements); err != nil {
		return nil, lace.Wrap(lace.KindStorage, err, "ensure schema")
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() { s.pool.Close() }

func (s *PostgresStore) CreateThread(ctx context.Context, id lace.ThreadId, meta lace.ThreadMetadata) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO lace_threads (thread_id, project_id, created_at, touched_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (thread_id) DO NOTHING`,
		string(id), meta.ProjectId, time.Now().Unix())
	if err != nil {
		return lace.Wrap(lace.KindStorage, err, "create thread").WithThread(id)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, threadId lace.ThreadId, evt lace.Event) (id int64, err error) {
	ctx, span := tracing.Start(ctx, "lace/threadstore", "threadstore.append",
		attribute.String("lace.thread_id", threadId.String()),
		attribute.String("lace.event_type", string(evt.Type)))
	defer func() {
		tracing.RecordError(span, err)
		span.End()
	}()

	if !evt.Type.Known() {
		return 0, lace.New(lace.KindValidation, "unknown event type: "+string(evt.Type)).WithThread(threadId)
	}
	if evt.Type.Transient() {
		return 0, lace.New(lace.KindValidation, "transient event type may not be appended: "+string(evt.Type)).WithThread(threadId)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, lace.Wrap(lace.KindStorage, err, "begin append tx").WithThread(threadId)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var readOnly bool
	err = tx.QueryRow(ctx, `SELECT read_only FROM lace_threads WHERE thread_id=$1 FOR UPDATE`, string(threadId)).Scan(&readOnly)
	if err == pgx.ErrNoRows {
		if _, err := tx.Exec(ctx, `INSERT INTO lace_threads (thread_id, created_at, touched_at) VALUES ($1,$2,$2)`,
			string(threadId), time.Now().Unix()); err != nil {
			return 0, lace.Wrap(lace.KindStorage, err, "auto-create thread").WithThread(threadId)
		}
	} else if err != nil {
		return 0, lace.Wrap(lace.KindStorage, err, "lock thread row").WithThread(threadId)
	}
	if readOnly {
		return 0, lace.New(lace.KindThreadCorrupt, "thread is read-only after corruption").WithThread(threadId)
	}

	var nextId int64
	if err := tx.QueryRow(ctx, `UPDATE lace_threads SET next_event_id = next_event_id + 1 WHERE thread_id=$1 RETURNING next_event_id`, string(threadId)).Scan(&nextId); err != nil {
		return 0, lace.Wrap(lace.KindStorage, err, "advance event id counter").WithThread(threadId)
	}

	ts := evt.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	payload, err := encodePayload(evt)
	if err != nil {
		return 0, lace.Wrap(lace.KindValidation, err, "encode payload").WithThread(threadId)
	}

	if _, err := tx.Exec(ctx, `INSERT INTO lace_events (thread_id, id, timestamp, type, payload) VALUES ($1,$2,$3,$4,$5)`,
		string(threadId), nextId, ts.UnixNano(), string(evt.Type), string(payload)); err != nil {
		return 0, lace.Wrap(lace.KindStorage, err, "insert event").WithThread(threadId)
	}
	if _, err := tx.Exec(ctx, `UPDATE lace_threads SET touched_at=$2 WHERE thread_id=$1`, string(threadId), ts.UnixNano()); err != nil {
		return 0, lace.Wrap(lace.KindStorage, err, "touch thread").WithThread(threadId)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, lace.Wrap(lace.KindStorage, err, "commit append").WithThread(threadId)
	}
	return nextId, nil
}

func (s *PostgresStore) Events(ctx context.Context, threadId lace.ThreadId) ([]lace.Event, error) {
	var readOnly bool
	err := s.pool.QueryRow(ctx, `SELECT read_only FROM lace_threads WHERE thread_id=$1`, string(threadId)).Scan(&readOnly)
	if err == pgx.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, lace.Wrap(lace.KindStorage, err, "load thread").WithThread(threadId)
	}

	rows, err := s.pool.Query(ctx, `SELECT id, timestamp, type, payload FROM lace_events WHERE thread_id=$1 AND NOT superseded ORDER BY id ASC`, string(threadId))
	if err != nil {
		return nil, lace.Wrap(lace.KindStorage, err, "query events").WithThread(threadId)
	}
	defer rows.Close()

	var out []lace.Event
	for rows.Next() {
		var (
			id      int64
			tsNanos int64
			typ     string
			payload string
		)
		if err := rows.Scan(&id, &tsNanos, &typ, &payload); err != nil {
			return nil, lace.Wrap(lace.KindStorage, err, "scan event").WithThread(threadId)
		}
		e := lace.Event{ID: id, ThreadId: threadId, Timestamp: time.Unix(0, tsNanos), Type: lace.EventType(typ)}
		if err := decodePayload([]byte(payload), &e); err != nil {
			return nil, lace.Wrap(lace.KindThreadCorrupt, err, "decode event payload").WithThread(threadId)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) LatestThreadId(ctx context.Context) (lace.ThreadId, bool, error) {
	var id string
	err := s.pool.QueryRow(ctx, `SELECT thread_id FROM lace_threads ORDER BY touched_at DESC LIMIT 1`).Scan(&id)
	if err == pgx.ErrNoRows {
		return "", false, nil
	} else if err != nil {
		return "", false, lace.Wrap(lace.KindStorage, err, "query latest thread")
	}
	return lace.ThreadId(id), true, nil
}

func (s *PostgresStore) Compact(ctx context.Context, threadId lace.ThreadId, strategyId string, replacement []lace.Event) (err error) {
	ctx, span := tracing.Start(ctx, "lace/threadstore", "threadstore.compact",
		attribute.String("lace.thread_id", threadId.String()),
		attribute.String("lace.strategy", strategyId))
	defer func() {
		tracing.RecordError(span, err)
		span.End()
	}()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return lace.Wrap(lace.KindStorage, err, "begin compact tx").WithThread(threadId)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var liveCount int64
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM lace_events WHERE thread_id=$1 AND NOT superseded`, string(threadId)).Scan(&liveCount); err != nil {
		return lace.Wrap(lace.KindStorage, err, "count live events").WithThread(threadId)
	}
	var lastStrategy string
	var lastN int64
	_ = tx.QueryRow(ctx, `SELECT last_compact_at, last_compact_n FROM lace_threads WHERE thread_id=$1`, string(threadId)).Scan(&lastStrategy, &lastN)

	if lastStrategy == strategyId && lastN == int64(len(replacement)) && liveCount == 1 {
		// Same strategy over an already-compacted, unchanged prefix: no-op.
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `UPDATE lace_events SET superseded=TRUE WHERE thread_id=$1 AND NOT superseded`, string(threadId)); err != nil {
		return lace.Wrap(lace.KindStorage, err, "supersede prefix").WithThread(threadId)
	}

	now := time.Now()
	compactionEvt := lace.Event{
		Type: lace.EventCompaction,
		DataCompaction: &lace.CompactionData{
			StrategyId:         strategyId,
			OriginalEventCount: int(liveCount),
			Replacement:        replacement,
		},
	}
	payload, err := encodePayload(compactionEvt)
	if err != nil {
		return lace.Wrap(lace.KindValidation, err, "encode compaction payload").WithThread(threadId)
	}
	var id int64
	if err := tx.QueryRow(ctx, `UPDATE lace_threads SET next_event_id = next_event_id + 1 WHERE thread_id=$1 RETURNING next_event_id`, string(threadId)).Scan(&id); err != nil {
		return lace.Wrap(lace.KindStorage, err, "advance event id counter").WithThread(threadId)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO lace_events (thread_id, id, timestamp, type, payload) VALUES ($1,$2,$3,$4,$5)`,
		string(threadId), id, now.UnixNano(), string(lace.EventCompaction), string(payload)); err != nil {
		return lace.Wrap(lace.KindStorage, err, "insert compaction event").WithThread(threadId)
	}
	if _, err := tx.Exec(ctx, `UPDATE lace_threads SET touched_at=$2, last_compact_at=$3, last_compact_n=$4 WHERE thread_id=$1`,
		string(threadId), now.UnixNano(), strategyId, int64(len(replacement))); err != nil {
		return lace.Wrap(lace.KindStorage, err, "touch thread after compact").WithThread(threadId)
	}
	return tx.Commit(ctx)
}
