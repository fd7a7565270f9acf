package threadstore

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "modernc.org/sqlite"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lacehq/lace/internal/tracing"
	"github.com/lacehq/lace/pkg/lace"
)

// SQLiteStore is a durable, single-binary-friendly Store backed by the pure
// Go modernc.org/sqlite driver (the same driver choice the rest of the
// example pack uses to avoid cgo). It shares its row/column shape with
// PostgresStore via codec.go; the two differ only in placeholder syntax and
// locking strategy — SQLite serializes all writes behind a single mutex
// since the database file itself only allows one writer at a time.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (or creates) the database file at path and ensures
// the schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, lace.Wrap(lace.KindStorage, err, "open sqlite")
	}
	if _, err := db.Exec(schemaStatements); err != nil {
		return nil, lace.Wrap(lace.KindStorage, err, "ensure schema")
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) CreateThread(ctx context.Context, id lace.ThreadId, meta lace.ThreadMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lace_threads (thread_id, project_id, created_at, touched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (thread_id) DO NOTHING`,
		string(id), meta.ProjectId, time.Now().Unix(), time.Now().UnixNano())
	if err != nil {
		return lace.Wrap(lace.KindStorage, err, "create thread").WithThread(id)
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, threadId lace.ThreadId, evt lace.Event) (id int64, err error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, lace.Wrap(lace.KindStorage, err, "begin append tx").WithThread(threadId)
	}
	defer tx.Rollback() //nolint:errcheck

	var readOnly bool
	err = tx.QueryRowContext(ctx, `SELECT read_only FROM lace_threads WHERE thread_id=?`, string(threadId)).Scan(&readOnly)
	if err == sql.ErrNoRows {
		if _, err := tx.ExecContext(ctx, `INSERT INTO lace_threads (thread_id, created_at, touched_at) VALUES (?,?,?)`,
			string(threadId), time.Now().Unix(), time.Now().UnixNano()); err != nil {
			return 0, lace.Wrap(lace.KindStorage, err, "auto-create thread").WithThread(threadId)
		}
	} else if err != nil {
		return 0, lace.Wrap(lace.KindStorage, err, "load thread").WithThread(threadId)
	}
	if readOnly {
		return 0, lace.New(lace.KindThreadCorrupt, "thread is read-only after corruption").WithThread(threadId)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE lace_threads SET next_event_id = next_event_id + 1 WHERE thread_id=?`, string(threadId)); err != nil {
		return 0, lace.Wrap(lace.KindStorage, err, "advance event id counter").WithThread(threadId)
	}
	var nextId int64
	if err := tx.QueryRowContext(ctx, `SELECT next_event_id FROM lace_threads WHERE thread_id=?`, string(threadId)).Scan(&nextId); err != nil {
		return 0, lace.Wrap(lace.KindStorage, err, "read event id counter").WithThread(threadId)
	}

	ts := evt.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	payload, err := encodePayload(evt)
	if err != nil {
		return 0, lace.Wrap(lace.KindValidation, err, "encode payload").WithThread(threadId)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO lace_events (thread_id, id, timestamp, type, payload) VALUES (?,?,?,?,?)`,
		string(threadId), nextId, ts.UnixNano(), string(evt.Type), string(payload)); err != nil {
		return 0, lace.Wrap(lace.KindStorage, err, "insert event").WithThread(threadId)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE lace_threads SET touched_at=? WHERE thread_id=?`, ts.UnixNano(), string(threadId)); err != nil {
		return 0, lace.Wrap(lace.KindStorage, err, "touch thread").WithThread(threadId)
	}
	if err := tx.Commit(); err != nil {
		return 0, lace.Wrap(lace.KindStorage, err, "commit append").WithThread(threadId)
	}
	return nextId, nil
}

func (s *SQLiteStore) Events(ctx context.Context, threadId lace.ThreadId) ([]lace.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var readOnly bool
	err := s.db.QueryRowContext(ctx, `SELECT read_only FROM lace_threads WHERE thread_id=?`, string(threadId)).Scan(&readOnly)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, lace.Wrap(lace.KindStorage, err, "load thread").WithThread(threadId)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, timestamp, type, payload FROM lace_events WHERE thread_id=? AND NOT superseded ORDER BY id ASC`, string(threadId))
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

func (s *SQLiteStore) LatestThreadId(ctx context.Context) (lace.ThreadId, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT thread_id FROM lace_threads ORDER BY touched_at DESC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", false, nil
	} else if err != nil {
		return "", false, lace.Wrap(lace.KindStorage, err, "query latest thread")
	}
	return lace.ThreadId(id), true, nil
}

func (s *SQLiteStore) Compact(ctx context.Context, threadId lace.ThreadId, strategyId string, replacement []lace.Event) (err error) {
	ctx, span := tracing.Start(ctx, "lace/threadstore", "threadstore.compact",
		attribute.String("lace.thread_id", threadId.String()),
		attribute.String("lace.strategy", strategyId))
	defer func() {
		tracing.RecordError(span, err)
		span.End()
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return lace.Wrap(lace.KindStorage, err, "begin compact tx").WithThread(threadId)
	}
	defer tx.Rollback() //nolint:errcheck

	var liveCount int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM lace_events WHERE thread_id=? AND NOT superseded`, string(threadId)).Scan(&liveCount); err != nil {
		return lace.Wrap(lace.KindStorage, err, "count live events").WithThread(threadId)
	}
	var lastStrategy string
	var lastN int64
	_ = tx.QueryRowContext(ctx, `SELECT last_compact_at, last_compact_n FROM lace_threads WHERE thread_id=?`, string(threadId)).Scan(&lastStrategy, &lastN)

	if lastStrategy == strategyId && lastN == int64(len(replacement)) && liveCount == 1 {
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `UPDATE lace_events SET superseded=1 WHERE thread_id=? AND NOT superseded`, string(threadId)); err != nil {
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
	if _, err := tx.ExecContext(ctx, `UPDATE lace_threads SET next_event_id = next_event_id + 1 WHERE thread_id=?`, string(threadId)); err != nil {
		return lace.Wrap(lace.KindStorage, err, "advance event id counter").WithThread(threadId)
	}
	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT next_event_id FROM lace_threads WHERE thread_id=?`, string(threadId)).Scan(&id); err != nil {
		return lace.Wrap(lace.KindStorage, err, "read event id counter").WithThread(threadId)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO lace_events (thread_id, id, timestamp, type, payload) VALUES (?,?,?,?,?)`,
		string(threadId), id, now.UnixNano(), string(lace.EventCompaction), string(payload)); err != nil {
		return lace.Wrap(lace.KindStorage, err, "insert compaction event").WithThread(threadId)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE lace_threads SET touched_at=?, last_compact_at=?, last_compact_n=? WHERE thread_id=?`,
		now.UnixNano(), strategyId, int64(len(replacement)), string(threadId)); err != nil {
		return lace.Wrap(lace.KindStorage, err, "touch thread after compact").WithThread(threadId)
	}
	return tx.Commit()
}
