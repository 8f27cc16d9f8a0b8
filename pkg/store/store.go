// Package store manages all SQLite persistence for beacon.
//
// SQLite in WAL mode is the durable event queue: every recorded event is
// written here before any upload is attempted, so neither a crash nor a
// dead network loses data. The same database carries the adaptive config
// (the collector-renegotiated limits plus the last successful send time),
// which is how scheduling state survives process restarts.
package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/daviddao/beacon/pkg/model"

	_ "modernc.org/sqlite"
)

// Config table keys for the persisted limits and send bookkeeping.
const (
	keyMaxTotalSize     = "max_total_size"
	keyMaxBatchSize     = "max_batch_size"
	keyMaxWait          = "max_wait"
	keyMinBatchInterval = "min_batch_interval"
	keyLastSendTime     = "last_send_time"
)

// Store manages all SQLite operations with WAL mode for concurrent access.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database and initializes the schema.
func New(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// retryOnContention wraps retryOp from retry.go with the default config.
// All store write operations should use this to handle transient SQLite
// errors (BUSY, LOCKED, IOERR_SHORT_READ) under concurrent access.
func retryOnContention(fn func() error) error {
	return retryOp(defaultRetryConfig, fn)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id   TEXT NOT NULL UNIQUE,
		type       TEXT NOT NULL,
		data       TEXT NOT NULL,
		session_id TEXT NOT NULL,
		event_time TEXT NOT NULL,
		size       INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);

	CREATE TABLE IF NOT EXISTS config (
		key   TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// InsertEvent queues an event for upload. An event with empty Data is a
// silent no-op: no row is written and no error is surfaced. A duplicate
// event id is likewise ignored, keeping recording idempotent.
func (s *Store) InsertEvent(e *model.Event) error {
	if e.Data == "" {
		return nil
	}
	return retryOnContention(func() error {
		_, err := s.db.Exec(
			`INSERT INTO events (event_id, type, data, session_id, event_time, size)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(event_id) DO NOTHING`,
			e.ID, e.Type, e.Data, e.SessionID, e.Timestamp, e.Size(),
		)
		return err
	})
}

// EventCount returns the number of queued events.
func (s *Store) EventCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}

// DatabaseSize returns the cumulative serialized size of all queued
// events in bytes.
func (s *Store) DatabaseSize() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COALESCE(SUM(size), 0) FROM events`).Scan(&n)
	return n, err
}

// BatchEvents selects the next upload batch: the oldest-first prefix of
// queued events whose cumulative size stays within maxBytes. When the
// queue is non-empty the batch holds at least one event, even if the
// single oldest event alone exceeds the budget — a send never goes out
// empty-handed while data is waiting.
func (s *Store) BatchEvents(maxBytes int) ([]model.Event, error) {
	rows, err := s.db.Query(
		`SELECT event_id, type, data, session_id, event_time, size
		 FROM events ORDER BY seq`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		batch []model.Event
		total int
	)
	for rows.Next() {
		var e model.Event
		var size int
		if err := rows.Scan(&e.ID, &e.Type, &e.Data, &e.SessionID, &e.Timestamp, &size); err != nil {
			return nil, err
		}
		if len(batch) > 0 && total+size > maxBytes {
			break
		}
		batch = append(batch, e)
		total += size
	}
	return batch, rows.Err()
}

// DeleteEvents removes exactly the listed event ids. Unknown ids are
// ignored; nothing else is touched.
func (s *Store) DeleteEvents(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return retryOnContention(func() error {
		_, err := s.db.Exec(
			`DELETE FROM events WHERE event_id IN (`+placeholders+`)`, args...,
		)
		return err
	})
}

// DeleteAllEvents purges the queue unconditionally. Purging an empty
// queue is a no-op, not an error.
func (s *Store) DeleteAllEvents() error {
	return retryOnContention(func() error {
		_, err := s.db.Exec(`DELETE FROM events`)
		return err
	})
}

// TrimToSize evicts oldest events until the cumulative size is at most
// maxBytes. Returns the number of evicted events. This enforces the
// store cap after every admission: old data is dropped before new data
// is refused.
func (s *Store) TrimToSize(maxBytes int) (int, error) {
	total, err := s.DatabaseSize()
	if err != nil {
		return 0, err
	}
	if total <= maxBytes {
		return 0, nil
	}

	rows, err := s.db.Query(`SELECT seq, size FROM events ORDER BY seq`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var evict []any
	for rows.Next() {
		var seq int64
		var size int
		if err := rows.Scan(&seq, &size); err != nil {
			return 0, err
		}
		if total <= maxBytes {
			break
		}
		evict = append(evict, seq)
		total -= size
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(evict) == 0 {
		return 0, nil
	}

	placeholders := strings.Repeat("?,", len(evict))
	placeholders = placeholders[:len(placeholders)-1]
	err = retryOnContention(func() error {
		_, err := s.db.Exec(
			`DELETE FROM events WHERE seq IN (`+placeholders+`)`, evict...,
		)
		return err
	})
	if err != nil {
		return 0, err
	}
	return len(evict), nil
}

// ---------------------------------------------------------------------------
// Adaptive config
// ---------------------------------------------------------------------------

// Limits returns the persisted adaptive limits, falling back to the
// collector-assumed defaults for any value never negotiated.
func (s *Store) Limits() (model.Limits, error) {
	l := model.DefaultLimits()
	rows, err := s.db.Query(`SELECT key, value FROM config`)
	if err != nil {
		return l, err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var value int64
		if err := rows.Scan(&key, &value); err != nil {
			return l, err
		}
		switch key {
		case keyMaxTotalSize:
			l.MaxTotalSize = int(value)
		case keyMaxBatchSize:
			l.MaxBatchSize = int(value)
		case keyMaxWait:
			l.MaxWait = int(value)
		case keyMinBatchInterval:
			l.MinBatchInterval = int(value)
		}
	}
	return l, rows.Err()
}

// SaveLimits persists a renegotiated limit set, replacing all four
// values.
func (s *Store) SaveLimits(l model.Limits) error {
	pairs := map[string]int{
		keyMaxTotalSize:     l.MaxTotalSize,
		keyMaxBatchSize:     l.MaxBatchSize,
		keyMaxWait:          l.MaxWait,
		keyMinBatchInterval: l.MinBatchInterval,
	}
	return retryOnContention(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		for key, value := range pairs {
			if _, err := tx.Exec(
				`INSERT INTO config (key, value) VALUES (?, ?)
				 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
				key, value,
			); err != nil {
				tx.Rollback()
				return err
			}
		}
		return tx.Commit()
	})
}

// LastSendTime returns the time of the last successful upload, or the
// zero time if none has happened yet.
func (s *Store) LastSendTime() (time.Time, error) {
	var ms int64
	err := s.db.QueryRow(
		`SELECT value FROM config WHERE key = ?`, keyLastSendTime,
	).Scan(&ms)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

// SetLastSendTime persists the time of a successful upload.
func (s *Store) SetLastSendTime(t time.Time) error {
	return retryOnContention(func() error {
		_, err := s.db.Exec(
			`INSERT INTO config (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			keyLastSendTime, t.UnixMilli(),
		)
		return err
	})
}
