package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"example.com/deskactivity/internal/events"
)

const (
	// DefaultQueryLimit applies to the by-type, by-range and by-user lookups.
	DefaultQueryLimit = 100
	maxQueryLimit     = 1000
	statsWindowDays   = 30
	// DefaultRetentionDays is the age beyond which PurgeOlderThan removes events by default.
	DefaultRetentionDays = 30
)

const eventColumns = `event_id, timestamp, user_id, event_type, app_name, process_id, app_path, window_title,
	tab_title, tab_url, domain, file_path, file_name, file_extension, directory, change_type, file_size`

// StoredEvent is an event read back from the store.
type StoredEvent struct {
	ID        int64
	Event     events.ActivityEvent
	CreatedAt time.Time
}

// Query filters and pages List results. Zero values mean "no filter".
type Query struct {
	EventType events.EventType
	UserID    string
	Start     time.Time
	End       time.Time
	Limit     int
	Cursor    *Cursor
}

// Page is one page of List results.
type Page struct {
	Events     []StoredEvent
	NextCursor *Cursor
}

// Stats summarises the store contents.
type Stats struct {
	Total  int64
	ByType map[events.EventType]int64
	// ByDay holds counts for at most the 30 most recent days, newest first.
	ByDay []DayCount
}

// DayCount is the number of events recorded on a UTC calendar day.
type DayCount struct {
	Day   string
	Count int64
}

// Store persists events idempotently keyed by event id.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
	closers []func()
}

// New wraps an open database handle.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect, now: time.Now}
}

// Open connects to the configured database. SQLite is the default; a
// postgres driver goes through a pgx pool.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}

	switch dialect.Name {
	case "postgres":
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		store := New(stdlib.OpenDBFromPool(pool), dialect)
		store.closers = append(store.closers, pool.Close)
		return store, nil
	default:
		if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("create store directory: %w", err)
			}
		}
		db, err := sql.Open("sqlite", sqliteDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// SQLite allows a single writer; serialise through one connection.
		db.SetMaxOpenConns(1)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping sqlite: %w", err)
		}
		return New(db, dialect), nil
	}
}

func sqliteDSN(path string) string {
	if strings.HasPrefix(path, "file:") || path == ":memory:" {
		return path
	}
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Migrate creates the events table and its indexes when missing.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	err := s.db.Close()
	for _, closer := range s.closers {
		closer()
	}
	return err
}

// InsertBatch writes batch in one transaction. Rows whose event id already
// exists are skipped, so replays after a partial failure are harmless.
func (s *Store) InsertBatch(ctx context.Context, batch []events.ActivityEvent) (err error) {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, s.dialect.Rebind(`INSERT INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, evt := range batch {
		rec := evt.Flatten()
		if _, err = stmt.ExecContext(ctx,
			rec.EventID,
			s.dialect.EncodeTime(rec.Timestamp),
			rec.UserID,
			string(rec.EventType),
			rec.AppName,
			rec.ProcessID,
			rec.AppPath,
			rec.WindowTitle,
			rec.TabTitle,
			rec.TabURL,
			rec.Domain,
			rec.FilePath,
			rec.FileName,
			rec.FileExtension,
			rec.Directory,
			rec.ChangeType,
			rec.FileSize,
		); err != nil {
			return fmt.Errorf("insert event %s: %w", rec.EventID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return err
	}
	recordInserted(s.dialect.Name, len(batch))
	return nil
}

// Count returns the number of stored events.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Recent returns the newest limit events.
func (s *Store) Recent(ctx context.Context, limit int) ([]StoredEvent, error) {
	page, err := s.List(ctx, Query{Limit: limit})
	return page.Events, err
}

// ByType returns the newest events of the given type.
func (s *Store) ByType(ctx context.Context, eventType events.EventType) ([]StoredEvent, error) {
	page, err := s.List(ctx, Query{EventType: eventType, Limit: DefaultQueryLimit})
	return page.Events, err
}

// ByTimeRange returns the newest events with start <= timestamp <= end.
func (s *Store) ByTimeRange(ctx context.Context, start, end time.Time) ([]StoredEvent, error) {
	if end.Before(start) {
		return nil, errors.New("time range end precedes start")
	}
	page, err := s.List(ctx, Query{Start: start, End: end, Limit: DefaultQueryLimit})
	return page.Events, err
}

// ByUser returns the newest events for userID.
func (s *Store) ByUser(ctx context.Context, userID string) ([]StoredEvent, error) {
	page, err := s.List(ctx, Query{UserID: userID, Limit: DefaultQueryLimit})
	return page.Events, err
}

// List returns one page of events, newest first.
func (s *Store) List(ctx context.Context, q Query) (Page, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	var (
		where []string
		args  []any
	)
	if q.EventType != "" {
		where = append(where, "event_type = ?")
		args = append(args, string(q.EventType))
	}
	if q.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, q.UserID)
	}
	if !q.Start.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, s.dialect.EncodeTime(q.Start))
	}
	if !q.End.IsZero() {
		where = append(where, "timestamp <= ?")
		args = append(args, s.dialect.EncodeTime(q.End))
	}
	if q.Cursor != nil {
		ts := s.dialect.EncodeTime(q.Cursor.Timestamp)
		where = append(where, "(timestamp < ? OR (timestamp = ? AND event_id < ?))")
		args = append(args, ts, ts, q.Cursor.EventID)
	}

	query := `SELECT id, ` + eventColumns + `, created_at FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, event_id DESC LIMIT ?"
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return Page{}, err
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		stored, err := scanEvent(rows)
		if err != nil {
			return Page{}, err
		}
		out = append(out, stored)
	}
	if err := rows.Err(); err != nil {
		return Page{}, err
	}

	var next *Cursor
	if len(out) > limit {
		out = out[:limit]
		last := out[len(out)-1].Event
		next = &Cursor{Timestamp: last.Timestamp, EventID: last.EventID}
	}
	return Page{Events: out, NextCursor: next}, nil
}

// Stats counts events overall, per type, and per day over the last 30 days.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByType: make(map[events.EventType]int64)}

	total, err := s.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	stats.Total = total

	rows, err := s.db.QueryContext(ctx, `SELECT event_type, COUNT(*) FROM events GROUP BY event_type`)
	if err != nil {
		return Stats{}, err
	}
	for rows.Next() {
		var (
			eventType string
			n         int64
		)
		if err := rows.Scan(&eventType, &n); err != nil {
			rows.Close()
			return Stats{}, err
		}
		stats.ByType[events.EventType(eventType)] = n
	}
	if err := rows.Close(); err != nil {
		return Stats{}, err
	}

	cutoff := s.now().UTC().AddDate(0, 0, -statsWindowDays)
	dayQuery := fmt.Sprintf(`SELECT %[1]s AS day, COUNT(*) FROM events WHERE timestamp >= ?
		GROUP BY %[1]s ORDER BY day DESC LIMIT ?`, s.dialect.DayExpr)
	rows, err = s.db.QueryContext(ctx, s.dialect.Rebind(dayQuery), s.dialect.EncodeTime(cutoff), statsWindowDays)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var dc DayCount
		if err := rows.Scan(&dc.Day, &dc.Count); err != nil {
			return Stats{}, err
		}
		stats.ByDay = append(stats.ByDay, dc)
	}
	return stats, rows.Err()
}

// PurgeOlderThan deletes events recorded more than days days ago and returns
// the number of rows removed.
func (s *Store) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("retention must be positive, got %d days", days)
	}
	cutoff := s.now().UTC().AddDate(0, 0, -days)
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM events WHERE timestamp < ?`), s.dialect.EncodeTime(cutoff))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	recordPurged(s.dialect.Name, n)
	return n, nil
}

func scanEvent(rows *sql.Rows) (StoredEvent, error) {
	var (
		stored    StoredEvent
		rec       events.Record
		eventType string
	)
	err := rows.Scan(
		&stored.ID,
		&rec.EventID,
		timeValue{&rec.Timestamp},
		&rec.UserID,
		&eventType,
		&rec.AppName,
		&rec.ProcessID,
		&rec.AppPath,
		&rec.WindowTitle,
		&rec.TabTitle,
		&rec.TabURL,
		&rec.Domain,
		&rec.FilePath,
		&rec.FileName,
		&rec.FileExtension,
		&rec.Directory,
		&rec.ChangeType,
		&rec.FileSize,
		timeValue{&stored.CreatedAt},
	)
	if err != nil {
		return StoredEvent{}, err
	}
	rec.EventType = events.EventType(eventType)

	evt, err := rec.Event()
	if err != nil {
		return StoredEvent{}, fmt.Errorf("event %s: %w", rec.EventID, err)
	}
	stored.Event = evt
	return stored, nil
}
