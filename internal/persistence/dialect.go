package persistence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dialect captures the few statements that differ between the supported databases.
type Dialect struct {
	Name   string
	Schema []string
	// DayExpr renders the UTC calendar day of the timestamp column as YYYY-MM-DD.
	DayExpr string
	// Rebind converts '?' placeholders to the database's native form.
	Rebind func(string) string
	// EncodeTime converts a timestamp into the value bound for the timestamp column.
	EncodeTime func(time.Time) any
}

// storedTimeLayout is fixed-width so that text timestamps order lexicographically.
const storedTimeLayout = "2006-01-02T15:04:05.000Z"

// SQLite stores timestamps as fixed-width UTC text.
var SQLite = Dialect{
	Name: "sqlite",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL UNIQUE,
			timestamp TEXT NOT NULL,
			user_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			app_name TEXT,
			process_id INTEGER,
			app_path TEXT,
			window_title TEXT,
			tab_title TEXT,
			tab_url TEXT,
			domain TEXT,
			file_path TEXT,
			file_name TEXT,
			file_extension TEXT,
			directory TEXT,
			change_type TEXT,
			file_size INTEGER,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_events_user_id ON events(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_event_type ON events(event_type)`,
	},
	DayExpr: "substr(timestamp, 1, 10)",
	Rebind:  func(q string) string { return q },
	EncodeTime: func(t time.Time) any {
		return t.UTC().Format(storedTimeLayout)
	},
}

// Postgres uses native TIMESTAMPTZ columns and $n placeholders.
var Postgres = Dialect{
	Name: "postgres",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS events (
			id BIGSERIAL PRIMARY KEY,
			event_id TEXT NOT NULL UNIQUE,
			timestamp TIMESTAMPTZ NOT NULL,
			user_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			app_name TEXT,
			process_id BIGINT,
			app_path TEXT,
			window_title TEXT,
			tab_title TEXT,
			tab_url TEXT,
			domain TEXT,
			file_path TEXT,
			file_name TEXT,
			file_extension TEXT,
			directory TEXT,
			change_type TEXT,
			file_size BIGINT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_events_user_id ON events(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_event_type ON events(event_type)`,
	},
	DayExpr: "to_char(timestamp AT TIME ZONE 'UTC', 'YYYY-MM-DD')",
	Rebind:  rebindDollar,
	EncodeTime: func(t time.Time) any {
		return t.UTC().Truncate(time.Millisecond)
	},
}

// DialectFor resolves a driver name to its Dialect.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	}
	return Dialect{}, fmt.Errorf("unsupported store driver %q", driver)
}

func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// timeValue scans timestamps stored either natively or as text.
type timeValue struct {
	t *time.Time
}

func (v timeValue) Scan(src any) error {
	switch value := src.(type) {
	case time.Time:
		*v.t = value.UTC()
		return nil
	case string:
		return v.parse(value)
	case []byte:
		return v.parse(string(value))
	case nil:
		*v.t = time.Time{}
		return nil
	}
	return fmt.Errorf("cannot scan %T into timestamp", src)
}

func (v timeValue) parse(s string) error {
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	*v.t = parsed.UTC()
	return nil
}
