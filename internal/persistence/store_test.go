package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"example.com/deskactivity/internal/events"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	store, err := Open(ctx, "sqlite", filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(ctx))
	return store
}

func TestInsertBatchIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	evt := appEvent(uuid.NewString(), "user-1", time.Now())
	require.NoError(t, store.InsertBatch(ctx, []events.ActivityEvent{evt}))
	require.NoError(t, store.InsertBatch(ctx, []events.ActivityEvent{evt}))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestMigrateIsRepeatable(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Migrate(context.Background()))
}

func TestRecentRoundTripsEveryVariant(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	app := appEvent("a", "user-1", base)
	tab := tabEvent("b", "user-1", base.Add(time.Second))
	file := fileEvent("c", "user-2", base.Add(2*time.Second))
	require.NoError(t, store.InsertBatch(ctx, []events.ActivityEvent{app, tab, file}))

	recent, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)

	require.Equal(t, file, recent[0].Event)
	require.Equal(t, tab, recent[1].Event)
	require.Equal(t, app, recent[2].Event)
	require.False(t, recent[0].CreatedAt.IsZero())
}

func TestFilteredQueries(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	batch := []events.ActivityEvent{
		appEvent("a1", "user-1", base),
		appEvent("a2", "user-2", base.Add(time.Hour)),
		tabEvent("t1", "user-1", base.Add(2*time.Hour)),
		fileEvent("f1", "user-1", base.Add(3*time.Hour)),
	}
	require.NoError(t, store.InsertBatch(ctx, batch))

	byType, err := store.ByType(ctx, events.AppActive)
	require.NoError(t, err)
	require.Equal(t, []string{"a2", "a1"}, ids(byType))

	byUser, err := store.ByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, []string{"f1", "t1", "a1"}, ids(byUser))

	inRange, err := store.ByTimeRange(ctx, base.Add(30*time.Minute), base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, []string{"t1", "a2"}, ids(inRange))

	_, err = store.ByTimeRange(ctx, base.Add(time.Hour), base)
	require.Error(t, err)
}

func TestListPagesWithCursor(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	var batch []events.ActivityEvent
	for i, id := range []string{"e1", "e2", "e3", "e4", "e5"} {
		batch = append(batch, appEvent(id, "user-1", base.Add(time.Duration(i)*time.Minute)))
	}
	// Same timestamp as e5, ordered after it by event id.
	batch = append(batch, appEvent("e6", "user-1", base.Add(4*time.Minute)))
	require.NoError(t, store.InsertBatch(ctx, batch))

	var seen []string
	var cursor *Cursor
	for {
		page, err := store.List(ctx, Query{Limit: 2, Cursor: cursor})
		require.NoError(t, err)
		seen = append(seen, ids(page.Events)...)
		if page.NextCursor == nil {
			break
		}
		token := EncodeCursor(page.NextCursor)
		cursor, err = DecodeCursor(token)
		require.NoError(t, err)
	}
	require.Equal(t, []string{"e6", "e5", "e4", "e3", "e2", "e1"}, seen)
}

func TestStatsAndPurge(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	now := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	batch := []events.ActivityEvent{
		appEvent("old", "user-1", now.AddDate(0, 0, -45)),
		appEvent("d1", "user-1", now.AddDate(0, 0, -1)),
		tabEvent("d2", "user-1", now.AddDate(0, 0, -1)),
		fileEvent("today", "user-1", now),
	}
	require.NoError(t, store.InsertBatch(ctx, batch))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 4, stats.Total)
	require.EqualValues(t, 2, stats.ByType[events.AppActive])
	require.EqualValues(t, 1, stats.ByType[events.BrowserTabActive])
	require.Equal(t, []DayCount{{Day: "2024-06-30", Count: 1}, {Day: "2024-06-29", Count: 2}}, stats.ByDay)

	removed, err := store.PurgeOlderThan(ctx, DefaultRetentionDays)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, count)

	_, err = store.PurgeOlderThan(ctx, 0)
	require.Error(t, err)
}

func TestInsertBatchRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := New(db, SQLite)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO events")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = store.InsertBatch(context.Background(), []events.ActivityEvent{
		appEvent("a", "user-1", time.Now()),
		appEvent("b", "user-1", time.Now()),
	})
	require.ErrorContains(t, err, "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRebind(t *testing.T) {
	require.Equal(t, "a = $1 AND b IN ($2, $3)", Postgres.Rebind("a = ? AND b IN (?, ?)"))
}

func ids(stored []StoredEvent) []string {
	out := make([]string, 0, len(stored))
	for _, s := range stored {
		out = append(out, s.Event.EventID)
	}
	return out
}

func appEvent(id, userID string, ts time.Time) events.ActivityEvent {
	title := "README.md - editor"
	return events.ActivityEvent{
		EventID:   id,
		Timestamp: ts.UTC().Truncate(time.Millisecond),
		UserID:    userID,
		EventType: events.AppActive,
		App:       &events.AppPayload{AppName: "Code", ProcessID: 4242, AppPath: "/usr/bin/code", WindowTitle: &title},
	}
}

func tabEvent(id, userID string, ts time.Time) events.ActivityEvent {
	domain := "go.dev"
	return events.ActivityEvent{
		EventID:   id,
		Timestamp: ts.UTC().Truncate(time.Millisecond),
		UserID:    userID,
		EventType: events.BrowserTabActive,
		Browser:   &events.BrowserTabPayload{AppName: "Firefox", TabTitle: "The Go Programming Language", TabURL: "https://go.dev/", Domain: &domain},
	}
}

func fileEvent(id, userID string, ts time.Time) events.ActivityEvent {
	size := int64(512)
	return events.ActivityEvent{
		EventID:   id,
		Timestamp: ts.UTC().Truncate(time.Millisecond),
		UserID:    userID,
		EventType: events.FileChanged,
		File: &events.FileChangePayload{
			FilePath:      "/home/user/notes/todo.txt",
			FileName:      "todo.txt",
			FileExtension: ".txt",
			Directory:     "/home/user/notes",
			ChangeType:    events.Modified,
			FileSize:      &size,
		},
	}
}
