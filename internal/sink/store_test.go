package sink

import (
	"context"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/deskactivity/internal/events"
	"example.com/deskactivity/internal/persistence"
)

func TestStoreSinkPersistsBufferedEventsOnce(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")

	s := NewBuffered[events.ActivityEvent](
		NewStoreCommitter(StoreConfig{Driver: "sqlite", DSN: path}),
		Config{Name: "store", FlushInterval: time.Hour, FlushThreshold: 50},
		WithLogger(log.New(testWriter{t}, "", 0)),
	)

	evt := sampleAppEvent("dup", "user-1", "Terminal")
	s.Ingest(evt)
	s.Ingest(sampleAppEvent("other", "user-1", "Editor"))
	require.NoError(t, s.Connect(ctx))

	// A replay of an already committed event is absorbed by the store.
	s.Ingest(evt)
	require.NoError(t, s.Disconnect(ctx))

	store, err := persistence.Open(ctx, "sqlite", path)
	require.NoError(t, err)
	defer store.Close()

	count, err := store.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
}
