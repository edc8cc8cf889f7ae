package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/deskactivity/internal/auth"
	"example.com/deskactivity/internal/events"
	"example.com/deskactivity/internal/persistence"
)

func newTestStore(t *testing.T, batch []events.ActivityEvent) *persistence.Store {
	t.Helper()
	ctx := context.Background()
	store, err := persistence.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.InsertBatch(ctx, batch))
	return store
}

func appEvent(id string, ts time.Time) events.ActivityEvent {
	return events.ActivityEvent{
		EventID:   id,
		Timestamp: ts,
		UserID:    "user-1",
		EventType: events.AppActive,
		App:       &events.AppPayload{AppName: "Terminal", ProcessID: 7, AppPath: "/usr/bin/term"},
	}
}

func fileEvent(id string, ts time.Time) events.ActivityEvent {
	return events.ActivityEvent{
		EventID:   id,
		Timestamp: ts,
		UserID:    "user-2",
		EventType: events.FileChanged,
		File: &events.FileChangePayload{
			FilePath:      "/home/u/notes.md",
			FileName:      "notes.md",
			FileExtension: ".md",
			Directory:     "/home/u",
			ChangeType:    events.Modified,
		},
	}
}

func serve(t *testing.T, h *Handler, method, target string, scopes ...string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(method, target, nil)
	if scopes != nil {
		claims := &auth.Claims{Subject: "tester", Scopes: map[string]struct{}{}, ExpiresAt: time.Now().Add(time.Hour)}
		for _, scope := range scopes {
			claims.Scopes[scope] = struct{}{}
		}
		req = req.WithContext(auth.WithClaims(req.Context(), claims))
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func TestListEventsPaginatesNewestFirst(t *testing.T) {
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
	var batch []events.ActivityEvent
	for i := 0; i < 5; i++ {
		batch = append(batch, appEvent(fmt.Sprintf("e%d", i), base.Add(time.Duration(i)*time.Minute)))
	}
	batch = append(batch, fileEvent("f0", base.Add(10*time.Minute)))
	h := NewHandler(newTestStore(t, batch), log.New(testWriter{t}, "", 0))

	rr := serve(t, h, http.MethodGet, "/v1/events?type=APP_ACTIVE&limit=3", auth.ScopeEventsRead)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var first ListEventsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &first))
	require.Len(t, first.Items, 3)
	require.Equal(t, "e4", first.Items[0].Event.EventID)
	require.Equal(t, "Terminal", first.Items[0].Event.App.AppName)
	require.NotEmpty(t, first.NextCursor)

	rr = serve(t, h, http.MethodGet, "/v1/events?type=APP_ACTIVE&limit=3&cursor="+first.NextCursor, auth.ScopeEventsRead)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var second ListEventsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &second))
	require.Len(t, second.Items, 2)
	require.Equal(t, "e1", second.Items[0].Event.EventID)
	require.Empty(t, second.NextCursor)

	rr = serve(t, h, http.MethodGet, "/v1/events?user_id=user-2", auth.ScopeEventsRead)
	var byUser ListEventsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &byUser))
	require.Len(t, byUser.Items, 1)
	require.Equal(t, events.FileChanged, byUser.Items[0].Event.EventType)
}

func TestListEventsValidation(t *testing.T) {
	h := NewHandler(newTestStore(t, nil), log.New(testWriter{t}, "", 0))

	cases := []string{
		"/v1/events?type=MOUSE_MOVED",
		"/v1/events?start=yesterday",
		"/v1/events?start=2026-03-02T00:00:00Z&end=2026-03-01T00:00:00Z",
		"/v1/events?cursor=bm90LWEtY3Vyc29y",
	}
	for _, target := range cases {
		rr := serve(t, h, http.MethodGet, target, auth.ScopeEventsRead)
		require.Equal(t, http.StatusBadRequest, rr.Code, target)
	}
}

func TestScopesAreEnforced(t *testing.T) {
	h := NewHandler(newTestStore(t, nil), log.New(testWriter{t}, "", 0))

	rr := serve(t, h, http.MethodGet, "/v1/events/count")
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = serve(t, h, http.MethodDelete, "/v1/events?older_than_days=7", auth.ScopeEventsRead)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = serve(t, h, http.MethodPost, "/v1/events", auth.ScopeEventsRead)
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = serve(t, h, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestCountStatsAndPurge(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	h := NewHandler(newTestStore(t, []events.ActivityEvent{
		appEvent("recent-1", now.Add(-time.Hour)),
		fileEvent("recent-2", now.Add(-2*time.Hour)),
		appEvent("old", now.AddDate(0, 0, -40)),
	}), log.New(testWriter{t}, "", 0))

	rr := serve(t, h, http.MethodGet, "/v1/events/count", auth.ScopeEventsRead)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"count":3}`, rr.Body.String())

	rr = serve(t, h, http.MethodGet, "/v1/events/stats", auth.ScopeEventsRead)
	require.Equal(t, http.StatusOK, rr.Code)
	var stats StatsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	require.EqualValues(t, 3, stats.Total)
	require.EqualValues(t, 2, stats.ByType["APP_ACTIVE"])
	require.EqualValues(t, 1, stats.ByType["FILE_CHANGED"])
	var inWindow int64
	for _, day := range stats.ByDay {
		inWindow += day.Count
	}
	require.EqualValues(t, 2, inWindow)

	rr = serve(t, h, http.MethodDelete, "/v1/events?older_than_days=0", auth.ScopeEventsPurge)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(t, h, http.MethodDelete, "/v1/events?older_than_days=30", auth.ScopeEventsPurge)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.JSONEq(t, `{"deleted":1,"older_than_days":30}`, rr.Body.String())

	rr = serve(t, h, http.MethodGet, "/v1/events/count", auth.ScopeEventsRead)
	require.JSONEq(t, `{"count":2}`, rr.Body.String())
}

type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}
