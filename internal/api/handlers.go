// Package api exposes the read-only HTTP view over the local event store.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/deskactivity/internal/auth"
	"example.com/deskactivity/internal/events"
	"example.com/deskactivity/internal/persistence"
)

// EventStore is the subset of persistence.Store served over HTTP.
type EventStore interface {
	List(ctx context.Context, q persistence.Query) (persistence.Page, error)
	Count(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (persistence.Stats, error)
	PurgeOlderThan(ctx context.Context, days int) (int64, error)
}

// Handler coordinates HTTP requests with the event store.
type Handler struct {
	store  EventStore
	logger *log.Logger
}

// NewHandler builds a Handler.
func NewHandler(store EventStore, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(log.Writer(), "[api] ", log.LstdFlags|log.Lshortfile)
	}
	return &Handler{store: store, logger: logger}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/events", h.events)
	mux.HandleFunc("/v1/events/count", h.count)
	mux.HandleFunc("/v1/events/stats", h.stats)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listEvents(w, r)
	case http.MethodDelete:
		h.purgeEvents(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, auth.ScopeEventsRead) {
		return
	}

	params := r.URL.Query()
	q := persistence.Query{UserID: strings.TrimSpace(params.Get("user_id"))}

	if raw := params.Get("type"); raw != "" {
		q.EventType = events.EventType(raw)
		if !q.EventType.Valid() {
			writeError(w, http.StatusBadRequest, "validation_failed", "unknown event type")
			return
		}
	}

	var err error
	if q.Start, err = parseTime(params.Get("start")); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "start must be RFC 3339")
		return
	}
	if q.End, err = parseTime(params.Get("end")); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "end must be RFC 3339")
		return
	}
	if !q.Start.IsZero() && !q.End.IsZero() && q.End.Before(q.Start) {
		writeError(w, http.StatusBadRequest, "validation_failed", "end precedes start")
		return
	}

	q.Limit = 50
	if raw := params.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			q.Limit = parsed
		}
	}

	q.Cursor, err = persistence.DecodeCursor(params.Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	page, err := h.store.List(r.Context(), q)
	if err != nil {
		h.serverError(w, err)
		return
	}

	resp := ListEventsResponse{
		Items:      make([]EventView, 0, len(page.Events)),
		NextCursor: persistence.EncodeCursor(page.NextCursor),
	}
	for _, stored := range page.Events {
		resp.Items = append(resp.Items, EventView{ID: stored.ID, StoredAt: stored.CreatedAt, Event: stored.Event})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) purgeEvents(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, auth.ScopeEventsPurge) {
		return
	}

	days := persistence.DefaultRetentionDays
	if raw := r.URL.Query().Get("older_than_days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "older_than_days must be a positive integer")
			return
		}
		days = parsed
	}

	deleted, err := h.store.PurgeOlderThan(r.Context(), days)
	if err != nil {
		h.serverError(w, err)
		return
	}
	h.logger.Printf("purged %d events older than %d days", deleted, days)
	writeJSON(w, http.StatusOK, PurgeResponse{Deleted: deleted, OlderThanDays: days})
}

func (h *Handler) count(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !requireScope(w, r, auth.ScopeEventsRead) {
		return
	}

	n, err := h.store.Count(r.Context())
	if err != nil {
		h.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !requireScope(w, r, auth.ScopeEventsRead) {
		return
	}

	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.serverError(w, err)
		return
	}

	resp := StatsResponse{
		Total:  stats.Total,
		ByType: make(map[string]int64, len(stats.ByType)),
		ByDay:  make([]DayCountView, 0, len(stats.ByDay)),
	}
	for eventType, n := range stats.ByType {
		resp.ByType[string(eventType)] = n
	}
	for _, day := range stats.ByDay {
		resp.ByDay = append(resp.ByDay, DayCountView{Day: day.Day, Count: day.Count})
	}
	writeJSON(w, http.StatusOK, resp)
}

// EventView is one stored event.
type EventView struct {
	ID       int64                `json:"id"`
	StoredAt time.Time            `json:"stored_at"`
	Event    events.ActivityEvent `json:"event"`
}

// ListEventsResponse packages list results.
type ListEventsResponse struct {
	Items      []EventView `json:"items"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

// CountResponse is the body of GET /v1/events/count.
type CountResponse struct {
	Count int64 `json:"count"`
}

// DayCountView is the number of events recorded on one UTC day.
type DayCountView struct {
	Day   string `json:"day"`
	Count int64  `json:"count"`
}

// StatsResponse is the body of GET /v1/events/stats.
type StatsResponse struct {
	Total  int64            `json:"total"`
	ByType map[string]int64 `json:"by_type"`
	ByDay  []DayCountView   `json:"by_day"`
}

// PurgeResponse is the body of DELETE /v1/events.
type PurgeResponse struct {
	Deleted       int64 `json:"deleted"`
	OlderThanDays int   `json:"older_than_days"`
}

func requireScope(w http.ResponseWriter, r *http.Request, scope string) bool {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return false
	}
	if !claims.HasScope(scope) {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
		return false
	}
	return true
}

func parseTime(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}

func (h *Handler) serverError(w http.ResponseWriter, err error) {
	h.logger.Printf("request failed: %v", err)
	writeError(w, http.StatusInternalServerError, "server_error", err.Error())
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
