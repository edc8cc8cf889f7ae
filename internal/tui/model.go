// Package tui renders the live activity stream in a terminal.
//
// The model follows the bubbletea loop: consumer callbacks are turned into
// EventMsg and StatsMsg values, Update folds them into state, View renders.
package tui

import (
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"example.com/deskactivity/internal/events"
	"example.com/deskactivity/internal/stream"
)

// EventMsg carries one event received from the stream.
type EventMsg events.ActivityEvent

// StatsMsg carries a stats snapshot from the stream.
type StatsMsg stream.Stats

// Sender is satisfied by *tea.Program.
type Sender interface {
	Send(msg tea.Msg)
}

// Source is the part of stream.Consumer the view subscribes to.
type Source interface {
	Subscribe(fn func(events.ActivityEvent)) func()
	SubscribeStats(fn func(stream.Stats)) func()
}

// Attach forwards events and stats from src to p until the returned func is
// called.
func Attach(p Sender, src Source) func() {
	unsubEvents := src.Subscribe(func(evt events.ActivityEvent) { p.Send(EventMsg(evt)) })
	unsubStats := src.SubscribeStats(func(s stream.Stats) { p.Send(StatsMsg(s)) })
	return func() {
		unsubEvents()
		unsubStats()
	}
}

type timeRange struct {
	label string
	span  time.Duration
}

// zero span means no lower bound
var timeRanges = []timeRange{
	{"last hour", time.Hour},
	{"last 6 hours", 6 * time.Hour},
	{"last 24 hours", 24 * time.Hour},
	{"last 7 days", 7 * 24 * time.Hour},
	{"all time", 0},
}

var typeKeys = map[string]events.EventType{
	"1": events.AppActive,
	"2": events.BrowserTabActive,
	"3": events.FileChanged,
}

// Option configures a Model.
type Option func(*Model)

// WithClock overrides the time source used for relative times and ranges.
func WithClock(now func() time.Time) Option {
	return func(m *Model) {
		m.now = now
	}
}

// WithLimit bounds the number of events kept in the view.
func WithLimit(limit int) Option {
	return func(m *Model) {
		if limit > 0 {
			m.limit = limit
		}
	}
}

// WithClear registers fn to run when the view is cleared, typically
// stream.Consumer.Clear so the retained window is dropped too.
func WithClear(fn func()) Option {
	return func(m *Model) {
		m.clear = fn
	}
}

// Model is the bubbletea model of the live stream view.
type Model struct {
	width  int
	height int

	// oldest first
	events  []events.ActivityEvent
	pending []events.ActivityEvent
	limit   int
	stats   stream.Stats

	types     map[events.EventType]bool
	rangeIdx  int
	search    string
	searching bool
	paused    bool
	offset    int

	now   func() time.Time
	clear func()
}

// NewModel seeds the view with already received events.
func NewModel(recent []events.ActivityEvent, opts ...Option) Model {
	m := Model{
		limit: stream.DefaultWindowSize,
		types: make(map[events.EventType]bool),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(&m)
	}
	m.events = append(m.events, recent...)
	m.trim()
	return m
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.searching {
			return m.handleSearchKey(msg)
		}
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case EventMsg:
		if m.paused {
			m.pending = append(m.pending, events.ActivityEvent(msg))
			return m, nil
		}
		m.events = append(m.events, events.ActivityEvent(msg))
		m.trim()
	case StatsMsg:
		m.stats = stream.Stats(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key := msg.String(); key {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "1", "2", "3":
		t := typeKeys[key]
		if m.types[t] {
			delete(m.types, t)
		} else {
			m.types[t] = true
		}
		m.offset = 0
	case "t":
		m.rangeIdx = (m.rangeIdx + 1) % len(timeRanges)
		m.offset = 0
	case "/":
		m.searching = true
		m.search = ""
	case "c":
		m.types = make(map[events.EventType]bool)
		m.rangeIdx = 0
		m.search = ""
		m.offset = 0
	case "x":
		m.events = nil
		m.pending = nil
		m.offset = 0
		if m.clear != nil {
			m.clear()
		}
	case "p", " ":
		m.paused = !m.paused
		if !m.paused {
			m.events = append(m.events, m.pending...)
			m.pending = nil
			m.trim()
		}
	case "j", "down":
		m.offset = min(m.offset+1, max(0, len(m.Visible())-1))
	case "k", "up":
		m.offset = max(m.offset-1, 0)
	case "g", "home":
		m.offset = 0
	}
	return m, nil
}

func (m Model) handleSearchKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.search = ""
		m.searching = false
	case "enter":
		m.searching = false
	case "backspace":
		if len(m.search) > 0 {
			m.search = m.search[:len(m.search)-1]
		}
	default:
		if msg.Type == tea.KeyRunes {
			m.search += string(msg.Runes)
		}
	}
	m.offset = 0
	return m, nil
}

// Visible returns the events passing the active filters, newest first.
func (m Model) Visible() []events.ActivityEvent {
	var since time.Time
	if span := timeRanges[m.rangeIdx].span; span > 0 {
		since = m.now().Add(-span)
	}
	needle := strings.ToLower(m.search)

	out := make([]events.ActivityEvent, 0, len(m.events))
	for i := len(m.events) - 1; i >= 0; i-- {
		evt := m.events[i]
		if len(m.types) > 0 && !m.types[evt.EventType] {
			continue
		}
		if !since.IsZero() && evt.Timestamp.Before(since) {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(summary(evt)), needle) {
			continue
		}
		out = append(out, evt)
	}
	return out
}

// Paused reports whether incoming events are being held back.
func (m Model) Paused() bool {
	return m.paused
}

// keeps the newest limit events
func (m *Model) trim() {
	if over := len(m.events) - m.limit; over > 0 {
		m.events = append([]events.ActivityEvent(nil), m.events[over:]...)
	}
}
