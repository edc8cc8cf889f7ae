package monitor

import (
	"context"
	"errors"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/deskactivity/internal/events"
	"example.com/deskactivity/internal/formatter"
)

type scriptedSource struct {
	mu      sync.Mutex
	windows []*formatter.Window
	errs    []error
	calls   int
}

func (s *scriptedSource) ActiveWindow(context.Context) (*formatter.Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.windows) {
		if len(s.windows) == 0 {
			return nil, nil
		}
		return s.windows[len(s.windows)-1], nil
	}
	return s.windows[i], nil
}

func (s *scriptedSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.ActivityEvent
}

func (p *recordingPublisher) Publish(evt events.ActivityEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) snapshot() []events.ActivityEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.ActivityEvent(nil), p.events...)
}

func newTestPoller(t *testing.T, source WindowSource, pub Publisher) *AppPoller {
	t.Helper()
	return NewAppPoller(source, formatter.New("user-1"), pub, WithLogger(log.New(testWriter{t}, "", 0)))
}

func TestPollerEmitsOnlyOnChange(t *testing.T) {
	chrome := func(url string) *formatter.Window {
		return &formatter.Window{Title: "Docs", OwnerName: "Google Chrome", URL: url}
	}
	terminal := func(url string) *formatter.Window {
		return &formatter.Window{Title: "bash", OwnerName: "Terminal", URL: url}
	}

	source := &scriptedSource{windows: []*formatter.Window{
		chrome("https://a.example/"),
		chrome("https://a.example/"),
		chrome("https://b.example/"),
		terminal("x"),
		terminal("y"),
	}}
	pub := &recordingPublisher{}
	p := newTestPoller(t, source, pub)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		p.sample(ctx)
	}

	got := pub.snapshot()
	require.Len(t, got, 3)
	require.Equal(t, events.BrowserTabActive, got[0].EventType)
	require.Equal(t, "https://a.example/", got[0].Browser.TabURL)
	require.Equal(t, "https://b.example/", got[1].Browser.TabURL)
	require.Equal(t, events.AppActive, got[2].EventType)
}

func TestPollerSkipsFailedQueries(t *testing.T) {
	source := &scriptedSource{
		windows: []*formatter.Window{nil, nil, {Title: "a", OwnerName: "Terminal"}},
		errs:    []error{errors.New("xdotool missing")},
	}
	pub := &recordingPublisher{}
	p := newTestPoller(t, source, pub)

	ctx := context.Background()
	p.sample(ctx)
	p.sample(ctx)
	require.Empty(t, pub.snapshot())

	p.sample(ctx)
	require.Len(t, pub.snapshot(), 1)
}

func TestPollerStartSamplesImmediatelyAndStopClearsState(t *testing.T) {
	window := &formatter.Window{Title: "a", OwnerName: "Terminal"}
	source := &scriptedSource{windows: []*formatter.Window{window}}
	pub := &recordingPublisher{}
	p := newTestPoller(t, source, pub)

	p.Start(context.Background(), time.Hour)
	require.Eventually(t, func() bool { return len(pub.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, p.Running())

	// A second Start is a no-op.
	p.Start(context.Background(), time.Hour)
	p.Stop()
	p.Stop()
	require.False(t, p.Running())

	// With the remembered window cleared, the same window is reported again.
	p.Start(context.Background(), time.Hour)
	require.Eventually(t, func() bool { return len(pub.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	p.Stop()
}

func TestPollerTicks(t *testing.T) {
	source := &scriptedSource{}
	p := newTestPoller(t, source, &recordingPublisher{})

	p.Start(context.Background(), 10*time.Millisecond)
	defer p.Stop()
	require.Eventually(t, func() bool { return source.callCount() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestHasChanged(t *testing.T) {
	prev := &formatter.Window{Title: "t", OwnerName: "Firefox", URL: "https://a/"}

	require.True(t, HasChanged(nil, *prev))
	require.False(t, HasChanged(prev, *prev))
	require.True(t, HasChanged(prev, formatter.Window{Title: "t", OwnerName: "Firefox", URL: "https://b/"}))
	require.True(t, HasChanged(prev, formatter.Window{Title: "u", OwnerName: "Firefox", URL: "https://a/"}))

	app := &formatter.Window{Title: "t", OwnerName: "Editor", URL: "a"}
	require.False(t, HasChanged(app, formatter.Window{Title: "t", OwnerName: "Editor", URL: "b"}))
}

type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}
