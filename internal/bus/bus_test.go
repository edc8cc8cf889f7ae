package bus

import (
	"log"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/deskactivity/internal/events"
)

func TestPublishDeliversInRegistrationOrder(t *testing.T) {
	b := New(WithLogger(log.New(testWriter{t}, "", 0)))

	var order []string
	b.Subscribe(func(events.ActivityEvent) { order = append(order, "first") })
	b.Subscribe(func(events.ActivityEvent) { order = append(order, "second") })
	b.Subscribe(func(events.ActivityEvent) { order = append(order, "third") })

	b.Publish(sampleEvent("e1"))

	require.Equal(t, []string{"first", "second", "third"}, order)
}

func TestPanickingListenerDoesNotStopDelivery(t *testing.T) {
	var logs strings.Builder
	b := New(WithLogger(log.New(&logs, "", 0)))

	var got []string
	b.Subscribe(func(evt events.ActivityEvent) { got = append(got, "before:"+evt.EventID) })
	b.Subscribe(func(events.ActivityEvent) { panic("boom") })
	b.Subscribe(func(evt events.ActivityEvent) { got = append(got, "after:"+evt.EventID) })

	require.NotPanics(t, func() { b.Publish(sampleEvent("e1")) })
	require.Equal(t, []string{"before:e1", "after:e1"}, got)
	require.Contains(t, logs.String(), "boom")
}

func TestUnsubscribeAndLateSubscribers(t *testing.T) {
	b := New(WithLogger(log.New(testWriter{t}, "", 0)))

	var early, late []string
	unsubscribe := b.Subscribe(func(evt events.ActivityEvent) { early = append(early, evt.EventID) })

	b.Publish(sampleEvent("e1"))
	b.Subscribe(func(evt events.ActivityEvent) { late = append(late, evt.EventID) })
	b.Publish(sampleEvent("e2"))

	unsubscribe()
	unsubscribe()
	b.Publish(sampleEvent("e3"))

	require.Equal(t, []string{"e1", "e2"}, early)
	require.Equal(t, []string{"e2", "e3"}, late)
	require.Equal(t, 1, b.Len())
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	b := New(WithLogger(log.New(testWriter{t}, "", 0)))

	var calls int
	var unsubscribe func()
	unsubscribe = b.Subscribe(func(events.ActivityEvent) {
		calls++
		unsubscribe()
	})
	b.Subscribe(func(events.ActivityEvent) { calls++ })

	b.Publish(sampleEvent("e1"))
	b.Publish(sampleEvent("e2"))

	require.Equal(t, 3, calls)
}

func sampleEvent(id string) events.ActivityEvent {
	return events.ActivityEvent{
		EventID:   id,
		Timestamp: time.Now().UTC(),
		UserID:    "user-1",
		EventType: events.AppActive,
		App:       &events.AppPayload{AppName: "Terminal", ProcessID: 7, AppPath: "/usr/bin/terminal"},
	}
}

type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}
