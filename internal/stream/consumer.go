// Package stream reads activity events back from Kafka for live views.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/deskactivity/internal/events"
)

// MaxEventsPerSecond caps the displayed event rate.
const MaxEventsPerSecond = 100

// Reader exposes the minimal kafka.Reader interface needed by the consumer.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Dialer opens a Reader, failing when the broker cannot be reached.
type Dialer func(ctx context.Context) (Reader, error)

// Stats summarises the stream for display.
type Stats struct {
	EventsPerSecond float64
	TotalEvents     int64
	LastEventTime   time.Time
	Connected       bool
}

// Option configures optional behaviour for the Consumer.
type Option func(*Consumer)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *log.Logger) Option {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// WithWindowSize overrides the number of recent events retained.
func WithWindowSize(size int) Option {
	return func(c *Consumer) {
		c.window = NewWindow(size)
	}
}

// WithStatsInterval overrides the stats tick period.
func WithStatsInterval(d time.Duration) Option {
	return func(c *Consumer) {
		if d > 0 {
			c.statsInterval = d
		}
	}
}

// WithReconnectInterval overrides the delay between connection attempts.
func WithReconnectInterval(d time.Duration) Option {
	return func(c *Consumer) {
		if d > 0 {
			c.reconnectInterval = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Consumer) {
		c.now = now
	}
}

// Consumer maintains a window of recent events and rolling statistics, and
// fans both out to subscribers.
type Consumer struct {
	dial              Dialer
	window            *Window
	logger            *log.Logger
	statsInterval     time.Duration
	reconnectInterval time.Duration
	now               func() time.Time

	mu             sync.Mutex
	nextID         uint64
	eventListeners map[uint64]func(events.ActivityEvent)
	statsListeners map[uint64]func(Stats)
	total          int64
	lastEvent      time.Time
	connected      bool
}

// New constructs a Consumer that opens readers through dial.
func New(dial Dialer, opts ...Option) *Consumer {
	c := &Consumer{
		dial:              dial,
		window:            NewWindow(DefaultWindowSize),
		logger:            log.New(log.Writer(), "[stream] ", log.LstdFlags|log.Lshortfile),
		statsInterval:     time.Second,
		reconnectInterval: 5 * time.Second,
		now:               time.Now,
		eventListeners:    make(map[uint64]func(events.ActivityEvent)),
		statsListeners:    make(map[uint64]func(Stats)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe registers fn for every decoded event and returns its unsubscribe.
func (c *Consumer) Subscribe(fn func(events.ActivityEvent)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.eventListeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.eventListeners, id)
	}
}

// SubscribeStats registers fn for every stats tick and returns its unsubscribe.
func (c *Consumer) SubscribeStats(fn func(Stats)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.statsListeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.statsListeners, id)
	}
}

// Recent returns the windowed events, oldest first.
func (c *Consumer) Recent() []events.ActivityEvent {
	return c.window.Snapshot()
}

// Clear drops the retained events. Totals and rates are kept.
func (c *Consumer) Clear() {
	c.window.Reset()
}

// Stats computes the current statistics.
func (c *Consumer) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statsLocked(c.now())
}

func (c *Consumer) statsLocked(now time.Time) Stats {
	stats := Stats{
		TotalEvents:   c.total,
		LastEventTime: c.lastEvent,
		Connected:     c.connected,
	}
	if !c.lastEvent.IsZero() {
		elapsed := now.Sub(c.lastEvent).Seconds()
		if elapsed <= 1.0/MaxEventsPerSecond {
			stats.EventsPerSecond = MaxEventsPerSecond
		} else {
			stats.EventsPerSecond = 1 / elapsed
		}
	}
	return stats
}

// Run consumes until ctx is cancelled, reconnecting after every failure.
func (c *Consumer) Run(ctx context.Context) error {
	statsDone := make(chan struct{})
	go c.statsLoop(ctx, statsDone)
	defer func() { <-statsDone }()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		reader, err := c.dial(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			c.logger.Printf("connect failed, retrying in %s: %v", c.reconnectInterval, err)
			recordReconnect()
			if !c.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}

		c.setConnected(true)
		err = c.consume(ctx, reader)
		if closeErr := reader.Close(); closeErr != nil {
			c.logger.Printf("close reader: %v", closeErr)
		}
		c.setConnected(false)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Printf("stream interrupted, reconnecting in %s: %v", c.reconnectInterval, err)
		recordReconnect()
		if !c.sleep(ctx) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consume(ctx context.Context, reader Reader) error {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			return err
		}

		var evt events.ActivityEvent
		err = json.Unmarshal(msg.Value, &evt)
		if err == nil {
			err = evt.Validate()
		}
		if err != nil {
			c.logger.Printf("decode error (partition=%d, offset=%d): %v", msg.Partition, msg.Offset, err)
			recordDecodeError()
			// Malformed messages are committed so they are not redelivered.
			if commitErr := reader.CommitMessages(ctx, msg); commitErr != nil {
				c.logger.Printf("commit error after decode failure: %v", commitErr)
			}
			continue
		}

		c.handle(evt)
		if err := reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Printf("commit error: %v", err)
		}
	}
}

func (c *Consumer) handle(evt events.ActivityEvent) {
	c.window.Add(evt)

	c.mu.Lock()
	c.total++
	c.lastEvent = c.now()
	listeners := make([]func(events.ActivityEvent), 0, len(c.eventListeners))
	for _, fn := range c.eventListeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	recordConsumed(evt)
	for _, fn := range listeners {
		c.deliver(func() { fn(evt) })
	}
}

func (c *Consumer) statsLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.publishStats()
		}
	}
}

func (c *Consumer) publishStats() {
	c.mu.Lock()
	stats := c.statsLocked(c.now())
	listeners := make([]func(Stats), 0, len(c.statsListeners))
	for _, fn := range c.statsListeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		c.deliver(func() { fn(stats) })
	}
}

func (c *Consumer) deliver(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Printf("subscriber panicked: %v", r)
			recordSubscriberPanic()
		}
	}()
	fn()
}

func (c *Consumer) setConnected(connected bool) {
	c.mu.Lock()
	c.connected = connected
	c.mu.Unlock()
	setConnected(connected)
}

func (c *Consumer) sleep(ctx context.Context) bool {
	timer := time.NewTimer(c.reconnectInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
