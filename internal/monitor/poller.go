// Package monitor observes the desktop: the focused window and changes under watched directories.
package monitor

import (
	"context"
	"log"
	"sync"
	"time"

	"example.com/deskactivity/internal/events"
	"example.com/deskactivity/internal/formatter"
)

// WindowSource reports the currently focused window. A nil window with a nil
// error means nothing is focused.
type WindowSource interface {
	ActiveWindow(ctx context.Context) (*formatter.Window, error)
}

// Publisher receives formatted events.
type Publisher interface {
	Publish(events.ActivityEvent)
}

// Option configures optional behaviour for the monitors.
type Option func(*options)

type options struct {
	logger *log.Logger
}

// WithLogger overrides the logger used by a monitor.
func WithLogger(logger *log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func buildOptions(prefix string, opts []Option) options {
	o := options{logger: log.New(log.Writer(), prefix, log.LstdFlags|log.Lshortfile)}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// AppPoller samples the focused window on a fixed interval and publishes an
// event whenever the observation changes.
type AppPoller struct {
	source    WindowSource
	formatter *formatter.Formatter
	publisher Publisher
	logger    *log.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	last   *formatter.Window
}

// NewAppPoller constructs an idle poller.
func NewAppPoller(source WindowSource, f *formatter.Formatter, publisher Publisher, opts ...Option) *AppPoller {
	o := buildOptions("[poller] ", opts)
	return &AppPoller{
		source:    source,
		formatter: f,
		publisher: publisher,
		logger:    o.logger,
	}
}

// Start samples once immediately and then every interval until Stop or ctx ends.
// Starting a running poller only logs a warning.
func (p *AppPoller) Start(ctx context.Context, interval time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		p.logger.Printf("poller already running")
		return
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(loopCtx, interval, p.done)
}

// Stop cancels the ticker, waits for an in-flight sample and clears the
// remembered window. It is safe to call on an idle poller.
func (p *AppPoller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	p.mu.Lock()
	p.last = nil
	p.mu.Unlock()
}

// Running reports whether the poller is sampling.
func (p *AppPoller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *AppPoller) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	p.sample(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sample(ctx)
		}
	}
}

func (p *AppPoller) sample(ctx context.Context) {
	window, err := p.source.ActiveWindow(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Printf("active window query failed: %v", err)
			recordQueryFailure()
		}
		return
	}
	if window == nil {
		return
	}

	p.mu.Lock()
	changed := HasChanged(p.last, *window)
	if changed {
		current := *window
		p.last = &current
	}
	p.mu.Unlock()

	if !changed {
		return
	}
	p.publisher.Publish(p.formatter.Window(*window))
	recordWindowChange()
}

// HasChanged reports whether current differs from prev in the fields that
// identify an activity: title and owner, plus the URL for browsers.
func HasChanged(prev *formatter.Window, current formatter.Window) bool {
	if prev == nil {
		return true
	}
	if prev.Title != current.Title || prev.OwnerName != current.OwnerName {
		return true
	}
	if formatter.IsBrowserName(current.OwnerName) {
		return prev.URL != current.URL
	}
	return false
}
