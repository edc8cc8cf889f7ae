// Package sink implements buffered, at-least-once delivery of activity events.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// Committer is the resource a Buffered sink drains into.
type Committer[T any] interface {
	// Open acquires the underlying resource. Errors are returned to Connect.
	Open(ctx context.Context) error
	// Commit durably hands off batch. A non-nil error means none of it may be
	// assumed delivered.
	Commit(ctx context.Context, batch []T) error
	// Close releases the resource.
	Close() error
}

// Config tunes a Buffered sink.
type Config struct {
	// Name labels log lines and metrics.
	Name string
	// FlushInterval is the period of the background flush.
	FlushInterval time.Duration
	// FlushThreshold triggers an eager flush once that many items are pending.
	FlushThreshold int
	// MaxBuffered caps the pending buffer; the oldest items are dropped beyond it.
	// Zero keeps the buffer unbounded.
	MaxBuffered int
	// CommitTimeout bounds a single Commit issued by the background loop.
	CommitTimeout time.Duration
}

// Stats is a snapshot of sink counters.
type Stats struct {
	Buffered      int
	Committed     int64
	FlushAttempts int64
	FlushFailures int64
	Dropped       int64
	Connected     bool
}

// ErrNotConnected is returned by Flush when the sink has no open resource.
var ErrNotConnected = errors.New("sink not connected")

// Option configures optional behaviour for Buffered.
type Option func(*options)

type options struct {
	logger *log.Logger
}

// WithLogger overrides the logger used to report flush failures.
func WithLogger(logger *log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Buffered accumulates items in memory and drains them into a Committer on a
// timer, on reaching a threshold, and on Disconnect. Failed batches are put back
// ahead of newer items so the next flush retries them in order.
type Buffered[T any] struct {
	committer Committer[T]
	cfg       Config
	logger    *log.Logger

	mu        sync.Mutex
	buffer    []T
	connected bool
	stats     Stats

	flushMu  sync.Mutex
	flushReq chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewBuffered constructs a disconnected sink.
func NewBuffered[T any](committer Committer[T], cfg Config, opts ...Option) *Buffered[T] {
	o := options{
		logger: log.New(log.Writer(), fmt.Sprintf("[sink:%s] ", cfg.Name), log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.FlushThreshold <= 0 {
		cfg.FlushThreshold = 100
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = 30 * time.Second
	}
	return &Buffered[T]{
		committer: committer,
		cfg:       cfg,
		logger:    o.logger,
		flushReq:  make(chan struct{}, 1),
	}
}

// Connect opens the committer, starts the periodic flush, and immediately
// flushes anything buffered while disconnected.
func (b *Buffered[T]) Connect(ctx context.Context) error {
	b.mu.Lock()
	if b.connected {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	if err := b.committer.Open(ctx); err != nil {
		recordConnectFailure(b.cfg.Name)
		return fmt.Errorf("open %s: %w", b.cfg.Name, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	b.mu.Lock()
	b.connected = true
	b.stats.Connected = true
	b.cancel = cancel
	b.done = make(chan struct{})
	done := b.done
	b.mu.Unlock()
	setConnected(b.cfg.Name, true)

	go b.loop(loopCtx, done)

	if err := b.Flush(ctx); err != nil {
		b.logger.Printf("initial flush failed: %v", err)
	}
	return nil
}

// Ingest appends item to the pending buffer. It never blocks on I/O.
func (b *Buffered[T]) Ingest(item T) {
	b.mu.Lock()
	b.buffer = append(b.buffer, item)
	if b.cfg.MaxBuffered > 0 && len(b.buffer) > b.cfg.MaxBuffered {
		overflow := len(b.buffer) - b.cfg.MaxBuffered
		b.buffer = append(b.buffer[:0:0], b.buffer[overflow:]...)
		b.stats.Dropped += int64(overflow)
		recordDropped(b.cfg.Name, overflow)
	}
	pending := len(b.buffer)
	eager := b.connected && pending >= b.cfg.FlushThreshold
	b.mu.Unlock()

	setBuffered(b.cfg.Name, pending)
	if eager {
		select {
		case b.flushReq <- struct{}{}:
		default:
		}
	}
}

// Flush commits the current buffer. On failure the batch is restored ahead of
// items ingested in the meantime and the error is returned.
func (b *Buffered[T]) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return ErrNotConnected
	}
	if len(b.buffer) == 0 {
		b.mu.Unlock()
		return nil
	}
	batch := b.buffer
	b.buffer = nil
	b.stats.FlushAttempts++
	b.mu.Unlock()

	start := time.Now()
	err := b.committer.Commit(ctx, batch)
	observeFlush(b.cfg.Name, time.Since(start), err)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.stats.FlushFailures++
		restored := make([]T, 0, len(batch)+len(b.buffer))
		restored = append(restored, batch...)
		restored = append(restored, b.buffer...)
		b.buffer = restored
		setBuffered(b.cfg.Name, len(b.buffer))
		return fmt.Errorf("commit %d items to %s: %w", len(batch), b.cfg.Name, err)
	}
	b.stats.Committed += int64(len(batch))
	recordCommitted(b.cfg.Name, len(batch))
	setBuffered(b.cfg.Name, len(b.buffer))
	return nil
}

// Disconnect stops the periodic flush, performs a final flush and closes the
// committer. Items that could not be committed stay buffered.
func (b *Buffered[T]) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return nil
	}
	cancel, done := b.cancel, b.done
	b.mu.Unlock()

	cancel()
	<-done

	flushErr := b.Flush(ctx)
	if errors.Is(flushErr, ErrNotConnected) {
		flushErr = nil
	}

	b.mu.Lock()
	b.connected = false
	b.stats.Connected = false
	b.cancel = nil
	b.done = nil
	b.mu.Unlock()
	setConnected(b.cfg.Name, false)

	closeErr := b.committer.Close()
	return errors.Join(flushErr, closeErr)
}

// Len reports the number of pending items.
func (b *Buffered[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}

// Stats returns a snapshot of the sink counters.
func (b *Buffered[T]) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.Buffered = len(b.buffer)
	return s
}

func (b *Buffered[T]) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-b.flushReq:
		}
		b.flushOnce(ctx)
	}
}

func (b *Buffered[T]) flushOnce(ctx context.Context) {
	commitCtx, cancel := context.WithTimeout(ctx, b.cfg.CommitTimeout)
	defer cancel()

	if err := b.Flush(commitCtx); err != nil && !errors.Is(err, ErrNotConnected) {
		b.logger.Printf("flush failed, %d items retained: %v", b.Len(), err)
	}
}
