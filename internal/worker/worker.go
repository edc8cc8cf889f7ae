// Package worker runs the capture pipeline inside the supervised child process.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"example.com/deskactivity/internal/bus"
	"example.com/deskactivity/internal/config"
	"example.com/deskactivity/internal/events"
	"example.com/deskactivity/internal/ipc"
	"example.com/deskactivity/internal/monitor"
)

// Sink buffers events towards a durable destination.
type Sink interface {
	Connect(ctx context.Context) error
	Ingest(events.ActivityEvent)
	Disconnect(ctx context.Context) error
}

// ActivityMonitor samples the focused window.
type ActivityMonitor interface {
	Start(ctx context.Context, interval time.Duration)
	Stop()
}

// FileMonitor watches directories for file changes.
type FileMonitor interface {
	Start(roots, ignorePatterns []string) error
	Update(roots, ignorePatterns []string) error
	Stop()
}

// Components are the parts assembled for one start command.
type Components struct {
	Broker  Sink
	Store   Sink
	Poller  ActivityMonitor
	Watcher FileMonitor
}

// Factory builds the components for cfg, wiring monitors to publisher.
type Factory func(cfg config.Pipeline, publisher monitor.Publisher) (Components, error)

// Conn is the worker's side of the supervisor channel.
type Conn interface {
	Receive() (ipc.Command, error)
	Send(ipc.Report) error
}

// ErrRestartRequired is reported when an update changes settings that only a
// fresh start can apply.
var ErrRestartRequired = errors.New("configuration change requires a restart")

// Option configures optional behaviour for the Worker.
type Option func(*Worker)

// WithLogger overrides the worker logger.
func WithLogger(logger *log.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

// WithStatsInterval overrides the stats heartbeat period.
func WithStatsInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.statsInterval = d
		}
	}
}

// WithShutdownTimeout bounds the final sink flush on stop.
func WithShutdownTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.shutdownTimeout = d
		}
	}
}

// Worker owns the bus, the monitors and the sinks for the lifetime of one
// process. All state is confined to the goroutine executing Run.
type Worker struct {
	factory         Factory
	logger          *log.Logger
	statsInterval   time.Duration
	shutdownTimeout time.Duration

	bus         *bus.Bus
	comps       *Components
	cfg         config.Pipeline
	unsubscribe func()
	stats       *time.Ticker
	processed   atomic.Int64
}

// New constructs an idle worker.
func New(factory Factory, opts ...Option) *Worker {
	w := &Worker{
		factory:         factory,
		logger:          log.New(log.Writer(), "[worker] ", log.LstdFlags|log.Lshortfile),
		statsInterval:   2 * time.Second,
		shutdownTimeout: 4 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// EventsProcessed returns the number of events handed to the sinks.
func (w *Worker) EventsProcessed() int64 {
	return w.processed.Load()
}

type received struct {
	cmd ipc.Command
	err error
}

// Run serves commands until a stop command, the end of the command stream, or
// ctx cancellation. A failed start is reported and returned so the process
// exits with an error.
func (w *Worker) Run(ctx context.Context, conn Conn) error {
	cmds := make(chan received)
	go func() {
		for {
			cmd, err := conn.Receive()
			select {
			case cmds <- received{cmd: cmd, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	defer w.shutdown()

	for {
		var statsC <-chan time.Time
		if w.stats != nil {
			statsC = w.stats.C
		}

		select {
		case <-ctx.Done():
			w.logger.Printf("shutdown requested")
			return nil
		case <-statsC:
			w.send(conn, ipc.Stats(w.processed.Load()))
		case in := <-cmds:
			if in.err != nil {
				if errors.Is(in.err, io.EOF) {
					w.logger.Printf("command stream closed")
					return nil
				}
				return fmt.Errorf("read command: %w", in.err)
			}
			done, err := w.dispatch(ctx, conn, in.cmd)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

func (w *Worker) dispatch(ctx context.Context, conn Conn, cmd ipc.Command) (bool, error) {
	if err := cmd.Validate(); err != nil {
		w.logger.Printf("rejected command: %v", err)
		w.send(conn, ipc.Failure(err))
		return false, nil
	}

	switch cmd.Kind {
	case ipc.CommandStart:
		if w.comps != nil {
			w.logger.Printf("pipeline already running")
			return false, nil
		}
		err := w.start(ctx, *cmd.Config)
		recordCommand(string(cmd.Kind), err)
		if err != nil {
			w.logger.Printf("start failed: %v", err)
			w.send(conn, ipc.Failure(err))
			return true, err
		}
		w.send(conn, ipc.Started())
	case ipc.CommandStop:
		recordCommand(string(cmd.Kind), nil)
		w.shutdown()
		w.send(conn, ipc.Stopped())
		return true, nil
	case ipc.CommandUpdateConfig:
		err := w.update(*cmd.Config)
		recordCommand(string(cmd.Kind), err)
		if err != nil {
			w.logger.Printf("update failed: %v", err)
			w.send(conn, ipc.Failure(err))
			return false, nil
		}
		w.send(conn, ipc.ConfigUpdated())
	}
	return false, nil
}

func (w *Worker) start(ctx context.Context, cfg config.Pipeline) error {
	cfg = cfg.WithDefaults()
	b := bus.New(bus.WithLogger(w.logger))

	comps, err := w.factory(cfg, b)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return comps.Broker.Connect(gctx) })
	g.Go(func() error { return comps.Store.Connect(gctx) })
	if err := g.Wait(); err != nil {
		w.disconnect(comps)
		return err
	}

	w.bus = b
	w.comps = &comps
	w.cfg = cfg
	w.unsubscribe = b.Subscribe(func(evt events.ActivityEvent) {
		comps.Broker.Ingest(evt)
		comps.Store.Ingest(evt)
		processedCounter.Inc()
		w.processed.Add(1)
	})

	comps.Poller.Start(ctx, cfg.PollInterval)
	if err := comps.Watcher.Start(cfg.WatchPaths, cfg.IgnorePatterns); err != nil {
		// Unwatchable roots do not stop the rest of the pipeline.
		w.logger.Printf("file watcher: %v", err)
	}

	w.stats = time.NewTicker(w.statsInterval)
	setRunning(true)
	w.logger.Printf("pipeline started (user=%s, broker=%s, watch=%d paths)", cfg.UserID, cfg.BrokerAddress, len(cfg.WatchPaths))
	return nil
}

func (w *Worker) update(next config.Pipeline) error {
	next = next.WithDefaults()
	if w.comps == nil {
		w.cfg = next
		return nil
	}
	if !w.cfg.OnlyWatchChanged(next) {
		return ErrRestartRequired
	}
	if err := w.comps.Watcher.Update(next.WatchPaths, next.IgnorePatterns); err != nil {
		return fmt.Errorf("update watch paths: %w", err)
	}
	w.cfg = next
	w.logger.Printf("watch configuration updated (%d paths)", len(next.WatchPaths))
	return nil
}

// shutdown stops producers first so the final flush sees every event.
func (w *Worker) shutdown() {
	if w.comps == nil {
		return
	}
	comps := *w.comps
	w.comps = nil

	if w.stats != nil {
		w.stats.Stop()
		w.stats = nil
	}
	comps.Poller.Stop()
	comps.Watcher.Stop()
	if w.unsubscribe != nil {
		w.unsubscribe()
		w.unsubscribe = nil
	}
	w.disconnect(comps)
	w.bus = nil
	setRunning(false)
	w.logger.Printf("pipeline stopped after %d events", w.processed.Load())
}

func (w *Worker) disconnect(comps Components) {
	ctx, cancel := context.WithTimeout(context.Background(), w.shutdownTimeout)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error { return comps.Broker.Disconnect(ctx) })
	g.Go(func() error { return comps.Store.Disconnect(ctx) })
	if err := g.Wait(); err != nil {
		w.logger.Printf("sink shutdown: %v", err)
	}
}

func (w *Worker) send(conn Conn, report ipc.Report) {
	if err := conn.Send(report); err != nil {
		w.logger.Printf("send %s report: %v", report.Kind, err)
	}
}
