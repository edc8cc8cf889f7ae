// Package supervisor keeps the capture worker process alive and relays
// commands and reports between it and the controlling program.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"example.com/deskactivity/internal/config"
	"example.com/deskactivity/internal/ipc"
)

// State is the supervisor lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

var (
	// ErrAlreadyRunning is returned by Start unless the supervisor is stopped.
	ErrAlreadyRunning = errors.New("worker already running")
	// ErrNotRunning is returned by UpdateConfig when no worker is running.
	ErrNotRunning = errors.New("worker not running")
	// ErrRestartRequired is returned by UpdateConfig for changes beyond the
	// watch paths and ignore patterns.
	ErrRestartRequired = errors.New("configuration change requires a restart")
)

// Config tunes restart and shutdown behaviour.
type Config struct {
	// MaxRestarts is the number of consecutive crashes tolerated.
	MaxRestarts int
	// RestartBackoff is multiplied by the attempt number before relaunching.
	RestartBackoff time.Duration
	// StopTimeout bounds a graceful stop before the worker is killed.
	StopTimeout time.Duration
}

// Status is a snapshot of the supervised worker.
type Status struct {
	State           State
	PID             int
	StartedAt       time.Time
	EventsProcessed int64
	Restarts        int
	LastError       string
	Config          config.Pipeline
}

// Option configures optional behaviour for the Supervisor.
type Option func(*Supervisor)

// WithLogger overrides the supervisor logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Supervisor) {
		s.logger = logger
	}
}

// WithReportHandler registers fn to observe every worker report.
func WithReportHandler(fn func(ipc.Report)) Option {
	return func(s *Supervisor) {
		s.onReport = fn
	}
}

// WithAfterFunc replaces time.AfterFunc for scheduling restarts.
func WithAfterFunc(fn func(time.Duration, func()) func() bool) Option {
	return func(s *Supervisor) {
		s.afterFunc = fn
	}
}

// Supervisor owns at most one worker process at a time.
type Supervisor struct {
	launcher  Launcher
	cfg       Config
	logger    *log.Logger
	onReport  func(ipc.Report)
	afterFunc func(time.Duration, func()) func() bool

	mu            sync.Mutex
	state         State
	pipeline      config.Pipeline
	proc          Process
	exited        chan struct{}
	generation    uint64
	restarts      int
	processed     int64
	lastError     string
	startedAt     time.Time
	cancelRestart func() bool
}

// New constructs a stopped supervisor.
func New(launcher Launcher, cfg Config, opts ...Option) *Supervisor {
	if cfg.MaxRestarts < 0 {
		cfg.MaxRestarts = 0
	}
	if cfg.RestartBackoff <= 0 {
		cfg.RestartBackoff = time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	s := &Supervisor{
		launcher: launcher,
		cfg:      cfg,
		logger:   log.New(log.Writer(), "[supervisor] ", log.LstdFlags|log.Lshortfile),
		afterFunc: func(d time.Duration, fn func()) func() bool {
			return time.AfterFunc(d, fn).Stop
		},
		state: StateStopped,
	}
	for _, opt := range opts {
		opt(s)
	}
	setState(s.state)
	return s
}

// Start launches a worker and sends it the start command. The worker reports
// started asynchronously; watch Status for the transition to running.
func (s *Supervisor) Start(ctx context.Context, pipeline config.Pipeline) error {
	pipeline = pipeline.WithDefaults()
	if err := pipeline.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStopped {
		return ErrAlreadyRunning
	}
	s.pipeline = pipeline
	s.restarts = 0
	s.lastError = ""
	s.startedAt = time.Now()
	if err := s.launchLocked(ctx); err != nil {
		s.transitionLocked(StateStopped)
		return err
	}
	return nil
}

// Stop asks the worker to stop and waits up to the stop timeout for it to
// exit before killing it. Stopping a stopped supervisor is a no-op.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateStopped:
		s.mu.Unlock()
		return nil
	case StateStopping:
		exited := s.exited
		s.mu.Unlock()
		return waitExit(ctx, exited)
	}

	if s.cancelRestart != nil {
		s.cancelRestart()
		s.cancelRestart = nil
	}
	s.transitionLocked(StateStopping)
	proc, exited := s.proc, s.exited
	s.mu.Unlock()

	if proc == nil {
		// Between a crash and its scheduled relaunch.
		s.mu.Lock()
		s.generation++
		s.transitionLocked(StateStopped)
		s.mu.Unlock()
		return nil
	}

	if err := proc.Send(ipc.Stop()); err != nil {
		s.logger.Printf("send stop: %v", err)
	}

	timer := time.NewTimer(s.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-exited:
		return nil
	case <-timer.C:
		s.logger.Printf("worker %d did not stop within %s, killing", proc.PID(), s.cfg.StopTimeout)
		if err := proc.Kill(); err != nil {
			s.logger.Printf("kill worker: %v", err)
		}
	case <-ctx.Done():
		proc.Kill()
	}
	return waitExit(ctx, exited)
}

// UpdateConfig applies next to the running worker. Only watch paths and
// ignore patterns can change in place.
func (s *Supervisor) UpdateConfig(next config.Pipeline) error {
	next = next.WithDefaults()
	if err := next.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning && s.state != StateStarting {
		return ErrNotRunning
	}
	if !s.pipeline.OnlyWatchChanged(next) {
		return ErrRestartRequired
	}
	if s.pipeline.Equal(next) {
		return nil
	}
	if s.proc == nil {
		s.pipeline = next
		return nil
	}
	if err := s.proc.Send(ipc.UpdateConfig(next)); err != nil {
		return fmt.Errorf("send config: %w", err)
	}
	s.pipeline = next
	return nil
}

// Status returns the current snapshot.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := Status{
		State:           s.state,
		EventsProcessed: s.processed,
		Restarts:        s.restarts,
		LastError:       s.lastError,
		Config:          s.pipeline,
	}
	if s.proc != nil {
		status.PID = s.proc.PID()
	}
	if s.state != StateStopped {
		status.StartedAt = s.startedAt
	}
	return status
}

// Done returns a channel closed when the current worker exits, or nil when
// none is running.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exited
}

func (s *Supervisor) launchLocked(ctx context.Context) error {
	proc, err := s.launcher.Launch(ctx)
	if err != nil {
		return fmt.Errorf("launch worker: %w", err)
	}
	if err := proc.Send(ipc.Start(s.pipeline)); err != nil {
		proc.Kill()
		proc.Wait()
		return fmt.Errorf("send start: %w", err)
	}

	s.generation++
	s.proc = proc
	s.exited = make(chan struct{})
	s.processed = 0
	setProcessed(0)
	s.transitionLocked(StateStarting)
	s.logger.Printf("worker %d launched", proc.PID())

	go s.watch(s.generation, proc, s.exited)
	return nil
}

func (s *Supervisor) watch(gen uint64, proc Process, exited chan struct{}) {
	for {
		report, err := proc.Receive()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Printf("read report: %v", err)
			}
			break
		}
		if err := report.Validate(); err != nil {
			s.logger.Printf("discarding report: %v", err)
			continue
		}
		s.handleReport(gen, report)
	}

	waitErr := proc.Wait()
	s.handleExit(gen, proc, waitErr)
	close(exited)
}

func (s *Supervisor) handleReport(gen uint64, report ipc.Report) {
	s.mu.Lock()
	if gen == s.generation {
		switch report.Kind {
		case ipc.ReportStarted:
			if s.state == StateStarting {
				s.transitionLocked(StateRunning)
			}
			s.restarts = 0
		case ipc.ReportStats:
			s.processed = report.EventsProcessed
			setProcessed(report.EventsProcessed)
		case ipc.ReportError:
			s.lastError = report.Message
			s.logger.Printf("worker error: %s", report.Message)
		case ipc.ReportConfigUpdated:
			s.logger.Printf("worker applied configuration")
		case ipc.ReportStopped:
			s.logger.Printf("worker stopped")
		}
	}
	handler := s.onReport
	s.mu.Unlock()

	if handler != nil {
		handler(report)
	}
}

func (s *Supervisor) handleExit(gen uint64, proc Process, waitErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return
	}
	s.proc = nil

	if s.state == StateStopping {
		s.logger.Printf("worker %d exited", proc.PID())
		s.transitionLocked(StateStopped)
		return
	}
	if waitErr == nil {
		// a clean exit was asked for from outside, e.g. SIGTERM to the worker
		s.logger.Printf("worker %d exited cleanly, not restarting", proc.PID())
		s.transitionLocked(StateStopped)
		return
	}

	s.restarts++
	recordRestart()
	s.lastError = waitErr.Error()
	s.logger.Printf("worker %d exited unexpectedly (%v), crash %d of %d", proc.PID(), waitErr, s.restarts, s.cfg.MaxRestarts)
	if s.restarts > s.cfg.MaxRestarts {
		s.lastError = fmt.Sprintf("worker crashed %d times, giving up", s.restarts)
		s.logger.Print(s.lastError)
		s.transitionLocked(StateStopped)
		return
	}

	delay := s.cfg.RestartBackoff * time.Duration(s.restarts)
	s.transitionLocked(StateStarting)
	s.cancelRestart = s.afterFunc(delay, func() { s.relaunch(gen) })
}

func (s *Supervisor) relaunch(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || s.state != StateStarting || s.proc != nil {
		return
	}
	s.cancelRestart = nil
	if err := s.launchLocked(context.Background()); err != nil {
		s.lastError = err.Error()
		s.logger.Printf("relaunch failed: %v", err)
		s.transitionLocked(StateStopped)
	}
}

func (s *Supervisor) transitionLocked(next State) {
	if s.state == next {
		return
	}
	s.logger.Printf("state %s -> %s", s.state, next)
	s.state = next
	setState(next)
}

func waitExit(ctx context.Context, exited <-chan struct{}) error {
	if exited == nil {
		return nil
	}
	select {
	case <-exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
