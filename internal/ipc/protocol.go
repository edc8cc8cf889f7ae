// Package ipc defines the closed message protocol between the supervisor and
// its worker process, framed as a CBOR stream over the worker's stdin/stdout.
package ipc

import (
	"errors"
	"fmt"

	"example.com/deskactivity/internal/config"
)

// CommandKind enumerates supervisor-to-worker messages.
type CommandKind string

const (
	CommandStart        CommandKind = "start"
	CommandStop         CommandKind = "stop"
	CommandUpdateConfig CommandKind = "updateConfig"
)

// ReportKind enumerates worker-to-supervisor messages.
type ReportKind string

const (
	ReportStarted       ReportKind = "started"
	ReportStopped       ReportKind = "stopped"
	ReportError         ReportKind = "error"
	ReportStats         ReportKind = "stats"
	ReportConfigUpdated ReportKind = "configUpdated"
)

// ErrInvalidMessage is returned for messages outside the protocol.
var ErrInvalidMessage = errors.New("invalid ipc message")

// Command is sent by the supervisor. Config is set for start and updateConfig.
type Command struct {
	Kind   CommandKind      `cbor:"kind"`
	Config *config.Pipeline `cbor:"config,omitempty"`
}

// Validate checks the discriminator and the configuration it carries.
func (c Command) Validate() error {
	switch c.Kind {
	case CommandStart, CommandUpdateConfig:
		if c.Config == nil {
			return fmt.Errorf("%w: %s requires a config", ErrInvalidMessage, c.Kind)
		}
		if err := c.Config.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
		}
	case CommandStop:
		if c.Config != nil {
			return fmt.Errorf("%w: stop carries no config", ErrInvalidMessage)
		}
	default:
		return fmt.Errorf("%w: unknown command %q", ErrInvalidMessage, c.Kind)
	}
	return nil
}

// Report is sent by the worker.
type Report struct {
	Kind            ReportKind `cbor:"kind"`
	Message         string     `cbor:"message,omitempty"`
	EventsProcessed int64      `cbor:"eventsProcessed,omitempty"`
}

// Validate checks the discriminator and its required fields.
func (r Report) Validate() error {
	switch r.Kind {
	case ReportStarted, ReportStopped, ReportConfigUpdated:
	case ReportError:
		if r.Message == "" {
			return fmt.Errorf("%w: error report without message", ErrInvalidMessage)
		}
	case ReportStats:
		if r.EventsProcessed < 0 {
			return fmt.Errorf("%w: negative eventsProcessed", ErrInvalidMessage)
		}
	default:
		return fmt.Errorf("%w: unknown report %q", ErrInvalidMessage, r.Kind)
	}
	return nil
}

// Start builds a start command.
func Start(cfg config.Pipeline) Command {
	return Command{Kind: CommandStart, Config: &cfg}
}

// Stop builds a stop command.
func Stop() Command {
	return Command{Kind: CommandStop}
}

// UpdateConfig builds an updateConfig command.
func UpdateConfig(cfg config.Pipeline) Command {
	return Command{Kind: CommandUpdateConfig, Config: &cfg}
}

// Started acknowledges a start command.
func Started() Report { return Report{Kind: ReportStarted} }

// Stopped acknowledges a stop command.
func Stopped() Report { return Report{Kind: ReportStopped} }

// ConfigUpdated acknowledges an updateConfig command.
func ConfigUpdated() Report { return Report{Kind: ReportConfigUpdated} }

// Failure reports err to the supervisor.
func Failure(err error) Report { return Report{Kind: ReportError, Message: err.Error()} }

// Stats is the periodic heartbeat carrying the processed-event count.
func Stats(eventsProcessed int64) Report {
	return Report{Kind: ReportStats, EventsProcessed: eventsProcessed}
}
