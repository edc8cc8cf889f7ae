// Package events defines the canonical activity event emitted by the tracker.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType discriminates the payload carried by an ActivityEvent.
type EventType string

const (
	AppActive        EventType = "APP_ACTIVE"
	BrowserTabActive EventType = "BROWSER_TAB_ACTIVE"
	FileChanged      EventType = "FILE_CHANGED"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case AppActive, BrowserTabActive, FileChanged:
		return true
	}
	return false
}

// ChangeType describes a filesystem modification.
type ChangeType string

const (
	Created  ChangeType = "CREATED"
	Modified ChangeType = "MODIFIED"
	Deleted  ChangeType = "DELETED"
)

// AppPayload describes a focused desktop application.
type AppPayload struct {
	AppName     string  `json:"appName"`
	ProcessID   int     `json:"processId"`
	AppPath     string  `json:"appPath"`
	WindowTitle *string `json:"windowTitle,omitempty"`
}

// BrowserTabPayload describes the active tab of a focused browser.
type BrowserTabPayload struct {
	AppName  string  `json:"appName"`
	TabTitle string  `json:"tabTitle"`
	TabURL   string  `json:"tabUrl"`
	Domain   *string `json:"domain,omitempty"`
}

// FileChangePayload describes a single settled filesystem change.
type FileChangePayload struct {
	FilePath      string     `json:"filePath"`
	FileName      string     `json:"fileName"`
	FileExtension string     `json:"fileExtension"`
	Directory     string     `json:"directory"`
	ChangeType    ChangeType `json:"changeType"`
	FileSize      *int64     `json:"fileSize,omitempty"`
}

// ActivityEvent is the unit flowing through the bus and every sink.
// Exactly one of App, Browser or File is set, matching EventType.
type ActivityEvent struct {
	EventID   string
	Timestamp time.Time
	UserID    string
	EventType EventType

	App     *AppPayload
	Browser *BrowserTabPayload
	File    *FileChangePayload
}

var (
	// ErrUnknownEventType is returned for event types outside the closed set.
	ErrUnknownEventType = errors.New("unknown event type")
	// ErrPayloadMismatch is returned when the payload does not match the event type.
	ErrPayloadMismatch = errors.New("payload does not match event type")
)

// Validate checks the envelope fields and the payload discriminator.
func (e ActivityEvent) Validate() error {
	if e.EventID == "" {
		return errors.New("eventId is required")
	}
	if e.UserID == "" {
		return errors.New("userId is required")
	}
	if e.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}

	set := 0
	for _, present := range []bool{e.App != nil, e.Browser != nil, e.File != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: %d payloads set", ErrPayloadMismatch, set)
	}

	switch e.EventType {
	case AppActive:
		if e.App == nil {
			return fmt.Errorf("%w: %s", ErrPayloadMismatch, e.EventType)
		}
	case BrowserTabActive:
		if e.Browser == nil {
			return fmt.Errorf("%w: %s", ErrPayloadMismatch, e.EventType)
		}
	case FileChanged:
		if e.File == nil {
			return fmt.Errorf("%w: %s", ErrPayloadMismatch, e.EventType)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEventType, e.EventType)
	}
	return nil
}

type envelope struct {
	EventID   string          `json:"eventId"`
	Timestamp time.Time       `json:"timestamp"`
	UserID    string          `json:"userId"`
	EventType EventType       `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
}

// MarshalJSON renders the broker wire format with the payload nested under "payload".
func (e ActivityEvent) MarshalJSON() ([]byte, error) {
	var (
		payload any
		err     error
	)
	switch e.EventType {
	case AppActive:
		payload = e.App
	case BrowserTabActive:
		payload = e.Browser
	case FileChanged:
		payload = e.File
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, e.EventType)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{
		EventID:   e.EventID,
		Timestamp: e.Timestamp.UTC(),
		UserID:    e.UserID,
		EventType: e.EventType,
		Payload:   raw,
	})
}

// UnmarshalJSON decodes the wire format and rejects unknown or mismatched payloads.
func (e *ActivityEvent) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return fmt.Errorf("%w: missing payload", ErrPayloadMismatch)
	}

	out := ActivityEvent{
		EventID:   env.EventID,
		Timestamp: env.Timestamp,
		UserID:    env.UserID,
		EventType: env.EventType,
	}

	switch env.EventType {
	case AppActive:
		out.App = &AppPayload{}
		if err := json.Unmarshal(env.Payload, out.App); err != nil {
			return fmt.Errorf("decode app payload: %w", err)
		}
	case BrowserTabActive:
		out.Browser = &BrowserTabPayload{}
		if err := json.Unmarshal(env.Payload, out.Browser); err != nil {
			return fmt.Errorf("decode browser payload: %w", err)
		}
	case FileChanged:
		out.File = &FileChangePayload{}
		if err := json.Unmarshal(env.Payload, out.File); err != nil {
			return fmt.Errorf("decode file payload: %w", err)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEventType, env.EventType)
	}

	*e = out
	return nil
}

// AppName returns the application associated with the event, if any.
func (e ActivityEvent) AppName() string {
	switch {
	case e.App != nil:
		return e.App.AppName
	case e.Browser != nil:
		return e.Browser.AppName
	}
	return ""
}
