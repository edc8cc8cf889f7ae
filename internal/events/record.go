package events

import "time"

// Record is the flat, column-oriented projection of an ActivityEvent.
// Columns that do not belong to the event's variant are nil.
type Record struct {
	EventID   string
	Timestamp time.Time
	UserID    string
	EventType EventType

	AppName     *string
	ProcessID   *int64
	AppPath     *string
	WindowTitle *string

	TabTitle *string
	TabURL   *string
	Domain   *string

	FilePath      *string
	FileName      *string
	FileExtension *string
	Directory     *string
	ChangeType    *string
	FileSize      *int64
}

// Flatten projects the event onto the store columns.
func (e ActivityEvent) Flatten() Record {
	rec := Record{
		EventID:   e.EventID,
		Timestamp: e.Timestamp,
		UserID:    e.UserID,
		EventType: e.EventType,
	}

	switch {
	case e.App != nil:
		pid := int64(e.App.ProcessID)
		rec.AppName = strPtr(e.App.AppName)
		rec.ProcessID = &pid
		rec.AppPath = strPtr(e.App.AppPath)
		rec.WindowTitle = e.App.WindowTitle
	case e.Browser != nil:
		rec.AppName = strPtr(e.Browser.AppName)
		rec.TabTitle = strPtr(e.Browser.TabTitle)
		rec.TabURL = strPtr(e.Browser.TabURL)
		rec.Domain = e.Browser.Domain
	case e.File != nil:
		change := string(e.File.ChangeType)
		rec.FilePath = strPtr(e.File.FilePath)
		rec.FileName = strPtr(e.File.FileName)
		rec.FileExtension = strPtr(e.File.FileExtension)
		rec.Directory = strPtr(e.File.Directory)
		rec.ChangeType = &change
		rec.FileSize = e.File.FileSize
	}
	return rec
}

// Event rebuilds the tagged event from a stored record.
func (r Record) Event() (ActivityEvent, error) {
	evt := ActivityEvent{
		EventID:   r.EventID,
		Timestamp: r.Timestamp,
		UserID:    r.UserID,
		EventType: r.EventType,
	}

	switch r.EventType {
	case AppActive:
		evt.App = &AppPayload{
			AppName:     deref(r.AppName),
			AppPath:     deref(r.AppPath),
			WindowTitle: r.WindowTitle,
		}
		if r.ProcessID != nil {
			evt.App.ProcessID = int(*r.ProcessID)
		}
	case BrowserTabActive:
		evt.Browser = &BrowserTabPayload{
			AppName:  deref(r.AppName),
			TabTitle: deref(r.TabTitle),
			TabURL:   deref(r.TabURL),
			Domain:   r.Domain,
		}
	case FileChanged:
		evt.File = &FileChangePayload{
			FilePath:      deref(r.FilePath),
			FileName:      deref(r.FileName),
			FileExtension: deref(r.FileExtension),
			Directory:     deref(r.Directory),
			ChangeType:    ChangeType(deref(r.ChangeType)),
			FileSize:      r.FileSize,
		}
	default:
		return ActivityEvent{}, ErrUnknownEventType
	}
	return evt, nil
}

func strPtr(s string) *string {
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
