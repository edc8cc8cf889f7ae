// Package formatter turns raw desktop observations into ActivityEvents.
package formatter

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/deskactivity/internal/events"
)

// BrowserNames lists the owner-name fragments identifying a browser.
var BrowserNames = []string{"Chrome", "Firefox", "Safari", "Edge", "Brave"}

// Window is a single active-window observation.
type Window struct {
	Title     string
	OwnerName string
	OwnerPID  int
	OwnerPath string
	URL       string
}

// IsBrowser reports whether the window belongs to a known browser and carries a URL.
func (w Window) IsBrowser() bool {
	return w.URL != "" && IsBrowserName(w.OwnerName)
}

// IsBrowserName reports whether owner contains one of BrowserNames.
func IsBrowserName(owner string) bool {
	for _, name := range BrowserNames {
		if strings.Contains(owner, name) {
			return true
		}
	}
	return false
}

// Option configures a Formatter.
type Option func(*Formatter)

// WithClock overrides the time source used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(f *Formatter) {
		f.now = now
	}
}

// WithIDGenerator overrides the event id generator.
func WithIDGenerator(newID func() string) Option {
	return func(f *Formatter) {
		f.newID = newID
	}
}

// Formatter stamps observations with the configured user id, a fresh id and the current time.
type Formatter struct {
	userID string
	now    func() time.Time
	newID  func() string
	stat   func(string) (os.FileInfo, error)
}

// New constructs a Formatter for userID.
func New(userID string, opts ...Option) *Formatter {
	f := &Formatter{
		userID: userID,
		now:    time.Now,
		newID:  uuid.NewString,
		stat:   os.Stat,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Window formats an active-window observation as APP_ACTIVE or BROWSER_TAB_ACTIVE.
func (f *Formatter) Window(w Window) events.ActivityEvent {
	evt := f.envelope()

	if w.IsBrowser() {
		evt.EventType = events.BrowserTabActive
		payload := &events.BrowserTabPayload{
			AppName:  w.OwnerName,
			TabTitle: w.Title,
			TabURL:   w.URL,
		}
		if domain, ok := ExtractDomain(w.URL); ok {
			payload.Domain = &domain
		}
		evt.Browser = payload
		return evt
	}

	evt.EventType = events.AppActive
	payload := &events.AppPayload{
		AppName:   w.OwnerName,
		ProcessID: w.OwnerPID,
		AppPath:   w.OwnerPath,
	}
	if w.Title != "" {
		title := w.Title
		payload.WindowTitle = &title
	}
	evt.App = payload
	return evt
}

// FileChange formats a settled filesystem change.
func (f *Formatter) FileChange(change events.ChangeType, path string) events.ActivityEvent {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}

	evt := f.envelope()
	evt.EventType = events.FileChanged
	payload := &events.FileChangePayload{
		FilePath:      abs,
		FileName:      filepath.Base(abs),
		FileExtension: filepath.Ext(abs),
		Directory:     filepath.Dir(abs),
		ChangeType:    change,
	}
	if change != events.Deleted {
		if info, statErr := f.stat(abs); statErr == nil && info.Mode().IsRegular() {
			size := info.Size()
			payload.FileSize = &size
		}
	}
	evt.File = payload
	return evt
}

func (f *Formatter) envelope() events.ActivityEvent {
	return events.ActivityEvent{
		EventID:   f.newID(),
		Timestamp: f.now().UTC(),
		UserID:    f.userID,
	}
}

// ExtractDomain returns the hostname of raw, or false when raw is not an absolute URL.
func ExtractDomain(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" {
		return "", false
	}
	host := u.Hostname()
	if host == "" {
		return "", false
	}
	return host, true
}
