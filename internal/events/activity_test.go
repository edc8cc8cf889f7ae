package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestActivityEventWireFormat(t *testing.T) {
	domain := "example.com"
	evt := ActivityEvent{
		EventID:   "11111111-2222-4333-8444-555555555555",
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		UserID:    "user-1",
		EventType: BrowserTabActive,
		Browser: &BrowserTabPayload{
			AppName:  "Google Chrome",
			TabTitle: "Example",
			TabURL:   "https://example.com/a",
			Domain:   &domain,
		},
	}

	raw, err := json.Marshal(evt)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"eventId":"11111111-2222-4333-8444-555555555555",
		"timestamp":"2024-05-01T12:00:00Z",
		"userId":"user-1",
		"eventType":"BROWSER_TAB_ACTIVE",
		"payload":{"appName":"Google Chrome","tabTitle":"Example","tabUrl":"https://example.com/a","domain":"example.com"}
	}`, string(raw))

	var decoded ActivityEvent
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.NoError(t, decoded.Validate())
	require.Nil(t, decoded.App)
	require.Nil(t, decoded.File)
	require.Equal(t, "example.com", *decoded.Browser.Domain)
}

func TestActivityEventOmitsAbsentOptionalFields(t *testing.T) {
	evt := ActivityEvent{
		EventID:   "id",
		Timestamp: time.Now(),
		UserID:    "u",
		EventType: FileChanged,
		File: &FileChangePayload{
			FilePath:   "/tmp/a.txt",
			FileName:   "a.txt",
			Directory:  "/tmp",
			ChangeType: Deleted,
		},
	}

	raw, err := json.Marshal(evt)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "fileSize")
}

func TestActivityEventRejectsUnknownType(t *testing.T) {
	var evt ActivityEvent
	err := json.Unmarshal([]byte(`{"eventId":"x","eventType":"SCREEN_LOCKED","payload":{}}`), &evt)
	require.ErrorIs(t, err, ErrUnknownEventType)

	err = json.Unmarshal([]byte(`{"eventId":"x","eventType":"APP_ACTIVE"}`), &evt)
	require.ErrorIs(t, err, ErrPayloadMismatch)
}

func TestValidateRequiresMatchingPayload(t *testing.T) {
	evt := ActivityEvent{
		EventID:   "id",
		Timestamp: time.Now(),
		UserID:    "u",
		EventType: AppActive,
		Browser:   &BrowserTabPayload{AppName: "Firefox"},
	}
	require.ErrorIs(t, evt.Validate(), ErrPayloadMismatch)

	evt.App = &AppPayload{AppName: "Terminal"}
	require.ErrorIs(t, evt.Validate(), ErrPayloadMismatch, "two payloads must be rejected")

	evt.Browser = nil
	require.NoError(t, evt.Validate())
}

func TestFlattenLeavesForeignColumnsNil(t *testing.T) {
	title := "main.go"
	evt := ActivityEvent{
		EventID:   "id",
		Timestamp: time.Now(),
		UserID:    "u",
		EventType: AppActive,
		App:       &AppPayload{AppName: "Code", ProcessID: 42, AppPath: "/usr/bin/code", WindowTitle: &title},
	}

	rec := evt.Flatten()
	require.Equal(t, "Code", *rec.AppName)
	require.EqualValues(t, 42, *rec.ProcessID)
	require.Nil(t, rec.TabURL)
	require.Nil(t, rec.FilePath)
	require.Nil(t, rec.FileSize)

	back, err := rec.Event()
	require.NoError(t, err)
	require.Equal(t, evt, back)
}
