package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"example.com/deskactivity/internal/events"
)

var (
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	onlineStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	offlineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	pausedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Bold(true)

	typeStyles = map[events.EventType]lipgloss.Style{
		events.AppActive:        lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
		events.BrowserTabActive: lipgloss.NewStyle().Foreground(lipgloss.Color("5")),
		events.FileChanged:      lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
	}

	typeLabels = map[events.EventType]string{
		events.AppActive:        "app",
		events.BrowserTabActive: "browser",
		events.FileChanged:      "file",
	}
)

const defaultRows = 20

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.renderFilters())
	b.WriteString("\n\n")

	visible := m.Visible()
	rows := defaultRows
	if m.height > 0 {
		rows = max(1, m.height-5)
	}
	start := min(m.offset, len(visible))
	end := min(start+rows, len(visible))
	if start == end {
		b.WriteString(dimStyle.Render("  waiting for events..."))
		b.WriteString("\n")
	}
	for _, evt := range visible[start:end] {
		b.WriteString(m.renderRow(evt))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render("1/2/3 type  t range  / search  c reset filters  x clear  p pause  j/k scroll  q quit"))
	return b.String()
}

func (m Model) renderHeader() string {
	status := offlineStyle.Render("● disconnected")
	if m.stats.Connected {
		status = onlineStyle.Render("● connected")
	}
	last := "never"
	if !m.stats.LastEventTime.IsZero() {
		last = humanize.RelTime(m.stats.LastEventTime, m.now(), "ago", "from now")
	}
	parts := []string{
		titleStyle.Render("activity stream"),
		status,
		fmt.Sprintf("%.1f ev/s", m.stats.EventsPerSecond),
		"total " + humanize.Comma(m.stats.TotalEvents),
		"last event " + last,
	}
	if m.paused {
		parts = append(parts, pausedStyle.Render(fmt.Sprintf("PAUSED (%d held)", len(m.pending))))
	}
	return strings.Join(parts, "  ")
}

func (m Model) renderFilters() string {
	var types []string
	for _, key := range []string{"1", "2", "3"} {
		t := typeKeys[key]
		label := key + ":" + typeLabels[t]
		if m.types[t] {
			label = activeStyle.Render("[" + label + "]")
		} else {
			label = dimStyle.Render(" " + label + " ")
		}
		types = append(types, label)
	}
	line := "types " + strings.Join(types, " ") + "  range " + timeRanges[m.rangeIdx].label
	if m.searching || m.search != "" {
		line += "  search " + m.search
		if m.searching {
			line += "_"
		}
	}
	return line
}

func (m Model) renderRow(evt events.ActivityEvent) string {
	style, ok := typeStyles[evt.EventType]
	if !ok {
		style = dimStyle
	}
	label := fmt.Sprintf("%-7s", typeLabels[evt.EventType])
	return fmt.Sprintf("%s  %s  %s",
		dimStyle.Render(evt.Timestamp.Local().Format("15:04:05")),
		style.Render(label),
		summary(evt),
	)
}

// summary is the one-line description shown per row and matched by search.
func summary(evt events.ActivityEvent) string {
	switch {
	case evt.App != nil:
		s := evt.App.AppName
		if evt.App.WindowTitle != nil && *evt.App.WindowTitle != "" {
			s += " | " + *evt.App.WindowTitle
		}
		return s
	case evt.Browser != nil:
		s := evt.Browser.AppName
		if evt.Browser.Domain != nil {
			s += " | " + *evt.Browser.Domain
		}
		if evt.Browser.TabTitle != "" {
			s += " | " + evt.Browser.TabTitle
		}
		return s
	case evt.File != nil:
		s := strings.ToLower(string(evt.File.ChangeType)) + " " + evt.File.FilePath
		if evt.File.FileSize != nil && *evt.File.FileSize >= 0 {
			s += " (" + humanize.Bytes(uint64(*evt.File.FileSize)) + ")"
		}
		return s
	}
	return string(evt.EventType)
}
