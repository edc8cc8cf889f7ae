package monitor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"example.com/deskactivity/internal/formatter"
)

// ErrUnsupportedPlatform is returned when no active-window query exists for the OS.
var ErrUnsupportedPlatform = errors.New("active window detection is not supported on this platform")

const queryTimeout = 1500 * time.Millisecond

// runFunc executes an external command and returns its stdout.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// processInfo resolves a pid to its executable name and path.
type processInfo func(ctx context.Context, pid int) (name, exe string, err error)

// CommandSource queries the focused window with platform tools: xdotool on
// Linux/X11 and osascript on macOS.
type CommandSource struct {
	goos    string
	run     runFunc
	process processInfo
}

// NewCommandSource returns a source for the running platform.
func NewCommandSource() *CommandSource {
	return &CommandSource{
		goos:    runtime.GOOS,
		run:     runCommand,
		process: lookupProcess,
	}
}

// ActiveWindow implements WindowSource.
func (s *CommandSource) ActiveWindow(ctx context.Context) (*formatter.Window, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	switch s.goos {
	case "linux", "freebsd", "openbsd":
		return s.x11Window(ctx)
	case "darwin":
		return s.macWindow(ctx)
	}
	return nil, ErrUnsupportedPlatform
}

func (s *CommandSource) x11Window(ctx context.Context) (*formatter.Window, error) {
	out, err := s.run(ctx, "xdotool", "getactivewindow", "getwindowpid", "getwindowname")
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// xdotool exits non-zero when no window has focus.
			return nil, nil
		}
		return nil, fmt.Errorf("xdotool: %w", err)
	}

	window, err := parseXdotool(out)
	if err != nil {
		return nil, err
	}

	name, exe, err := s.process(ctx, window.OwnerPID)
	if err != nil {
		return nil, fmt.Errorf("lookup pid %d: %w", window.OwnerPID, err)
	}
	window.OwnerName = name
	window.OwnerPath = exe
	return window, nil
}

// parseXdotool reads "pid\ntitle\n" as printed by chained xdotool commands.
func parseXdotool(out []byte) (*formatter.Window, error) {
	lines := strings.SplitN(strings.TrimRight(string(out), "\n"), "\n", 2)
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return nil, errors.New("xdotool: empty output")
	}
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return nil, fmt.Errorf("xdotool: invalid pid %q", lines[0])
	}
	window := &formatter.Window{OwnerPID: pid}
	if len(lines) == 2 {
		window.Title = lines[1]
	}
	return window, nil
}

const macScript = `
tell application "System Events"
	set frontProc to first application process whose frontmost is true
	set appName to name of frontProc
	set appPid to unix id of frontProc
	set appPath to POSIX path of (file of frontProc as alias)
	set winTitle to ""
	try
		set winTitle to name of front window of frontProc
	end try
end tell
set tabURL to ""
try
	if appName is "Safari" then
		tell application "Safari" to set tabURL to URL of front document
	else if appName contains "Chrome" or appName contains "Brave" or appName contains "Edge" then
		tell application appName to set tabURL to URL of active tab of front window
	end if
end try
return appName & linefeed & appPid & linefeed & appPath & linefeed & winTitle & linefeed & tabURL
`

func (s *CommandSource) macWindow(ctx context.Context) (*formatter.Window, error) {
	out, err := s.run(ctx, "osascript", "-e", macScript)
	if err != nil {
		return nil, fmt.Errorf("osascript: %w", err)
	}
	return parseOsascript(out)
}

// parseOsascript reads the five newline-separated fields printed by macScript.
func parseOsascript(out []byte) (*formatter.Window, error) {
	fields := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	if len(fields) < 3 {
		return nil, fmt.Errorf("osascript: unexpected output %q", out)
	}
	for len(fields) < 5 {
		fields = append(fields, "")
	}
	pid, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return nil, fmt.Errorf("osascript: invalid pid %q", fields[1])
	}
	return &formatter.Window{
		OwnerName: fields[0],
		OwnerPID:  pid,
		OwnerPath: strings.TrimSuffix(fields[2], "/"),
		Title:     fields[3],
		URL:       strings.TrimSpace(fields[4]),
	}, nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil && stderr.Len() > 0 {
		return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out, err
}

func lookupProcess(ctx context.Context, pid int) (string, string, error) {
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return "", "", err
	}
	name, err := proc.NameWithContext(ctx)
	if err != nil {
		return "", "", err
	}
	exe, err := proc.ExeWithContext(ctx)
	if err != nil {
		// Some processes hide their executable; the name is still useful.
		exe = ""
	}
	return name, exe, nil
}
