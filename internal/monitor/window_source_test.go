package monitor

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestX11WindowCombinesXdotoolAndProcessInfo(t *testing.T) {
	var gotArgs []string
	s := &CommandSource{
		goos: "linux",
		run: func(_ context.Context, name string, args ...string) ([]byte, error) {
			gotArgs = append([]string{name}, args...)
			return []byte("4242\nmain.go - Visual Studio Code\n"), nil
		},
		process: func(_ context.Context, pid int) (string, string, error) {
			require.Equal(t, 4242, pid)
			return "code", "/usr/share/code/code", nil
		},
	}

	window, err := s.ActiveWindow(context.Background())
	require.NoError(t, err)
	require.Equal(t, "xdotool getactivewindow getwindowpid getwindowname", strings.Join(gotArgs, " "))
	require.Equal(t, "main.go - Visual Studio Code", window.Title)
	require.Equal(t, "code", window.OwnerName)
	require.Equal(t, "/usr/share/code/code", window.OwnerPath)
	require.Equal(t, 4242, window.OwnerPID)
}

func TestX11WindowWithoutFocusIsNotAnError(t *testing.T) {
	s := &CommandSource{
		goos: "linux",
		run: func(context.Context, string, ...string) ([]byte, error) {
			return nil, &exec.ExitError{}
		},
	}
	window, err := s.ActiveWindow(context.Background())
	require.NoError(t, err)
	require.Nil(t, window)
}

func TestMacWindowParsesBrowserURL(t *testing.T) {
	s := &CommandSource{
		goos: "darwin",
		run: func(_ context.Context, name string, _ ...string) ([]byte, error) {
			require.Equal(t, "osascript", name)
			return []byte("Google Chrome\n812\n/Applications/Google Chrome.app/\nInbox\nhttps://mail.example.com/u/0\n"), nil
		},
	}

	window, err := s.ActiveWindow(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Google Chrome", window.OwnerName)
	require.Equal(t, 812, window.OwnerPID)
	require.Equal(t, "/Applications/Google Chrome.app", window.OwnerPath)
	require.Equal(t, "Inbox", window.Title)
	require.Equal(t, "https://mail.example.com/u/0", window.URL)
	require.True(t, window.IsBrowser())
}

func TestParseErrors(t *testing.T) {
	_, err := parseXdotool([]byte("not-a-pid\ntitle"))
	require.Error(t, err)

	_, err = parseXdotool(nil)
	require.Error(t, err)

	_, err = parseOsascript([]byte("Finder"))
	require.Error(t, err)

	window, err := parseOsascript([]byte("Finder\n100\n/System/Finder.app/"))
	require.NoError(t, err)
	require.Empty(t, window.URL)
}

func TestUnsupportedPlatform(t *testing.T) {
	s := &CommandSource{goos: "plan9"}
	_, err := s.ActiveWindow(context.Background())
	require.True(t, errors.Is(err, ErrUnsupportedPlatform))
}
