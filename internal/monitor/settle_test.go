package monitor

import (
	"io/fs"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/deskactivity/internal/events"
)

type fakeInfo struct {
	size    int64
	modTime time.Time
}

func (f fakeInfo) Name() string       { return "f" }
func (f fakeInfo) Size() int64        { return f.size }
func (f fakeInfo) Mode() fs.FileMode  { return 0o644 }
func (f fakeInfo) ModTime() time.Time { return f.modTime }
func (f fakeInfo) IsDir() bool        { return false }
func (f fakeInfo) Sys() any           { return nil }

func TestSettlerCoalescesBurstIntoOneChange(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	files := map[string]fakeInfo{"/w/a.txt": {size: 1, modTime: base}}

	s := newSettler(300 * time.Millisecond)
	s.stat = func(path string) (os.FileInfo, error) {
		info, ok := files[path]
		if !ok {
			return nil, os.ErrNotExist
		}
		return info, nil
	}

	// Five writes 50ms apart, each growing the file.
	now := base
	for i := 0; i < 5; i++ {
		files["/w/a.txt"] = fakeInfo{size: int64(i + 2), modTime: now}
		s.touch("/w/a.txt", events.Modified, now)
		require.Empty(t, s.due(now))
		now = now.Add(50 * time.Millisecond)
	}

	require.Empty(t, s.due(now.Add(100*time.Millisecond)))

	ready := s.due(now.Add(400 * time.Millisecond))
	require.Equal(t, []settledChange{{path: "/w/a.txt", kind: events.Modified}}, ready)
	require.Zero(t, s.len())
	require.Empty(t, s.due(now.Add(time.Second)))
}

func TestSettlerKeepsCreatedKind(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	s := newSettler(100 * time.Millisecond)
	s.stat = func(string) (os.FileInfo, error) { return fakeInfo{size: 3, modTime: base}, nil }

	s.touch("/w/new.txt", events.Created, base)
	s.touch("/w/new.txt", events.Modified, base.Add(10*time.Millisecond))

	ready := s.due(base.Add(200 * time.Millisecond))
	require.Equal(t, []settledChange{{path: "/w/new.txt", kind: events.Created}}, ready)
}

func TestSettlerDropsVanishedFiles(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	s := newSettler(100 * time.Millisecond)
	exists := true
	s.stat = func(string) (os.FileInfo, error) {
		if !exists {
			return nil, os.ErrNotExist
		}
		return fakeInfo{size: 1, modTime: base}, nil
	}

	s.touch("/w/a", events.Modified, base)
	exists = false
	require.Empty(t, s.due(base.Add(time.Second)))
	require.Zero(t, s.len())

	s.touch("/w/b", events.Created, base)
	kind, ok := s.forget("/w/b")
	require.True(t, ok)
	require.Equal(t, events.Created, kind)
	_, ok = s.forget("/w/b")
	require.False(t, ok)
}
