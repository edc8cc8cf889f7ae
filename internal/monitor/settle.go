package monitor

import (
	"os"
	"sort"
	"time"

	"example.com/deskactivity/internal/events"
)

type pendingWrite struct {
	kind       events.ChangeType
	lastChange time.Time
	size       int64
	modTime    time.Time
}

type settledChange struct {
	path string
	kind events.ChangeType
}

// settler coalesces bursts of write notifications per path and releases a
// single change once the file has been quiet for the stability threshold.
type settler struct {
	threshold time.Duration
	stat      func(string) (os.FileInfo, error)
	pending   map[string]*pendingWrite
}

func newSettler(threshold time.Duration) *settler {
	return &settler{
		threshold: threshold,
		stat:      os.Stat,
		pending:   make(map[string]*pendingWrite),
	}
}

// touch records activity on path. A path first seen as created stays created
// until it settles.
func (s *settler) touch(path string, kind events.ChangeType, now time.Time) {
	if p, ok := s.pending[path]; ok {
		p.lastChange = now
		return
	}
	p := &pendingWrite{kind: kind, lastChange: now}
	if info, err := s.stat(path); err == nil {
		p.size = info.Size()
		p.modTime = info.ModTime()
	}
	s.pending[path] = p
}

// forget drops any pending change for path and returns its kind.
func (s *settler) forget(path string) (events.ChangeType, bool) {
	p, ok := s.pending[path]
	if !ok {
		return "", false
	}
	delete(s.pending, path)
	return p.kind, true
}

// due returns the changes that have been stable for the threshold, in path order.
func (s *settler) due(now time.Time) []settledChange {
	var ready []settledChange
	for path, p := range s.pending {
		info, err := s.stat(path)
		if err != nil {
			// Gone before settling; the removal notification reports it.
			delete(s.pending, path)
			continue
		}
		if info.Size() != p.size || !info.ModTime().Equal(p.modTime) {
			p.size = info.Size()
			p.modTime = info.ModTime()
			p.lastChange = now
			continue
		}
		if now.Sub(p.lastChange) >= s.threshold {
			ready = append(ready, settledChange{path: path, kind: p.kind})
			delete(s.pending, path)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].path < ready[j].path })
	return ready
}

func (s *settler) len() int {
	return len(s.pending)
}
