package monitor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"example.com/deskactivity/internal/events"
	"example.com/deskactivity/internal/formatter"
)

// WatchConfig tunes the filesystem watcher.
type WatchConfig struct {
	// MaxDepth bounds how many directory levels below a root are watched.
	MaxDepth int
	// StabilityThreshold is how long a file must stay unchanged before it is reported.
	StabilityThreshold time.Duration
	// StabilityPoll is how often pending files are re-examined.
	StabilityPoll time.Duration
}

// DefaultWatchConfig matches the tracker defaults.
func DefaultWatchConfig() WatchConfig {
	return WatchConfig{
		MaxDepth:           5,
		StabilityThreshold: 300 * time.Millisecond,
		StabilityPoll:      100 * time.Millisecond,
	}
}

// ErrWatcherStopped is returned when paths are added to a stopped watcher.
var ErrWatcherStopped = errors.New("filesystem watcher is not running")

// FSWatcher reports settled file creations, modifications and deletions under
// a set of root directories.
type FSWatcher struct {
	formatter *formatter.Formatter
	publisher Publisher
	logger    *log.Logger
	cfg       WatchConfig

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	roots   []string
	dirs    map[string]string
	ignore  *IgnoreMatcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewFSWatcher constructs a stopped watcher.
func NewFSWatcher(f *formatter.Formatter, publisher Publisher, cfg WatchConfig, opts ...Option) *FSWatcher {
	o := buildOptions("[fswatcher] ", opts)
	def := DefaultWatchConfig()
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.StabilityThreshold <= 0 {
		cfg.StabilityThreshold = def.StabilityThreshold
	}
	if cfg.StabilityPoll <= 0 {
		cfg.StabilityPoll = def.StabilityPoll
	}
	return &FSWatcher{
		formatter: f,
		publisher: publisher,
		logger:    o.logger,
		cfg:       cfg,
	}
}

// Start begins watching roots with the given ignore patterns. Roots that
// cannot be watched are reported in the returned error; the others stay active.
func (w *FSWatcher) Start(roots, ignorePatterns []string) error {
	w.mu.Lock()
	if w.watcher != nil {
		w.mu.Unlock()
		w.logger.Printf("watcher already running")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("create watcher: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.watcher = watcher
	w.ignore = NewIgnoreMatcher(ignorePatterns)
	w.dirs = make(map[string]string)
	w.roots = nil
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(ctx, watcher, w.done)
	w.mu.Unlock()

	if len(roots) == 0 {
		w.logger.Printf("no watch paths configured")
		return nil
	}
	return w.AddPaths(roots)
}

// Stop closes the watcher. Changes still settling are discarded.
func (w *FSWatcher) Stop() {
	w.mu.Lock()
	watcher, cancel, done := w.watcher, w.cancel, w.done
	w.watcher, w.cancel, w.done = nil, nil, nil
	w.roots = nil
	w.dirs = nil
	w.mu.Unlock()

	if watcher == nil {
		return
	}
	cancel()
	<-done
	if err := watcher.Close(); err != nil {
		w.logger.Printf("close watcher: %v", err)
	}
}

// Running reports whether the watcher is active.
func (w *FSWatcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watcher != nil
}

// Roots returns the currently watched root directories.
func (w *FSWatcher) Roots() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.roots)
}

// Update applies a new set of roots and ignore patterns. A change of ignore
// patterns restarts the watcher; otherwise roots are added and removed in place.
func (w *FSWatcher) Update(roots, ignorePatterns []string) error {
	w.mu.Lock()
	running := w.watcher != nil
	var current []string
	if w.ignore != nil {
		current = w.ignore.Patterns()
	}
	existing := slices.Clone(w.roots)
	w.mu.Unlock()

	if !running {
		return w.Start(roots, ignorePatterns)
	}
	if !slices.Equal(current, NewIgnoreMatcher(ignorePatterns).Patterns()) {
		w.logger.Printf("ignore patterns changed, restarting watcher")
		w.Stop()
		return w.Start(roots, ignorePatterns)
	}

	var removed []string
	for _, root := range existing {
		if !slices.Contains(cleanRoots(roots), root) {
			removed = append(removed, root)
		}
	}
	w.RemovePaths(removed)
	return w.AddPaths(roots)
}

// AddPaths starts watching additional roots. Already watched roots are skipped.
func (w *FSWatcher) AddPaths(roots []string) error {
	var errs []error
	for _, root := range cleanRoots(roots) {
		w.mu.Lock()
		if w.watcher == nil {
			w.mu.Unlock()
			return ErrWatcherStopped
		}
		if slices.Contains(w.roots, root) {
			w.mu.Unlock()
			continue
		}
		w.mu.Unlock()

		info, err := os.Stat(root)
		if err != nil {
			errs = append(errs, fmt.Errorf("watch %s: %w", root, err))
			continue
		}
		if !info.IsDir() {
			errs = append(errs, fmt.Errorf("watch %s: not a directory", root))
			continue
		}

		w.mu.Lock()
		w.roots = append(w.roots, root)
		w.mu.Unlock()

		w.addTree(root, root)
		w.logger.Printf("watching %s", root)
	}
	return errors.Join(errs...)
}

// RemovePaths stops watching the given roots and everything below them.
func (w *FSWatcher) RemovePaths(roots []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return
	}

	for _, root := range cleanRoots(roots) {
		idx := slices.Index(w.roots, root)
		if idx < 0 {
			continue
		}
		w.roots = slices.Delete(w.roots, idx, idx+1)
		for dir, owner := range w.dirs {
			if owner != root {
				continue
			}
			if other, ok := w.coveringRootLocked(dir); ok {
				w.dirs[dir] = other
				continue
			}
			if err := w.watcher.Remove(dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
				w.logger.Printf("unwatch %s: %v", dir, err)
			}
			delete(w.dirs, dir)
		}
		w.logger.Printf("stopped watching %s", root)
	}
}

// coveringRootLocked returns the closest remaining root that would watch dir
// on its own: dir lies inside it, within the depth limit and not ignored.
func (w *FSWatcher) coveringRootLocked(dir string) (string, bool) {
	best := ""
	for _, root := range w.roots {
		if dir != root && !strings.HasPrefix(dir, root+string(filepath.Separator)) {
			continue
		}
		if depth(root, dir) > w.cfg.MaxDepth {
			continue
		}
		if dir != root && w.ignore.Ignored(root, dir) {
			continue
		}
		if len(root) > len(best) {
			best = root
		}
	}
	return best, best != ""
}

// addTree watches dir and its subdirectories up to the depth limit and returns
// the regular files found below dir.
func (w *FSWatcher) addTree(root, dir string) []string {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Printf("walk %s: %v", path, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		w.mu.Lock()
		defer w.mu.Unlock()
		if w.watcher == nil {
			return filepath.SkipAll
		}
		if path != root && w.ignore.Ignored(root, path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			if d.Type().IsRegular() {
				files = append(files, path)
			}
			return nil
		}
		if depth(root, path) > w.cfg.MaxDepth {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Printf("watch %s: %v", path, err)
			return filepath.SkipDir
		}
		w.dirs[path] = root
		return nil
	})
	if err != nil {
		w.logger.Printf("walk %s: %v", dir, err)
	}
	return files
}

func (w *FSWatcher) run(ctx context.Context, watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	settle := newSettler(w.cfg.StabilityThreshold)
	ticker := time.NewTicker(w.cfg.StabilityPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if n := settle.len(); n > 0 {
				w.logger.Printf("discarding %d unsettled changes", n)
			}
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.handle(ev, settle, time.Now())
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("watch error: %v", err)
			recordWatchError()
		case now := <-ticker.C:
			for _, change := range settle.due(now) {
				w.emit(change.kind, change.path)
			}
		}
	}
}

func (w *FSWatcher) handle(ev fsnotify.Event, settle *settler, now time.Time) {
	path := filepath.Clean(ev.Name)
	root, ok := w.rootFor(path)
	if !ok {
		return
	}

	w.mu.Lock()
	ignored := w.ignore.Ignored(root, path)
	_, watchedDir := w.dirs[path]
	w.mu.Unlock()
	if ignored {
		return
	}

	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Lstat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			if depth(root, path) <= w.cfg.MaxDepth {
				for _, file := range w.addTree(root, path) {
					settle.touch(file, events.Created, now)
				}
			}
			return
		}
		if info.Mode().IsRegular() {
			settle.touch(path, events.Created, now)
		}
	case ev.Has(fsnotify.Write):
		if !watchedDir {
			settle.touch(path, events.Modified, now)
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		if watchedDir {
			w.forgetDir(path)
			return
		}
		if kind, pending := settle.forget(path); pending && kind == events.Created {
			// Created and removed before settling: nothing observable happened.
			return
		}
		w.emit(events.Deleted, path)
	}
}

func (w *FSWatcher) emit(kind events.ChangeType, path string) {
	w.publisher.Publish(w.formatter.FileChange(kind, path))
	recordFileChange(kind)
}

func (w *FSWatcher) rootFor(path string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	best := ""
	for _, root := range w.roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			if len(root) > len(best) {
				best = root
			}
		}
	}
	return best, best != ""
}

func (w *FSWatcher) forgetDir(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	prefix := dir + string(filepath.Separator)
	for watched := range w.dirs {
		if watched == dir || strings.HasPrefix(watched, prefix) {
			if w.watcher != nil {
				_ = w.watcher.Remove(watched)
			}
			delete(w.dirs, watched)
		}
	}
}

func depth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}

func cleanRoots(roots []string) []string {
	out := make([]string, 0, len(roots))
	for _, root := range roots {
		if strings.TrimSpace(root) == "" {
			continue
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			abs = filepath.Clean(root)
		}
		if !slices.Contains(out, abs) {
			out = append(out, abs)
		}
	}
	return out
}
