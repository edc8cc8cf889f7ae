package monitor

import (
	"path/filepath"
	"strings"
)

// builtinIgnoredSuffixes mark editor backups, swap files and other transient artefacts.
var builtinIgnoredSuffixes = []string{"~", ".tmp", ".swp", ".log", ".cache", ".bak", ".old", ".orig"}

// builtinIgnoredNames are skipped at any depth.
var builtinIgnoredNames = []string{"node_modules", ".DS_Store"}

// IgnoreMatcher decides which paths under a watch root are excluded.
type IgnoreMatcher struct {
	patterns []string
}

// NewIgnoreMatcher combines the built-in rules with caller glob patterns.
// Patterns without a separator match any single path component; patterns
// containing one match the path relative to its root.
func NewIgnoreMatcher(patterns []string) *IgnoreMatcher {
	cleaned := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p != "" {
			cleaned = append(cleaned, filepath.ToSlash(p))
		}
	}
	return &IgnoreMatcher{patterns: cleaned}
}

// Patterns returns the caller-supplied patterns.
func (m *IgnoreMatcher) Patterns() []string {
	return append([]string(nil), m.patterns...)
}

// Ignored reports whether path, located under root, is excluded. The root
// itself is never excluded even if it lives under a dot directory.
func (m *IgnoreMatcher) Ignored(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return false
	}
	rel = filepath.ToSlash(rel)
	if strings.HasPrefix(rel, "../") {
		return false
	}

	components := strings.Split(rel, "/")
	for _, c := range components {
		if builtinIgnored(c) {
			return true
		}
		for _, pattern := range m.patterns {
			if strings.Contains(pattern, "/") {
				continue
			}
			if ok, _ := filepath.Match(pattern, c); ok {
				return true
			}
		}
	}

	for _, pattern := range m.patterns {
		if !strings.Contains(pattern, "/") {
			continue
		}
		pattern = strings.TrimPrefix(pattern, "/")
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
		if strings.HasPrefix(rel, strings.TrimSuffix(pattern, "/")+"/") {
			return true
		}
	}
	return false
}

func builtinIgnored(component string) bool {
	// Dotfiles and dot directories, which also covers VCS metadata.
	if strings.HasPrefix(component, ".") {
		return true
	}
	for _, name := range builtinIgnoredNames {
		if component == name {
			return true
		}
	}
	for _, suffix := range builtinIgnoredSuffixes {
		if strings.HasSuffix(component, suffix) {
			return true
		}
	}
	return false
}
