package fs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// IgnoreFileName is read from the root of a directory scanned for containers.
const IgnoreFileName = ".portabignore"

type ignorePattern struct {
	pattern   string
	matchPath bool // match the relative path rather than the basename
	dirOnly   bool // pattern had a trailing '/'
}

// IgnoreMatcher checks paths against gitignore-style globs.
// A pattern without '/' matches a basename at any depth, one containing
// '/' matches the path relative to the scan root, and a trailing '/'
// restricts the pattern to directories.
type IgnoreMatcher struct {
	patterns []ignorePattern
}

// NewIgnoreMatcher parses raw patterns. Blank lines and lines starting with
// '#' are skipped.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	var patterns []ignorePattern
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		p := ignorePattern{}
		if strings.HasSuffix(raw, "/") {
			p.dirOnly = true
			raw = strings.TrimRight(raw, "/")
		}
		p.pattern = raw
		p.matchPath = strings.Contains(raw, "/")
		patterns = append(patterns, p)
	}
	return &IgnoreMatcher{patterns: patterns}
}

// Match reports whether relativePath, a file or a directory per isDir,
// is ignored.
func (m *IgnoreMatcher) Match(relativePath string, isDir bool) bool {
	normalized := filepath.ToSlash(relativePath)
	base := filepath.Base(relativePath)

	for _, p := range m.patterns {
		if p.dirOnly && !isDir {
			continue
		}
		subject := base
		if p.matchPath {
			subject = normalized
		}
		// filepath.Match only fails on malformed patterns, which never match.
		if ok, err := filepath.Match(p.pattern, subject); err == nil && ok {
			return true
		}
	}
	return false
}

// ParseIgnoreFile reads patterns from path, one per line.
// A missing file yields no patterns and no error.
func ParseIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return patterns, nil
}
