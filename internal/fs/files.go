// Package fs reads and writes container files on the local filesystem.
package fs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"portab/internal/codec"
)

// DefaultMaxRead caps how much ReadFile loads.
const DefaultMaxRead int64 = 64 << 20

// ErrTooLarge is returned by ReadFile for files over the cap.
var ErrTooLarge = errors.New("file too large")

// Resolve makes rawPath absolute and checks it names a regular file or,
// when allowDir is set, a directory.
func Resolve(rawPath string, allowDir bool) (string, os.FileInfo, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return "", nil, fmt.Errorf("resolving absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", nil, fmt.Errorf("stat path: %w", err)
	}

	switch mode := info.Mode(); {
	case mode.IsRegular():
	case mode.IsDir():
		if !allowDir {
			return "", nil, fmt.Errorf("%s is a directory", absPath)
		}
	default:
		return "", nil, fmt.Errorf("not a regular file: %s (%s)", absPath, mode.Type())
	}
	return absPath, info, nil
}

// ReadFile reads at most max bytes of path; a longer file is ErrTooLarge.
// "-" reads standard input. max <= 0 means DefaultMaxRead.
func ReadFile(path string, max int64) ([]byte, error) {
	if max <= 0 {
		max = DefaultMaxRead
	}
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}

	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, path, max)
	}
	return data, nil
}

// WriteFile writes data to path through a temp file in the same directory,
// so readers see either the old file or the new one. Unless overwrite is
// set an existing path is an error. "-" writes to standard output.
func WriteFile(path string, data []byte, perm os.FileMode, overwrite bool) (err error) {
	if path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if !overwrite {
		if _, err := os.Lstat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".portab-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err == nil {
		err = tmp.Chmod(perm)
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("moving %s into place: %w", path, err)
	}
	return nil
}

// KindForPath guesses the container kind from a file extension.
func KindForPath(path string) codec.Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case codec.ExtPlain:
		return codec.KindContainer
	case codec.ExtSealed:
		return codec.KindEnvelope
	}
	return codec.KindUnknown
}

// FindContainers returns the container files under dir, sorted. Files and
// directories matched by the ignore patterns, plus any in dir's
// .portabignore, are skipped.
func FindContainers(dir string, recursive bool, ignore []string) ([]string, error) {
	filePatterns, err := ParseIgnoreFile(filepath.Join(dir, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	matcher := NewIgnoreMatcher(append(slices.Clone(ignore), filePatterns...))

	var found []string
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == dir {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !recursive || matcher.Match(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || matcher.Match(rel, false) {
			return nil
		}
		if KindForPath(p) != codec.KindUnknown {
			found = append(found, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", dir, err)
	}
	slices.Sort(found)
	return found, nil
}
