// Package fstree implements the FileTreeProvider collaborator the
// offer/accept engine consumes to turn a list of user-supplied paths
// into a pre-order sequence of file entries (spec.md §6). It is built
// out of process boundary: the sender CLI supplies the roots, the
// engine only ever sees the resulting Entry slice.
package fstree

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/exp/slices"
)

// Entry is one file or directory discovered while walking a root,
// already canonicalised to a root-free relative path.
type Entry struct {
	RelativePath []string
	Size         uint64
	IsDir        bool
	// AbsPath is the real on-disk location to read bytes from; it never
	// crosses the wire, only RelativePath does.
	AbsPath string
}

// BuildError reports why a path could not be turned into an Entry; it
// is fatal to offer building (spec.md §4.4 step 1).
type BuildError struct {
	Path   string
	Reason string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("fstree: %s: %s", e.Path, e.Reason)
}

// Provider is the collaborator interface the engine depends on.
type Provider interface {
	Walk(roots []string) ([]Entry, error)
}

// OSProvider walks the real filesystem.
type OSProvider struct{}

func (OSProvider) Walk(roots []string) ([]Entry, error) { return Walk(roots) }

// Walk turns roots into a pre-order, directory-before-children sequence
// of Entry, one subtree per root in the order given. Each root's
// relative paths start at the root's own last path component.
func Walk(roots []string) ([]Entry, error) {
	var entries []Entry
	var seen []string
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, &BuildError{Path: root, Reason: err.Error()}
		}
		if slices.Contains(seen, abs) {
			continue
		}
		seen = append(seen, abs)

		sub, err := walkRoot(root)
		if err != nil {
			return nil, err
		}
		entries = append(entries, sub...)
	}
	return entries, nil
}

func walkRoot(root string) ([]Entry, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, &BuildError{Path: root, Reason: err.Error()}
	}
	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return nil, &BuildError{Path: root, Reason: err.Error()}
	}
	base := filepath.Dir(absRoot)

	var entries []Entry
	err = filepath.Walk(absRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return &BuildError{Path: path, Reason: err.Error()}
		}

		resolved := path
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := filepath.EvalSymlinks(path)
			if err != nil {
				return &BuildError{Path: path, Reason: "broken symlink"}
			}
			if !withinRoot(target, realRoot) {
				return &BuildError{Path: path, Reason: "symlink escapes root"}
			}
			resolved = target
			info, err = os.Stat(target)
			if err != nil {
				return &BuildError{Path: path, Reason: err.Error()}
			}
		}

		rel, err := relativeSegments(base, path)
		if err != nil {
			return &BuildError{Path: path, Reason: err.Error()}
		}

		var size uint64
		if !info.IsDir() {
			size = uint64(info.Size())
		}
		entries = append(entries, Entry{
			RelativePath: rel,
			Size:         size,
			IsDir:        info.IsDir(),
			AbsPath:      resolved,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// withinRoot reports whether target is realRoot itself or a
// prefix-descendant of it.
func withinRoot(target, realRoot string) bool {
	target = filepath.Clean(target)
	realRoot = filepath.Clean(realRoot)
	if target == realRoot {
		return true
	}
	return strings.HasPrefix(target, realRoot+string(filepath.Separator))
}

// relativeSegments computes path's components relative to base and
// validates them against spec.md §3's FileEntry constraints: no `..`,
// no absolute prefix, UTF-8 only.
func relativeSegments(base, path string) ([]string, error) {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return nil, err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == "" {
		return nil, fmt.Errorf("empty relative path")
	}
	segs := strings.Split(rel, "/")
	for _, s := range segs {
		if s == ".." || s == "." {
			return nil, fmt.Errorf("relative path escapes root: %q", rel)
		}
		if filepath.IsAbs(s) {
			return nil, fmt.Errorf("absolute path segment: %q", rel)
		}
		if !utf8.ValidString(s) {
			return nil, fmt.Errorf("non-UTF-8 path segment in %q", rel)
		}
	}
	return segs, nil
}

// TotalSize sums the sizes of every non-directory entry.
func TotalSize(entries []Entry) uint64 {
	var total uint64
	for _, e := range entries {
		if !e.IsDir {
			total += e.Size
		}
	}
	return total
}
