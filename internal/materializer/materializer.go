// Package materializer turns incoming per-file byte streams into files
// and directories on disk. Unlike a temp-file-then-rename scheme,
// writes land directly at the destination path: the partial file on
// disk IS the resume state, so there is never a rename step to race
// with a crash (spec.md §4.7).
package materializer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ChunkSize bounds a single read/write cycle when copying stream bytes
// to disk (spec.md §4.7, must be ≤ 1 MiB).
const ChunkSize = 64 * 1024

// PathEscapeError is returned when a relative path, once joined to the
// destination root and cleaned, would resolve outside that root
// (spec.md §4.7, Testable Property 4).
type PathEscapeError struct {
	RelativePath []string
}

func (e *PathEscapeError) Error() string {
	return fmt.Sprintf("materializer: path escapes destination root: %v", e.RelativePath)
}

// WriteError wraps a destination-disk failure (open, seek, or write),
// distinguishing it from a PathEscapeError at the engine boundary
// (spec.md §7 "IoError::WriteFailed").
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("materializer: write failed for %q: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Materializer writes entries under a fixed destination root.
type Materializer struct {
	root string
}

// New returns a Materializer rooted at destRoot. destRoot is created if
// it does not already exist.
func New(destRoot string) (*Materializer, error) {
	if err := os.MkdirAll(destRoot, 0o755); err != nil {
		return nil, fmt.Errorf("materializer: creating destination root: %w", err)
	}
	abs, err := filepath.Abs(destRoot)
	if err != nil {
		return nil, fmt.Errorf("materializer: resolving destination root: %w", err)
	}
	return &Materializer{root: abs}, nil
}

// Resolve joins relativePath onto the destination root and verifies the
// result does not escape it, per spec.md §4.7.
func (m *Materializer) Resolve(relativePath []string) (string, error) {
	joined := filepath.Join(append([]string{m.root}, relativePath...)...)
	cleaned := filepath.Clean(joined)
	if cleaned != m.root && !strings.HasPrefix(cleaned, m.root+string(filepath.Separator)) {
		return "", &PathEscapeError{RelativePath: relativePath}
	}
	return cleaned, nil
}

// MakeDir materializes a directory entry, creating parent directories
// lazily (spec.md §3 invariant 5, §4.7).
func (m *Materializer) MakeDir(relativePath []string) error {
	path, err := m.Resolve(relativePath)
	if err != nil {
		return err
	}
	if err := replaceIfWrongType(path, true); err != nil {
		return err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("materializer: creating directory %q: %w", path, err)
	}
	return nil
}

// OpenForWrite opens the destination file for relativePath at byte
// offset resumeFrom, creating parent directories lazily and truncating
// the file first if truncate is true (spec.md §4.4 step 4, §4.7).
func (m *Materializer) OpenForWrite(relativePath []string, resumeFrom uint64, truncate bool) (*os.File, error) {
	path, err := m.Resolve(relativePath)
	if err != nil {
		return nil, err
	}
	if err := replaceIfWrongType(path, false); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &WriteError{Path: path, Err: err}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if truncate {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, &WriteError{Path: path, Err: err}
	}
	if _, err := f.Seek(int64(resumeFrom), io.SeekStart); err != nil {
		f.Close()
		return nil, &WriteError{Path: path, Err: err}
	}
	return f, nil
}

// WriteStream copies exactly n bytes from src to dst in ChunkSize
// pieces, returning the number of bytes actually written before any
// error. Callers use the returned count to mark a file incomplete on
// failure (spec.md §4.5 "Receiver").
func WriteStream(dst io.Writer, src io.Reader, n uint64) (uint64, error) {
	var written uint64
	buf := make([]byte, ChunkSize)
	for written < n {
		toRead := uint64(len(buf))
		if remaining := n - written; remaining < toRead {
			toRead = remaining
		}
		rn, rerr := src.Read(buf[:toRead])
		if rn > 0 {
			wn, werr := dst.Write(buf[:rn])
			written += uint64(wn)
			if werr != nil {
				return written, &WriteError{Err: werr}
			}
		}
		if rerr != nil {
			if rerr == io.EOF && written == n {
				return written, nil
			}
			return written, fmt.Errorf("materializer: read failed: %w", rerr)
		}
	}
	return written, nil
}

// replaceIfWrongType implements spec.md §4.4 step 4's "directory where a
// file is expected (or vice versa)" rule: the existing item is removed
// so the caller can recreate it with the expected type.
func replaceIfWrongType(path string, wantDir bool) error {
	info, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("materializer: inspecting %q: %w", path, err)
	}
	if info.IsDir() == wantDir {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("materializer: replacing %q: %w", path, err)
	}
	return nil
}
