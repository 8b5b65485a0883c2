// Package offer implements the Offer/Accept engine: building an Offer
// from a FileTreeProvider's entries on the sender side, and building a
// ResumeTable from the destination directory's existing contents on
// the receiver side (spec.md §4.4).
package offer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/qstransfer/qs/internal/fstree"
	"github.com/qstransfer/qs/internal/wire"
)

// FileEntry is the protocol-level file/directory description carried in
// an Offer (spec.md §3).
type FileEntry struct {
	RelativePath []string
	Size         uint64
	IsDir        bool
	Hash         []byte // optional, sender-computed
}

// Offer is the ordered sequence of entries a sender proposes to send,
// immutable for the session's lifetime (spec.md §3 invariant 1).
type Offer struct {
	ProtocolVersion uint32
	SessionNonce    []byte
	Entries         []FileEntry
}

// BuildError wraps a fstree.BuildError observed while building an Offer,
// aborting the session (spec.md §4.4 step 1).
type BuildError struct {
	Err error
}

func (e *BuildError) Error() string { return fmt.Sprintf("offer: %v", e.Err) }
func (e *BuildError) Unwrap() error { return e.Err }

// Build walks paths through provider and produces an Offer. The
// returned AbsPaths slice is parallel to Offer.Entries and gives the
// sender the on-disk source for each non-directory entry; it is never
// put on the wire.
func Build(provider fstree.Provider, paths []string, protocolVersion uint32, sessionNonce []byte) (Offer, []string, error) {
	treeEntries, err := provider.Walk(paths)
	if err != nil {
		return Offer{}, nil, &BuildError{Err: err}
	}

	entries := make([]FileEntry, len(treeEntries))
	absPaths := make([]string, len(treeEntries))
	for i, te := range treeEntries {
		entries[i] = FileEntry{
			RelativePath: te.RelativePath,
			Size:         te.Size,
			IsDir:        te.IsDir,
		}
		absPaths[i] = te.AbsPath
	}

	return Offer{
		ProtocolVersion: protocolVersion,
		SessionNonce:    sessionNonce,
		Entries:         entries,
	}, absPaths, nil
}

// ToWire converts an Offer to its wire representation.
func (o Offer) ToWire() wire.Offer {
	wireEntries := make([]wire.FileEntryWire, len(o.Entries))
	for i, e := range o.Entries {
		wireEntries[i] = wire.FileEntryWire{
			RelativePath: e.RelativePath,
			Size:         e.Size,
			IsDir:        e.IsDir,
			Hash:         e.Hash,
		}
	}
	return wire.Offer{
		ProtocolVersion: o.ProtocolVersion,
		SessionNonce:    o.SessionNonce,
		Entries:         wireEntries,
	}
}

// FromWire converts a decoded wire.Offer back to an Offer.
func FromWire(w wire.Offer) Offer {
	entries := make([]FileEntry, len(w.Entries))
	for i, e := range w.Entries {
		entries[i] = FileEntry{
			RelativePath: e.RelativePath,
			Size:         e.Size,
			IsDir:        e.IsDir,
			Hash:         e.Hash,
		}
	}
	return Offer{
		ProtocolVersion: w.ProtocolVersion,
		SessionNonce:    w.SessionNonce,
		Entries:         entries,
	}
}

// ResumeTable holds, for each offer entry, the byte count the receiver
// already has on disk (spec.md §3 "ResumeTable").
type ResumeTable []uint64

// BuildResumeTable inspects destRoot for each entry in the offer and
// computes how many bytes of it are already present (spec.md §4.4
// step 4).
func BuildResumeTable(o Offer, destRoot string) (ResumeTable, error) {
	table := make(ResumeTable, len(o.Entries))
	for i, e := range o.Entries {
		if e.IsDir {
			continue
		}
		target := filepath.Join(append([]string{destRoot}, e.RelativePath...)...)
		info, err := os.Lstat(target)
		switch {
		case os.IsNotExist(err):
			table[i] = 0
		case err != nil:
			return nil, fmt.Errorf("offer: inspecting %q: %w", target, err)
		case info.IsDir():
			// A directory sits where a file is expected; it will be
			// replaced on first write, so there is nothing to resume.
			table[i] = 0
		case uint64(info.Size()) <= e.Size:
			table[i] = uint64(info.Size())
		default:
			// Existing file is larger than the offer claims; it will be
			// truncated on first write.
			table[i] = 0
		}
	}
	return table, nil
}

// Validate checks a receiver-supplied resume table against the offer,
// per spec.md §4.4 step 5. A violation is a ProtocolError::MalformedAccept.
func Validate(o Offer, table ResumeTable) error {
	if len(table) != len(o.Entries) {
		return fmt.Errorf("offer: resume table length %d does not match offer length %d", len(table), len(o.Entries))
	}
	for i, v := range table {
		if v > o.Entries[i].Size {
			return fmt.Errorf("offer: resume table entry %d (%d) exceeds entry size %d", i, v, o.Entries[i].Size)
		}
	}
	return nil
}

// InitialProgress converts a resume table into the per-file
// already-transferred byte counts surfaced in the InitialProgress
// event (spec.md §4.6).
func InitialProgress(table ResumeTable) []uint64 {
	out := make([]uint64, len(table))
	copy(out, table)
	return out
}
