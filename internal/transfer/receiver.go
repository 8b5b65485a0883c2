package transfer

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/qstransfer/qs/internal/endpoint"
	"github.com/qstransfer/qs/internal/events"
	"github.com/qstransfer/qs/internal/materializer"
	"github.com/qstransfer/qs/internal/offer"
	"golang.org/x/sync/errgroup"
)

// ReceiverTransfer drives the receiver side of the Transferring state.
type ReceiverTransfer struct {
	Conn         endpoint.Connection
	Entries      []offer.FileEntry
	ResumeTable  offer.ResumeTable
	Materializer *materializer.Materializer
	Concurrency  int
	Sink         events.EventSink
	Counter      *events.Counter
	Cancel       *events.CancelFlag
}

// MaterializeDirs creates every directory entry in offer order, which
// for a pre-order walk always precedes its children (spec.md §3
// invariant 5, §4.5 "Directories are not transmitted as streams").
func MaterializeDirs(m *materializer.Materializer, entries []offer.FileEntry) error {
	for _, e := range entries {
		if e.IsDir {
			if err := m.MakeDir(e.RelativePath); err != nil {
				return err
			}
		}
	}
	return nil
}

// Run accepts incoming unidirectional streams until every eligible
// entry has been received, pipelined up to Concurrency at a time
// (spec.md §4.5, §5 "Resource bounds").
func (r *ReceiverTransfer) Run(ctx context.Context) error {
	expected := 0
	for i, e := range r.Entries {
		if !e.IsDir && r.ResumeTable[i] < e.Size {
			expected++
		}
	}
	if expected == 0 {
		return nil
	}

	concurrency := r.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)
	emitter := events.NewEmitter(r.Sink, r.Counter)

	received := 0
	for received < expected {
		if r.Cancel.IsSet() {
			break
		}
		stream, err := r.Conn.AcceptUni(ctx)
		if err != nil {
			break
		}
		received++
		eg.Go(func() error {
			return r.receiveFile(egCtx, stream, emitter)
		})
	}

	err := eg.Wait()
	if !r.Cancel.IsSet() {
		emitter.Flush()
	}
	if err != nil {
		return fmt.Errorf("transfer: receiving files: %w", err)
	}
	return nil
}

func (r *ReceiverTransfer) receiveFile(ctx context.Context, stream endpoint.Stream, emitter *events.Emitter) error {
	var header [4]byte
	if _, err := io.ReadFull(stream, header[:]); err != nil {
		return fmt.Errorf("transfer: reading stream header: %w", err)
	}
	index := int(binary.BigEndian.Uint32(header[:]))
	if index < 0 || index >= len(r.Entries) {
		return fmt.Errorf("transfer: stream header index %d out of range", index)
	}
	entry := r.Entries[index]
	already := r.ResumeTable[index]
	remaining := entry.Size - already

	truncate, err := r.needsTruncate(entry, already)
	if err != nil {
		return err
	}

	f, err := r.Materializer.OpenForWrite(entry.RelativePath, already, truncate)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := copyChunksIn(ctx, f, stream, remaining, emitter); err != nil {
		return fmt.Errorf("transfer: receiving entry %d: %w", index, err)
	}
	return nil
}

// needsTruncate reports whether the destination already on disk for
// entry holds more bytes than the resume table admits. This happens
// when a stale file is larger than the offered size (offer.
// BuildResumeTable resets such an entry to 0 rather than reject it) or
// when a resume hash check rejected the claimed prefix (VerifyResumes
// does the same). Either way OpenForWrite must discard the stale tail
// instead of resuming onto it (spec.md §4.4 step 4, Testable Property
// 5).
func (r *ReceiverTransfer) needsTruncate(entry offer.FileEntry, already uint64) (bool, error) {
	path, err := r.Materializer.Resolve(entry.RelativePath)
	if err != nil {
		return false, err
	}
	info, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("transfer: inspecting %q: %w", path, err)
	}
	return !info.IsDir() && uint64(info.Size()) > already, nil
}

// copyChunksIn mirrors copyChunks for the receive direction, where
// cancellation never interrupts an already-open stream (spec.md §4.5
// "Receiver ... stops accepting new streams and closes; partially
// written files remain on disk").
func copyChunksIn(ctx context.Context, dst io.Writer, src io.Reader, n uint64, emitter *events.Emitter) (uint64, error) {
	buf := make([]byte, ChunkSize)
	var done uint64
	for done < n {
		select {
		case <-ctx.Done():
			return done, ctx.Err()
		default:
		}

		toRead := uint64(len(buf))
		if remaining := n - done; remaining < toRead {
			toRead = remaining
		}
		rn, rerr := src.Read(buf[:toRead])
		if rn > 0 {
			if _, werr := dst.Write(buf[:rn]); werr != nil {
				return done, werr
			}
			done += uint64(rn)
			emitter.Report(uint64(rn))
		}
		if rerr != nil {
			if rerr == io.EOF && done == n {
				return done, nil
			}
			return done, rerr
		}
	}
	return done, nil
}
