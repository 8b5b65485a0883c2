// Package transfer implements the Transferring phase of a session: the
// sender's per-file stream pipeline and the receiver's stream-accept
// loop, both pipelined up to K concurrent streams, plus the resume
// hash-check exchange in integrity.go (spec.md §4.5).
package transfer

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/qstransfer/qs/internal/endpoint"
	"github.com/qstransfer/qs/internal/events"
	"github.com/qstransfer/qs/internal/offer"
	"github.com/qstransfer/qs/internal/wire"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the number of per-file streams pipelined at
// once (spec.md §4.5, "typical 4-8").
const DefaultConcurrency = 6

// ChunkSize bounds a single read/write cycle on a data stream.
const ChunkSize = 64 * 1024

// SenderTransfer drives the sender side of the Transferring state.
type SenderTransfer struct {
	Conn        endpoint.Connection
	Control     io.Writer
	Entries     []offer.FileEntry
	AbsPaths    []string // parallel to Entries; unused for directory entries
	ResumeTable offer.ResumeTable
	Concurrency int
	Sink        events.EventSink
	Counter     *events.Counter
	Cancel      *events.CancelFlag
}

// Run opens one unidirectional stream per eligible entry, in offer
// order, pipelined up to Concurrency at a time, then sends TransferDone
// once every stream has closed cleanly (spec.md §4.5).
func (t *SenderTransfer) Run(ctx context.Context) error {
	concurrency := t.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)
	emitter := events.NewEmitter(t.Sink, t.Counter)

	for i, e := range t.Entries {
		if e.IsDir || t.ResumeTable[i] >= e.Size {
			continue
		}
		if t.Cancel.IsSet() {
			break
		}
		i, e := i, e
		eg.Go(func() error {
			if t.Cancel.IsSet() {
				return nil
			}
			return t.sendFile(egCtx, i, e, emitter)
		})
	}

	err := eg.Wait()
	if !t.Cancel.IsSet() {
		emitter.Flush()
	}
	if err != nil {
		return fmt.Errorf("transfer: sending files: %w", err)
	}
	if t.Cancel.IsSet() {
		return nil
	}

	done := wire.TransferDone{TotalBytes: t.Counter.Load()}
	if err := wire.WriteFrame(t.Control, wire.TagTransferDone, done.Encode()); err != nil {
		return fmt.Errorf("transfer: sending TransferDone: %w", err)
	}
	return nil
}

func (t *SenderTransfer) sendFile(ctx context.Context, index int, entry offer.FileEntry, emitter *events.Emitter) error {
	already := t.ResumeTable[index]
	remaining := entry.Size - already

	f, err := os.Open(t.AbsPaths[index])
	if err != nil {
		return fmt.Errorf("transfer: opening source %q: %w", t.AbsPaths[index], err)
	}
	defer f.Close()
	if _, err := f.Seek(int64(already), io.SeekStart); err != nil {
		return fmt.Errorf("transfer: seeking source %q: %w", t.AbsPaths[index], err)
	}

	stream, err := t.Conn.OpenUni(ctx)
	if err != nil {
		return fmt.Errorf("transfer: opening stream for entry %d: %w", index, err)
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(index))
	if _, err := stream.Write(header[:]); err != nil {
		stream.Reset()
		return fmt.Errorf("transfer: writing stream header for entry %d: %w", index, err)
	}

	sent, err := copyChunks(ctx, stream, f, remaining, t.Cancel, emitter)
	if err != nil {
		stream.Reset()
		return fmt.Errorf("transfer: streaming entry %d: %w", index, err)
	}
	if sent < remaining {
		// Cancelled mid-file: reset rather than close cleanly so the
		// receiver doesn't mistake a truncated stream for a complete
		// file (spec.md §5 "no write is started after cancel is
		// observed", §4.5 "MUST NOT leave dangling streams").
		return stream.Reset()
	}

	if err := stream.CloseWrite(); err != nil {
		return fmt.Errorf("transfer: closing stream for entry %d: %w", index, err)
	}
	return nil
}

// copyChunks moves up to n bytes from src to dst in ChunkSize pieces,
// checking cancel between chunks so an in-flight write never starts
// after cancellation is observed (spec.md §5 "Cancellation semantics").
// It returns the number of bytes actually sent, which is less than n
// only when cancellation stopped it early.
func copyChunks(ctx context.Context, dst io.Writer, src io.Reader, n uint64, cancel *events.CancelFlag, emitter *events.Emitter) (uint64, error) {
	buf := make([]byte, ChunkSize)
	var done uint64
	for done < n {
		if cancel.IsSet() {
			return done, nil
		}
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
