package transfer_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/qstransfer/qs/internal/endpoint"
	"github.com/qstransfer/qs/internal/endpoint/mux"
	"github.com/qstransfer/qs/internal/events"
	"github.com/qstransfer/qs/internal/materializer"
	"github.com/qstransfer/qs/internal/offer"
	"github.com/qstransfer/qs/internal/ticket"
	"github.com/qstransfer/qs/internal/transfer"
	"github.com/stretchr/testify/require"
)

// pipeTransport is the same in-memory channel pair mux's own tests use,
// standing in for an encrypted websocket message transport.
type pipeTransport struct {
	out, in chan []byte
	closed  chan struct{}
}

func newPipePair() (*pipeTransport, *pipeTransport) {
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)
	a := &pipeTransport{out: ab, in: ba, closed: make(chan struct{})}
	b := &pipeTransport{out: ba, in: ab, closed: make(chan struct{})}
	return a, b
}

func (p *pipeTransport) Send(b []byte) error {
	cp := append([]byte(nil), b...)
	select {
	case p.out <- cp:
		return nil
	case <-p.closed:
		return io.ErrClosedPipe
	}
}

func (p *pipeTransport) Recv() ([]byte, error) {
	select {
	case b := <-p.in:
		return b, nil
	case <-p.closed:
		return nil, io.EOF
	}
}

func (p *pipeTransport) Close() error {
	select {
	case <-p.closed:
	default:
		close(p.closed)
	}
	return nil
}

// muxConnection adapts a mux.Mux to endpoint.Connection for tests,
// mirroring wsendpoint's own connection adapter.
type muxConnection struct{ m *mux.Mux }

func (c *muxConnection) Class() endpoint.ConnectionClass { return endpoint.Direct }
func (c *muxConnection) RemoteID() ticket.PeerID         { return ticket.PeerID{} }
func (c *muxConnection) Close(int, string) error         { return c.m.Close() }
func (c *muxConnection) OpenBi(context.Context) (endpoint.Stream, error) {
	return c.m.Control(), nil
}
func (c *muxConnection) AcceptBi(context.Context) (endpoint.Stream, error) {
	return c.m.Control(), nil
}
func (c *muxConnection) OpenUni(context.Context) (endpoint.Stream, error) {
	return c.m.OpenUni()
}
func (c *muxConnection) AcceptUni(context.Context) (endpoint.Stream, error) {
	return c.m.AcceptUni()
}

type capturingSink struct{ events []events.Event }

func (s *capturingSink) OnEvent(e events.Event) { s.events = append(s.events, e) }

func TestSenderReceiverSingleFile(t *testing.T) {
	ta, tb := newPipePair()
	senderMux := mux.New(ta, true)
	receiverMux := mux.New(tb, false)
	defer senderMux.Close()
	defer receiverMux.Close()
	senderConn := &muxConnection{m: senderMux}
	receiverConn := &muxConnection{m: receiverMux}

	srcDir := t.TempDir()
	dstDir := t.TempDir()
	content := []byte("hello world")
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "hello.txt"), content, 0o644))

	entries := []offer.FileEntry{{RelativePath: []string{"hello.txt"}, Size: uint64(len(content))}}
	absPaths := []string{filepath.Join(srcDir, "hello.txt")}
	resumeTable := offer.ResumeTable{0}

	mat, err := materializer.New(dstDir)
	require.NoError(t, err)
	require.NoError(t, transfer.MaterializeDirs(mat, entries))

	senderSink := &capturingSink{}
	receiverSink := &capturingSink{}

	sender := &transfer.SenderTransfer{
		Conn:        senderConn,
		Control:     senderMux.Control(),
		Entries:     entries,
		AbsPaths:    absPaths,
		ResumeTable: resumeTable,
		Concurrency: 2,
		Sink:        senderSink,
		Counter:     &events.Counter{},
		Cancel:      &events.CancelFlag{},
	}
	receiver := &transfer.ReceiverTransfer{
		Conn:         receiverConn,
		Entries:      entries,
		ResumeTable:  resumeTable,
		Materializer: mat,
		Concurrency:  2,
		Sink:         receiverSink,
		Counter:      &events.Counter{},
		Cancel:       &events.CancelFlag{},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errs := make(chan error, 2)
	go func() { errs <- sender.Run(ctx) }()
	go func() { errs <- receiver.Run(ctx) }()

	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	got, err := os.ReadFile(filepath.Join(dstDir, "hello.txt"))
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestSenderReceiverSkipsFullyResumedFile(t *testing.T) {
	ta, tb := newPipePair()
	senderMux := mux.New(ta, true)
	receiverMux := mux.New(tb, false)
	defer senderMux.Close()
	defer receiverMux.Close()
	senderConn := &muxConnection{m: senderMux}
	receiverConn := &muxConnection{m: receiverMux}

	entries := []offer.FileEntry{{RelativePath: []string{"done.bin"}, Size: 10}}
	resumeTable := offer.ResumeTable{10} // already fully present

	sender := &transfer.SenderTransfer{
		Conn: senderConn, Control: senderMux.Control(),
		Entries: entries, AbsPaths: []string{"/unused"}, ResumeTable: resumeTable,
		Concurrency: 2, Sink: &capturingSink{}, Counter: &events.Counter{}, Cancel: &events.CancelFlag{},
	}
	receiver := &transfer.ReceiverTransfer{
		Conn: receiverConn, Entries: entries, ResumeTable: resumeTable,
		Materializer: mustMaterializer(t), Concurrency: 2,
		Sink: &capturingSink{}, Counter: &events.Counter{}, Cancel: &events.CancelFlag{},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	errs := make(chan error, 2)
	go func() { errs <- sender.Run(ctx) }()
	go func() { errs <- receiver.Run(ctx) }()
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
}

func TestReceiverTruncatesStaleOversizedFile(t *testing.T) {
	ta, tb := newPipePair()
	senderMux := mux.New(ta, true)
	receiverMux := mux.New(tb, false)
	defer senderMux.Close()
	defer receiverMux.Close()
	senderConn := &muxConnection{m: senderMux}
	receiverConn := &muxConnection{m: receiverMux}

	srcDir := t.TempDir()
	dstDir := t.TempDir()
	content := []byte("short offer content")
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "f.bin"), content, 0o644))

	// A stale destination file, larger than the offered entry, left
	// over from a previous run with different contents.
	stale := bytes.Repeat([]byte{0xEE}, len(content)+50)
	require.NoError(t, os.WriteFile(filepath.Join(dstDir, "f.bin"), stale, 0o644))

	entries := []offer.FileEntry{{RelativePath: []string{"f.bin"}, Size: uint64(len(content))}}
	absPaths := []string{filepath.Join(srcDir, "f.bin")}

	mat, err := materializer.New(dstDir)
	require.NoError(t, err)

	// Mirrors offer.BuildResumeTable's handling of an oversized existing
	// file: the entry resumes from 0.
	resumeTable := offer.ResumeTable{0}

	sender := &transfer.SenderTransfer{
		Conn: senderConn, Control: senderMux.Control(),
		Entries: entries, AbsPaths: absPaths, ResumeTable: resumeTable,
		Concurrency: 2, Sink: &capturingSink{}, Counter: &events.Counter{}, Cancel: &events.CancelFlag{},
	}
	receiver := &transfer.ReceiverTransfer{
		Conn: receiverConn, Entries: entries, ResumeTable: resumeTable,
		Materializer: mat, Concurrency: 2,
		Sink: &capturingSink{}, Counter: &events.Counter{}, Cancel: &events.CancelFlag{},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errs := make(chan error, 2)
	go func() { errs <- sender.Run(ctx) }()
	go func() { errs <- receiver.Run(ctx) }()
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	got, err := os.ReadFile(filepath.Join(dstDir, "f.bin"))
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func mustMaterializer(t *testing.T) *materializer.Materializer {
	m, err := materializer.New(t.TempDir())
	require.NoError(t, err)
	return m
}

func TestVerifyResumesDetectsMismatch(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "source.bin")
	localPath := filepath.Join(dir, "local.bin")
	require.NoError(t, os.WriteFile(srcPath, bytes.Repeat([]byte{0xAA}, 500), 0o644))
	require.NoError(t, os.WriteFile(localPath, bytes.Repeat([]byte{0xBB}, 500), 0o644))

	r1, w1 := io.Pipe()
	r2, w2 := io.Pipe()
	senderSide := &pipeReadWriter{r: r1, w: w2}
	receiverSide := &pipeReadWriter{r: r2, w: w1}

	o := offer.Offer{Entries: []offer.FileEntry{{RelativePath: []string{"x.bin"}, Size: 1024}}}
	table := offer.ResumeTable{500}

	done := make(chan offer.ResumeTable, 1)
	errs := make(chan error, 2)
	go func() {
		verified, err := transfer.VerifyResumes(receiverSide, o, table, []string{localPath})
		errs <- err
		done <- verified
	}()
	go func() {
		_, err := transfer.ServeHashRequests(senderSide, []string{srcPath})
		// ServeHashRequests only returns once a non-hash-request frame
		// arrives; the test never sends one, so this goroutine blocks
		// until the pipe closes. Close unblocks it with an error, which
		// is expected and not asserted on.
		errs <- err
	}()

	verified := <-done
	require.Equal(t, offer.ResumeTable{0}, verified)
	require.NoError(t, <-errs)
	_ = w1.Close()
	_ = w2.Close()
	<-errs
}

type pipeReadWriter struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (p *pipeReadWriter) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipeReadWriter) Write(b []byte) (int, error) { return p.w.Write(b) }
