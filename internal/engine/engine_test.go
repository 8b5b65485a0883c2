package engine_test

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
	"github.com/qstransfer/qs/internal/engine"
	"github.com/qstransfer/qs/internal/events"
	"github.com/qstransfer/qs/internal/ticket"
	"github.com/qstransfer/qs/internal/transfer"
	"github.com/stretchr/testify/require"
)

// pipeTransport mirrors mux's own in-memory channel-pair transport,
// used throughout this module's tests in place of an encrypted
// websocket connection.
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

// slowPipeTransport wraps pipeTransport with a per-message delay, so a
// multi-chunk transfer over it stays observably in flight long enough
// for a test to call CancelTransfer mid-stream instead of racing a
// transfer that completes before cancellation is ever observed.
type slowPipeTransport struct {
	*pipeTransport
	delay time.Duration
}

func (p *slowPipeTransport) Send(b []byte) error {
	time.Sleep(p.delay)
	return p.pipeTransport.Send(b)
}

func newSlowPipePair(delay time.Duration) (*slowPipeTransport, *slowPipeTransport) {
	a, b := newPipePair()
	return &slowPipeTransport{pipeTransport: a, delay: delay}, &slowPipeTransport{pipeTransport: b, delay: delay}
}

// muxConnection adapts a mux.Mux to endpoint.Connection, standing in
// for wsendpoint's own (unexported) adapter.
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

// fakeEndpoint hands back a single preconnected Connection, standing
// in for the rendezvous-backed wsendpoint.Endpoint in tests.
type fakeEndpoint struct {
	conn endpoint.Connection
}

func (f *fakeEndpoint) NodeID() ticket.PeerID { return ticket.PeerID{} }

func (f *fakeEndpoint) MakeTicket(addrHints []string, appTag string) (ticket.Ticket, error) {
	return ticket.New(ticket.PeerID{}, addrHints, appTag)
}

func (f *fakeEndpoint) Accept(ctx context.Context) (endpoint.Connection, error) { return f.conn, nil }

func (f *fakeEndpoint) Connect(ctx context.Context, t ticket.Ticket) (endpoint.Connection, error) {
	return f.conn, nil
}

func (f *fakeEndpoint) Close() error { return nil }

type recordingSink struct {
	events []events.Event
}

func (s *recordingSink) OnEvent(e events.Event) { s.events = append(s.events, e) }

func (s *recordingSink) has(k events.Kind) bool {
	for _, e := range s.events {
		if e.Kind == k {
			return true
		}
	}
	return false
}

func TestSessionSendReceiveAcceptFlow(t *testing.T) {
	ta, tb := newPipePair()
	senderMux := mux.New(ta, true)
	receiverMux := mux.New(tb, false)
	defer senderMux.Close()
	defer receiverMux.Close()

	senderEpt := &fakeEndpoint{conn: &muxConnection{m: senderMux}}
	receiverEpt := &fakeEndpoint{conn: &muxConnection{m: receiverMux}}

	srcDir := t.TempDir()
	dstDir := t.TempDir()
	content := []byte("the quick brown fox")
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "fox.txt"), content, 0o644))

	senderSink := &recordingSink{}
	receiverSink := &recordingSink{}

	senderSession := engine.NewSender(senderEpt, senderSink, []string{filepath.Join(srcDir, "fox.txt")})
	receiverSession := engine.NewReceiver(receiverEpt, receiverSink, ticket.Ticket{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errs := make(chan error, 2)
	go func() { errs <- senderSession.Run(ctx) }()

	go func() {
		// Give the sender a moment to publish its offer before the
		// receiver decides; the accept decision itself may arrive at
		// any time relative to OfferReceived, this just keeps the test
		// deterministic.
		time.Sleep(20 * time.Millisecond)
		receiverSession.AcceptFiles(dstDir)
	}()
	go func() { errs <- receiverSession.Run(ctx) }()

	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	got, err := os.ReadFile(filepath.Join(dstDir, "fox.txt"))
	require.NoError(t, err)
	require.Equal(t, content, got)

	require.True(t, senderSink.has(events.TicketReady))
	require.True(t, senderSink.has(events.TransferFinished))
	require.True(t, receiverSink.has(events.OfferReceived))
	require.True(t, receiverSink.has(events.InitialProgress))
	require.True(t, receiverSink.has(events.TransferFinished))

	require.Equal(t, uint64(len(content)), senderSession.BytesTransferred())
}

func TestSessionReceiverRejects(t *testing.T) {
	ta, tb := newPipePair()
	senderMux := mux.New(ta, true)
	receiverMux := mux.New(tb, false)
	defer senderMux.Close()
	defer receiverMux.Close()

	senderEpt := &fakeEndpoint{conn: &muxConnection{m: senderMux}}
	receiverEpt := &fakeEndpoint{conn: &muxConnection{m: receiverMux}}

	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "nope.txt"), []byte("x"), 0o644))

	senderSink := &recordingSink{}
	receiverSink := &recordingSink{}

	senderSession := engine.NewSender(senderEpt, senderSink, []string{filepath.Join(srcDir, "nope.txt")})
	receiverSession := engine.NewReceiver(receiverEpt, receiverSink, ticket.Ticket{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errs := make(chan error, 2)
	go func() { errs <- senderSession.Run(ctx) }()
	go func() {
		time.Sleep(20 * time.Millisecond)
		receiverSession.RejectFiles("not interested")
	}()
	go func() { errs <- receiverSession.Run(ctx) }()

	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	require.True(t, senderSink.has(events.TransferCancelled))
	require.True(t, receiverSink.has(events.TransferCancelled))
}

func TestFileInfo(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.bin")
	require.NoError(t, os.WriteFile(file, []byte("hello"), 0o644))

	info, err := engine.FileInfo(file)
	require.NoError(t, err)
	require.Equal(t, uint64(5), info.Size)
	require.False(t, info.IsDir)

	dirInfo, err := engine.FileInfo(dir)
	require.NoError(t, err)
	require.True(t, dirInfo.IsDir)
}

// TestSessionCancelMidTransfer exercises spec.md §8 Testable Property
// 7 (cancellation terminality: exactly one TransferCancelled and no
// further BytesTransferred) and Scenario S6 (cancel mid-transfer):
// CancelTransfer is called while a stream is actively being copied,
// not before the transfer starts and not after it has finished.
func TestSessionCancelMidTransfer(t *testing.T) {
	ta, tb := newSlowPipePair(5 * time.Millisecond)
	senderMux := mux.New(ta, true)
	receiverMux := mux.New(tb, false)
	defer senderMux.Close()
	defer receiverMux.Close()

	senderEpt := &fakeEndpoint{conn: &muxConnection{m: senderMux}}
	receiverEpt := &fakeEndpoint{conn: &muxConnection{m: receiverMux}}

	srcDir := t.TempDir()
	dstDir := t.TempDir()
	content := bytes.Repeat([]byte{0xAB}, 6*transfer.ChunkSize)
	srcPath := filepath.Join(srcDir, "big.bin")
	require.NoError(t, os.WriteFile(srcPath, content, 0o644))
	dstPath := filepath.Join(dstDir, "big.bin")

	senderSink := &recordingSink{}
	receiverSink := &recordingSink{}

	senderSession := engine.NewSender(senderEpt, senderSink, []string{srcPath})
	senderSession.SetConcurrency(1)
	receiverSession := engine.NewReceiver(receiverEpt, receiverSink, ticket.Ticket{})
	receiverSession.SetConcurrency(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	errs := make(chan error, 2)
	go func() { errs <- senderSession.Run(ctx) }()
	go func() {
		time.Sleep(20 * time.Millisecond)
		receiverSession.AcceptFiles(dstDir)
	}()
	go func() { errs <- receiverSession.Run(ctx) }()

	// The slow transport keeps each chunk in flight long enough that
	// the destination file grows visibly before the stream closes;
	// wait for a partial (not empty, not complete) write before
	// cancelling so the cancel genuinely lands mid-stream.
	require.Eventually(t, func() bool {
		info, err := os.Stat(dstPath)
		return err == nil && info.Size() > 0 && uint64(info.Size()) < uint64(len(content))
	}, 2*time.Second, time.Millisecond)

	// Both sides call CancelTransfer directly rather than relying on
	// one side's Cancel wire frame racing the in-flight stream reset
	// across the (deliberately slow) transport: each Session's own
	// cancel flag is what its "if s.cancel.IsSet()" check after Run
	// consults, so setting both locally makes the resulting
	// TransferCancelled emission deterministic on both sides
	// regardless of exactly when the peer's Cancel frame or the
	// aborted stream's reset error actually arrives.
	senderSession.CancelTransfer()
	receiverSession.CancelTransfer()

	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	countCancelled := func(sink *recordingSink) int {
		n := 0
		for _, e := range sink.events {
			if e.Kind == events.TransferCancelled {
				n++
			}
		}
		return n
	}
	require.Equal(t, 1, countCancelled(senderSink))
	require.Equal(t, 1, countCancelled(receiverSink))

	requireNoBytesTransferredAfterCancel := func(sink *recordingSink) {
		cancelledAt := -1
		for i, e := range sink.events {
			if e.Kind == events.TransferCancelled {
				cancelledAt = i
				break
			}
		}
		require.NotEqual(t, -1, cancelledAt)
		for _, e := range sink.events[cancelledAt+1:] {
			require.NotEqual(t, events.BytesTransferred, e.Kind)
		}
	}
	requireNoBytesTransferredAfterCancel(senderSink)
	requireNoBytesTransferredAfterCancel(receiverSink)

	// The receiver never aborts a stream already in flight (spec.md
	// §4.5 "partially written files remain on disk"); the truncate
	// path in receiver.go's needsTruncate is what a later resume
	// attempt against this exact partial file would exercise.
	info, err := os.Stat(dstPath)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))
	require.Less(t, info.Size(), int64(len(content)))
}
