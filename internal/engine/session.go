// Package engine wires the protocol packages together into the single
// state machine of spec.md §4.5 and exposes it through the host command
// API of spec.md §6: upload_files, download_files, accept_files,
// reject_files, cancel_transfer, bytes_transferred, file_info. Nothing
// outside this package speaks the wire protocol directly.
package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/qstransfer/qs/internal/endpoint"
	"github.com/qstransfer/qs/internal/events"
	"github.com/qstransfer/qs/internal/ticket"
	"github.com/qstransfer/qs/internal/transfer"
	"github.com/qstransfer/qs/internal/wire"
)

// Role distinguishes which side of a session an instance drives.
type Role int

const (
	RoleSender Role = iota
	RoleReceiver
)

// decision carries the host's reply to an OfferReceived event into the
// blocked receiver goroutine.
type decision struct {
	accept  bool
	destDir string
	reason  string
}

// Session drives one upload_files or download_files call end to end.
// Events are pushed to Sink; the host drives AcceptFiles/RejectFiles/
// CancelTransfer concurrently with Run.
type Session struct {
	role Role
	ept  endpoint.Endpoint
	sink events.EventSink

	// sender-only
	paths []string

	// receiver-only
	peerTicket ticket.Ticket

	concurrency int

	counter events.Counter
	cancel  events.CancelFlag

	decisionCh chan decision
	decideOnce sync.Once

	cancelSignal chan struct{}
	cancelOnce   sync.Once

	mu      sync.Mutex
	conn    endpoint.Connection
	control endpoint.Stream
}

// NewSender builds a Session that publishes a ticket for paths and
// waits for a single peer to redeem it (spec.md §6 "upload_files").
func NewSender(ept endpoint.Endpoint, sink events.EventSink, paths []string) *Session {
	return &Session{
		role:         RoleSender,
		ept:          ept,
		sink:         sink,
		paths:        paths,
		decisionCh:   make(chan decision, 1),
		cancelSignal: make(chan struct{}),
	}
}

// NewReceiver builds a Session that dials the peer named by t (spec.md
// §6 "download_files").
func NewReceiver(ept endpoint.Endpoint, sink events.EventSink, t ticket.Ticket) *Session {
	return &Session{
		role:         RoleReceiver,
		ept:          ept,
		sink:         sink,
		peerTicket:   t,
		decisionCh:   make(chan decision, 1),
		cancelSignal: make(chan struct{}),
	}
}

// SetConcurrency overrides the default number of pipelined per-file
// streams (spec.md §4.5 "typical 4-8"); zero means use the package
// default.
func (s *Session) SetConcurrency(k int) { s.concurrency = k }

// Run drives the session to a terminal state, returning nil on a clean
// TransferFinished/TransferCancelled/Rejected outcome and a
// *SessionError on anything the host should treat as a failure.
func (s *Session) Run(ctx context.Context) error {
	switch s.role {
	case RoleSender:
		return s.runSender(ctx)
	case RoleReceiver:
		return s.runReceiver(ctx)
	default:
		return fmt.Errorf("engine: session has no role")
	}
}

// AcceptFiles unblocks a receiver session waiting on OfferReceived,
// directing it to materialize into destinationDir (spec.md §6
// "accept_files").
func (s *Session) AcceptFiles(destinationDir string) {
	s.sendDecision(decision{accept: true, destDir: destinationDir})
}

// RejectFiles unblocks a receiver session, sending RejectOffer to the
// peer (spec.md §6 "reject_files").
func (s *Session) RejectFiles(reason string) {
	s.sendDecision(decision{accept: false, reason: reason})
}

func (s *Session) sendDecision(d decision) {
	s.decideOnce.Do(func() {
		s.decisionCh <- d
	})
}

// CancelTransfer sets the session-scoped cancel signal and, if the
// control stream is already open, tells the peer (spec.md §6
// "cancel_transfer", §4.5 "a host-initiated cancel ... behaves exactly
// as if a peer Cancel arrived").
func (s *Session) CancelTransfer() {
	s.cancel.Set()
	s.cancelOnce.Do(func() { close(s.cancelSignal) })
	control := s.getControl()
	if control == nil {
		return
	}
	c := wire.Cancel{Reason: "cancelled by host"}
	_ = wire.WriteFrame(control, wire.TagCancel, c.Encode())
}

// BytesTransferred is the synchronous poll query of spec.md §4.6.
func (s *Session) BytesTransferred() uint64 { return s.counter.Load() }

// FileInfoResult is the result of the file_info host command.
type FileInfoResult struct {
	Size  uint64
	IsDir bool
}

// FileInfo answers spec.md §6's "file_info" command. It needs no
// session state, so it is a package function rather than a method.
func FileInfo(path string) (FileInfoResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileInfoResult{}, fmt.Errorf("engine: file_info %q: %w", path, err)
	}
	var size uint64
	if !info.IsDir() {
		size = uint64(info.Size())
	}
	return FileInfoResult{Size: size, IsDir: info.IsDir()}, nil
}

func (s *Session) setConn(c endpoint.Connection) {
	s.mu.Lock()
	s.conn = c
	s.mu.Unlock()
}

func (s *Session) setControl(c endpoint.Stream) {
	s.mu.Lock()
	s.control = c
	s.mu.Unlock()
}

func (s *Session) getControl() endpoint.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.control
}

func (s *Session) emit(e events.Event) {
	if s.sink != nil {
		s.sink.OnEvent(e)
	}
}

// fail emits the Error event for a classified failure and returns it
// as the error Run hands back. A nil se (err==nil at the call site)
// is not expected to reach here; callers only call fail on a non-nil
// error.
func (s *Session) fail(se *SessionError) error {
	s.emit(events.Event{Kind: events.Error, ErrorKind: se.Kind, Message: se.Message})
	return se
}

func protocolError(format string, args ...interface{}) *SessionError {
	return &SessionError{Kind: events.ProtocolError, Message: fmt.Sprintf(format, args...)}
}

func (s *Session) concurrencyOrDefault() int {
	if s.concurrency > 0 {
		return s.concurrency
	}
	return transfer.DefaultConcurrency
}

// watchControlForCancel runs for the duration of the Transferring state,
// reading control frames so a peer-initiated Cancel is observed even
// while the session's main goroutine is blocked inside the transfer
// engine's errgroup.Wait (spec.md §4.5 "Either side may send Cancel at
// any time after Handshake"). It force-closes the connection so any
// stream read the transfer engine is blocked in wakes up.
func (s *Session) watchControlForCancel(control io.Reader, conn endpoint.Connection) {
	for {
		frame, err := wire.ReadFrame(control)
		if err != nil {
			return
		}
		if frame.Tag == wire.TagCancel {
			s.cancel.Set()
			_ = conn.Close(0, "peer cancelled")
			return
		}
	}
}
