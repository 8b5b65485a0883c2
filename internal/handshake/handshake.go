// Package handshake drives the Hello/HelloAck exchange that opens every
// session on a connection's control stream, establishing protocol
// version compatibility and the session nonce both sides tag subsequent
// messages with (spec.md §4.3).
package handshake

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/qstransfer/qs/internal/endpoint"
	"github.com/qstransfer/qs/internal/wire"
)

// ProtocolVersion is this build's wire protocol version. A receiver
// dialing a sender running a different version is rejected.
const ProtocolVersion = 1

// Timeout bounds the whole handshake exchange on either side (spec.md §5).
const Timeout = 30 * time.Second

// MaxOfferBytes is advertised by the receiver as a hint for how large an
// offer it is willing to buffer; the sender is not required to enforce it.
const MaxOfferBytes = 64 << 20

// SessionNonceLength is the size of the sender-chosen nonce that tags
// every message for the session.
const SessionNonceLength = 16

// Result is what a completed handshake hands back to the caller: the
// control stream (already consumed for handshake framing, ready for
// Offer/Accept traffic) and the session nonce.
type Result struct {
	Control      endpoint.Stream
	SessionNonce []byte
}

// VersionError is returned when the two peers' protocol versions are
// incompatible; it is surfaced to the host as a ProtocolError.
type VersionError struct {
	Reason string
}

func (e *VersionError) Error() string { return "handshake: version mismatch: " + e.Reason }

// Sender runs the sender side of the handshake: accept the control
// stream, read Hello, and reply with HelloAck.
func Sender(ctx context.Context, conn endpoint.Connection) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	control, err := conn.AcceptBi(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("handshake: accepting control stream: %w", err)
	}

	frame, err := wire.ReadFrame(&streamReader{ctx: ctx, s: control})
	if err != nil {
		return Result{}, fmt.Errorf("handshake: reading hello: %w", err)
	}
	if frame.Tag != wire.TagHello {
		return Result{}, fmt.Errorf("handshake: expected Hello, got tag %v", frame.Tag)
	}
	hello := wire.DecodeHello(frame.Payload)

	if hello.ProtocolVersion != ProtocolVersion {
		ack := wire.HelloAck{Ok: false, Reason: "version"}
		_ = wire.WriteFrame(control, wire.TagHelloAck, ack.Encode())
		return Result{}, &VersionError{Reason: fmt.Sprintf("receiver speaks version %d, sender speaks %d", hello.ProtocolVersion, ProtocolVersion)}
	}

	nonce := make([]byte, SessionNonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return Result{}, fmt.Errorf("handshake: generating session nonce: %w", err)
	}

	ack := wire.HelloAck{
		Ok:              true,
		ProtocolVersion: ProtocolVersion,
		ServerTimeUnix:  time.Now().Unix(),
		SessionNonce:    nonce,
	}
	if err := wire.WriteFrame(control, wire.TagHelloAck, ack.Encode()); err != nil {
		return Result{}, fmt.Errorf("handshake: writing hello ack: %w", err)
	}

	return Result{Control: control, SessionNonce: nonce}, nil
}

// Receiver runs the receiver side of the handshake: open the control
// stream, send Hello, and wait for HelloAck.
func Receiver(ctx context.Context, conn endpoint.Connection) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	control, err := conn.OpenBi(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("handshake: opening control stream: %w", err)
	}

	hello := wire.Hello{ProtocolVersion: ProtocolVersion, MaxOfferBytes: MaxOfferBytes}
	if err := wire.WriteFrame(control, wire.TagHello, hello.Encode()); err != nil {
		return Result{}, fmt.Errorf("handshake: writing hello: %w", err)
	}

	frame, err := wire.ReadFrame(&streamReader{ctx: ctx, s: control})
	if err != nil {
		return Result{}, fmt.Errorf("handshake: reading hello ack: %w", err)
	}
	if frame.Tag != wire.TagHelloAck {
		return Result{}, fmt.Errorf("handshake: expected HelloAck, got tag %v", frame.Tag)
	}
	ack := wire.DecodeHelloAck(frame.Payload)
	if !ack.Ok {
		return Result{}, &VersionError{Reason: ack.Reason}
	}

	return Result{Control: control, SessionNonce: ack.SessionNonce}, nil
}

// streamReader adapts an endpoint.Stream's blocking Read to respect a
// context deadline by racing the read against ctx.Done in a goroutine;
// streams themselves take no context (spec.md's Stream interface is
// plain io.Reader), so this is the boundary where the handshake's 30s
// timeout actually bites.
type streamReader struct {
	ctx context.Context
	s   endpoint.Stream
}

func (r *streamReader) Read(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := r.s.Read(p)
		done <- result{n, err}
	}()
	select {
	case <-r.ctx.Done():
		return 0, r.ctx.Err()
	case res := <-done:
		return res.n, res.err
	}
}
