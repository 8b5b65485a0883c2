// Package endpoint abstracts the QUIC-like transport and peer discovery
// mechanism the protocol engine runs over (spec.md §4.2). The engine
// depends only on the interfaces in this file; internal/endpoint/wsendpoint
// provides a concrete implementation over WebSocket connections, Noise
// authenticated encryption, and a rendezvous relay.
package endpoint

import (
	"context"
	"io"

	"github.com/qstransfer/qs/internal/ticket"
)

// ConnectionClass is surfaced to the host for display only; it never
// affects protocol semantics (spec.md §3).
type ConnectionClass int

const (
	Direct ConnectionClass = iota
	Mixed
	Relayed
)

func (c ConnectionClass) String() string {
	switch c {
	case Direct:
		return "Direct"
	case Mixed:
		return "Mixed"
	case Relayed:
		return "Relayed"
	default:
		return "Unknown"
	}
}

// Stream is an ordered, reliable, independently flow-controlled byte
// stream. A unidirectional stream's writer calls CloseWrite to signal
// EOF to the reader without closing the whole connection.
type Stream interface {
	io.Reader
	io.Writer
	// CloseWrite signals that no more bytes will be written on this
	// stream. It is a no-op on streams opened read-only.
	CloseWrite() error
	// Reset abandons the stream immediately without a clean close,
	// used when cancellation must not wait on in-flight writes.
	Reset() error
}

// Connection is one authenticated, encrypted session with a remote peer.
type Connection interface {
	Class() ConnectionClass
	RemoteID() ticket.PeerID

	// OpenBi opens the single bidirectional control stream. Calling it
	// more than once per connection is a programmer error in this
	// protocol (spec.md only ever uses one control stream per session).
	OpenBi(ctx context.Context) (Stream, error)
	AcceptBi(ctx context.Context) (Stream, error)

	// OpenUni opens a new unidirectional data stream, used once per
	// transmitted file (spec.md §4.5).
	OpenUni(ctx context.Context) (Stream, error)
	AcceptUni(ctx context.Context) (Stream, error)

	Close(code int, reason string) error
}

// Endpoint is a bound local transport identity capable of publishing a
// ticket, accepting one inbound connection, and dialing a ticket a peer
// published.
type Endpoint interface {
	// NodeID returns this endpoint's identity, used as the PeerID
	// embedded in tickets this endpoint mints.
	NodeID() ticket.PeerID

	// MakeTicket mints a ticket embedding this endpoint's identity and
	// the given address hints.
	MakeTicket(addrHints []string, appTag string) (ticket.Ticket, error)

	// Accept waits for the first incoming authenticated connection that
	// redeems a ticket this endpoint minted. Any subsequent dialer for
	// the same ticket is rejected with BusyErr (spec.md §4.3 step 2,
	// Testable Property 6).
	Accept(ctx context.Context) (Connection, error)

	// Connect dials the peer described by t.
	Connect(ctx context.Context, t ticket.Ticket) (Connection, error)

	// Close releases any resources (listening sockets, rendezvous
	// registrations) held by the endpoint.
	Close() error
}

// BusyErr is returned by an Endpoint when a second dialer attempts to
// redeem a ticket whose first connection has already been accepted.
type BusyErr struct {
	Reason string
}

func (e *BusyErr) Error() string { return "endpoint: busy: " + e.Reason }
