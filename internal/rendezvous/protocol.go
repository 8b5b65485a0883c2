// Package rendezvous implements the signaling relay that lets a host and
// a receiver that each hold the same ticket find one another, exchange a
// PAKE proof of possession of the ticket's secret, and either switch to a
// direct connection or keep using this relay as the data transport
// (spec.md §4.3, §4.4).
package rendezvous

import (
	"context"
	"encoding/json"
	"fmt"

	"nhooyr.io/websocket"
)

// MsgType enumerates every signaling message exchanged over a rendezvous
// websocket connection.
type MsgType int

const (
	// HostWait is sent to the host immediately after it binds a mailbox.
	HostWait MsgType = iota
	// Busy is sent to a receiver that redeems a mailbox that already has
	// a receiver attached (spec.md Testable Property 6).
	Busy
	// ReceiverJoined tells the host a receiver has attached to its mailbox.
	ReceiverJoined
	// HostPAKE carries the host's PAKE round.
	HostPAKE
	// ReceiverPAKE carries the receiver's PAKE round, relayed to the host.
	ReceiverPAKE
	// HostPAKEReply relays the host's PAKE round back to the receiver.
	HostPAKEReply
	// HostSalt carries the key-derivation salt the host generated.
	HostSalt
	// HostDirectAddr carries the host:port a receiver may try to dial
	// directly, opened after signaling completes.
	HostDirectAddr
	// UseDirect announces the receiver was able to dial the host directly;
	// the relay connection may be closed.
	UseDirect
	// UseRelay announces the receiver could not dial the host directly;
	// this connection continues carrying the muxed, Noise-encrypted
	// session.
	UseRelay
	// Close politely ends the signaling session.
	Close
)

func (t MsgType) String() string {
	switch t {
	case HostWait:
		return "HostWait"
	case Busy:
		return "Busy"
	case ReceiverJoined:
		return "ReceiverJoined"
	case HostPAKE:
		return "HostPAKE"
	case ReceiverPAKE:
		return "ReceiverPAKE"
	case HostPAKEReply:
		return "HostPAKEReply"
	case HostSalt:
		return "HostSalt"
	case HostDirectAddr:
		return "HostDirectAddr"
	case UseDirect:
		return "UseDirect"
	case UseRelay:
		return "UseRelay"
	case Close:
		return "Close"
	default:
		return "Unknown"
	}
}

// Msg is one JSON-encoded signaling frame.
type Msg struct {
	Type    MsgType `json:"type"`
	Payload Payload `json:"payload,omitempty"`
}

// Payload is the union of fields any signaling message may carry.
type Payload struct {
	Bytes  []byte `json:"bytes,omitempty"`
	Salt   []byte `json:"salt,omitempty"`
	Reason string `json:"reason,omitempty"`
	Addr   string `json:"addr,omitempty"`
}

// BusyError is returned by ReceiverExchange when the relay reports the
// ticket's mailbox has already been claimed by another receiver.
type BusyError struct {
	Reason string
}

func (e *BusyError) Error() string { return "rendezvous: mailbox busy: " + e.Reason }

// WrongTypeError is returned when ReadMsg receives a message of a type
// the caller was not expecting.
type WrongTypeError struct {
	Expected MsgType
	Got      MsgType
}

func (e *WrongTypeError) Error() string {
	return fmt.Sprintf("rendezvous: expected message type %s, got %s", e.Expected, e.Got)
}

// Conn wraps a websocket connection with JSON framed signaling messages,
// mirroring the message-level conn wrapper the transfer engine itself
// uses once the connection is promoted to a data channel.
type Conn struct {
	WS *websocket.Conn
}

func (c *Conn) WriteMsg(ctx context.Context, msg Msg) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling rendezvous message: %w", err)
	}
	return c.WS.Write(ctx, websocket.MessageText, b)
}

func (c *Conn) ReadMsg(ctx context.Context, expected ...MsgType) (Msg, error) {
	_, b, err := c.WS.Read(ctx)
	if err != nil {
		return Msg{}, fmt.Errorf("reading rendezvous message: %w", err)
	}
	var msg Msg
	if err := json.Unmarshal(b, &msg); err != nil {
		return Msg{}, fmt.Errorf("decoding rendezvous message: %w", err)
	}
	if len(expected) != 0 && expected[0] != msg.Type {
		return Msg{}, &WrongTypeError{Expected: expected[0], Got: msg.Type}
	}
	return msg, nil
}

// Send and Recv implement the raw byte-message side of Conn, used once
// signaling is done and the connection becomes a relayed data channel
// (satisfying wsendpoint's rawMessageTransport).
func (c *Conn) Send(b []byte) error {
	return c.WS.Write(context.Background(), websocket.MessageBinary, b)
}

func (c *Conn) Recv() ([]byte, error) {
	_, b, err := c.WS.Read(context.Background())
	return b, err
}

func (c *Conn) Close() error {
	return c.WS.Close(websocket.StatusNormalClosure, "closing")
}
