// client.go is used by internal/endpoint/wsendpoint to speak the host
// and receiver sides of the signaling protocol implemented in
// handlers.go.
package rendezvous

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/schollz/pake/v3"
	"nhooyr.io/websocket"
)

// DialHost opens the host side of a mailbox for peerID and waits for
// the relay to acknowledge the session is open.
func DialHost(ctx context.Context, addr, peerID string) (*Conn, error) {
	ws, _, err := websocket.Dial(ctx, fmt.Sprintf("ws://%s/rendezvous/host/%s", addr, peerID), nil)
	if err != nil {
		return nil, fmt.Errorf("dialing rendezvous relay as host: %w", err)
	}
	rc := &Conn{WS: ws}
	if _, err := rc.ReadMsg(ctx, HostWait); err != nil {
		rc.Close()
		return nil, err
	}
	return rc, nil
}

// DialReceiver opens the websocket to peerID's receiver endpoint. It
// does not learn whether the mailbox exists or is already claimed;
// ReceiverExchange reports that as a *BusyError.
func DialReceiver(ctx context.Context, addr, peerID string) (*Conn, error) {
	ws, _, err := websocket.Dial(ctx, fmt.Sprintf("ws://%s/rendezvous/receiver/%s", addr, peerID), nil)
	if err != nil {
		return nil, fmt.Errorf("dialing rendezvous relay as receiver: %w", err)
	}
	return &Conn{WS: ws}, nil
}

// HostExchange waits for a receiver to join, then runs the host side of
// the PAKE exchange that proves both parties hold secret. It returns a
// confirmCrypt derived from the resulting session key.
func HostExchange(ctx context.Context, rc *Conn, secret []byte) (confirmCrypt, error) {
	if _, err := rc.ReadMsg(ctx, ReceiverJoined); err != nil {
		return confirmCrypt{}, fmt.Errorf("waiting for receiver: %w", err)
	}

	p, err := pake.InitCurve(secret, 0, "p256")
	if err != nil {
		return confirmCrypt{}, fmt.Errorf("initializing pake curve: %w", err)
	}
	if err := rc.WriteMsg(ctx, Msg{Type: HostPAKE, Payload: Payload{Bytes: p.Bytes()}}); err != nil {
		return confirmCrypt{}, fmt.Errorf("sending host pake round: %w", err)
	}
	reply, err := rc.ReadMsg(ctx, ReceiverPAKE)
	if err != nil {
		return confirmCrypt{}, fmt.Errorf("reading receiver pake round: %w", err)
	}
	if err := p.Update(reply.Payload.Bytes); err != nil {
		return confirmCrypt{}, fmt.Errorf("updating pake state: %w", err)
	}

	sessionKey, err := p.SessionKey()
	if err != nil {
		return confirmCrypt{}, fmt.Errorf("deriving pake session key: %w", err)
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return confirmCrypt{}, fmt.Errorf("generating salt: %w", err)
	}
	if err := rc.WriteMsg(ctx, Msg{Type: HostSalt, Payload: Payload{Salt: salt}}); err != nil {
		return confirmCrypt{}, fmt.Errorf("sending salt: %w", err)
	}
	return newConfirmCrypt(sessionKey, salt), nil
}

// ReceiverExchange runs the receiver side of the PAKE exchange.
func ReceiverExchange(ctx context.Context, rc *Conn, secret []byte) (confirmCrypt, error) {
	joined, err := rc.ReadMsg(ctx)
	if err != nil {
		return confirmCrypt{}, fmt.Errorf("waiting for join acknowledgement: %w", err)
	}
	if joined.Type == Busy {
		return confirmCrypt{}, &BusyError{Reason: joined.Payload.Reason}
	}
	if joined.Type != ReceiverJoined {
		return confirmCrypt{}, &WrongTypeError{Expected: ReceiverJoined, Got: joined.Type}
	}

	p, err := pake.InitCurve(secret, 1, "p256")
	if err != nil {
		return confirmCrypt{}, fmt.Errorf("initializing pake curve: %w", err)
	}
	if err := rc.WriteMsg(ctx, Msg{Type: ReceiverPAKE, Payload: Payload{Bytes: p.Bytes()}}); err != nil {
		return confirmCrypt{}, fmt.Errorf("sending receiver pake round: %w", err)
	}
	reply, err := rc.ReadMsg(ctx, HostPAKEReply)
	if err != nil {
		return confirmCrypt{}, fmt.Errorf("reading host pake round: %w", err)
	}
	if err := p.Update(reply.Payload.Bytes); err != nil {
		return confirmCrypt{}, fmt.Errorf("updating pake state: %w", err)
	}

	sessionKey, err := p.SessionKey()
	if err != nil {
		return confirmCrypt{}, fmt.Errorf("deriving pake session key: %w", err)
	}
	saltMsg, err := rc.ReadMsg(ctx, HostSalt)
	if err != nil {
		return confirmCrypt{}, fmt.Errorf("reading salt: %w", err)
	}
	return newConfirmCrypt(sessionKey, saltMsg.Payload.Salt), nil
}

// ConfirmHost proves to the receiver that this host derived the same
// session key, by decrypting the receiver's nonce and echoing it back
// re-encrypted.
func ConfirmHost(cc confirmCrypt, rc *Conn) error {
	enc, err := rc.Recv()
	if err != nil {
		return fmt.Errorf("reading confirm nonce: %w", err)
	}
	nonce, err := cc.Decrypt(enc)
	if err != nil {
		return fmt.Errorf("decrypting confirm nonce, secret mismatch: %w", err)
	}
	ack, err := cc.Encrypt(nonce)
	if err != nil {
		return fmt.Errorf("encrypting confirm ack: %w", err)
	}
	return rc.Send(ack)
}

// ConfirmReceiver sends a random nonce encrypted under the derived
// session key and checks the host echoes it back correctly.
func ConfirmReceiver(cc confirmCrypt, rc *Conn) error {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generating confirm nonce: %w", err)
	}
	enc, err := cc.Encrypt(nonce)
	if err != nil {
		return fmt.Errorf("encrypting confirm nonce: %w", err)
	}
	if err := rc.Send(enc); err != nil {
		return fmt.Errorf("sending confirm nonce: %w", err)
	}
	reply, err := rc.Recv()
	if err != nil {
		return fmt.Errorf("reading confirm ack: %w", err)
	}
	got, err := cc.Decrypt(reply)
	if err != nil {
		return fmt.Errorf("decrypting confirm ack, secret mismatch: %w", err)
	}
	for i := range nonce {
		if got[i] != nonce[i] {
			return fmt.Errorf("confirm ack mismatch, secret mismatch")
		}
	}
	return nil
}
