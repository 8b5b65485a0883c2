// Package ticket implements the opaque, single-use session capability a
// sender publishes and a receiver redeems (spec.md §3 "Ticket").
package ticket

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/qstransfer/qs/internal/wire"
)

// PeerID identifies a peer on the transport. It is the peer's Noise
// static public key (see internal/endpoint/wsendpoint), 32 bytes.
type PeerID [32]byte

func (p PeerID) String() string { return base64.RawURLEncoding.EncodeToString(p[:]) }

// SecretLength is the size of the one-time PAKE secret embedded in a
// ticket. It authenticates possession of the ticket during rendezvous
// signaling; it is unrelated to the Noise transport key.
const SecretLength = 16

// Ticket is the out-of-band information a human shares to pair two
// peers for exactly one session.
type Ticket struct {
	PeerID PeerID
	Addrs  []string // candidate addresses, direct hints first, relay hints last
	AppTag string
	Secret [SecretLength]byte
}

const (
	tfPeerID byte = 1
	tfAddrs  byte = 2
	tfAppTag byte = 3
	tfSecret byte = 4
)

// New mints a fresh ticket for the given identity and address candidates,
// generating a random one-time secret.
func New(peerID PeerID, addrs []string, appTag string) (Ticket, error) {
	t := Ticket{PeerID: peerID, Addrs: addrs, AppTag: appTag}
	if _, err := rand.Read(t.Secret[:]); err != nil {
		return Ticket{}, fmt.Errorf("generating ticket secret: %w", err)
	}
	return t, nil
}

// Encode serialises the ticket to its opaque binary form.
func (t Ticket) Encode() []byte {
	f := wire.NewFields()
	f.Put(tfPeerID, t.PeerID[:])
	f.PutString(tfAddrs, strings.Join(t.Addrs, "\x00"))
	f.PutString(tfAppTag, t.AppTag)
	f.Put(tfSecret, t.Secret[:])
	return f.Encode()
}

// String renders the ticket as the base64 string a human may copy.
func (t Ticket) String() string {
	return base64.RawURLEncoding.EncodeToString(t.Encode())
}

// Decode parses a ticket from its opaque binary form.
func Decode(b []byte) (Ticket, error) {
	f, err := wire.DecodeFields(b)
	if err != nil {
		return Ticket{}, fmt.Errorf("decoding ticket: %w", err)
	}
	var t Ticket
	id, ok := f.Get(tfPeerID)
	if !ok || len(id) != 32 {
		return Ticket{}, fmt.Errorf("decoding ticket: malformed peer id")
	}
	copy(t.PeerID[:], id)
	if addrs := f.GetString(tfAddrs); addrs != "" {
		t.Addrs = strings.Split(addrs, "\x00")
	}
	t.AppTag = f.GetString(tfAppTag)
	secret, ok := f.Get(tfSecret)
	if !ok || len(secret) != SecretLength {
		return Ticket{}, fmt.Errorf("decoding ticket: malformed secret")
	}
	copy(t.Secret[:], secret)
	return t, nil
}

// Parse parses a ticket from the base64 string form a human shared.
func Parse(s string) (Ticket, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Ticket{}, fmt.Errorf("decoding ticket base64: %w", err)
	}
	return Decode(b)
}
