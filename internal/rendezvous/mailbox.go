package rendezvous

import (
	"fmt"
	"sync"
)

// Mailbox links exactly one host and, at most, one receiver for a
// single ticket's PeerID. A second receiver attaching to an occupied
// mailbox is rejected by the server with Busy.
type Mailbox struct {
	mu          sync.Mutex
	hasReceiver bool

	ToHost     chan []byte
	ToReceiver chan []byte
}

func newMailbox() *Mailbox {
	return &Mailbox{
		ToHost:     make(chan []byte),
		ToReceiver: make(chan []byte),
	}
}

// claim marks the mailbox as occupied, returning false if it already
// had a receiver attached.
func (m *Mailbox) claim() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasReceiver {
		return false
	}
	m.hasReceiver = true
	return true
}

// Mailboxes is the server-wide registry of open mailboxes, keyed by the
// base64 PeerID embedded in the ticket both peers hold.
type Mailboxes struct {
	m sync.Map
}

func (m *Mailboxes) Store(peerID string, box *Mailbox) {
	m.m.Store(peerID, box)
}

func (m *Mailboxes) Get(peerID string) (*Mailbox, error) {
	v, ok := m.m.Load(peerID)
	if !ok {
		return nil, fmt.Errorf("rendezvous: no mailbox for peer %q", peerID)
	}
	return v.(*Mailbox), nil
}

func (m *Mailboxes) Delete(peerID string) {
	m.m.Delete(peerID)
}
