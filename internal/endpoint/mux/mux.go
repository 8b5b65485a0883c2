// Package mux multiplexes the one control stream and many per-file data
// streams the protocol needs (spec.md §4.2, §4.5) over a single
// message-oriented transport connection. It plays the role a real QUIC
// implementation's native stream multiplexing would play if this module
// ran over one.
package mux

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MessageTransport is the minimal message-oriented primitive the mux
// needs: a transport that delivers whole messages, exactly what
// nhooyr.io/websocket (wrapped with Noise encryption) provides.
type MessageTransport interface {
	Send(b []byte) error
	Recv() ([]byte, error)
	Close() error
}

type frameKind byte

const (
	kindData       frameKind = 1
	kindCloseWrite frameKind = 2
	kindReset      frameKind = 3
)

// controlStreamID is the single bidirectional control stream's
// well-known id; it exists implicitly for the lifetime of a connection.
const controlStreamID uint32 = 0

// Mux demultiplexes incoming frames into per-stream byte streams and
// multiplexes outgoing ones. Only the side that calls OpenUni allocates
// new uni stream ids; in this protocol that is always the sender.
type Mux struct {
	transport MessageTransport

	mu      sync.Mutex
	streams map[uint32]*Stream
	nextID  uint32 // this side's next uni id, offset to avoid collision

	acceptUni chan *Stream

	closeOnce sync.Once
	closed    chan struct{}
	runErr    error
}

// New wraps transport with the mux. isInitiator partitions the id space
// so both sides can allocate new uni stream ids without colliding.
func New(transport MessageTransport, isInitiator bool) *Mux {
	m := &Mux{
		transport: transport,
		streams:   make(map[uint32]*Stream),
		acceptUni: make(chan *Stream, 64),
		closed:    make(chan struct{}),
	}
	if isInitiator {
		m.nextID = 1 // odd ids
	} else {
		m.nextID = 2 // even ids, control stream keeps id 0
	}
	control := newStream(m, controlStreamID)
	m.streams[controlStreamID] = control
	go m.run()
	return m
}

// Control returns the pre-established, always-open control stream.
func (m *Mux) Control() *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams[controlStreamID]
}

// OpenUni allocates a new unidirectional data stream id and returns a
// local handle the caller can write to.
func (m *Mux) OpenUni() (*Stream, error) {
	m.mu.Lock()
	id := m.nextID
	m.nextID += 2
	s := newStream(m, id)
	m.streams[id] = s
	m.mu.Unlock()
	return s, nil
}

// AcceptUni blocks until the peer opens a new uni stream.
func (m *Mux) AcceptUni() (*Stream, error) {
	select {
	case s := <-m.acceptUni:
		return s, nil
	case <-m.closed:
		return nil, m.err()
	}
}

func (m *Mux) err() error {
	if m.runErr != nil {
		return m.runErr
	}
	return io.ErrClosedPipe
}

func (m *Mux) Close() error {
	m.closeOnce.Do(func() {
		close(m.closed)
		m.transport.Close()
		m.mu.Lock()
		for _, s := range m.streams {
			s.closeLocal(io.ErrClosedPipe)
		}
		m.mu.Unlock()
	})
	return nil
}

func (m *Mux) run() {
	for {
		raw, err := m.transport.Recv()
		if err != nil {
			m.runErr = err
			m.Close()
			return
		}
		if err := m.dispatch(raw); err != nil {
			m.runErr = err
			m.Close()
			return
		}
	}
}

// frame layout: [u8 kind][u32 BE stream id][u32 BE payload len][payload]
func (m *Mux) dispatch(raw []byte) error {
	if len(raw) < 9 {
		return fmt.Errorf("mux: short frame")
	}
	kind := frameKind(raw[0])
	id := binary.BigEndian.Uint32(raw[1:5])
	length := binary.BigEndian.Uint32(raw[5:9])
	if uint32(len(raw)-9) < length {
		return fmt.Errorf("mux: truncated frame")
	}
	payload := raw[9 : 9+length]

	m.mu.Lock()
	s, ok := m.streams[id]
	if !ok {
		s = newStream(m, id)
		m.streams[id] = s
		m.mu.Unlock()
		select {
		case m.acceptUni <- s:
		case <-m.closed:
			return nil
		}
	} else {
		m.mu.Unlock()
	}

	switch kind {
	case kindData:
		s.deliver(payload)
	case kindCloseWrite:
		s.deliverEOF()
	case kindReset:
		s.closeLocal(errStreamReset)
	default:
		return fmt.Errorf("mux: unknown frame kind %d", kind)
	}
	return nil
}

func (m *Mux) send(id uint32, kind frameKind, payload []byte) error {
	header := make([]byte, 9)
	header[0] = byte(kind)
	binary.BigEndian.PutUint32(header[1:5], id)
	binary.BigEndian.PutUint32(header[5:9], uint32(len(payload)))
	return m.transport.Send(append(header, payload...))
}

var errStreamReset = errors.New("mux: stream reset by peer")
