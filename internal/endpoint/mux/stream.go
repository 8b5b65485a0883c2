package mux

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

// Stream is one multiplexed logical byte stream. It satisfies
// internal/endpoint.Stream.
type Stream struct {
	id  uint32
	mux *Mux

	mu       sync.Mutex
	cond     *sync.Cond
	pending  bytes.Buffer
	eof      bool
	closeErr error
}

func newStream(m *Mux, id uint32) *Stream {
	s := &Stream{id: id, mux: m}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *Stream) deliver(b []byte) {
	s.mu.Lock()
	s.pending.Write(b)
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *Stream) deliverEOF() {
	s.mu.Lock()
	s.eof = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *Stream) closeLocal(err error) {
	s.mu.Lock()
	if s.closeErr == nil {
		s.closeErr = err
	}
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Read implements io.Reader, blocking until data, EOF, or a stream/mux
// level error is available.
func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.pending.Len() == 0 {
		if s.closeErr != nil {
			return 0, s.closeErr
		}
		if s.eof {
			return 0, io.EOF
		}
		s.cond.Wait()
	}
	return s.pending.Read(p)
}

// Write implements io.Writer by sending a data frame for this stream.
func (s *Stream) Write(p []byte) (int, error) {
	if err := s.mux.send(s.id, kindData, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// CloseWrite signals EOF to the peer without tearing down the stream's
// read side.
func (s *Stream) CloseWrite() error {
	return s.mux.send(s.id, kindCloseWrite, nil)
}

// Reset abandons the stream immediately, notifying the peer.
func (s *Stream) Reset() error {
	s.closeLocal(errors.New("mux: stream reset locally"))
	return s.mux.send(s.id, kindReset, nil)
}
