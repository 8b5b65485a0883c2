package mux_test

import (
	"io"
	"testing"
	"time"

	"github.com/qstransfer/qs/internal/endpoint/mux"
	"github.com/stretchr/testify/require"
)

// pipeTransport connects two Mux instances in-process via channels,
// standing in for an encrypted websocket message transport in tests.
type pipeTransport struct {
	out    chan []byte
	in     chan []byte
	closed chan struct{}
}

func newPipePair() (*pipeTransport, *pipeTransport) {
	ab := make(chan []byte, 16)
	ba := make(chan []byte, 16)
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

func TestControlStreamRoundTrip(t *testing.T) {
	ta, tb := newPipePair()
	a := mux.New(ta, true)
	b := mux.New(tb, false)
	defer a.Close()
	defer b.Close()

	_, err := a.Control().Write([]byte("hello"))
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, err := b.Control().Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
}

func TestUniStreamOpenAcceptAndEOF(t *testing.T) {
	ta, tb := newPipePair()
	a := mux.New(ta, true)
	b := mux.New(tb, false)
	defer a.Close()
	defer b.Close()

	s, err := a.OpenUni()
	require.NoError(t, err)
	_, err = s.Write([]byte("chunk1"))
	require.NoError(t, err)
	_, err = s.Write([]byte("chunk2"))
	require.NoError(t, err)
	require.NoError(t, s.CloseWrite())

	accepted := make(chan *mux.Stream, 1)
	go func() {
		got, err := b.AcceptUni()
		require.NoError(t, err)
		accepted <- got
	}()

	var got *mux.Stream
	select {
	case got = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for AcceptUni")
	}

	all, err := io.ReadAll(got)
	require.NoError(t, err)
	require.Equal(t, "chunk1chunk2", string(all))
}
