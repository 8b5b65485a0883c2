package wsendpoint

import (
	"context"

	"github.com/qstransfer/qs/internal/endpoint"
	"github.com/qstransfer/qs/internal/endpoint/mux"
	"github.com/qstransfer/qs/internal/ticket"
)

// connection adapts a mux.Mux, already running over a Noise-encrypted
// transport, to endpoint.Connection.
type connection struct {
	m        *mux.Mux
	class    endpoint.ConnectionClass
	remoteID ticket.PeerID
}

func newConnection(m *mux.Mux, class endpoint.ConnectionClass, remoteID ticket.PeerID) *connection {
	return &connection{m: m, class: class, remoteID: remoteID}
}

func (c *connection) Class() endpoint.ConnectionClass  { return c.class }
func (c *connection) RemoteID() ticket.PeerID          { return c.remoteID }
func (c *connection) Close(_ int, _ string) error      { return c.m.Close() }

func (c *connection) OpenBi(_ context.Context) (endpoint.Stream, error) {
	return c.m.Control(), nil
}

func (c *connection) AcceptBi(_ context.Context) (endpoint.Stream, error) {
	return c.m.Control(), nil
}

func (c *connection) OpenUni(_ context.Context) (endpoint.Stream, error) {
	return c.m.OpenUni()
}

func (c *connection) AcceptUni(_ context.Context) (endpoint.Stream, error) {
	return c.m.AcceptUni()
}
