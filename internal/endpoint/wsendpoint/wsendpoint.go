// Package wsendpoint implements internal/endpoint.Endpoint over
// WebSocket connections, using internal/rendezvous as the signaling
// relay, the Noise IK pattern for transport authentication and
// encryption, and internal/endpoint/mux to carry the control stream
// and per-file data streams over the resulting connection (spec.md
// §4.2, §4.3).
package wsendpoint

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/qstransfer/qs/internal/endpoint"
	"github.com/qstransfer/qs/internal/endpoint/mux"
	"github.com/qstransfer/qs/internal/rendezvous"
	"github.com/qstransfer/qs/internal/ticket"
	"nhooyr.io/websocket"
)

// directProbeTimeout bounds how long the receiver spends trying to
// reach the host directly before falling back to the relay.
const directProbeTimeout = 3 * time.Second

// Endpoint binds a fresh Noise identity and talks to a single
// rendezvous relay for discovery and signaling.
type Endpoint struct {
	rendezvousAddr string
	local          staticKeypair
	pendingTicket  *ticket.Ticket
}

// New constructs an Endpoint using rendezvousAddr (host:port) as its
// signaling relay. The identity is a fresh Noise keypair generated for
// this endpoint's lifetime, resolving spec.md's open question about
// PeerID stability in favor of a new identity per process rather than
// a persisted long-term one (see DESIGN.md).
func New(rendezvousAddr string) (*Endpoint, error) {
	kp, err := generateStaticKeypair()
	if err != nil {
		return nil, err
	}
	return &Endpoint{rendezvousAddr: rendezvousAddr, local: kp}, nil
}

func (e *Endpoint) NodeID() ticket.PeerID {
	var id ticket.PeerID
	copy(id[:], e.local.dh.Public)
	return id
}

func (e *Endpoint) MakeTicket(addrHints []string, appTag string) (ticket.Ticket, error) {
	t, err := ticket.New(e.NodeID(), addrHints, appTag)
	if err != nil {
		return ticket.Ticket{}, err
	}
	e.pendingTicket = &t
	return t, nil
}

func (e *Endpoint) Close() error { return nil }

// Accept waits for a receiver to redeem the most recently minted
// ticket. It plays the Noise responder role since the dialing receiver
// already knows this endpoint's static key from the ticket.
func (e *Endpoint) Accept(ctx context.Context) (endpoint.Connection, error) {
	if e.pendingTicket == nil {
		return nil, fmt.Errorf("wsendpoint: Accept called before MakeTicket")
	}
	t := *e.pendingTicket
	peerID := t.PeerID.String()

	rc, err := rendezvous.DialHost(ctx, e.rendezvousAddr, peerID)
	if err != nil {
		return nil, fmt.Errorf("registering with rendezvous relay: %w", err)
	}
	defer rc.Close()

	cc, err := rendezvous.HostExchange(ctx, rc, t.Secret[:])
	if err != nil {
		return nil, fmt.Errorf("pake exchange with receiver: %w", err)
	}
	if err := rendezvous.ConfirmHost(cc, rc); err != nil {
		return nil, fmt.Errorf("confirming shared secret: %w", err)
	}

	// Open a direct listener and advertise it; the receiver alone
	// decides whether it could reach it, and its decision is the one
	// source of truth both sides act on (spec.md §4.3 step 3).
	listener, directDone, listenErr := startDirectListener()
	if listener != nil {
		defer listener.Close()
	}
	localAddr := ""
	if listenErr == nil {
		localAddr = directAdvertiseAddr(listener)
	}
	if err := rc.WriteMsg(ctx, rendezvous.Msg{Type: rendezvous.HostDirectAddr, Payload: rendezvous.Payload{Addr: localAddr}}); err != nil {
		return nil, fmt.Errorf("advertising direct address: %w", err)
	}

	decisionMsg, err := rc.ReadMsg(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading transport mode decision: %w", err)
	}

	var raw rawMessageTransport
	if decisionMsg.Type == rendezvous.UseDirect {
		select {
		case conn := <-directDone:
			raw = conn
		case <-time.After(directProbeTimeout):
			return nil, fmt.Errorf("receiver reported a direct connection but none arrived")
		}
	} else {
		raw = rc
	}

	nt, remoteStatic, err := acceptNoiseIK(raw, e.local)
	if err != nil {
		return nil, fmt.Errorf("noise handshake: %w", err)
	}

	class := endpoint.Relayed
	if raw != rc {
		class = endpoint.Direct
	}
	m := mux.New(nt, false)
	var remoteID ticket.PeerID
	copy(remoteID[:], remoteStatic[:])
	return newConnection(m, class, remoteID), nil
}

// Connect dials the peer described by t. It plays the Noise initiator
// role since it already knows the host's static key from the ticket.
func (e *Endpoint) Connect(ctx context.Context, t ticket.Ticket) (endpoint.Connection, error) {
	peerID := t.PeerID.String()
	rc, err := rendezvous.DialReceiver(ctx, e.rendezvousAddr, peerID)
	if err != nil {
		return nil, fmt.Errorf("attaching to rendezvous relay: %w", err)
	}
	defer rc.Close()

	cc, err := rendezvous.ReceiverExchange(ctx, rc, t.Secret[:])
	if err != nil {
		var busy *rendezvous.BusyError
		if errors.As(err, &busy) {
			return nil, &endpoint.BusyErr{Reason: busy.Reason}
		}
		return nil, fmt.Errorf("pake exchange with host: %w", err)
	}
	if err := rendezvous.ConfirmReceiver(cc, rc); err != nil {
		return nil, fmt.Errorf("confirming shared secret: %w", err)
	}

	addrMsg, err := rc.ReadMsg(ctx, rendezvous.HostDirectAddr)
	if err != nil {
		return nil, fmt.Errorf("reading host direct address: %w", err)
	}

	var raw rawMessageTransport
	hints := t.Addrs
	if addrMsg.Payload.Addr != "" {
		hints = append([]string{addrMsg.Payload.Addr}, hints...)
	}
	if conn := probeDirect(ctx, hints); conn != nil {
		if err := rc.WriteMsg(ctx, rendezvous.Msg{Type: rendezvous.UseDirect}); err != nil {
			return nil, fmt.Errorf("announcing direct connection: %w", err)
		}
		raw = conn
	} else {
		if err := rc.WriteMsg(ctx, rendezvous.Msg{Type: rendezvous.UseRelay}); err != nil {
			return nil, fmt.Errorf("announcing relay fallback: %w", err)
		}
		raw = rc
	}

	var remoteStatic [32]byte
	copy(remoteStatic[:], t.PeerID[:])
	nt, _, err := dialNoiseIK(raw, e.local, remoteStatic)
	if err != nil {
		return nil, fmt.Errorf("noise handshake: %w", err)
	}

	class := endpoint.Relayed
	if raw != rc {
		class = endpoint.Direct
	}
	m := mux.New(nt, true)
	return newConnection(m, class, t.PeerID), nil
}

// startDirectListener opens an ephemeral local HTTP+WS server that a
// receiver may dial directly. It is grounded in the plain direct/relay
// fallback the underlying engine's sender side has always used: bind a
// throwaway port, advertise it, and race it against the relay.
func startDirectListener() (net.Listener, chan rawMessageTransport, error) {
	done := make(chan rawMessageTransport, 1)

	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return nil, done, err
	}

	routes := http.NewServeMux()
	routes.HandleFunc("/qs-direct", func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		select {
		case done <- &wsTransport{ws: ws}:
		default:
			ws.Close(websocket.StatusNormalClosure, "already connected")
		}
	})
	server := &http.Server{Handler: routes}
	go server.Serve(ln)
	return ln, done, nil
}

// directAdvertiseAddr resolves the address a receiver should dial to
// reach listener directly, preferring the first non-loopback IPv4
// interface (grounded in the engine's original local-network-only
// direct path).
func directAdvertiseAddr(listener net.Listener) string {
	port := listener.Addr().(*net.TCPAddr).Port
	ip := localIPv4()
	if ip == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", ip, port)
}

func localIPv4() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if v4 := ipnet.IP.To4(); v4 != nil {
				return v4.String()
			}
		}
	}
	return ""
}

// probeDirect tries every address hint in order with a short timeout
// each, returning the first direct connection that succeeds.
func probeDirect(ctx context.Context, addrHints []string) rawMessageTransport {
	for _, addr := range addrHints {
		dialCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
		ws, _, err := websocket.Dial(dialCtx, fmt.Sprintf("ws://%s/qs-direct", addr), nil)
		cancel()
		if err == nil {
			return &wsTransport{ws: ws}
		}
	}
	return nil
}

// wsTransport adapts a raw websocket connection to rawMessageTransport.
type wsTransport struct {
	ws *websocket.Conn
}

func (t *wsTransport) Send(b []byte) error {
	return t.ws.Write(context.Background(), websocket.MessageBinary, b)
}

func (t *wsTransport) Recv() ([]byte, error) {
	_, b, err := t.ws.Read(context.Background())
	return b, err
}

func (t *wsTransport) Close() error {
	return t.ws.Close(websocket.StatusNormalClosure, "closing")
}
