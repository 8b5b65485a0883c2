// handlers.go implements the two websocket endpoints that pair a host
// and a receiver holding the same ticket, relay their PAKE handshake,
// and relay the data session itself when no direct connection could be
// established between them.
package rendezvous

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/qstransfer/qs/internal/logger"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

func (s *Server) handleHost() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		lgr, _ := logger.FromContext(ctx)
		peerID := mux.Vars(r)["peerID"]
		lgr = lgr.With(zap.String("peer_id", peerID), zap.String("role", "host"))

		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			lgr.Error("accepting host websocket", zap.Error(err))
			return
		}
		rc := &Conn{WS: ws}
		defer rc.Close()

		box := newMailbox()
		s.mailboxes.Store(peerID, box)
		defer s.mailboxes.Delete(peerID)

		if err := rc.WriteMsg(ctx, Msg{Type: HostWait}); err != nil {
			lgr.Error("sending HostWait", zap.Error(err))
			return
		}

		timeout := time.NewTimer(ReceiverJoinTimeout)
		defer timeout.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timeout.C:
			lgr.Warn("timed out waiting for a receiver")
			return
		case <-box.ToHost:
		}

		if err := rc.WriteMsg(ctx, Msg{Type: ReceiverJoined}); err != nil {
			lgr.Error("sending ReceiverJoined", zap.Error(err))
			return
		}

		hostPake, err := rc.ReadMsg(ctx, HostPAKE)
		if err != nil {
			lgr.Error("reading host PAKE round", zap.Error(err))
			return
		}
		receiverPake := <-box.ToHost
		box.ToReceiver <- hostPake.Payload.Bytes

		if err := rc.WriteMsg(ctx, Msg{Type: ReceiverPAKE, Payload: Payload{Bytes: receiverPake}}); err != nil {
			lgr.Error("relaying receiver PAKE round", zap.Error(err))
			return
		}

		saltMsg, err := rc.ReadMsg(ctx, HostSalt)
		if err != nil {
			lgr.Error("reading salt", zap.Error(err))
			return
		}
		box.ToReceiver <- saltMsg.Payload.Salt

		addrMsg, err := rc.ReadMsg(ctx, HostDirectAddr)
		if err != nil {
			lgr.Error("reading host direct address", zap.Error(err))
			return
		}
		box.ToReceiver <- []byte(addrMsg.Payload.Addr)

		decision := <-box.ToHost
		decisionType := UseRelay
		if string(decision) == "direct" {
			decisionType = UseDirect
		}
		if err := rc.WriteMsg(ctx, Msg{Type: decisionType}); err != nil {
			lgr.Error("forwarding transport mode decision", zap.Error(err))
			return
		}
		if decisionType == UseDirect {
			lgr.Info("receiver connected directly, relay no longer needed")
			return
		}

		lgr.Info("relaying data session")
		s.pumpRelay(ctx, rc, box.ToReceiver, box.ToHost, lgr)
	}
}

func (s *Server) handleReceiver() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		lgr, _ := logger.FromContext(ctx)
		peerID := mux.Vars(r)["peerID"]
		lgr = lgr.With(zap.String("peer_id", peerID), zap.String("role", "receiver"))

		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			lgr.Error("accepting receiver websocket", zap.Error(err))
			return
		}
		rc := &Conn{WS: ws}
		defer rc.Close()

		box, err := s.mailboxes.Get(peerID)
		if err != nil {
			rc.WriteMsg(ctx, Msg{Type: Busy, Payload: Payload{Reason: "no such session"}})
			lgr.Warn("no mailbox for peer id", zap.Error(err))
			return
		}
		if !box.claim() {
			rc.WriteMsg(ctx, Msg{Type: Busy, Payload: Payload{Reason: "ticket already redeemed"}})
			lgr.Warn("second receiver rejected, mailbox already claimed")
			return
		}

		box.ToHost <- []byte{}

		if err := rc.WriteMsg(ctx, Msg{Type: ReceiverJoined}); err != nil {
			lgr.Error("acknowledging join", zap.Error(err))
			return
		}

		pakeMsg, err := rc.ReadMsg(ctx, ReceiverPAKE)
		if err != nil {
			lgr.Error("reading receiver PAKE round", zap.Error(err))
			return
		}
		box.ToHost <- pakeMsg.Payload.Bytes

		hostPake := <-box.ToReceiver
		if err := rc.WriteMsg(ctx, Msg{Type: HostPAKEReply, Payload: Payload{Bytes: hostPake}}); err != nil {
			lgr.Error("relaying host PAKE round", zap.Error(err))
			return
		}

		salt := <-box.ToReceiver
		if err := rc.WriteMsg(ctx, Msg{Type: HostSalt, Payload: Payload{Salt: salt}}); err != nil {
			lgr.Error("relaying salt", zap.Error(err))
			return
		}

		addrBytes := <-box.ToReceiver
		if err := rc.WriteMsg(ctx, Msg{Type: HostDirectAddr, Payload: Payload{Addr: string(addrBytes)}}); err != nil {
			lgr.Error("forwarding host direct address", zap.Error(err))
			return
		}

		modeMsg, err := rc.ReadMsg(ctx)
		if err != nil {
			lgr.Error("reading transport mode decision", zap.Error(err))
			return
		}
		decision := []byte("relay")
		if modeMsg.Type == UseDirect {
			decision = []byte("direct")
		}
		box.ToHost <- decision
		if modeMsg.Type == UseDirect {
			lgr.Info("connected directly, relay no longer needed")
			return
		}

		lgr.Info("relaying data session")
		s.pumpRelay(ctx, rc, box.ToHost, box.ToReceiver, lgr)
	}
}

// pumpRelay blindly forwards raw (already Noise-encrypted) bytes
// between this connection and the peer's mailbox channels once
// signaling has completed. The relay never sees plaintext.
func (s *Server) pumpRelay(ctx context.Context, rc *Conn, outbound chan<- []byte, inbound <-chan []byte, lgr *zap.Logger) {
	relayCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	forward := make(chan []byte)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(forward)
		for {
			b, err := rc.Recv()
			switch {
			case err == nil:
			case errors.Is(err, io.EOF), websocket.CloseStatus(err) == websocket.StatusNormalClosure:
				return
			case errors.Is(err, context.Canceled):
				return
			default:
				lgr.Warn("relay forwarder read error", zap.Error(err))
				return
			}
			select {
			case forward <- b:
			case <-relayCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-relayCtx.Done():
			wg.Wait()
			return
		case b, more := <-forward:
			if !more {
				wg.Wait()
				return
			}
			select {
			case outbound <- b:
			case <-relayCtx.Done():
				wg.Wait()
				return
			}
		case b, more := <-inbound:
			if !more {
				wg.Wait()
				return
			}
			if err := rc.Send(b); err != nil {
				lgr.Warn("relay write error", zap.Error(err))
				wg.Wait()
				return
			}
		}
	}
}
