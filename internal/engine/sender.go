package engine

import (
	"context"

	"github.com/qstransfer/qs/internal/endpoint"
	"github.com/qstransfer/qs/internal/events"
	"github.com/qstransfer/qs/internal/fstree"
	"github.com/qstransfer/qs/internal/handshake"
	"github.com/qstransfer/qs/internal/offer"
	"github.com/qstransfer/qs/internal/transfer"
	"github.com/qstransfer/qs/internal/wire"
)

// runSender drives Init -> Handshake -> Offered -> Transferring -> Done
// on the sender side (spec.md §4.5).
func (s *Session) runSender(ctx context.Context) error {
	s.emit(events.Event{Kind: events.ConnectedToServer})

	t, err := s.ept.MakeTicket(nil, "qs")
	if err != nil {
		return s.fail(classify(err))
	}
	s.emit(events.Event{Kind: events.TicketReady, Ticket: t.String()})

	conn, err := s.ept.Accept(ctx)
	if err != nil {
		return s.fail(classify(err))
	}
	defer conn.Close(0, "")
	s.setConn(conn)
	s.emit(events.Event{Kind: events.PeerConnected, Class: conn.Class()})

	hs, err := handshake.Sender(ctx, conn)
	if err != nil {
		return s.fail(classify(err))
	}
	s.setControl(hs.Control)

	o, absPaths, err := offer.Build(fstree.OSProvider{}, s.paths, handshake.ProtocolVersion, hs.SessionNonce)
	if err != nil {
		return s.fail(classify(err))
	}

	wireOffer := o.ToWire()
	if err := wire.WriteFrame(hs.Control, wire.TagOffer, wireOffer.Encode()); err != nil {
		return s.fail(classify(err))
	}

	// The receiver may interleave FileHashRequest frames with its
	// offer decision while it verifies resumed files; serve those
	// until the decision itself arrives (spec.md §4.5 "Integrity").
	decisionFrame, err := transfer.ServeHashRequests(hs.Control, absPaths)
	if err != nil {
		return s.fail(classify(err))
	}

	switch decisionFrame.Tag {
	case wire.TagRejectOffer:
		reject := wire.DecodeRejectOffer(decisionFrame.Payload)
		s.emit(events.Event{Kind: events.FilesDecision, Accepted: false})
		s.emit(events.Event{Kind: events.TransferCancelled, Reason: reject.Reason})
		return nil

	case wire.TagAcceptOffer:
		accept := wire.DecodeAcceptOffer(decisionFrame.Payload)
		table := offer.ResumeTable(accept.ResumeTable)
		if err := offer.Validate(o, table); err != nil {
			return s.fail(protocolError("malformed accept: %v", err))
		}
		s.emit(events.Event{Kind: events.FilesDecision, Accepted: true})
		return s.runSenderTransfer(ctx, conn, hs, o, absPaths, table)

	default:
		return s.fail(protocolError("unexpected frame %v while awaiting offer decision", decisionFrame.Tag))
	}
}

func (s *Session) runSenderTransfer(ctx context.Context, conn endpoint.Connection, hs handshake.Result, o offer.Offer, absPaths []string, table offer.ResumeTable) error {
	st := &transfer.SenderTransfer{
		Conn:        conn,
		Control:     hs.Control,
		Entries:     o.Entries,
		AbsPaths:    absPaths,
		ResumeTable: table,
		Concurrency: s.concurrencyOrDefault(),
		Sink:        s.sink,
		Counter:     &s.counter,
		Cancel:      &s.cancel,
	}

	go s.watchControlForCancel(hs.Control, conn)

	err := st.Run(ctx)

	if s.cancel.IsSet() {
		s.emit(events.Event{Kind: events.TransferCancelled, Reason: "cancelled"})
		return nil
	}
	if err != nil {
		return s.fail(classify(err))
	}
	s.emit(events.Event{Kind: events.TransferFinished})
	return nil
}
