package engine

import (
	"context"

	"github.com/qstransfer/qs/internal/endpoint"
	"github.com/qstransfer/qs/internal/events"
	"github.com/qstransfer/qs/internal/handshake"
	"github.com/qstransfer/qs/internal/materializer"
	"github.com/qstransfer/qs/internal/offer"
	"github.com/qstransfer/qs/internal/transfer"
	"github.com/qstransfer/qs/internal/wire"
)

// runReceiver drives Init -> Handshake -> Offered -> Transferring ->
// Done on the receiver side (spec.md §4.5).
func (s *Session) runReceiver(ctx context.Context) error {
	s.emit(events.Event{Kind: events.ConnectedToServer})

	conn, err := s.ept.Connect(ctx, s.peerTicket)
	if err != nil {
		return s.fail(classify(err))
	}
	defer conn.Close(0, "")
	s.setConn(conn)
	s.emit(events.Event{Kind: events.PeerConnected, Class: conn.Class()})

	hs, err := handshake.Receiver(ctx, conn)
	if err != nil {
		return s.fail(classify(err))
	}
	s.setControl(hs.Control)

	frame, err := wire.ReadFrame(hs.Control)
	if err != nil {
		return s.fail(classify(err))
	}
	if frame.Tag != wire.TagOffer {
		return s.fail(protocolError("expected Offer, got %v", frame.Tag))
	}
	wireOffer, err := wire.DecodeOffer(frame.Payload)
	if err != nil {
		return s.fail(classify(err))
	}
	o := offer.FromWire(wireOffer)

	entryInfos := make([]events.FileEntryInfo, len(o.Entries))
	for i, e := range o.Entries {
		entryInfos[i] = events.FileEntryInfo{RelativePath: e.RelativePath, Size: e.Size, IsDir: e.IsDir}
	}
	s.emit(events.Event{Kind: events.OfferReceived, Entries: entryInfos})

	var dec decision
	select {
	case dec = <-s.decisionCh:
	case <-s.cancelSignal:
		s.emit(events.Event{Kind: events.TransferCancelled, Reason: "cancelled"})
		return nil
	case <-ctx.Done():
		return s.fail(classify(ctx.Err()))
	}

	if !dec.accept {
		reject := wire.RejectOffer{Reason: dec.reason}
		_ = wire.WriteFrame(hs.Control, wire.TagRejectOffer, reject.Encode())
		s.emit(events.Event{Kind: events.TransferCancelled, Reason: dec.reason})
		return nil
	}

	return s.runReceiverTransfer(ctx, conn, hs, o, dec.destDir)
}

func (s *Session) runReceiverTransfer(ctx context.Context, conn endpoint.Connection, hs handshake.Result, o offer.Offer, destDir string) error {
	mat, err := materializer.New(destDir)
	if err != nil {
		return s.fail(classify(err))
	}

	table, err := offer.BuildResumeTable(o, destDir)
	if err != nil {
		return s.fail(classify(err))
	}

	localPaths := make([]string, len(o.Entries))
	for i, e := range o.Entries {
		if e.IsDir {
			continue
		}
		p, err := mat.Resolve(e.RelativePath)
		if err != nil {
			return s.fail(classify(err))
		}
		localPaths[i] = p
	}

	verified, err := transfer.VerifyResumes(hs.Control, o, table, localPaths)
	if err != nil {
		return s.fail(classify(err))
	}

	s.emit(events.Event{Kind: events.InitialProgress, PerFileBytesAlready: offer.InitialProgress(verified)})

	acceptOffer := wire.AcceptOffer{ResumeTable: []uint64(verified), DestOk: true}
	if err := wire.WriteFrame(hs.Control, wire.TagAcceptOffer, acceptOffer.Encode()); err != nil {
		return s.fail(classify(err))
	}

	if err := transfer.MaterializeDirs(mat, o.Entries); err != nil {
		return s.fail(classify(err))
	}

	rt := &transfer.ReceiverTransfer{
		Conn:         conn,
		Entries:      o.Entries,
		ResumeTable:  verified,
		Materializer: mat,
		Concurrency:  s.concurrencyOrDefault(),
		Sink:         s.sink,
		Counter:      &s.counter,
		Cancel:       &s.cancel,
	}

	go s.watchControlForCancel(hs.Control, conn)

	err = rt.Run(ctx)

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
