package transfer

import (
	"bytes"
	"fmt"
	"io"

	"github.com/qstransfer/qs/internal/offer"
	"github.com/qstransfer/qs/internal/wire"
)

// VerifyResumes runs the resume-hash check for every entry the receiver
// intends to resume, before AcceptOffer is sent. Running it here, while
// the session is still in the Offered state, avoids the awkward
// interaction a mid-transfer hash check would have with an
// already-opened data stream (spec.md §9's open questions flag exactly
// this kind of sender/stream interaction as underspecified; resolving
// it pre-transfer sidesteps it entirely — see DESIGN.md).
//
// localPaths is parallel to o.Entries and gives the destination path
// materializer.Resolve produced for each entry; it is only read for
// entries with a nonzero resume value.
func VerifyResumes(control io.ReadWriter, o offer.Offer, table offer.ResumeTable, localPaths []string) (offer.ResumeTable, error) {
	verified := make(offer.ResumeTable, len(table))
	copy(verified, table)

	for i, already := range table {
		if already == 0 {
			continue
		}
		req := wire.FileHashRequest{EntryIndex: uint32(i), Length: already}
		if err := wire.WriteFrame(control, wire.TagFileHashRequest, req.Encode()); err != nil {
			return nil, fmt.Errorf("transfer: sending hash request for entry %d: %w", i, err)
		}
		frame, err := wire.ReadFrame(control)
		if err != nil {
			return nil, fmt.Errorf("transfer: reading hash reply for entry %d: %w", i, err)
		}
		if frame.Tag != wire.TagFileHash {
			return nil, fmt.Errorf("transfer: expected FileHash, got tag %v", frame.Tag)
		}
		reply := wire.DecodeFileHash(frame.Payload)
		if reply.EntryIndex != uint32(i) {
			return nil, fmt.Errorf("transfer: hash reply for wrong entry: got %d want %d", reply.EntryIndex, i)
		}

		localDigest, err := HashPrefix(localPaths[i], already)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(localDigest, reply.Digest) {
			verified[i] = 0
		}
	}
	return verified, nil
}

// ServeHashRequests answers FileHashRequest frames arriving on control
// while the sender waits for AcceptOffer/RejectOffer, returning the
// first frame that is neither. Callers decode it themselves since its
// tag determines whether the session proceeds to Transferring or Closed.
func ServeHashRequests(control io.ReadWriter, absPaths []string) (wire.Frame, error) {
	for {
		frame, err := wire.ReadFrame(control)
		if err != nil {
			return wire.Frame{}, fmt.Errorf("transfer: reading control frame: %w", err)
		}
		if frame.Tag != wire.TagFileHashRequest {
			return frame, nil
		}
		req := wire.DecodeFileHashRequest(frame.Payload)
		if int(req.EntryIndex) >= len(absPaths) {
			return wire.Frame{}, fmt.Errorf("transfer: hash request index %d out of range", req.EntryIndex)
		}
		digest, err := HashPrefix(absPaths[req.EntryIndex], req.Length)
		if err != nil {
			return wire.Frame{}, err
		}
		reply := wire.FileHash{EntryIndex: req.EntryIndex, Algorithm: HashAlgorithm, Digest: digest}
		if err := wire.WriteFrame(control, wire.TagFileHash, reply.Encode()); err != nil {
			return wire.Frame{}, fmt.Errorf("transfer: sending hash reply: %w", err)
		}
	}
}
