package wire

import (
	"encoding/binary"
	"strings"
)

// Field ids are scoped per message type; reuse across messages is fine
// since a Fields value only ever belongs to one frame.
const (
	fProtocolVersion byte = 1
	fMaxOfferBytes   byte = 2
	fOk              byte = 3
	fReason          byte = 4
	fServerTimeUnix  byte = 5
	fSessionNonce    byte = 6

	fEntriesBlob byte = 10 // concatenated [u32 BE length][entry TLV] records, any count

	fResumeBlob byte = 10 // concatenated u64 BE values, any count
	fDestOk     byte = 2

	fEntryIndex byte = 1
	fLength     byte = 2
	fAlgorithm  byte = 3
	fDigest     byte = 4
	fTotalBytes byte = 1
)

// Hello is sent receiver -> sender to open a session.
type Hello struct {
	ProtocolVersion uint32
	MaxOfferBytes   uint64
}

func (m Hello) Encode() *Fields {
	f := NewFields()
	f.PutUint32(fProtocolVersion, m.ProtocolVersion)
	f.PutUint64(fMaxOfferBytes, m.MaxOfferBytes)
	return f
}

func DecodeHello(f *Fields) Hello {
	return Hello{
		ProtocolVersion: f.GetUint32(fProtocolVersion),
		MaxOfferBytes:   f.GetUint64(fMaxOfferBytes),
	}
}

// HelloAck is sent sender -> receiver in response to Hello.
type HelloAck struct {
	Ok              bool
	Reason          string
	ProtocolVersion uint32
	ServerTimeUnix  int64
	SessionNonce    []byte
}

func (m HelloAck) Encode() *Fields {
	f := NewFields()
	f.PutBool(fOk, m.Ok)
	f.PutString(fReason, m.Reason)
	f.PutUint32(fProtocolVersion, m.ProtocolVersion)
	f.PutUint64(fServerTimeUnix, uint64(m.ServerTimeUnix))
	f.Put(fSessionNonce, m.SessionNonce)
	return f
}

func DecodeHelloAck(f *Fields) HelloAck {
	return HelloAck{
		Ok:              f.GetBool(fOk),
		Reason:          f.GetString(fReason),
		ProtocolVersion: f.GetUint32(fProtocolVersion),
		ServerTimeUnix:  int64(f.GetUint64(fServerTimeUnix)),
		SessionNonce:    mustGet(f, fSessionNonce),
	}
}

// FileEntryWire is the wire representation of an offer.FileEntry, kept in
// this package (rather than importing internal/offer) to avoid a cycle:
// internal/offer imports internal/wire to serialize itself.
type FileEntryWire struct {
	RelativePath []string
	Size         uint64
	IsDir        bool
	Hash         []byte // optional, empty if absent
}

const (
	efPath  byte = 1 // path segments joined by \x00, any segment count
	efSize  byte = 2
	efIsDir byte = 3
	efHash  byte = 4
)

func (e FileEntryWire) encode() *Fields {
	f := NewFields()
	f.PutString(efPath, strings.Join(e.RelativePath, "\x00"))
	f.PutUint64(efSize, e.Size)
	f.PutBool(efIsDir, e.IsDir)
	if len(e.Hash) > 0 {
		f.Put(efHash, e.Hash)
	}
	return f
}

func decodeFileEntry(f *Fields) FileEntryWire {
	joined := f.GetString(efPath)
	var segs []string
	if joined != "" {
		segs = strings.Split(joined, "\x00")
	}
	return FileEntryWire{
		RelativePath: segs,
		Size:         f.GetUint64(efSize),
		IsDir:        f.GetBool(efIsDir),
		Hash:         mustGet(f, efHash),
	}
}

// Offer is sent sender -> receiver after Hello/HelloAck.
type Offer struct {
	ProtocolVersion uint32
	SessionNonce    []byte
	Entries         []FileEntryWire
}

const fOfferNonce byte = 2

func (m Offer) Encode() *Fields {
	f := NewFields()
	f.PutUint32(fProtocolVersion, m.ProtocolVersion)
	f.Put(fOfferNonce, m.SessionNonce)

	var blob []byte
	for _, e := range m.Entries {
		sub := e.encode().Encode()
		var lenBuf [4]byte
		beUint32(lenBuf[:], uint32(len(sub)))
		blob = append(blob, lenBuf[:]...)
		blob = append(blob, sub...)
	}
	f.Put(fEntriesBlob, blob)
	return f
}

func DecodeOffer(f *Fields) (Offer, error) {
	blob, _ := f.Get(fEntriesBlob)
	var entries []FileEntryWire
	for len(blob) > 0 {
		if len(blob) < 4 {
			return Offer{}, newDecodeError(ShortRead, nil)
		}
		n := beGetUint32(blob)
		blob = blob[4:]
		if uint32(len(blob)) < n {
			return Offer{}, newDecodeError(ShortRead, nil)
		}
		sub, err := DecodeFields(blob[:n])
		if err != nil {
			return Offer{}, err
		}
		entries = append(entries, decodeFileEntry(sub))
		blob = blob[n:]
	}
	return Offer{
		ProtocolVersion: f.GetUint32(fProtocolVersion),
		SessionNonce:    mustGet(f, fOfferNonce),
		Entries:         entries,
	}, nil
}

// AcceptOffer is sent receiver -> sender carrying the resume table.
type AcceptOffer struct {
	ResumeTable []uint64
	DestOk      bool
}

func (m AcceptOffer) Encode() *Fields {
	f := NewFields()
	blob := make([]byte, 8*len(m.ResumeTable))
	for i, v := range m.ResumeTable {
		beUint64(blob[i*8:], v)
	}
	f.Put(fResumeBlob, blob)
	f.PutBool(fDestOk, m.DestOk)
	return f
}

func DecodeAcceptOffer(f *Fields) AcceptOffer {
	blob, _ := f.Get(fResumeBlob)
	table := make([]uint64, 0, len(blob)/8)
	for i := 0; i+8 <= len(blob); i += 8 {
		table = append(table, beGetUint64(blob[i:]))
	}
	return AcceptOffer{ResumeTable: table, DestOk: f.GetBool(fDestOk)}
}

// RejectOffer is sent receiver -> sender.
type RejectOffer struct {
	Reason string
}

func (m RejectOffer) Encode() *Fields {
	f := NewFields()
	f.PutString(fReason, m.Reason)
	return f
}

func DecodeRejectOffer(f *Fields) RejectOffer {
	return RejectOffer{Reason: f.GetString(fReason)}
}

// Cancel may be sent by either side at any point after the handshake.
type Cancel struct {
	Reason string
}

func (m Cancel) Encode() *Fields {
	f := NewFields()
	f.PutString(fReason, m.Reason)
	return f
}

func DecodeCancel(f *Fields) Cancel {
	return Cancel{Reason: f.GetString(fReason)}
}

// TransferDone is sent sender -> receiver once every stream has closed.
type TransferDone struct {
	TotalBytes uint64
}

func (m TransferDone) Encode() *Fields {
	f := NewFields()
	f.PutUint64(fTotalBytes, m.TotalBytes)
	return f
}

func DecodeTransferDone(f *Fields) TransferDone {
	return TransferDone{TotalBytes: f.GetUint64(fTotalBytes)}
}

// FileHashRequest is sent receiver -> sender before trusting a resume.
type FileHashRequest struct {
	EntryIndex uint32
	Length     uint64
}

func (m FileHashRequest) Encode() *Fields {
	f := NewFields()
	f.PutUint32(fEntryIndex, m.EntryIndex)
	f.PutUint64(fLength, m.Length)
	return f
}

func DecodeFileHashRequest(f *Fields) FileHashRequest {
	return FileHashRequest{EntryIndex: f.GetUint32(fEntryIndex), Length: f.GetUint64(fLength)}
}

// FileHash is sent sender -> receiver in response to FileHashRequest.
type FileHash struct {
	EntryIndex uint32
	Algorithm  string
	Digest     []byte
}

func (m FileHash) Encode() *Fields {
	f := NewFields()
	f.PutUint32(fEntryIndex, m.EntryIndex)
	f.PutString(fAlgorithm, m.Algorithm)
	f.Put(fDigest, m.Digest)
	return f
}

func DecodeFileHash(f *Fields) FileHash {
	return FileHash{
		EntryIndex: f.GetUint32(fEntryIndex),
		Algorithm:  f.GetString(fAlgorithm),
		Digest:     mustGet(f, fDigest),
	}
}

func mustGet(f *Fields, id byte) []byte {
	v, _ := f.Get(id)
	return v
}

func beUint32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
func beUint64(b []byte, v uint64) { binary.BigEndian.PutUint64(b, v) }
func beGetUint32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }
func beGetUint64(b []byte) uint64 { return binary.BigEndian.Uint64(b) }
