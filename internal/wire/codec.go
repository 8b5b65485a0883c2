package wire

import (
	"encoding/binary"
	"io"
)

// Tag identifies the control message carried in a frame.
type Tag byte

const (
	TagHello           Tag = 0x01 // receiver -> sender
	TagHelloAck        Tag = 0x02 // sender -> receiver
	TagOffer           Tag = 0x03 // sender -> receiver
	TagAcceptOffer     Tag = 0x04 // receiver -> sender
	TagRejectOffer     Tag = 0x05 // receiver -> sender
	TagCancel          Tag = 0x06 // either
	TagTransferDone    Tag = 0x07 // sender -> receiver
	TagFileHashRequest Tag = 0x08 // receiver -> sender
	TagFileHash        Tag = 0x09 // sender -> receiver
)

func (t Tag) Valid() bool {
	return t >= TagHello && t <= TagFileHash
}

// Frame is a decoded control message: a tag plus its self-describing
// payload fields.
type Frame struct {
	Tag     Tag
	Payload *Fields
}

// WriteFrame writes [u8 tag][u32 BE length][payload] to w.
func WriteFrame(w io.Writer, tag Tag, payload *Fields) error {
	body := payload.Encode()
	header := make([]byte, 5)
	header[0] = byte(tag)
	binary.BigEndian.PutUint32(header[1:], uint32(len(body)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return err
		}
	}
	return nil
}

// MaxFrameLength bounds a single control frame; bulk payload bytes never
// pass through this codec so this bound can be small.
const MaxFrameLength = 16 << 20 // 16 MiB, generous for large offers

// ReadFrame reads one frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, newDecodeError(ShortRead, err)
	}
	tag := Tag(header[0])
	if !tag.Valid() {
		return Frame{}, newDecodeError(BadTag, nil)
	}
	length := binary.BigEndian.Uint32(header[1:])
	if length > MaxFrameLength {
		return Frame{}, newDecodeError(LengthOverflow, nil)
	}
	body := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return Frame{}, newDecodeError(ShortRead, err)
		}
	}
	fields, err := DecodeFields(body)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Tag: tag, Payload: fields}, nil
}

// EncodeFrame encodes a frame to a standalone byte slice, for transports
// (like a single websocket message) that deliver whole frames rather than
// a continuous byte stream.
func EncodeFrame(tag Tag, payload *Fields) []byte {
	body := payload.Encode()
	out := make([]byte, 5+len(body))
	out[0] = byte(tag)
	binary.BigEndian.PutUint32(out[1:5], uint32(len(body)))
	copy(out[5:], body)
	return out
}

// DecodeFrame decodes a standalone byte slice produced by EncodeFrame.
func DecodeFrame(b []byte) (Frame, error) {
	if len(b) < 5 {
		return Frame{}, newDecodeError(ShortRead, io.ErrUnexpectedEOF)
	}
	tag := Tag(b[0])
	if !tag.Valid() {
		return Frame{}, newDecodeError(BadTag, nil)
	}
	length := binary.BigEndian.Uint32(b[1:5])
	if length > MaxFrameLength || int(length) != len(b)-5 {
		return Frame{}, newDecodeError(LengthOverflow, nil)
	}
	fields, err := DecodeFields(b[5:])
	if err != nil {
		return Frame{}, err
	}
	return Frame{Tag: tag, Payload: fields}, nil
}
