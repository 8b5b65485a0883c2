package wire

import (
	"encoding/binary"
	"io"
)

// MaxFieldLength bounds a single field's length to guard against a
// corrupt or hostile peer claiming an enormous allocation.
const MaxFieldLength = 64 << 20 // 64 MiB

// Fields is the stable self-describing binary payload encoding used by
// every control message: an ordered sequence of (u8 field id, u32 BE
// length, length bytes of value). Unknown field ids are skipped on
// decode, which is what lets the wire format evolve without a version
// bump on every change.
type Fields struct {
	order []byte
	byID  map[byte][]byte
}

func NewFields() *Fields {
	return &Fields{byID: make(map[byte][]byte)}
}

func (f *Fields) Put(id byte, value []byte) {
	if _, ok := f.byID[id]; !ok {
		f.order = append(f.order, id)
	}
	f.byID[id] = value
}

func (f *Fields) PutUint64(id byte, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	f.Put(id, b[:])
}

func (f *Fields) PutUint32(id byte, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	f.Put(id, b[:])
}

func (f *Fields) PutBool(id byte, v bool) {
	if v {
		f.Put(id, []byte{1})
	} else {
		f.Put(id, []byte{0})
	}
}

func (f *Fields) PutString(id byte, v string) { f.Put(id, []byte(v)) }

func (f *Fields) Get(id byte) ([]byte, bool) {
	v, ok := f.byID[id]
	return v, ok
}

func (f *Fields) GetUint64(id byte) uint64 {
	v, ok := f.byID[id]
	if !ok || len(v) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

func (f *Fields) GetUint32(id byte) uint32 {
	v, ok := f.byID[id]
	if !ok || len(v) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(v)
}

func (f *Fields) GetBool(id byte) bool {
	v, ok := f.byID[id]
	return ok && len(v) > 0 && v[0] != 0
}

func (f *Fields) GetString(id byte) string {
	v := f.byID[id]
	return string(v)
}

// Encode serialises the fields in insertion order.
func (f *Fields) Encode() []byte {
	var out []byte
	for _, id := range f.order {
		v := f.byID[id]
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		out = append(out, id)
		out = append(out, lenBuf[:]...)
		out = append(out, v...)
	}
	return out
}

// DecodeFields parses a self-describing field sequence, skipping any
// field id the caller does not recognise by construction (callers only
// ever look up ids they know about via Get*).
func DecodeFields(b []byte) (*Fields, error) {
	f := NewFields()
	r := b
	for len(r) > 0 {
		if len(r) < 5 {
			return nil, newDecodeError(ShortRead, io.ErrUnexpectedEOF)
		}
		id := r[0]
		length := binary.BigEndian.Uint32(r[1:5])
		if length > MaxFieldLength {
			return nil, newDecodeError(LengthOverflow, nil)
		}
		r = r[5:]
		if uint32(len(r)) < length {
			return nil, newDecodeError(ShortRead, io.ErrUnexpectedEOF)
		}
		f.Put(id, r[:length])
		r = r[length:]
	}
	return f, nil
}
