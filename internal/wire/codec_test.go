package wire_test

import (
	"bytes"
	"testing"

	"github.com/qstransfer/qs/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	hello := wire.Hello{ProtocolVersion: 3, MaxOfferBytes: 1 << 30}
	var buf bytes.Buffer
	require.NoError(t, wire.WriteFrame(&buf, wire.TagHello, hello.Encode()))

	frame, err := wire.ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, wire.TagHello, frame.Tag)

	decoded := wire.DecodeHello(frame.Payload)
	assert.Equal(t, hello, decoded)
}

func TestOfferRoundTripManyEntries(t *testing.T) {
	offer := wire.Offer{
		ProtocolVersion: 1,
		SessionNonce:    bytes.Repeat([]byte{0xAB}, 16),
	}
	for i := 0; i < 500; i++ {
		offer.Entries = append(offer.Entries, wire.FileEntryWire{
			RelativePath: []string{"root", "sub", "file.bin"},
			Size:         uint64(i),
			IsDir:        false,
		})
	}
	encoded := wire.EncodeFrame(wire.TagOffer, offer.Encode())
	frame, err := wire.DecodeFrame(encoded)
	require.NoError(t, err)
	got, err := wire.DecodeOffer(frame.Payload)
	require.NoError(t, err)
	require.Len(t, got.Entries, 500)
	assert.Equal(t, []string{"root", "sub", "file.bin"}, got.Entries[17].RelativePath)
	assert.Equal(t, uint64(17), got.Entries[17].Size)
}

func TestAcceptOfferRoundTrip(t *testing.T) {
	accept := wire.AcceptOffer{ResumeTable: []uint64{0, 1024, 0, 999999}, DestOk: true}
	f := accept.Encode()
	got := wire.DecodeAcceptOffer(f)
	assert.Equal(t, accept, got)
}

func TestReadFrameShortReadIsFatal(t *testing.T) {
	_, err := wire.ReadFrame(bytes.NewReader([]byte{0x01, 0x00}))
	require.Error(t, err)
	var decodeErr *wire.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, wire.ShortRead, decodeErr.Kind)
}

func TestReadFrameBadTag(t *testing.T) {
	_, err := wire.ReadFrame(bytes.NewReader([]byte{0xFF, 0x00, 0x00, 0x00, 0x00}))
	require.Error(t, err)
	var decodeErr *wire.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, wire.BadTag, decodeErr.Kind)
}
