package ticket_test

import (
	"testing"

	"github.com/qstransfer/qs/internal/ticket"
	"github.com/stretchr/testify/require"
)

func TestTicketRoundTripViaString(t *testing.T) {
	var peerID ticket.PeerID
	for i := range peerID {
		peerID[i] = byte(i)
	}
	tk, err := ticket.New(peerID, []string{"10.0.0.1:4433", "relay.example:4433"}, "qs/1")
	require.NoError(t, err)

	s := tk.String()
	require.NotEmpty(t, s)

	got, err := ticket.Parse(s)
	require.NoError(t, err)
	require.Equal(t, tk, got)
}

func TestTicketSecretIsRandomPerMint(t *testing.T) {
	var peerID ticket.PeerID
	a, err := ticket.New(peerID, nil, "qs/1")
	require.NoError(t, err)
	b, err := ticket.New(peerID, nil, "qs/1")
	require.NoError(t, err)
	require.NotEqual(t, a.Secret, b.Secret)
}
