package wsendpoint

import (
	"crypto/rand"
	"fmt"

	"github.com/flynn/noise"
)

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

// staticKeypair is an endpoint's long-term Noise identity. PeerID is
// derived directly from its public half.
type staticKeypair struct {
	dh noise.DHKey
}

func generateStaticKeypair() (staticKeypair, error) {
	dh, err := cipherSuite.GenerateKeypair(rand.Reader)
	if err != nil {
		return staticKeypair{}, fmt.Errorf("generating noise static keypair: %w", err)
	}
	return staticKeypair{dh: dh}, nil
}

// rawMessageTransport delivers whole messages; the websocket connection
// wrapped by wsTransport satisfies it directly.
type rawMessageTransport interface {
	Send([]byte) error
	Recv() ([]byte, error)
	Close() error
}

// noiseTransport is a rawMessageTransport wrapped with a completed Noise
// IK session. It satisfies mux.MessageTransport.
type noiseTransport struct {
	raw  rawMessageTransport
	send *noise.CipherState
	recv *noise.CipherState
}

func (t *noiseTransport) Send(b []byte) error {
	ct, err := t.send.Encrypt(nil, nil, b)
	if err != nil {
		return err
	}
	return t.raw.Send(ct)
}

func (t *noiseTransport) Recv() ([]byte, error) {
	ct, err := t.raw.Recv()
	if err != nil {
		return nil, err
	}
	return t.recv.Decrypt(nil, nil, ct)
}

func (t *noiseTransport) Close() error { return t.raw.Close() }

// dialNoiseIK runs the IK handshake as initiator. This is always the
// receiver: it learns the sender's static public key from the ticket
// before dialing (spec.md §4.3).
func dialNoiseIK(raw rawMessageTransport, local staticKeypair, remoteStatic [32]byte) (*noiseTransport, [32]byte, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Random:        rand.Reader,
		Pattern:       noise.HandshakeIK,
		Initiator:     true,
		StaticKeypair: local.dh,
		PeerStatic:    remoteStatic[:],
	})
	if err != nil {
		return nil, [32]byte{}, fmt.Errorf("initializing noise ik handshake: %w", err)
	}

	msg1, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, [32]byte{}, fmt.Errorf("writing noise ik message 1: %w", err)
	}
	if err := raw.Send(msg1); err != nil {
		return nil, [32]byte{}, fmt.Errorf("sending noise ik message 1: %w", err)
	}

	msg2, err := raw.Recv()
	if err != nil {
		return nil, [32]byte{}, fmt.Errorf("receiving noise ik message 2: %w", err)
	}
	_, recvCipher, sendCipher, err := hs.ReadMessage(nil, msg2)
	if err != nil {
		return nil, [32]byte{}, fmt.Errorf("reading noise ik message 2: %w", err)
	}

	return &noiseTransport{raw: raw, send: sendCipher, recv: recvCipher}, remoteStatic, nil
}

// acceptNoiseIK runs the IK handshake as responder. This is always the
// sender: it does not know the dialing receiver's identity until the
// first handshake message arrives.
func acceptNoiseIK(raw rawMessageTransport, local staticKeypair) (*noiseTransport, [32]byte, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Random:        rand.Reader,
		Pattern:       noise.HandshakeIK,
		Initiator:     false,
		StaticKeypair: local.dh,
	})
	if err != nil {
		return nil, [32]byte{}, fmt.Errorf("initializing noise ik handshake: %w", err)
	}

	msg1, err := raw.Recv()
	if err != nil {
		return nil, [32]byte{}, fmt.Errorf("receiving noise ik message 1: %w", err)
	}
	if _, _, _, err := hs.ReadMessage(nil, msg1); err != nil {
		return nil, [32]byte{}, fmt.Errorf("reading noise ik message 1: %w", err)
	}

	msg2, sendCipher, recvCipher, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, [32]byte{}, fmt.Errorf("writing noise ik message 2: %w", err)
	}
	if err := raw.Send(msg2); err != nil {
		return nil, [32]byte{}, fmt.Errorf("sending noise ik message 2: %w", err)
	}

	var remote [32]byte
	copy(remote[:], hs.PeerStatic())
	return &noiseTransport{raw: raw, send: sendCipher, recv: recvCipher}, remote, nil
}
