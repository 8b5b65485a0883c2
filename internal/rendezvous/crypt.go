package rendezvous

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// confirmCrypt derives an AES-GCM key from the PAKE session key and salt
// to authenticate the short "confirm" message that proves both the host
// and the receiver hold the same ticket secret, before either side
// trusts the connection enough to start the Noise handshake over it.
type confirmCrypt struct {
	key []byte
}

func newConfirmCrypt(sessionKey, salt []byte) confirmCrypt {
	return confirmCrypt{key: pbkdf2.Key(sessionKey, salt, 100, 32, sha256.New)}
}

func (c confirmCrypt) Encrypt(plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("creating aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating gcm mode: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return append(nonce, gcm.Seal(nil, nonce, plain, nil)...), nil
}

func (c confirmCrypt) Decrypt(enc []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("creating aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating gcm mode: %w", err)
	}
	if len(enc) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext shorter than nonce")
	}
	nonce, ct := enc[:gcm.NonceSize()], enc[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ct, nil)
}
