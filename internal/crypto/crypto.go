// Package crypto wraps the AES-GCM operations the control channel needs to
// authenticate and decrypt INPUT_DATA packets. The protocol uses the
// session's 16-byte rolling IV directly as the GCM nonce rather than the
// standard 12-byte size, which the standard library supports via
// cipher.NewGCMWithNonceSize.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
)

// ErrAuthFailed indicates the GCM authentication tag did not verify.
var ErrAuthFailed = errors.New("crypto: gcm authentication failed")

// GCMTagSize is the length of the AES-GCM authentication tag appended to
// every INPUT_DATA ciphertext.
const GCMTagSize = 16

// IVSize is the size of the rolling input IV used as the GCM nonce.
const IVSize = 16

// Cipher holds a session's AES-GCM key.
type Cipher struct {
	gcm cipher.AEAD
}

// New builds a Cipher from a 16-byte AES key.
func New(key [16]byte) (*Cipher, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, err
	}

	return &Cipher{gcm: gcm}, nil
}

// Open decrypts and authenticates taggedCiphertext (ciphertext with the
// 16-byte GCM tag appended, as it arrives on the wire) using iv as the
// nonce. Returns ErrAuthFailed if the tag does not verify.
func (c *Cipher) Open(iv [16]byte, taggedCiphertext []byte) ([]byte, error) {
	if len(taggedCiphertext) < GCMTagSize {
		return nil, ErrAuthFailed
	}

	plaintext, err := c.gcm.Open(nil, iv[:], taggedCiphertext, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}
