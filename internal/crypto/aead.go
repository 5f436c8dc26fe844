package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"duplex/internal/domain"
)

const (
	// NonceSize is the length of the random nonce prepended to every box.
	NonceSize = chacha20poly1305.NonceSize
	// TagSize is the length of the authentication tag appended to every box.
	TagSize = chacha20poly1305.Overhead
)

// ErrDecrypt is the uniform failure for any unauthentic or malformed box.
// Callers cannot tell tampering apart from corruption.
var ErrDecrypt = errors.New("message authentication failed")

// Seal encrypts plaintext under key with ChaCha20-Poly1305, binding aad.
// A fresh random nonce is prepended and the tag appended:
// nonce||ciphertext||tag.
func Seal(key domain.Key, plaintext, aad []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	if _, err := rand.Read(out[:NonceSize]); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return aead.Seal(out, out[:NonceSize], plaintext, aad), nil
}

// Open reverses Seal. Every authentication or framing failure surfaces as
// ErrDecrypt; Open never panics on hostile input.
func Open(key domain.Key, box, aad []byte) ([]byte, error) {
	if len(box) < NonceSize+TagSize {
		return nil, ErrDecrypt
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, box[:NonceSize], box[NonceSize:], aad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return pt, nil
}

func newAEAD(key domain.Key) (cipher.AEAD, error) {
	return chacha20poly1305.New(key[:])
}
