package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/curve25519"

	"duplex/internal/domain"
)

// GenerateKeyPair returns a fresh Curve25519 ratchet key pair.
// The private key is clamped per RFC 7748.
func GenerateKeyPair() (domain.DHKeyPair, error) {
	var kp domain.DHKeyPair
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return domain.DHKeyPair{}, err
	}
	clamp(&kp.Private)
	pub, err := curve25519.X25519(kp.Private.Slice(), curve25519.Basepoint)
	if err != nil {
		return domain.DHKeyPair{}, err
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// DH computes the X25519 shared secret for priv and pub. It fails on
// malformed or low-order public keys.
func DH(priv domain.X25519Private, pub domain.X25519Public) (domain.Key, error) {
	var out domain.Key
	secret, err := curve25519.X25519(priv.Slice(), pub.Slice())
	if err != nil {
		return out, err
	}
	copy(out[:], secret)
	return out, nil
}

// Fingerprint returns a short fingerprint of a public key for display and
// logging. It is never used as key material.
func Fingerprint(pub domain.X25519Public) string {
	sum := sha256.Sum256(pub[:])
	return hex.EncodeToString(sum[:10])
}

func clamp(k *domain.X25519Private) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}
