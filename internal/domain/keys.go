package domain

import "duplex/internal/util/memzero"

// KeySize is the length of every symmetric secret in the protocol.
const KeySize = 32

// Key is a 32-byte opaque secret. Root keys, chain keys, message keys,
// session master keys and stream keys all share this shape. Holders wipe a
// Key when it leaves service.
type Key [KeySize]byte

func (k Key) Slice() []byte { return k[:] }

// IsZero reports whether k holds no key material.
func (k Key) IsZero() bool { return k == Key{} }

// ------------- X25519 -------------

type X25519Private [32]byte
type X25519Public [32]byte

func (k X25519Private) Slice() []byte { return k[:] }
func (k X25519Public) Slice() []byte  { return k[:] }

// DHKeyPair is one ratchet key pair. The private half never crosses a
// process boundary and is wiped when the owning ratchet closes.
type DHKeyPair struct {
	Private X25519Private
	Public  X25519Public
}

// Zero wipes the private half in place.
func (kp *DHKeyPair) Zero() {
	memzero.Zero(kp.Private[:])
}
