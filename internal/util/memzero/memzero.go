package memzero

import "crypto/subtle"

// Zero overwrites b with zeros in a constant-time friendly way.
func Zero(b []byte) {
	if len(b) == 0 {
		return
	}
	zero := make([]byte, len(b))
	subtle.ConstantTimeCopy(1, b, zero)
}

// Bytes wipes several buffers at once, typically the full key set of a
// session being torn down.
func Bytes(bufs ...[]byte) {
	for _, b := range bufs {
		Zero(b)
	}
}
