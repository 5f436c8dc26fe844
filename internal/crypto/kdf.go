package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDF info labels. Distinct labels keep every derivation purpose separated
// so keys can never be confused across uses.
const (
	InfoRatchetRK = "RatchetRK"
	InfoRatchetCK = "RatchetCK"
	InfoSessionMK = "SessionMK"
	InfoStreamKey = "StreamKey"
)

// DeriveKeys runs HKDF-SHA256 extract-and-expand over ikm with the given
// salt and purpose label and returns n bytes. Callers wipe the result once
// it has been split into its destination keys.
func DeriveKeys(salt, ikm []byte, info string, n int) []byte {
	out := make([]byte, n)
	r := hkdf.New(sha256.New, ikm, salt, []byte(info))
	_, _ = io.ReadFull(r, out)
	return out
}
