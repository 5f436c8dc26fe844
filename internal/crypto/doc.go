// Package crypto exposes the minimal primitives the session protocol uses.
//
// Contents
//
//   - X25519 key generation, clamping and Diffie–Hellman (GenerateKeyPair, DH)
//   - HKDF-SHA256 derivation with purpose labels (DeriveKeys)
//   - ChaCha20-Poly1305 sealing with a random prepended nonce (Seal, Open)
//   - Short public-key fingerprints for display/logging (Fingerprint)
//
// # Notes
//
// All key material uses fixed-size array types defined in internal/domain to
// avoid accidental reallocations. Callers should treat returned secrets as
// sensitive and wipe them via internal/util/memzero to reduce lifetime in
// memory.
package crypto
