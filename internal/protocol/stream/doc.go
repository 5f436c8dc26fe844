// Package stream implements the chunked data channel of a session.
//
// Payloads are split into fixed-size chunks and each chunk is sealed with
// ChaCha20-Poly1305 under the current stream key. The clear chunk header
// (generation, index, size) is bound as associated data. Keys are derived
// per generation from the session master key and rotate when a byte or age
// budget runs out; the previous generation stays decryptable so chunks in
// flight are not lost at the boundary.
//
// A Cipher is safe for concurrent use. Decrypt is all-or-nothing: a single
// bad chunk fails the whole call and releases no partial plaintext.
package stream
