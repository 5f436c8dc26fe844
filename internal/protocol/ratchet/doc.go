// Package ratchet implements the Double Ratchet control channel following
// Signal's design.
//
// Each side maintains a root key and one chain per direction. Every message
// advances its chain so that message keys are forward secure; whenever a
// party sees a new remote ratchet key it mixes a fresh DH secret into the
// root (break-in recovery). A step here is one half of the classic
// algorithm: receiving a new key advances the root and receive chain
// immediately, and the matching send half runs lazily on the next Encrypt.
// Each half also refreshes the session master key that seeds the bulk data
// channel, so both parties observe the same (master key, generation)
// sequence.
//
// Concurrency: a single mutex serialises all methods. The root key, chain
// keys and counters only ever change together; Decrypt stages chain movement
// on a copy of the state and commits after authentication, so forged input
// cannot corrupt a session.
package ratchet
