// Package session couples the two channels of the protocol into one unit.
//
// A Session owns a control-channel ratchet and a data-channel stream cipher.
// Every ratchet step produces a new session master key generation, and the
// session keeps the stream key derived from whichever generation is current,
// so compromise recovery on the control channel carries over to bulk data.
// Rotation is driven by the data channel's byte and age budgets and executed
// as a forced ratchet step.
//
// A Manager tracks the live sessions of one process, the daemon typically
// holding one per connected client, and sweeps them for due rotations.
package session
