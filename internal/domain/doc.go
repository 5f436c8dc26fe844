// Package domain defines the data model shared across the library: fixed-size
// key types, the control and data channel headers with their wire encodings,
// and read-only statistics snapshots. It contains plain types only.
package domain
