package domain

// RatchetStats is a read-only snapshot of control-channel activity.
type RatchetStats struct {
	MessagesSent     uint64
	MessagesReceived uint64
	RatchetSteps     uint64
	SkippedKeys      int
}

// StreamStats is a read-only snapshot of data-channel activity.
type StreamStats struct {
	BytesEncrypted uint64
	BytesDecrypted uint64
	Rotations      uint64
	Generation     uint64
}
