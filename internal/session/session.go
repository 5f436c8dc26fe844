package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"duplex/internal/domain"
	"duplex/internal/protocol/ratchet"
	"duplex/internal/protocol/stream"
)

// Config holds the tunables of one session. The zero value is usable; every
// field falls back to the protocol defaults.
type Config struct {
	// ChunkSize is the plaintext bytes per data chunk.
	ChunkSize int
	// RotationBytes and RotationInterval bound the life of one data key.
	RotationBytes    uint64
	RotationInterval time.Duration
	// MaxSkip bounds the out-of-order window of the control channel.
	MaxSkip int
	// Logger receives protocol events. Defaults to a fresh logrus logger.
	Logger *logrus.Logger
	// OnRotation runs after every data key rotation with the new generation.
	// It is called with the session lock held and must not call back into
	// the session.
	OnRotation func(generation uint64)
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = stream.DefaultChunkSize
	}
	if c.RotationBytes == 0 {
		c.RotationBytes = stream.DefaultRotationBytes
	}
	if c.RotationInterval <= 0 {
		c.RotationInterval = stream.DefaultRotationInterval
	}
	if c.MaxSkip <= 0 {
		c.MaxSkip = ratchet.DefaultMaxSkip
	}
	if c.Logger == nil {
		c.Logger = logrus.New()
	}
	return c
}

// Stats aggregates both channels of a session.
type Stats struct {
	ID      uuid.UUID
	Control domain.RatchetStats
	Data    domain.StreamStats
}

// Session drives a control ratchet and a data stream cipher as one unit. The
// data key always derives from the ratchet's current master key, so a ratchet
// step on the control channel rotates the data channel on the next sync.
type Session struct {
	mu      sync.Mutex
	id      uuid.UUID
	ratchet *ratchet.Ratchet
	cipher  *stream.Cipher
	log     *logrus.Logger
}

// NewInitiator opens the client side of a session. The initiator can encrypt
// on both channels immediately.
func NewInitiator(secret []byte, peerPub domain.X25519Public, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	r, err := ratchet.NewInitiator(secret, peerPub,
		ratchet.WithMaxSkip(cfg.MaxSkip), ratchet.WithLogger(cfg.Logger))
	if err != nil {
		return nil, err
	}
	return newSession(r, cfg), nil
}

// NewResponder opens the daemon side around the key pair the handshake
// published. Both channels come up when the first control message arrives.
func NewResponder(secret []byte, pair domain.DHKeyPair, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	r, err := ratchet.NewResponder(secret, pair,
		ratchet.WithMaxSkip(cfg.MaxSkip), ratchet.WithLogger(cfg.Logger))
	if err != nil {
		return nil, err
	}
	return newSession(r, cfg), nil
}

func newSession(r *ratchet.Ratchet, cfg Config) *Session {
	s := &Session{
		id:      uuid.New(),
		ratchet: r,
		cipher: stream.New(
			stream.WithChunkSize(cfg.ChunkSize),
			stream.WithRotationPolicy(cfg.RotationBytes, cfg.RotationInterval),
			stream.WithRotationCallback(cfg.OnRotation),
			stream.WithLogger(cfg.Logger),
		),
		log: cfg.Logger,
	}
	s.mu.Lock()
	s.syncDataKey()
	s.mu.Unlock()
	s.log.WithField("session", s.id).Debug("session opened")
	return s
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// EncryptControl seals a control payload on the ratchet channel and returns
// the wire encoding. A pending ratchet step runs first, so the data key may
// advance as a side effect.
func (s *Session) EncryptControl(plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, err := s.ratchet.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}
	s.syncDataKey()
	return msg.MarshalBinary()
}

// DecryptControl opens a wire-encoded control message. A ratchet turn inside
// advances the data key before the plaintext is returned, so the peer's next
// data chunks already find their generation installed.
func (s *Session) DecryptControl(wire []byte) ([]byte, error) {
	var msg domain.EncryptedMessage
	if err := msg.UnmarshalBinary(wire); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	plaintext, err := s.ratchet.Decrypt(msg)
	if err != nil {
		return nil, err
	}
	s.syncDataKey()
	return plaintext, nil
}

// EncryptData seals a payload on the stream channel. When the current data
// key is past its budget the session first tries to rotate; a rotation the
// peer cannot follow yet is deferred, not an error, and the current key keeps
// serving.
func (s *Session) EncryptData(data []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cipher.NeedsRotation() {
		if err := s.rotate(); err != nil {
			s.log.WithError(err).WithField("session", s.id).
				Debug("data key rotation deferred")
		}
	}
	return s.cipher.Encrypt(data)
}

// DecryptData opens a blob of data chunks.
func (s *Session) DecryptData(data []byte) ([]byte, error) {
	return s.cipher.Decrypt(data)
}

// RotateKeys forces a ratchet step and moves the data channel to the new
// generation. It fails with ratchet.ErrStepPending while the previous step is
// still unanswered.
func (s *Session) RotateKeys() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rotate()
}

// NeedsRotation reports whether the data key is past its byte or age budget.
func (s *Session) NeedsRotation() bool {
	return s.cipher.NeedsRotation()
}

// Stats returns a snapshot of both channels.
func (s *Session) Stats() Stats {
	return Stats{
		ID:      s.id,
		Control: s.ratchet.Stats(),
		Data:    s.cipher.Stats(),
	}
}

// Close wipes the key material of both channels.
func (s *Session) Close() {
	s.ratchet.Close()
	s.cipher.Close()
	s.log.WithField("session", s.id).Debug("session closed")
}

func (s *Session) rotate() error {
	if err := s.ratchet.ForceStep(); err != nil {
		return err
	}
	s.syncDataKey()
	return nil
}

// syncDataKey realigns the data key with the ratchet's master key. Callers
// hold s.mu. Generation zero means the ratchet has not stepped yet and there
// is nothing to install.
func (s *Session) syncDataKey() {
	master, generation := s.ratchet.MasterKey()
	if generation == 0 || generation <= s.cipher.Generation() {
		return
	}
	if s.cipher.Generation() == 0 {
		s.cipher.Init(master, generation)
		return
	}
	s.cipher.UpdateKey(master, generation)
}
