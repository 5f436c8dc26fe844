package stream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"duplex/internal/crypto"
	"duplex/internal/domain"
	"duplex/internal/util/memzero"
)

const (
	// DefaultChunkSize is how much plaintext one chunk carries.
	DefaultChunkSize = 64 * 1024
	// DefaultRotationBytes is the byte budget of one stream key.
	DefaultRotationBytes = 10 * 1024 * 1024
	// DefaultRotationInterval is the age budget of one stream key.
	DefaultRotationInterval = 300 * time.Second

	// chunkOverhead is the wire cost per chunk: header, nonce and tag.
	chunkOverhead = domain.ChunkHeaderSize + crypto.NonceSize + crypto.TagSize
)

var (
	ErrNoKey             = errors.New("stream key not initialised")
	ErrUnknownGeneration = errors.New("no key for chunk generation")
	ErrTruncated         = errors.New("chunk stream truncated")
	ErrDecryptFailed     = errors.New("chunk authentication failed")
	ErrClosed            = errors.New("stream cipher is closed")
)

// streamKey is one generation of the data-channel key.
type streamKey struct {
	key            domain.Key
	generation     uint64
	createdAt      time.Time
	bytesEncrypted uint64
}

// Cipher is the chunked AEAD data channel. It holds the current key and the
// previous one, so chunks already in flight survive a rotation. A single
// lock guards the key pair and counters.
type Cipher struct {
	mu       sync.Mutex
	current  *streamKey
	previous *streamKey

	chunkSize        int
	rotationBytes    uint64
	rotationInterval time.Duration

	nextIndex  uint32
	stats      domain.StreamStats
	onRotation func(uint64)
	log        *logrus.Logger
	now        func() time.Time
	closed     bool
}

// Option adjusts a Cipher at construction time.
type Option func(*Cipher)

// WithChunkSize sets the plaintext bytes per chunk.
func WithChunkSize(n int) Option {
	return func(c *Cipher) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// WithRotationPolicy sets the byte and age budgets of one key.
func WithRotationPolicy(maxBytes uint64, maxAge time.Duration) Option {
	return func(c *Cipher) {
		if maxBytes > 0 {
			c.rotationBytes = maxBytes
		}
		if maxAge > 0 {
			c.rotationInterval = maxAge
		}
	}
}

// WithRotationCallback registers fn to run after every key rotation with the
// new generation. fn must not call back into the Cipher.
func WithRotationCallback(fn func(generation uint64)) Option {
	return func(c *Cipher) { c.onRotation = fn }
}

// WithLogger routes rotation and rejection events to log.
func WithLogger(log *logrus.Logger) Option {
	return func(c *Cipher) {
		if log != nil {
			c.log = log
		}
	}
}

// New builds a Cipher with no key material; Init must run before Encrypt.
func New(opts ...Option) *Cipher {
	c := &Cipher{
		chunkSize:        DefaultChunkSize,
		rotationBytes:    DefaultRotationBytes,
		rotationInterval: DefaultRotationInterval,
		log:              logrus.New(),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Init derives the first stream key from the session master key.
func (c *Cipher) Init(master domain.Key, generation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.installKey(master, generation)
}

// UpdateKey rotates to a new generation. The outgoing key is retained as
// previous so chunks sealed just before the rotation still decrypt; the key
// it displaces is wiped. The rotation callback fires with the new
// generation.
func (c *Cipher) UpdateKey(master domain.Key, generation uint64) {
	c.mu.Lock()
	var cb func(uint64)
	if !c.closed && (c.current == nil || c.current.generation != generation) {
		c.installKey(master, generation)
		c.stats.Rotations++
		cb = c.onRotation
	}
	c.mu.Unlock()
	if cb != nil {
		cb(generation)
	}
}

func (c *Cipher) installKey(master domain.Key, generation uint64) {
	if c.current != nil && c.current.generation == generation {
		return
	}
	var salt [8]byte
	binary.LittleEndian.PutUint64(salt[:], generation)
	buf := crypto.DeriveKeys(salt[:], master[:], crypto.InfoStreamKey, domain.KeySize)
	next := &streamKey{generation: generation, createdAt: c.now()}
	copy(next.key[:], buf)
	memzero.Zero(buf)

	if c.previous != nil {
		memzero.Zero(c.previous.key[:])
	}
	c.previous = c.current
	c.current = next
	c.nextIndex = 0
	c.stats.Generation = generation
	c.log.WithField("generation", generation).Debug("stream key installed")
}

// Encrypt splits data into chunks and seals each under the current key. The
// chunk header travels in clear as associated data, so generation, index and
// size are tamper-evident. Output is the concatenation
// [header][nonce][ciphertext][tag] per chunk.
func (c *Cipher) Encrypt(data []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.current == nil {
		return nil, ErrNoKey
	}

	chunks := (len(data) + c.chunkSize - 1) / c.chunkSize
	out := make([]byte, 0, len(data)+chunks*chunkOverhead)
	for off := 0; off < len(data); off += c.chunkSize {
		end := off + c.chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[off:end]
		header := domain.ChunkHeader{
			Generation: c.current.generation,
			Index:      c.nextIndex,
			Size:       uint32(len(chunk)),
		}
		hb := header.Bytes()
		box, err := crypto.Seal(c.current.key, chunk, hb)
		if err != nil {
			return nil, fmt.Errorf("seal chunk %d: %w", header.Index, err)
		}
		out = append(out, hb...)
		out = append(out, box...)
		c.nextIndex++
		c.current.bytesEncrypted += uint64(len(chunk))
		c.stats.BytesEncrypted += uint64(len(chunk))
	}
	return out, nil
}

// Decrypt reverses Encrypt over any whole number of chunks. It fails as a
// unit: one bad chunk discards everything already decrypted, and no partial
// plaintext reaches the caller.
func (c *Cipher) Decrypt(data []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	out := make([]byte, 0, len(data))
	for len(data) > 0 {
		if len(data) < domain.ChunkHeaderSize {
			return nil, ErrTruncated
		}
		hb := data[:domain.ChunkHeaderSize]
		var header domain.ChunkHeader
		if err := header.UnmarshalBinary(hb); err != nil {
			return nil, ErrTruncated
		}
		rest := data[domain.ChunkHeaderSize:]

		need := uint64(crypto.NonceSize) + uint64(header.Size) + uint64(crypto.TagSize)
		if uint64(len(rest)) < need {
			return nil, ErrTruncated
		}
		key, err := c.keyFor(header.Generation)
		if err != nil {
			return nil, err
		}
		pt, err := crypto.Open(key, rest[:need], hb)
		if err != nil {
			return nil, ErrDecryptFailed
		}
		out = append(out, pt...)
		data = rest[need:]
	}
	c.stats.BytesDecrypted += uint64(len(out))
	return out, nil
}

// NeedsRotation reports whether the current key is past its byte or age
// budget. It is a policy signal only; enforcement belongs to the caller.
func (c *Cipher) NeedsRotation() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.current == nil {
		return false
	}
	if c.current.bytesEncrypted >= c.rotationBytes {
		return true
	}
	return c.now().Sub(c.current.createdAt) >= c.rotationInterval
}

// Generation returns the current key generation, zero before Init.
func (c *Cipher) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return 0
	}
	return c.current.generation
}

// Stats returns a snapshot of channel activity.
func (c *Cipher) Stats() domain.StreamStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Close wipes both retained keys. The instance is unusable afterwards.
func (c *Cipher) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.current != nil {
		memzero.Zero(c.current.key[:])
		c.current = nil
	}
	if c.previous != nil {
		memzero.Zero(c.previous.key[:])
		c.previous = nil
	}
}

func (c *Cipher) keyFor(generation uint64) (domain.Key, error) {
	if c.current != nil && c.current.generation == generation {
		return c.current.key, nil
	}
	if c.previous != nil && c.previous.generation == generation {
		return c.previous.key, nil
	}
	c.log.WithField("generation", generation).Warn("chunk for unknown key generation")
	return domain.Key{}, ErrUnknownGeneration
}
