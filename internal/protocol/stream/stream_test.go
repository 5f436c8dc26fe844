package stream

import (
	"bytes"
	"errors"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"

	"duplex/internal/domain"
)

func testMaster(b byte) domain.Key {
	var k domain.Key
	for i := range k {
		k[i] = b
	}
	return k
}

func quietCipher(t *testing.T, opts ...Option) *Cipher {
	t.Helper()
	log, _ := logtest.NewNullLogger()
	return New(append(opts, WithLogger(log))...)
}

// readHeaders walks an encrypted blob and returns every chunk header in it.
func readHeaders(t *testing.T, blob []byte) []domain.ChunkHeader {
	t.Helper()
	var headers []domain.ChunkHeader
	for len(blob) > 0 {
		var h domain.ChunkHeader
		if err := h.UnmarshalBinary(blob[:domain.ChunkHeaderSize]); err != nil {
			t.Fatalf("parse chunk header: %v", err)
		}
		headers = append(headers, h)
		blob = blob[domain.ChunkHeaderSize+12+int(h.Size)+16:]
	}
	return headers
}

func TestCipher_EncryptBeforeInitFails(t *testing.T) {
	c := quietCipher(t)
	if _, err := c.Encrypt([]byte("too early")); !errors.Is(err, ErrNoKey) {
		t.Fatalf("expected ErrNoKey, got %v", err)
	}
}

func TestCipher_RoundTripSingleChunk(t *testing.T) {
	c := quietCipher(t)
	c.Init(testMaster(0x42), 1)

	plaintext := []byte("automation command payload")
	blob, err := c.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	got, err := c.Decrypt(blob)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
	}

	stats := c.Stats()
	if stats.BytesEncrypted != uint64(len(plaintext)) || stats.BytesDecrypted != uint64(len(plaintext)) {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestCipher_RoundTripMultiChunk(t *testing.T) {
	c := quietCipher(t, WithChunkSize(16))
	c.Init(testMaster(0x42), 1)

	plaintext := bytes.Repeat([]byte("0123456789"), 5)
	blob, err := c.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	headers := readHeaders(t, blob)
	if len(headers) != 4 {
		t.Fatalf("expected 4 chunks for 50 bytes at chunk size 16, got %d", len(headers))
	}
	if headers[3].Size != 2 {
		t.Fatalf("expected final chunk of 2 bytes, got %d", headers[3].Size)
	}

	got, err := c.Decrypt(blob)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatal("multi-chunk round trip mismatch")
	}
}

func TestCipher_EmptyPayload(t *testing.T) {
	c := quietCipher(t)
	c.Init(testMaster(0x42), 1)

	blob, err := c.Encrypt(nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if len(blob) != 0 {
		t.Fatalf("empty payload should produce no chunks, got %d bytes", len(blob))
	}
	got, err := c.Decrypt(blob)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty plaintext, got %d bytes", len(got))
	}
}

func TestCipher_IndexesAdvanceAcrossCallsAndResetOnRotation(t *testing.T) {
	c := quietCipher(t, WithChunkSize(8))
	c.Init(testMaster(0x42), 1)

	first, err := c.Encrypt(bytes.Repeat([]byte{0xAA}, 20))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	second, err := c.Encrypt([]byte("again"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	headers := readHeaders(t, first)
	for i, h := range headers {
		if h.Index != uint32(i) {
			t.Fatalf("chunk %d carries index %d", i, h.Index)
		}
		if h.Generation != 1 {
			t.Fatalf("chunk %d carries generation %d", i, h.Generation)
		}
	}
	if h := readHeaders(t, second)[0]; h.Index != 3 {
		t.Fatalf("index should continue across calls, got %d", h.Index)
	}

	c.UpdateKey(testMaster(0x43), 2)
	third, err := c.Encrypt([]byte("fresh"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if h := readHeaders(t, third)[0]; h.Index != 0 || h.Generation != 2 {
		t.Fatalf("rotation should reset index, got index %d generation %d", h.Index, h.Generation)
	}
}

func TestCipher_RotationByBytes(t *testing.T) {
	c := quietCipher(t, WithChunkSize(32), WithRotationPolicy(64, time.Hour))
	c.Init(testMaster(0x42), 1)

	if _, err := c.Encrypt(bytes.Repeat([]byte{0x01}, 32)); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if c.NeedsRotation() {
		t.Fatal("rotation flagged below the byte budget")
	}
	if _, err := c.Encrypt(bytes.Repeat([]byte{0x02}, 32)); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !c.NeedsRotation() {
		t.Fatal("rotation not flagged at the byte budget")
	}

	c.UpdateKey(testMaster(0x43), 2)
	if c.NeedsRotation() {
		t.Fatal("fresh key should not need rotation")
	}
}

func TestCipher_RotationByAge(t *testing.T) {
	c := quietCipher(t, WithRotationPolicy(1<<30, 300*time.Second))
	base := time.Unix(1700000000, 0)
	c.now = func() time.Time { return base }
	c.Init(testMaster(0x42), 1)

	if c.NeedsRotation() {
		t.Fatal("new key should not need rotation")
	}
	c.now = func() time.Time { return base.Add(299 * time.Second) }
	if c.NeedsRotation() {
		t.Fatal("rotation flagged before the age budget")
	}
	c.now = func() time.Time { return base.Add(300 * time.Second) }
	if !c.NeedsRotation() {
		t.Fatal("rotation not flagged at the age budget")
	}
}

func TestCipher_PreviousGenerationStillDecrypts(t *testing.T) {
	c := quietCipher(t)
	c.Init(testMaster(0x42), 1)

	old, err := c.Encrypt([]byte("sealed before rotation"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	c.UpdateKey(testMaster(0x43), 2)
	got, err := c.Decrypt(old)
	if err != nil {
		t.Fatalf("previous-generation chunk should decrypt: %v", err)
	}
	if !bytes.Equal(got, []byte("sealed before rotation")) {
		t.Fatal("previous-generation plaintext mismatch")
	}

	// One more rotation pushes generation 1 out of the window.
	c.UpdateKey(testMaster(0x44), 3)
	if _, err := c.Decrypt(old); !errors.Is(err, ErrUnknownGeneration) {
		t.Fatalf("expected ErrUnknownGeneration, got %v", err)
	}
}

func TestCipher_UnknownGenerationRejected(t *testing.T) {
	sender := quietCipher(t)
	receiver := quietCipher(t)
	sender.Init(testMaster(0x42), 1)
	receiver.Init(testMaster(0x42), 1)

	sender.UpdateKey(testMaster(0x43), 2)
	blob, err := sender.Encrypt([]byte("ahead of the receiver"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := receiver.Decrypt(blob); !errors.Is(err, ErrUnknownGeneration) {
		t.Fatalf("expected ErrUnknownGeneration, got %v", err)
	}

	receiver.UpdateKey(testMaster(0x43), 2)
	if _, err := receiver.Decrypt(blob); err != nil {
		t.Fatalf("decrypt after catching up: %v", err)
	}
}

func TestCipher_RotationCallback(t *testing.T) {
	var gens []uint64
	c := quietCipher(t, WithRotationCallback(func(g uint64) { gens = append(gens, g) }))

	c.Init(testMaster(0x42), 1)
	c.UpdateKey(testMaster(0x43), 2)
	c.UpdateKey(testMaster(0x43), 2) // same generation, no rotation
	c.UpdateKey(testMaster(0x44), 3)

	if len(gens) != 2 || gens[0] != 2 || gens[1] != 3 {
		t.Fatalf("unexpected callback generations: %v", gens)
	}
	if got := c.Stats().Rotations; got != 2 {
		t.Fatalf("expected 2 rotations, got %d", got)
	}
}

func TestCipher_TamperedChunkFails(t *testing.T) {
	c := quietCipher(t)
	c.Init(testMaster(0x42), 1)

	blob, err := c.Encrypt([]byte("integrity matters"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	// Header, nonce, ciphertext and tag regions in turn.
	for _, pos := range []int{4, domain.ChunkHeaderSize + 3, domain.ChunkHeaderSize + 12, len(blob) - 1} {
		bad := append([]byte(nil), blob...)
		bad[pos] ^= 0x01
		if _, err := c.Decrypt(bad); err == nil {
			t.Fatalf("tamper at byte %d went unnoticed", pos)
		}
	}

	if _, err := c.Decrypt(blob); err != nil {
		t.Fatalf("untouched blob should still decrypt: %v", err)
	}
}

func TestCipher_BadChunkDiscardsWholeStream(t *testing.T) {
	c := quietCipher(t, WithChunkSize(8))
	c.Init(testMaster(0x42), 1)

	blob, err := c.Encrypt([]byte("chunk-a!chunk-b!"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	// Corrupt the second chunk's tag; the first chunk is intact.
	bad := append([]byte(nil), blob...)
	bad[len(bad)-1] ^= 0xFF
	got, err := c.Decrypt(bad)
	if !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("expected ErrDecryptFailed, got %v", err)
	}
	if got != nil {
		t.Fatalf("partial plaintext leaked: %q", got)
	}
}

func TestCipher_TruncatedStream(t *testing.T) {
	c := quietCipher(t)
	c.Init(testMaster(0x42), 1)

	blob, err := c.Encrypt([]byte("cut me short"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	for _, n := range []int{domain.ChunkHeaderSize - 1, domain.ChunkHeaderSize + 5, len(blob) - 1} {
		if _, err := c.Decrypt(blob[:n]); !errors.Is(err, ErrTruncated) {
			t.Fatalf("truncation to %d bytes: expected ErrTruncated, got %v", n, err)
		}
	}
}

func TestCipher_CloseDisablesUse(t *testing.T) {
	c := quietCipher(t)
	c.Init(testMaster(0x42), 1)
	blob, err := c.Encrypt([]byte("last words"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	c.Close()
	c.Close()
	if _, err := c.Encrypt([]byte("after close")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := c.Decrypt(blob); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if c.Generation() != 0 {
		t.Fatal("closed cipher should report generation 0")
	}
}
