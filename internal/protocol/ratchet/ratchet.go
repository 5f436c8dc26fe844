package ratchet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"duplex/internal/crypto"
	"duplex/internal/domain"
	"duplex/internal/util/memzero"
)

// DefaultMaxSkip bounds both how far ahead of the receive counter a single
// message may claim to be and how many skipped message keys are retained.
const DefaultMaxSkip = 1000

var (
	ErrShortSecret   = errors.New("shared secret shorter than 32 bytes")
	ErrNotReady      = errors.New("send chain not established yet")
	ErrReplay        = errors.New("message number already seen")
	ErrTooFarAhead   = errors.New("message number beyond skip limit")
	ErrStepPending   = errors.New("previous ratchet step not yet answered")
	ErrDecryptFailed = errors.New("message authentication failed")
	ErrClosed        = errors.New("ratchet is closed")
)

// state is the mutable half of a Ratchet. Decrypt stages its work on a copy
// and commits only after the tag verifies, so hostile input can never leave
// a session half-updated.
type state struct {
	selfPair  domain.DHKeyPair
	remotePub domain.X25519Public

	rootKey domain.Key
	sendCK  domain.Key
	recvCK  domain.Key

	haveRemote bool
	haveSend   bool
	haveRecv   bool

	// canStep gates send-side ratchet steps: the root may only advance on
	// our initiative once per received reply, or the peer loses the chain.
	canStep bool

	sendN     uint32
	recvN     uint32
	prevSendN uint32

	master     domain.Key
	generation uint64

	skipped   map[string]domain.Key
	skipOrder []string
}

// Ratchet is one end of the Double Ratchet control channel. All methods are
// safe for concurrent use; a single lock guards the whole state because the
// root key, chain keys and counters must only ever move together.
type Ratchet struct {
	mu      sync.Mutex
	st      state
	seen    map[string]map[uint32]struct{}
	stats   domain.RatchetStats
	maxSkip int
	log     *logrus.Logger
	closed  bool
}

// Option adjusts a Ratchet at construction time.
type Option func(*Ratchet)

// WithMaxSkip overrides DefaultMaxSkip.
func WithMaxSkip(n int) Option {
	return func(r *Ratchet) {
		if n > 0 {
			r.maxSkip = n
		}
	}
}

// WithLogger routes security-relevant events to log.
func WithLogger(log *logrus.Logger) Option {
	return func(r *Ratchet) {
		if log != nil {
			r.log = log
		}
	}
}

// NewInitiator builds the sending side. It knows the peer's public key from
// the handshake and ratchets once immediately, so it can send before having
// received anything.
func NewInitiator(secret []byte, peerPub domain.X25519Public, opts ...Option) (*Ratchet, error) {
	r, err := newRatchet(secret, opts)
	if err != nil {
		return nil, err
	}
	r.st.remotePub = peerPub
	r.st.haveRemote = true
	r.st.canStep = true
	if err := r.st.stepSend(); err != nil {
		return nil, err
	}
	r.stats.RatchetSteps++
	return r, nil
}

// NewResponder builds the receiving side around the key pair the handshake
// published for it. Chains come up lazily when the first message arrives.
func NewResponder(secret []byte, pair domain.DHKeyPair, opts ...Option) (*Ratchet, error) {
	r, err := newRatchet(secret, opts)
	if err != nil {
		return nil, err
	}
	r.st.selfPair = pair
	return r, nil
}

func newRatchet(secret []byte, opts []Option) (*Ratchet, error) {
	if len(secret) < domain.KeySize {
		return nil, ErrShortSecret
	}
	r := &Ratchet{
		seen:    make(map[string]map[uint32]struct{}),
		maxSkip: DefaultMaxSkip,
		log:     logrus.New(),
	}
	copy(r.st.rootKey[:], secret)
	r.st.skipped = make(map[string]domain.Key)
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Encrypt seals plaintext with the next send-chain message key. If the last
// received message turned the ratchet, the pending send-side step runs
// first. Responders cannot send before their first receive.
func (r *Ratchet) Encrypt(plaintext []byte) (domain.EncryptedMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return domain.EncryptedMessage{}, ErrClosed
	}
	if !r.st.haveSend {
		if !r.st.haveRemote {
			return domain.EncryptedMessage{}, ErrNotReady
		}
		if err := r.st.stepSend(); err != nil {
			return domain.EncryptedMessage{}, err
		}
		r.stats.RatchetSteps++
		r.log.WithField("generation", r.st.generation).Debug("ratchet stepped on send")
	}

	var mk domain.Key
	r.st.sendCK, mk = kdfCK(r.st.sendCK)
	defer memzero.Zero(mk[:])

	header := domain.MessageHeader{
		DHPub:        r.st.selfPair.Public,
		PrevChainLen: r.st.prevSendN,
		MsgNum:       r.st.sendN,
	}
	ct, err := crypto.Seal(mk, plaintext, header.Bytes())
	if err != nil {
		return domain.EncryptedMessage{}, err
	}
	r.st.sendN++
	r.stats.MessagesSent++
	return domain.EncryptedMessage{Header: header, Ciphertext: ct}, nil
}

// Decrypt opens msg. Out-of-order messages are served from the skipped-key
// store; a new remote key in the header turns the ratchet first. All chain
// movement happens on a staged copy of the state that commits only once the
// tag verifies, so a forged or replayed message changes nothing observable.
func (r *Ratchet) Decrypt(msg domain.EncryptedMessage) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	header := msg.Header
	peerID := string(header.DHPub[:])

	if nums, ok := r.seen[peerID]; ok {
		if _, dup := nums[header.MsgNum]; dup {
			r.log.WithFields(logrus.Fields{
				"peer": crypto.Fingerprint(header.DHPub),
				"num":  header.MsgNum,
			}).Warn("replayed control message rejected")
			return nil, ErrReplay
		}
	}

	// Out-of-order fast path: a key skipped earlier for exactly this
	// header. The entry is consumed only if the tag verifies.
	if pt, ok, err := r.trySkipped(header, msg.Ciphertext); ok {
		if err != nil {
			return nil, err
		}
		r.markSeen(peerID, header.MsgNum)
		r.stats.MessagesReceived++
		return pt, nil
	}

	st := r.st.clone()
	turned := false
	if !st.haveRemote || header.DHPub != st.remotePub {
		if st.haveRecv {
			if err := st.skipTo(header.PrevChainLen, r.maxSkip); err != nil {
				r.logSkipReject(header.PrevChainLen, st.recvN)
				return nil, err
			}
		}
		if err := st.stepRecv(header.DHPub); err != nil {
			return nil, err
		}
		turned = true
	}
	if !st.haveRecv {
		return nil, ErrDecryptFailed
	}
	if err := st.skipTo(header.MsgNum, r.maxSkip); err != nil {
		r.logSkipReject(header.MsgNum, st.recvN)
		return nil, err
	}

	var mk domain.Key
	st.recvCK, mk = kdfCK(st.recvCK)
	defer memzero.Zero(mk[:])
	pt, err := crypto.Open(mk, msg.Ciphertext, header.Bytes())
	if err != nil {
		return nil, ErrDecryptFailed
	}
	st.recvN++

	oldRemote, hadRemote := r.st.remotePub, r.st.haveRemote
	r.commit(st)
	if turned {
		r.stats.RatchetSteps++
		if hadRemote {
			delete(r.seen, string(oldRemote[:]))
		}
		r.log.WithFields(logrus.Fields{
			"peer":       crypto.Fingerprint(header.DHPub),
			"generation": r.st.generation,
		}).Debug("ratchet turned to new remote key")
	}
	r.markSeen(peerID, header.MsgNum)
	r.stats.MessagesReceived++
	return pt, nil
}

// ForceStep performs a send-side DH ratchet immediately, advancing the
// session master key without waiting for control traffic. It refuses to run
// again until the peer has answered the previous step, since the peer can
// only follow one root advance per reply.
func (r *Ratchet) ForceStep() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if err := r.st.stepSend(); err != nil {
		return err
	}
	r.stats.RatchetSteps++
	r.log.WithField("generation", r.st.generation).Debug("ratchet step forced")
	return nil
}

// MasterKey returns the current session master key and its generation.
// Generation zero means no ratchet step has happened and no key exists yet.
func (r *Ratchet) MasterKey() (domain.Key, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.master, r.st.generation
}

// Fingerprint returns the fingerprint of the current ratchet public key. It
// changes with every send-side step, since each step uses a fresh pair.
func (r *Ratchet) Fingerprint() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return crypto.Fingerprint(r.st.selfPair.Public)
}

// Stats returns a snapshot of channel activity.
func (r *Ratchet) Stats() domain.RatchetStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.SkippedKeys = len(r.st.skipped)
	return s
}

// Close wipes every secret the ratchet holds. The instance is unusable
// afterwards; all operations return ErrClosed.
func (r *Ratchet) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	memzero.Bytes(
		r.st.rootKey[:],
		r.st.sendCK[:],
		r.st.recvCK[:],
		r.st.master[:],
	)
	r.st.selfPair.Zero()
	for id := range r.st.skipped {
		r.st.skipped[id] = domain.Key{}
		delete(r.st.skipped, id)
	}
	r.st.skipOrder = nil
	r.st.haveSend, r.st.haveRecv = false, false
}

// trySkipped looks the header up in the skipped-key store. ok reports
// whether an entry matched; the key survives a failed tag so a forgery
// cannot burn it before the genuine message arrives.
func (r *Ratchet) trySkipped(header domain.MessageHeader, ciphertext []byte) ([]byte, bool, error) {
	id := skippedKeyID(header.DHPub, header.MsgNum)
	mk, ok := r.st.skipped[id]
	if !ok {
		return nil, false, nil
	}
	pt, err := crypto.Open(mk, ciphertext, header.Bytes())
	memzero.Zero(mk[:])
	if err != nil {
		return nil, true, ErrDecryptFailed
	}
	r.st.dropSkipped(id)
	return pt, true, nil
}

// commit replaces the live state with the staged copy. Skipped keys the
// copy superseded are wiped before the old map is released.
func (r *Ratchet) commit(st state) {
	for id := range r.st.skipped {
		r.st.skipped[id] = domain.Key{}
	}
	r.st = st
}

func (r *Ratchet) markSeen(peerID string, num uint32) {
	nums, ok := r.seen[peerID]
	if !ok {
		nums = make(map[uint32]struct{})
		r.seen[peerID] = nums
	}
	nums[num] = struct{}{}
}

func (r *Ratchet) logSkipReject(claimed, have uint32) {
	r.log.WithFields(logrus.Fields{
		"claimed": claimed,
		"have":    have,
	}).Warn("control message beyond skip limit")
}

// --- state transitions ---

// stepSend is the sending half of a DH ratchet step: fresh key pair, root
// advance against the current remote key, new send chain, next master key.
func (st *state) stepSend() error {
	if !st.haveRemote {
		return ErrNotReady
	}
	if !st.canStep {
		return ErrStepPending
	}
	pair, err := crypto.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("generate ratchet key: %w", err)
	}
	dh, err := crypto.DH(pair.Private, st.remotePub)
	if err != nil {
		return fmt.Errorf("ratchet dh: %w", err)
	}
	st.prevSendN = st.sendN
	st.sendN = 0
	st.selfPair = pair
	st.rootKey, st.sendCK = kdfRK(st.rootKey, dh)
	memzero.Zero(dh[:])
	st.haveSend = true
	st.canStep = false
	st.deriveMaster(st.sendCK)
	return nil
}

// stepRecv is the receiving half of a DH ratchet step, toward a newly seen
// remote key. The stale send chain is dropped; the next Encrypt rebuilds it.
func (st *state) stepRecv(remote domain.X25519Public) error {
	dh, err := crypto.DH(st.selfPair.Private, remote)
	if err != nil {
		return fmt.Errorf("ratchet dh: %w", err)
	}
	st.remotePub = remote
	st.haveRemote = true
	st.rootKey, st.recvCK = kdfRK(st.rootKey, dh)
	memzero.Zero(dh[:])
	st.haveRecv = true
	st.recvN = 0
	st.haveSend = false
	st.sendCK = domain.Key{}
	st.canStep = true
	st.deriveMaster(st.recvCK)
	return nil
}

// deriveMaster folds the freshly advanced chain into the session master key
// and bumps its generation.
func (st *state) deriveMaster(chain domain.Key) {
	buf := crypto.DeriveKeys(st.rootKey[:], chain[:], crypto.InfoSessionMK, domain.KeySize)
	copy(st.master[:], buf)
	memzero.Zero(buf)
	st.generation++
}

// skipTo derives and stores receive-chain keys up to (not including) target.
// A gap beyond maxSkip is rejected before any key is derived.
func (st *state) skipTo(target uint32, maxSkip int) error {
	if !st.haveRecv {
		return nil
	}
	if target > st.recvN && uint64(target-st.recvN) > uint64(maxSkip) {
		return ErrTooFarAhead
	}
	for st.recvN < target {
		var mk domain.Key
		st.recvCK, mk = kdfCK(st.recvCK)
		st.storeSkipped(skippedKeyID(st.remotePub, st.recvN), mk, maxSkip)
		st.recvN++
	}
	return nil
}

// storeSkipped caps the store FIFO; the oldest entry is wiped and evicted
// first.
func (st *state) storeSkipped(id string, mk domain.Key, maxSkip int) {
	st.skipped[id] = mk
	st.skipOrder = append(st.skipOrder, id)
	for len(st.skipOrder) > maxSkip {
		oldest := st.skipOrder[0]
		st.skipOrder = st.skipOrder[1:]
		st.skipped[oldest] = domain.Key{}
		delete(st.skipped, oldest)
	}
}

func (st *state) dropSkipped(id string) {
	// Overwrite before delete so the key bytes do not linger in the bucket.
	st.skipped[id] = domain.Key{}
	delete(st.skipped, id)
	for i, v := range st.skipOrder {
		if v == id {
			st.skipOrder = append(st.skipOrder[:i], st.skipOrder[i+1:]...)
			break
		}
	}
}

func (st *state) clone() state {
	cp := *st
	cp.skipped = make(map[string]domain.Key, len(st.skipped))
	for id, mk := range st.skipped {
		cp.skipped[id] = mk
	}
	cp.skipOrder = append([]string(nil), st.skipOrder...)
	return cp
}

// --- key derivation ---

func kdfRK(root, dh domain.Key) (domain.Key, domain.Key) {
	buf := crypto.DeriveKeys(root[:], dh[:], crypto.InfoRatchetRK, 2*domain.KeySize)
	var newRoot, chain domain.Key
	copy(newRoot[:], buf[:domain.KeySize])
	copy(chain[:], buf[domain.KeySize:])
	memzero.Zero(buf)
	return newRoot, chain
}

func kdfCK(chain domain.Key) (domain.Key, domain.Key) {
	buf := crypto.DeriveKeys(chain[:], nil, crypto.InfoRatchetCK, 2*domain.KeySize)
	var next, mk domain.Key
	copy(next[:], buf[:domain.KeySize])
	copy(mk[:], buf[domain.KeySize:])
	memzero.Zero(buf)
	return next, mk
}

// skippedKeyID keys the store by remote public key and message number.
func skippedKeyID(pub domain.X25519Public, n uint32) string {
	b := make([]byte, 36)
	copy(b, pub[:])
	binary.BigEndian.PutUint32(b[32:], n)
	return string(b)
}
