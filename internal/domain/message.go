package domain

import (
	"encoding/binary"
	"errors"
)

// MessageHeaderSize is the length of an encoded MessageHeader.
const MessageHeaderSize = 32 + 4 + 4

var (
	// ErrHeaderSize reports an encoded header of unexpected length.
	ErrHeaderSize = errors.New("unexpected header size")
	// ErrShortMessage reports a truncated encrypted message.
	ErrShortMessage = errors.New("encrypted message truncated")
)

// MessageHeader names the sending chain and position that produced a control
// message. Its binary encoding travels in clear and doubles as the AEAD
// associated data, so a swapped header fails authentication.
type MessageHeader struct {
	DHPub        X25519Public
	PrevChainLen uint32
	MsgNum       uint32
}

// Bytes encodes the header as
// [dh_public:32][prev_chain_len:u32-LE][message_num:u32-LE].
func (h MessageHeader) Bytes() []byte {
	out := make([]byte, MessageHeaderSize)
	copy(out, h.DHPub[:])
	binary.LittleEndian.PutUint32(out[32:], h.PrevChainLen)
	binary.LittleEndian.PutUint32(out[36:], h.MsgNum)
	return out
}

func (h MessageHeader) MarshalBinary() ([]byte, error) { return h.Bytes(), nil }

func (h *MessageHeader) UnmarshalBinary(data []byte) error {
	if len(data) != MessageHeaderSize {
		return ErrHeaderSize
	}
	copy(h.DHPub[:], data[:32])
	h.PrevChainLen = binary.LittleEndian.Uint32(data[32:])
	h.MsgNum = binary.LittleEndian.Uint32(data[36:])
	return nil
}

// EncryptedMessage is the unit exchanged over the control channel. Ciphertext
// carries the AEAD output: nonce, sealed bytes and tag.
type EncryptedMessage struct {
	Header     MessageHeader
	Ciphertext []byte
}

// MarshalBinary encodes as [header_len:u32-LE][header][ciphertext]. The
// length prefix names the header version; this implementation emits and
// accepts only MessageHeaderSize.
func (m EncryptedMessage) MarshalBinary() ([]byte, error) {
	hb := m.Header.Bytes()
	out := make([]byte, 0, 4+len(hb)+len(m.Ciphertext))
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(hb)))
	out = append(out, n[:]...)
	out = append(out, hb...)
	out = append(out, m.Ciphertext...)
	return out, nil
}

func (m *EncryptedMessage) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return ErrShortMessage
	}
	hlen := binary.LittleEndian.Uint32(data)
	if hlen != MessageHeaderSize {
		return ErrHeaderSize
	}
	if len(data) < 4+int(hlen) {
		return ErrShortMessage
	}
	if err := m.Header.UnmarshalBinary(data[4 : 4+int(hlen)]); err != nil {
		return err
	}
	m.Ciphertext = append([]byte(nil), data[4+int(hlen):]...)
	return nil
}
