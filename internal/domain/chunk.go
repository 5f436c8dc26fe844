package domain

import "encoding/binary"

// ChunkHeaderSize is the length of an encoded ChunkHeader.
const ChunkHeaderSize = 8 + 4 + 4 + 4

// ChunkHeader describes one encrypted chunk of the data channel. It travels
// in clear ahead of its chunk and is the AEAD associated data for it, so
// generation, index, size and flags are all tamper-evident. Flags is
// reserved and currently always zero.
type ChunkHeader struct {
	Generation uint64
	Index      uint32
	Size       uint32
	Flags      uint32
}

// Bytes encodes the header as
// [key_generation:u64-LE][chunk_index:u32-LE][chunk_size:u32-LE][flags:u32-LE].
func (h ChunkHeader) Bytes() []byte {
	out := make([]byte, ChunkHeaderSize)
	binary.LittleEndian.PutUint64(out, h.Generation)
	binary.LittleEndian.PutUint32(out[8:], h.Index)
	binary.LittleEndian.PutUint32(out[12:], h.Size)
	binary.LittleEndian.PutUint32(out[16:], h.Flags)
	return out
}

func (h ChunkHeader) MarshalBinary() ([]byte, error) { return h.Bytes(), nil }

func (h *ChunkHeader) UnmarshalBinary(data []byte) error {
	if len(data) != ChunkHeaderSize {
		return ErrHeaderSize
	}
	h.Generation = binary.LittleEndian.Uint64(data)
	h.Index = binary.LittleEndian.Uint32(data[8:])
	h.Size = binary.LittleEndian.Uint32(data[12:])
	h.Flags = binary.LittleEndian.Uint32(data[16:])
	return nil
}
