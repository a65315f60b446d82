package protocol

import (
	"bytes"
	"fmt"
	"io"

	"github.com/multiformats/go-varint"
)

// MaxVarIntLen is the maximum encoded size of a 32-bit VarInt.
const MaxVarIntLen = 5

// EncodeVarInt encodes v as a VarInt: 7 data bits per byte, least
// significant group first, high bit set on every byte but the last.
// Negative values are encoded from their 32-bit two's-complement pattern
// and always take 5 bytes.
func EncodeVarInt(v int32) []byte {
	return varint.ToUvarint(uint64(uint32(v)))
}

// AppendVarInt appends the VarInt encoding of v to dst.
func AppendVarInt(dst []byte, v int32) []byte {
	return append(dst, EncodeVarInt(v)...)
}

// VarIntSize returns the number of bytes EncodeVarInt(v) produces.
func VarIntSize(v int32) int {
	return varint.UvarintSize(uint64(uint32(v)))
}

// ReadVarInt decodes one VarInt from r, one byte at a time, and returns the
// value and the number of bytes consumed. A stream that ends before the
// terminating byte fails with ErrConnectionClosed; a sixth byte is never
// read and a fifth byte with the continuation bit fails with
// ErrMalformedVarInt.
func ReadVarInt(r io.ByteReader) (int32, int, error) {
	var result uint32

	for i := 0; i < MaxVarIntLen; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, i, wrap("read varint", err, KindConnectionClosed)
		}

		result |= uint32(b&0x7F) << (7 * i)

		if b&0x80 == 0 {
			return int32(result), i + 1, nil
		}
	}

	return 0, MaxVarIntLen, &Error{
		Kind: KindMalformedVarInt,
		Op:   "read varint",
		Err:  fmt.Errorf("no terminating byte within %d bytes", MaxVarIntLen),
	}
}

// DecodeVarInt decodes a VarInt from the start of b.
func DecodeVarInt(b []byte) (int32, int, error) {
	return ReadVarInt(bytes.NewReader(b))
}
