package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// PacketBuilder constructs a single packet payload, starting with its
// VarInt packet id.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder creates a builder whose payload starts with packetID.
func NewPacketBuilder(packetID int32) *PacketBuilder {
	b := &PacketBuilder{}
	b.WriteVarInt(packetID)
	return b
}

// WriteVarInt writes a VarInt.
func (b *PacketBuilder) WriteVarInt(v int32) *PacketBuilder {
	b.buf.Write(EncodeVarInt(v))
	return b
}

// WriteString writes a VarInt length prefix followed by the UTF-8 bytes of s.
func (b *PacketBuilder) WriteString(s string) *PacketBuilder {
	b.WriteVarInt(int32(len(s)))
	b.buf.WriteString(s)
	return b
}

// WriteUint16 writes a uint16 in big-endian order.
func (b *PacketBuilder) WriteUint16(v uint16) *PacketBuilder {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	b.buf.Write(tmp[:])
	return b
}

// WriteInt64 writes an int64 in big-endian order.
func (b *PacketBuilder) WriteInt64(v int64) *PacketBuilder {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(v))
	b.buf.Write(tmp[:])
	return b
}

// WriteBytes writes raw bytes.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// Build returns the packet payload without a length prefix.
func (b *PacketBuilder) Build() []byte {
	return b.buf.Bytes()
}

// BuildFrame returns the payload preceded by its VarInt length.
func (b *PacketBuilder) BuildFrame() []byte {
	return Frame(b.buf.Bytes())
}

// Len returns the current payload size.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// String returns a hex dump of the current packet for debugging.
func (b *PacketBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(data), data)
}

// Frame prefixes payload with its VarInt-encoded length.
func Frame(payload []byte) []byte {
	out := make([]byte, 0, VarIntSize(int32(len(payload)))+len(payload))
	out = AppendVarInt(out, int32(len(payload)))
	return append(out, payload...)
}

// ---- Pre-built packet constructors ----

// BuildHandshake creates a framed handshake packet (0x00).
// Format: [id][protocol:varint][address:varint-string][port:2 BE][next_state:varint]
func BuildHandshake(protocolVersion int32, address string, port uint16, nextState int32) []byte {
	return NewPacketBuilder(PktHandshake).
		WriteVarInt(protocolVersion).
		WriteString(address).
		WriteUint16(port).
		WriteVarInt(nextState).
		BuildFrame()
}

// BuildStatusRequest creates the framed, empty status request: 0x01 0x00.
func BuildStatusRequest() []byte {
	return NewPacketBuilder(PktStatusRequest).BuildFrame()
}

// BuildPing creates a framed ping packet (0x01) carrying payload.
func BuildPing(payload int64) []byte {
	return NewPacketBuilder(PktPing).WriteInt64(payload).BuildFrame()
}
