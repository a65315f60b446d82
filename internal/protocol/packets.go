// Package protocol implements the binary framing used by the Minecraft
// server list ping: VarInt-prefixed frames whose first field is a VarInt
// packet id. Fixed-width integers (port, ping payload) are big-endian.
package protocol

// ProtocolVersion is the protocol number announced in the handshake.
const ProtocolVersion int32 = 765

// Handshake next-state values.
const (
	NextStateStatus int32 = 1
	NextStateLogin  int32 = 2
)

// Packet ids in the handshake and status states.
const (
	PktHandshake      int32 = 0x00 // serverbound, handshake state
	PktStatusRequest  int32 = 0x00 // serverbound, empty body
	PktStatusResponse int32 = 0x00 // clientbound, VarInt-prefixed JSON
	PktPing           int32 = 0x01 // serverbound, int64 payload
	PktPong           int32 = 0x01 // clientbound, int64 payload echo
)

// MaxPacketSize is the largest frame or string length accepted from a peer
// (the largest value a 3-byte VarInt can carry).
const MaxPacketSize = 2097151

// PingPayloadSize is the size of the ping/pong body in bytes.
const PingPayloadSize = 8

// Handshake is the decoded content of a handshake packet.
type Handshake struct {
	ProtocolVersion int32
	ServerAddress   string
	ServerPort      uint16
	NextState       int32
}
