package protocol

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Reader reads VarInt-framed packets from a byte stream. It is not safe
// for concurrent use.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r. An existing *bufio.Reader is used as-is.
func NewReader(r io.Reader) *Reader {
	if br, ok := r.(*bufio.Reader); ok {
		return &Reader{r: br}
	}
	return &Reader{r: bufio.NewReader(r)}
}

// ReadVarInt reads a single VarInt.
func (r *Reader) ReadVarInt() (int32, error) {
	v, _, err := ReadVarInt(r.r)
	return v, err
}

// ReadPacketHeader reads a frame length and packet id and fails with
// ErrUnexpectedPacket unless the id equals want. It returns the declared
// frame length.
func (r *Reader) ReadPacketHeader(want int32) (int32, error) {
	length, err := r.ReadVarInt()
	if err != nil {
		return 0, err
	}

	if length < 1 || length > MaxPacketSize {
		return 0, &Error{
			Kind: KindInvalidLength,
			Op:   "read frame length",
			Err:  fmt.Errorf("declared length %d outside 1..%d", length, MaxPacketSize),
		}
	}

	id, err := r.ReadVarInt()
	if err != nil {
		return 0, err
	}

	if id != want {
		return 0, &Error{
			Kind: KindUnexpectedPacket,
			Op:   "read packet id",
			Err:  fmt.Errorf("got 0x%02X, want 0x%02X", id, want),
		}
	}

	return length, nil
}

// ReadFull reads exactly n bytes. Any early end of stream is ErrShortRead.
func (r *Reader) ReadFull(op string, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, wrap(op, err, KindShortRead)
	}
	return buf, nil
}

// ReadStatusResponse reads a status response frame and returns its JSON
// body without interpreting it.
// Format: [len][0x00][json_len:varint][json bytes]
func (r *Reader) ReadStatusResponse() ([]byte, error) {
	frameLen, err := r.ReadPacketHeader(PktStatusResponse)
	if err != nil {
		return nil, err
	}

	jsonLen, err := r.ReadVarInt()
	if err != nil {
		return nil, err
	}

	if jsonLen < 0 || jsonLen > frameLen {
		return nil, &Error{
			Kind: KindInvalidLength,
			Op:   "read status json length",
			Err:  fmt.Errorf("json length %d exceeds frame length %d", jsonLen, frameLen),
		}
	}

	return r.ReadFull("read status json", int(jsonLen))
}

// ReadPong reads a pong frame and returns its 8-byte payload.
// Format: [len][0x01][payload:8 BE]
func (r *Reader) ReadPong() (int64, error) {
	if _, err := r.ReadPacketHeader(PktPong); err != nil {
		return 0, err
	}

	buf, err := r.ReadFull("read pong payload", PingPayloadSize)
	if err != nil {
		return 0, err
	}

	return int64(binary.BigEndian.Uint64(buf)), nil
}

// ParseHandshake decodes a handshake payload (frame body, length prefix
// already removed).
func ParseHandshake(payload []byte) (Handshake, error) {
	var hs Handshake
	rd := NewReader(bytes.NewReader(payload))

	id, err := rd.ReadVarInt()
	if err != nil {
		return hs, err
	}
	if id != PktHandshake {
		return hs, &Error{
			Kind: KindUnexpectedPacket,
			Op:   "parse handshake",
			Err:  fmt.Errorf("got 0x%02X, want 0x%02X", id, PktHandshake),
		}
	}

	if hs.ProtocolVersion, err = rd.ReadVarInt(); err != nil {
		return hs, err
	}

	addrLen, err := rd.ReadVarInt()
	if err != nil {
		return hs, err
	}
	if addrLen < 0 || int(addrLen) > len(payload) {
		return hs, &Error{
			Kind: KindInvalidLength,
			Op:   "parse handshake address",
			Err:  fmt.Errorf("address length %d exceeds payload", addrLen),
		}
	}

	addr, err := rd.ReadFull("parse handshake address", int(addrLen))
	if err != nil {
		return hs, err
	}
	hs.ServerAddress = string(addr)

	port, err := rd.ReadFull("parse handshake port", 2)
	if err != nil {
		return hs, err
	}
	hs.ServerPort = binary.BigEndian.Uint16(port)

	if hs.NextState, err = rd.ReadVarInt(); err != nil {
		return hs, err
	}

	return hs, nil
}
