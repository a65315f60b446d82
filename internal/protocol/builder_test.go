package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildHandshakeFrameIntegrity(t *testing.T) {
	frame := BuildHandshake(765, "example.com", 25565, NextStateStatus)

	length, n, err := DecodeVarInt(frame)
	require.NoError(t, err)
	payload := frame[n:]
	require.Equal(t, int(length), len(payload), "declared length must equal payload size")

	hs, err := ParseHandshake(payload)
	require.NoError(t, err)
	assert.Equal(t, int32(765), hs.ProtocolVersion)
	assert.Equal(t, "example.com", hs.ServerAddress)
	assert.Equal(t, uint16(25565), hs.ServerPort)
	assert.Equal(t, NextStateStatus, hs.NextState)
}

func TestBuildHandshakeExactBytes(t *testing.T) {
	frame := BuildHandshake(765, "localhost", 25565, NextStateStatus)

	want := []byte{
		0x10,       // frame length 16
		0x00,       // packet id
		0xFD, 0x05, // protocol 765
		0x09, // address length
		'l', 'o', 'c', 'a', 'l', 'h', 'o', 's', 't',
		0x63, 0xDD, // port 25565 BE
		0x01, // next state
	}
	assert.Equal(t, want, frame)
}

func TestBuildStatusRequest(t *testing.T) {
	assert.Equal(t, []byte{0x01, 0x00}, BuildStatusRequest())
}

func TestBuildPing(t *testing.T) {
	frame := BuildPing(0x0102030405060708)

	require.Len(t, frame, 10)
	assert.Equal(t, byte(9), frame[0])
	assert.Equal(t, byte(0x01), frame[1])
	assert.Equal(t, uint64(0x0102030405060708), binary.BigEndian.Uint64(frame[2:]))
}

func TestFrameLengthMatchesPayload(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 300)

	frame := Frame(payload)
	length, n, err := DecodeVarInt(frame)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int32(300), length)
	assert.Equal(t, payload, frame[n:])
}

func TestPacketBuilderString(t *testing.T) {
	b := NewPacketBuilder(PktPing).WriteUint16(0xBEEF)
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, "PacketBuilder[3 bytes]: 01beef", b.String())
}

func TestParseHandshakeRejectsWrongID(t *testing.T) {
	payload := NewPacketBuilder(0x05).WriteVarInt(765).Build()

	_, err := ParseHandshake(payload)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnexpectedPacket))
}

func TestParseHandshakeTruncated(t *testing.T) {
	frame := BuildHandshake(765, "example.com", 25565, NextStateStatus)
	_, n, err := DecodeVarInt(frame)
	require.NoError(t, err)

	truncated := frame[n : len(frame)-3]
	_, err = ParseHandshake(truncated)
	require.Error(t, err)
}
