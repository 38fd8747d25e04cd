package netsrv

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/uf2flasher/pkg"
)

// Client message identifiers.
const (
	MsgRequestStatus  byte = 0x00
	MsgRequestStdout  byte = 0x01
	MsgSelectDevice   byte = 0x02
	MsgStartFlash     byte = 0x03
	MsgWriteFlashPart byte = 0x04
	MsgEndFlash       byte = 0x05
	MsgRebootForFlash byte = 0x06
	MsgRebootSoft     byte = 0x07
)

// Server message identifiers.
const (
	MsgUpdateStatus      byte = 0x80
	MsgUpdateStdout      byte = 0x81
	MsgFlashStart        byte = 0x82
	MsgFlashPartReceived byte = 0x83
	MsgFlashPartWritten  byte = 0x84
	MsgFlashEnd          byte = 0x85
	MsgFlashError        byte = 0x86
	MsgDecodeFailure     byte = 0x87
)

// Protocol limits.
const (
	// MaxPartLength is the largest WRITE_FLASH_PART payload, one TCP segment.
	MaxPartLength = 1460

	// ChunkBuffers is the number of receive buffers lent to the device loop.
	ChunkBuffers = 16

	// MaxStdoutLength bounds the payload of one UPDATE_STDOUT.
	MaxStdoutLength = 512

	// DefaultTCPAddr is the listen address of the TCP protocol.
	DefaultTCPAddr = ":5656"

	partHeaderSize = 3
)

// message is one decoded client message.
type message struct {
	id   byte
	port int8
	part []byte
}

// decode parses the message at the front of b and returns the number of
// bytes it occupies. n is zero when b holds only the beginning of a message.
// An unknown identifier consumes one byte and returns an error wrapping
// pkg.ErrDecode. A part longer than MaxPartLength returns an error with n
// zero: the stream cannot be resynchronized.
func decode(b []byte) (m message, n int, err error) {
	if len(b) == 0 {
		return m, 0, nil
	}
	m.id = b[0]
	switch m.id {
	case MsgRequestStatus, MsgRequestStdout, MsgStartFlash, MsgEndFlash,
		MsgRebootForFlash, MsgRebootSoft:
		return m, 1, nil

	case MsgSelectDevice:
		if len(b) < 2 {
			return m, 0, nil
		}
		m.port = int8(b[1])
		return m, 2, nil

	case MsgWriteFlashPart:
		if len(b) < partHeaderSize {
			return m, 0, nil
		}
		size := int(binary.LittleEndian.Uint16(b[1:3]))
		if size > MaxPartLength {
			return m, 0, fmt.Errorf("%w: part of %d bytes exceeds %d", pkg.ErrDecode, size, MaxPartLength)
		}
		if len(b) < partHeaderSize+size {
			return m, 0, nil
		}
		m.part = b[partHeaderSize : partHeaderSize+size]
		return m, partHeaderSize + size, nil

	default:
		return m, 1, fmt.Errorf("%w: message 0x%02x", pkg.ErrDecode, m.id)
	}
}

// appendStatus appends an UPDATE_STATUS message carrying codes.
func appendStatus(dst []byte, codes []byte) []byte {
	dst = append(dst, MsgUpdateStatus)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(codes)))
	return append(dst, codes...)
}

// appendStdout appends an UPDATE_STDOUT message carrying text, truncated to
// MaxStdoutLength.
func appendStdout(dst []byte, text []byte) []byte {
	if len(text) > MaxStdoutLength {
		text = text[:MaxStdoutLength]
	}
	dst = append(dst, MsgUpdateStdout)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(text)))
	return append(dst, text...)
}

// AppendWritePart appends a WRITE_FLASH_PART message. It is used by clients
// and tests; data must not exceed MaxPartLength.
func AppendWritePart(dst []byte, data []byte) []byte {
	dst = append(dst, MsgWriteFlashPart)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(data)))
	return append(dst, data...)
}
