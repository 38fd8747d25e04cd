package blockfs

import (
	"encoding/binary"
	"hash/crc32"
)

// On-disk layout.
//
//	sector 0        header
//	sector 1...     file data, contiguous
//
// The header is little endian:
//
//	offset  size  field
//	0       8     magic "UF2BFIMG"
//	8       4     version
//	12      4     first data sector
//	16      8     file size in bytes
//	24      64    file name, NUL padded
//	88      4     CRC-32 (IEEE) of bytes 0-87
const (
	Magic         = "UF2BFIMG"
	Version       = 1
	MaxNameLength = 64
	HeaderSize    = 92
	DataStart     = 1
	MinSectorSize = 512
)

// Header describes the single file stored on a drive.
type Header struct {
	Start uint32
	Size  uint64
	Name  string
}

// MarshalTo encodes the header into buf and returns the number of bytes
// written, or 0 if buf is shorter than HeaderSize.
func (h *Header) MarshalTo(buf []byte) int {
	if len(buf) < HeaderSize {
		return 0
	}
	clear(buf[:HeaderSize])
	copy(buf[0:8], Magic)
	binary.LittleEndian.PutUint32(buf[8:12], Version)
	binary.LittleEndian.PutUint32(buf[12:16], h.Start)
	binary.LittleEndian.PutUint64(buf[16:24], h.Size)
	copy(buf[24:24+MaxNameLength], h.Name)
	binary.LittleEndian.PutUint32(buf[88:92], crc32.ChecksumIEEE(buf[:88]))
	return HeaderSize
}

// ParseHeader decodes a header from data. It returns false when data does
// not hold a valid header, such as on a blank drive.
func ParseHeader(data []byte, h *Header) bool {
	if len(data) < HeaderSize || string(data[0:8]) != Magic {
		return false
	}
	if binary.LittleEndian.Uint32(data[8:12]) != Version {
		return false
	}
	if binary.LittleEndian.Uint32(data[88:92]) != crc32.ChecksumIEEE(data[:88]) {
		return false
	}
	h.Start = binary.LittleEndian.Uint32(data[12:16])
	h.Size = binary.LittleEndian.Uint64(data[16:24])

	name := data[24 : 24+MaxNameLength]
	n := 0
	for n < len(name) && name[n] != 0 {
		n++
	}
	h.Name = string(name[:n])
	return true
}
