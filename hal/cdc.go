package hal

import "encoding/binary"

// CDC class codes and requests.
const (
	ClassCDC                   = 0x02
	ClassCDCData               = 0x0A
	SubclassACM                = 0x02
	RequestSetLineCoding       = 0x20
	RequestGetLineCoding       = 0x21
	RequestSetControlLineState = 0x22
)

// RequestTypeClassInterfaceOut is bmRequestType for host-to-device class
// requests addressed to an interface.
const RequestTypeClassInterfaceOut = 0x21

// LineCodingSize is the size of LineCoding in bytes.
const LineCodingSize = 7

// Stop bit values.
const (
	StopBits1   = 0
	StopBits1_5 = 1
	StopBits2   = 2
)

// Parity values.
const (
	ParityNone  = 0
	ParityOdd   = 1
	ParityEven  = 2
	ParityMark  = 3
	ParitySpace = 4
)

// BootselBaudRate is the line rate that makes an RP2040-style application
// reboot into its mass-storage bootloader.
const BootselBaudRate = 1200

// LineCoding is the serial line configuration of a CDC-ACM interface.
type LineCoding struct {
	DTERate    uint32 // Baud rate
	CharFormat uint8  // Stop bits
	ParityType uint8
	DataBits   uint8
}

// BootselLineCoding is 1200 baud 8N1.
var BootselLineCoding = LineCoding{
	DTERate:    BootselBaudRate,
	CharFormat: StopBits1,
	ParityType: ParityNone,
	DataBits:   8,
}

// MarshalTo writes the line coding to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (lc *LineCoding) MarshalTo(buf []byte) int {
	if len(buf) < LineCodingSize {
		return 0
	}
	binary.LittleEndian.PutUint32(buf[0:4], lc.DTERate)
	buf[4] = lc.CharFormat
	buf[5] = lc.ParityType
	buf[6] = lc.DataBits
	return LineCodingSize
}

// ParseLineCoding parses a line coding from raw bytes.
// Returns false if data is too short.
func ParseLineCoding(data []byte, out *LineCoding) bool {
	if len(data) < LineCodingSize {
		return false
	}
	out.DTERate = binary.LittleEndian.Uint32(data[0:4])
	out.CharFormat = data[4]
	out.ParityType = data[5]
	out.DataBits = data[6]
	return true
}

// IsBootsel reports whether the line coding requests a bootloader reboot.
func (lc *LineCoding) IsBootsel() bool {
	return lc.DTERate == BootselBaudRate
}
