package hal

import (
	"bytes"
	"encoding/binary"
)

// USB Mass Storage Class codes.
const (
	ClassMSC         = 0x08 // Mass Storage Class
	SubclassSCSI     = 0x06 // SCSI transparent command set
	ProtocolBulkOnly = 0x50 // Bulk-Only Transport
)

// Bulk-Only Transport class requests.
const (
	RequestBulkOnlyMassStorageReset = 0xFF
	RequestGetMaxLUN                = 0xFE
)

// Command Block Wrapper constants.
const (
	CBWSignature   = 0x43425355 // "USBC"
	CBWSize        = 31
	CBWFlagDataOut = 0x00
	CBWFlagDataIn  = 0x80
)

// Command Status Wrapper constants.
const (
	CSWSignature        = 0x53425355 // "USBS"
	CSWSize             = 13
	CSWStatusGood       = 0x00
	CSWStatusFailed     = 0x01
	CSWStatusPhaseError = 0x02
)

// SCSI operation codes used by the host.
const (
	SCSITestUnitReady  = 0x00
	SCSIRequestSense   = 0x03
	SCSIInquiry        = 0x12
	SCSIReadCapacity10 = 0x25
	SCSIRead10         = 0x28
	SCSIWrite10        = 0x2A
)

// Response sizes.
const (
	InquiryStandardSize = 36
	ReadCapacity10Size  = 8
)

// CommandBlockWrapper is the Bulk-Only Transport command header.
type CommandBlockWrapper struct {
	Tag                uint32
	DataTransferLength uint32
	Flags              uint8
	LUN                uint8
	CBLength           uint8
	CB                 [16]byte
}

// MarshalTo writes the wrapper to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (cbw *CommandBlockWrapper) MarshalTo(buf []byte) int {
	if len(buf) < CBWSize {
		return 0
	}

	binary.LittleEndian.PutUint32(buf[0:4], CBWSignature)
	binary.LittleEndian.PutUint32(buf[4:8], cbw.Tag)
	binary.LittleEndian.PutUint32(buf[8:12], cbw.DataTransferLength)
	buf[12] = cbw.Flags
	buf[13] = cbw.LUN & 0x0F
	buf[14] = cbw.CBLength & 0x1F
	copy(buf[15:31], cbw.CB[:])

	return CBWSize
}

// IsDataIn returns true if the data phase is device-to-host.
func (cbw *CommandBlockWrapper) IsDataIn() bool {
	return cbw.Flags&CBWFlagDataIn != 0
}

// NewInquiryCBW builds an INQUIRY command for the standard response.
func NewInquiryCBW(tag uint32, lun uint8) *CommandBlockWrapper {
	cbw := &CommandBlockWrapper{
		Tag:                tag,
		DataTransferLength: InquiryStandardSize,
		Flags:              CBWFlagDataIn,
		LUN:                lun,
		CBLength:           6,
	}
	cbw.CB[0] = SCSIInquiry
	cbw.CB[4] = InquiryStandardSize
	return cbw
}

// NewReadCapacity10CBW builds a READ CAPACITY (10) command.
func NewReadCapacity10CBW(tag uint32, lun uint8) *CommandBlockWrapper {
	cbw := &CommandBlockWrapper{
		Tag:                tag,
		DataTransferLength: ReadCapacity10Size,
		Flags:              CBWFlagDataIn,
		LUN:                lun,
		CBLength:           10,
	}
	cbw.CB[0] = SCSIReadCapacity10
	return cbw
}

// NewRead10CBW builds a READ (10) command for count blocks of blockSize bytes.
func NewRead10CBW(tag uint32, lun uint8, lba uint32, count uint16, blockSize uint32) *CommandBlockWrapper {
	cbw := newRW10(SCSIRead10, tag, lun, lba, count, blockSize)
	cbw.Flags = CBWFlagDataIn
	return cbw
}

// NewWrite10CBW builds a WRITE (10) command for count blocks of blockSize bytes.
func NewWrite10CBW(tag uint32, lun uint8, lba uint32, count uint16, blockSize uint32) *CommandBlockWrapper {
	cbw := newRW10(SCSIWrite10, tag, lun, lba, count, blockSize)
	cbw.Flags = CBWFlagDataOut
	return cbw
}

func newRW10(op uint8, tag uint32, lun uint8, lba uint32, count uint16, blockSize uint32) *CommandBlockWrapper {
	cbw := &CommandBlockWrapper{
		Tag:                tag,
		DataTransferLength: uint32(count) * blockSize,
		LUN:                lun,
		CBLength:           10,
	}
	cbw.CB[0] = op
	binary.BigEndian.PutUint32(cbw.CB[2:6], lba)
	binary.BigEndian.PutUint16(cbw.CB[7:9], count)
	return cbw
}

// CommandStatusWrapper is the Bulk-Only Transport status trailer.
type CommandStatusWrapper struct {
	Tag         uint32
	DataResidue uint32
	Status      uint8
}

// ParseCommandStatusWrapper parses a status wrapper from raw bytes.
// Returns false if data is too short or the signature is invalid.
func ParseCommandStatusWrapper(data []byte, out *CommandStatusWrapper) bool {
	if len(data) < CSWSize {
		return false
	}
	if binary.LittleEndian.Uint32(data[0:4]) != CSWSignature {
		return false
	}

	out.Tag = binary.LittleEndian.Uint32(data[4:8])
	out.DataResidue = binary.LittleEndian.Uint32(data[8:12])
	out.Status = data[12]
	return true
}

// InquiryResponse is the standard INQUIRY data.
type InquiryResponse struct {
	DeviceType uint8
	Removable  bool
	Version    uint8
	VendorID   [8]byte
	ProductID  [16]byte
	ProductRev [4]byte
}

// ParseInquiryResponse parses standard INQUIRY data.
// Returns false if data is too short.
func ParseInquiryResponse(data []byte, out *InquiryResponse) bool {
	if len(data) < InquiryStandardSize {
		return false
	}

	out.DeviceType = data[0] & 0x1F
	out.Removable = data[1]&0x80 != 0
	out.Version = data[2]
	copy(out.VendorID[:], data[8:16])
	copy(out.ProductID[:], data[16:32])
	copy(out.ProductRev[:], data[32:36])
	return true
}

// MarshalTo writes the response to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (r *InquiryResponse) MarshalTo(buf []byte) int {
	if len(buf) < InquiryStandardSize {
		return 0
	}

	clear(buf[:InquiryStandardSize])
	buf[0] = r.DeviceType & 0x1F
	if r.Removable {
		buf[1] = 0x80
	}
	buf[2] = r.Version
	buf[3] = 0x02
	buf[4] = InquiryStandardSize - 5
	copy(buf[8:16], r.VendorID[:])
	copy(buf[16:32], r.ProductID[:])
	copy(buf[32:36], r.ProductRev[:])
	return InquiryStandardSize
}

// NewInquiryResponse creates a removable disk response with space padded
// identification strings.
func NewInquiryResponse(vendor, product, revision string) *InquiryResponse {
	r := &InquiryResponse{Removable: true, Version: 0x06}
	copy(r.VendorID[:], padString(vendor, len(r.VendorID)))
	copy(r.ProductID[:], padString(product, len(r.ProductID)))
	copy(r.ProductRev[:], padString(revision, len(r.ProductRev)))
	return r
}

// Vendor returns the vendor identification without padding.
func (r *InquiryResponse) Vendor() string { return trimField(r.VendorID[:]) }

// Product returns the product identification without padding.
func (r *InquiryResponse) Product() string { return trimField(r.ProductID[:]) }

// Revision returns the product revision without padding.
func (r *InquiryResponse) Revision() string { return trimField(r.ProductRev[:]) }

// ReadCapacity10Response is the READ CAPACITY (10) data.
type ReadCapacity10Response struct {
	LastLBA     uint32
	BlockLength uint32
}

// ParseReadCapacity10 parses READ CAPACITY (10) data.
// Returns false if data is too short.
func ParseReadCapacity10(data []byte, out *ReadCapacity10Response) bool {
	if len(data) < ReadCapacity10Size {
		return false
	}
	out.LastLBA = binary.BigEndian.Uint32(data[0:4])
	out.BlockLength = binary.BigEndian.Uint32(data[4:8])
	return true
}

// BlockCount returns the number of addressable blocks.
func (r *ReadCapacity10Response) BlockCount() uint32 {
	return r.LastLBA + 1
}

func padString(s string, n int) []byte {
	b := bytes.Repeat([]byte{' '}, n)
	copy(b, s)
	return b
}

func trimField(b []byte) string {
	return string(bytes.TrimRight(b, " \x00"))
}
