package libusb

import (
	"errors"
	"fmt"
	"io"

	"github.com/ardnew/uf2flasher/hal"
	"github.com/ardnew/uf2flasher/pkg"
)

var (
	errShortStatus = errors.New("short command status")
	errBadTag      = errors.New("command status tag mismatch")
)

// transport runs SCSI commands over the Bulk-Only Transport of one
// interface. It is used from one goroutine at a time.
type transport struct {
	in  io.Reader
	out io.Writer
	tag uint32
	cbw [hal.CBWSize]byte
	csw [hal.CSWSize]byte
}

// command sends cbw, moves data in the direction it names, and checks the
// status. It returns the number of data bytes transferred.
func (t *transport) command(cbw *hal.CommandBlockWrapper, data []byte) (int, error) {
	t.tag++
	cbw.Tag = t.tag
	cbw.MarshalTo(t.cbw[:])
	if _, err := t.out.Write(t.cbw[:]); err != nil {
		return 0, fmt.Errorf("command: %w", err)
	}

	n := 0
	if length := int(cbw.DataTransferLength); length > 0 {
		if len(data) < length {
			return 0, fmt.Errorf("%w: %d byte buffer for %d bytes", pkg.ErrInvalidParameter, len(data), length)
		}
		var err error
		if cbw.IsDataIn() {
			n, err = t.in.Read(data[:length])
		} else {
			n, err = t.out.Write(data[:length])
		}
		if err != nil {
			return n, fmt.Errorf("data: %w", err)
		}
	}

	m, err := t.in.Read(t.csw[:])
	if err != nil {
		return n, fmt.Errorf("status: %w", err)
	}
	var csw hal.CommandStatusWrapper
	if m < hal.CSWSize || !hal.ParseCommandStatusWrapper(t.csw[:m], &csw) {
		return n, errShortStatus
	}
	if csw.Tag != cbw.Tag {
		return n, errBadTag
	}
	switch csw.Status {
	case hal.CSWStatusGood:
		return n, nil
	case hal.CSWStatusFailed:
		return n, fmt.Errorf("%w: scsi command %#02x failed", pkg.ErrTransfer, cbw.CB[0])
	default:
		return n, fmt.Errorf("%w: phase error on scsi command %#02x", pkg.ErrTransfer, cbw.CB[0])
	}
}

func (t *transport) testUnitReady(lun uint8) error {
	cbw := &hal.CommandBlockWrapper{LUN: lun, CBLength: 6}
	cbw.CB[0] = hal.SCSITestUnitReady
	_, err := t.command(cbw, nil)
	return err
}

func (t *transport) inquiry(lun uint8) (*hal.InquiryResponse, error) {
	var data [hal.InquiryStandardSize]byte
	n, err := t.command(hal.NewInquiryCBW(0, lun), data[:])
	if err != nil {
		return nil, err
	}
	var resp hal.InquiryResponse
	if !hal.ParseInquiryResponse(data[:n], &resp) {
		return nil, fmt.Errorf("%w: inquiry data of %d bytes", pkg.ErrTransfer, n)
	}
	return &resp, nil
}

func (t *transport) readCapacity(lun uint8) (count, size uint32, err error) {
	var data [hal.ReadCapacity10Size]byte
	n, err := t.command(hal.NewReadCapacity10CBW(0, lun), data[:])
	if err != nil {
		return 0, 0, err
	}
	var resp hal.ReadCapacity10Response
	if !hal.ParseReadCapacity10(data[:n], &resp) {
		return 0, 0, fmt.Errorf("%w: capacity data of %d bytes", pkg.ErrTransfer, n)
	}
	return resp.BlockCount(), resp.BlockLength, nil
}

func (t *transport) read10(lun uint8, buf []byte, lba uint32, count uint16, size uint32) error {
	_, err := t.command(hal.NewRead10CBW(0, lun, lba, count, size), buf)
	return err
}

func (t *transport) write10(lun uint8, buf []byte, lba uint32, count uint16, size uint32) error {
	_, err := t.command(hal.NewWrite10CBW(0, lun, lba, count, size), buf)
	return err
}
