package flasher

import (
	"time"

	"github.com/ardnew/uf2flasher/mux"
)

// Chunk is a receive buffer lent by the network loop for one write. The
// device loop returns it with exactly one [ReleaseChunk].
type Chunk struct {
	Buf     []byte
	Len     int
	Session uint32
}

// Bytes returns the filled part of the buffer.
func (c *Chunk) Bytes() []byte {
	return c.Buf[:c.Len]
}

// USBTask is a request executed on the device loop.
type USBTask interface {
	usbTask()
}

// SelectPort switches the multiplexer to Port, or tears down with mux.None.
type SelectPort struct {
	Port mux.Port
}

// ClearAllStatus resets the stage of every port. Mount flags are kept.
type ClearAllStatus struct{}

// OpenFile creates the image file on Drive.
type OpenFile struct {
	Drive   uint8
	Session uint32
}

// WriteChunk appends the bytes of a lent chunk to the open file.
type WriteChunk struct {
	Drive uint8
	Chunk *Chunk
}

// StreamChunk appends Length bytes taken from the byte stream.
type StreamChunk struct {
	Drive   uint8
	Length  int
	Session uint32
}

// CloseFile syncs and closes the image file on Drive.
type CloseFile struct {
	Drive   uint8
	Session uint32
}

// enterBootsel sends the bootsel line coding to CDC interface index.
type enterBootsel struct {
	index uint8
}

// forceDetach disconnects data once the grace delay has passed.
type forceDetach struct {
	index uint8
	at    time.Time
}

// restoreData reconnects data of port once the grace delay has passed.
type restoreData struct {
	port mux.Port
	at   time.Time
}

func (SelectPort) usbTask()     {}
func (ClearAllStatus) usbTask() {}
func (OpenFile) usbTask()       {}
func (WriteChunk) usbTask()     {}
func (StreamChunk) usbTask()    {}
func (CloseFile) usbTask()      {}
func (enterBootsel) usbTask()   {}
func (forceDetach) usbTask()    {}
func (restoreData) usbTask()    {}

// WebTask is a notification executed on the network loop.
type WebTask interface {
	webTask()
}

// ReportFlashRequested announces a mounted drive ready to receive an image.
type ReportFlashRequested struct {
	Port  mux.Port
	Drive uint8
}

// ReportOpened acknowledges a successful OpenFile.
type ReportOpened struct {
	Drive   uint8
	Session uint32
}

// ReportClosed acknowledges a successful CloseFile.
type ReportClosed struct {
	Drive   uint8
	Session uint32
}

// ReportWriteError reports a failed or refused file operation. Op is one of
// pkg.OpOpen, pkg.OpWrite or pkg.OpClose.
type ReportWriteError struct {
	Op      string
	Port    mux.Port
	Drive   uint8
	Session uint32
	Stage   Stage
}

// ReleaseChunk returns a lent chunk to the network loop.
type ReleaseChunk struct {
	Chunk *Chunk
}

// ReportDeviceError reports a failure outside of file operations, such as
// inquiry or mount.
type ReportDeviceError struct {
	Port  mux.Port
	Stage Stage
}

func (ReportFlashRequested) webTask() {}
func (ReportOpened) webTask()         {}
func (ReportClosed) webTask()         {}
func (ReportWriteError) webTask()     {}
func (ReleaseChunk) webTask()         {}
func (ReportDeviceError) webTask()    {}
