package pkg

import (
	"errors"
	"fmt"
)

// Appliance errors.
var (
	// ErrQueueFull indicates a task was rejected because its queue is full.
	ErrQueueFull = errors.New("task queue full")

	// ErrDeviceTimeout indicates a disk transfer did not complete in time.
	ErrDeviceTimeout = errors.New("device transfer timeout")

	// ErrUnmountTimeout indicates a deselected device never reported unmount.
	ErrUnmountTimeout = errors.New("device unmount timeout")

	// ErrTransfer indicates a USB transfer completed with a failure status.
	ErrTransfer = errors.New("transfer failed")

	// ErrNoDevice indicates the device is not present.
	ErrNoDevice = errors.New("device not present")

	// ErrInvalidPort indicates a port index outside of the multiplexer range.
	ErrInvalidPort = errors.New("invalid port")

	// ErrInvalidDrive indicates a drive number outside of the supported range.
	ErrInvalidDrive = errors.New("invalid drive")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNotSupported indicates an unsupported operation or feature.
	ErrNotSupported = errors.New("not supported")

	// ErrAlreadyRunning indicates the loop is already running.
	ErrAlreadyRunning = errors.New("already running")

	// ErrBusy indicates the resource is busy.
	ErrBusy = errors.New("resource busy")

	// ErrDecode indicates a malformed protocol message.
	ErrDecode = errors.New("decode failure")

	// ErrNotOpen indicates no file is open on the drive.
	ErrNotOpen = errors.New("file not open")

	// ErrStopped indicates the loop that would serve a request has stopped.
	ErrStopped = errors.New("loop stopped")
)

// Operation names used by [DeviceError].
const (
	OpInquiry = "inquiry"
	OpMount   = "mount"
	OpOpen    = "open"
	OpWrite   = "write"
	OpClose   = "close"
	OpSelect  = "select"
	OpBootsel = "bootsel"
)

// DeviceError records a failure of one operation on one port.
type DeviceError struct {
	Port int
	Op   string
	Err  error
}

// NewDeviceError returns a DeviceError for the given port and operation.
func NewDeviceError(port int, op string, err error) *DeviceError {
	return &DeviceError{Port: port, Op: op, Err: err}
}

func (e *DeviceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("port %d: %s failed", e.Port, e.Op)
	}
	return fmt.Sprintf("port %d: %s: %v", e.Port, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *DeviceError) Unwrap() error {
	return e.Err
}
