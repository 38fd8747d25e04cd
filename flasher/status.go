package flasher

import (
	"github.com/ardnew/uf2flasher/diskio"
	"github.com/ardnew/uf2flasher/mux"
)

// Stage is the lifecycle stage of one port. Non-error stages are ordered so
// that later stages compare greater.
type Stage uint8

// Lifecycle stages.
const (
	Unknown Stage = iota
	Selected
	BootselRequested
	BootselComplete
	Inquired
	FlashRequested
	FileOpen
	Writing
	FlashComplete
)

// Error stages. They are sticky until the port is selected again.
const (
	ErrorBootselMiss Stage = 0x10 + iota
	ErrorInquiry
	ErrorMount
	ErrorOpen
	ErrorWrite
	ErrorClose
)

// IsError reports whether s is an error stage.
func (s Stage) IsError() bool {
	return s >= ErrorBootselMiss
}

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Selected:
		return "selected"
	case BootselRequested:
		return "bootsel-requested"
	case BootselComplete:
		return "bootsel-complete"
	case Inquired:
		return "inquired"
	case FlashRequested:
		return "flash-requested"
	case FileOpen:
		return "file-open"
	case Writing:
		return "writing"
	case FlashComplete:
		return "flash-complete"
	case ErrorBootselMiss:
		return "error-bootsel-miss"
	case ErrorInquiry:
		return "error-inquiry"
	case ErrorMount:
		return "error-mount"
	case ErrorOpen:
		return "error-open"
	case ErrorWrite:
		return "error-write"
	case ErrorClose:
		return "error-close"
	default:
		return "invalid"
	}
}

// skipsInquiry reports whether a mass-storage mount at this stage is a
// re-mount that must not start a new transfer.
func (s Stage) skipsInquiry() bool {
	return s.IsError() || s >= FlashRequested
}

// MountFlags records which layers of the host stack have the device mounted.
// The flags survive stage resets.
type MountFlags uint8

// Mount flags.
const (
	MountedHost MountFlags = 1 << iota
	MountedMSC
	MountedCDC

	MountedAny = MountedHost | MountedMSC | MountedCDC
)

// Status is the state of one port.
type Status struct {
	Stage   Stage
	Mounted MountFlags
	IO      diskio.State
}

// Wire codes of stages and flags. The values match the status table of the
// existing command-line client.
const (
	codeUnknown          = 0x00
	codeSelected         = 0x01
	codeBootselRequested = 0x02
	codeBootselComplete  = 0x03
	codeDiskInit         = 0x04
	codeDiskReadBusy     = 0x05
	codeDiskWriteBusy    = 0x06
	codeDiskIOComplete   = 0x07
	codeFlashRequested   = 0x08
	codeFlashComplete    = 0x09

	codeError     = 0x10
	codeHostMount = 0x20
	codeMSCMount  = 0x40
	codeCDCMount  = 0x80
	codeStageMask = 0x1F
)

// Code encodes the status into one byte: the stage in the low five bits and
// the mount flags in the high three. Only codes the client knows are sent.
// Inquired is still BootselComplete on the wire, since the client treats any
// code from FlashRequested up as ready to flash. While a flash is in
// progress, disk activity is reported in place of FlashRequested.
func (s Status) Code() byte {
	var code byte
	switch s.Stage {
	case Unknown:
		code = codeUnknown
	case Selected:
		code = codeSelected
	case BootselRequested:
		code = codeBootselRequested
	case BootselComplete, Inquired:
		code = codeBootselComplete
	case FlashRequested, FileOpen, Writing:
		code = codeFlashRequested
	case FlashComplete:
		code = codeFlashComplete
	default:
		code = byte(s.Stage) & codeStageMask
	}

	if s.Stage == FileOpen || s.Stage == Writing {
		switch s.IO {
		case diskio.Init:
			code = codeDiskInit
		case diskio.ReadBusy:
			code = codeDiskReadBusy
		case diskio.WriteBusy:
			code = codeDiskWriteBusy
		case diskio.Complete:
			code = codeDiskIOComplete
		}
	}

	if s.Mounted&MountedHost != 0 {
		code |= codeHostMount
	}
	if s.Mounted&MountedMSC != 0 {
		code |= codeMSCMount
	}
	if s.Mounted&MountedCDC != 0 {
		code |= codeCDCMount
	}
	return code
}

// Snapshot is a copy of every port status.
type Snapshot struct {
	Active mux.Port
	Ports  [mux.NumPorts]Status
}

// Codes returns the wire code of every port.
func (s *Snapshot) Codes() [mux.NumPorts]byte {
	var codes [mux.NumPorts]byte
	for i, st := range s.Ports {
		codes[i] = st.Code()
	}
	return codes
}
