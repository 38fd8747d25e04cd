package sim

import (
	"fmt"
	"strings"

	"github.com/ardnew/uf2flasher/mux"
	"github.com/ardnew/uf2flasher/pkg"
)

// Kind is the behavior of a simulated device.
type Kind uint8

// Device kinds.
const (
	RP2040 Kind = iota
	MSC
)

// String returns the kind name used in configuration.
func (k Kind) String() string {
	switch k {
	case RP2040:
		return "rp2040"
	case MSC:
		return "msc"
	default:
		return "unknown"
	}
}

// ParseKind returns the kind named s.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "rp2040":
		return RP2040, nil
	case "msc":
		return MSC, nil
	default:
		return 0, fmt.Errorf("%w: device kind %q", pkg.ErrInvalidParameter, s)
	}
}

// Device describes a simulated device attached to a port.
type Device struct {
	Port      mux.Port
	Kind      Kind
	Blocks    uint32
	BlockSize uint32
	Vendor    string
	Product   string
	Revision  string

	// FailInquiry makes every INQUIRY fail.
	FailInquiry bool

	// FailWriteAt makes the n-th WRITE(10) fail, counted from 1.
	FailWriteAt int
}

// Default device geometry.
const (
	DefaultBlocks    = 8192
	DefaultBlockSize = 512
	DefaultRevision  = "1.00"
)

// mode is the interface a device currently exposes: CDC for the
// application, mass storage for the bootloader.
type mode uint8

const (
	modeApp mode = iota
	modeBoot
)

func (m mode) String() string {
	if m == modeBoot {
		return "msc"
	}
	return "cdc"
}

type device struct {
	Device
	disk      *Disk
	mode      mode
	resetting bool
}

func newDevice(cfg Device) (*device, error) {
	if !cfg.Port.Valid() {
		return nil, fmt.Errorf("%w: port %s", pkg.ErrInvalidPort, cfg.Port)
	}
	if cfg.Blocks == 0 {
		cfg.Blocks = DefaultBlocks
	}
	if cfg.BlockSize == 0 {
		cfg.BlockSize = DefaultBlockSize
	}
	if cfg.Revision == "" {
		cfg.Revision = DefaultRevision
	}

	d := &device{Device: cfg, disk: NewDisk(cfg.Blocks, cfg.BlockSize)}
	d.disk.FailWriteAt(cfg.FailWriteAt)
	d.powerOff()
	return d, nil
}

// powerOff returns the device to the interface it boots with.
func (d *device) powerOff() {
	d.resetting = false
	if d.Kind == MSC {
		d.mode = modeBoot
	} else {
		d.mode = modeApp
	}
}

// reboot resets an application into its bootloader.
func (d *device) reboot() {
	d.mode = modeBoot
	d.resetting = true
}
