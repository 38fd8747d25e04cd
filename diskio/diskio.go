// Package diskio adapts the asynchronous mass-storage transfers of a
// [hal.USBHost] into the synchronous [hal.BlockDevice] calls a filesystem
// expects.
//
// Every read or write submits a transfer, marks its drive busy, then polls
// [hal.USBHost.Service] until the completion clears the flag or the timeout
// elapses. By default an elapsed timeout clears the flag and reports success,
// which matches the behavior of the firmware this appliance replaces; use
// [WithStrictTimeout] to surface [pkg.ErrDeviceTimeout] instead.
package diskio

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/ardnew/uf2flasher/hal"
	"github.com/ardnew/uf2flasher/pkg"
)

// DefaultTimeout bounds a single transfer.
const DefaultTimeout = 500 * time.Millisecond

// State is the disk activity on the active drive.
type State uint8

// Disk activity states.
const (
	Idle State = iota
	Init
	ReadBusy
	WriteBusy
	Complete
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Init:
		return "disk-init"
	case ReadBusy:
		return "read-busy"
	case WriteBusy:
		return "write-busy"
	case Complete:
		return "io-complete"
	default:
		return "unknown"
	}
}

// Observer is notified of disk activity. It is called on the goroutine that
// performs the block access.
type Observer func(drive uint8, s State)

// Option configures an Adapter.
type Option func(*Adapter)

// WithTimeout sets the per-transfer timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithStrictTimeout makes an elapsed timeout return pkg.ErrDeviceTimeout
// instead of success.
func WithStrictTimeout(strict bool) Option {
	return func(a *Adapter) {
		a.strict = strict
	}
}

// WithObserver installs a disk activity observer.
func WithObserver(fn Observer) Option {
	return func(a *Adapter) {
		a.observer = fn
	}
}

// Adapter implements hal.BlockDevice on a hal.USBHost.
type Adapter struct {
	host     hal.USBHost
	timeout  time.Duration
	strict   bool
	observer Observer

	busy [hal.MaxDrives]atomic.Bool
	ok   [hal.MaxDrives]atomic.Bool
	seq  [hal.MaxDrives]atomic.Uint32
}

// New creates an adapter over host.
func New(host hal.USBHost, opts ...Option) *Adapter {
	a := &Adapter{
		host:    host,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var _ hal.BlockDevice = (*Adapter)(nil)

// SetObserver replaces the disk activity observer.
func (a *Adapter) SetObserver(fn Observer) {
	a.observer = fn
}

// Busy reports whether a transfer is outstanding on drive.
func (a *Adapter) Busy(drive uint8) bool {
	if int(drive) >= hal.MaxDrives {
		return false
	}
	return a.busy[drive].Load()
}

// Initialize prepares drive for access. Capacity is read by the host stack
// at mount time, so nothing is transferred here.
func (a *Adapter) Initialize(drive uint8) error {
	if err := checkDrive(drive); err != nil {
		return err
	}
	a.notify(drive, Init)
	return nil
}

// Status returns pkg.ErrNoDevice when no mass-storage device backs drive.
func (a *Adapter) Status(drive uint8) error {
	if err := checkDrive(drive); err != nil {
		return err
	}
	if !a.host.MSCMounted(hal.DriveAddress(drive)) {
		return fmt.Errorf("%w: drive %d", pkg.ErrNoDevice, drive)
	}
	return nil
}

// ReadBlocks reads count sectors starting at sector into buf.
func (a *Adapter) ReadBlocks(drive uint8, buf []byte, sector uint32, count uint32) error {
	return a.transfer(drive, buf, sector, count, false)
}

// WriteBlocks writes count sectors from buf starting at sector.
func (a *Adapter) WriteBlocks(drive uint8, buf []byte, sector uint32, count uint32) error {
	return a.transfer(drive, buf, sector, count, true)
}

// Ioctl answers the control commands a filesystem issues against a USB
// drive. Transfers are already synchronous, so CtrlSync does nothing.
func (a *Adapter) Ioctl(drive uint8, cmd hal.IoctlCmd) (uint32, error) {
	if err := checkDrive(drive); err != nil {
		return 0, err
	}
	addr := hal.DriveAddress(drive)
	switch cmd {
	case hal.CtrlSync:
		return 0, nil
	case hal.GetSectorCount:
		return a.host.BlockCount(addr, hal.DefaultLUN), nil
	case hal.GetSectorSize:
		return a.host.BlockSize(addr, hal.DefaultLUN), nil
	case hal.GetBlockSize:
		return 1, nil
	default:
		return 0, fmt.Errorf("%w: ioctl %v", pkg.ErrInvalidParameter, cmd)
	}
}

func (a *Adapter) transfer(drive uint8, buf []byte, sector uint32, count uint32, write bool) error {
	if err := checkDrive(drive); err != nil {
		return err
	}
	addr := hal.DriveAddress(drive)
	size := a.host.BlockSize(addr, hal.DefaultLUN)
	if size > 0 && uint64(len(buf)) < uint64(count)*uint64(size) {
		return fmt.Errorf("%w: buffer %d < %d sectors of %d", pkg.ErrInvalidParameter, len(buf), count, size)
	}

	if write {
		a.notify(drive, WriteBusy)
	} else {
		a.notify(drive, ReadBusy)
	}

	// A single READ(10)/WRITE(10) carries at most math.MaxUint16 blocks.
	for count > 0 {
		n := min(count, math.MaxUint16)
		end := len(buf)
		if size > 0 {
			end = int(n * size)
		}
		if err := a.one(drive, addr, buf[:end], sector, uint16(n), write); err != nil {
			return err
		}
		buf = buf[end:]
		sector += n
		count -= n
	}
	return nil
}

func (a *Adapter) one(drive uint8, addr hal.DeviceAddress, buf []byte, lba uint32, count uint16, write bool) error {
	seq := a.seq[drive].Add(1)
	a.ok[drive].Store(false)
	a.busy[drive].Store(true)

	done := func(ok bool) {
		if a.seq[drive].Load() != seq {
			pkg.LogDebug(pkg.ComponentDiskIO, "stale completion", "drive", drive)
			return
		}
		a.ok[drive].Store(ok)
		a.busy[drive].Store(false)
		a.notify(drive, Complete)
	}

	var err error
	if write {
		err = a.host.Write10(addr, hal.DefaultLUN, buf, lba, count, done)
	} else {
		err = a.host.Read10(addr, hal.DefaultLUN, buf, lba, count, done)
	}
	if err != nil {
		a.busy[drive].Store(false)
		return fmt.Errorf("%w: drive %d lba %d: %v", pkg.ErrTransfer, drive, lba, err)
	}

	if !a.wait(drive) {
		// Invalidate the outstanding completion before clearing the flag.
		a.seq[drive].Add(1)
		a.busy[drive].Store(false)
		pkg.LogWarn(pkg.ComponentDiskIO, "transfer timed out",
			"drive", drive, "lba", lba, "count", count, "write", write, "timeout", a.timeout)
		if a.strict {
			return fmt.Errorf("%w: drive %d lba %d", pkg.ErrDeviceTimeout, drive, lba)
		}
		return nil
	}

	if !a.ok[drive].Load() {
		return fmt.Errorf("%w: drive %d lba %d", pkg.ErrTransfer, drive, lba)
	}
	return nil
}

// wait polls the host until drive is idle. It returns false on timeout.
func (a *Adapter) wait(drive uint8) bool {
	deadline := time.Now().Add(a.timeout)
	for a.busy[drive].Load() {
		if time.Now().After(deadline) {
			return false
		}
		a.host.Service()
	}
	return true
}

func (a *Adapter) notify(drive uint8, s State) {
	if a.observer != nil {
		a.observer(drive, s)
	}
}

func checkDrive(drive uint8) error {
	if int(drive) >= hal.MaxDrives {
		return fmt.Errorf("%w: %d", pkg.ErrInvalidDrive, drive)
	}
	return nil
}
