package libusb

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/gousb"

	"github.com/ardnew/uf2flasher/hal"
	"github.com/ardnew/uf2flasher/pkg"
)

// Defaults.
const (
	DefaultScanInterval    = 250 * time.Millisecond
	DefaultTransferTimeout = 2 * time.Second
	DefaultReadyRetries    = 20
)

const (
	jobQueue   = 4
	eventQueue = 4
	doneQueue  = 16

	// One device is connected at a time.
	deviceAddr hal.DeviceAddress = 1
	cdcIndex   uint8             = 0
)

// Filter selects the port of the machine the multiplexer is wired to.
type Filter struct {
	Bus  int   // 0 matches any bus
	Path []int // port numbers from the root hub; empty matches any port
}

func (f Filter) matches(desc *gousb.DeviceDesc) bool {
	if f.Bus != 0 && desc.Bus != f.Bus {
		return false
	}
	return len(f.Path) == 0 || slices.Equal(f.Path, desc.Path)
}

// Option configures a Host.
type Option func(*Host)

// WithFilter restricts the host to one port of the machine.
func WithFilter(f Filter) Option {
	return func(h *Host) { h.filter = f }
}

// WithScanInterval sets the period of the device scan.
func WithScanInterval(d time.Duration) Option {
	return func(h *Host) {
		if d > 0 {
			h.scan = d
		}
	}
}

// WithTransferTimeout bounds each bulk and control transfer.
func WithTransferTimeout(d time.Duration) Option {
	return func(h *Host) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithIDPaths sets the locations searched for the USB ID database used to
// name devices in logs.
func WithIDPaths(paths []string) Option {
	return func(h *Host) { h.idPaths = paths }
}

type event struct {
	dev      *device
	attached bool
}

type completion struct {
	dev *device
	run func(ok bool)
}

// Host implements hal.USBHost on libusb.
type Host struct {
	ctx     *gousb.Context
	filter  Filter
	scan    time.Duration
	timeout time.Duration
	idPaths []string
	names   *names

	events chan event
	done   chan completion
	quit   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	// Device loop only.
	handler  hal.Handler
	attached *device
	depth    int
}

var _ hal.USBHost = (*Host)(nil)

// Open starts a host on libusb. Close releases it.
func Open(opts ...Option) (*Host, error) {
	h := newHost(opts...)
	h.ctx = gousb.NewContext()
	h.names = loadNames(h.idPaths)
	if len(h.filter.Path) == 0 {
		pkg.LogWarn(pkg.ComponentHost, "no usb port filter, any mass-storage device will be used")
	}

	h.wg.Add(1)
	go h.watch()
	pkg.LogInfo(pkg.ComponentHost, "libusb host started", "bus", h.filter.Bus, "path", h.filter.Path)
	return h, nil
}

func newHost(opts ...Option) *Host {
	h := &Host{
		scan:    DefaultScanInterval,
		timeout: DefaultTransferTimeout,
		idPaths: IDPaths,
		names:   &names{},
		events:  make(chan event, eventQueue),
		done:    make(chan completion, doneQueue),
		quit:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Close stops the watcher and every worker and releases libusb. It must
// not be called while the device loop runs.
func (h *Host) Close() error {
	var err error
	h.once.Do(func() {
		close(h.quit)
		if d := h.attached; d != nil {
			h.attached = nil
			close(d.jobs)
		}
		h.wg.Wait()
		if h.ctx != nil {
			err = h.ctx.Close()
		}
	})
	return err
}

// SetHandler installs the receiver of lifecycle events.
func (h *Host) SetHandler(handler hal.Handler) {
	h.handler = handler
}

// Service delivers attach and detach events and transfer completions.
// Calls nested in a completion only deliver completions.
func (h *Host) Service() {
	h.depth++
	defer func() { h.depth-- }()

	if h.depth == 1 {
		h.drainEvents()
	}
	for {
		select {
		case c := <-h.done:
			c.run(c.dev == h.attached)
		default:
			return
		}
	}
}

func (h *Host) drainEvents() {
	for {
		select {
		case ev := <-h.events:
			h.apply(ev)
		default:
			return
		}
	}
}

func (h *Host) apply(ev event) {
	d := ev.dev
	if !ev.attached {
		if h.attached != d {
			return
		}
		h.attached = nil
		close(d.jobs)
		pkg.LogInfo(pkg.ComponentHost, "detached", "device", d)
		if h.handler != nil {
			if d.match.kind == kindMSC {
				h.handler.MassStorageUnmounted(deviceAddr)
			} else {
				h.handler.CDCUnmounted(cdcIndex)
			}
			h.handler.HostUnmounted(deviceAddr)
		}
		return
	}

	h.attached = d
	h.wg.Add(1)
	go h.work(d)
	pkg.LogInfo(pkg.ComponentHost, "attached", "device", d, "blocks", d.blocks, "block_size", d.blockSize)
	if h.handler != nil {
		h.handler.HostMounted(deviceAddr)
		if d.match.kind == kindMSC {
			h.handler.MassStorageMounted(deviceAddr)
		} else {
			h.handler.CDCMounted(cdcIndex)
		}
	}
}

// work runs the jobs of d until it is detached, then releases it.
func (h *Host) work(d *device) {
	defer h.wg.Done()
	defer d.close()
	for j := range d.jobs {
		run := j()
		select {
		case h.done <- completion{dev: d, run: run}:
		case <-h.quit:
			return
		}
	}
}

func (h *Host) submit(d *device, j job) error {
	select {
	case d.jobs <- j:
		return nil
	default:
		return fmt.Errorf("%w: %d transfers outstanding", pkg.ErrBusy, jobQueue)
	}
}

func (h *Host) msc(addr hal.DeviceAddress, lun uint8) (*device, error) {
	d := h.attached
	if d == nil || d.match.kind != kindMSC || addr != deviceAddr {
		return nil, fmt.Errorf("%w: no drive at address %d", pkg.ErrNoDevice, addr)
	}
	if lun != d.lun {
		return nil, fmt.Errorf("%w: lun %d", pkg.ErrInvalidParameter, lun)
	}
	return d, nil
}

// MSCMounted reports whether a drive is attached at addr.
func (h *Host) MSCMounted(addr hal.DeviceAddress) bool {
	_, err := h.msc(addr, 0)
	return err == nil
}

// BlockCount returns the capacity read when the drive attached.
func (h *Host) BlockCount(addr hal.DeviceAddress, lun uint8) uint32 {
	if d, err := h.msc(addr, lun); err == nil {
		return d.blocks
	}
	return 0
}

// BlockSize returns the block size read when the drive attached.
func (h *Host) BlockSize(addr hal.DeviceAddress, lun uint8) uint32 {
	if d, err := h.msc(addr, lun); err == nil {
		return d.blockSize
	}
	return 0
}

// Inquiry issues a SCSI INQUIRY.
func (h *Host) Inquiry(addr hal.DeviceAddress, lun uint8, done func(resp *hal.InquiryResponse, ok bool)) error {
	d, err := h.msc(addr, lun)
	if err != nil {
		return err
	}
	return h.submit(d, func() func(bool) {
		resp, err := d.tr.inquiry(lun)
		if err != nil {
			pkg.LogWarn(pkg.ComponentHost, "inquiry", "device", d, "error", err)
		}
		return func(ok bool) {
			if !ok || err != nil {
				done(nil, false)
				return
			}
			done(resp, true)
		}
	})
}

// Read10 reads count blocks starting at lba into buf.
func (h *Host) Read10(addr hal.DeviceAddress, lun uint8, buf []byte, lba uint32, count uint16, done func(ok bool)) error {
	d, err := h.msc(addr, lun)
	if err != nil {
		return err
	}
	return h.submit(d, func() func(bool) {
		err := d.tr.read10(lun, buf, lba, count, d.blockSize)
		if err != nil {
			pkg.LogWarn(pkg.ComponentHost, "read10", "device", d, "lba", lba, "error", err)
		}
		return func(ok bool) { done(ok && err == nil) }
	})
}

// Write10 writes count blocks from buf starting at lba.
func (h *Host) Write10(addr hal.DeviceAddress, lun uint8, buf []byte, lba uint32, count uint16, done func(ok bool)) error {
	d, err := h.msc(addr, lun)
	if err != nil {
		return err
	}
	return h.submit(d, func() func(bool) {
		err := d.tr.write10(lun, buf, lba, count, d.blockSize)
		if err != nil {
			pkg.LogWarn(pkg.ComponentHost, "write10", "device", d, "lba", lba, "error", err)
		}
		return func(ok bool) { done(ok && err == nil) }
	})
}

// SetLineCoding sends SET_LINE_CODING to the CDC interface idx. A device
// rebooting on the bootsel rate usually fails the request.
func (h *Host) SetLineCoding(idx uint8, lc *hal.LineCoding, done func(ok bool)) error {
	d := h.attached
	if d == nil || d.match.kind != kindCDC || idx != cdcIndex {
		return fmt.Errorf("%w: no cdc interface %d", pkg.ErrNoDevice, idx)
	}
	coding := *lc
	return h.submit(d, func() func(bool) {
		err := d.setLineCoding(&coding)
		if err != nil {
			pkg.LogDebug(pkg.ComponentHost, "set line coding", "device", d, "error", err)
		}
		return func(ok bool) { done(ok && err == nil) }
	})
}
