package sim

import (
	"fmt"

	"github.com/ardnew/uf2flasher/hal"
	"github.com/ardnew/uf2flasher/mux"
	"github.com/ardnew/uf2flasher/pkg"
)

// DefaultAttachDelay is the number of Service calls between a port being
// connected and its device enumerating.
const DefaultAttachDelay = 3

// Only one device is connected at a time, so the addresses never change.
const (
	deviceAddr hal.DeviceAddress = 1
	cdcIndex   uint8             = 0
)

// Option configures a Host.
type Option func(*Host)

// WithAttachDelay sets the number of Service calls a device takes to
// enumerate.
func WithAttachDelay(polls int) Option {
	return func(h *Host) {
		if polls >= 0 {
			h.attachDelay = polls
		}
	}
}

type completion struct {
	gen uint32
	run func(ok bool)
}

// Host implements hal.USBHost.
type Host struct {
	lines       Lines
	devices     [mux.NumPorts]*device
	handler     hal.Handler
	attachDelay int

	powered  mux.Port
	attached *device
	iface    mode
	waiting  mux.Port
	polls    int
	gen      uint32
	queue    []completion
	depth    int
}

var _ hal.USBHost = (*Host)(nil)

// New creates a host watching lines with devices attached to their ports.
func New(lines Lines, devices []Device, opts ...Option) (*Host, error) {
	if err := lines.validate(); err != nil {
		return nil, err
	}
	h := &Host{
		lines:       lines,
		attachDelay: DefaultAttachDelay,
		powered:     mux.None,
		waiting:     mux.None,
	}
	for _, opt := range opts {
		opt(h)
	}
	for _, cfg := range devices {
		d, err := newDevice(cfg)
		if err != nil {
			return nil, err
		}
		if h.devices[cfg.Port] != nil {
			return nil, fmt.Errorf("%w: two devices on port %s", pkg.ErrInvalidParameter, cfg.Port)
		}
		h.devices[cfg.Port] = d
		pkg.LogDebug(pkg.ComponentSim, "device", "port", cfg.Port, "kind", cfg.Kind, "blocks", cfg.Blocks)
	}
	return h, nil
}

// SetHandler installs the receiver of lifecycle events.
func (h *Host) SetHandler(handler hal.Handler) {
	h.handler = handler
}

// Disk returns the storage of the device on port, or nil.
func (h *Host) Disk(port mux.Port) *Disk {
	if !port.Valid() || h.devices[port] == nil {
		return nil
	}
	return h.devices[port].disk
}

// Service follows the multiplexer lines and completes queued transfers.
// Calls nested in a completion only complete transfers.
func (h *Host) Service() {
	h.depth++
	defer func() { h.depth-- }()

	if h.depth == 1 {
		h.track()
	}
	for n := len(h.queue); n > 0 && len(h.queue) > 0; n-- {
		c := h.queue[0]
		h.queue[0] = completion{}
		h.queue = h.queue[1:]
		c.run(h.attached != nil && c.gen == h.gen)
	}
}

// track attaches and detaches devices to follow the multiplexer.
func (h *Host) track() {
	port, connected := h.lines.sample()
	if port != h.powered {
		if d := h.device(h.powered); d != nil {
			d.powerOff()
		}
		h.powered = port
	}

	want := mux.None
	if connected {
		want = port
	}
	if d := h.attached; d != nil && (d.Port != want || d.resetting) {
		h.detach()
	}
	if h.attached != nil {
		return
	}

	d := h.device(want)
	if d == nil {
		h.waiting = mux.None
		return
	}
	if h.waiting != want {
		h.waiting = want
		h.polls = h.attachDelay
	}
	if h.polls > 0 {
		h.polls--
		return
	}
	h.attach(d)
}

func (h *Host) device(port mux.Port) *device {
	if !port.Valid() {
		return nil
	}
	return h.devices[port]
}

func (h *Host) attach(d *device) {
	h.attached = d
	h.iface = d.mode
	h.waiting = mux.None
	h.gen++
	pkg.LogInfo(pkg.ComponentSim, "attach", "port", d.Port, "kind", d.Kind, "mode", d.mode)
	if h.handler == nil {
		return
	}
	h.handler.HostMounted(deviceAddr)
	if h.iface == modeBoot {
		h.handler.MassStorageMounted(deviceAddr)
	} else {
		h.handler.CDCMounted(cdcIndex)
	}
}

func (h *Host) detach() {
	d := h.attached
	h.attached = nil
	d.resetting = false
	pkg.LogInfo(pkg.ComponentSim, "detach", "port", d.Port, "mode", h.iface)
	if h.handler == nil {
		return
	}
	if h.iface == modeBoot {
		h.handler.MassStorageUnmounted(deviceAddr)
	} else {
		h.handler.CDCUnmounted(cdcIndex)
	}
	h.handler.HostUnmounted(deviceAddr)
}

func (h *Host) later(run func(ok bool)) {
	h.queue = append(h.queue, completion{gen: h.gen, run: run})
}

// msc returns the attached drive at addr.
func (h *Host) msc(addr hal.DeviceAddress, lun uint8) (*device, error) {
	d := h.attached
	if d == nil || d.resetting || h.iface != modeBoot || addr != deviceAddr {
		return nil, fmt.Errorf("%w: no drive at address %d", pkg.ErrNoDevice, addr)
	}
	if lun != hal.DefaultLUN {
		return nil, fmt.Errorf("%w: lun %d", pkg.ErrInvalidParameter, lun)
	}
	return d, nil
}

// MSCMounted reports whether a drive is attached at addr.
func (h *Host) MSCMounted(addr hal.DeviceAddress) bool {
	_, err := h.msc(addr, hal.DefaultLUN)
	return err == nil
}

// BlockCount returns the number of blocks of the drive at addr.
func (h *Host) BlockCount(addr hal.DeviceAddress, lun uint8) uint32 {
	d, err := h.msc(addr, lun)
	if err != nil {
		return 0
	}
	return d.disk.BlockCount()
}

// BlockSize returns the block size of the drive at addr.
func (h *Host) BlockSize(addr hal.DeviceAddress, lun uint8) uint32 {
	d, err := h.msc(addr, lun)
	if err != nil {
		return 0
	}
	return d.disk.BlockSize()
}

// Inquiry answers with the vendor and product of the device.
func (h *Host) Inquiry(addr hal.DeviceAddress, lun uint8, done func(resp *hal.InquiryResponse, ok bool)) error {
	d, err := h.msc(addr, lun)
	if err != nil {
		return err
	}
	var data [hal.InquiryStandardSize]byte
	hal.NewInquiryResponse(d.Vendor, d.Product, d.Revision).MarshalTo(data[:])

	h.later(func(ok bool) {
		var resp hal.InquiryResponse
		if !ok || d.FailInquiry || !hal.ParseInquiryResponse(data[:], &resp) {
			done(nil, false)
			return
		}
		done(&resp, true)
	})
	return nil
}

// Read10 reads count blocks starting at lba into buf.
func (h *Host) Read10(addr hal.DeviceAddress, lun uint8, buf []byte, lba uint32, count uint16, done func(ok bool)) error {
	d, err := h.msc(addr, lun)
	if err != nil {
		return err
	}
	h.later(func(ok bool) {
		if ok {
			if err := d.disk.Read(lba, count, buf); err != nil {
				pkg.LogWarn(pkg.ComponentSim, "read10", "port", d.Port, "lba", lba, "error", err)
				ok = false
			}
		}
		done(ok)
	})
	return nil
}

// Write10 writes count blocks from buf starting at lba.
func (h *Host) Write10(addr hal.DeviceAddress, lun uint8, buf []byte, lba uint32, count uint16, done func(ok bool)) error {
	d, err := h.msc(addr, lun)
	if err != nil {
		return err
	}
	h.later(func(ok bool) {
		if ok {
			if err := d.disk.Write(lba, count, buf); err != nil {
				pkg.LogWarn(pkg.ComponentSim, "write10", "port", d.Port, "lba", lba, "error", err)
				ok = false
			}
		}
		done(ok)
	})
	return nil
}

// SetLineCoding sets the line coding of the attached application. A
// request at 1200 baud resets it into its bootloader without an answer.
func (h *Host) SetLineCoding(idx uint8, lc *hal.LineCoding, done func(ok bool)) error {
	d := h.attached
	if d == nil || d.resetting || h.iface != modeApp || idx != cdcIndex {
		return fmt.Errorf("%w: no cdc interface %d", pkg.ErrNoDevice, idx)
	}

	var data [hal.LineCodingSize]byte
	lc.MarshalTo(data[:])
	var got hal.LineCoding
	if !hal.ParseLineCoding(data[:], &got) {
		return fmt.Errorf("%w: line coding", pkg.ErrInvalidParameter)
	}

	if got.IsBootsel() {
		pkg.LogInfo(pkg.ComponentSim, "reset into bootloader", "port", d.Port)
		d.reboot()
		return nil
	}
	h.later(done)
	return nil
}
