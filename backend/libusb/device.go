package libusb

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/gousb"

	"github.com/ardnew/uf2flasher/hal"
	"github.com/ardnew/uf2flasher/pkg"
)

type kind uint8

const (
	kindMSC kind = iota + 1
	kindCDC
)

func (k kind) String() string {
	switch k {
	case kindMSC:
		return "msc"
	case kindCDC:
		return "cdc"
	default:
		return "none"
	}
}

// match locates the interface the host uses on a device.
type match struct {
	kind   kind
	config int
	iface  int
	alt    int
	in     int // bulk endpoints, mass storage only
	out    int
}

// classify picks a mass-storage interface if the device has one, otherwise
// a CDC ACM control interface.
func classify(desc *gousb.DeviceDesc) (match, bool) {
	var cdc match
	found := false

	configs := make([]int, 0, len(desc.Configs))
	for n := range desc.Configs {
		configs = append(configs, n)
	}
	slices.Sort(configs)

	for _, n := range configs {
		for _, id := range desc.Configs[n].Interfaces {
			for _, s := range id.AltSettings {
				switch {
				case s.Class == gousb.Class(hal.ClassMSC) &&
					s.SubClass == gousb.Class(hal.SubclassSCSI) &&
					s.Protocol == gousb.Protocol(hal.ProtocolBulkOnly):
					m := match{kind: kindMSC, config: n, iface: id.Number, alt: s.Alternate}
					for _, ep := range s.Endpoints {
						if ep.TransferType != gousb.TransferTypeBulk {
							continue
						}
						if ep.Direction == gousb.EndpointDirectionIn {
							m.in = ep.Number
						} else {
							m.out = ep.Number
						}
					}
					if m.in != 0 && m.out != 0 {
						return m, true
					}
				case !found && s.Class == gousb.Class(hal.ClassCDC) &&
					s.SubClass == gousb.Class(hal.SubclassACM):
					cdc = match{kind: kindCDC, config: n, iface: id.Number, alt: s.Alternate}
					found = true
				}
			}
		}
	}
	return cdc, found
}

// device is an opened target. Handles are released by its worker.
type device struct {
	dev    *gousb.Device
	config *gousb.Config
	intf   *gousb.Interface
	match  match
	name   string

	bus, addr int
	tr        *transport
	lun       uint8
	blocks    uint32
	blockSize uint32

	jobs chan job
}

// job runs on the worker and returns the completion to deliver.
type job func() func(ok bool)

func (d *device) String() string {
	return fmt.Sprintf("%d:%d %s %s", d.bus, d.addr, d.match.kind, d.name)
}

// open claims the interface picked by classify.
func open(dev *gousb.Device, m match, timeout time.Duration) (*device, error) {
	d := &device{
		dev:   dev,
		match: m,
		bus:   dev.Desc.Bus,
		addr:  dev.Desc.Address,
		jobs:  make(chan job, jobQueue),
	}
	dev.ControlTimeout = timeout
	if m.kind == kindCDC {
		return d, nil
	}

	if err := dev.SetAutoDetach(true); err != nil {
		pkg.LogDebug(pkg.ComponentHost, "auto detach", "device", d, "error", err)
	}
	cfg, err := dev.Config(m.config)
	if err != nil {
		return nil, fmt.Errorf("config %d: %w", m.config, err)
	}
	intf, err := cfg.Interface(m.iface, m.alt)
	if err != nil {
		cfg.Close()
		return nil, fmt.Errorf("interface %d: %w", m.iface, err)
	}
	in, err := intf.InEndpoint(m.in)
	if err != nil {
		intf.Close()
		cfg.Close()
		return nil, fmt.Errorf("in endpoint %d: %w", m.in, err)
	}
	out, err := intf.OutEndpoint(m.out)
	if err != nil {
		intf.Close()
		cfg.Close()
		return nil, fmt.Errorf("out endpoint %d: %w", m.out, err)
	}

	d.config = cfg
	d.intf = intf
	d.tr = &transport{
		in:  &timedReader{ep: in, timeout: timeout},
		out: &timedWriter{ep: out, timeout: timeout},
	}
	return d, nil
}

// start waits for the drive to become ready and reads its capacity.
func (d *device) start(retries int, interval time.Duration) error {
	if d.match.kind != kindMSC {
		return nil
	}
	var err error
	for i := 0; i <= retries; i++ {
		if err = d.tr.testUnitReady(d.lun); err == nil {
			break
		}
		time.Sleep(interval)
	}
	if err != nil {
		return fmt.Errorf("test unit ready: %w", err)
	}
	d.blocks, d.blockSize, err = d.tr.readCapacity(d.lun)
	if err != nil {
		return fmt.Errorf("read capacity: %w", err)
	}
	return nil
}

func (d *device) close() {
	if d.intf != nil {
		d.intf.Close()
	}
	if d.config != nil {
		if err := d.config.Close(); err != nil {
			pkg.LogDebug(pkg.ComponentHost, "close config", "device", d, "error", err)
		}
	}
	if d.dev == nil {
		return
	}
	if err := d.dev.Close(); err != nil {
		pkg.LogDebug(pkg.ComponentHost, "close device", "device", d, "error", err)
	}
}

// setLineCoding sends SET_LINE_CODING to the CDC control interface.
func (d *device) setLineCoding(lc *hal.LineCoding) error {
	var data [hal.LineCodingSize]byte
	lc.MarshalTo(data[:])
	_, err := d.dev.Control(hal.RequestTypeClassInterfaceOut, hal.RequestSetLineCoding,
		0, uint16(d.match.iface), data[:])
	return err
}

type timedReader struct {
	ep      *gousb.InEndpoint
	timeout time.Duration
}

func (r *timedReader) Read(p []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	return r.ep.ReadContext(ctx, p)
}

type timedWriter struct {
	ep      *gousb.OutEndpoint
	timeout time.Duration
}

func (w *timedWriter) Write(p []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	return w.ep.WriteContext(ctx, p)
}
