package libusb

import (
	"time"

	"github.com/google/gousb"

	"github.com/ardnew/uf2flasher/pkg"
)

const readyInterval = 50 * time.Millisecond

// watch scans the bus until the host closes. It owns the device discovery;
// the device loop learns about changes through events.
func (h *Host) watch() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.scan)
	defer ticker.Stop()

	var current *device
	for {
		current = h.rescan(current)
		select {
		case <-h.quit:
			return
		case <-ticker.C:
		}
	}
}

// rescan reports the departure of current and opens a new device when the
// port is free. It returns the device now attached, if any.
func (h *Host) rescan(current *device) *device {
	if current != nil {
		present := false
		_, err := h.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
			if desc.Bus == current.bus && desc.Address == current.addr {
				present = true
			}
			return false
		})
		if err != nil {
			pkg.LogDebug(pkg.ComponentHost, "scan", "error", err)
		}
		if present {
			return current
		}
		if !h.post(event{dev: current}) {
			return nil
		}
	}

	var m match
	opened := false
	devs, err := h.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if opened || !h.filter.matches(desc) {
			return false
		}
		var ok bool
		if m, ok = classify(desc); ok {
			opened = true
		}
		return ok
	})
	if err != nil {
		pkg.LogDebug(pkg.ComponentHost, "scan", "error", err)
	}
	if len(devs) == 0 {
		return nil
	}
	for _, extra := range devs[1:] {
		extra.Close()
	}

	dev := devs[0]
	d, err := open(dev, m, h.timeout)
	if err != nil {
		pkg.LogWarn(pkg.ComponentHost, "open device", "bus", dev.Desc.Bus, "addr", dev.Desc.Address, "error", err)
		dev.Close()
		return nil
	}
	d.name = h.names.describe(uint16(dev.Desc.Vendor), uint16(dev.Desc.Product))

	// A drive that never becomes ready still attaches, so that the failure
	// shows on its port.
	if err := d.start(DefaultReadyRetries, readyInterval); err != nil {
		pkg.LogWarn(pkg.ComponentHost, "start drive", "device", d, "error", err)
	}
	if !h.post(event{dev: d, attached: true}) {
		d.close()
		return nil
	}
	return d
}

// post hands an event to the device loop. It reports false once the host
// closes.
func (h *Host) post(ev event) bool {
	select {
	case h.events <- ev:
		return true
	case <-h.quit:
		return false
	}
}
