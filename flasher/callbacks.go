package flasher

import (
	"github.com/ardnew/uf2flasher/hal"
	"github.com/ardnew/uf2flasher/mux"
	"github.com/ardnew/uf2flasher/pkg"
)

// The callbacks below are invoked by the host stack from within Service on
// the device loop. Events are attributed to the active port.

var _ hal.Handler = (*Controller)(nil)

// HostMounted records that a device enumerated on the active port.
func (c *Controller) HostMounted(addr hal.DeviceAddress) {
	pkg.LogInfo(pkg.ComponentHost, "device mounted", "addr", addr)
	c.setMount(MountedHost, true)
}

// HostUnmounted clears every mount flag of the active port.
func (c *Controller) HostUnmounted(addr hal.DeviceAddress) {
	pkg.LogInfo(pkg.ComponentHost, "device unmounted", "addr", addr)
	c.setMount(MountedAny, false)
}

// MassStorageMounted starts the inquiry of a newly mounted drive, unless the
// port already finished or failed a flash.
func (c *Controller) MassStorageMounted(addr hal.DeviceAddress) {
	pkg.LogInfo(pkg.ComponentHost, "msc mounted", "addr", addr)
	port := c.setMount(MountedMSC, true)
	if port == mux.None {
		return
	}
	c.drive = hal.DriveNumber(addr)
	c.hasDrive = true

	if stage := c.stage(port); stage.skipsInquiry() {
		pkg.LogInfo(pkg.ComponentFlasher, "skip inquiry", "port", port, "stage", stage)
		return
	}

	err := c.host.Inquiry(addr, hal.DefaultLUN, func(resp *hal.InquiryResponse, ok bool) {
		c.inquiryComplete(port, addr, resp, ok)
	})
	if err != nil {
		pkg.LogError(pkg.ComponentFlasher, "inquiry", "port", port, "error", err)
		c.fail(port, ErrorInquiry)
	}
}

// MassStorageUnmounted clears the mass-storage flag and unmounts the drive.
func (c *Controller) MassStorageUnmounted(addr hal.DeviceAddress) {
	pkg.LogInfo(pkg.ComponentHost, "msc unmounted", "addr", addr)
	c.setMount(MountedMSC, false)

	drive := hal.DriveNumber(addr)
	if c.file != nil && c.fileDrive == drive {
		pkg.LogWarn(pkg.ComponentFlasher, "drive removed with open file", "drive", drive)
		c.file = nil
	}
	if c.hasDrive && c.drive == drive {
		c.hasDrive = false
	}
	if err := c.fs.Unmount(drive); err != nil {
		pkg.LogDebug(pkg.ComponentFlasher, "unmount", "drive", drive, "error", err)
	}
}

// CDCMounted starts the bootsel handshake when the port was just selected.
func (c *Controller) CDCMounted(idx uint8) {
	pkg.LogInfo(pkg.ComponentHost, "cdc mounted", "index", idx)
	port := c.setMount(MountedCDC, true)
	if port == mux.None {
		return
	}
	if stage := c.stage(port); stage != Selected {
		pkg.LogDebug(pkg.ComponentFlasher, "no bootsel", "port", port, "stage", stage)
		return
	}
	c.later(enterBootsel{index: idx})
}

// CDCUnmounted clears the CDC flag and schedules the data lines to come back.
func (c *Controller) CDCUnmounted(idx uint8) {
	pkg.LogInfo(pkg.ComponentHost, "cdc unmounted", "index", idx)
	port := c.setMount(MountedCDC, false)
	if port == mux.None {
		return
	}
	c.later(restoreData{port: port, at: c.cfg.now().Add(c.cfg.restoreGrace)})
}

// setMount sets or clears flags on the active port and returns it.
func (c *Controller) setMount(flags MountFlags, set bool) mux.Port {
	port := c.mux.Active()
	if port == mux.None {
		pkg.LogDebug(pkg.ComponentFlasher, "mount event without active port")
		return port
	}
	c.update(port, func(st *Status) {
		if set {
			st.Mounted |= flags
		} else {
			st.Mounted &^= flags
		}
	})
	return port
}

func (c *Controller) inquiryComplete(port mux.Port, addr hal.DeviceAddress, resp *hal.InquiryResponse, ok bool) {
	if port != c.mux.Active() {
		pkg.LogWarn(pkg.ComponentFlasher, "inquiry completed on inactive port", "port", port)
		return
	}
	if !ok {
		pkg.LogWarn(pkg.ComponentFlasher, "inquiry failed", "port", port, "addr", addr)
		c.fail(port, ErrorInquiry)
		return
	}

	c.setStage(port, Inquired)
	if resp != nil {
		pkg.LogInfo(pkg.ComponentFlasher, "inquiry",
			"port", port,
			"vendor", resp.Vendor(),
			"product", resp.Product(),
			"revision", resp.Revision(),
			"blocks", c.host.BlockCount(addr, hal.DefaultLUN),
			"block_size", c.host.BlockSize(addr, hal.DefaultLUN))
	}

	drive := hal.DriveNumber(addr)
	if err := c.fs.Mount(drive); err != nil {
		pkg.LogError(pkg.ComponentFlasher, "mount", "port", port, "drive", drive, "error", err)
		c.fail(port, ErrorMount)
		return
	}

	c.setStage(port, FlashRequested)
	c.reply(ReportFlashRequested{Port: port, Drive: drive})
}

// fail moves port to an error stage outside of file operations and reports
// it once.
func (c *Controller) fail(port mux.Port, stage Stage) {
	c.setStage(port, stage)
	c.reply(ReportDeviceError{Port: port, Stage: stage})
}

func (c *Controller) enterBootsel(t enterBootsel) {
	port := c.mux.Active()
	if port == mux.None || c.stage(port) != Selected {
		return
	}

	c.setStage(port, BootselRequested)
	lc := hal.BootselLineCoding
	err := c.host.SetLineCoding(t.index, &lc, func(ok bool) {
		// The device usually reboots before acknowledging.
		pkg.LogDebug(pkg.ComponentFlasher, "line coding acknowledged", "index", t.index, "ok", ok)
	})
	if err != nil {
		pkg.LogError(pkg.ComponentFlasher, "bootsel", "port", port, "error", err)
		c.fail(port, ErrorBootselMiss)
		return
	}
	c.later(forceDetach{index: t.index, at: c.cfg.now().Add(c.cfg.bootselGrace)})
}

// forceDetach turns the data lines off so the host stack drops the CDC
// interface of the rebooting device.
func (c *Controller) forceDetach(t forceDetach) {
	if c.cfg.now().Before(t.at) {
		c.later(t)
		return
	}
	port := c.mux.Active()
	if port == mux.None || c.stage(port) != BootselRequested {
		return
	}

	c.setStage(port, BootselComplete)
	if err := c.mux.DisableData(); err != nil {
		pkg.LogError(pkg.ComponentFlasher, "disable data", "port", port, "error", err)
	}
}

func (c *Controller) restoreData(t restoreData) {
	if c.cfg.now().Before(t.at) {
		c.later(t)
		return
	}
	if active := c.mux.Active(); active != t.port {
		pkg.LogDebug(pkg.ComponentFlasher, "skip data restore", "port", t.port, "active", active)
		return
	}
	if err := c.mux.EnableData(); err != nil {
		pkg.LogError(pkg.ComponentFlasher, "enable data", "port", t.port, "error", err)
	}
}
