package config

import (
	"fmt"
	"strings"

	"github.com/ardnew/uf2flasher/diskio"
	"github.com/ardnew/uf2flasher/flasher"
	"github.com/ardnew/uf2flasher/mux"
	"github.com/ardnew/uf2flasher/netsrv"
	"github.com/ardnew/uf2flasher/pipe"
)

// Default names of the multiplexer lines.
const (
	DefaultSelectPrefix = "MUX_S"
	DefaultDataPin      = "MUX_DATA"
	DefaultPowerPin     = "MUX_POWER"
)

// Defaults of simulated devices.
const (
	DefaultSimBlocks    = 8192
	DefaultSimBlockSize = 512
	DefaultLogRing      = 8192
)

// Defaults of the libusb backend.
const (
	DefaultUSBScanMs            = 250
	DefaultUSBTransferTimeoutMs = 2000
)

// Normalize fills unset fields with defaults.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Backend == "" {
		cfg.Backend = BackendSim
	}

	// ---- log ----

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	// ---- network ----

	if cfg.Network.TCP == "" {
		cfg.Network.TCP = netsrv.DefaultTCPAddr
	}
	if cfg.Network.HTTP == "" {
		cfg.Network.HTTP = netsrv.DefaultHTTPAddr
	}

	// ---- pins ----

	if len(cfg.Pins.Select) == 0 {
		cfg.Pins.Select = make([]string, mux.SelectLines)
		for i := range cfg.Pins.Select {
			cfg.Pins.Select[i] = fmt.Sprintf("%s%d", DefaultSelectPrefix, i)
		}
	}
	if cfg.Pins.Data == "" {
		cfg.Pins.Data = DefaultDataPin
	}
	if cfg.Pins.Power == "" {
		cfg.Pins.Power = DefaultPowerPin
	}

	// ---- timing ----
	// unmount_timeout_ms and poll_interval_us keep zero: wait forever, spin.

	t := &cfg.Timing
	setMs(&t.SettleMs, mux.DefaultSettleDelay.Milliseconds())
	setMs(&t.DiskTimeoutMs, diskio.DefaultTimeout.Milliseconds())
	setMs(&t.FlushDelayMs, flasher.DefaultFlushDelay.Milliseconds())
	setMs(&t.BootselGraceMs, flasher.DefaultBootselGrace.Milliseconds())
	setMs(&t.RestoreGraceMs, flasher.DefaultRestoreGrace.Milliseconds())

	// ---- flash ----

	if cfg.Flash.FileName == "" {
		cfg.Flash.FileName = flasher.DefaultFileName
	}
	if cfg.Flash.FlushUnit == 0 {
		cfg.Flash.FlushUnit = flasher.DefaultFlushUnit
	}

	// ---- capacity ----

	if cfg.Capacity.Stream == 0 {
		cfg.Capacity.Stream = pipe.DefaultStreamCapacity
	}
	if cfg.Capacity.Tasks == 0 {
		cfg.Capacity.Tasks = pipe.DefaultQueueCapacity
	}
	if cfg.Capacity.LogRing == 0 {
		cfg.Capacity.LogRing = DefaultLogRing
	}

	// ---- usb ----

	if cfg.Backend == BackendLibUSB {
		setMs(&cfg.USB.ScanMs, DefaultUSBScanMs)
		setMs(&cfg.USB.TransferTimeoutMs, DefaultUSBTransferTimeoutMs)
		return
	}

	// ---- sim ----

	if len(cfg.Sim.Devices) == 0 {
		cfg.Sim.Devices = []SimDevice{{Port: 0}}
	}
	for i := range cfg.Sim.Devices {
		d := &cfg.Sim.Devices[i]
		if d.Kind == "" {
			d.Kind = KindRP2040
		}
		if d.Blocks == 0 {
			d.Blocks = DefaultSimBlocks
		}
		if d.BlockSize == 0 {
			d.BlockSize = DefaultSimBlockSize
		}
		if d.Vendor == "" {
			d.Vendor = "RPI"
		}
		if d.Product == "" {
			d.Product = "RP2"
		}
	}
}

func setMs(v *int, def int64) {
	if *v == 0 {
		*v = int(def)
	}
}
