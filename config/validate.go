package config

import (
	"fmt"
	"strings"

	"github.com/ardnew/uf2flasher/flasher"
	"github.com/ardnew/uf2flasher/mux"
	"github.com/ardnew/uf2flasher/pkg"
)

// MaxSimDiskSize bounds the RAM backing one simulated disk.
const MaxSimDiskSize = 64 << 20

// Validate checks configuration correctness.
// It performs declarative validation only and does not mutate cfg.
// Zero values stand for defaults and are accepted.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil config", pkg.ErrInvalidParameter)
	}

	switch cfg.Backend {
	case "", BackendSim, BackendLibUSB:
	default:
		return invalid("backend %q: want %q or %q", cfg.Backend, BackendSim, BackendLibUSB)
	}

	// ------------------------------------------------------------
	// LOG
	// ------------------------------------------------------------

	if _, err := pkg.ParseLogLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "", "text", "json":
	default:
		return invalid("log.format %q: want text or json", cfg.Log.Format)
	}

	// ------------------------------------------------------------
	// PINS
	// ------------------------------------------------------------

	if err := validatePins(cfg); err != nil {
		return err
	}

	// ------------------------------------------------------------
	// TIMING
	// ------------------------------------------------------------

	t := cfg.Timing
	for _, f := range []struct {
		name  string
		value int
	}{
		{"settle_ms", t.SettleMs},
		{"unmount_timeout_ms", t.UnmountTimeoutMs},
		{"disk_timeout_ms", t.DiskTimeoutMs},
		{"flush_delay_ms", t.FlushDelayMs},
		{"bootsel_grace_ms", t.BootselGraceMs},
		{"restore_grace_ms", t.RestoreGraceMs},
		{"poll_interval_us", t.PollIntervalUs},
	} {
		if f.value < 0 {
			return invalid("timing.%s: %d is negative", f.name, f.value)
		}
	}

	// ------------------------------------------------------------
	// FLASH
	// ------------------------------------------------------------

	if strings.ContainsAny(cfg.Flash.FileName, `/\`) {
		return invalid("flash.file_name %q: must not contain a path", cfg.Flash.FileName)
	}
	if u := cfg.Flash.FlushUnit; u < 0 || u%512 != 0 {
		return invalid("flash.flush_unit %d: want a multiple of 512", u)
	}

	// ------------------------------------------------------------
	// CAPACITY
	// ------------------------------------------------------------

	if n := cfg.Capacity.Stream; n != 0 && !powerOfTwo(n) {
		return invalid("capacity.stream %d: want a power of two", n)
	}
	if n := cfg.Capacity.Stream; n != 0 && n <= flasher.DefaultStreamPieceLength {
		return invalid("capacity.stream %d: want more than the %d byte upload piece", n, flasher.DefaultStreamPieceLength)
	}
	if n := cfg.Capacity.Tasks; n != 0 && !powerOfTwo(n) {
		return invalid("capacity.tasks %d: want a power of two", n)
	}
	if n := cfg.Capacity.LogRing; n < 0 {
		return invalid("capacity.log_ring %d is negative", n)
	}

	// ------------------------------------------------------------
	// SIM
	// ------------------------------------------------------------

	if len(cfg.Sim.Devices) > 0 && cfg.Backend == BackendLibUSB {
		return invalid("sim.devices set with backend %q", BackendLibUSB)
	}
	ports := make(map[int]bool)
	for i, d := range cfg.Sim.Devices {
		if d.Port < 0 || d.Port >= mux.NumPorts {
			return invalid("sim.devices[%d]: port %d out of range 0-%d", i, d.Port, mux.NumPorts-1)
		}
		if ports[d.Port] {
			return invalid("sim.devices[%d]: port %d used twice", i, d.Port)
		}
		ports[d.Port] = true

		switch d.Kind {
		case "", KindRP2040, KindMSC:
		default:
			return invalid("sim.devices[%d]: kind %q", i, d.Kind)
		}
		if d.BlockSize != 0 && (d.BlockSize < 512 || !powerOfTwo(int(d.BlockSize))) {
			return invalid("sim.devices[%d]: block_size %d", i, d.BlockSize)
		}
		size := uint64(d.Blocks) * uint64(max(d.BlockSize, 512))
		if size > MaxSimDiskSize {
			return invalid("sim.devices[%d]: disk of %d bytes exceeds %d", i, size, MaxSimDiskSize)
		}
		if d.FailWriteAt < 0 {
			return invalid("sim.devices[%d]: fail_write_at %d is negative", i, d.FailWriteAt)
		}
		if len(d.Vendor) > 8 || len(d.Product) > 16 {
			return invalid("sim.devices[%d]: vendor or product too long", i)
		}
	}

	// ------------------------------------------------------------
	// USB
	// ------------------------------------------------------------

	u := cfg.USB
	if u.Bus < 0 || u.ScanMs < 0 || u.TransferTimeoutMs < 0 {
		return invalid("usb: bus, scan_ms and transfer_timeout_ms must not be negative")
	}
	for i, port := range u.Path {
		if port < 1 || port > 255 {
			return invalid("usb.path[%d]: port %d out of range 1-255", i, port)
		}
	}

	return nil
}

func validatePins(cfg *Config) error {
	p := cfg.Pins
	if n := len(p.Select); n != 0 && n != mux.SelectLines {
		return invalid("pins.select: %d names, want %d", n, mux.SelectLines)
	}
	if cfg.Backend == BackendLibUSB && (len(p.Select) == 0 || p.Data == "" || p.Power == "") {
		return invalid("pins: backend %q needs select, data and power", BackendLibUSB)
	}

	seen := make(map[string]string)
	check := func(role, name string) error {
		if name == "" {
			return nil
		}
		if prev, ok := seen[name]; ok {
			return invalid("pins: %q used as %s and %s", name, prev, role)
		}
		seen[name] = role
		return nil
	}
	for i, name := range p.Select {
		if name == "" {
			return invalid("pins.select[%d] is empty", i)
		}
		if err := check(fmt.Sprintf("select[%d]", i), name); err != nil {
			return err
		}
	}
	if err := check("data", p.Data); err != nil {
		return err
	}
	return check("power", p.Power)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", pkg.ErrInvalidParameter, fmt.Sprintf(format, args...))
}

func powerOfTwo(n int) bool {
	return n >= 2 && n&(n-1) == 0
}
