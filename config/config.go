// Package config loads the daemon configuration file.
//
// Loading is split in three steps: [Parse] decodes the YAML document,
// [Validate] rejects inconsistent settings without modifying them, and
// [Normalize] fills every unset field with its default. [Load] runs all
// three on a file.
package config

import "time"

// Backends.
const (
	BackendSim    = "sim"
	BackendLibUSB = "libusb"
)

// Simulated device kinds.
const (
	// KindRP2040 enumerates as a CDC serial port and reboots into a
	// mass-storage bootloader on a 1200 baud line coding.
	KindRP2040 = "rp2040"

	// KindMSC enumerates directly as a mass-storage disk.
	KindMSC = "msc"
)

type Config struct {
	Backend  string         `yaml:"backend"`
	Log      LogConfig      `yaml:"log"`
	Network  NetworkConfig  `yaml:"network"`
	Pins     PinsConfig     `yaml:"pins"`
	Timing   TimingConfig   `yaml:"timing"`
	Flash    FlashConfig    `yaml:"flash"`
	Capacity CapacityConfig `yaml:"capacity"`
	Sim      SimConfig      `yaml:"sim"`
	USB      USBConfig      `yaml:"usb"`
}

// ---- LOG ----

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// ---- NETWORK ----

type NetworkConfig struct {
	TCP  string `yaml:"tcp"`
	HTTP string `yaml:"http"` // "off" disables the HTTP interface
}

// ---- PINS ----

// PinsConfig names the multiplexer lines as registered in periph's gpioreg.
type PinsConfig struct {
	Select []string `yaml:"select"` // least significant bit first
	Data   string   `yaml:"data"`
	Power  string   `yaml:"power"`
}

// ---- TIMING ----

type TimingConfig struct {
	SettleMs         int  `yaml:"settle_ms"`
	UnmountTimeoutMs int  `yaml:"unmount_timeout_ms"` // 0 waits forever
	DiskTimeoutMs    int  `yaml:"disk_timeout_ms"`
	StrictTimeout    bool `yaml:"strict_timeout"`
	FlushDelayMs     int  `yaml:"flush_delay_ms"`
	BootselGraceMs   int  `yaml:"bootsel_grace_ms"`
	RestoreGraceMs   int  `yaml:"restore_grace_ms"`
	PollIntervalUs   int  `yaml:"poll_interval_us"` // 0 spins
}

func (t TimingConfig) Settle() time.Duration { return ms(t.SettleMs) }
func (t TimingConfig) UnmountTimeout() time.Duration { return ms(t.UnmountTimeoutMs) }
func (t TimingConfig) DiskTimeout() time.Duration { return ms(t.DiskTimeoutMs) }
func (t TimingConfig) FlushDelay() time.Duration { return ms(t.FlushDelayMs) }
func (t TimingConfig) BootselGrace() time.Duration { return ms(t.BootselGraceMs) }
func (t TimingConfig) RestoreGrace() time.Duration { return ms(t.RestoreGraceMs) }

func (t TimingConfig) PollInterval() time.Duration {
	return time.Duration(t.PollIntervalUs) * time.Microsecond
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// ---- FLASH ----

type FlashConfig struct {
	FileName  string `yaml:"file_name"`
	FlushUnit int    `yaml:"flush_unit"`
}

// ---- CAPACITY ----

type CapacityConfig struct {
	Stream  int `yaml:"stream"`   // bytes, power of two
	Tasks   int `yaml:"tasks"`    // per queue, power of two
	LogRing int `yaml:"log_ring"` // bytes
}

// ---- SIM ----

type SimConfig struct {
	Devices []SimDevice `yaml:"devices"`
}

type SimDevice struct {
	Port      int    `yaml:"port"`
	Kind      string `yaml:"kind"`
	Blocks    uint32 `yaml:"blocks"`
	BlockSize uint32 `yaml:"block_size"`
	Vendor    string `yaml:"vendor"`
	Product   string `yaml:"product"`

	// Fault injection.
	FailInquiry bool `yaml:"fail_inquiry"`
	FailWriteAt int  `yaml:"fail_write_at"` // 1-based block write, 0 never
}

// ---- USB ----

// USBConfig locates the machine port wired to the multiplexer output.
type USBConfig struct {
	Bus               int    `yaml:"bus"`  // 0 matches any bus
	Path              []int  `yaml:"path"` // port numbers from the root hub
	ScanMs            int    `yaml:"scan_ms"`
	TransferTimeoutMs int    `yaml:"transfer_timeout_ms"`
	IDs               string `yaml:"ids"` // usb.ids database, for log names
}

func (u USBConfig) Scan() time.Duration { return ms(u.ScanMs) }
func (u USBConfig) TransferTimeout() time.Duration { return ms(u.TransferTimeoutMs) }
