package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ardnew/uf2flasher/pkg"
)

const sample = `
backend: sim
log:
  level: debug
  format: JSON
network:
  tcp: "127.0.0.1:5656"
  http: "off"
timing:
  unmount_timeout_ms: 2000
  strict_timeout: true
  poll_interval_us: 250
flash:
  file_name: firmware.uf2
capacity:
  stream: 16384
sim:
  devices:
    - port: 3
    - port: 7
      kind: msc
      blocks: 1024
      fail_write_at: 5
`

// ---- load ----

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flasherd.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if cfg.Network.TCP != "127.0.0.1:5656" || cfg.Network.HTTP != "off" {
		t.Errorf("network = %+v", cfg.Network)
	}
	if got := cfg.Timing.UnmountTimeout(); got != 2*time.Second {
		t.Errorf("UnmountTimeout() = %v, want 2s", got)
	}
	if got := cfg.Timing.PollInterval(); got != 250*time.Microsecond {
		t.Errorf("PollInterval() = %v, want 250us", got)
	}
	if !cfg.Timing.StrictTimeout {
		t.Error("strict_timeout not set")
	}
	if cfg.Flash.FileName != "firmware.uf2" || cfg.Flash.FlushUnit != 8192 {
		t.Errorf("flash = %+v", cfg.Flash)
	}
	if cfg.Capacity.Stream != 16384 || cfg.Capacity.Tasks != 32 {
		t.Errorf("capacity = %+v", cfg.Capacity)
	}

	if len(cfg.Sim.Devices) != 2 {
		t.Fatalf("len(devices) = %d, want 2", len(cfg.Sim.Devices))
	}
	d0, d1 := cfg.Sim.Devices[0], cfg.Sim.Devices[1]
	if d0.Kind != KindRP2040 || d0.Blocks != DefaultSimBlocks || d0.BlockSize != 512 || d0.Vendor != "RPI" {
		t.Errorf("devices[0] = %+v", d0)
	}
	if d1.Kind != KindMSC || d1.Blocks != 1024 || d1.FailWriteAt != 5 {
		t.Errorf("devices[1] = %+v", d1)
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load() error = %v, want ErrNotExist", err)
	}
}

func TestParse_UnknownField(t *testing.T) {
	if _, err := Parse([]byte("backend: sim\nspeed: 9\n")); err == nil {
		t.Error("Parse() accepted an unknown field")
	}
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil) error = %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate(empty) error = %v", err)
	}
}

// ---- defaults ----

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Backend != BackendSim {
		t.Errorf("backend = %q, want %q", cfg.Backend, BackendSim)
	}
	if cfg.Network.TCP != ":5656" {
		t.Errorf("tcp = %q, want :5656", cfg.Network.TCP)
	}
	want := []string{"MUX_S0", "MUX_S1", "MUX_S2", "MUX_S3", "MUX_S4", "MUX_S5"}
	if strings.Join(cfg.Pins.Select, ",") != strings.Join(want, ",") {
		t.Errorf("select = %v, want %v", cfg.Pins.Select, want)
	}
	if cfg.Timing.DiskTimeout() != 500*time.Millisecond {
		t.Errorf("DiskTimeout() = %v, want 500ms", cfg.Timing.DiskTimeout())
	}
	if cfg.Timing.FlushDelay() != 15*time.Millisecond {
		t.Errorf("FlushDelay() = %v, want 15ms", cfg.Timing.FlushDelay())
	}
	if cfg.Timing.UnmountTimeout() != 0 {
		t.Errorf("UnmountTimeout() = %v, want 0", cfg.Timing.UnmountTimeout())
	}
	if len(cfg.Sim.Devices) != 1 || cfg.Sim.Devices[0].Port != 0 {
		t.Errorf("devices = %+v, want one at port 0", cfg.Sim.Devices)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate(Default()) error = %v", err)
	}
}

func TestNormalize_LibUSBHasNoSimDevices(t *testing.T) {
	cfg := &Config{
		Backend: BackendLibUSB,
		Pins: PinsConfig{
			Select: []string{"GPIO2", "GPIO3", "GPIO4", "GPIO5", "GPIO6", "GPIO7"},
			Data:   "GPIO8",
			Power:  "GPIO9",
		},
		USB: USBConfig{Bus: 1, Path: []int{1, 2}},
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	Normalize(cfg)
	if len(cfg.Sim.Devices) != 0 {
		t.Errorf("devices = %+v, want none", cfg.Sim.Devices)
	}
	if cfg.Pins.Data != "GPIO8" {
		t.Errorf("data = %q, want GPIO8", cfg.Pins.Data)
	}
	if cfg.USB.Scan() != 250*time.Millisecond || cfg.USB.TransferTimeout() != 2*time.Second {
		t.Errorf("usb = %+v", cfg.USB)
	}
	if len(cfg.USB.Path) != 2 {
		t.Errorf("usb.path = %v", cfg.USB.Path)
	}
}

// ---- validate ----

func TestValidate_Rejects(t *testing.T) {
	pins := PinsConfig{
		Select: []string{"A", "B", "C", "D", "E", "F"},
		Data:   "G",
		Power:  "H",
	}

	tests := []struct {
		name string
		cfg  Config
	}{
		{"backend", Config{Backend: "serial"}},
		{"log level", Config{Log: LogConfig{Level: "loud"}}},
		{"log format", Config{Log: LogConfig{Format: "xml"}}},
		{"select count", Config{Pins: PinsConfig{Select: []string{"A"}}}},
		{"select empty name", Config{Pins: PinsConfig{Select: []string{"A", "B", "", "D", "E", "F"}}}},
		{"pin reused", Config{Pins: PinsConfig{Select: pins.Select, Data: "C"}}},
		{"libusb without pins", Config{Backend: BackendLibUSB}},
		{"negative timing", Config{Timing: TimingConfig{FlushDelayMs: -1}}},
		{"file path", Config{Flash: FlashConfig{FileName: "dir/image.uf2"}}},
		{"flush unit", Config{Flash: FlashConfig{FlushUnit: 1000}}},
		{"stream capacity", Config{Capacity: CapacityConfig{Stream: 5000}}},
		{"stream below piece", Config{Capacity: CapacityConfig{Stream: 512}}},
		{"task capacity", Config{Capacity: CapacityConfig{Tasks: 1}}},
		{"sim port range", Config{Sim: SimConfig{Devices: []SimDevice{{Port: 64}}}}},
		{"sim port wraps", Config{Sim: SimConfig{Devices: []SimDevice{{Port: 300}}}}},
		{"sim port twice", Config{Sim: SimConfig{Devices: []SimDevice{{Port: 1}, {Port: 1}}}}},
		{"sim kind", Config{Sim: SimConfig{Devices: []SimDevice{{Kind: "hid"}}}}},
		{"sim block size", Config{Sim: SimConfig{Devices: []SimDevice{{BlockSize: 100}}}}},
		{"sim too large", Config{Sim: SimConfig{Devices: []SimDevice{{Blocks: 1 << 20, BlockSize: 4096}}}}},
		{"sim vendor", Config{Sim: SimConfig{Devices: []SimDevice{{Vendor: "RASPBERRYPI"}}}}},
		{"usb negative bus", Config{USB: USBConfig{Bus: -1}}},
		{"usb negative timeout", Config{USB: USBConfig{TransferTimeoutMs: -5}}},
		{"usb port range", Config{USB: USBConfig{Path: []int{1, 0}}}},
		{"sim with libusb", Config{Backend: BackendLibUSB, Pins: pins, Sim: SimConfig{Devices: []SimDevice{{}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.cfg)
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !errors.Is(err, pkg.ErrInvalidParameter) {
				t.Errorf("Validate() = %v, want ErrInvalidParameter", err)
			}
		})
	}
}

func TestValidate_DoesNotMutate(t *testing.T) {
	cfg := &Config{Log: LogConfig{Format: "JSON"}}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.Log.Format != "JSON" || cfg.Backend != "" {
		t.Errorf("Validate() mutated config: %+v", cfg)
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	data, err := Marshal(Default())
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse(Marshal()) error = %v", err)
	}
	if cfg.Network.HTTP != ":8080" || cfg.Sim.Devices[0].Product != "RP2" {
		t.Errorf("round trip lost fields: %+v", cfg)
	}
}
