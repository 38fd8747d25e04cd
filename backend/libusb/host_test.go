package libusb

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/google/gousb"

	"github.com/ardnew/uf2flasher/hal"
	"github.com/ardnew/uf2flasher/pkg"
)

// =============================================================================
// Classification
// =============================================================================

func bulk(n int, dir gousb.EndpointDirection) gousb.EndpointDesc {
	addr := gousb.EndpointAddress(n)
	if dir == gousb.EndpointDirectionIn {
		addr |= 0x80
	}
	return gousb.EndpointDesc{Address: addr, Number: n, Direction: dir, TransferType: gousb.TransferTypeBulk}
}

func desc(ifaces ...gousb.InterfaceDesc) *gousb.DeviceDesc {
	return &gousb.DeviceDesc{
		Configs: map[int]gousb.ConfigDesc{1: {Number: 1, Interfaces: ifaces}},
	}
}

func iface(n int, class, sub gousb.Class, proto gousb.Protocol, eps ...gousb.EndpointDesc) gousb.InterfaceDesc {
	m := make(map[gousb.EndpointAddress]gousb.EndpointDesc, len(eps))
	for _, ep := range eps {
		m[ep.Address] = ep
	}
	return gousb.InterfaceDesc{
		Number: n,
		AltSettings: []gousb.InterfaceSetting{{
			Number: n, Class: class, SubClass: sub, Protocol: proto, Endpoints: m,
		}},
	}
}

func TestClassify(t *testing.T) {
	msc := iface(0, gousb.Class(hal.ClassMSC), gousb.Class(hal.SubclassSCSI), gousb.Protocol(hal.ProtocolBulkOnly),
		bulk(1, gousb.EndpointDirectionIn), bulk(2, gousb.EndpointDirectionOut))
	mscNoOut := iface(0, gousb.Class(hal.ClassMSC), gousb.Class(hal.SubclassSCSI), gousb.Protocol(hal.ProtocolBulkOnly),
		bulk(1, gousb.EndpointDirectionIn))
	cdc := iface(2, gousb.Class(hal.ClassCDC), gousb.Class(hal.SubclassACM), 0)
	hid := iface(0, gousb.ClassHID, 0, 0)

	tests := []struct {
		name string
		desc *gousb.DeviceDesc
		ok   bool
		want match
	}{
		{"mass storage", desc(msc), true, match{kind: kindMSC, config: 1, iface: 0, in: 1, out: 2}},
		{"cdc", desc(cdc), true, match{kind: kindCDC, config: 1, iface: 2}},
		{"mass storage preferred", desc(cdc, msc), true, match{kind: kindMSC, config: 1, iface: 0, in: 1, out: 2}},
		{"mass storage without out", desc(mscNoOut), false, match{}},
		{"other class", desc(hid), false, match{}},
		{"no config", &gousb.DeviceDesc{}, false, match{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := classify(tt.desc)
			if ok != tt.ok {
				t.Fatalf("classify() ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("classify() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFilter(t *testing.T) {
	d := &gousb.DeviceDesc{Bus: 1, Path: []int{1, 3}}
	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"any", Filter{}, true},
		{"bus", Filter{Bus: 1}, true},
		{"other bus", Filter{Bus: 2}, false},
		{"path", Filter{Bus: 1, Path: []int{1, 3}}, true},
		{"parent hub", Filter{Path: []int{1}}, false},
		{"other port", Filter{Path: []int{1, 4}}, false},
	}
	for _, tt := range tests {
		if got := tt.filter.matches(d); got != tt.want {
			t.Errorf("%s: matches() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

// =============================================================================
// Host
// =============================================================================

type recorder struct {
	events []string
}

func (r *recorder) HostMounted(hal.DeviceAddress)          { r.events = append(r.events, "host+") }
func (r *recorder) HostUnmounted(hal.DeviceAddress)        { r.events = append(r.events, "host-") }
func (r *recorder) MassStorageMounted(hal.DeviceAddress)   { r.events = append(r.events, "msc+") }
func (r *recorder) MassStorageUnmounted(hal.DeviceAddress) { r.events = append(r.events, "msc-") }
func (r *recorder) CDCMounted(uint8)                       { r.events = append(r.events, "cdc+") }
func (r *recorder) CDCUnmounted(uint8)                     { r.events = append(r.events, "cdc-") }

func (r *recorder) take() []string {
	ev := r.events
	r.events = nil
	return ev
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func newFakeDrive(blocks uint32) (*device, *fakeTarget) {
	f := newFakeTarget(blocks, 512)
	return &device{
		match:     match{kind: kindMSC},
		tr:        f.transport(),
		blocks:    blocks,
		blockSize: 512,
		jobs:      make(chan job, jobQueue),
	}, f
}

func newTestHost(t *testing.T) (*Host, *recorder) {
	t.Helper()
	h := newHost()
	rec := &recorder{}
	h.SetHandler(rec)
	t.Cleanup(func() { h.Close() })
	return h, rec
}

// serviceUntil runs Service until cond holds.
func serviceUntil(t *testing.T, h *Host, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out")
		}
		h.Service()
		time.Sleep(time.Millisecond)
	}
}

func TestHost_AttachDetach(t *testing.T) {
	h, rec := newTestHost(t)
	d, _ := newFakeDrive(64)

	h.events <- event{dev: d, attached: true}
	h.Service()
	if got := rec.take(); !equal(got, []string{"host+", "msc+"}) {
		t.Errorf("attach events = %v", got)
	}
	if !h.MSCMounted(deviceAddr) || h.BlockCount(deviceAddr, 0) != 64 || h.BlockSize(deviceAddr, 0) != 512 {
		t.Error("drive not reported after attach")
	}
	if h.MSCMounted(2) || h.BlockCount(deviceAddr, 1) != 0 {
		t.Error("drive reported at another address or lun")
	}

	h.events <- event{dev: d, attached: false}
	h.Service()
	if got := rec.take(); !equal(got, []string{"msc-", "host-"}) {
		t.Errorf("detach events = %v", got)
	}
	if h.MSCMounted(deviceAddr) {
		t.Error("drive reported after detach")
	}

	// A second detach of the same device is ignored.
	h.events <- event{dev: d, attached: false}
	h.Service()
	if got := rec.take(); len(got) != 0 {
		t.Errorf("repeated detach events = %v", got)
	}
}

func TestHost_CDC(t *testing.T) {
	h, rec := newTestHost(t)
	d := &device{match: match{kind: kindCDC}, jobs: make(chan job, jobQueue)}

	h.events <- event{dev: d, attached: true}
	h.Service()
	if got := rec.take(); !equal(got, []string{"host+", "cdc+"}) {
		t.Errorf("attach events = %v", got)
	}
	if h.MSCMounted(deviceAddr) {
		t.Error("cdc device reported as a drive")
	}
	err := h.Read10(deviceAddr, 0, make([]byte, 512), 0, 1, func(bool) {})
	if !errors.Is(err, pkg.ErrNoDevice) {
		t.Errorf("Read10() on cdc = %v, want ErrNoDevice", err)
	}
	if err := h.SetLineCoding(1, &hal.BootselLineCoding, func(bool) {}); !errors.Is(err, pkg.ErrNoDevice) {
		t.Errorf("SetLineCoding(1) = %v, want ErrNoDevice", err)
	}

	h.events <- event{dev: d, attached: false}
	h.Service()
	if got := rec.take(); !equal(got, []string{"cdc-", "host-"}) {
		t.Errorf("detach events = %v", got)
	}
}

func TestHost_Transfers(t *testing.T) {
	h, _ := newTestHost(t)
	d, f := newFakeDrive(64)
	h.events <- event{dev: d, attached: true}
	h.Service()

	var inquiry *hal.InquiryResponse
	called := false
	if err := h.Inquiry(deviceAddr, 0, func(resp *hal.InquiryResponse, ok bool) {
		called = true
		if ok {
			inquiry = &hal.InquiryResponse{}
			*inquiry = *resp
		}
	}); err != nil {
		t.Fatalf("Inquiry() error = %v", err)
	}
	serviceUntil(t, h, func() bool { return called })
	if inquiry == nil || inquiry.Vendor() != "RPI" {
		t.Fatalf("inquiry = %+v", inquiry)
	}

	data := bytes.Repeat([]byte{0x5A}, 1024)
	var wrote *bool
	if err := h.Write10(deviceAddr, 0, data, 8, 2, func(ok bool) { wrote = &ok }); err != nil {
		t.Fatalf("Write10() error = %v", err)
	}
	serviceUntil(t, h, func() bool { return wrote != nil })
	if !*wrote || !bytes.Equal(f.disk[8*512:10*512], data) {
		t.Errorf("write ok = %v", *wrote)
	}

	buf := make([]byte, 1024)
	var read *bool
	if err := h.Read10(deviceAddr, 0, buf, 8, 2, func(ok bool) { read = &ok }); err != nil {
		t.Fatalf("Read10() error = %v", err)
	}
	serviceUntil(t, h, func() bool { return read != nil })
	if !*read || !bytes.Equal(buf, data) {
		t.Errorf("read ok = %v", *read)
	}
}

func TestHost_TransferFailure(t *testing.T) {
	h, _ := newTestHost(t)
	d, f := newFakeDrive(64)
	f.failOp = hal.SCSIWrite10
	h.events <- event{dev: d, attached: true}
	h.Service()

	var result *bool
	if err := h.Write10(deviceAddr, 0, make([]byte, 512), 0, 1, func(ok bool) { result = &ok }); err != nil {
		t.Fatalf("Write10() error = %v", err)
	}
	serviceUntil(t, h, func() bool { return result != nil })
	if *result {
		t.Error("failed write reported ok")
	}
}

func TestHost_StaleCompletion(t *testing.T) {
	h, rec := newTestHost(t)
	d, _ := newFakeDrive(64)
	h.events <- event{dev: d, attached: true}
	h.Service()

	var result *bool
	if err := h.Read10(deviceAddr, 0, make([]byte, 512), 0, 1, func(ok bool) { result = &ok }); err != nil {
		t.Fatalf("Read10() error = %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(h.done) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("transfer did not finish")
		}
		time.Sleep(time.Millisecond)
	}

	// The device leaves before the completion is delivered.
	h.events <- event{dev: d, attached: false}
	h.Service()
	if result == nil || *result {
		t.Errorf("completion after detach = %v, want false", result)
	}
	if got := rec.take(); !equal(got, []string{"host+", "msc+", "msc-", "host-"}) {
		t.Errorf("events = %v", got)
	}
}

func TestHost_Busy(t *testing.T) {
	h, _ := newTestHost(t)
	d, _ := newFakeDrive(64)
	h.attached = d // no worker drains the queue

	for i := 0; i < jobQueue; i++ {
		if err := h.Read10(deviceAddr, 0, make([]byte, 512), 0, 1, func(bool) {}); err != nil {
			t.Fatalf("Read10(%d) error = %v", i, err)
		}
	}
	if err := h.Read10(deviceAddr, 0, make([]byte, 512), 0, 1, func(bool) {}); !errors.Is(err, pkg.ErrBusy) {
		t.Errorf("Read10() on full queue = %v, want ErrBusy", err)
	}
	h.attached = nil
}

func TestHost_NestedService(t *testing.T) {
	h, rec := newTestHost(t)
	d, _ := newFakeDrive(64)
	h.events <- event{dev: d, attached: true}
	h.Service()
	rec.take()

	var inner *bool
	outer := false
	h.Read10(deviceAddr, 0, make([]byte, 512), 0, 1, func(bool) {
		outer = true
		h.events <- event{dev: d, attached: false}
		h.Read10(deviceAddr, 0, make([]byte, 512), 1, 1, func(ok bool) { inner = &ok })
		deadline := time.Now().Add(2 * time.Second)
		for inner == nil && time.Now().Before(deadline) {
			h.Service()
			time.Sleep(time.Millisecond)
		}
	})
	serviceUntil(t, h, func() bool { return outer })

	if inner == nil || !*inner {
		t.Errorf("nested completion = %v, want true", inner)
	}
	if len(rec.events) != 0 {
		t.Errorf("nested Service delivered events %v", rec.events)
	}
	h.Service()
	if got := rec.take(); !equal(got, []string{"msc-", "host-"}) {
		t.Errorf("events after return = %v", got)
	}
}

func TestDevice_Start(t *testing.T) {
	d, f := newFakeDrive(0)
	f.disk = make([]byte, 100*512)
	f.notReady = 2
	if err := d.start(3, 0); err != nil {
		t.Fatalf("start() error = %v", err)
	}
	if d.blocks != 100 || d.blockSize != 512 {
		t.Errorf("capacity = %d x %d", d.blocks, d.blockSize)
	}

	d, f = newFakeDrive(0)
	f.notReady = 5
	if err := d.start(2, 0); !errors.Is(err, pkg.ErrTransfer) {
		t.Errorf("start() on a drive never ready = %v, want ErrTransfer", err)
	}
}
