package hal

import (
	"bytes"
	"testing"
)

func TestLineCoding_MarshalTo(t *testing.T) {
	lc := BootselLineCoding
	buf := make([]byte, LineCodingSize)
	if n := lc.MarshalTo(buf); n != LineCodingSize {
		t.Fatalf("MarshalTo() = %d, want %d", n, LineCodingSize)
	}

	want := []byte{0xB0, 0x04, 0x00, 0x00, StopBits1, ParityNone, 8}
	if !bytes.Equal(buf, want) {
		t.Errorf("MarshalTo() = % x, want % x", buf, want)
	}
	if n := lc.MarshalTo(buf[:3]); n != 0 {
		t.Errorf("MarshalTo(short) = %d, want 0", n)
	}
}

func TestParseLineCoding(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		ok      bool
		bootsel bool
	}{
		{"bootsel", []byte{0xB0, 0x04, 0, 0, 0, 0, 8}, true, true},
		{"115200", []byte{0x00, 0xC2, 0x01, 0x00, 0, 0, 8}, true, false},
		{"short", []byte{0xB0, 0x04}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var lc LineCoding
			if got := ParseLineCoding(tt.data, &lc); got != tt.ok {
				t.Fatalf("ParseLineCoding() = %v, want %v", got, tt.ok)
			}
			if tt.ok && lc.IsBootsel() != tt.bootsel {
				t.Errorf("IsBootsel() = %v, want %v", lc.IsBootsel(), tt.bootsel)
			}
		})
	}
}

func TestDriveNumber(t *testing.T) {
	for addr := DeviceAddress(1); addr < 5; addr++ {
		if got := DriveAddress(DriveNumber(addr)); got != addr {
			t.Errorf("DriveAddress(DriveNumber(%d)) = %d", addr, got)
		}
	}
	if DriveNumber(3) != 2 {
		t.Errorf("DriveNumber(3) = %d, want 2", DriveNumber(3))
	}
}

func TestIoctlCmd_String(t *testing.T) {
	if CtrlSync.String() != "CTRL_SYNC" {
		t.Errorf("CtrlSync.String() = %q", CtrlSync.String())
	}
	if IoctlCmd(99).String() != "UNKNOWN" {
		t.Errorf("IoctlCmd(99).String() = %q", IoctlCmd(99).String())
	}
}
