package libusb

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleIDs = `# USB ID database
#
2e8a  Raspberry Pi
	0003  RP2 Boot
	000a  Pico SDK CDC UART
239a  Adafruit
	0029  Feather nRF52840 Express
C 00  (Defined at Interface level)
	01  Audio
`

func TestParseNames(t *testing.T) {
	db := parseNames(strings.NewReader(sampleIDs))

	tests := []struct {
		vid, pid uint16
		want     string
	}{
		{0x2e8a, 0x0003, "2e8a:0003 Raspberry Pi RP2 Boot"},
		{0x2e8a, 0x000a, "2e8a:000a Raspberry Pi Pico SDK CDC UART"},
		{0x239a, 0x0029, "239a:0029 Adafruit Feather nRF52840 Express"},
		{0x239a, 0x0001, "239a:0001 Adafruit"},
		{0x1234, 0x5678, "1234:5678"},
	}
	for _, tt := range tests {
		if got := db.describe(tt.vid, tt.pid); got != tt.want {
			t.Errorf("describe(%04x, %04x) = %q, want %q", tt.vid, tt.pid, got, tt.want)
		}
	}

	// Class entries are not products of the last vendor.
	if _, ok := db.products[0x239a<<16|0x0001]; ok {
		t.Error("class entry parsed as a product")
	}
}

func TestLoadNames(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "usb.ids")
	if err := os.WriteFile(path, []byte(sampleIDs), 0o644); err != nil {
		t.Fatal(err)
	}

	db := loadNames([]string{filepath.Join(dir, "missing"), path})
	if got := db.describe(0x2e8a, 0x0003); got != "2e8a:0003 Raspberry Pi RP2 Boot" {
		t.Errorf("describe() = %q", got)
	}

	empty := loadNames([]string{filepath.Join(dir, "missing")})
	if got := empty.describe(0x2e8a, 0x0003); got != "2e8a:0003" {
		t.Errorf("describe() without database = %q", got)
	}
}
