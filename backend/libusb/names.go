package libusb

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// IDPaths lists the usual locations of the USB ID database.
var IDPaths = []string{
	"/usr/share/hwdata/usb.ids",
	"/var/lib/usbutils/usb.ids",
	"/usr/share/misc/usb.ids",
}

// names maps vendor and product IDs to the names of the USB ID database.
// It is read-only after loading.
type names struct {
	vendors  map[uint16]string
	products map[uint32]string // vid<<16 | pid
}

// loadNames reads the first database found in paths. A missing database
// yields empty names.
func loadNames(paths []string) *names {
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		defer f.Close()
		return parseNames(f)
	}
	return &names{}
}

// parseNames reads the usb.ids format:
//
//	vvvv  Vendor Name
//	<tab>pppp  Product Name
//
// Lines of the class and language sections stop the current vendor.
func parseNames(r io.Reader) *names {
	db := &names{
		vendors:  make(map[uint16]string),
		products: make(map[uint32]string),
	}
	var vid uint16
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		if line[0] == '\t' {
			id, name, ok := splitID(line[1:])
			if vid != 0 && ok {
				db.products[uint32(vid)<<16|uint32(id)] = name
			}
			continue
		}

		id, name, ok := splitID(line)
		if !ok {
			vid = 0
			continue
		}
		vid = id
		db.vendors[vid] = name
	}
	return db
}

func splitID(line string) (uint16, string, bool) {
	if len(line) < 6 || line[4] != ' ' {
		return 0, "", false
	}
	id, err := strconv.ParseUint(line[:4], 16, 16)
	if err != nil {
		return 0, "", false
	}
	return uint16(id), strings.TrimLeft(line[5:], " "), true
}

// describe returns "vvvv:pppp" followed by the known names.
func (db *names) describe(vid, pid uint16) string {
	s := fmt.Sprintf("%04x:%04x", vid, pid)
	if v := db.vendors[vid]; v != "" {
		s += " " + v
	}
	if p := db.products[uint32(vid)<<16|uint32(pid)]; p != "" {
		s += " " + p
	}
	return s
}
