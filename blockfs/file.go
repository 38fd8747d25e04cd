package blockfs

import (
	"fmt"

	"github.com/ardnew/uf2flasher/hal"
	"github.com/ardnew/uf2flasher/pkg"
)

// file writes sectors in order. Whole sectors go straight to the device; a
// trailing partial sector is kept in sector until it fills up or the file is
// synced.
type file struct {
	fs      *FS
	drive   uint8
	gen     uint32
	name    string
	next    uint32
	sector  []byte
	pending int
	size    uint64
	dirty   bool
	closed  bool
}

func (f *file) check() (*volume, error) {
	if f.closed {
		return nil, fmt.Errorf("%w: %s", pkg.ErrNotOpen, f.name)
	}
	v := &f.fs.vols[f.drive]
	if !v.mounted || v.gen != f.gen {
		return nil, fmt.Errorf("%w: drive %d was unmounted", pkg.ErrNoDevice, f.drive)
	}
	return v, nil
}

// Write appends p.
func (f *file) Write(p []byte) (int, error) {
	v, err := f.check()
	if err != nil {
		return 0, err
	}
	ss := int(v.sectorSize)
	written := 0
	f.dirty = true

	// Top up the partial sector first.
	if f.pending > 0 {
		n := copy(f.sector[f.pending:], p)
		if f.pending+n == ss {
			if err := f.put(v, f.sector, 1); err != nil {
				return 0, err
			}
			f.pending = 0
		} else {
			f.pending += n
		}
		written += n
		f.size += uint64(n)
		p = p[n:]
	}

	if whole := len(p) / ss; whole > 0 {
		if err := f.put(v, p[:whole*ss], uint32(whole)); err != nil {
			return written, err
		}
		written += whole * ss
		f.size += uint64(whole * ss)
		p = p[whole*ss:]
	}

	if len(p) > 0 {
		f.pending = copy(f.sector, p)
		written += f.pending
		f.size += uint64(f.pending)
	}
	return written, nil
}

// put writes count whole sectors at the end of the file.
func (f *file) put(v *volume, buf []byte, count uint32) error {
	if uint64(f.next)+uint64(count) > uint64(v.sectors) {
		return fmt.Errorf("%w: drive %d full", pkg.ErrInvalidParameter, f.drive)
	}
	if err := f.fs.dev.WriteBlocks(f.drive, buf, f.next, count); err != nil {
		return err
	}
	f.next += count
	return nil
}

// Sync writes the partial sector, padded with zeros, and the header. The
// partial sector stays buffered so that later writes can complete it.
func (f *file) Sync() error {
	v, err := f.check()
	if err != nil {
		return err
	}
	if !f.dirty {
		return nil
	}
	if f.pending > 0 {
		if uint64(f.next) >= uint64(v.sectors) {
			return fmt.Errorf("%w: drive %d full", pkg.ErrInvalidParameter, f.drive)
		}
		clear(f.sector[f.pending:])
		if err := f.fs.dev.WriteBlocks(f.drive, f.sector, f.next, 1); err != nil {
			return err
		}
	}
	if err := f.writeHeader(); err != nil {
		return err
	}
	if _, err := f.fs.dev.Ioctl(f.drive, hal.CtrlSync); err != nil {
		return err
	}
	f.dirty = false
	return nil
}

// Close syncs and releases the file.
func (f *file) Close() error {
	if f.closed {
		return fmt.Errorf("%w: %s", pkg.ErrNotOpen, f.name)
	}
	err := f.Sync()
	v := &f.fs.vols[f.drive]
	if v.open == f {
		v.open = nil
	}
	f.closed = true
	return err
}

func (f *file) writeHeader() error {
	h := Header{Start: DataStart, Size: f.size, Name: f.name}
	buf := make([]byte, len(f.sector))
	h.MarshalTo(buf)
	return f.fs.dev.WriteBlocks(f.drive, buf, 0, 1)
}
