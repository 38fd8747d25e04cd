// Package blockfs is a minimal image filesystem over a [hal.BlockDevice].
//
// A drive holds at most one file: a header sector followed by the file data
// in contiguous sectors. Opening a file truncates the previous one. This is
// enough for a flashing target that only needs to receive one image, and it
// makes every byte of the upload pass through the block device in order.
//
// An FS is used from the device goroutine only and is not safe for
// concurrent use.
package blockfs

import (
	"fmt"

	"github.com/ardnew/uf2flasher/hal"
	"github.com/ardnew/uf2flasher/pkg"
)

// FS implements hal.Filesystem.
type FS struct {
	dev  hal.BlockDevice
	vols [hal.MaxDrives]volume
}

type volume struct {
	mounted    bool
	gen        uint32
	sectors    uint32
	sectorSize uint32
	open       *file
}

var _ hal.Filesystem = (*FS)(nil)

// New creates a filesystem on dev.
func New(dev hal.BlockDevice) *FS {
	return &FS{dev: dev}
}

func (fs *FS) volume(drive uint8) (*volume, error) {
	if int(drive) >= hal.MaxDrives {
		return nil, fmt.Errorf("%w: %d", pkg.ErrInvalidDrive, drive)
	}
	return &fs.vols[drive], nil
}

// Mount initializes drive and reads its geometry. A drive without a valid
// header mounts as empty.
func (fs *FS) Mount(drive uint8) error {
	v, err := fs.volume(drive)
	if err != nil {
		return err
	}
	if err := fs.dev.Initialize(drive); err != nil {
		return err
	}
	if err := fs.dev.Status(drive); err != nil {
		return err
	}

	size, err := fs.dev.Ioctl(drive, hal.GetSectorSize)
	if err != nil {
		return err
	}
	count, err := fs.dev.Ioctl(drive, hal.GetSectorCount)
	if err != nil {
		return err
	}
	if size < MinSectorSize || size%MinSectorSize != 0 {
		return fmt.Errorf("%w: sector size %d", pkg.ErrNotSupported, size)
	}
	if count <= DataStart {
		return fmt.Errorf("%w: %d sectors", pkg.ErrNotSupported, count)
	}

	sector := make([]byte, size)
	if err := fs.dev.ReadBlocks(drive, sector, 0, 1); err != nil {
		return err
	}
	var h Header
	if ParseHeader(sector, &h) {
		pkg.LogDebug(pkg.ComponentDiskIO, "volume", "drive", drive, "file", h.Name, "size", h.Size)
	}

	v.close()
	v.mounted = true
	v.gen++
	v.sectors = count
	v.sectorSize = size
	pkg.LogInfo(pkg.ComponentDiskIO, "mounted", "drive", drive, "sectors", count, "sector_size", size)
	return nil
}

// Unmount forgets drive. A file still open on it fails every later call.
func (fs *FS) Unmount(drive uint8) error {
	v, err := fs.volume(drive)
	if err != nil {
		return err
	}
	if !v.mounted {
		return nil
	}
	v.close()
	v.mounted = false
	v.gen++
	pkg.LogInfo(pkg.ComponentDiskIO, "unmounted", "drive", drive)
	return nil
}

// Mounted reports whether drive is mounted.
func (fs *FS) Mounted(drive uint8) bool {
	v, err := fs.volume(drive)
	return err == nil && v.mounted
}

// Open creates name on drive, replacing the file stored there. Only one
// file may be open per drive.
func (fs *FS) Open(drive uint8, name string) (hal.File, error) {
	v, err := fs.volume(drive)
	if err != nil {
		return nil, err
	}
	if !v.mounted {
		return nil, fmt.Errorf("%w: drive %d not mounted", pkg.ErrNoDevice, drive)
	}
	if name == "" || len(name) > MaxNameLength {
		return nil, fmt.Errorf("%w: file name %q", pkg.ErrInvalidParameter, name)
	}
	if v.open != nil {
		return nil, fmt.Errorf("%w: drive %d has an open file", pkg.ErrBusy, drive)
	}

	f := &file{
		fs:     fs,
		drive:  drive,
		gen:    v.gen,
		name:   name,
		next:   DataStart,
		sector: make([]byte, v.sectorSize),
	}
	// Invalidate the previous file before any data lands on the drive.
	if err := f.writeHeader(); err != nil {
		return nil, err
	}
	v.open = f
	return f, nil
}

// Stat reads the header of drive.
func (fs *FS) Stat(drive uint8) (Header, error) {
	var h Header
	v, err := fs.volume(drive)
	if err != nil {
		return h, err
	}
	if !v.mounted {
		return h, fmt.Errorf("%w: drive %d not mounted", pkg.ErrNoDevice, drive)
	}
	sector := make([]byte, v.sectorSize)
	if err := fs.dev.ReadBlocks(drive, sector, 0, 1); err != nil {
		return h, err
	}
	if !ParseHeader(sector, &h) {
		return h, fmt.Errorf("%w: drive %d holds no file", pkg.ErrNotOpen, drive)
	}
	return h, nil
}

// ReadFile returns the content of the file stored on drive.
func (fs *FS) ReadFile(drive uint8) (string, []byte, error) {
	h, err := fs.Stat(drive)
	if err != nil {
		return "", nil, err
	}
	v := &fs.vols[drive]
	size := uint64(v.sectorSize)
	count := (h.Size + size - 1) / size
	if uint64(h.Start)+count > uint64(v.sectors) {
		return "", nil, fmt.Errorf("%w: file of %d bytes overruns drive %d", pkg.ErrInvalidParameter, h.Size, drive)
	}
	buf := make([]byte, count*size)
	if count > 0 {
		if err := fs.dev.ReadBlocks(drive, buf, h.Start, uint32(count)); err != nil {
			return "", nil, err
		}
	}
	return h.Name, buf[:h.Size], nil
}

// close detaches the open file. The generation change that follows makes
// the file fail with pkg.ErrNoDevice.
func (v *volume) close() {
	v.open = nil
}
