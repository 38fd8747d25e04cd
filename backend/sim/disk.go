package sim

import (
	"fmt"
	"sync"

	"github.com/ardnew/uf2flasher/pkg"
)

// Disk is block storage in memory.
type Disk struct {
	data      []byte
	blockSize uint32
	writes    int
	failAt    int
	mutex     sync.RWMutex
}

// NewDisk creates a zeroed disk of blocks blocks.
func NewDisk(blocks, blockSize uint32) *Disk {
	return &Disk{
		data:      make([]byte, uint64(blocks)*uint64(blockSize)),
		blockSize: blockSize,
	}
}

// BlockSize returns the block size.
func (d *Disk) BlockSize() uint32 {
	return d.blockSize
}

// BlockCount returns the number of blocks.
func (d *Disk) BlockCount() uint32 {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return uint32(uint64(len(d.data)) / uint64(d.blockSize))
}

// FailWriteAt makes the n-th write from now on fail. Zero disables the
// fault.
func (d *Disk) FailWriteAt(n int) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if n > 0 {
		d.failAt = d.writes + n
	} else {
		d.failAt = 0
	}
}

// Writes returns the number of write commands received.
func (d *Disk) Writes() int {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.writes
}

func (d *Disk) span(lba uint32, blocks uint16, buf []byte) (uint64, uint64, error) {
	offset := uint64(lba) * uint64(d.blockSize)
	length := uint64(blocks) * uint64(d.blockSize)
	if offset+length > uint64(len(d.data)) {
		return 0, 0, fmt.Errorf("%w: blocks %d+%d beyond end", pkg.ErrInvalidParameter, lba, blocks)
	}
	if uint64(len(buf)) < length {
		return 0, 0, fmt.Errorf("%w: buffer of %d bytes for %d blocks", pkg.ErrInvalidParameter, len(buf), blocks)
	}
	return offset, length, nil
}

// Read reads blocks starting at lba into buf.
func (d *Disk) Read(lba uint32, blocks uint16, buf []byte) error {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	offset, length, err := d.span(lba, blocks, buf)
	if err != nil {
		return err
	}
	copy(buf, d.data[offset:offset+length])
	return nil
}

// Write writes blocks from buf starting at lba.
func (d *Disk) Write(lba uint32, blocks uint16, buf []byte) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.writes++
	if d.failAt > 0 && d.writes == d.failAt {
		return fmt.Errorf("%w: injected write fault at block %d", pkg.ErrTransfer, lba)
	}
	offset, length, err := d.span(lba, blocks, buf)
	if err != nil {
		return err
	}
	copy(d.data[offset:offset+length], buf)
	return nil
}

// Bytes returns a copy of the disk content.
func (d *Disk) Bytes() []byte {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return append([]byte(nil), d.data...)
}
