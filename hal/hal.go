package hal

// DeviceAddress is a USB device address assigned by the host stack (1-127).
type DeviceAddress = uint8

// DefaultLUN is the only logical unit used on mass-storage devices.
const DefaultLUN uint8 = 0

// MaxDrives is the number of mass-storage devices the host stack tracks at
// once. Drive numbers range over [0, MaxDrives).
const MaxDrives = 4

// Handler receives device lifecycle events from a [USBHost].
//
// Mass-storage callbacks carry the device address; CDC callbacks carry the
// CDC interface index assigned by the host stack.
type Handler interface {
	HostMounted(addr DeviceAddress)
	HostUnmounted(addr DeviceAddress)
	MassStorageMounted(addr DeviceAddress)
	MassStorageUnmounted(addr DeviceAddress)
	CDCMounted(idx uint8)
	CDCUnmounted(idx uint8)
}

// USBHost is the USB host stack seen from the core.
//
// All methods are called from the device goroutine. Asynchronous operations
// return an error only when the request could not be submitted; otherwise
// done is invoked exactly once from a later call to Service.
type USBHost interface {
	// Service polls the host stack. Mount callbacks and transfer
	// completions are delivered from here. It must not block.
	Service()

	// SetHandler installs the receiver of lifecycle events.
	SetHandler(h Handler)

	// Inquiry issues a SCSI INQUIRY. resp is only valid during done.
	Inquiry(addr DeviceAddress, lun uint8, done func(resp *InquiryResponse, ok bool)) error

	// Read10 reads count blocks starting at lba into buf.
	Read10(addr DeviceAddress, lun uint8, buf []byte, lba uint32, count uint16, done func(ok bool)) error

	// Write10 writes count blocks from buf starting at lba.
	Write10(addr DeviceAddress, lun uint8, buf []byte, lba uint32, count uint16, done func(ok bool)) error

	// BlockCount and BlockSize report the capacity read at mount time.
	BlockCount(addr DeviceAddress, lun uint8) uint32
	BlockSize(addr DeviceAddress, lun uint8) uint32

	// MSCMounted reports whether a mass-storage device is mounted at addr.
	MSCMounted(addr DeviceAddress) bool

	// SetLineCoding sends a CDC SET_LINE_CODING request to the CDC
	// interface idx. done may never be called if the device resets.
	SetLineCoding(idx uint8, lc *LineCoding, done func(ok bool)) error
}

// IoctlCmd is a block device control command.
type IoctlCmd uint8

// Block device control commands.
const (
	CtrlSync       IoctlCmd = 0 // Complete pending writes
	GetSectorCount IoctlCmd = 1 // Number of sectors on the drive
	GetSectorSize  IoctlCmd = 2 // Sector size in bytes
	GetBlockSize   IoctlCmd = 3 // Erase block size in sectors
	CtrlTrim       IoctlCmd = 4 // Discard unused sectors
)

// String returns the command name.
func (c IoctlCmd) String() string {
	switch c {
	case CtrlSync:
		return "CTRL_SYNC"
	case GetSectorCount:
		return "GET_SECTOR_COUNT"
	case GetSectorSize:
		return "GET_SECTOR_SIZE"
	case GetBlockSize:
		return "GET_BLOCK_SIZE"
	case CtrlTrim:
		return "CTRL_TRIM"
	default:
		return "UNKNOWN"
	}
}

// BlockDevice is synchronous sector access to a physical drive.
//
// Drives are numbered from 0; drive n is the mass-storage device at address
// n+1.
type BlockDevice interface {
	// Initialize prepares the drive before the first access.
	Initialize(drive uint8) error

	// Status returns nil when the drive is accessible.
	Status(drive uint8) error

	// ReadBlocks reads count sectors starting at sector into buf.
	ReadBlocks(drive uint8, buf []byte, sector uint32, count uint32) error

	// WriteBlocks writes count sectors from buf starting at sector.
	WriteBlocks(drive uint8, buf []byte, sector uint32, count uint32) error

	// Ioctl runs a control command and returns its value, if any.
	Ioctl(drive uint8, cmd IoctlCmd) (uint32, error)
}

// File is an open file on a mounted drive.
type File interface {
	Write(p []byte) (int, error)
	Sync() error
	Close() error
}

// Filesystem mounts drives and opens files on them.
type Filesystem interface {
	Mount(drive uint8) error
	Unmount(drive uint8) error

	// Open creates or truncates name on drive for writing.
	Open(drive uint8, name string) (File, error)
}

// DriveNumber returns the drive number of a mass-storage device address.
func DriveNumber(addr DeviceAddress) uint8 {
	return addr - 1
}

// DriveAddress returns the device address of a drive number.
func DriveAddress(drive uint8) DeviceAddress {
	return drive + 1
}
