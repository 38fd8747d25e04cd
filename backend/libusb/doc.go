// Package libusb is the USB host of the appliance on a Linux machine, built
// on libusb through github.com/google/gousb.
//
// The multiplexer connects one target at a time to a single port of the
// machine. A watcher goroutine scans that port and opens the device found
// there, as a mass-storage drive (SCSI over Bulk-Only Transport) or as a CDC
// ACM serial interface. Transfers run on a worker goroutine per device and
// their completions are delivered from [Host.Service] on the device loop,
// matching the asynchronous contract of [hal.USBHost].
package libusb
