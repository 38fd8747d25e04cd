// Package hal defines the collaborator contracts consumed by the flashing
// core.
//
// Three collaborators sit around the core:
//   - [USBHost]: the USB host stack. It delivers mount and unmount events to a
//     [Handler] and completes asynchronous mass-storage transfers, all from
//     inside [USBHost.Service] on the device goroutine.
//   - [BlockDevice]: synchronous block access used by the filesystem. The
//     diskio package implements it on top of [USBHost].
//   - [Filesystem]: mounts a drive and opens the single image file written
//     during a flash.
//
// The package also carries the wire structures shared by the host
// implementations: SCSI Bulk-Only Transport wrappers ([CommandBlockWrapper],
// [CommandStatusWrapper]), INQUIRY and READ CAPACITY data, and the CDC
// [LineCoding] used by the bootsel trick.
//
// # Threading
//
// Handler callbacks and transfer completions are only ever invoked from
// within [USBHost.Service]. Implementations must not call them from a
// background goroutine; the core relies on this to keep per-port state owned
// by a single goroutine.
package hal
