// Package flasher implements the per-port flashing state machine and the
// device loop that drives it.
//
// A [Controller] owns the status of every multiplexer port, the active port,
// and the single open image file. It runs on the device goroutine and is
// reached from the network goroutine only through the usb task queue. Its
// replies travel back on the web task queue.
//
// # Lifecycle
//
// A port normally moves through:
//
//	Selected -> [BootselRequested -> BootselComplete ->] Inquired ->
//	FlashRequested -> FileOpen -> Writing... -> FlashComplete
//
// The bootsel steps happen only when the device first appears as a CDC
// serial port: the controller sets the line to 1200 baud, which makes an
// RP2040-style application reboot into its mass-storage bootloader.
//
// Each failure moves the port to the matching error stage and sends exactly
// one report to the network loop. Error stages are sticky: later file
// operations on the port are refused until it is selected again or all
// status is cleared. Unmount events only clear mount flags, so the final
// stage stays visible after the device goes away.
package flasher
