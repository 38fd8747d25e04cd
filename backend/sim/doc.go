// Package sim is a simulated USB host for running the appliance without
// hardware.
//
// The simulation watches the multiplexer lines to decide which port is
// powered and connected, and attaches the device configured on that port
// after a short enumeration delay. Two kinds of device are simulated:
//
//   - [RP2040] boots into an application exposing a CDC interface. A
//     SET_LINE_CODING request at 1200 baud makes it reset into its
//     bootloader, which exposes a mass-storage drive. Losing power returns
//     it to the application.
//   - [MSC] is a plain mass-storage drive.
//
// Drives are backed by a [Disk] in memory. Transfers complete from a later
// call to [Host.Service], as they would on a real host stack.
package sim
