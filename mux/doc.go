// Package mux drives the analog USB multiplexer that routes one of up to 64
// downstream ports onto the single USB host transceiver.
//
// The multiplexer is controlled through eight GPIO lines:
//   - six select lines carrying the binary port index (active high)
//   - one data-enable line (active low)
//   - one power-enable line (active low)
//
// Switching ports always tears the active port down before bringing the next
// one up. Data is never live without power: data goes off before power on
// teardown, and power comes on before data on bring-up.
//
// A [Mux] is owned by the device goroutine. Its methods are not safe for
// concurrent use.
package mux
