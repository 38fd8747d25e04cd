// Package pkg provides shared utilities for the uf2flasher appliance.
//
// This package contains common functionality used by both execution
// contexts (the device loop and the network loop), including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error types for queue, multiplexer and disk failures
//   - Component identifiers for log filtering
//   - A fixed-size log ring served to network clients
//
// # Logging
//
// The logging subsystem wraps [log/slog] with appliance-specific context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentMux, "port selected", "port", 3)
//
// Log output can be duplicated into a [Ring] so that the most recent lines
// remain available to remote clients:
//
//	ring := pkg.NewRing(8192)
//	pkg.SetLogOutput(io.MultiWriter(os.Stderr, ring))
//
// # Errors
//
// Common failures are defined as sentinel values:
//
//	if errors.Is(err, pkg.ErrQueueFull) {
//	    // retry on the next loop iteration
//	}
package pkg
