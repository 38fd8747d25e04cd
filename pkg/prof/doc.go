// Package prof exposes runtime profiling of the appliance daemon.
//
// Profiling is compiled in with the "profile" build tag:
//
//	go build -tags profile ./cmd/flasherd
//
// Without the tag every function is a no-op and [Handler] returns nil, so
// the daemon keeps its profiling hooks at no cost.
//
// With the tag, [Handler] serves the [net/http/pprof] endpoints, which the
// daemon mounts at /debug/pprof/ on its HTTP interface, and [StartCPU]
// records a CPU profile until [StopCPU]:
//
//	flasherd -cpuprofile cpu.prof
//	go tool pprof cpu.prof
//
// Block and mutex profiles are sampled at the rates given to
// [SetBlockProfileRate] and [SetMutexProfileFraction].
package prof
