//go:build profile

package prof

import (
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	runpprof "runtime/pprof"
	"sync"
)

// Enabled reports whether profiling is compiled in.
const Enabled = true

// Profiling errors.
var (
	// ErrCPUProfileActive indicates CPU profiling is already active.
	ErrCPUProfileActive = errors.New("cpu profile already active")

	// ErrInvalidProfile indicates an unknown snapshot profile.
	ErrInvalidProfile = errors.New("invalid profile")
)

var (
	// cpuMutex protects cpuFile.
	cpuMutex sync.Mutex

	// cpuFile is the destination of the running CPU profile.
	cpuFile *os.File
)

// StartCPU records a CPU profile into the file at path.
func StartCPU(path string) error {
	cpuMutex.Lock()
	defer cpuMutex.Unlock()

	if cpuFile != nil {
		return ErrCPUProfileActive
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := runpprof.StartCPUProfile(f); err != nil {
		f.Close()
		return err
	}
	cpuFile = f
	return nil
}

// StopCPU ends the CPU profile started by StartCPU, if any.
func StopCPU() {
	cpuMutex.Lock()
	defer cpuMutex.Unlock()

	if cpuFile == nil {
		return
	}
	runpprof.StopCPUProfile()
	cpuFile.Close()
	cpuFile = nil
}

// CPUActive reports whether a CPU profile is being recorded.
func CPUActive() bool {
	cpuMutex.Lock()
	defer cpuMutex.Unlock()
	return cpuFile != nil
}

// Write saves the snapshot profile name (heap, goroutine, block, ...) into
// the file at path.
func Write(name, path string) error {
	p := runpprof.Lookup(name)
	if p == nil {
		return ErrInvalidProfile
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := p.WriteTo(f, 0); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Handler returns the pprof endpoints, rooted at /debug/pprof/.
func Handler() http.Handler {
	m := http.NewServeMux()
	m.HandleFunc("/debug/pprof/", pprof.Index)
	m.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	m.HandleFunc("/debug/pprof/profile", pprof.Profile)
	m.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	m.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return m
}

// SetBlockProfileRate sets the average blocking time, in nanoseconds,
// sampled by the block profile. Zero disables it.
func SetBlockProfileRate(rate int) {
	runtime.SetBlockProfileRate(rate)
}

// SetMutexProfileFraction samples one in rate mutex contention events.
// Zero disables the mutex profile.
func SetMutexProfileFraction(rate int) {
	runtime.SetMutexProfileFraction(rate)
}
