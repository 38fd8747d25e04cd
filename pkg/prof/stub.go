//go:build !profile

package prof

import (
	"errors"
	"net/http"
)

// Enabled reports whether profiling is compiled in.
const Enabled = false

// Profiling errors, never returned without the "profile" tag.
var (
	ErrCPUProfileActive = errors.New("cpu profile already active")
	ErrInvalidProfile   = errors.New("invalid profile")
)

func StartCPU(string) error { return nil }
func StopCPU() {}
func CPUActive() bool { return false }
func Write(string, string) error { return nil }

// Handler returns nil without the "profile" tag.
func Handler() http.Handler { return nil }

func SetBlockProfileRate(int) {}
func SetMutexProfileFraction(int) {}
