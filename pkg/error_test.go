package pkg

import (
	"errors"
	"fmt"
	"testing"
)

func TestDeviceError(t *testing.T) {
	tests := []struct {
		name string
		err  *DeviceError
		want string
	}{
		{"with cause", NewDeviceError(3, OpWrite, ErrTransfer), "port 3: write: transfer failed"},
		{"without cause", NewDeviceError(7, OpInquiry, nil), "port 7: inquiry failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDeviceError_Unwrap(t *testing.T) {
	err := fmt.Errorf("flash: %w", NewDeviceError(1, OpSelect, ErrUnmountTimeout))

	if !errors.Is(err, ErrUnmountTimeout) {
		t.Errorf("errors.Is(%v, ErrUnmountTimeout) = false", err)
	}

	var de *DeviceError
	if !errors.As(err, &de) {
		t.Fatalf("errors.As(%v, *DeviceError) = false", err)
	}
	if de.Port != 1 || de.Op != OpSelect {
		t.Errorf("DeviceError = %+v, want port 1 op %q", de, OpSelect)
	}
}

func TestSentinelErrorsDistinct(t *testing.T) {
	all := []error{
		ErrQueueFull, ErrDeviceTimeout, ErrUnmountTimeout, ErrTransfer,
		ErrNoDevice, ErrInvalidPort, ErrInvalidDrive, ErrInvalidParameter,
		ErrNotSupported, ErrAlreadyRunning, ErrBusy, ErrDecode, ErrNotOpen, ErrStopped,
	}
	for i, a := range all {
		for j, b := range all {
			if i != j && errors.Is(a, b) {
				t.Errorf("%v unexpectedly matches %v", a, b)
			}
		}
	}
}
