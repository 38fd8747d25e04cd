// Package touch restarts RP2040-style boards into their mass-storage
// bootloader from a serial port.
//
// A board running the pico SDK USB stdio reboots into BOOTSEL mode when the
// host opens its CDC port at 1200 baud and then drops DTR. This is the same
// request the flasher sends with SET_LINE_CODING, made through the tty
// driver of the operating system instead.
package touch

import (
	"fmt"
	"time"

	"github.com/pkg/term"
	"github.com/pkg/term/termios"
	"golang.org/x/sys/unix"

	"github.com/ardnew/uf2flasher/hal"
	"github.com/ardnew/uf2flasher/pkg"
)

// DefaultHold is how long DTR stays asserted before it is dropped.
const DefaultHold = 50 * time.Millisecond

// Port is the part of a serial port used by a touch.
type Port interface {
	SetDTR(v bool) error
	Close() error
}

// Opener opens a serial port at the given speed.
type Opener func(name string, baud int) (Port, error)

type options struct {
	open  Opener
	hold  time.Duration
	sleep func(time.Duration)
}

// Option configures Bootsel.
type Option func(*options)

// WithHold sets how long DTR stays asserted before it is dropped.
func WithHold(d time.Duration) Option {
	return func(o *options) { o.hold = d }
}

// WithOpener replaces the tty opener.
func WithOpener(open Opener) Option {
	return func(o *options) { o.open = open }
}

// WithSleep replaces time.Sleep.
func WithSleep(fn func(time.Duration)) Option {
	return func(o *options) { o.sleep = fn }
}

// Bootsel opens the serial port name at the bootsel rate, asserts DTR for
// the hold time, drops it and closes the port. The board usually
// disappears from the bus before Close returns, so a failing Close is only
// logged.
func Bootsel(name string, opts ...Option) error {
	o := options{open: OpenTTY, hold: DefaultHold, sleep: time.Sleep}
	for _, opt := range opts {
		opt(&o)
	}

	baud := int(hal.BootselLineCoding.DTERate)
	p, err := o.open(name, baud)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	pkg.LogInfo(pkg.ComponentTouch, "port opened", "port", name, "baud", baud)

	if err := p.SetDTR(true); err != nil {
		p.Close()
		return fmt.Errorf("assert dtr on %s: %w", name, err)
	}
	o.sleep(o.hold)
	if err := p.SetDTR(false); err != nil {
		p.Close()
		return fmt.Errorf("drop dtr on %s: %w", name, err)
	}

	if err := p.Close(); err != nil {
		pkg.LogDebug(pkg.ComponentTouch, "close", "port", name, "error", err)
	}
	pkg.LogInfo(pkg.ComponentTouch, "bootsel requested", "port", name)
	return nil
}

// OpenTTY opens a tty in raw mode, 8N1 at baud, ignoring modem control
// lines so the open does not wait for carrier.
func OpenTTY(name string, baud int) (Port, error) {
	t, err := term.Open(name,
		term.RawMode,
		term.Speed(baud),
		term.SetAttr(func(attr *unix.Termios) uintptr {
			attr.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB
			attr.Cflag |= unix.CS8 | unix.CLOCAL
			return termios.TCSAFLUSH
		}))
	if err != nil {
		return nil, err
	}
	return t, nil
}
