package mux

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/ardnew/uf2flasher/pkg"
)

// Port is a multiplexer port index, or None.
type Port int8

const (
	// None selects no port.
	None Port = -1

	// SelectLines is the number of select lines.
	SelectLines = 6

	// NumPorts is the number of addressable ports.
	NumPorts = 1 << SelectLines
)

// Default timing.
const (
	DefaultSettleDelay = time.Millisecond
)

// Valid reports whether p addresses a physical port.
func (p Port) Valid() bool {
	return p >= 0 && int(p) < NumPorts
}

// String returns the port index, or "none".
func (p Port) String() string {
	if p == None {
		return "none"
	}
	return fmt.Sprintf("%d", int(p))
}

// Enable line levels. The enable lines are active low.
const (
	enableOn  = gpio.Low
	enableOff = gpio.High
)

// Tracker observes the mount state of ports while the multiplexer switches.
type Tracker interface {
	// Service makes progress on the USB host stack. It is polled while
	// waiting for the active port to unmount.
	Service()

	// Mounted reports whether any mount flag is set for p.
	Mounted(p Port) bool

	// Reset clears the lifecycle stage of p before it is powered.
	Reset(p Port)
}

// Pins are the multiplexer control lines.
type Pins struct {
	Select [SelectLines]gpio.PinOut
	Data   gpio.PinOut
	Power  gpio.PinOut
}

func (p *Pins) validate() error {
	for i, pin := range p.Select {
		if pin == nil {
			return fmt.Errorf("%w: select line %d not set", pkg.ErrInvalidParameter, i)
		}
	}
	if p.Data == nil {
		return fmt.Errorf("%w: data enable line not set", pkg.ErrInvalidParameter)
	}
	if p.Power == nil {
		return fmt.Errorf("%w: power enable line not set", pkg.ErrInvalidParameter)
	}
	return nil
}

// Option configures a Mux.
type Option func(*Mux)

// WithSettleDelay sets the delay between consecutive line changes.
func WithSettleDelay(d time.Duration) Option {
	return func(m *Mux) {
		m.settle = d
	}
}

// WithUnmountTimeout bounds the wait for the active port to unmount during
// teardown. Zero waits forever.
func WithUnmountTimeout(d time.Duration) Option {
	return func(m *Mux) {
		m.unmountTimeout = d
	}
}

// Mux switches the active downstream port.
type Mux struct {
	pins           Pins
	active         Port
	settle         time.Duration
	unmountTimeout time.Duration
}

// New creates a multiplexer on pins and drives every line to its off state.
func New(pins Pins, opts ...Option) (*Mux, error) {
	if err := pins.validate(); err != nil {
		return nil, err
	}

	m := &Mux{
		pins:   pins,
		active: None,
		settle: DefaultSettleDelay,
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.Off(); err != nil {
		return nil, err
	}
	return m, nil
}

// Active returns the selected port, or None.
func (m *Mux) Active() Port {
	return m.active
}

// Off drives the lines to their power-on state: both enables off and every
// select line low. It does not wait for any device to unmount.
func (m *Mux) Off() error {
	if err := m.pins.Data.Out(enableOff); err != nil {
		return fmt.Errorf("data enable: %w", err)
	}
	if err := m.pins.Power.Out(enableOff); err != nil {
		return fmt.Errorf("power enable: %w", err)
	}
	if err := m.writeSelect(0); err != nil {
		return err
	}
	m.active = None
	return nil
}

// Select tears down the active port, if any, and brings up next. Selecting
// None only tears down. A port outside [0, NumPorts) is treated as None and
// reported as pkg.ErrInvalidPort.
//
// Teardown waits for t to report the active port unmounted. With an unmount
// timeout configured the wait gives up, teardown and bring-up complete, and
// the returned error wraps pkg.ErrUnmountTimeout.
func (m *Mux) Select(next Port, t Tracker) error {
	var invalid error
	if next != None && !next.Valid() {
		invalid = fmt.Errorf("%w: %d", pkg.ErrInvalidPort, next)
		next = None
	}

	var stuck error
	if m.active != None {
		err := m.teardown(t)
		if err != nil && !isUnmountTimeout(err) {
			return err
		}
		stuck = err
	}

	if next != None {
		if err := m.bringUp(next, t); err != nil {
			return err
		}
	}

	if invalid != nil {
		return invalid
	}
	return stuck
}

func (m *Mux) teardown(t Tracker) error {
	port := m.active
	pkg.LogDebug(pkg.ComponentMux, "disconnect data", "port", port)
	if err := m.pins.Data.Out(enableOff); err != nil {
		return fmt.Errorf("port %d: data enable: %w", port, err)
	}
	m.delay()

	pkg.LogDebug(pkg.ComponentMux, "disconnect power", "port", port)
	if err := m.pins.Power.Out(enableOff); err != nil {
		return fmt.Errorf("port %d: power enable: %w", port, err)
	}
	m.delay()

	waitErr := m.waitUnmounted(port, t)

	if err := m.writeSelect(0); err != nil {
		return err
	}
	m.active = None
	return waitErr
}

func (m *Mux) waitUnmounted(port Port, t Tracker) error {
	if !t.Mounted(port) {
		return nil
	}
	pkg.LogInfo(pkg.ComponentMux, "waiting for unmount", "port", port)

	var deadline time.Time
	if m.unmountTimeout > 0 {
		deadline = time.Now().Add(m.unmountTimeout)
	}
	for t.Mounted(port) {
		if !deadline.IsZero() && time.Now().After(deadline) {
			pkg.LogWarn(pkg.ComponentMux, "unmount timed out", "port", port, "timeout", m.unmountTimeout)
			return pkg.NewDeviceError(int(port), pkg.OpSelect, pkg.ErrUnmountTimeout)
		}
		t.Service()
	}
	return nil
}

func (m *Mux) bringUp(next Port, t Tracker) error {
	pkg.LogInfo(pkg.ComponentMux, "select", "port", next)
	m.active = next
	t.Reset(next)

	if err := m.writeSelect(uint8(next)); err != nil {
		return err
	}
	m.delay()

	if err := m.pins.Power.Out(enableOn); err != nil {
		return fmt.Errorf("port %d: power enable: %w", next, err)
	}
	m.delay()

	if err := m.pins.Data.Out(enableOn); err != nil {
		return fmt.Errorf("port %d: data enable: %w", next, err)
	}
	return nil
}

// DisableData disconnects the data lines of the active port and leaves power
// on.
func (m *Mux) DisableData() error {
	if err := m.pins.Data.Out(enableOff); err != nil {
		return fmt.Errorf("data enable: %w", err)
	}
	return nil
}

// EnableData reconnects the data lines of the active port. It does nothing
// when no port is active.
func (m *Mux) EnableData() error {
	if m.active == None {
		return nil
	}
	if err := m.pins.Data.Out(enableOn); err != nil {
		return fmt.Errorf("data enable: %w", err)
	}
	return nil
}

func (m *Mux) writeSelect(index uint8) error {
	for bit, pin := range m.pins.Select {
		level := gpio.Level(index&(1<<bit) != 0)
		if err := pin.Out(level); err != nil {
			return fmt.Errorf("select line %d: %w", bit, err)
		}
	}
	return nil
}

func (m *Mux) delay() {
	if m.settle > 0 {
		time.Sleep(m.settle)
	}
}

func isUnmountTimeout(err error) bool {
	return errors.Is(err, pkg.ErrUnmountTimeout)
}
