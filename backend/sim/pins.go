package sim

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"github.com/ardnew/uf2flasher/mux"
	"github.com/ardnew/uf2flasher/pkg"
)

// pinBase keeps the numbers of simulated lines clear of real headers.
const pinBase = 1000

// Lines are the multiplexer lines as seen by the devices.
type Lines struct {
	Select [mux.SelectLines]gpio.PinIn
	Data   gpio.PinIn
	Power  gpio.PinIn
}

// Names of the multiplexer lines to register.
type Names struct {
	Select [mux.SelectLines]string
	Data   string
	Power  string
}

// RegisterPins registers one in-memory pin per name in gpioreg, so that the
// multiplexer finds them with gpioreg.ByName like real lines. The enable
// lines start high, which leaves every port off.
func RegisterPins(names Names) (Lines, error) {
	var lines Lines
	register := func(name string, num int, level gpio.Level) (gpio.PinIn, error) {
		p := &gpiotest.Pin{N: name, Num: pinBase + num, L: level}
		if err := gpioreg.Register(p); err != nil {
			return nil, fmt.Errorf("register %s: %w", name, err)
		}
		return p, nil
	}

	var err error
	for i, name := range names.Select {
		if lines.Select[i], err = register(name, i, gpio.Low); err != nil {
			return lines, err
		}
	}
	if lines.Data, err = register(names.Data, mux.SelectLines, gpio.High); err != nil {
		return lines, err
	}
	if lines.Power, err = register(names.Power, mux.SelectLines+1, gpio.High); err != nil {
		return lines, err
	}
	return lines, nil
}

// UnregisterPins removes the pins registered by RegisterPins.
func UnregisterPins(names Names) {
	for _, name := range names.Select {
		gpioreg.Unregister(name)
	}
	gpioreg.Unregister(names.Data)
	gpioreg.Unregister(names.Power)
}

func (l *Lines) validate() error {
	for i, p := range l.Select {
		if p == nil {
			return fmt.Errorf("%w: select line %d not set", pkg.ErrInvalidParameter, i)
		}
	}
	if l.Data == nil || l.Power == nil {
		return fmt.Errorf("%w: enable lines not set", pkg.ErrInvalidParameter)
	}
	return nil
}

// sample returns the powered port and whether its data lines are
// connected. The enable lines are active low.
func (l *Lines) sample() (mux.Port, bool) {
	if l.Power.Read() != gpio.Low {
		return mux.None, false
	}
	index := 0
	for i, p := range l.Select {
		if p.Read() == gpio.High {
			index |= 1 << i
		}
	}
	return mux.Port(index), l.Data.Read() == gpio.Low
}
