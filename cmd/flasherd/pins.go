package main

import (
	"fmt"
	"strings"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3/ftdi"

	"github.com/ardnew/uf2flasher/config"
	"github.com/ardnew/uf2flasher/mux"
	"github.com/ardnew/uf2flasher/pkg"
)

// ftdiPrefix names a line of the first FT232H or FT2232H found, as in
// "ftdi:D4" or "ftdi:C0".
const ftdiPrefix = "ftdi:"

// resolver finds a pin by name.
type resolver func(name string) (gpio.PinIO, error)

func registryPin(name string) (gpio.PinIO, error) {
	if p := gpioreg.ByName(name); p != nil {
		return p, nil
	}
	return nil, fmt.Errorf("%w: pin %q not found", pkg.ErrInvalidParameter, name)
}

// hardwarePin resolves FTDI lines, then falls back to gpioreg. host.Init
// must have run.
func hardwarePin() resolver {
	var ft *ftdi.FT232H
	return func(name string) (gpio.PinIO, error) {
		line, ok := strings.CutPrefix(name, ftdiPrefix)
		if !ok {
			return registryPin(name)
		}
		if ft == nil {
			for _, dev := range ftdi.All() {
				if d, ok := dev.(*ftdi.FT232H); ok {
					ft = d
					break
				}
			}
			if ft == nil {
				return nil, fmt.Errorf("%w: no FT232H for pin %q", pkg.ErrNoDevice, name)
			}
		}
		if p := ftdiLine(ft, line); p != nil {
			return p, nil
		}
		return nil, fmt.Errorf("%w: pin %q not found", pkg.ErrInvalidParameter, name)
	}
}

func ftdiLine(ft *ftdi.FT232H, line string) gpio.PinIO {
	switch strings.ToUpper(line) {
	case "D0":
		return ft.D0
	case "D1":
		return ft.D1
	case "D2":
		return ft.D2
	case "D3":
		return ft.D3
	case "D4":
		return ft.D4
	case "D5":
		return ft.D5
	case "D6":
		return ft.D6
	case "D7":
		return ft.D7
	case "C0":
		return ft.C0
	case "C1":
		return ft.C1
	case "C2":
		return ft.C2
	case "C3":
		return ft.C3
	case "C4":
		return ft.C4
	case "C5":
		return ft.C5
	case "C6":
		return ft.C6
	case "C7":
		return ft.C7
	}
	return nil
}

// lookupPins resolves the multiplexer lines named in cfg.
func lookupPins(cfg config.PinsConfig, resolve resolver) (mux.Pins, error) {
	var pins mux.Pins
	if len(cfg.Select) != mux.SelectLines {
		return pins, fmt.Errorf("%w: %d select pins", pkg.ErrInvalidParameter, len(cfg.Select))
	}
	for i, name := range cfg.Select {
		p, err := resolve(name)
		if err != nil {
			return pins, fmt.Errorf("select[%d]: %w", i, err)
		}
		pins.Select[i] = p
	}

	var err error
	if pins.Data, err = resolve(cfg.Data); err != nil {
		return pins, fmt.Errorf("data: %w", err)
	}
	if pins.Power, err = resolve(cfg.Power); err != nil {
		return pins, fmt.Errorf("power: %w", err)
	}
	return pins, nil
}
