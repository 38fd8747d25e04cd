package main

import (
	"fmt"

	"periph.io/x/host/v3"

	"github.com/ardnew/uf2flasher/backend/libusb"
	"github.com/ardnew/uf2flasher/backend/sim"
	"github.com/ardnew/uf2flasher/config"
	"github.com/ardnew/uf2flasher/hal"
	"github.com/ardnew/uf2flasher/mux"
)

// backend is the USB host and the multiplexer lines it runs on.
type backend struct {
	host  hal.USBHost
	pins  mux.Pins
	close func()
}

func openBackend(cfg *config.Config) (*backend, error) {
	switch cfg.Backend {
	case config.BackendLibUSB:
		return openLibUSB(cfg)
	default:
		return openSim(cfg)
	}
}

// ---- sim ----

func simNames(p config.PinsConfig) sim.Names {
	var names sim.Names
	copy(names.Select[:], p.Select)
	names.Data = p.Data
	names.Power = p.Power
	return names
}

func simDevices(devs []config.SimDevice) ([]sim.Device, error) {
	out := make([]sim.Device, 0, len(devs))
	for i, d := range devs {
		kind, err := sim.ParseKind(d.Kind)
		if err != nil {
			return nil, fmt.Errorf("sim.devices[%d]: %w", i, err)
		}
		out = append(out, sim.Device{
			Port:        mux.Port(d.Port),
			Kind:        kind,
			Blocks:      d.Blocks,
			BlockSize:   d.BlockSize,
			Vendor:      d.Vendor,
			Product:     d.Product,
			FailInquiry: d.FailInquiry,
			FailWriteAt: d.FailWriteAt,
		})
	}
	return out, nil
}

func openSim(cfg *config.Config) (*backend, error) {
	devices, err := simDevices(cfg.Sim.Devices)
	if err != nil {
		return nil, err
	}

	names := simNames(cfg.Pins)
	lines, err := sim.RegisterPins(names)
	if err != nil {
		sim.UnregisterPins(names)
		return nil, err
	}
	release := func() { sim.UnregisterPins(names) }

	pins, err := lookupPins(cfg.Pins, registryPin)
	if err != nil {
		release()
		return nil, err
	}
	h, err := sim.New(lines, devices)
	if err != nil {
		release()
		return nil, err
	}
	return &backend{host: h, pins: pins, close: release}, nil
}

// ---- libusb ----

func openLibUSB(cfg *config.Config) (*backend, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host initialization failed: %w", err)
	}
	pins, err := lookupPins(cfg.Pins, hardwarePin())
	if err != nil {
		return nil, err
	}

	opts := []libusb.Option{
		libusb.WithFilter(libusb.Filter{Bus: cfg.USB.Bus, Path: cfg.USB.Path}),
		libusb.WithScanInterval(cfg.USB.Scan()),
		libusb.WithTransferTimeout(cfg.USB.TransferTimeout()),
	}
	if cfg.USB.IDs != "" {
		opts = append(opts, libusb.WithIDPaths([]string{cfg.USB.IDs}))
	}
	h, err := libusb.Open(opts...)
	if err != nil {
		return nil, err
	}
	return &backend{
		host: h,
		pins: pins,
		close: func() {
			if err := h.Close(); err != nil {
				logClose(err)
			}
		},
	}, nil
}
