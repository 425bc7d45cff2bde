//go:build tinygo

package sx126x

import (
	"machine"
)

// tinygoPin wraps a machine.Pin to satisfy the Pin interface.
type tinygoPin struct {
	pin machine.Pin
}

func (p *tinygoPin) Out(l Level) error {
	p.pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	p.pin.Set(bool(l))
	return nil
}

func (p *tinygoPin) In(pull Pull) error {
	var mPull machine.PinMode
	switch pull {
	case PullUp:
		mPull = machine.PinInputPullup
	case PullDown:
		mPull = machine.PinInputPulldown
	default:
		mPull = machine.PinInput
	}
	p.pin.Configure(machine.PinConfig{Mode: mPull})
	return nil
}

func (p *tinygoPin) Read() Level {
	return Level(p.pin.Get())
}

func (p *tinygoPin) Watch(edge Edge, handler func()) error {
	var mEdge machine.PinChange
	switch edge {
	case RisingEdge:
		mEdge = machine.PinRising
	case FallingEdge:
		mEdge = machine.PinFalling
	case BothEdges:
		mEdge = machine.PinToggle
	default:
		return nil
	}

	return p.pin.SetInterrupt(mEdge, func(machine.Pin) {
		handler()
	})
}

func (p *tinygoPin) Unwatch() error {
	// Clearing the handler is not supported everywhere, fall back to
	// reconfiguring the pin as a plain input.
	p.pin.Configure(machine.PinConfig{Mode: machine.PinInput})
	return nil
}

// tinygoSPI wraps a machine.SPI to satisfy the SPI interface. The chip
// select is driven manually around each full-duplex transfer.
type tinygoSPI struct {
	spi *machine.SPI
	cs  machine.Pin
}

func (s *tinygoSPI) Tx(w, r []byte) error {
	s.cs.Low()
	err := s.spi.Tx(w, r)
	s.cs.High()
	return err
}

// NewTinyGo creates a new SX126x driver for TinyGo systems. Pass
// machine.NoPin for dio1Pin to fall back to polling.
func NewTinyGo(c RadioConfig, spi *machine.SPI, csPin, resetPin, busyPin, dio1Pin machine.Pin) (*Device, error) {
	// Configure CS pin as output and set high (inactive)
	csPin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	csPin.High()

	var dio1Wrapper Pin
	if dio1Pin != machine.NoPin {
		dio1Wrapper = &tinygoPin{pin: dio1Pin}
	}

	spiWrapper := &tinygoSPI{spi: spi, cs: csPin}

	hwConfig := HardwareConfig{
		RadioConfig: c,
		Reset:       &tinygoPin{pin: resetPin},
		Busy:        &tinygoPin{pin: busyPin},
		Dio1:        dio1Wrapper,
	}
	return NewWithHardware(hwConfig, spiWrapper)
}
