package sx126x

import (
	"errors"
	"fmt"
	"time"
)

// maxFrameLen covers the largest possible transaction: ReadBuffer of a
// full 255 byte payload plus opcode, offset and status pad.
const maxFrameLen = 260

// resetHold is how long NRESET stays low, at least 100 us per the
// datasheet.
const resetHold = 200 * time.Microsecond

// dispatch runs cmd through the transition table and executes the
// resulting sequence, advancing the recorded mode after each command
// that completed on the bus. The caller must hold d.mu.
func (d *Device) dispatch(cmd command) ([]byte, error) {
	seq, err := d.plan(cmd)
	if err != nil {
		return nil, err
	}
	var data []byte
	for _, c := range seq {
		data, err = d.execute(c)
		if err != nil {
			if isCalibration(c) && errors.Is(err, ErrBusyTimeout) {
				// The command was clocked in, the chip is grinding
				// through the calibration and will release the busy
				// line into STDBY_RC on its own.
				d.mode = ModeCalibrating
			}
			return nil, err
		}
		if target, ok := commandTarget(c); ok {
			d.mode = target
		}
	}
	return data, nil
}

// execute runs one command transaction: wake-up pulse if the chip is
// sleeping, the full-duplex transfer, then the wait for the busy line
// to release. The caller must hold d.mu. The returned slice points
// into d.scratch and is only valid until the next transaction.
func (d *Device) execute(cmd command) ([]byte, error) {
	if d.asleep {
		if err := d.wakeUp(); err != nil {
			return nil, err
		}
	}

	frame, cmdLen := encodeFrame(d.scratch[:0], cmd)
	if err := d.conn.Tx(frame, frame); err != nil {
		globalLogger.Error("SPI transfer failed: " + cmd.opcode().String())
		return nil, fmt.Errorf("%w: %w: %s: %v", ErrPkg, ErrTransport, cmd.opcode(), err)
	}

	// The chip clocks its status out on every transferred byte. For
	// read commands the first pad slot after the parameters holds the
	// authoritative copy, followed by the response data.
	var status Status
	var data []byte
	if cmd.responseLen() > 0 {
		status = Status(frame[cmdLen])
		data = frame[cmdLen+1:]
	} else {
		status = Status(frame[len(frame)-1])
	}
	d.cache.setStatus(status)

	if cmd.opcode() == OpSetSleep {
		// The interface is dead from here on, the busy line stays high
		// until the wake-up pulse.
		d.asleep = true
		return nil, nil
	}

	if err := d.waitNotBusy(); err != nil {
		return nil, err
	}

	if status.Failed() {
		return nil, fmt.Errorf("%w: %w", ErrPkg, &ChipError{Command: cmd.opcode(), Status: status})
	}
	return data, nil
}

// wakeUp pulses the chip select with a GetStatus frame to bring the
// chip out of sleep, then waits for it to settle in STDBY_RC. The
// response bytes are undefined during wake-up and are discarded.
func (d *Device) wakeUp() error {
	w := [2]byte{byte(OpGetStatus), 0x00}
	var r [2]byte
	if err := d.conn.Tx(w[:], r[:]); err != nil {
		return fmt.Errorf("%w: %w: wake-up pulse: %v", ErrPkg, ErrTransport, err)
	}
	d.asleep = false
	return d.waitNotBusy()
}

// waitNotBusy polls the busy line until the chip releases it or the
// configured bound elapses. No command may be clocked in while the
// line is high.
func (d *Device) waitNotBusy() error {
	deadline := time.Now().Add(d.config.BusyTimeout)
	for d.config.Busy.Read() == High {
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %w after %s", ErrPkg, ErrBusyTimeout, d.config.BusyTimeout)
		}
		time.Sleep(d.config.PollInterval)
	}
	return nil
}

// reset pulls NRESET low and waits for the chip to boot back into
// STDBY_RC with default settings. The caller must hold d.mu.
func (d *Device) reset() error {
	d.config.Reset.Out(Low)
	time.Sleep(resetHold)
	d.config.Reset.Out(High)
	if err := d.waitNotBusy(); err != nil {
		return err
	}
	d.asleep = false
	d.mode = ModeStandbyRC
	d.cache.clear(IrqAll)
	return nil
}
