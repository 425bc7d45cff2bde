package sx126x

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

var (
	ErrPkg                    = errors.New("sx126x")
	ErrTransport              = errors.New("SPI transfer failed")
	ErrBusyTimeout            = errors.New("busy line stuck high")
	ErrInvalidStateTransition = errors.New("command not allowed in this mode")
	ErrInvalidParameter       = errors.New("invalid parameter")
	ErrMalformedResponse      = errors.New("malformed response")
	ErrChip                   = errors.New("chip reported command failure")
	ErrTimeout                = errors.New("timeout waiting for radio")
	ErrCRC                    = errors.New("payload failed CRC check")
)

// maxPayloadBytes is the largest LoRa payload the chip's 256-byte data
// buffer can carry in a single packet.
const maxPayloadBytes = 255

type HardwareConfig struct {
	RadioConfig
	// Reset is the NRESET pin interface.
	Reset Pin
	// Busy is the BUSY pin interface. The chip holds it high while it
	// cannot accept commands.
	Busy Pin
	// Dio1 is the DIO1 interrupt pin interface.
	// Optional. If not provided, polling is used.
	Dio1 Pin
	// Ant is the antenna switch supply pin.
	// Optional. Driven high while the radio is configured.
	Ant Pin
	// Policy selects how commands issued from an operating mode the
	// chip does not accept them in are handled.
	// Defaults to PolicyStrict.
	Policy TransitionPolicy
	// BusyTimeout bounds every wait on the busy line.
	// Defaults to 1 second if not provided.
	BusyTimeout time.Duration
	// PollInterval is the busy line sampling period.
	// Defaults to 100 microseconds if not provided.
	PollInterval time.Duration
}

type Device struct {
	config  HardwareConfig
	conn    SPI
	cache   *irqCache
	port    io.Closer
	mu      sync.Mutex
	mode    OperatingMode
	asleep  bool
	scratch [maxFrameLen]byte // Opcode + params + status pad + max response
}

// NewWithHardware creates and initializes a new SX126x driver with the
// provided hardware interfaces. The chip is reset and the full radio
// configuration is committed, leaving it in STDBY_RC.
func NewWithHardware(c HardwareConfig, conn SPI) (*Device, error) {
	if c.BusyTimeout == 0 {
		c.BusyTimeout = time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = 100 * time.Microsecond
	}
	if c.Reset == nil {
		return nil, fmt.Errorf("Reset pin not configured")
	}
	if c.Busy == nil {
		return nil, fmt.Errorf("Busy pin not configured")
	}

	d := &Device{
		config: c,
		conn:   conn,
		cache:  newIrqCache(),
	}

	globalLogger.Info("Initializing SX126x SPI communication...")

	if err := d.config.Busy.In(PullNoChange); err != nil {
		return nil, fmt.Errorf("failed to configure BUSY pin: %w", err)
	}

	// Setup DIO1 if provided
	if d.config.Dio1 != nil {
		if err := d.config.Dio1.In(PullDown); err != nil {
			return nil, fmt.Errorf("failed to configure DIO1 pin: %w", err)
		}
		// Watch starts a goroutine that calls the handler on edge. The
		// handler only pokes the wake channel, the waiter reads the
		// IRQ register itself.
		err := d.config.Dio1.Watch(RisingEdge, func() {
			d.cache.notify()
		})
		if err != nil {
			return nil, fmt.Errorf("failed to watch DIO1 pin: %w", err)
		}
	}

	if err := d.Configure(c.RadioConfig); err != nil {
		if d.config.Dio1 != nil {
			d.config.Dio1.Unwatch()
		}
		return nil, err
	}

	globalLogger.Info("SX126x initialized and calibrated. Ready to operate.")
	return d, nil
}

func (d *Device) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return fmt.Sprintf("SX126x(Frequency=%dHz, SF=%s, BW=%s, CR=%s, Power=%ddBm, Mode=%s)",
		d.config.Frequency,
		d.config.Modulation.SpreadingFactor,
		d.config.Modulation.Bandwidth,
		d.config.Modulation.CodingRate,
		d.config.Tx.Power,
		d.mode,
	)
}

// Close puts the radio into cold sleep and releases the SPI and GPIO
// resources. A closed device needs NewWithHardware again.
// This method is concurrent safe.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Park the chip in its lowest power state. Cold start discards the
	// configuration, which a reopened device rewrites anyway.
	if _, err := d.dispatch(setStandby{StandbyRC}); err == nil {
		_, err = d.dispatch(setSleep{SleepColdStart})
		if err != nil {
			globalLogger.Warn("Failed to put radio to sleep")
		}
	}
	globalLogger.Info("SX126x powered down.")

	if d.config.Ant != nil {
		d.config.Ant.Out(Low)
	}

	if d.port != nil {
		if err := d.port.Close(); err != nil {
			globalLogger.Warn("Failed to close SPI port")
		}
		globalLogger.Info("SPI bus closed.")
	}

	if d.config.Dio1 != nil {
		d.config.Dio1.Unwatch()
	}
	globalLogger.Info("GPIO interface closed.")

	return nil
}

// Configure resets the chip and commits the full radio configuration:
// packet engine, oscillator and PA trim, calibration, RF frequency,
// modulation and framing, IRQ routing and the sync word. The device is
// left in STDBY_RC.
// This method is concurrent safe.
func (d *Device) Configure(c RadioConfig) error {
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.configure(c)
}

func (d *Device) configure(c RadioConfig) error {
	if err := d.reset(); err != nil {
		return err
	}
	if _, err := d.dispatch(setStandby{StandbyRC}); err != nil {
		return err
	}
	if _, err := d.dispatch(setPacketType{c.PacketType}); err != nil {
		return err
	}

	if c.TCXO != nil {
		if _, err := d.dispatch(setDio3AsTcxoCtrl{c.TCXO.Voltage, ticks(c.TCXO.Delay)}); err != nil {
			return err
		}
		// Booting without a crystal latches XOSC_START_ERR, clear it
		// before calibrating against the TCXO.
		if _, err := d.dispatch(clearDeviceErrors{}); err != nil {
			return err
		}
	}

	if _, err := d.dispatch(calibrate{c.Calib}); err != nil {
		return err
	}
	if _, err := d.dispatch(calibrateImage{CalibImageFreqForHz(c.Frequency)}); err != nil {
		return err
	}
	if errs, err := d.deviceErrorsLocked(); err != nil {
		return err
	} else if errs != 0 {
		globalLogger.Warn("Calibration left device errors: " + errs.String())
		if _, err := d.dispatch(clearDeviceErrors{}); err != nil {
			return err
		}
	}

	if _, err := d.dispatch(setRegulatorMode{c.Regulator}); err != nil {
		return err
	}
	if _, err := d.dispatch(setPaConfig{c.PA}); err != nil {
		return err
	}
	if c.PA.Device == DeviceSX1262 {
		// Raise the PA clamping threshold, otherwise the SX1262 stays
		// about 5 dB short of its rated output.
		if err := d.updateRegisterLocked(RegTxClampConfig, func(v byte) byte { return v | 0x1E }); err != nil {
			return err
		}
	}
	if _, err := d.dispatch(setTxParams{c.Tx}); err != nil {
		return err
	}
	if _, err := d.dispatch(setRxTxFallbackMode{c.Fallback}); err != nil {
		return err
	}

	if _, err := d.dispatch(setRfFrequency{c.rfFreqWord()}); err != nil {
		return err
	}
	if _, err := d.dispatch(setBufferBaseAddress{0x00, 0x00}); err != nil {
		return err
	}
	if _, err := d.dispatch(setModulationParams{c.Modulation}); err != nil {
		return err
	}
	if err := d.updateTxModulationLocked(c.Modulation.Bandwidth); err != nil {
		return err
	}
	if _, err := d.dispatch(setPacketParams{c.Packet}); err != nil {
		return err
	}
	if _, err := d.dispatch(setCadParams{c.CAD}); err != nil {
		return err
	}

	if _, err := d.dispatch(setDio2AsRfSwitchCtrl{c.DIO2AsRfSwitch}); err != nil {
		return err
	}
	if _, err := d.dispatch(setDioIrqParams{c.Irq, c.Dio1Mask, c.Dio2Mask, c.Dio3Mask}); err != nil {
		return err
	}
	if err := d.clearIrqLocked(IrqAll); err != nil {
		return err
	}

	if _, err := d.dispatch(writeRegister{RegLoRaSyncWordMSB, []byte{byte(c.SyncWord >> 8), byte(c.SyncWord)}}); err != nil {
		return err
	}

	// Read the sync word back to ensure SPI writes actually land.
	data, err := d.readRegisterLocked(RegLoRaSyncWordMSB, 2)
	if err != nil {
		return err
	}
	if got := uint16(data[0])<<8 | uint16(data[1]); got != c.SyncWord {
		return fmt.Errorf("failed to verify SX126x connection: check wiring/power")
	}

	if c.TCXO != nil {
		t := *c.TCXO
		c.TCXO = &t
	}
	d.config.RadioConfig = c

	if d.config.Ant != nil {
		d.config.Ant.Out(High)
	}
	return nil
}

// Mode returns the driver's record of the chip operating mode.
// This method is concurrent safe.
func (d *Device) Mode() OperatingMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// LastStatus returns the status byte echoed by the most recent SPI
// transfer without touching the bus.
// This method is concurrent safe.
func (d *Device) LastStatus() Status {
	return d.cache.lastStatus()
}

// IrqSnapshot returns the accumulated interrupt flags without touching
// the bus. Flags stay set until ClearIrqStatus.
// This method is concurrent safe.
func (d *Device) IrqSnapshot() IrqStatus {
	return d.cache.snapshot()
}

// Config returns a copy of the active radio configuration.
// This method is concurrent safe.
func (d *Device) Config() RadioConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.config.RadioConfig
	if c.TCXO != nil {
		t := *c.TCXO
		c.TCXO = &t
	}
	return c
}

// --- Operating mode commands ---

// SetSleep puts the chip to sleep. Only SetStandby is accepted
// afterwards; the driver pulses the chip select to wake it up first.
// This method is concurrent safe.
func (d *Device) SetSleep(cfg SleepConfig) error {
	if cfg&^(SleepWarmStart|SleepRtcWakeup) != 0 {
		return fmt.Errorf("%w: %w: sleep config 0x%02X", ErrPkg, ErrInvalidParameter, byte(cfg))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.dispatch(setSleep{cfg})
	return err
}

// SetStandby moves the chip into STDBY_RC or STDBY_XOSC. This is the
// only command accepted while sleeping.
// This method is concurrent safe.
func (d *Device) SetStandby(cfg StandbyConfig) error {
	if cfg > StandbyXOSC {
		return fmt.Errorf("%w: %w: standby config 0x%02X", ErrPkg, ErrInvalidParameter, byte(cfg))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.dispatch(setStandby{cfg})
	return err
}

// SetFs locks the frequency synthesizer on the RF frequency, mostly
// useful for test setups and fast TX/RX turnaround.
// This method is concurrent safe.
func (d *Device) SetFs() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.dispatch(setFs{})
	return err
}

// SetTx starts transmitting the data buffer contents. timeout bounds
// the transmission chip-side, TimeoutNone disables the timer. Under
// PolicyStrict the chip must be in STDBY_XOSC or FS.
// This method is concurrent safe.
func (d *Device) SetTx(timeout RxTxTimeout) error {
	if timeout > TimeoutContinuous {
		return fmt.Errorf("%w: %w: tx timeout 0x%X above 24 bits", ErrPkg, ErrInvalidParameter, uint32(timeout))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.dispatch(setTx{timeout})
	return err
}

// SetRx opens the receiver. TimeoutNone stops after the first packet
// with no time bound, TimeoutContinuous receives packets indefinitely.
// Under PolicyStrict the chip must be in STDBY_XOSC or FS.
// This method is concurrent safe.
func (d *Device) SetRx(timeout RxTxTimeout) error {
	if timeout > TimeoutContinuous {
		return fmt.Errorf("%w: %w: rx timeout 0x%X above 24 bits", ErrPkg, ErrInvalidParameter, uint32(timeout))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.dispatch(setRx{timeout})
	return err
}

// StopTimerOnPreamble makes the RX timeout timer stop on preamble
// detection instead of header/sync word detection.
// This method is concurrent safe.
func (d *Device) StopTimerOnPreamble(enable bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.dispatch(stopTimerOnPreamble{enable})
	return err
}

// SetRxDutyCycle loops the chip between rxPeriod of listening and
// sleepPeriod of sleep until a packet preamble is detected.
// This method is concurrent safe.
func (d *Device) SetRxDutyCycle(rxPeriod, sleepPeriod RxTxTimeout) error {
	if rxPeriod > TimeoutContinuous || sleepPeriod > TimeoutContinuous {
		return fmt.Errorf("%w: %w: duty cycle period above 24 bits", ErrPkg, ErrInvalidParameter)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.dispatch(setRxDutyCycle{rxPeriod, sleepPeriod})
	return err
}

// SetCad starts a single channel activity detection with the committed
// CAD parameters. Completion is signalled by the CadDone interrupt.
// This method is concurrent safe.
func (d *Device) SetCad() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.dispatch(setCad{})
	return err
}

// SetTxContinuousWave emits an unmodulated carrier for RF tests.
// This method is concurrent safe.
func (d *Device) SetTxContinuousWave() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.dispatch(setTxContinuousWave{})
	return err
}

// SetTxInfinitePreamble transmits preamble symbols until SetStandby,
// for RF tests.
// This method is concurrent safe.
func (d *Device) SetTxInfinitePreamble() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.dispatch(setTxInfinitePreamble{})
	return err
}

// --- Configuration commands ---

// SetRegulatorMode selects LDO only or DC-DC plus LDO operation.
// This method is concurrent safe.
func (d *Device) SetRegulatorMode(mode RegulatorMode) error {
	if mode > RegulatorDCDC {
		return fmt.Errorf("%w: %w: regulator mode 0x%02X", ErrPkg, ErrInvalidParameter, byte(mode))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.dispatch(setRegulatorMode{mode}); err != nil {
		return err
	}
	d.config.Regulator = mode
	return nil
}

// Calibrate runs the selected calibration blocks. The chip must be in
// STDBY_RC; it holds the busy line for up to 3.5 ms with CalibAll. If
// the run outlasts BusyTimeout the driver records ModeCalibrating and
// the chip returns to STDBY_RC by itself.
// This method is concurrent safe.
func (d *Device) Calibrate(param CalibParam) error {
	if param&^CalibAll != 0 {
		return fmt.Errorf("%w: %w: calibration bits 0x%02X", ErrPkg, ErrInvalidParameter, byte(param))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.dispatch(calibrate{param})
	return err
}

// CalibrateImage recalibrates the image rejection for the given band.
// Use CalibImageFreqForHz to pick the band for a carrier frequency.
// This method is concurrent safe.
func (d *Device) CalibrateImage(freq CalibImageFreq) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.dispatch(calibrateImage{freq})
	return err
}

// SetPaConfig commits the power amplifier configuration. Use
// PaConfigSX1262 or PaConfigSX1261 unless you know the trim tables.
// This method is concurrent safe.
func (d *Device) SetPaConfig(cfg PaConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.dispatch(setPaConfig{cfg}); err != nil {
		return err
	}
	if cfg.Device == DeviceSX1262 {
		if err := d.updateRegisterLocked(RegTxClampConfig, func(v byte) byte { return v | 0x1E }); err != nil {
			return err
		}
	}
	d.config.PA = cfg
	return nil
}

// SetRxTxFallbackMode selects the mode the chip enters by itself after
// a transmission or reception ends.
// This method is concurrent safe.
func (d *Device) SetRxTxFallbackMode(mode FallbackMode) error {
	switch mode {
	case FallbackFS, FallbackStandbyXOSC, FallbackStandbyRC:
	default:
		return fmt.Errorf("%w: %w: fallback mode 0x%02X", ErrPkg, ErrInvalidParameter, byte(mode))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.dispatch(setRxTxFallbackMode{mode}); err != nil {
		return err
	}
	d.config.Fallback = mode
	return nil
}

// SetTxParams sets output power and PA ramp time. The power range is
// checked against the committed PA configuration.
// This method is concurrent safe.
func (d *Device) SetTxParams(p TxParams) error {
	if p.RampTime > Ramp3400us {
		return fmt.Errorf("%w: %w: ramp time code 0x%02X", ErrPkg, ErrInvalidParameter, byte(p.RampTime))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.config.PA.validatePower(p.Power); err != nil {
		return err
	}
	if _, err := d.dispatch(setTxParams{p}); err != nil {
		return err
	}
	d.config.Tx = p
	return nil
}

// SetRfFrequency retunes the carrier. The image calibration committed
// by Configure stays tied to the old band, run CalibrateImage after
// larger jumps.
// This method is concurrent safe.
func (d *Device) SetRfFrequency(hz uint32) error {
	if hz < 150000000 || hz > 960000000 {
		return fmt.Errorf("%w: %w: frequency %d Hz outside 150..960 MHz", ErrPkg, ErrInvalidParameter, hz)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	word := uint32((uint64(hz) << 25) / uint64(d.config.XtalFrequency))
	if _, err := d.dispatch(setRfFrequency{word}); err != nil {
		return err
	}
	d.config.Frequency = hz
	return nil
}

// SetPacketType selects the packet engine. Only PacketTypeLoRa is
// supported, the FSK engine is rejected.
// This method is concurrent safe.
func (d *Device) SetPacketType(t PacketType) error {
	if t != PacketTypeLoRa {
		return fmt.Errorf("%w: %w: packet type %s, only LoRa is supported", ErrPkg, ErrInvalidParameter, t)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.dispatch(setPacketType{t}); err != nil {
		return err
	}
	d.config.PacketType = t
	return nil
}

// GetPacketType reads back the active packet engine.
// This method is concurrent safe.
func (d *Device) GetPacketType() (PacketType, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, err := d.dispatch(getPacketType{})
	if err != nil {
		return 0, err
	}
	if len(data) != 1 {
		return 0, fmt.Errorf("%w: %w: packet type response is %d bytes, want 1", ErrPkg, ErrMalformedResponse, len(data))
	}
	return PacketType(data[0]), nil
}

// SetModulationParams commits spreading factor, bandwidth, coding rate
// and the low data rate optimization.
// This method is concurrent safe.
func (d *Device) SetModulationParams(p ModulationParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.dispatch(setModulationParams{p}); err != nil {
		return err
	}
	if err := d.updateTxModulationLocked(p.Bandwidth); err != nil {
		return err
	}
	d.config.Modulation = p
	return nil
}

// SetPacketParams commits the LoRa framing: preamble length, header
// type, payload length, CRC and IQ polarity.
// This method is concurrent safe.
func (d *Device) SetPacketParams(p PacketParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.dispatch(setPacketParams{p}); err != nil {
		return err
	}
	d.config.Packet = p
	return nil
}

// SetCadParams commits the channel activity detection parameters used
// by SetCad and Cad.
// This method is concurrent safe.
func (d *Device) SetCadParams(p CadParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.dispatch(setCadParams{p}); err != nil {
		return err
	}
	d.config.CAD = p
	return nil
}

// SetBufferBaseAddress sets where in the 256-byte data buffer TX reads
// and RX writes. Transmit and Receive reset both to 0.
// This method is concurrent safe.
func (d *Device) SetBufferBaseAddress(txBase, rxBase byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.dispatch(setBufferBaseAddress{txBase, rxBase})
	return err
}

// SetDioIrqParams commits the global interrupt enable mask and the
// per-pin routing masks.
// This method is concurrent safe.
func (d *Device) SetDioIrqParams(irq, dio1, dio2, dio3 IrqMask) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.dispatch(setDioIrqParams{irq, dio1, dio2, dio3}); err != nil {
		return err
	}
	d.config.Irq = irq
	d.config.Dio1Mask = dio1
	d.config.Dio2Mask = dio2
	d.config.Dio3Mask = dio3
	return nil
}

// SetDio2AsRfSwitchCtrl hands the DIO2 pin to the chip as TX/RX antenna
// switch control. Any interrupt routing on DIO2 is ignored while set.
// This method is concurrent safe.
func (d *Device) SetDio2AsRfSwitchCtrl(enable bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.dispatch(setDio2AsRfSwitchCtrl{enable}); err != nil {
		return err
	}
	d.config.DIO2AsRfSwitch = enable
	return nil
}

// SetDio3AsTcxoCtrl makes DIO3 supply a TCXO at the given voltage. The
// chip waits the configured delay for the oscillator to stabilize each
// time it starts the XOSC.
// This method is concurrent safe.
func (d *Device) SetDio3AsTcxoCtrl(cfg TcxoConfig) error {
	if cfg.Voltage > Tcxo3V3 {
		return fmt.Errorf("%w: %w: tcxo voltage code 0x%02X", ErrPkg, ErrInvalidParameter, byte(cfg.Voltage))
	}
	if ticks(cfg.Delay) > 0xFFFFFF {
		return fmt.Errorf("%w: %w: tcxo delay %s above 24 bit tick range", ErrPkg, ErrInvalidParameter, cfg.Delay)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.dispatch(setDio3AsTcxoCtrl{cfg.Voltage, ticks(cfg.Delay)}); err != nil {
		return err
	}
	t := cfg
	d.config.TCXO = &t
	return nil
}

// SetSyncWord selects the LoRa network, LoRaSyncWordPublic or
// LoRaSyncWordPrivate.
// This method is concurrent safe.
func (d *Device) SetSyncWord(sync uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.dispatch(writeRegister{RegLoRaSyncWordMSB, []byte{byte(sync >> 8), byte(sync)}}); err != nil {
		return err
	}
	d.config.SyncWord = sync
	return nil
}

// SetCurrentLimit sets the PA over current protection in milliamps,
// 0 to 140 in steps of 2.5. The chip resets it on every SetPaConfig.
// This method is concurrent safe.
func (d *Device) SetCurrentLimit(milliamps byte) error {
	if milliamps > 140 {
		return fmt.Errorf("%w: %w: current limit %d mA, maximum is 140", ErrPkg, ErrInvalidParameter, milliamps)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	raw := uint16(milliamps) * 2 / 5
	_, err := d.dispatch(writeRegister{RegOcpConfiguration, []byte{byte(raw)}})
	return err
}

// SetRxGain trades RX sensitivity against supply current. Boosted gain
// buys about 2 dB for roughly 2 mA.
// This method is concurrent safe.
func (d *Device) SetRxGain(boosted bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	gain := RxGainPowerSaving
	if boosted {
		gain = RxGainBoosted
	}
	_, err := d.dispatch(writeRegister{RegRxGain, []byte{gain}})
	return err
}

// SetAntEnabled drives the external antenna switch supply pin.
// This method is concurrent safe.
func (d *Device) SetAntEnabled(on bool) error {
	if d.config.Ant == nil {
		return fmt.Errorf("Ant pin not configured")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if on {
		return d.config.Ant.Out(High)
	}
	return d.config.Ant.Out(Low)
}

// --- Register and buffer access ---

// WriteRegister writes data to consecutive registers starting at addr.
// This method is concurrent safe.
func (d *Device) WriteRegister(addr Register, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: %w: empty register write", ErrPkg, ErrInvalidParameter)
	}
	if len(data) > maxPayloadBytes {
		return fmt.Errorf("%w: %w: register write of %d bytes, limit is %d", ErrPkg, ErrInvalidParameter, len(data), maxPayloadBytes)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.dispatch(writeRegister{addr, data})
	return err
}

// ReadRegister reads n consecutive registers starting at addr.
// This method is concurrent safe.
func (d *Device) ReadRegister(addr Register, n int) ([]byte, error) {
	if n <= 0 || n > maxPayloadBytes {
		return nil, fmt.Errorf("%w: %w: register read of %d bytes", ErrPkg, ErrInvalidParameter, n)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readRegisterLocked(addr, n)
}

// WriteBuffer writes data into the 256-byte data buffer at offset.
// This method is concurrent safe.
func (d *Device) WriteBuffer(offset byte, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: %w: empty buffer write", ErrPkg, ErrInvalidParameter)
	}
	if int(offset)+len(data) > 256 {
		return fmt.Errorf("%w: %w: buffer write of %d bytes at offset %d overruns the 256 byte buffer", ErrPkg, ErrInvalidParameter, len(data), offset)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.dispatch(writeBuffer{offset, data})
	return err
}

// ReadBuffer reads n bytes from the 256-byte data buffer at offset.
// This method is concurrent safe.
func (d *Device) ReadBuffer(offset byte, n int) ([]byte, error) {
	if n <= 0 || int(offset)+n > 256 {
		return nil, fmt.Errorf("%w: %w: buffer read of %d bytes at offset %d", ErrPkg, ErrInvalidParameter, n, offset)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	data, err := d.dispatch(readBuffer{offset, n})
	if err != nil {
		return nil, err
	}
	if len(data) != n {
		return nil, fmt.Errorf("%w: %w: buffer read returned %d bytes, want %d", ErrPkg, ErrMalformedResponse, len(data), n)
	}
	return append([]byte(nil), data...), nil
}

// --- Status commands ---

// GetStatus reads the chip status byte: operating mode and the result
// of the last command.
// This method is concurrent safe.
func (d *Device) GetStatus() (Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.dispatch(getStatus{}); err != nil {
		return 0, err
	}
	return d.cache.lastStatus(), nil
}

// GetRssiInst returns the instantaneous RSSI in dBm. Only meaningful
// while the receiver is open.
// This method is concurrent safe.
func (d *Device) GetRssiInst() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, err := d.dispatch(getRssiInst{})
	if err != nil {
		return 0, err
	}
	if len(data) != 1 {
		return 0, fmt.Errorf("%w: %w: rssi response is %d bytes, want 1", ErrPkg, ErrMalformedResponse, len(data))
	}
	return -int(data[0]) / 2, nil
}

// GetRxBufferStatus locates the last received payload in the data
// buffer.
// This method is concurrent safe.
func (d *Device) GetRxBufferStatus() (RxBufferStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, err := d.dispatch(getRxBufferStatus{})
	if err != nil {
		return RxBufferStatus{}, err
	}
	return decodeRxBufferStatus(data)
}

// GetPacketStatus returns the signal quality of the last received
// packet.
// This method is concurrent safe.
func (d *Device) GetPacketStatus() (PacketStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, err := d.dispatch(getPacketStatus{})
	if err != nil {
		return PacketStatus{}, err
	}
	return decodePacketStatus(data)
}

// GetDeviceErrors returns the latched startup and calibration errors.
// This method is concurrent safe.
func (d *Device) GetDeviceErrors() (DeviceErrors, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deviceErrorsLocked()
}

// ClearDeviceErrors clears all latched device errors.
// This method is concurrent safe.
func (d *Device) ClearDeviceErrors() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.dispatch(clearDeviceErrors{})
	return err
}

// GetStats returns the LoRa reception counters.
// This method is concurrent safe.
func (d *Device) GetStats() (Stats, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, err := d.dispatch(getStats{})
	if err != nil {
		return Stats{}, err
	}
	return decodeStats(data)
}

// ResetStats zeroes the LoRa reception counters.
// This method is concurrent safe.
func (d *Device) ResetStats() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.dispatch(resetStats{})
	return err
}

// --- Interrupt handling ---

// GetIrqStatus reads the chip's IRQ register and folds the flags into
// the driver's snapshot. The chip-side flags stay set until
// ClearIrqStatus.
// This method is concurrent safe.
func (d *Device) GetIrqStatus() (IrqStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.getIrqStatusLocked()
}

// ClearIrqStatus clears the masked flags on the chip and, once the bus
// write went through, in the driver's snapshot. A failed transfer
// leaves the snapshot untouched.
// This method is concurrent safe.
func (d *Device) ClearIrqStatus(mask IrqMask) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clearIrqLocked(mask)
}

// WaitForIrq blocks until one of the wanted interrupt flags is set, the
// context is cancelled, or a bus error occurs. The accumulated snapshot
// is returned and left uncleared so the caller decides what to consume.
// The DIO1 pin drives the wait when configured, otherwise the chip is
// polled. Only flags routed to DIO1 can end the wait early.
// This method is concurrent safe.
func (d *Device) WaitForIrq(ctx context.Context, want IrqMask) (IrqStatus, error) {
	for {
		if _, err := d.GetIrqStatus(); err != nil {
			return 0, err
		}
		if acc := d.cache.snapshot(); acc&want != 0 {
			return acc, nil
		}

		if d.config.Dio1 != nil {
			select {
			case <-d.cache.wake:
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		} else {
			// Polling fallback
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			default:
			}
			time.Sleep(time.Millisecond)
		}
	}
}

// --- High level TX/RX ---

// Transmit sends one LoRa packet and blocks until the chip reports
// TxDone. The context bounds the wait; when it carries a deadline the
// chip-side TX timer is armed with the remaining time as well.
// This method is concurrent safe.
func (d *Device) Transmit(ctx context.Context, payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: %w: empty payload", ErrPkg, ErrInvalidParameter)
	}
	if len(payload) > maxPayloadBytes {
		return fmt.Errorf("%w: %w: payload too large (%d bytes), limit is %d", ErrPkg, ErrInvalidParameter, len(payload), maxPayloadBytes)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	pp := d.config.Packet
	if pp.HeaderType == HeaderImplicit {
		if int(pp.PayloadLength) != len(payload) {
			return fmt.Errorf("%w: %w: implicit header expects %d byte payloads, got %d", ErrPkg, ErrInvalidParameter, pp.PayloadLength, len(payload))
		}
	} else {
		pp.PayloadLength = byte(len(payload))
	}

	if err := d.enterXoscLocked(); err != nil {
		return err
	}
	if _, err := d.dispatch(setPacketParams{pp}); err != nil {
		return err
	}
	d.config.Packet = pp
	if _, err := d.dispatch(setBufferBaseAddress{0x00, 0x00}); err != nil {
		return err
	}
	if _, err := d.dispatch(writeBuffer{0x00, payload}); err != nil {
		return err
	}
	if err := d.clearIrqLocked(IrqAll); err != nil {
		return err
	}

	timeout := TimeoutNone
	if deadline, ok := ctx.Deadline(); ok {
		timeout = TimeoutFrom(time.Until(deadline))
	}
	if _, err := d.dispatch(setTx{timeout}); err != nil {
		return err
	}

	irq, err := d.waitIrqLocked(ctx, IrqTxDone|IrqTimeout)
	if err != nil {
		return err
	}
	if clearErr := d.clearIrqLocked(IrqTxDone | IrqTimeout); clearErr != nil {
		return clearErr
	}
	// Whether it finished or timed out, the chip has fallen back on
	// its own.
	d.mode = d.config.Fallback.operatingMode()
	if !irq.Has(IrqTxDone) {
		return fmt.Errorf("%w: %w", ErrPkg, ErrTimeout)
	}
	return nil
}

// Receive waits for one LoRa packet and returns a copy of its payload.
// timeout is the chip-side RX timer: TimeoutNone stops after the first
// packet with no time bound, TimeoutContinuous keeps the receiver open
// across packets. The context bounds the overall wait either way.
// This method is concurrent safe.
func (d *Device) Receive(ctx context.Context, timeout RxTxTimeout) ([]byte, error) {
	if timeout > TimeoutContinuous {
		return nil, fmt.Errorf("%w: %w: rx timeout 0x%X above 24 bits", ErrPkg, ErrInvalidParameter, uint32(timeout))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enterXoscLocked(); err != nil {
		return nil, err
	}
	if err := d.clearIrqLocked(IrqAll); err != nil {
		return nil, err
	}
	if _, err := d.dispatch(setRx{timeout}); err != nil {
		return nil, err
	}

	irq, err := d.waitIrqLocked(ctx, IrqRxDone|IrqTimeout|IrqCrcError|IrqHeaderError)
	if err != nil {
		return nil, err
	}
	if timeout != TimeoutContinuous {
		// Single mode: the chip has already fallen back by itself.
		d.mode = d.config.Fallback.operatingMode()
	}

	if irq.Has(IrqTimeout) && !irq.Has(IrqRxDone) {
		if err := d.clearIrqLocked(IrqAll); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrPkg, ErrTimeout)
	}
	if irq&(IrqCrcError|IrqHeaderError) != 0 {
		if err := d.clearIrqLocked(IrqAll); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrPkg, ErrCRC)
	}

	data, err := d.dispatch(getRxBufferStatus{})
	if err != nil {
		return nil, err
	}
	rx, err := decodeRxBufferStatus(data)
	if err != nil {
		return nil, err
	}

	var payload []byte
	if rx.PayloadLength > 0 {
		data, err = d.dispatch(readBuffer{rx.StartOffset, int(rx.PayloadLength)})
		if err != nil {
			return nil, err
		}
		payload = append([]byte(nil), data...)
	}
	if err := d.clearIrqLocked(IrqAll); err != nil {
		return nil, err
	}
	return payload, nil
}

// Cad runs one channel activity detection and reports whether LoRa
// activity was seen. With the CadRx exit mode and a detection the chip
// stays in RX to pick up the incoming packet, otherwise it lands in
// STDBY_RC.
// This method is concurrent safe.
func (d *Device) Cad(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enterXoscLocked(); err != nil {
		return false, err
	}
	if err := d.clearIrqLocked(IrqAll); err != nil {
		return false, err
	}
	if _, err := d.dispatch(setCad{}); err != nil {
		return false, err
	}

	irq, err := d.waitIrqLocked(ctx, IrqCadDone)
	if err != nil {
		return false, err
	}
	detected := irq.Has(IrqCadDetected)
	if err := d.clearIrqLocked(IrqCadDone | IrqCadDetected); err != nil {
		return detected, err
	}
	if !detected || d.config.CAD.ExitMode != CadRx {
		d.mode = ModeStandbyRC
	}
	return detected, nil
}

// --- Internal helpers ---

// enterXoscLocked moves the chip into STDBY_XOSC so TX, RX and CAD can
// be started regardless of the transition policy. The caller must hold
// d.mu.
func (d *Device) enterXoscLocked() error {
	if d.mode == ModeStandbyXOSC || d.mode == ModeFS {
		return nil
	}
	_, err := d.dispatch(setStandby{StandbyXOSC})
	return err
}

func (d *Device) getIrqStatusLocked() (IrqStatus, error) {
	data, err := d.dispatch(getIrqStatus{})
	if err != nil {
		return 0, err
	}
	irq, err := decodeIrqStatus(data)
	if err != nil {
		return 0, err
	}
	d.cache.update(irq)
	return irq, nil
}

func (d *Device) clearIrqLocked(mask IrqMask) error {
	if _, err := d.dispatch(clearIrqStatus{mask}); err != nil {
		return err
	}
	d.cache.clear(mask)
	return nil
}

// waitIrqLocked blocks until the snapshot contains one of the wanted
// flags, rereading the chip's IRQ register on every wake. The caller
// must hold d.mu; the DIO1 handler never takes it, so selecting on the
// wake channel here cannot deadlock.
func (d *Device) waitIrqLocked(ctx context.Context, want IrqMask) (IrqStatus, error) {
	for {
		if _, err := d.getIrqStatusLocked(); err != nil {
			return 0, err
		}
		if acc := d.cache.snapshot(); acc&want != 0 {
			return acc, nil
		}

		if d.config.Dio1 != nil {
			select {
			case <-d.cache.wake:
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		} else {
			// Polling fallback
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			default:
			}
			time.Sleep(time.Millisecond)
		}
	}
}

func (d *Device) readRegisterLocked(addr Register, n int) ([]byte, error) {
	data, err := d.dispatch(readRegister{addr, n})
	if err != nil {
		return nil, err
	}
	if len(data) != n {
		return nil, fmt.Errorf("%w: %w: register read returned %d bytes, want %d", ErrPkg, ErrMalformedResponse, len(data), n)
	}
	return append([]byte(nil), data...), nil
}

// updateRegisterLocked read-modify-writes a single register byte.
func (d *Device) updateRegisterLocked(addr Register, f func(byte) byte) error {
	data, err := d.readRegisterLocked(addr, 1)
	if err != nil {
		return err
	}
	_, err = d.dispatch(writeRegister{addr, []byte{f(data[0])}})
	return err
}

// updateTxModulationLocked keeps bit 2 of RegTxModulation in line with
// the bandwidth: cleared for BW500, set otherwise. Skipping this
// degrades the transmit spectrum at 500 kHz.
func (d *Device) updateTxModulationLocked(bw Bandwidth) error {
	return d.updateRegisterLocked(RegTxModulation, func(v byte) byte {
		if bw == BW500 {
			return v &^ 0x04
		}
		return v | 0x04
	})
}

func (d *Device) deviceErrorsLocked() (DeviceErrors, error) {
	data, err := d.dispatch(getDeviceErrors{})
	if err != nil {
		return 0, err
	}
	return decodeDeviceErrors(data)
}
