package sx126x

import (
	"encoding/binary"
	"fmt"
	"time"
)

// xtalFreqDefault is the 32 MHz reference crystal fitted to virtually
// every SX126x module.
const xtalFreqDefault = 32000000

// radioConfigWireLen is the size of a version 1 RadioConfig snapshot.
const radioConfigWireLen = 51

// radioConfigVersion tags snapshots so that a restore across driver
// versions fails loudly instead of misconfiguring the radio.
const radioConfigVersion = 0x01

// RadioConfig is the full RF configuration committed to the chip by
// Configure. The zero value of most fields selects a usable default,
// see the field comments; PacketType and Frequency must be set.
type RadioConfig struct {
	// PacketType selects the packet engine and must be
	// PacketTypeLoRa. The FSK engine is not supported.
	PacketType PacketType
	// Frequency is the RF carrier in Hz, 150 MHz to 960 MHz. Pick one
	// your region allows.
	Frequency uint32
	// XtalFrequency is the reference crystal in Hz.
	// Defaults to 32 MHz if not provided.
	XtalFrequency uint32
	// SyncWord selects the LoRa network, LoRaSyncWordPublic or
	// LoRaSyncWordPrivate.
	// Defaults to LoRaSyncWordPublic if not provided.
	SyncWord uint16
	// Modulation sets spreading factor, bandwidth and coding rate.
	// Defaults to SF7, BW125, CR4/5 if left zero.
	Modulation ModulationParams
	// Packet sets the LoRa framing.
	// Defaults to 8 preamble symbols, explicit header and CRC on if
	// left zero.
	Packet PacketParams
	// PA is the power amplifier configuration.
	// Defaults to PaConfigSX1262 if left zero.
	PA PaConfig
	// Tx sets output power and ramp time.
	// Defaults to +14 dBm with a 200 us ramp if left zero.
	Tx TxParams
	// Calib selects the blocks calibrated during Configure.
	// Defaults to CalibAll if not provided.
	Calib CalibParam
	// Irq is the global interrupt enable mask.
	// Defaults to IrqAll if not provided.
	Irq IrqMask
	// Dio1Mask routes interrupt sources to the DIO1 pin.
	// Defaults to TxDone, RxDone and Timeout if not provided.
	Dio1Mask IrqMask
	// Dio2Mask and Dio3Mask route interrupt sources to the remaining
	// DIO pins. Both default to none. Dio2Mask is ignored by the chip
	// when DIO2AsRfSwitch is set.
	Dio2Mask IrqMask
	Dio3Mask IrqMask
	// Fallback selects the mode entered automatically after TX or RX.
	// Defaults to FallbackStandbyRC if not provided.
	Fallback FallbackMode
	// Regulator selects LDO only or DC-DC operation.
	Regulator RegulatorMode
	// CAD configures channel activity detection.
	// Defaults to 8 symbols, detPeak 22, detMin 10, CadOnly if left
	// zero.
	CAD CadParams
	// TCXO, when non-nil, makes DIO3 supply a TCXO instead of using a
	// crystal.
	TCXO *TcxoConfig
	// DIO2AsRfSwitch hands the DIO2 pin to the chip as TX/RX antenna
	// switch control.
	DIO2AsRfSwitch bool
}

// DefaultRadioConfig returns a 915 MHz LoRa baseline: SF7, BW125,
// CR4/5, +14 dBm, CRC on, public sync word. Adjust Frequency to your
// region before use.
func DefaultRadioConfig() RadioConfig {
	c := RadioConfig{
		PacketType: PacketTypeLoRa,
		Frequency:  915000000,
	}
	c.applyDefaults()
	return c
}

// applyDefaults fills zero-valued fields the way DefaultRadioConfig
// documents. PacketType and Frequency are deliberately left alone so
// that Validate can insist on a conscious choice.
func (c *RadioConfig) applyDefaults() {
	if c.XtalFrequency == 0 {
		c.XtalFrequency = xtalFreqDefault
	}
	if c.SyncWord == 0 {
		c.SyncWord = LoRaSyncWordPublic
	}
	if c.Modulation == (ModulationParams{}) {
		c.Modulation = ModulationParams{
			SpreadingFactor: SF7,
			Bandwidth:       BW125,
			CodingRate:      CR4_5,
		}
	}
	if c.Packet == (PacketParams{}) {
		c.Packet = PacketParams{
			PreambleLength: 8,
			HeaderType:     HeaderExplicit,
			CrcType:        CrcOn,
			InvertIq:       IqStandard,
		}
	}
	if c.PA == (PaConfig{}) {
		c.PA = PaConfigSX1262()
	}
	if c.Tx == (TxParams{}) {
		c.Tx = TxParams{Power: 14, RampTime: Ramp200us}
	}
	if c.Calib == 0 {
		c.Calib = CalibAll
	}
	if c.Irq == IrqNone {
		c.Irq = IrqAll
	}
	if c.Dio1Mask == IrqNone {
		c.Dio1Mask = IrqTxDone | IrqRxDone | IrqTimeout
	}
	if c.Fallback == 0 {
		c.Fallback = FallbackStandbyRC
	}
	if c.CAD == (CadParams{}) {
		c.CAD = CadParams{
			Symbols:  CadOn8Symb,
			DetPeak:  22,
			DetMin:   10,
			ExitMode: CadOnly,
		}
	}
}

// Validate checks the whole configuration against what the chip
// accepts. It assumes applyDefaults already ran.
func (c RadioConfig) Validate() error {
	if c.PacketType != PacketTypeLoRa {
		return fmt.Errorf("%w: %w: packet type %s, only LoRa is supported", ErrPkg, ErrInvalidParameter, c.PacketType)
	}
	if c.Frequency < 150000000 || c.Frequency > 960000000 {
		return fmt.Errorf("%w: %w: frequency %d Hz outside 150..960 MHz", ErrPkg, ErrInvalidParameter, c.Frequency)
	}
	if c.XtalFrequency == 0 {
		return fmt.Errorf("%w: %w: crystal frequency not set", ErrPkg, ErrInvalidParameter)
	}
	if err := c.Modulation.Validate(); err != nil {
		return err
	}
	if err := c.Packet.Validate(); err != nil {
		return err
	}
	if err := c.PA.Validate(); err != nil {
		return err
	}
	if err := c.PA.validatePower(c.Tx.Power); err != nil {
		return err
	}
	if c.Tx.RampTime > Ramp3400us {
		return fmt.Errorf("%w: %w: ramp time code 0x%02X", ErrPkg, ErrInvalidParameter, byte(c.Tx.RampTime))
	}
	if c.Calib&^CalibAll != 0 {
		return fmt.Errorf("%w: %w: calibration bits 0x%02X", ErrPkg, ErrInvalidParameter, byte(c.Calib))
	}
	switch c.Fallback {
	case FallbackFS, FallbackStandbyXOSC, FallbackStandbyRC:
	default:
		return fmt.Errorf("%w: %w: fallback mode 0x%02X", ErrPkg, ErrInvalidParameter, byte(c.Fallback))
	}
	if c.Regulator > RegulatorDCDC {
		return fmt.Errorf("%w: %w: regulator mode 0x%02X", ErrPkg, ErrInvalidParameter, byte(c.Regulator))
	}
	if err := c.CAD.Validate(); err != nil {
		return err
	}
	if c.TCXO != nil {
		if c.TCXO.Voltage > Tcxo3V3 {
			return fmt.Errorf("%w: %w: tcxo voltage code 0x%02X", ErrPkg, ErrInvalidParameter, byte(c.TCXO.Voltage))
		}
		if ticks(c.TCXO.Delay) > 0xFFFFFF {
			return fmt.Errorf("%w: %w: tcxo delay %s above 24 bit tick range", ErrPkg, ErrInvalidParameter, c.TCXO.Delay)
		}
	}
	return nil
}

// rfFreqWord converts the carrier frequency to the chip's PLL word,
// frequency * 2^25 / xtal.
func (c RadioConfig) rfFreqWord() uint32 {
	return uint32((uint64(c.Frequency) << 25) / uint64(c.XtalFrequency))
}

// ticks converts a duration to 15.625 us chip timer ticks without
// clamping.
func ticks(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	return uint32(d / timeoutTick)
}

// MarshalBinary renders the configuration as a compact fixed-width
// snapshot so applications can persist it and warm-restart the radio
// without renegotiating defaults.
func (c RadioConfig) MarshalBinary() ([]byte, error) {
	var flags byte
	if c.TCXO != nil {
		flags |= 1 << 0
	}
	if c.DIO2AsRfSwitch {
		flags |= 1 << 1
	}

	buf := make([]byte, 0, radioConfigWireLen)
	buf = append(buf, radioConfigVersion, flags, byte(c.PacketType))
	buf = binary.BigEndian.AppendUint32(buf, c.Frequency)
	buf = binary.BigEndian.AppendUint32(buf, c.XtalFrequency)
	buf = binary.BigEndian.AppendUint16(buf, c.SyncWord)
	var ldro byte
	if c.Modulation.LowDataRateOptimize {
		ldro = 0x01
	}
	buf = append(buf, byte(c.Modulation.SpreadingFactor), byte(c.Modulation.Bandwidth), byte(c.Modulation.CodingRate), ldro)
	buf = binary.BigEndian.AppendUint16(buf, c.Packet.PreambleLength)
	buf = append(buf, byte(c.Packet.HeaderType), c.Packet.PayloadLength, byte(c.Packet.CrcType), byte(c.Packet.InvertIq))
	buf = append(buf, c.PA.PaDutyCycle, c.PA.HpMax, byte(c.PA.Device), c.PA.PaLut)
	buf = append(buf, byte(c.Tx.Power), byte(c.Tx.RampTime))
	buf = append(buf, byte(c.Calib))
	buf = binary.BigEndian.AppendUint16(buf, uint16(c.Irq))
	buf = binary.BigEndian.AppendUint16(buf, uint16(c.Dio1Mask))
	buf = binary.BigEndian.AppendUint16(buf, uint16(c.Dio2Mask))
	buf = binary.BigEndian.AppendUint16(buf, uint16(c.Dio3Mask))
	buf = append(buf, byte(c.Fallback), byte(c.Regulator))
	var tcxoV byte
	var tcxoTicks uint32
	if c.TCXO != nil {
		tcxoV = byte(c.TCXO.Voltage)
		tcxoTicks = ticks(c.TCXO.Delay)
	}
	buf = append(buf, tcxoV)
	buf = appendUint24(buf, tcxoTicks)
	buf = append(buf, byte(c.CAD.Symbols), c.CAD.DetPeak, c.CAD.DetMin, byte(c.CAD.ExitMode))
	buf = appendUint24(buf, uint32(c.CAD.Timeout))
	return buf, nil
}

// UnmarshalBinary restores a snapshot produced by MarshalBinary. A
// truncated buffer or an unknown version is refused.
func (c *RadioConfig) UnmarshalBinary(data []byte) error {
	if len(data) != radioConfigWireLen {
		return fmt.Errorf("%w: %w: snapshot is %d bytes, want %d", ErrPkg, ErrMalformedResponse, len(data), radioConfigWireLen)
	}
	if data[0] != radioConfigVersion {
		return fmt.Errorf("%w: %w: snapshot version 0x%02X, want 0x%02X", ErrPkg, ErrMalformedResponse, data[0], radioConfigVersion)
	}
	flags := data[1]

	out := RadioConfig{
		PacketType:    PacketType(data[2]),
		Frequency:     binary.BigEndian.Uint32(data[3:7]),
		XtalFrequency: binary.BigEndian.Uint32(data[7:11]),
		SyncWord:      binary.BigEndian.Uint16(data[11:13]),
		Modulation: ModulationParams{
			SpreadingFactor:     SpreadingFactor(data[13]),
			Bandwidth:           Bandwidth(data[14]),
			CodingRate:          CodingRate(data[15]),
			LowDataRateOptimize: data[16] != 0x00,
		},
		Packet: PacketParams{
			PreambleLength: binary.BigEndian.Uint16(data[17:19]),
			HeaderType:     HeaderType(data[19]),
			PayloadLength:  data[20],
			CrcType:        CrcType(data[21]),
			InvertIq:       IqPolarity(data[22]),
		},
		PA: PaConfig{
			PaDutyCycle: data[23],
			HpMax:       data[24],
			Device:      DeviceSel(data[25]),
			PaLut:       data[26],
		},
		Tx: TxParams{
			Power:    int8(data[27]),
			RampTime: RampTime(data[28]),
		},
		Calib:     CalibParam(data[29]),
		Irq:       IrqMask(binary.BigEndian.Uint16(data[30:32])),
		Dio1Mask:  IrqMask(binary.BigEndian.Uint16(data[32:34])),
		Dio2Mask:  IrqMask(binary.BigEndian.Uint16(data[34:36])),
		Dio3Mask:  IrqMask(binary.BigEndian.Uint16(data[36:38])),
		Fallback:  FallbackMode(data[38]),
		Regulator: RegulatorMode(data[39]),
		CAD: CadParams{
			Symbols:  CadSymbols(data[44]),
			DetPeak:  data[45],
			DetMin:   data[46],
			ExitMode: CadExitMode(data[47]),
			Timeout:  RxTxTimeout(uint24(data[48:51])),
		},
		DIO2AsRfSwitch: flags&(1<<1) != 0,
	}
	if flags&(1<<0) != 0 {
		out.TCXO = &TcxoConfig{
			Voltage: TcxoVoltage(data[40]),
			Delay:   time.Duration(uint24(data[41:44])) * timeoutTick,
		}
	}
	*c = out
	return nil
}
