package sx126x

import (
	"fmt"
	"time"
)

// SpreadingFactor is the LoRa spreading factor. The constant values are
// the raw codes used on the wire.
type SpreadingFactor byte

const (
	SF5  SpreadingFactor = 0x05
	SF6  SpreadingFactor = 0x06
	SF7  SpreadingFactor = 0x07
	SF8  SpreadingFactor = 0x08
	SF9  SpreadingFactor = 0x09
	SF10 SpreadingFactor = 0x0A
	SF11 SpreadingFactor = 0x0B
	SF12 SpreadingFactor = 0x0C
)

func (sf SpreadingFactor) String() string {
	if sf < SF5 || sf > SF12 {
		return "unknown"
	}
	return fmt.Sprintf("SF%d", byte(sf))
}

// Bandwidth is the LoRa signal bandwidth. The constant values are the
// raw codes used on the wire; they are not ordered by width.
type Bandwidth byte

const (
	// BW7 represents a bandwidth of 7.81kHz
	BW7 Bandwidth = 0x00
	// BW10 represents a bandwidth of 10.42kHz
	BW10 Bandwidth = 0x08
	// BW15 represents a bandwidth of 15.63kHz
	BW15 Bandwidth = 0x01
	// BW20 represents a bandwidth of 20.83kHz
	BW20 Bandwidth = 0x09
	// BW31 represents a bandwidth of 31.25kHz
	BW31 Bandwidth = 0x02
	// BW41 represents a bandwidth of 41.67kHz
	BW41 Bandwidth = 0x0A
	// BW62 represents a bandwidth of 62.50kHz
	BW62 Bandwidth = 0x03
	// BW125 represents a bandwidth of 125kHz
	BW125 Bandwidth = 0x04
	// BW250 represents a bandwidth of 250kHz
	BW250 Bandwidth = 0x05
	// BW500 represents a bandwidth of 500kHz
	BW500 Bandwidth = 0x06
)

// Hz returns the bandwidth in Hertz, or 0 for an unknown code.
func (bw Bandwidth) Hz() uint32 {
	switch bw {
	case BW7:
		return 7810
	case BW10:
		return 10420
	case BW15:
		return 15630
	case BW20:
		return 20830
	case BW31:
		return 31250
	case BW41:
		return 41670
	case BW62:
		return 62500
	case BW125:
		return 125000
	case BW250:
		return 250000
	case BW500:
		return 500000
	default:
		return 0
	}
}

func (bw Bandwidth) String() string {
	hz := bw.Hz()
	if hz == 0 {
		return "unknown"
	}
	if hz < 100000 {
		return fmt.Sprintf("%d.%02dkHz", hz/1000, (hz%1000)/10)
	}
	return fmt.Sprintf("%dkHz", hz/1000)
}

// CodingRate is the LoRa forward error correction rate.
type CodingRate byte

const (
	CR4_5 CodingRate = 0x01
	CR4_6 CodingRate = 0x02
	CR4_7 CodingRate = 0x03
	CR4_8 CodingRate = 0x04
)

func (cr CodingRate) String() string {
	switch cr {
	case CR4_5:
		return "4/5"
	case CR4_6:
		return "4/6"
	case CR4_7:
		return "4/7"
	case CR4_8:
		return "4/8"
	default:
		return "unknown"
	}
}

// ldroThreshold is the symbol duration above which the chip requires
// the low data rate optimization to stay locked (SF11/BW125 and up).
const ldroThreshold = 16380 * time.Microsecond

// ModulationParams configures the LoRa modem through the
// SetModulationParams command.
type ModulationParams struct {
	SpreadingFactor SpreadingFactor
	Bandwidth       Bandwidth
	CodingRate      CodingRate
	// LowDataRateOptimize must be set when the symbol duration reaches
	// 16.38 ms, see SymbolDuration.
	LowDataRateOptimize bool
}

// SymbolDuration returns the on-air duration of one LoRa symbol,
// 2^SF / BW.
func (p ModulationParams) SymbolDuration() time.Duration {
	hz := p.Bandwidth.Hz()
	if hz == 0 {
		return 0
	}
	return time.Duration((uint64(1) << uint(p.SpreadingFactor)) * uint64(time.Second) / uint64(hz))
}

// Validate checks the parameters against the ranges the chip accepts.
func (p ModulationParams) Validate() error {
	if p.SpreadingFactor < SF5 || p.SpreadingFactor > SF12 {
		return fmt.Errorf("%w: %w: spreading factor 0x%02X", ErrPkg, ErrInvalidParameter, byte(p.SpreadingFactor))
	}
	if p.Bandwidth.Hz() == 0 {
		return fmt.Errorf("%w: %w: bandwidth code 0x%02X", ErrPkg, ErrInvalidParameter, byte(p.Bandwidth))
	}
	if p.CodingRate < CR4_5 || p.CodingRate > CR4_8 {
		return fmt.Errorf("%w: %w: coding rate 0x%02X", ErrPkg, ErrInvalidParameter, byte(p.CodingRate))
	}
	if p.SymbolDuration() >= ldroThreshold && !p.LowDataRateOptimize {
		return fmt.Errorf("%w: %w: %s at %s needs LowDataRateOptimize", ErrPkg, ErrInvalidParameter, p.SpreadingFactor, p.Bandwidth)
	}
	return nil
}

// HeaderType selects between explicit (variable length) and implicit
// (fixed length) LoRa headers.
type HeaderType byte

const (
	HeaderExplicit HeaderType = 0x00
	HeaderImplicit HeaderType = 0x01
)

// CrcType enables the LoRa payload CRC.
type CrcType byte

const (
	CrcOff CrcType = 0x00
	CrcOn  CrcType = 0x01
)

// IqPolarity selects standard or inverted IQ. Inverted IQ is used by
// LoRaWAN downlinks so that gateways do not receive each other.
type IqPolarity byte

const (
	IqStandard IqPolarity = 0x00
	IqInverted IqPolarity = 0x01
)

// PacketParams configures LoRa packet framing through the
// SetPacketParams command.
type PacketParams struct {
	// PreambleLength is the number of preamble symbols, at least 1.
	PreambleLength uint16
	HeaderType     HeaderType
	// PayloadLength is the payload size in bytes. With explicit headers
	// it is rewritten per packet by Transmit.
	PayloadLength byte
	CrcType       CrcType
	InvertIq      IqPolarity
}

// Validate checks the parameters against the ranges the chip accepts.
func (p PacketParams) Validate() error {
	if p.PreambleLength == 0 {
		return fmt.Errorf("%w: %w: preamble length must be at least 1 symbol", ErrPkg, ErrInvalidParameter)
	}
	if p.HeaderType > HeaderImplicit {
		return fmt.Errorf("%w: %w: header type 0x%02X", ErrPkg, ErrInvalidParameter, byte(p.HeaderType))
	}
	if p.CrcType > CrcOn {
		return fmt.Errorf("%w: %w: crc type 0x%02X", ErrPkg, ErrInvalidParameter, byte(p.CrcType))
	}
	if p.InvertIq > IqInverted {
		return fmt.Errorf("%w: %w: iq polarity 0x%02X", ErrPkg, ErrInvalidParameter, byte(p.InvertIq))
	}
	return nil
}

// PacketType selects the packet engine, set through SetPacketType
// before any other RF configuration.
type PacketType byte

const (
	// PacketTypeGFSK selects the FSK modem. The driver does not support
	// it, the constant exists to decode GetPacketType responses.
	PacketTypeGFSK PacketType = 0x00
	// PacketTypeLoRa selects the LoRa modem.
	PacketTypeLoRa PacketType = 0x01
)

func (t PacketType) String() string {
	switch t {
	case PacketTypeGFSK:
		return "GFSK"
	case PacketTypeLoRa:
		return "LoRa"
	default:
		return "unknown"
	}
}

// StandbyConfig selects the clock source kept running in standby.
type StandbyConfig byte

const (
	// StandbyRC keeps only the 13 MHz RC oscillator running.
	StandbyRC StandbyConfig = 0x00
	// StandbyXOSC keeps the crystal oscillator running for a faster
	// switch to FS, TX or RX.
	StandbyXOSC StandbyConfig = 0x01
)

func (c StandbyConfig) String() string {
	if c == StandbyXOSC {
		return "STDBY_XOSC"
	}
	return "STDBY_RC"
}

// SleepConfig is the sleep option bitfield of the SetSleep command.
// Combine the constants with bitwise OR.
type SleepConfig byte

const (
	// SleepColdStart discards the chip configuration while sleeping.
	SleepColdStart SleepConfig = 0x00
	// SleepWarmStart retains the chip configuration in sleep so that
	// wake-up does not need a full reinitialization.
	SleepWarmStart SleepConfig = 0x04
	// SleepRtcWakeup keeps the RTC running and wakes the chip on
	// timeout, used for RX duty cycling.
	SleepRtcWakeup SleepConfig = 0x01
)

// RegulatorMode selects the internal supply regulator.
type RegulatorMode byte

const (
	// RegulatorLDO uses only the linear regulator (reset default).
	RegulatorLDO RegulatorMode = 0x00
	// RegulatorDCDC uses the buck converter for the most power hungry
	// blocks, falling back to the LDO for the rest.
	RegulatorDCDC RegulatorMode = 0x01
)

// CalibParam is the calibration block selection bitfield of the
// Calibrate command.
type CalibParam byte

const (
	CalibRC64k    CalibParam = 1 << 0
	CalibRC13M    CalibParam = 1 << 1
	CalibPLL      CalibParam = 1 << 2
	CalibADCPulse CalibParam = 1 << 3
	CalibADCBulkN CalibParam = 1 << 4
	CalibADCBulkP CalibParam = 1 << 5
	CalibImage    CalibParam = 1 << 6
	// CalibAll calibrates every block, about 3.5 ms in STDBY_RC.
	CalibAll CalibParam = 0x7F
)

// CalibImageFreq selects the frequency band for image calibration. The
// two bytes of the value are the freq1/freq2 parameters of the
// CalibrateImage command.
type CalibImageFreq uint16

const (
	CalibImage430to440 CalibImageFreq = 0x6B6F
	CalibImage470to510 CalibImageFreq = 0x7581
	CalibImage779to787 CalibImageFreq = 0xC1C5
	CalibImage863to870 CalibImageFreq = 0xD7DB
	CalibImage902to928 CalibImageFreq = 0xE1E9
)

// CalibImageFreqForHz returns the calibration band covering the given
// RF frequency, defaulting to the 902-928 MHz band.
func CalibImageFreqForHz(hz uint32) CalibImageFreq {
	switch mhz := hz / 1000000; {
	case mhz >= 902 && mhz <= 928:
		return CalibImage902to928
	case mhz >= 863 && mhz <= 870:
		return CalibImage863to870
	case mhz >= 779 && mhz <= 787:
		return CalibImage779to787
	case mhz >= 470 && mhz <= 510:
		return CalibImage470to510
	case mhz >= 430 && mhz <= 440:
		return CalibImage430to440
	default:
		return CalibImage902to928
	}
}

// RampTime is the PA ramp up duration of the SetTxParams command.
type RampTime byte

const (
	Ramp10us   RampTime = 0x00
	Ramp20us   RampTime = 0x01
	Ramp40us   RampTime = 0x02
	Ramp80us   RampTime = 0x03
	Ramp200us  RampTime = 0x04
	Ramp800us  RampTime = 0x05
	Ramp1700us RampTime = 0x06
	Ramp3400us RampTime = 0x07
)

// TxParams sets the output power and PA ramp time.
type TxParams struct {
	// Power is the output power in dBm. The usable range depends on the
	// chip variant: -17 to +15 dBm on the SX1261, -9 to +22 dBm on the
	// SX1262.
	Power    int8
	RampTime RampTime
}

// DeviceSel tells the PA configuration which chip variant is fitted.
type DeviceSel byte

const (
	DeviceSX1262 DeviceSel = 0x00
	DeviceSX1261 DeviceSel = 0x01
)

func (d DeviceSel) String() string {
	if d == DeviceSX1261 {
		return "SX1261"
	}
	return "SX1262"
}

// PaConfig configures the power amplifier through the SetPaConfig
// command. Use PaConfigSX1262 or PaConfigSX1261 unless you need the
// reduced duty cycle settings from the datasheet power tables.
type PaConfig struct {
	PaDutyCycle byte
	HpMax       byte
	Device      DeviceSel
	// PaLut is reserved and must stay 0x01.
	PaLut byte
}

// PaConfigSX1262 returns the PA settings recommended for +22 dBm on the
// SX1262.
func PaConfigSX1262() PaConfig {
	return PaConfig{PaDutyCycle: 0x04, HpMax: 0x07, Device: DeviceSX1262, PaLut: 0x01}
}

// PaConfigSX1261 returns the PA settings recommended for +14 dBm on the
// SX1261.
func PaConfigSX1261() PaConfig {
	return PaConfig{PaDutyCycle: 0x04, HpMax: 0x00, Device: DeviceSX1261, PaLut: 0x01}
}

// Validate checks the PA settings against the chip limits.
func (p PaConfig) Validate() error {
	if p.PaDutyCycle > 0x07 {
		return fmt.Errorf("%w: %w: paDutyCycle 0x%02X above 0x07", ErrPkg, ErrInvalidParameter, p.PaDutyCycle)
	}
	if p.HpMax > 0x07 {
		return fmt.Errorf("%w: %w: hpMax 0x%02X above 0x07", ErrPkg, ErrInvalidParameter, p.HpMax)
	}
	if p.Device > DeviceSX1261 {
		return fmt.Errorf("%w: %w: deviceSel 0x%02X", ErrPkg, ErrInvalidParameter, byte(p.Device))
	}
	if p.PaLut != 0x01 {
		return fmt.Errorf("%w: %w: paLut must be 0x01", ErrPkg, ErrInvalidParameter)
	}
	return nil
}

// validatePower checks an output power request against the PA limits of
// the selected chip variant.
func (p PaConfig) validatePower(power int8) error {
	min, max := int8(-9), int8(22)
	if p.Device == DeviceSX1261 {
		min, max = -17, 15
	}
	if power < min || power > max {
		return fmt.Errorf("%w: %w: %d dBm outside %d..%d dBm on the %s", ErrPkg, ErrInvalidParameter, power, min, max, p.Device)
	}
	return nil
}

// TcxoVoltage is the supply voltage DIO3 provides to a TCXO.
type TcxoVoltage byte

const (
	Tcxo1V6 TcxoVoltage = 0x00
	Tcxo1V7 TcxoVoltage = 0x01
	Tcxo1V8 TcxoVoltage = 0x02
	Tcxo2V2 TcxoVoltage = 0x03
	Tcxo2V4 TcxoVoltage = 0x04
	Tcxo2V7 TcxoVoltage = 0x05
	Tcxo3V0 TcxoVoltage = 0x06
	Tcxo3V3 TcxoVoltage = 0x07
)

// TcxoConfig describes a TCXO powered from DIO3.
type TcxoConfig struct {
	Voltage TcxoVoltage
	// Delay is how long the chip waits for the oscillator to stabilize
	// before using it. Rounded to 15.625 us ticks on the wire.
	Delay time.Duration
}

// timeoutTick is the base unit of the chip's RX/TX, CAD and TCXO
// timers.
const timeoutTick = 15625 * time.Microsecond / 1000

// RxTxTimeout is a 24-bit chip timer duration in 15.625 us ticks, used
// by SetTx, SetRx, SetRxDutyCycle and SetCadParams.
type RxTxTimeout uint32

const (
	// TimeoutNone disables the chip-side timer. For SetRx this is
	// single mode: the chip stays in RX until one packet is received.
	TimeoutNone RxTxTimeout = 0x000000
	// TimeoutContinuous keeps the chip in RX indefinitely, receiving
	// any number of packets. Only meaningful for SetRx.
	TimeoutContinuous RxTxTimeout = 0xFFFFFF

	maxFiniteTimeout RxTxTimeout = 0xFFFFFE
)

// TimeoutFrom converts a duration to chip timer ticks, clamping to the
// longest finite timer value (about 262 s).
func TimeoutFrom(d time.Duration) RxTxTimeout {
	if d <= 0 {
		return TimeoutNone
	}
	t := RxTxTimeout(d / timeoutTick)
	if t > maxFiniteTimeout {
		return maxFiniteTimeout
	}
	return t
}

// Duration returns the timer duration, or 0 for TimeoutNone and
// TimeoutContinuous.
func (t RxTxTimeout) Duration() time.Duration {
	if t == TimeoutNone || t == TimeoutContinuous {
		return 0
	}
	return time.Duration(t) * timeoutTick
}

// FallbackMode selects the mode the chip enters by itself after a
// transmission or reception ends.
type FallbackMode byte

const (
	// FallbackFS keeps the frequency synthesizer locked.
	FallbackFS FallbackMode = 0x40
	// FallbackStandbyXOSC keeps the crystal oscillator running.
	FallbackStandbyXOSC FallbackMode = 0x30
	// FallbackStandbyRC drops back to the RC oscillator (reset default).
	FallbackStandbyRC FallbackMode = 0x20
)

// operatingMode maps the fallback to the driver's mode bookkeeping.
func (f FallbackMode) operatingMode() OperatingMode {
	switch f {
	case FallbackFS:
		return ModeFS
	case FallbackStandbyXOSC:
		return ModeStandbyXOSC
	default:
		return ModeStandbyRC
	}
}

// CadSymbols is the number of symbols a channel activity detection run
// observes.
type CadSymbols byte

const (
	CadOn1Symb  CadSymbols = 0x00
	CadOn2Symb  CadSymbols = 0x01
	CadOn4Symb  CadSymbols = 0x02
	CadOn8Symb  CadSymbols = 0x03
	CadOn16Symb CadSymbols = 0x04
)

// CadExitMode selects what the chip does when channel activity is
// detected.
type CadExitMode byte

const (
	// CadOnly returns to STDBY_RC once detection finishes.
	CadOnly CadExitMode = 0x00
	// CadRx stays in RX after a detection until a packet arrives or the
	// CAD timeout elapses.
	CadRx CadExitMode = 0x01
)

// CadParams configures channel activity detection through the
// SetCadParams command.
type CadParams struct {
	Symbols CadSymbols
	// DetPeak is the detection sensitivity, 18 to 35. 22 suits SF7.
	DetPeak byte
	// DetMin shifts the detection threshold. Semtech recommends 10 for
	// every configuration.
	DetMin   byte
	ExitMode CadExitMode
	// Timeout bounds the RX phase in CadRx exit mode.
	Timeout RxTxTimeout
}

// Validate checks the parameters against the documented CAD ranges.
func (p CadParams) Validate() error {
	if p.Symbols > CadOn16Symb {
		return fmt.Errorf("%w: %w: cad symbol count code 0x%02X", ErrPkg, ErrInvalidParameter, byte(p.Symbols))
	}
	if p.DetPeak < 18 || p.DetPeak > 35 {
		return fmt.Errorf("%w: %w: cadDetPeak %d outside 18..35", ErrPkg, ErrInvalidParameter, p.DetPeak)
	}
	if p.DetMin != 10 {
		return fmt.Errorf("%w: %w: cadDetMin %d, must be 10", ErrPkg, ErrInvalidParameter, p.DetMin)
	}
	if p.ExitMode > CadRx {
		return fmt.Errorf("%w: %w: cad exit mode 0x%02X", ErrPkg, ErrInvalidParameter, byte(p.ExitMode))
	}
	if p.Timeout > TimeoutContinuous {
		return fmt.Errorf("%w: %w: cad timeout 0x%X above 24 bits", ErrPkg, ErrInvalidParameter, uint32(p.Timeout))
	}
	return nil
}
