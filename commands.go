package sx126x

import (
	"encoding/binary"
	"fmt"
)

// Opcode is the first byte of every host command frame.
type Opcode byte

// Command opcodes of the SX126x host protocol.
const (
	OpResetStats            Opcode = 0x00
	OpClearIrqStatus        Opcode = 0x02
	OpClearDeviceErrors     Opcode = 0x07
	OpSetDioIrqParams       Opcode = 0x08
	OpWriteRegister         Opcode = 0x0D
	OpWriteBuffer           Opcode = 0x0E
	OpGetStats              Opcode = 0x10
	OpGetPacketType         Opcode = 0x11
	OpGetIrqStatus          Opcode = 0x12
	OpGetRxBufferStatus     Opcode = 0x13
	OpGetPacketStatus       Opcode = 0x14
	OpGetRssiInst           Opcode = 0x15
	OpGetDeviceErrors       Opcode = 0x17
	OpReadRegister          Opcode = 0x1D
	OpReadBuffer            Opcode = 0x1E
	OpSetStandby            Opcode = 0x80
	OpSetRx                 Opcode = 0x82
	OpSetTx                 Opcode = 0x83
	OpSetSleep              Opcode = 0x84
	OpSetRfFrequency        Opcode = 0x86
	OpSetCadParams          Opcode = 0x88
	OpCalibrate             Opcode = 0x89
	OpSetPacketType         Opcode = 0x8A
	OpSetModulationParams   Opcode = 0x8B
	OpSetPacketParams       Opcode = 0x8C
	OpSetTxParams           Opcode = 0x8E
	OpSetBufferBaseAddress  Opcode = 0x8F
	OpSetRxTxFallbackMode   Opcode = 0x93
	OpSetRxDutyCycle        Opcode = 0x94
	OpSetPaConfig           Opcode = 0x95
	OpSetRegulatorMode      Opcode = 0x96
	OpSetDio3AsTcxoCtrl     Opcode = 0x97
	OpCalibrateImage        Opcode = 0x98
	OpSetDio2AsRfSwitchCtrl Opcode = 0x9D
	OpStopTimerOnPreamble   Opcode = 0x9F
	OpGetStatus             Opcode = 0xC0
	OpSetFs                 Opcode = 0xC1
	OpSetCad                Opcode = 0xC5
	OpSetTxContinuousWave   Opcode = 0xD1
	OpSetTxInfinitePreamble Opcode = 0xD2
)

var opcodeNames = map[Opcode]string{
	OpResetStats:            "ResetStats",
	OpClearIrqStatus:        "ClearIrqStatus",
	OpClearDeviceErrors:     "ClearDeviceErrors",
	OpSetDioIrqParams:       "SetDioIrqParams",
	OpWriteRegister:         "WriteRegister",
	OpWriteBuffer:           "WriteBuffer",
	OpGetStats:              "GetStats",
	OpGetPacketType:         "GetPacketType",
	OpGetIrqStatus:          "GetIrqStatus",
	OpGetRxBufferStatus:     "GetRxBufferStatus",
	OpGetPacketStatus:       "GetPacketStatus",
	OpGetRssiInst:           "GetRssiInst",
	OpGetDeviceErrors:       "GetDeviceErrors",
	OpReadRegister:          "ReadRegister",
	OpReadBuffer:            "ReadBuffer",
	OpSetStandby:            "SetStandby",
	OpSetRx:                 "SetRx",
	OpSetTx:                 "SetTx",
	OpSetSleep:              "SetSleep",
	OpSetRfFrequency:        "SetRfFrequency",
	OpSetCadParams:          "SetCadParams",
	OpCalibrate:             "Calibrate",
	OpSetPacketType:         "SetPacketType",
	OpSetModulationParams:   "SetModulationParams",
	OpSetPacketParams:       "SetPacketParams",
	OpSetTxParams:           "SetTxParams",
	OpSetBufferBaseAddress:  "SetBufferBaseAddress",
	OpSetRxTxFallbackMode:   "SetRxTxFallbackMode",
	OpSetRxDutyCycle:        "SetRxDutyCycle",
	OpSetPaConfig:           "SetPaConfig",
	OpSetRegulatorMode:      "SetRegulatorMode",
	OpSetDio3AsTcxoCtrl:     "SetDio3AsTcxoCtrl",
	OpCalibrateImage:        "CalibrateImage",
	OpSetDio2AsRfSwitchCtrl: "SetDio2AsRfSwitchCtrl",
	OpStopTimerOnPreamble:   "StopTimerOnPreamble",
	OpGetStatus:             "GetStatus",
	OpSetFs:                 "SetFs",
	OpSetCad:                "SetCad",
	OpSetTxContinuousWave:   "SetTxContinuousWave",
	OpSetTxInfinitePreamble: "SetTxInfinitePreamble",
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Opcode(0x%02X)", byte(o))
}

// command is one host command together with its parameter payload.
// The set is closed: every supported opcode has exactly one type below,
// so the codec can be checked exhaustively against the opcode table.
// Parameter shapes are fixed per opcode; only the buffer and register
// accessors carry variable length payloads.
type command interface {
	opcode() Opcode
	// appendParams appends the parameter bytes that follow the opcode.
	appendParams(dst []byte) []byte
	// responseLen is the number of bytes the chip drives after the
	// parameter bytes: one echoed status byte plus the response data.
	// Zero for write-only commands.
	responseLen() int
}

func appendUint16(dst []byte, v uint16) []byte {
	return append(dst, byte(v>>8), byte(v))
}

func appendUint24(dst []byte, v uint32) []byte {
	return append(dst, byte(v>>16), byte(v>>8), byte(v))
}

func uint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// encodeFrame renders cmd into dst as the raw full-duplex SPI frame:
// the opcode, the parameter bytes, then one zero pad per response byte
// for the chip to drive. cmdLen is the length of the opcode+parameter
// part. dst is reused when it has capacity.
func encodeFrame(dst []byte, cmd command) (frame []byte, cmdLen int) {
	dst = append(dst[:0], byte(cmd.opcode()))
	dst = cmd.appendParams(dst)
	cmdLen = len(dst)
	for i := cmd.responseLen(); i > 0; i-- {
		dst = append(dst, 0x00)
	}
	return dst, cmdLen
}

type setSleep struct{ config SleepConfig }

func (setSleep) opcode() Opcode { return OpSetSleep }
func (c setSleep) appendParams(dst []byte) []byte { return append(dst, byte(c.config)) }
func (setSleep) responseLen() int { return 0 }

type setStandby struct{ config StandbyConfig }

func (setStandby) opcode() Opcode { return OpSetStandby }
func (c setStandby) appendParams(dst []byte) []byte { return append(dst, byte(c.config)) }
func (setStandby) responseLen() int { return 0 }

type setFs struct{}

func (setFs) opcode() Opcode { return OpSetFs }
func (setFs) appendParams(dst []byte) []byte { return dst }
func (setFs) responseLen() int { return 0 }

type setTx struct{ timeout RxTxTimeout }

func (setTx) opcode() Opcode { return OpSetTx }
func (c setTx) appendParams(dst []byte) []byte { return appendUint24(dst, uint32(c.timeout)) }
func (setTx) responseLen() int { return 0 }

type setRx struct{ timeout RxTxTimeout }

func (setRx) opcode() Opcode { return OpSetRx }
func (c setRx) appendParams(dst []byte) []byte { return appendUint24(dst, uint32(c.timeout)) }
func (setRx) responseLen() int { return 0 }

type stopTimerOnPreamble struct{ enable bool }

func (stopTimerOnPreamble) opcode() Opcode { return OpStopTimerOnPreamble }
func (c stopTimerOnPreamble) appendParams(dst []byte) []byte {
	if c.enable {
		return append(dst, 0x01)
	}
	return append(dst, 0x00)
}
func (stopTimerOnPreamble) responseLen() int { return 0 }

type setRxDutyCycle struct{ rxPeriod, sleepPeriod RxTxTimeout }

func (setRxDutyCycle) opcode() Opcode { return OpSetRxDutyCycle }
func (c setRxDutyCycle) appendParams(dst []byte) []byte {
	dst = appendUint24(dst, uint32(c.rxPeriod))
	return appendUint24(dst, uint32(c.sleepPeriod))
}
func (setRxDutyCycle) responseLen() int { return 0 }

type setCad struct{}

func (setCad) opcode() Opcode { return OpSetCad }
func (setCad) appendParams(dst []byte) []byte { return dst }
func (setCad) responseLen() int { return 0 }

type setTxContinuousWave struct{}

func (setTxContinuousWave) opcode() Opcode { return OpSetTxContinuousWave }
func (setTxContinuousWave) appendParams(dst []byte) []byte { return dst }
func (setTxContinuousWave) responseLen() int { return 0 }

type setTxInfinitePreamble struct{}

func (setTxInfinitePreamble) opcode() Opcode { return OpSetTxInfinitePreamble }
func (setTxInfinitePreamble) appendParams(dst []byte) []byte { return dst }
func (setTxInfinitePreamble) responseLen() int { return 0 }

type setRegulatorMode struct{ mode RegulatorMode }

func (setRegulatorMode) opcode() Opcode { return OpSetRegulatorMode }
func (c setRegulatorMode) appendParams(dst []byte) []byte { return append(dst, byte(c.mode)) }
func (setRegulatorMode) responseLen() int { return 0 }

type calibrate struct{ param CalibParam }

func (calibrate) opcode() Opcode { return OpCalibrate }
func (c calibrate) appendParams(dst []byte) []byte { return append(dst, byte(c.param)) }
func (calibrate) responseLen() int { return 0 }

type calibrateImage struct{ freq CalibImageFreq }

func (calibrateImage) opcode() Opcode { return OpCalibrateImage }
func (c calibrateImage) appendParams(dst []byte) []byte {
	return appendUint16(dst, uint16(c.freq))
}
func (calibrateImage) responseLen() int { return 0 }

type setPaConfig struct{ config PaConfig }

func (setPaConfig) opcode() Opcode { return OpSetPaConfig }
func (c setPaConfig) appendParams(dst []byte) []byte {
	return append(dst, c.config.PaDutyCycle, c.config.HpMax, byte(c.config.Device), c.config.PaLut)
}
func (setPaConfig) responseLen() int { return 0 }

type setRxTxFallbackMode struct{ mode FallbackMode }

func (setRxTxFallbackMode) opcode() Opcode { return OpSetRxTxFallbackMode }
func (c setRxTxFallbackMode) appendParams(dst []byte) []byte { return append(dst, byte(c.mode)) }
func (setRxTxFallbackMode) responseLen() int { return 0 }

type writeRegister struct {
	addr Register
	data []byte
}

func (writeRegister) opcode() Opcode { return OpWriteRegister }
func (c writeRegister) appendParams(dst []byte) []byte {
	dst = appendUint16(dst, uint16(c.addr))
	return append(dst, c.data...)
}
func (writeRegister) responseLen() int { return 0 }

type readRegister struct {
	addr Register
	n    int
}

func (readRegister) opcode() Opcode { return OpReadRegister }
func (c readRegister) appendParams(dst []byte) []byte {
	return appendUint16(dst, uint16(c.addr))
}
func (c readRegister) responseLen() int { return 1 + c.n }

type writeBuffer struct {
	offset byte
	data   []byte
}

func (writeBuffer) opcode() Opcode { return OpWriteBuffer }
func (c writeBuffer) appendParams(dst []byte) []byte {
	return append(append(dst, c.offset), c.data...)
}
func (writeBuffer) responseLen() int { return 0 }

type readBuffer struct {
	offset byte
	n      int
}

func (readBuffer) opcode() Opcode { return OpReadBuffer }
func (c readBuffer) appendParams(dst []byte) []byte { return append(dst, c.offset) }
func (c readBuffer) responseLen() int { return 1 + c.n }

type setDioIrqParams struct {
	irq, dio1, dio2, dio3 IrqMask
}

func (setDioIrqParams) opcode() Opcode { return OpSetDioIrqParams }
func (c setDioIrqParams) appendParams(dst []byte) []byte {
	dst = appendUint16(dst, uint16(c.irq))
	dst = appendUint16(dst, uint16(c.dio1))
	dst = appendUint16(dst, uint16(c.dio2))
	return appendUint16(dst, uint16(c.dio3))
}
func (setDioIrqParams) responseLen() int { return 0 }

type setDio2AsRfSwitchCtrl struct{ enable bool }

func (setDio2AsRfSwitchCtrl) opcode() Opcode { return OpSetDio2AsRfSwitchCtrl }
func (c setDio2AsRfSwitchCtrl) appendParams(dst []byte) []byte {
	if c.enable {
		return append(dst, 0x01)
	}
	return append(dst, 0x00)
}
func (setDio2AsRfSwitchCtrl) responseLen() int { return 0 }

type setDio3AsTcxoCtrl struct {
	voltage TcxoVoltage
	// delay is in 15.625 us ticks, 24 bits.
	delay uint32
}

func (setDio3AsTcxoCtrl) opcode() Opcode { return OpSetDio3AsTcxoCtrl }
func (c setDio3AsTcxoCtrl) appendParams(dst []byte) []byte {
	return appendUint24(append(dst, byte(c.voltage)), c.delay)
}
func (setDio3AsTcxoCtrl) responseLen() int { return 0 }

type setRfFrequency struct {
	// freq is the raw PLL word, frequency in Hz scaled by 2^25/Fxtal.
	freq uint32
}

func (setRfFrequency) opcode() Opcode { return OpSetRfFrequency }
func (c setRfFrequency) appendParams(dst []byte) []byte {
	return binary.BigEndian.AppendUint32(dst, c.freq)
}
func (setRfFrequency) responseLen() int { return 0 }

type setPacketType struct{ packetType PacketType }

func (setPacketType) opcode() Opcode { return OpSetPacketType }
func (c setPacketType) appendParams(dst []byte) []byte { return append(dst, byte(c.packetType)) }
func (setPacketType) responseLen() int { return 0 }

type getPacketType struct{}

func (getPacketType) opcode() Opcode { return OpGetPacketType }
func (getPacketType) appendParams(dst []byte) []byte { return dst }
func (getPacketType) responseLen() int { return 2 }

type setModulationParams struct{ params ModulationParams }

func (setModulationParams) opcode() Opcode { return OpSetModulationParams }
func (c setModulationParams) appendParams(dst []byte) []byte {
	var ldro byte
	if c.params.LowDataRateOptimize {
		ldro = 0x01
	}
	return append(dst,
		byte(c.params.SpreadingFactor),
		byte(c.params.Bandwidth),
		byte(c.params.CodingRate),
		ldro,
		0x00, 0x00, 0x00, 0x00)
}
func (setModulationParams) responseLen() int { return 0 }

type setPacketParams struct{ params PacketParams }

func (setPacketParams) opcode() Opcode { return OpSetPacketParams }
func (c setPacketParams) appendParams(dst []byte) []byte {
	dst = appendUint16(dst, c.params.PreambleLength)
	return append(dst,
		byte(c.params.HeaderType),
		c.params.PayloadLength,
		byte(c.params.CrcType),
		byte(c.params.InvertIq),
		0x00, 0x00, 0x00)
}
func (setPacketParams) responseLen() int { return 0 }

type setCadParams struct{ params CadParams }

func (setCadParams) opcode() Opcode { return OpSetCadParams }
func (c setCadParams) appendParams(dst []byte) []byte {
	dst = append(dst,
		byte(c.params.Symbols),
		c.params.DetPeak,
		c.params.DetMin,
		byte(c.params.ExitMode))
	return appendUint24(dst, uint32(c.params.Timeout))
}
func (setCadParams) responseLen() int { return 0 }

type setBufferBaseAddress struct{ txBase, rxBase byte }

func (setBufferBaseAddress) opcode() Opcode { return OpSetBufferBaseAddress }
func (c setBufferBaseAddress) appendParams(dst []byte) []byte {
	return append(dst, c.txBase, c.rxBase)
}
func (setBufferBaseAddress) responseLen() int { return 0 }

type setTxParams struct{ params TxParams }

func (setTxParams) opcode() Opcode { return OpSetTxParams }
func (c setTxParams) appendParams(dst []byte) []byte {
	return append(dst, byte(c.params.Power), byte(c.params.RampTime))
}
func (setTxParams) responseLen() int { return 0 }

type getStatus struct{}

func (getStatus) opcode() Opcode { return OpGetStatus }
func (getStatus) appendParams(dst []byte) []byte { return dst }
func (getStatus) responseLen() int { return 1 }

type getRssiInst struct{}

func (getRssiInst) opcode() Opcode { return OpGetRssiInst }
func (getRssiInst) appendParams(dst []byte) []byte { return dst }
func (getRssiInst) responseLen() int { return 2 }

type getRxBufferStatus struct{}

func (getRxBufferStatus) opcode() Opcode { return OpGetRxBufferStatus }
func (getRxBufferStatus) appendParams(dst []byte) []byte { return dst }
func (getRxBufferStatus) responseLen() int { return 3 }

type getPacketStatus struct{}

func (getPacketStatus) opcode() Opcode { return OpGetPacketStatus }
func (getPacketStatus) appendParams(dst []byte) []byte { return dst }
func (getPacketStatus) responseLen() int { return 4 }

type getDeviceErrors struct{}

func (getDeviceErrors) opcode() Opcode { return OpGetDeviceErrors }
func (getDeviceErrors) appendParams(dst []byte) []byte { return dst }
func (getDeviceErrors) responseLen() int { return 3 }

type clearDeviceErrors struct{}

func (clearDeviceErrors) opcode() Opcode { return OpClearDeviceErrors }
func (clearDeviceErrors) appendParams(dst []byte) []byte { return append(dst, 0x00, 0x00) }
func (clearDeviceErrors) responseLen() int { return 0 }

type getStats struct{}

func (getStats) opcode() Opcode { return OpGetStats }
func (getStats) appendParams(dst []byte) []byte { return dst }
func (getStats) responseLen() int { return 7 }

type resetStats struct{}

func (resetStats) opcode() Opcode { return OpResetStats }
func (resetStats) appendParams(dst []byte) []byte {
	return append(dst, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00)
}
func (resetStats) responseLen() int { return 0 }

type getIrqStatus struct{}

func (getIrqStatus) opcode() Opcode { return OpGetIrqStatus }
func (getIrqStatus) appendParams(dst []byte) []byte { return dst }
func (getIrqStatus) responseLen() int { return 3 }

type clearIrqStatus struct{ mask IrqMask }

func (clearIrqStatus) opcode() Opcode { return OpClearIrqStatus }
func (c clearIrqStatus) appendParams(dst []byte) []byte {
	return appendUint16(dst, uint16(c.mask))
}
func (clearIrqStatus) responseLen() int { return 0 }

// parseCommand decodes a full encoded frame, as produced by
// encodeFrame, back into its command value. The response padding of
// read commands is how their requested length is recovered.
func parseCommand(frame []byte) (command, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: %w: empty frame", ErrPkg, ErrMalformedResponse)
	}
	op := Opcode(frame[0])
	p := frame[1:]

	fixed := func(n int) error {
		if len(p) != n {
			return fmt.Errorf("%w: %w: %s carries %d parameter bytes, want %d", ErrPkg, ErrMalformedResponse, op, len(p), n)
		}
		return nil
	}
	atLeast := func(n int) error {
		if len(p) < n {
			return fmt.Errorf("%w: %w: %s carries %d parameter bytes, want at least %d", ErrPkg, ErrMalformedResponse, op, len(p), n)
		}
		return nil
	}

	switch op {
	case OpSetSleep:
		if err := fixed(1); err != nil {
			return nil, err
		}
		return setSleep{SleepConfig(p[0])}, nil
	case OpSetStandby:
		if err := fixed(1); err != nil {
			return nil, err
		}
		return setStandby{StandbyConfig(p[0])}, nil
	case OpSetFs:
		if err := fixed(0); err != nil {
			return nil, err
		}
		return setFs{}, nil
	case OpSetTx:
		if err := fixed(3); err != nil {
			return nil, err
		}
		return setTx{RxTxTimeout(uint24(p))}, nil
	case OpSetRx:
		if err := fixed(3); err != nil {
			return nil, err
		}
		return setRx{RxTxTimeout(uint24(p))}, nil
	case OpStopTimerOnPreamble:
		if err := fixed(1); err != nil {
			return nil, err
		}
		return stopTimerOnPreamble{p[0] != 0x00}, nil
	case OpSetRxDutyCycle:
		if err := fixed(6); err != nil {
			return nil, err
		}
		return setRxDutyCycle{RxTxTimeout(uint24(p[0:3])), RxTxTimeout(uint24(p[3:6]))}, nil
	case OpSetCad:
		if err := fixed(0); err != nil {
			return nil, err
		}
		return setCad{}, nil
	case OpSetTxContinuousWave:
		if err := fixed(0); err != nil {
			return nil, err
		}
		return setTxContinuousWave{}, nil
	case OpSetTxInfinitePreamble:
		if err := fixed(0); err != nil {
			return nil, err
		}
		return setTxInfinitePreamble{}, nil
	case OpSetRegulatorMode:
		if err := fixed(1); err != nil {
			return nil, err
		}
		return setRegulatorMode{RegulatorMode(p[0])}, nil
	case OpCalibrate:
		if err := fixed(1); err != nil {
			return nil, err
		}
		return calibrate{CalibParam(p[0])}, nil
	case OpCalibrateImage:
		if err := fixed(2); err != nil {
			return nil, err
		}
		return calibrateImage{CalibImageFreq(binary.BigEndian.Uint16(p))}, nil
	case OpSetPaConfig:
		if err := fixed(4); err != nil {
			return nil, err
		}
		return setPaConfig{PaConfig{PaDutyCycle: p[0], HpMax: p[1], Device: DeviceSel(p[2]), PaLut: p[3]}}, nil
	case OpSetRxTxFallbackMode:
		if err := fixed(1); err != nil {
			return nil, err
		}
		return setRxTxFallbackMode{FallbackMode(p[0])}, nil
	case OpWriteRegister:
		if err := atLeast(3); err != nil {
			return nil, err
		}
		data := make([]byte, len(p)-2)
		copy(data, p[2:])
		return writeRegister{Register(binary.BigEndian.Uint16(p[0:2])), data}, nil
	case OpReadRegister:
		// Address plus the status pad and at least one data pad.
		if err := atLeast(4); err != nil {
			return nil, err
		}
		return readRegister{Register(binary.BigEndian.Uint16(p[0:2])), len(p) - 3}, nil
	case OpWriteBuffer:
		if err := atLeast(2); err != nil {
			return nil, err
		}
		data := make([]byte, len(p)-1)
		copy(data, p[1:])
		return writeBuffer{p[0], data}, nil
	case OpReadBuffer:
		// Offset plus the status pad and at least one data pad.
		if err := atLeast(3); err != nil {
			return nil, err
		}
		return readBuffer{p[0], len(p) - 2}, nil
	case OpSetDioIrqParams:
		if err := fixed(8); err != nil {
			return nil, err
		}
		return setDioIrqParams{
			irq:  IrqMask(binary.BigEndian.Uint16(p[0:2])),
			dio1: IrqMask(binary.BigEndian.Uint16(p[2:4])),
			dio2: IrqMask(binary.BigEndian.Uint16(p[4:6])),
			dio3: IrqMask(binary.BigEndian.Uint16(p[6:8])),
		}, nil
	case OpSetDio2AsRfSwitchCtrl:
		if err := fixed(1); err != nil {
			return nil, err
		}
		return setDio2AsRfSwitchCtrl{p[0] != 0x00}, nil
	case OpSetDio3AsTcxoCtrl:
		if err := fixed(4); err != nil {
			return nil, err
		}
		return setDio3AsTcxoCtrl{TcxoVoltage(p[0]), uint24(p[1:4])}, nil
	case OpSetRfFrequency:
		if err := fixed(4); err != nil {
			return nil, err
		}
		return setRfFrequency{binary.BigEndian.Uint32(p)}, nil
	case OpSetPacketType:
		if err := fixed(1); err != nil {
			return nil, err
		}
		return setPacketType{PacketType(p[0])}, nil
	case OpGetPacketType:
		if err := fixed(2); err != nil {
			return nil, err
		}
		return getPacketType{}, nil
	case OpSetModulationParams:
		if err := fixed(8); err != nil {
			return nil, err
		}
		return setModulationParams{ModulationParams{
			SpreadingFactor:     SpreadingFactor(p[0]),
			Bandwidth:           Bandwidth(p[1]),
			CodingRate:          CodingRate(p[2]),
			LowDataRateOptimize: p[3] != 0x00,
		}}, nil
	case OpSetPacketParams:
		if err := fixed(9); err != nil {
			return nil, err
		}
		return setPacketParams{PacketParams{
			PreambleLength: binary.BigEndian.Uint16(p[0:2]),
			HeaderType:     HeaderType(p[2]),
			PayloadLength:  p[3],
			CrcType:        CrcType(p[4]),
			InvertIq:       IqPolarity(p[5]),
		}}, nil
	case OpSetCadParams:
		if err := fixed(7); err != nil {
			return nil, err
		}
		return setCadParams{CadParams{
			Symbols:  CadSymbols(p[0]),
			DetPeak:  p[1],
			DetMin:   p[2],
			ExitMode: CadExitMode(p[3]),
			Timeout:  RxTxTimeout(uint24(p[4:7])),
		}}, nil
	case OpSetBufferBaseAddress:
		if err := fixed(2); err != nil {
			return nil, err
		}
		return setBufferBaseAddress{p[0], p[1]}, nil
	case OpSetTxParams:
		if err := fixed(2); err != nil {
			return nil, err
		}
		return setTxParams{TxParams{Power: int8(p[0]), RampTime: RampTime(p[1])}}, nil
	case OpGetStatus:
		if err := fixed(1); err != nil {
			return nil, err
		}
		return getStatus{}, nil
	case OpGetRssiInst:
		if err := fixed(2); err != nil {
			return nil, err
		}
		return getRssiInst{}, nil
	case OpGetRxBufferStatus:
		if err := fixed(3); err != nil {
			return nil, err
		}
		return getRxBufferStatus{}, nil
	case OpGetPacketStatus:
		if err := fixed(4); err != nil {
			return nil, err
		}
		return getPacketStatus{}, nil
	case OpGetDeviceErrors:
		if err := fixed(3); err != nil {
			return nil, err
		}
		return getDeviceErrors{}, nil
	case OpClearDeviceErrors:
		if err := fixed(2); err != nil {
			return nil, err
		}
		return clearDeviceErrors{}, nil
	case OpGetStats:
		if err := fixed(7); err != nil {
			return nil, err
		}
		return getStats{}, nil
	case OpResetStats:
		if err := fixed(6); err != nil {
			return nil, err
		}
		return resetStats{}, nil
	case OpGetIrqStatus:
		if err := fixed(3); err != nil {
			return nil, err
		}
		return getIrqStatus{}, nil
	case OpClearIrqStatus:
		if err := fixed(2); err != nil {
			return nil, err
		}
		return clearIrqStatus{IrqMask(binary.BigEndian.Uint16(p))}, nil
	default:
		return nil, fmt.Errorf("%w: %w: unknown opcode 0x%02X", ErrPkg, ErrMalformedResponse, byte(op))
	}
}
