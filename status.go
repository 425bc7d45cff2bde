package sx126x

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// ChipMode is the operating mode the chip reports in bits 6:4 of the
// status byte it clocks out on every SPI transfer.
type ChipMode byte

const (
	ChipModeUnused      ChipMode = 0x0
	ChipModeStandbyRC   ChipMode = 0x2
	ChipModeStandbyXOSC ChipMode = 0x3
	ChipModeFS          ChipMode = 0x4
	ChipModeRX          ChipMode = 0x5
	ChipModeTX          ChipMode = 0x6
)

func (m ChipMode) String() string {
	switch m {
	case ChipModeStandbyRC:
		return "STBY_RC"
	case ChipModeStandbyXOSC:
		return "STBY_XOSC"
	case ChipModeFS:
		return "FS"
	case ChipModeRX:
		return "RX"
	case ChipModeTX:
		return "TX"
	default:
		return "unknown"
	}
}

// CommandStatus is the command execution status the chip reports in
// bits 3:1 of the status byte.
type CommandStatus byte

const (
	CommandStatusReserved      CommandStatus = 0x0
	CommandStatusDataAvailable CommandStatus = 0x2
	CommandStatusTimeout       CommandStatus = 0x3
	CommandStatusProcessingErr CommandStatus = 0x4
	CommandStatusExecFailure   CommandStatus = 0x5
	CommandStatusTxDone        CommandStatus = 0x6
)

func (s CommandStatus) String() string {
	switch s {
	case CommandStatusDataAvailable:
		return "data available"
	case CommandStatusTimeout:
		return "command timeout"
	case CommandStatusProcessingErr:
		return "command processing error"
	case CommandStatusExecFailure:
		return "failure to execute"
	case CommandStatusTxDone:
		return "tx done"
	default:
		return "reserved"
	}
}

// Status is the raw status byte the transceiver echoes on MISO during
// every command transfer. Bits 6:4 carry the chip mode, bits 3:1 the
// command status; bit 7 and bit 0 are reserved.
type Status byte

// ChipMode extracts the operating mode field.
func (s Status) ChipMode() ChipMode {
	return ChipMode(s>>4) & 0x7
}

// CommandStatus extracts the command status field.
func (s Status) CommandStatus() CommandStatus {
	return CommandStatus(s>>1) & 0x7
}

// Failed reports whether the command status field signals that the chip
// could not run the last command.
func (s Status) Failed() bool {
	switch s.CommandStatus() {
	case CommandStatusTimeout, CommandStatusProcessingErr, CommandStatusExecFailure:
		return true
	}
	return false
}

func (s Status) String() string {
	return fmt.Sprintf("0x%02X (mode=%s, cmd=%s)", byte(s), s.ChipMode(), s.CommandStatus())
}

// ChipError reports a failure condition carried in the status byte the
// chip echoed while a command was transferred. The decoded status is
// kept for caller inspection.
type ChipError struct {
	Command Opcode
	Status  Status
}

func (e *ChipError) Error() string {
	return fmt.Sprintf("chip rejected %s: status %s", e.Command, e.Status)
}

func (e *ChipError) Unwrap() error { return ErrChip }

// DeviceErrors is the 16-bit error word returned by GetDeviceErrors.
// Bits latch when the corresponding startup or calibration step fails
// and stay set until ClearDeviceErrors.
type DeviceErrors uint16

const (
	DeviceErrRC64kCalib DeviceErrors = 1 << 0
	DeviceErrRC13MCalib DeviceErrors = 1 << 1
	DeviceErrPLLCalib   DeviceErrors = 1 << 2
	DeviceErrADCCalib   DeviceErrors = 1 << 3
	DeviceErrImgCalib   DeviceErrors = 1 << 4
	DeviceErrXOSCStart  DeviceErrors = 1 << 5
	DeviceErrPLLLock    DeviceErrors = 1 << 6
	DeviceErrPaRamp     DeviceErrors = 1 << 8
)

var deviceErrorNames = []struct {
	bit  DeviceErrors
	name string
}{
	{DeviceErrRC64kCalib, "RC64K_CALIB_ERR"},
	{DeviceErrRC13MCalib, "RC13M_CALIB_ERR"},
	{DeviceErrPLLCalib, "PLL_CALIB_ERR"},
	{DeviceErrADCCalib, "ADC_CALIB_ERR"},
	{DeviceErrImgCalib, "IMG_CALIB_ERR"},
	{DeviceErrXOSCStart, "XOSC_START_ERR"},
	{DeviceErrPLLLock, "PLL_LOCK_ERR"},
	{DeviceErrPaRamp, "PA_RAMP_ERR"},
}

func (e DeviceErrors) String() string {
	if e == 0 {
		return "none"
	}
	var parts []string
	for _, d := range deviceErrorNames {
		if e&d.bit != 0 {
			parts = append(parts, d.name)
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("0x%04X", uint16(e))
	}
	return strings.Join(parts, "|")
}

// Stats groups the LoRa reception counters returned by GetStats.
type Stats struct {
	PacketsReceived uint16
	CrcErrors       uint16
	HeaderErrors    uint16
}

// RxBufferStatus locates the last received payload in the 256-byte data
// buffer.
type RxBufferStatus struct {
	PayloadLength byte
	StartOffset   byte
}

// PacketStatus holds the signal quality figures of the last received
// LoRa packet.
type PacketStatus struct {
	// RssiPkt is the RSSI averaged over the packet, in dBm.
	RssiPkt int
	// SnrPkt is the estimated signal to noise ratio, in dB.
	SnrPkt int
	// SignalRssiPkt is the RSSI estimation after despreading, in dBm.
	SignalRssiPkt int
}

func decodeDeviceErrors(data []byte) (DeviceErrors, error) {
	if len(data) != 2 {
		return 0, fmt.Errorf("%w: %w: device errors response is %d bytes, want 2", ErrPkg, ErrMalformedResponse, len(data))
	}
	return DeviceErrors(binary.BigEndian.Uint16(data)), nil
}

func decodeStats(data []byte) (Stats, error) {
	if len(data) != 6 {
		return Stats{}, fmt.Errorf("%w: %w: stats response is %d bytes, want 6", ErrPkg, ErrMalformedResponse, len(data))
	}
	return Stats{
		PacketsReceived: binary.BigEndian.Uint16(data[0:2]),
		CrcErrors:       binary.BigEndian.Uint16(data[2:4]),
		HeaderErrors:    binary.BigEndian.Uint16(data[4:6]),
	}, nil
}

func decodeRxBufferStatus(data []byte) (RxBufferStatus, error) {
	if len(data) != 2 {
		return RxBufferStatus{}, fmt.Errorf("%w: %w: rx buffer status response is %d bytes, want 2", ErrPkg, ErrMalformedResponse, len(data))
	}
	return RxBufferStatus{PayloadLength: data[0], StartOffset: data[1]}, nil
}

func decodePacketStatus(data []byte) (PacketStatus, error) {
	if len(data) != 3 {
		return PacketStatus{}, fmt.Errorf("%w: %w: packet status response is %d bytes, want 3", ErrPkg, ErrMalformedResponse, len(data))
	}
	return PacketStatus{
		RssiPkt:       -int(data[0]) / 2,
		SnrPkt:        int(int8(data[1])) / 4,
		SignalRssiPkt: -int(data[2]) / 2,
	}, nil
}
