package sx126x

import "fmt"

// OperatingMode is the driver's record of the chip operating mode. It
// advances only after the bus transaction commanding a transition has
// completed, so a failed transfer leaves it untouched.
type OperatingMode uint8

const (
	// ModeSleep is the lowest power state. The SPI interface is dead
	// until a wake-up pulse, only SetStandby is accepted.
	ModeSleep OperatingMode = iota
	// ModeStandbyRC runs the 13 MHz RC oscillator. Configuration and
	// calibration happen here.
	ModeStandbyRC
	// ModeStandbyXOSC keeps the crystal oscillator running.
	ModeStandbyXOSC
	// ModeFS has the frequency synthesizer locked on the RF frequency.
	ModeFS
	// ModeTX is transmitting.
	ModeTX
	// ModeRX is receiving. Channel activity detection and duty cycled
	// listening are recorded as RX too.
	ModeRX
	// ModeCalibrating means a calibration run held the busy line past
	// the configured bound. The chip returns to STDBY_RC by itself
	// once it finishes.
	ModeCalibrating
)

func (m OperatingMode) String() string {
	switch m {
	case ModeSleep:
		return "Sleep"
	case ModeStandbyRC:
		return "StandbyRC"
	case ModeStandbyXOSC:
		return "StandbyXOSC"
	case ModeFS:
		return "FS"
	case ModeTX:
		return "TX"
	case ModeRX:
		return "RX"
	case ModeCalibrating:
		return "Calibrating"
	default:
		return "unknown"
	}
}

// TransitionPolicy selects how the driver handles a command issued in
// a mode the chip does not accept it from.
type TransitionPolicy uint8

const (
	// PolicyStrict rejects the command with ErrInvalidStateTransition
	// before any bus traffic.
	PolicyStrict TransitionPolicy = iota
	// PolicyAutoBridge silently issues the missing SetStandby first
	// and then the requested command.
	PolicyAutoBridge
)

func (p TransitionPolicy) String() string {
	if p == PolicyAutoBridge {
		return "auto-bridge"
	}
	return "strict"
}

// modeSet is a bitset over operating modes.
type modeSet uint8

func ms(modes ...OperatingMode) modeSet {
	var s modeSet
	for _, m := range modes {
		s |= 1 << m
	}
	return s
}

func (s modeSet) has(m OperatingMode) bool {
	return s&(1<<m) != 0
}

// anyButSleep covers every mode a configuration or status command may
// be issued from.
var anyButSleep = ms(ModeStandbyRC, ModeStandbyXOSC, ModeFS, ModeTX, ModeRX, ModeCalibrating)

// modeRules is the transition table: for each mode sensitive opcode,
// the set of modes the chip accepts it in. Opcodes not listed fall
// back to anyButSleep.
var modeRules = map[Opcode]modeSet{
	OpSetSleep:              ms(ModeStandbyRC, ModeStandbyXOSC),
	OpSetStandby:            ms(ModeSleep, ModeStandbyRC, ModeStandbyXOSC, ModeFS, ModeTX, ModeRX, ModeCalibrating),
	OpSetFs:                 ms(ModeStandbyRC, ModeStandbyXOSC, ModeFS),
	OpSetTx:                 ms(ModeStandbyXOSC, ModeFS),
	OpSetRx:                 ms(ModeStandbyXOSC, ModeFS),
	OpSetCad:                ms(ModeStandbyXOSC, ModeFS),
	OpSetTxContinuousWave:   ms(ModeStandbyXOSC, ModeFS),
	OpSetTxInfinitePreamble: ms(ModeStandbyXOSC, ModeFS),
	OpSetRxDutyCycle:        ms(ModeStandbyRC, ModeStandbyXOSC),
	OpCalibrate:             ms(ModeStandbyRC),
	OpCalibrateImage:        ms(ModeStandbyRC),
}

func allowedModes(op Opcode) modeSet {
	if s, ok := modeRules[op]; ok {
		return s
	}
	return anyButSleep
}

// commandTarget returns the mode the chip is left in once cmd has been
// accepted, if cmd changes the mode at all. Calibration lands back in
// STDBY_RC because dispatch only advances the mode after the busy line
// released, which is when the run has finished.
func commandTarget(cmd command) (OperatingMode, bool) {
	switch c := cmd.(type) {
	case setSleep:
		return ModeSleep, true
	case setStandby:
		if c.config == StandbyXOSC {
			return ModeStandbyXOSC, true
		}
		return ModeStandbyRC, true
	case setFs:
		return ModeFS, true
	case setTx, setTxContinuousWave, setTxInfinitePreamble:
		return ModeTX, true
	case setRx, setCad, setRxDutyCycle:
		return ModeRX, true
	case calibrate, calibrateImage:
		return ModeStandbyRC, true
	default:
		return 0, false
	}
}

// isCalibration reports whether cmd holds the busy line high while the
// chip calibrates.
func isCalibration(cmd command) bool {
	switch cmd.(type) {
	case calibrate, calibrateImage:
		return true
	}
	return false
}

// plan validates cmd against the recorded mode and returns the command
// sequence to issue. Under PolicyStrict an illegal transition is
// rejected before any bus traffic. Under PolicyAutoBridge the missing
// SetStandby is prepended: STDBY_RC when the command accepts it,
// STDBY_XOSC otherwise.
func (d *Device) plan(cmd command) ([]command, error) {
	allowed := allowedModes(cmd.opcode())
	if allowed.has(d.mode) {
		return []command{cmd}, nil
	}
	if d.config.Policy != PolicyAutoBridge {
		return nil, fmt.Errorf("%w: %w: %s from %s", ErrPkg, ErrInvalidStateTransition, cmd.opcode(), d.mode)
	}
	var bridge StandbyConfig
	switch {
	case allowed.has(ModeStandbyRC):
		bridge = StandbyRC
	case allowed.has(ModeStandbyXOSC):
		bridge = StandbyXOSC
	default:
		// No standby can host the command, there is nothing to bridge
		// through.
		return nil, fmt.Errorf("%w: %w: %s from %s", ErrPkg, ErrInvalidStateTransition, cmd.opcode(), d.mode)
	}
	return []command{setStandby{bridge}, cmd}, nil
}
