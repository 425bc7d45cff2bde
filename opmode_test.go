package sx126x

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allModes = []OperatingMode{
	ModeSleep, ModeStandbyRC, ModeStandbyXOSC, ModeFS, ModeTX, ModeRX, ModeCalibrating,
}

func TestAllowedModes(t *testing.T) {
	tests := []struct {
		op      Opcode
		allowed []OperatingMode
	}{
		{OpSetSleep, []OperatingMode{ModeStandbyRC, ModeStandbyXOSC}},
		{OpSetStandby, allModes},
		{OpSetFs, []OperatingMode{ModeStandbyRC, ModeStandbyXOSC, ModeFS}},
		{OpSetTx, []OperatingMode{ModeStandbyXOSC, ModeFS}},
		{OpSetRx, []OperatingMode{ModeStandbyXOSC, ModeFS}},
		{OpSetCad, []OperatingMode{ModeStandbyXOSC, ModeFS}},
		{OpSetTxContinuousWave, []OperatingMode{ModeStandbyXOSC, ModeFS}},
		{OpSetRxDutyCycle, []OperatingMode{ModeStandbyRC, ModeStandbyXOSC}},
		{OpCalibrate, []OperatingMode{ModeStandbyRC}},
		{OpCalibrateImage, []OperatingMode{ModeStandbyRC}},
		// Opcodes without a rule are accepted everywhere but sleep.
		{OpGetIrqStatus, []OperatingMode{ModeStandbyRC, ModeStandbyXOSC, ModeFS, ModeTX, ModeRX, ModeCalibrating}},
		{OpWriteBuffer, []OperatingMode{ModeStandbyRC, ModeStandbyXOSC, ModeFS, ModeTX, ModeRX, ModeCalibrating}},
	}
	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			s := allowedModes(tt.op)
			want := make(map[OperatingMode]bool, len(tt.allowed))
			for _, m := range tt.allowed {
				want[m] = true
			}
			for _, m := range allModes {
				assert.Equal(t, want[m], s.has(m), "%s from %s", tt.op, m)
			}
		})
	}
}

func TestCommandTarget(t *testing.T) {
	tests := []struct {
		cmd    command
		target OperatingMode
	}{
		{setSleep{SleepWarmStart}, ModeSleep},
		{setStandby{StandbyRC}, ModeStandbyRC},
		{setStandby{StandbyXOSC}, ModeStandbyXOSC},
		{setFs{}, ModeFS},
		{setTx{0}, ModeTX},
		{setTxContinuousWave{}, ModeTX},
		{setTxInfinitePreamble{}, ModeTX},
		{setRx{0}, ModeRX},
		{setCad{}, ModeRX},
		{setRxDutyCycle{100, 200}, ModeRX},
		{calibrate{CalibAll}, ModeStandbyRC},
		{calibrateImage{CalibImage902to928}, ModeStandbyRC},
	}
	for _, tt := range tests {
		got, ok := commandTarget(tt.cmd)
		require.True(t, ok, "%s should change the mode", tt.cmd.opcode())
		assert.Equal(t, tt.target, got, "%s", tt.cmd.opcode())
	}

	for _, cmd := range []command{getStatus{}, writeRegister{RegRxGain, []byte{0x96}}, clearIrqStatus{IrqAll}} {
		_, ok := commandTarget(cmd)
		assert.False(t, ok, "%s should not change the mode", cmd.opcode())
	}
}

func TestIsCalibration(t *testing.T) {
	assert.True(t, isCalibration(calibrate{CalibAll}))
	assert.True(t, isCalibration(calibrateImage{CalibImage902to928}))
	assert.False(t, isCalibration(setTx{0}))
}

func TestPlanStrict(t *testing.T) {
	d := &Device{}
	d.mode = ModeStandbyXOSC

	seq, err := d.plan(setTx{0})
	require.NoError(t, err)
	require.Len(t, seq, 1)
	assert.Equal(t, command(setTx{0}), seq[0])

	d.mode = ModeSleep
	seq, err = d.plan(setTx{0})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.Nil(t, seq)
	assert.Contains(t, err.Error(), "SetTx")
	assert.Contains(t, err.Error(), "Sleep")
}

func TestPlanAutoBridge(t *testing.T) {
	d := &Device{}
	d.config.Policy = PolicyAutoBridge

	// SetTx only runs from STDBY_XOSC or FS, so the bridge goes
	// through STDBY_XOSC.
	d.mode = ModeStandbyRC
	seq, err := d.plan(setTx{0})
	require.NoError(t, err)
	require.Len(t, seq, 2)
	assert.Equal(t, command(setStandby{StandbyXOSC}), seq[0])
	assert.Equal(t, command(setTx{0}), seq[1])

	// Calibration only runs from STDBY_RC.
	d.mode = ModeRX
	seq, err = d.plan(calibrate{CalibAll})
	require.NoError(t, err)
	require.Len(t, seq, 2)
	assert.Equal(t, command(setStandby{StandbyRC}), seq[0])

	// Status reads from sleep bridge through STDBY_RC.
	d.mode = ModeSleep
	seq, err = d.plan(getStats{})
	require.NoError(t, err)
	require.Len(t, seq, 2)
	assert.Equal(t, command(setStandby{StandbyRC}), seq[0])

	// A command already legal in the current mode is passed through.
	d.mode = ModeFS
	seq, err = d.plan(setTx{0})
	require.NoError(t, err)
	require.Len(t, seq, 1)
}

func TestOperatingModeString(t *testing.T) {
	assert.Equal(t, "Sleep", ModeSleep.String())
	assert.Equal(t, "StandbyRC", ModeStandbyRC.String())
	assert.Equal(t, "Calibrating", ModeCalibrating.String())
	assert.Equal(t, "unknown", OperatingMode(0xFF).String())
}

func TestTransitionPolicyString(t *testing.T) {
	assert.Equal(t, "strict", PolicyStrict.String())
	assert.Equal(t, "auto-bridge", PolicyAutoBridge.String())
}
