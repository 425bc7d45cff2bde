package sx126x

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRadioConfig(t *testing.T) {
	c := DefaultRadioConfig()

	assert.Equal(t, PacketTypeLoRa, c.PacketType)
	assert.Equal(t, uint32(915000000), c.Frequency)
	assert.Equal(t, uint32(32000000), c.XtalFrequency)
	assert.Equal(t, LoRaSyncWordPublic, c.SyncWord)
	assert.Equal(t, ModulationParams{SF7, BW125, CR4_5, false}, c.Modulation)
	assert.Equal(t, PacketParams{8, HeaderExplicit, 0, CrcOn, IqStandard}, c.Packet)
	assert.Equal(t, PaConfigSX1262(), c.PA)
	assert.Equal(t, TxParams{Power: 14, RampTime: Ramp200us}, c.Tx)
	assert.Equal(t, CalibAll, c.Calib)
	assert.Equal(t, IrqAll, c.Irq)
	assert.Equal(t, IrqTxDone|IrqRxDone|IrqTimeout, c.Dio1Mask)
	assert.Equal(t, IrqNone, c.Dio2Mask)
	assert.Equal(t, FallbackStandbyRC, c.Fallback)
	assert.Equal(t, RegulatorLDO, c.Regulator)
	assert.Equal(t, CadParams{CadOn8Symb, 22, 10, CadOnly, 0}, c.CAD)
	assert.Nil(t, c.TCXO)
	assert.False(t, c.DIO2AsRfSwitch)

	require.NoError(t, c.Validate())
}

func TestApplyDefaultsLeavesExplicitChoices(t *testing.T) {
	c := RadioConfig{
		PacketType: PacketTypeLoRa,
		Frequency:  868000000,
		SyncWord:   LoRaSyncWordPrivate,
		Modulation: ModulationParams{SF12, BW125, CR4_8, true},
		PA:         PaConfigSX1261(),
		Tx:         TxParams{Power: 10, RampTime: Ramp40us},
	}
	c.applyDefaults()

	assert.Equal(t, uint32(868000000), c.Frequency)
	assert.Equal(t, LoRaSyncWordPrivate, c.SyncWord)
	assert.Equal(t, ModulationParams{SF12, BW125, CR4_8, true}, c.Modulation)
	assert.Equal(t, PaConfigSX1261(), c.PA)
	assert.Equal(t, TxParams{Power: 10, RampTime: Ramp40us}, c.Tx)
	// Untouched fields still get filled.
	assert.Equal(t, uint32(32000000), c.XtalFrequency)
	assert.Equal(t, CalibAll, c.Calib)
}

func TestValidateRequiresLoRaPacketType(t *testing.T) {
	// The zero PacketType is the GFSK wire code, so an unset field and
	// an explicit GFSK request are rejected the same way.
	var c RadioConfig
	c.Frequency = 915000000
	c.applyDefaults()

	err := c.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidParameter)
	assert.Contains(t, err.Error(), "only LoRa is supported")
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RadioConfig)
	}{
		{"FrequencyTooLow", func(c *RadioConfig) { c.Frequency = 100000000 }},
		{"FrequencyTooHigh", func(c *RadioConfig) { c.Frequency = 1000000000 }},
		{"PowerAboveSX1262Range", func(c *RadioConfig) { c.Tx.Power = 23 }},
		{"BadRampCode", func(c *RadioConfig) { c.Tx.RampTime = RampTime(0x08) }},
		{"BadCalibBits", func(c *RadioConfig) { c.Calib = CalibParam(0x80) }},
		{"BadFallback", func(c *RadioConfig) { c.Fallback = FallbackMode(0x10) }},
		{"BadRegulator", func(c *RadioConfig) { c.Regulator = RegulatorMode(0x02) }},
		{"BadCadDetMin", func(c *RadioConfig) { c.CAD.DetMin = 9 }},
		{"BadTcxoVoltage", func(c *RadioConfig) { c.TCXO = &TcxoConfig{Voltage: TcxoVoltage(0x08)} }},
		{"TcxoDelayTooLong", func(c *RadioConfig) { c.TCXO = &TcxoConfig{Voltage: Tcxo1V8, Delay: 300 * time.Second} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultRadioConfig()
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidParameter)
		})
	}
}

func TestRfFreqWord(t *testing.T) {
	tests := []struct {
		hz   uint32
		want uint32
	}{
		{915000000, 0x39300000},
		{868000000, 0x36400000},
		{434000000, 0x1B200000},
	}
	for _, tt := range tests {
		c := RadioConfig{Frequency: tt.hz, XtalFrequency: 32000000}
		assert.Equal(t, tt.want, c.rfFreqWord(), "%d Hz", tt.hz)
	}
}

func TestTicks(t *testing.T) {
	assert.Equal(t, uint32(0), ticks(0))
	assert.Equal(t, uint32(0), ticks(-time.Second))
	assert.Equal(t, uint32(1), ticks(15625*time.Nanosecond))
	assert.Equal(t, uint32(320), ticks(5*time.Millisecond))
}

func TestRadioConfigSnapshotRoundtrip(t *testing.T) {
	c := RadioConfig{
		PacketType: PacketTypeLoRa,
		Frequency:  868000000,
	}
	c.applyDefaults()
	c.Modulation = ModulationParams{SF11, BW125, CR4_6, true}
	c.Packet = PacketParams{12, HeaderImplicit, 32, CrcOn, IqInverted}
	c.Dio2Mask = IrqPreambleDetected
	c.Dio3Mask = IrqCadDone
	c.CAD.ExitMode = CadRx
	c.CAD.Timeout = 1600
	c.TCXO = &TcxoConfig{Voltage: Tcxo1V8, Delay: 5 * time.Millisecond}
	c.DIO2AsRfSwitch = true
	require.NoError(t, c.Validate())

	data, err := c.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, data, radioConfigWireLen)
	assert.Equal(t, byte(radioConfigVersion), data[0])

	var got RadioConfig
	require.NoError(t, got.UnmarshalBinary(data))
	assert.Equal(t, c, got)
}

func TestRadioConfigSnapshotWithoutTcxo(t *testing.T) {
	c := DefaultRadioConfig()
	data, err := c.MarshalBinary()
	require.NoError(t, err)

	var got RadioConfig
	require.NoError(t, got.UnmarshalBinary(data))
	assert.Nil(t, got.TCXO)
	assert.Equal(t, c, got)
}

func TestUnmarshalBinaryRejections(t *testing.T) {
	c := DefaultRadioConfig()
	data, err := c.MarshalBinary()
	require.NoError(t, err)

	var got RadioConfig
	assert.ErrorIs(t, got.UnmarshalBinary(data[:radioConfigWireLen-1]), ErrMalformedResponse)
	assert.ErrorIs(t, got.UnmarshalBinary(append(data, 0x00)), ErrMalformedResponse)

	bad := append([]byte(nil), data...)
	bad[0] = 0x02
	err = got.UnmarshalBinary(bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedResponse)
	assert.Contains(t, err.Error(), "version")
}
