package sx126x

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransmitHappyPath(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.spi.handle(OpGetIrqStatus, irqWords(IrqTxDone))

	require.NoError(t, rig.dev.Transmit(context.Background(), []byte("ping")))

	wantOps := []Opcode{
		OpSetStandby,
		OpSetPacketParams,
		OpSetBufferBaseAddress,
		OpWriteBuffer,
		OpClearIrqStatus,
		OpSetTx,
		OpGetIrqStatus,
		OpClearIrqStatus,
	}
	assert.Equal(t, wantOps, rig.spi.opcodes())

	// XOSC hop, payload length patched into the packet params, payload
	// staged at offset 0, TX started without a chip-side timer.
	assert.Equal(t, []byte{0x80, 0x01}, rig.spi.frame(0))
	assert.Equal(t, []byte{0x8C, 0x00, 0x08, 0x00, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00}, rig.spi.frame(1))
	assert.Equal(t, []byte{0x8F, 0x00, 0x00}, rig.spi.frame(2))
	assert.Equal(t, []byte{0x0E, 0x00, 'p', 'i', 'n', 'g'}, rig.spi.frame(3))
	assert.Equal(t, []byte{0x83, 0x00, 0x00, 0x00}, rig.spi.frame(5))
	// The consumed completion flags are cleared again afterwards.
	assert.Equal(t, []byte{0x02, 0x02, 0x01}, rig.spi.frame(7))

	assert.Equal(t, byte(4), rig.dev.Config().Packet.PayloadLength)
	assert.Equal(t, ModeStandbyRC, rig.dev.Mode())
}

func TestTransmitWokenByDio1(t *testing.T) {
	rig := newTestRig(t, nil)
	// The first IRQ read comes up empty, so the wait parks on the wake
	// channel until the pin edge fires.
	rig.spi.handle(OpGetIrqStatus, irqWords(IrqNone, IrqTxDone))

	timer := time.AfterFunc(10*time.Millisecond, rig.dio1.fire)
	defer timer.Stop()

	require.NoError(t, rig.dev.Transmit(context.Background(), []byte{0xAA}))
	assert.Equal(t, ModeStandbyRC, rig.dev.Mode())
}

func TestTransmitChipTimeout(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.spi.handle(OpGetIrqStatus, irqWords(IrqTimeout))

	err := rig.dev.Transmit(context.Background(), []byte{0x01})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	// The chip fell back by itself even though the packet never left.
	assert.Equal(t, ModeStandbyRC, rig.dev.Mode())
}

func TestTransmitContextDeadline(t *testing.T) {
	rig := newTestRig(t, nil)
	// The chip never reports completion.
	rig.spi.handle(OpGetIrqStatus, irqWords(IrqNone))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := rig.dev.Transmit(ctx, []byte{0x01})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// A context deadline also arms the chip-side TX timer with the
	// remaining time.
	setTxFrame := rig.spi.frame(5)
	require.Equal(t, byte(0x83), setTxFrame[0])
	assert.NotEqual(t, []byte{0x00, 0x00, 0x00}, setTxFrame[1:])
}

func TestTransmitRejectsBadPayloads(t *testing.T) {
	rig := newTestRig(t, nil)

	err := rig.dev.Transmit(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidParameter)

	err = rig.dev.Transmit(context.Background(), bytes.Repeat([]byte{0x00}, 256))
	assert.ErrorIs(t, err, ErrInvalidParameter)

	assert.Equal(t, 0, rig.spi.frameCount())
}

func TestTransmitImplicitHeaderLength(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.spi.handle(OpGetIrqStatus, irqWords(IrqTxDone))
	require.NoError(t, rig.dev.SetPacketParams(PacketParams{8, HeaderImplicit, 4, CrcOn, IqStandard}))
	rig.spi.reset()

	// Implicit headers fix the payload length chip-side, a mismatched
	// payload must be refused before any bus traffic.
	err := rig.dev.Transmit(context.Background(), []byte("abc"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidParameter)
	assert.Equal(t, 0, rig.spi.frameCount())

	require.NoError(t, rig.dev.Transmit(context.Background(), []byte("abcd")))
}

func TestReceiveHappyPath(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.spi.handle(OpGetIrqStatus, irqWords(IrqRxDone))
	rig.spi.handle(OpGetRxBufferStatus, func(r []byte) {
		r[2], r[3] = 4, 0x20
	})
	rig.spi.handle(OpReadBuffer, func(r []byte) {
		copy(r[3:], "pong")
	})

	payload, err := rig.dev.Receive(context.Background(), TimeoutNone)
	require.NoError(t, err)
	assert.Equal(t, []byte("pong"), payload)

	wantOps := []Opcode{
		OpSetStandby,
		OpClearIrqStatus,
		OpSetRx,
		OpGetIrqStatus,
		OpGetRxBufferStatus,
		OpReadBuffer,
		OpClearIrqStatus,
	}
	assert.Equal(t, wantOps, rig.spi.opcodes())
	assert.Equal(t, []byte{0x82, 0x00, 0x00, 0x00}, rig.spi.frame(2))
	// The payload is read from where the chip placed it.
	assert.Equal(t, []byte{0x1E, 0x20, 0x00, 0x00, 0x00, 0x00, 0x00}, rig.spi.frame(5))

	// Single mode: the chip has fallen back on its own.
	assert.Equal(t, ModeStandbyRC, rig.dev.Mode())
}

func TestReceiveContinuousStaysInRx(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.spi.handle(OpGetIrqStatus, irqWords(IrqRxDone))
	rig.spi.handle(OpGetRxBufferStatus, func(r []byte) {
		r[2], r[3] = 1, 0x00
	})
	rig.spi.handle(OpReadBuffer, func(r []byte) {
		r[3] = 0x55
	})

	payload, err := rig.dev.Receive(context.Background(), TimeoutContinuous)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x55}, payload)
	assert.Equal(t, []byte{0x82, 0xFF, 0xFF, 0xFF}, rig.spi.frame(2))
	// Continuous mode keeps the receiver open across packets.
	assert.Equal(t, ModeRX, rig.dev.Mode())
}

func TestReceiveChipTimeout(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.spi.handle(OpGetIrqStatus, irqWords(IrqTimeout))

	_, err := rig.dev.Receive(context.Background(), RxTxTimeout(6400))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	// No payload read was attempted.
	for _, op := range rig.spi.opcodes() {
		assert.NotEqual(t, OpReadBuffer, op)
	}
	assert.Equal(t, ModeStandbyRC, rig.dev.Mode())
}

func TestReceiveCrcError(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.spi.handle(OpGetIrqStatus, irqWords(IrqCrcError))

	_, err := rig.dev.Receive(context.Background(), TimeoutNone)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCRC)
	for _, op := range rig.spi.opcodes() {
		assert.NotEqual(t, OpReadBuffer, op)
	}
}

func TestReceiveContextCancel(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.spi.handle(OpGetIrqStatus, irqWords(IrqNone))

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(10*time.Millisecond, cancel)
	defer timer.Stop()

	_, err := rig.dev.Receive(ctx, TimeoutContinuous)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCad(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.spi.handle(OpGetIrqStatus, irqWords(IrqCadDone|IrqCadDetected))

	detected, err := rig.dev.Cad(context.Background())
	require.NoError(t, err)
	assert.True(t, detected)

	wantOps := []Opcode{
		OpSetStandby,
		OpClearIrqStatus,
		OpSetCad,
		OpGetIrqStatus,
		OpClearIrqStatus,
	}
	assert.Equal(t, wantOps, rig.spi.opcodes())
	assert.Equal(t, []byte{0xC5}, rig.spi.frame(2))
	// Both CAD flags are consumed.
	assert.Equal(t, []byte{0x02, 0x01, 0x80}, rig.spi.frame(4))
	// Default exit mode lands back in STDBY_RC even on a detection.
	assert.Equal(t, ModeStandbyRC, rig.dev.Mode())
}

func TestCadNoActivity(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.spi.handle(OpGetIrqStatus, irqWords(IrqCadDone))

	detected, err := rig.dev.Cad(context.Background())
	require.NoError(t, err)
	assert.False(t, detected)
	assert.Equal(t, ModeStandbyRC, rig.dev.Mode())
}

func TestCadRxExitModeStaysInRx(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.spi.handle(OpGetIrqStatus, irqWords(IrqCadDone|IrqCadDetected))
	require.NoError(t, rig.dev.SetCadParams(CadParams{CadOn8Symb, 22, 10, CadRx, 3200}))

	detected, err := rig.dev.Cad(context.Background())
	require.NoError(t, err)
	assert.True(t, detected)
	// With the CadRx exit mode and activity on the channel the chip
	// keeps listening for the incoming packet.
	assert.Equal(t, ModeRX, rig.dev.Mode())
}

func TestWaitForIrq(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.spi.handle(OpGetIrqStatus, irqWords(IrqNone, IrqPreambleDetected))

	timer := time.AfterFunc(10*time.Millisecond, rig.dio1.fire)
	defer timer.Stop()

	irq, err := rig.dev.WaitForIrq(context.Background(), IrqPreambleDetected)
	require.NoError(t, err)
	assert.True(t, irq.Has(IrqPreambleDetected))
	// The flag is left for the caller to consume.
	assert.True(t, rig.dev.IrqSnapshot().Has(IrqPreambleDetected))
}

func TestWaitForIrqContextCancel(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.spi.handle(OpGetIrqStatus, irqWords(IrqNone))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := rig.dev.WaitForIrq(ctx, IrqRxDone)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTransmitPollingFallbackWithoutDio1(t *testing.T) {
	rig := newTestRig(t, func(c *HardwareConfig) {
		c.Dio1 = nil
	})
	// Completion shows up on the third poll.
	rig.spi.handle(OpGetIrqStatus, irqWords(IrqNone, IrqNone, IrqTxDone))

	require.NoError(t, rig.dev.Transmit(context.Background(), []byte{0x42}))
	assert.Equal(t, ModeStandbyRC, rig.dev.Mode())
}
