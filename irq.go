package sx126x

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
)

// IrqMask selects interrupt sources in the chip's 16-bit IRQ register.
// The same bit layout is used for the mask arguments of SetDioIrqParams
// and ClearIrqStatus and for the word returned by GetIrqStatus.
type IrqMask uint16

// IrqStatus is a decoded snapshot of the IRQ register. It shares the
// IrqMask bit layout.
type IrqStatus = IrqMask

const (
	// IrqTxDone signals that a packet transmission completed.
	IrqTxDone IrqMask = 1 << 0
	// IrqRxDone signals that a packet was received.
	IrqRxDone IrqMask = 1 << 1
	// IrqPreambleDetected signals that a LoRa or FSK preamble was detected.
	IrqPreambleDetected IrqMask = 1 << 2
	// IrqSyncWordValid signals a valid FSK sync word.
	IrqSyncWordValid IrqMask = 1 << 3
	// IrqHeaderValid signals a valid LoRa header.
	IrqHeaderValid IrqMask = 1 << 4
	// IrqHeaderError signals a LoRa header CRC failure.
	IrqHeaderError IrqMask = 1 << 5
	// IrqCrcError signals a payload CRC failure.
	IrqCrcError IrqMask = 1 << 6
	// IrqCadDone signals that a channel activity detection run finished.
	IrqCadDone IrqMask = 1 << 7
	// IrqCadDetected signals that channel activity was detected.
	IrqCadDetected IrqMask = 1 << 8
	// IrqTimeout signals that an RX or TX timeout elapsed.
	IrqTimeout IrqMask = 1 << 9

	// IrqNone selects no interrupt source.
	IrqNone IrqMask = 0x0000
	// IrqAll selects every interrupt source.
	IrqAll IrqMask = 0x03FF
)

var irqNames = []struct {
	bit  IrqMask
	name string
}{
	{IrqTxDone, "TxDone"},
	{IrqRxDone, "RxDone"},
	{IrqPreambleDetected, "PreambleDetected"},
	{IrqSyncWordValid, "SyncWordValid"},
	{IrqHeaderValid, "HeaderValid"},
	{IrqHeaderError, "HeaderError"},
	{IrqCrcError, "CrcError"},
	{IrqCadDone, "CadDone"},
	{IrqCadDetected, "CadDetected"},
	{IrqTimeout, "Timeout"},
}

// Has reports whether every bit of m is set.
func (i IrqMask) Has(m IrqMask) bool {
	return i&m == m
}

func (i IrqMask) String() string {
	if i == 0 {
		return "none"
	}
	var parts []string
	for _, d := range irqNames {
		if i&d.bit != 0 {
			parts = append(parts, d.name)
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("0x%04X", uint16(i))
	}
	return strings.Join(parts, "|")
}

func decodeIrqStatus(data []byte) (IrqStatus, error) {
	if len(data) != 2 {
		return 0, fmt.Errorf("%w: %w: irq status response is %d bytes, want 2", ErrPkg, ErrMalformedResponse, len(data))
	}
	return IrqStatus(binary.BigEndian.Uint16(data)), nil
}

// irqCache accumulates the interrupt flags and the most recent status
// byte seen on the bus. The DIO1 edge handler and the foreground
// command path touch it concurrently, so every access goes through the
// mutex and readers only ever get copies.
type irqCache struct {
	mu     sync.Mutex
	irq    IrqStatus
	status Status
	// wake is a single-slot notification. A send overwrites nothing:
	// if a wake is already pending the new one is dropped, which is
	// enough because the waiter re-reads the cache on every wake.
	wake chan struct{}
}

func newIrqCache() *irqCache {
	return &irqCache{wake: make(chan struct{}, 1)}
}

// update ORs newly observed flags into the cache, waking any waiter
// when a flag appears that was not already set. Flags the waiter has
// already seen must not wake it again or the wait would spin.
func (c *irqCache) update(flags IrqStatus) {
	c.mu.Lock()
	fresh := flags &^ c.irq
	c.irq |= flags
	c.mu.Unlock()
	if fresh != 0 {
		c.notify()
	}
}

// clear removes the masked flags from the cache.
func (c *irqCache) clear(mask IrqMask) {
	c.mu.Lock()
	c.irq &^= mask
	c.mu.Unlock()
}

// snapshot returns a copy of the accumulated flags.
func (c *irqCache) snapshot() IrqStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.irq
}

// setStatus records the status byte echoed by the last transfer.
func (c *irqCache) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// lastStatus returns the status byte recorded by the last transfer.
func (c *irqCache) lastStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// notify signals the waiter without blocking. Safe to call from the
// pin watch goroutine.
func (c *irqCache) notify() {
	select {
	case c.wake <- struct{}{}:
	default:
		// A wake is already pending.
	}
}
