package sx126x

import (
	"os"
	"sync"
	"testing"
	"time"
)

func TestMain(m *testing.M) {
	// Keep test output free of driver logs.
	SetLogger(&nopLogger{})
	os.Exit(m.Run())
}

// --- Mocks ---

// statusOK is the byte the mock chip echoes on every transfer unless a
// test overrides it: STDBY_RC with data available, which never trips
// Status.Failed.
const statusOK = 0x24

// mockSPI records every frame clocked out and answers like the chip:
// the status byte echoed on every position, overlaid with a queued or
// handler generated response.
type mockSPI struct {
	mu       sync.Mutex
	frames   [][]byte
	rxQueue  [][]byte
	handlers map[Opcode]func(r []byte)
	status   byte
	failNext error
}

func newMockSPI() *mockSPI {
	return &mockSPI{
		handlers: make(map[Opcode]func(r []byte)),
		status:   statusOK,
	}
}

func (m *mockSPI) Tx(w, r []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Copy w before touching r: the driver transfers in place, so
	// overlaying the response would clobber the trace.
	m.frames = append(m.frames, append([]byte(nil), w...))
	op := Opcode(m.frames[len(m.frames)-1][0])

	if err := m.failNext; err != nil {
		m.failNext = nil
		return err
	}

	for i := range r {
		r[i] = m.status
	}
	if h, ok := m.handlers[op]; ok {
		h(r)
		return nil
	}
	if len(m.rxQueue) > 0 {
		next := m.rxQueue[0]
		m.rxQueue = m.rxQueue[1:]
		n := len(r)
		if len(next) < n {
			n = len(next)
		}
		copy(r, next[:n])
	}
	return nil
}

// queueRx arranges for an upcoming transfer to read back data, laid
// out as the full frame the chip would drive.
func (m *mockSPI) queueRx(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rxQueue = append(m.rxQueue, data)
}

// handle answers every frame carrying op by mutating the read buffer.
func (m *mockSPI) handle(op Opcode, h func(r []byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[op] = h
}

// setStatus changes the echoed status byte.
func (m *mockSPI) setStatus(s byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = s
}

// failOnce makes the next transfer return err.
func (m *mockSPI) failOnce(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

// reset drops the recorded frames and queued responses, keeping
// handlers and status.
func (m *mockSPI) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = nil
	m.rxQueue = nil
}

func (m *mockSPI) frameCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

func (m *mockSPI) frame(i int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames[i]
}

// opcodes returns the first byte of every recorded frame.
func (m *mockSPI) opcodes() []Opcode {
	m.mu.Lock()
	defer m.mu.Unlock()
	ops := make([]Opcode, len(m.frames))
	for i, f := range m.frames {
		ops[i] = Opcode(f[0])
	}
	return ops
}

// trace returns all recorded frames flattened into one byte stream.
func (m *mockSPI) trace() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	var flat []byte
	for _, f := range m.frames {
		flat = append(flat, f...)
	}
	return flat
}

// irqWords builds a GetIrqStatus handler that serves the given flag
// words one read at a time, repeating the last one.
func irqWords(words ...IrqMask) func(r []byte) {
	i := 0
	return func(r []byte) {
		w := words[len(words)-1]
		if i < len(words) {
			w = words[i]
			i++
		}
		r[2] = byte(w >> 8)
		r[3] = byte(w)
	}
}

// mockPin simulates one GPIO line. level is what Read returns, outs
// records every Out call.
type mockPin struct {
	mu        sync.Mutex
	mode      string
	pull      Pull
	level     Level
	outs      []Level
	edge      Edge
	handler   func()
	unwatched bool
}

func (m *mockPin) Out(l Level) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = "output"
	m.level = l
	m.outs = append(m.outs, l)
	return nil
}

func (m *mockPin) In(pull Pull) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = "input"
	m.pull = pull
	return nil
}

func (m *mockPin) Read() Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

func (m *mockPin) Watch(edge Edge, handler func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edge = edge
	m.handler = handler
	return nil
}

func (m *mockPin) Unwatch() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = nil
	m.unwatched = true
	return nil
}

// set drives the line level seen by Read.
func (m *mockPin) set(l Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.level = l
}

// fire simulates an edge reaching the watch handler.
func (m *mockPin) fire() {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h()
	}
}

// --- Shared test rig ---

// testRig wires a Device to mock hardware, preloaded with the two
// responses the init sequence needs: zeroed device errors and the sync
// word readback.
type testRig struct {
	dev   *Device
	spi   *mockSPI
	reset *mockPin
	busy  *mockPin
	dio1  *mockPin
}

func newTestRig(t *testing.T, mutate func(*HardwareConfig)) *testRig {
	t.Helper()

	spi := newMockSPI()
	spi.handle(OpGetDeviceErrors, func(r []byte) {
		r[2], r[3] = 0x00, 0x00
	})
	spi.handle(OpReadRegister, func(r []byte) {
		// Only the two byte sync word readback gets real data, the
		// single byte errata reads keep the echoed status value.
		if len(r) == 6 {
			r[4], r[5] = 0x34, 0x44
		}
	})

	rig := &testRig{
		spi:   spi,
		reset: &mockPin{},
		busy:  &mockPin{},
		dio1:  &mockPin{},
	}
	cfg := HardwareConfig{
		RadioConfig: RadioConfig{
			PacketType: PacketTypeLoRa,
			Frequency:  915000000,
		},
		Reset:       rig.reset,
		Busy:        rig.busy,
		Dio1:        rig.dio1,
		BusyTimeout: 25 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	dev, err := NewWithHardware(cfg, spi)
	if err != nil {
		t.Fatalf("NewWithHardware failed: %v", err)
	}
	rig.dev = dev

	// Drop the init frames so tests only see their own traffic.
	spi.reset()
	return rig
}
