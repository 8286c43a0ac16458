package serialmux

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/skyhap/bridge/internal/haptics"
)

var errPortClosed = errors.New("serial port closed")

// TestableSerialPort implements SerialPorter with scriptable behaviour so the
// mux and everything above it can be exercised without a controller attached.
type TestableSerialPort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// WriteLatency adds a delay to each Write call
	WriteLatency time.Duration

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// ShortWrite makes the next Write report one byte fewer than requested
	ShortWrite bool

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// WriteCalls records the number of Write calls
	WriteCalls int

	// Echo makes the port behave like the firmware console, which prints
	// back every byte it receives.
	Echo bool

	// Respond, when set, is called with every write and its result is queued
	// for reading, to script controller answers such as query reports.
	Respond func(written []byte) []byte

	// BlockReads causes Read to block until data is added or Close is called
	BlockReads bool

	readCond *sync.Cond
}

// NewTestableSerialPort creates a port whose reads block until data arrives.
func NewTestableSerialPort() *TestableSerialPort {
	tsp := &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
		BlockReads:  true,
	}
	tsp.readCond = sync.NewCond(&tsp.mu)
	return tsp
}

func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, errPortClosed
	}
	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}
	if t.BlockReads {
		for !t.Closed && t.ReadBuffer.Len() == 0 && t.ReadError == nil {
			t.readCond.Wait()
		}
		if t.Closed {
			return 0, errPortClosed
		}
		if t.ReadError != nil {
			err := t.ReadError
			t.ReadError = nil
			return 0, err
		}
	}
	return t.ReadBuffer.Read(p)
}

func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.WriteCalls++

	if t.Closed {
		return 0, errPortClosed
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}
	if t.WriteLatency > 0 {
		t.mu.Unlock()
		time.Sleep(t.WriteLatency)
		t.mu.Lock()
	}
	if t.ShortWrite && len(p) > 0 {
		t.ShortWrite = false
		t.WriteBuffer.Write(p[:len(p)-1])
		return len(p) - 1, nil
	}
	if t.Echo {
		t.ReadBuffer.Write(p)
		t.readCond.Broadcast()
	}
	if t.Respond != nil {
		if out := t.Respond(p); len(out) > 0 {
			t.ReadBuffer.Write(out)
			t.readCond.Broadcast()
		}
	}
	return t.WriteBuffer.Write(p)
}

// Close marks the port as closed and wakes any blocked reader.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.readCond.Broadcast()
	return t.CloseError
}

// AddReadData queues bytes for subsequent Read calls, as if the controller
// had printed them.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
	t.readCond.Broadcast()
}

// FailNextRead makes the next Read return err, waking a blocked reader.
func (t *TestableSerialPort) FailNextRead(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadError = err
	t.readCond.Broadcast()
}

// GetWrittenData returns a copy of everything written to the port.
func (t *TestableSerialPort) GetWrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	return bytes.Clone(t.WriteBuffer.Bytes())
}

// WrittenCommands returns the set commands written so far, skipping reset,
// query and self-test lines.
func (t *TestableSerialPort) WrittenCommands() []haptics.Command {
	var cmds []haptics.Command
	for _, line := range strings.Split(string(t.GetWrittenData()), "\n") {
		if c, err := haptics.ParseCommand(line); err == nil {
			cmds = append(cmds, c)
		}
	}
	return cmds
}

// Reset clears all buffers and resets state.
func (t *TestableSerialPort) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Reset()
	t.WriteBuffer.Reset()
	t.WriteCalls = 0
	t.Closed = false
	t.ReadError = nil
	t.WriteError = nil
	t.CloseError = nil
	t.ShortWrite = false
	t.WriteLatency = 0
}

// NewMockSerialMux wraps a fresh TestableSerialPort in a SerialMux. When echo
// is set the port prints back whatever is written, like the firmware does.
func NewMockSerialMux(echo bool) (*SerialMux[*TestableSerialPort], *TestableSerialPort) {
	port := NewTestableSerialPort()
	port.Echo = echo
	return NewSerialMux(port), port
}
