package serialmux

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/skyhap/bridge/internal/haptics"
)

func TestNewSerialMux(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	if mux == nil {
		t.Fatal("NewSerialMux returned nil")
	}
	if mux.subscribers == nil {
		t.Error("subscribers map not initialised")
	}
}

func TestSendCommand_AddsNewline(t *testing.T) {
	mux, port := NewMockSerialMux(false)

	if err := mux.SendCommand("s1,512,10"); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if got := string(port.GetWrittenData()); got != "s1,512,10\n" {
		t.Errorf("written = %q, want %q", got, "s1,512,10\n")
	}
}

func TestSendCommand_DoesNotDoubleNewline(t *testing.T) {
	mux, port := NewMockSerialMux(false)

	cmd := haptics.Command{Index: 15, Target: 1023, Ramp: 10}
	if err := mux.SendCommand(string(cmd.Encode())); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if got := string(port.GetWrittenData()); got != "s15,1023,10\n" {
		t.Errorf("written = %q, want %q", got, "s15,1023,10\n")
	}
}

func TestSendCommand_WriteError(t *testing.T) {
	mux, port := NewMockSerialMux(false)
	want := errors.New("device unplugged")
	port.WriteError = want

	err := mux.SendCommand("r")
	if !errors.Is(err, want) {
		t.Fatalf("SendCommand error = %v, want wrapping %v", err, want)
	}
	if !strings.Contains(err.Error(), `"r"`) {
		t.Errorf("error %q does not name the command", err)
	}
}

func TestSendCommand_PartialWrite(t *testing.T) {
	mux, port := NewMockSerialMux(false)
	port.ShortWrite = true

	if err := mux.SendCommand("s1,0,10"); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("SendCommand error = %v, want ErrWriteFailed", err)
	}
}

func TestSendCommand_ConcurrentLinesStayWhole(t *testing.T) {
	mux, port := NewMockSerialMux(false)
	port.WriteLatency = time.Millisecond

	var wg sync.WaitGroup
	for i := 1; i <= 7; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cmd := haptics.Command{Index: i, Target: i * 100, Ramp: 10}
			if err := mux.SendCommand(string(cmd.Encode())); err != nil {
				t.Errorf("SendCommand: %v", err)
			}
		}(i)
	}
	wg.Wait()

	cmds := port.WrittenCommands()
	if len(cmds) != 7 {
		t.Fatalf("got %d whole commands, want 7: %q", len(cmds), port.GetWrittenData())
	}
	seen := map[int]bool{}
	for _, c := range cmds {
		if c.Target != c.Index*100 {
			t.Errorf("interleaved command %+v", c)
		}
		seen[c.Index] = true
	}
	if len(seen) != 7 {
		t.Errorf("saw %d distinct points, want 7", len(seen))
	}
}

func TestInitialise_SendsReset(t *testing.T) {
	mux, port := NewMockSerialMux(false)
	if err := mux.Initialise(); err != nil {
		t.Fatalf("Initialise: %v", err)
	}
	if got := string(port.GetWrittenData()); got != "r\n" {
		t.Errorf("written = %q, want %q", got, "r\n")
	}
}

func TestInitialise_WriteFailure(t *testing.T) {
	mux, port := NewMockSerialMux(false)
	port.WriteError = errors.New("boom")
	if err := mux.Initialise(); err == nil {
		t.Fatal("expected error from Initialise")
	}
}

func TestMonitor_BroadcastsToSubscribers(t *testing.T) {
	mux, port := NewMockSerialMux(false)

	id1, ch1 := mux.Subscribe()
	id2, ch2 := mux.Subscribe()
	defer mux.Unsubscribe(id1)
	defer mux.Unsubscribe(id2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)

	port.AddReadData([]byte("point 1: at 0, ramp 10, target 512\r\n"))

	for i, ch := range []chan string{ch1, ch2} {
		select {
		case line := <-ch:
			if line != "point 1: at 0, ramp 10, target 512" {
				t.Errorf("subscriber %d got %q", i, line)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestMonitor_EchoedCommands(t *testing.T) {
	mux, _ := NewMockSerialMux(true)
	id, ch := mux.Subscribe()
	defer mux.Unsubscribe(id)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)

	// give Monitor a chance to start reading before the subscriber is needed
	time.Sleep(10 * time.Millisecond)
	if err := mux.SendCommand("s3,0,10"); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}

	select {
	case line := <-ch:
		if ClassifyLine(line) != LineEcho {
			t.Errorf("line %q classified as %s, want echo", line, ClassifyLine(line))
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for echo")
	}
}

func TestMonitor_ContextCancellation(t *testing.T) {
	mux, _ := NewMockSerialMux(false)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- mux.Monitor(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Monitor error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
}

func TestMonitor_ReadError(t *testing.T) {
	mux, port := NewMockSerialMux(false)
	want := errors.New("usb reset")

	errCh := make(chan error, 1)
	go func() { errCh <- mux.Monitor(context.Background()) }()
	port.FailNextRead(want)

	select {
	case err := <-errCh:
		if !errors.Is(err, want) {
			t.Errorf("Monitor error = %v, want %v", err, want)
		}
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after read error")
	}
}

func TestMonitor_SkipsBlockedSubscriber(t *testing.T) {
	mux, port := NewMockSerialMux(false)

	// never read from blocked
	_, _ = mux.Subscribe()
	id, ch := mux.Subscribe()
	defer mux.Unsubscribe(id)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)

	var got []string
	var mu sync.Mutex
	done := make(chan struct{})
	go func() {
		for line := range ch {
			mu.Lock()
			got = append(got, line)
			n := len(got)
			mu.Unlock()
			if n == 1 {
				close(done)
			}
		}
	}()

	for i := 0; i < subscriberBuffer+5; i++ {
		port.AddReadData([]byte("unknown command\n"))
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reader behind a blocked subscriber got nothing")
	}
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	mux, _ := NewMockSerialMux(false)
	id, ch := mux.Subscribe()
	mux.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Error("expected closed channel after Unsubscribe")
	}
	// second call is a no-op
	mux.Unsubscribe(id)
	mux.Unsubscribe("nonexistent")
}

func TestSubscribe_UniqueIDs(t *testing.T) {
	mux, _ := NewMockSerialMux(false)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, _ := mux.Subscribe()
		if seen[id] {
			t.Fatalf("duplicate subscriber id %s", id)
		}
		seen[id] = true
	}
}

func TestClose_ClosesSubscribersAndPort(t *testing.T) {
	mux, port := NewMockSerialMux(false)
	_, ch1 := mux.Subscribe()
	_, ch2 := mux.Subscribe()

	if err := mux.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for _, ch := range []chan string{ch1, ch2} {
		if _, ok := <-ch; ok {
			t.Error("expected subscriber channel closed")
		}
	}
	if !port.Closed {
		t.Error("port not closed")
	}
}

func TestClose_ReturnsPortError(t *testing.T) {
	mux, port := NewMockSerialMux(false)
	port.CloseError = errors.New("close failed")
	if err := mux.Close(); err == nil || err.Error() != "close failed" {
		t.Errorf("Close error = %v, want close failed", err)
	}
}

func TestMonitor_StopsAfterClose(t *testing.T) {
	mux, _ := NewMockSerialMux(false)

	errCh := make(chan error, 1)
	go func() { errCh <- mux.Monitor(context.Background()) }()
	time.Sleep(10 * time.Millisecond)
	mux.Close()

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("expected read error after port close")
		}
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after Close")
	}
}
