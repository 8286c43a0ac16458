package serialmux

import (
	"context"
	"testing"
	"time"
)

func TestDisabledSerialMux_UnsubscribeClosesChannel(t *testing.T) {
	d := NewDisabledSerialMux()
	id, ch := d.Subscribe()

	done := make(chan struct{})
	go func() {
		_, ok := <-ch
		if ok {
			t.Errorf("expected channel to be closed on unsubscribe")
		}
		close(done)
	}()

	// Give goroutine a moment to start and block on read
	time.Sleep(10 * time.Millisecond)

	d.Unsubscribe(id)

	select {
	case <-done:
		// success
	case <-time.After(1 * time.Second):
		t.Fatalf("timeout waiting for subscriber to be unblocked after Unsubscribe")
	}
}

func TestDisabledSerialMux_CloseClosesAllChannels(t *testing.T) {
	d := NewDisabledSerialMux()
	id1, ch1 := d.Subscribe()
	_, ch2 := d.Subscribe()

	done1 := make(chan struct{})
	done2 := make(chan struct{})

	go func() {
		_, ok := <-ch1
		if ok {
			t.Errorf("expected ch1 to be closed on Close")
		}
		close(done1)
	}()

	go func() {
		_, ok := <-ch2
		if ok {
			t.Errorf("expected ch2 to be closed on Close")
		}
		close(done2)
	}()

	// Give goroutines a moment to start and block on read
	time.Sleep(10 * time.Millisecond)

	if err := d.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	select {
	case <-done1:
	case <-time.After(1 * time.Second):
		t.Fatalf("timeout waiting for ch1 to be closed after Close")
	}

	select {
	case <-done2:
	case <-time.After(1 * time.Second):
		t.Fatalf("timeout waiting for ch2 to be closed after Close")
	}

	// Ensure unsubscribing a non-existent id is a no-op (should not panic)
	d.Unsubscribe(id1)
}

func TestDisabledSerialMux_SendCommandIsNoop(t *testing.T) {
	d := NewDisabledSerialMux()
	if err := d.Initialise(); err != nil {
		t.Fatalf("Initialise: %v", err)
	}
	if err := d.SendCommand("s1,512,10\n"); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
}

func TestDisabledSerialMux_SubscribeAfterClose(t *testing.T) {
	d := NewDisabledSerialMux()
	d.Close()
	_, ch := d.Subscribe()
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("Subscribe after Close returned an open channel")
	}
}

func TestDisabledSerialMux_MonitorReturnsOnCancel(t *testing.T) {
	d := NewDisabledSerialMux()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Monitor(ctx); err != context.Canceled {
		t.Errorf("Monitor = %v, want context.Canceled", err)
	}
}

// the disabled mux must satisfy the same interface the bridge writes to
var _ SerialMuxInterface = (*DisabledSerialMux)(nil)
var _ SerialMuxInterface = (*SerialMux[*TestableSerialPort])(nil)
