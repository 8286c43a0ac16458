package osc

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	goosc "github.com/hypebeast/go-osc/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyhap/bridge/internal/haptics"
)

func TestNewReceiver_RequiresHandler(t *testing.T) {
	_, err := NewReceiver(ReceiverConfig{})
	assert.Error(t, err)
}

func TestReceiver_Loopback(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port

	got := make(chan haptics.ParameterUpdate, 4)
	r, err := NewReceiver(ReceiverConfig{
		Prefix: haptics.DefaultPrefix,
		Conn:   conn,
		Handler: func(address string, v haptics.Value) {
			got <- haptics.ParameterUpdate{Address: address, Value: v}
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()

	client := goosc.NewClient("127.0.0.1", port)
	require.NoError(t, client.Send(goosc.NewMessage("/avatar/parameters/Unrelated", float32(1))))
	require.NoError(t, client.Send(goosc.NewMessage(haptics.DefaultPrefix+"L7", float32(1.0))))

	select {
	case u := <-got:
		assert.Equal(t, haptics.DefaultPrefix+"L7", u.Address)
		assert.Equal(t, 1.0, u.Value.Float())
	case <-time.After(2 * time.Second):
		t.Fatal("no update received")
	}

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled), "Start returned %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("receiver did not stop after cancel")
	}
}

func TestReceiver_BindFailure(t *testing.T) {
	r, err := NewReceiver(ReceiverConfig{
		Address: "127.0.0.1:99999",
		Handler: func(string, haptics.Value) {},
	})
	require.NoError(t, err)
	assert.Error(t, r.Start(context.Background()))
}

func startReceiver(t *testing.T, handler Handler) (*Receiver, int) {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	r, err := NewReceiver(ReceiverConfig{
		Prefix:  haptics.DefaultPrefix,
		Conn:    conn,
		Handler: handler,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r, conn.LocalAddr().(*net.UDPAddr).Port
}

func TestReceiver_PreservesArrivalOrder(t *testing.T) {
	const n = 20
	got := make(chan float64, n)
	_, port := startReceiver(t, func(_ string, v haptics.Value) { got <- v.Float() })

	client := goosc.NewClient("127.0.0.1", port)
	for i := 1; i <= n; i++ {
		require.NoError(t, client.Send(goosc.NewMessage(haptics.DefaultPrefix+"R1", float32(i)/n)))
	}
	// the last update for a point is the one that must win, so it arrives last
	require.NoError(t, client.Send(goosc.NewMessage(haptics.DefaultPrefix+"R1", float32(0))))

	var values []float64
	for len(values) < n+1 {
		select {
		case v := <-got:
			values = append(values, v)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d of %d updates", len(values), n+1)
		}
	}
	for i := 0; i < n; i++ {
		assert.InDelta(t, float64(i+1)/n, values[i], 1e-6, "update %d out of order", i)
	}
	assert.Equal(t, 0.0, values[n])
}

func TestReceiver_CountsMalformedDatagrams(t *testing.T) {
	got := make(chan string, 1)
	r, port := startReceiver(t, func(address string, _ haptics.Value) { got <- address })

	raw, err := net.Dial("udp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer raw.Close()
	_, err = raw.Write([]byte("not osc"))
	require.NoError(t, err)

	client := goosc.NewClient("127.0.0.1", port)
	require.NoError(t, client.Send(goosc.NewMessage(haptics.DefaultPrefix+"R2", float32(0.5))))

	select {
	case address := <-got:
		assert.Equal(t, haptics.DefaultPrefix+"R2", address)
	case <-time.After(2 * time.Second):
		t.Fatal("no update received after malformed datagram")
	}
	assert.Equal(t, uint64(1), r.Malformed())
}
