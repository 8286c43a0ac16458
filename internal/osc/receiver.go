package osc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	goosc "github.com/hypebeast/go-osc/osc"
	"github.com/rs/zerolog"

	"github.com/skyhap/bridge/internal/monitoring"
)

// DefaultListenAddress is where VRChat-style clients send avatar parameters.
const DefaultListenAddress = "0.0.0.0:9001"

const maxDatagramSize = 65535

// Receiver serves OSC over UDP and dispatches parameter updates.
type Receiver struct {
	address     string
	rcvBuf      int
	logInterval time.Duration
	conn        net.PacketConn
	dispatcher  *PrefixDispatcher
	malformed   atomic.Uint64
	log         zerolog.Logger
}

// ReceiverConfig contains configuration options for the OSC receiver.
type ReceiverConfig struct {
	Address     string
	Prefix      string
	Handler     Handler
	RcvBuf      int
	LogInterval time.Duration
	// Conn is an already bound socket to serve instead of binding Address.
	Conn net.PacketConn
}

// NewReceiver creates a receiver. Handler is required.
func NewReceiver(config ReceiverConfig) (*Receiver, error) {
	if config.Handler == nil {
		return nil, errors.New("osc receiver: handler is required")
	}
	address := config.Address
	if address == "" {
		address = DefaultListenAddress
	}
	logInterval := config.LogInterval
	if logInterval == 0 {
		logInterval = time.Minute
	}
	return &Receiver{
		address:     address,
		rcvBuf:      config.RcvBuf,
		logInterval: logInterval,
		conn:        config.Conn,
		dispatcher:  NewPrefixDispatcher(config.Prefix, config.Handler),
		log:         monitoring.Component("osc"),
	}, nil
}

// Dispatcher exposes the prefix dispatcher, mainly for its counters.
func (r *Receiver) Dispatcher() *PrefixDispatcher { return r.dispatcher }

// Start binds the socket (unless one was supplied) and serves until ctx is
// cancelled. Cancellation closes the socket, which unblocks the read loop.
func (r *Receiver) Start(ctx context.Context) error {
	conn := r.conn
	if conn == nil {
		c, err := net.ListenPacket("udp", r.address)
		if err != nil {
			return fmt.Errorf("failed to listen on UDP address %s: %w", r.address, err)
		}
		conn = c
	}
	defer conn.Close()

	if r.rcvBuf > 0 {
		if udp, ok := conn.(*net.UDPConn); ok {
			if err := udp.SetReadBuffer(r.rcvBuf); err != nil {
				r.log.Warn().Err(err).Int("bytes", r.rcvBuf).Msg("failed to set UDP receive buffer size")
			}
		}
	}

	r.log.Info().Str("addr", conn.LocalAddr().String()).Str("prefix", r.dispatcher.prefix).Msg("OSC receiver started")

	serveErr := make(chan error, 1)
	go func() { serveErr <- r.serve(conn) }()
	go r.startStatsLogging(ctx)

	select {
	case <-ctx.Done():
		conn.Close()
		<-serveErr
		r.log.Info().Msg("OSC receiver stopping due to context cancellation")
		return ctx.Err()
	case err := <-serveErr:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("osc server: %w", err)
	}
}

// serve reads and dispatches datagrams on one goroutine so updates reach the
// handler in arrival order.
func (r *Receiver) serve(conn net.PacketConn) error {
	buf := make([]byte, maxDatagramSize)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			return err
		}
		packet, err := goosc.ParsePacket(string(buf[:n]))
		if err != nil || packet == nil {
			r.malformed.Add(1)
			r.log.Debug().Err(err).Int("bytes", n).Msg("dropping malformed OSC datagram")
			continue
		}
		r.dispatcher.Dispatch(packet)
	}
}

// Malformed is the number of datagrams that did not parse as OSC.
func (r *Receiver) Malformed() uint64 { return r.malformed.Load() }

func (r *Receiver) startStatsLogging(ctx context.Context) {
	ticker := time.NewTicker(r.logInterval)
	defer ticker.Stop()

	var lastDelivered, lastFiltered uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d, f := r.dispatcher.Delivered(), r.dispatcher.Filtered()
			if d == lastDelivered && f == lastFiltered {
				continue
			}
			r.log.Info().
				Uint64("delivered", d-lastDelivered).
				Uint64("filtered", f-lastFiltered).
				Dur("interval", r.logInterval).
				Msg("OSC stats")
			lastDelivered, lastFiltered = d, f
		}
	}
}
