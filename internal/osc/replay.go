package osc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	goosc "github.com/hypebeast/go-osc/osc"

	"github.com/skyhap/bridge/internal/monitoring"
)

// ReplayConfig configures replay of a capture of OSC traffic.
type ReplayConfig struct {
	// Path of a classic libpcap capture file.
	Path string
	// Port selects UDP datagrams by destination port. Zero means 9001.
	Port int
	// Realtime waits between packets as they were spaced in the capture.
	Realtime bool
	// SpeedMultiplier scales Realtime waits (2.0 = twice as fast).
	SpeedMultiplier float64
	Dispatcher      goosc.Dispatcher
}

// ReplayStats summarises a finished replay.
type ReplayStats struct {
	Packets    int
	Dispatched int
	Malformed  int
}

// Replay reads a capture and feeds every OSC packet sent to the configured
// port through the dispatcher, in order, on the calling goroutine.
func Replay(ctx context.Context, config ReplayConfig) (ReplayStats, error) {
	var stats ReplayStats
	if config.Dispatcher == nil {
		return stats, errors.New("replay: dispatcher is required")
	}
	port := config.Port
	if port == 0 {
		port = 9001
	}
	speed := config.SpeedMultiplier
	if speed <= 0 {
		speed = 1.0
	}
	log := monitoring.Component("replay")

	f, err := os.Open(config.Path)
	if err != nil {
		return stats, fmt.Errorf("failed to open PCAP file %s: %w", config.Path, err)
	}
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	if err != nil {
		return stats, fmt.Errorf("failed to read PCAP header of %s: %w", config.Path, err)
	}
	log.Info().Str("file", config.Path).Int("port", port).Bool("realtime", config.Realtime).Msg("PCAP replay started")

	var lastCapture time.Time
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		data, ci, err := r.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("read packet %d: %w", stats.Packets+1, err)
		}
		stats.Packets++

		packet := gopacket.NewPacket(data, r.LinkType(), gopacket.Default)
		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || int(udp.DstPort) != port || len(udp.Payload) == 0 {
			continue
		}

		if config.Realtime {
			if !lastCapture.IsZero() {
				delay := time.Duration(float64(ci.Timestamp.Sub(lastCapture)) / speed)
				if delay > 0 {
					select {
					case <-ctx.Done():
						return stats, ctx.Err()
					case <-time.After(delay):
					}
				}
			}
			lastCapture = ci.Timestamp
		}

		oscPacket, err := goosc.ParsePacket(string(udp.Payload))
		if err != nil || oscPacket == nil {
			stats.Malformed++
			log.Debug().Err(err).Int("packet", stats.Packets).Msg("skipping malformed OSC payload")
			continue
		}
		config.Dispatcher.Dispatch(oscPacket)
		stats.Dispatched++
	}

	log.Info().
		Int("packets", stats.Packets).
		Int("dispatched", stats.Dispatched).
		Int("malformed", stats.Malformed).
		Msg("PCAP replay complete")
	return stats, nil
}
