package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/skyhap/bridge/internal/bridge"
	"github.com/skyhap/bridge/internal/config"
	"github.com/skyhap/bridge/internal/haptics"
	"github.com/skyhap/bridge/internal/monitoring"
	"github.com/skyhap/bridge/internal/osc"
	"github.com/skyhap/bridge/internal/serialmux"
)

type replayOptions struct {
	port     int
	realtime bool
	speed    float64
}

func newReplayCmd(opts *options) *cobra.Command {
	ro := &replayOptions{}
	cmd := &cobra.Command{
		Use:   "replay <pcap>",
		Short: "Replay captured OSC traffic to the controller",
		Long: `replay reads a libpcap capture of OSC traffic, for example one taken with
tcpdump -w on the OSC port, and drives the controller exactly as the live
bridge would have.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd, opts, func(ctx context.Context, cfg *config.Config, serial serialmux.SerialMuxInterface) error {
				stats, err := replay(ctx, cfg, serial, args[0], ro)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d packets, %d OSC packets dispatched, %d malformed\n",
					stats.Packets, stats.Dispatched, stats.Malformed)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&ro.port, "port", 9001, "UDP destination port of the OSC traffic in the capture")
	cmd.Flags().BoolVar(&ro.realtime, "realtime", false, "keep the capture's packet timing")
	cmd.Flags().Float64Var(&ro.speed, "speed", 1.0, "speed multiplier for --realtime")
	return cmd
}

// newDirectBridge builds a bridge for commands that call Apply themselves
// instead of running the queue. Diagnostics go to the log and to extra.
func newDirectBridge(cfg *config.Config, serial serialmux.SerialMuxInterface, extra ...bridge.DiagnosticSink) (*bridge.Bridge, *haptics.Translator, error) {
	translator, err := cfg.Haptics.Translator(cfg.OSC.GetPrefix())
	if err != nil {
		return nil, nil, err
	}
	sinks := append(bridge.MultiSink{bridge.LogSink{Log: monitoring.Component("points")}}, extra...)
	b, err := bridge.New(bridge.Config{
		Translator:  translator,
		Sink:        serial,
		Diagnostics: sinks,
	})
	if err != nil {
		return nil, nil, err
	}
	return b, translator, nil
}

// replay applies every captured update synchronously, so commands are written
// in capture order. The first transport error stops the replay.
func replay(ctx context.Context, cfg *config.Config, serial serialmux.SerialMuxInterface, path string, ro *replayOptions) (osc.ReplayStats, error) {
	b, translator, err := newDirectBridge(cfg, serial)
	if err != nil {
		return osc.ReplayStats{}, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu      sync.Mutex
		sendErr error
	)
	dispatcher := osc.NewPrefixDispatcher(translator.Prefix(), func(address string, v haptics.Value) {
		if err := b.Apply(address, v); err != nil && !errors.Is(err, bridge.ErrIgnored) {
			mu.Lock()
			if sendErr == nil {
				sendErr = err
			}
			mu.Unlock()
			cancel()
		}
	})

	stats, err := osc.Replay(ctx, osc.ReplayConfig{
		Path:            path,
		Port:            ro.port,
		Realtime:        ro.realtime,
		SpeedMultiplier: ro.speed,
		Dispatcher:      dispatcher,
	})

	mu.Lock()
	defer mu.Unlock()
	if sendErr != nil {
		return stats, sendErr
	}
	if err != nil {
		return stats, err
	}
	if cfg.Bridge.GetZeroOnExit() {
		if err := b.Release(); err != nil {
			return stats, err
		}
	}
	return stats, nil
}
