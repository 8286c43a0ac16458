package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/skyhap/bridge/internal/bridge"
	"github.com/skyhap/bridge/internal/config"
	"github.com/skyhap/bridge/internal/haptics"
	"github.com/skyhap/bridge/internal/serialmux"
	"github.com/skyhap/bridge/internal/version"
)

// withController loads the configuration, opens the controller and runs fn
// with a monitor routine feeding controller output to subscribers.
func withController(cmd *cobra.Command, opts *options, fn func(ctx context.Context, cfg *config.Config, serial serialmux.SerialMuxInterface) error) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	closeLog, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	serial, err := openMux(cfg, opts.dev)
	if err != nil {
		return err
	}
	defer serial.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go serial.Monitor(ctx)

	return fn(ctx, cfg, serial)
}

// collectLines subscribes to controller output, runs send and returns the
// lines printed within wait.
func collectLines(ctx context.Context, serial serialmux.SerialMuxInterface, wait time.Duration, send func() error) ([]string, error) {
	id, c := serial.Subscribe()
	defer serial.Unsubscribe(id)

	if err := send(); err != nil {
		return nil, err
	}

	var lines []string
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case line, ok := <-c:
			if !ok {
				return lines, nil
			}
			lines = append(lines, line)
		case <-timer.C:
			return lines, nil
		case <-ctx.Done():
			return lines, ctx.Err()
		}
	}
}

func newResetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Reset every point and PWM slice on the controller",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd, opts, func(_ context.Context, _ *config.Config, serial serialmux.SerialMuxInterface) error {
				if err := serial.Initialise(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "controller reset")
				return nil
			})
		},
	}
}

func newQueryCmd(opts *options) *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Print the controller's view of every point",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd, opts, func(ctx context.Context, _ *config.Config, serial serialmux.SerialMuxInterface) error {
				lines, err := collectLines(ctx, serial, wait, func() error {
					return serial.SendCommand(string(haptics.EncodeQuery()))
				})
				if err != nil {
					return err
				}
				state := serialmux.NewDeviceState()
				out := cmd.OutOrStdout()
				for _, line := range lines {
					if state.HandleLine(line) == serialmux.LineQueryReport {
						fmt.Fprintln(out, line)
					}
				}
				if len(state.Snapshot().Points) == 0 {
					return errors.New("no point reports received from the controller")
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 500*time.Millisecond, "how long to collect the controller's answer")
	return cmd
}

func newSelfTestCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "selftest",
		Short: "Run the controller's built-in sweep over all points",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd, opts, func(_ context.Context, _ *config.Config, serial serialmux.SerialMuxInterface) error {
				if err := serial.SendCommand(string(haptics.EncodeSelfTest())); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "self-test started")
				return nil
			})
		},
	}
}

func newSendCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "send <point> <value>",
		Short: "Drive one point as if its parameter had been received",
		Example: `  skyhap send R1 0.5 --device /dev/ttyACM0
  skyhap send L7 1`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseFloat(strings.TrimSpace(args[1]), 64)
			if err != nil {
				return fmt.Errorf("invalid value %q: %w", args[1], err)
			}
			return withController(cmd, opts, func(_ context.Context, cfg *config.Config, serial serialmux.SerialMuxInterface) error {
				b, _, err := newDirectBridge(cfg, serial, bridge.WriterSink{W: cmd.OutOrStdout()})
				if err != nil {
					return err
				}
				if err := b.Apply(args[0], haptics.Float(value)); err != nil {
					if errors.Is(err, bridge.ErrIgnored) {
						return fmt.Errorf("point %q: %w", args[0], err)
					}
					return err
				}
				return nil
			})
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
