package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skyhap/bridge/internal/config"
	"github.com/skyhap/bridge/internal/monitoring"
	"github.com/skyhap/bridge/internal/serialmux"
)

// options holds the global flags shared by every subcommand.
type options struct {
	cfgPath     string
	device      string
	listen      string
	adminListen string
	baud        int
	dev         bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "skyhap [device]",
		Short: "Bridge OSC avatar parameters to a serial haptic controller",
		Long: `skyhap listens for OSC avatar parameter updates and forwards them to a
serial haptic controller as "s<point>,<target>,<ramp>" commands.

The serial device may be given as the single argument, with --device, in the
configuration file or with SKYHAP_SERIAL__DEVICE.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.device = args[0]
			}
			return runBridge(cmd, opts)
		},
	}

	f := cmd.PersistentFlags()
	f.StringVarP(&opts.cfgPath, "config", "c", "", "configuration file (.json, .yaml or .yml)")
	f.StringVarP(&opts.device, "device", "d", "", "serial device of the haptic controller")
	f.IntVar(&opts.baud, "baud", 0, "serial baud rate (default 115200)")
	f.BoolVar(&opts.dev, "dev", false, "run without a controller, logging commands instead")
	cmd.Flags().StringVar(&opts.listen, "listen", "", "OSC listen address (default 0.0.0.0:9001)")
	cmd.Flags().StringVar(&opts.adminListen, "admin-listen", "", "admin HTTP listen address (default localhost:9080)")

	cmd.AddCommand(
		newResetCmd(opts),
		newQueryCmd(opts),
		newSelfTestCmd(opts),
		newSendCmd(opts),
		newReplayCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// loadConfig loads the configuration file and applies flag overrides on top.
func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.device != "" {
		cfg.Serial.Device = opts.device
	}
	if opts.baud != 0 {
		cfg.Serial.BaudRate = opts.baud
	}
	if opts.listen != "" {
		cfg.OSC.Listen = opts.listen
	}
	if opts.adminListen != "" {
		cfg.Admin.Listen = opts.adminListen
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setupLogging installs the configured logger and returns its closer.
func setupLogging(cfg *config.Config) (func(), error) {
	closer, err := monitoring.Setup(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}
	return func() { closer.Close() }, nil
}

// openMux opens the controller link. Tests replace it with a mock.
var openMux = func(cfg *config.Config, dev bool) (serialmux.SerialMuxInterface, error) {
	if dev {
		return serialmux.NewDisabledSerialMux(), nil
	}
	if cfg.Serial.Device == "" {
		return nil, fmt.Errorf("no serial device given: pass it as an argument, with --device or in the config file")
	}
	mux, err := serialmux.NewRealSerialMux(cfg.Serial.Device, cfg.Serial.PortOptions)
	if err != nil {
		return nil, err
	}
	log := monitoring.Component("serial")
	log.Info().
		Str("device", cfg.Serial.Device).
		Str("mode", cfg.Serial.PortOptions.String()).
		Msg("serial port opened")
	return mux, nil
}
