package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/skyhap/bridge/internal/bridge"
	"github.com/skyhap/bridge/internal/config"
	"github.com/skyhap/bridge/internal/haptics"
	"github.com/skyhap/bridge/internal/monitoring"
	"github.com/skyhap/bridge/internal/mqtt"
	"github.com/skyhap/bridge/internal/osc"
	"github.com/skyhap/bridge/internal/serialmux"
	"github.com/skyhap/bridge/internal/version"
)

func runBridge(cmd *cobra.Command, opts *options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	closeLog, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serial, err := openMux(cfg, opts.dev)
	if err != nil {
		return err
	}
	defer serial.Close()

	return serve(ctx, cfg, serial)
}

// serve runs every bridge routine until ctx is cancelled or one of them
// fails, then shuts the rest down. A transport failure is returned so the
// process exits non-zero.
func serve(ctx context.Context, cfg *config.Config, serial serialmux.SerialMuxInterface) error {
	log := monitoring.Component("main")
	log.Info().Str("version", version.String()).Msg("starting")

	translator, err := cfg.Haptics.Translator(cfg.OSC.GetPrefix())
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := bridge.NewMetrics(reg)
	if err != nil {
		return err
	}

	sinks := bridge.MultiSink{bridge.LogSink{Log: monitoring.Component("points")}}
	if cfg.MQTT.Enabled {
		pub, err := mqtt.NewPublisher(cfg.MQTT)
		if err != nil {
			return err
		}
		defer pub.Close()
		sinks = append(sinks, pub)
	}

	b, err := bridge.New(bridge.Config{
		Translator:  translator,
		Sink:        serial,
		Diagnostics: sinks,
		Metrics:     metrics,
		QueueSize:   cfg.Bridge.QueueSize,
		ZeroOnExit:  cfg.Bridge.GetZeroOnExit(),
	})
	if err != nil {
		return err
	}

	if cfg.Bridge.GetResetOnStart() {
		if err := serial.Initialise(); err != nil {
			return err
		}
		log.Info().Msg("controller reset")
	}

	receiver, err := osc.NewReceiver(osc.ReceiverConfig{
		Address: cfg.OSC.Listen,
		Prefix:  translator.Prefix(),
		RcvBuf:  cfg.OSC.RcvBuf,
		Handler: func(address string, v haptics.Value) { b.Submit(address, v) },
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
		cancel()
	}

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := serial.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("serial monitor failed")
			fail(err)
		}
		log.Debug().Msg("monitor routine terminated")
	}()

	// feed controller output into the device state for the admin page
	state := serialmux.NewDeviceState()
	wg.Add(1)
	go func() {
		defer wg.Done()
		id, c := serial.Subscribe()
		defer serial.Unsubscribe(id)
		for {
			select {
			case line, ok := <-c:
				if !ok {
					return
				}
				state.HandleLine(line)
			case <-ctx.Done():
				log.Debug().Msg("subscribe routine terminated")
				return
			}
		}
	}()

	// single writer draining OSC updates to the controller
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			fail(err)
		}
		log.Debug().Msg("bridge routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := receiver.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("OSC receiver failed")
			fail(err)
		}
	}()

	if cfg.Admin.GetEnabled() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mux := http.NewServeMux()
			serial.AttachAdminRoutes(mux)
			state.AttachAdminRoutes(mux)
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
			if err := serveAdmin(ctx, cfg.Admin.Listen, mux); err != nil {
				log.Error().Err(err).Msg("admin server failed")
				fail(err)
			}
		}()
	}

	wg.Wait()
	log.Info().Msg("graceful shutdown complete")

	errMu.Lock()
	defer errMu.Unlock()
	return firstErr
}

// serveAdmin serves the debug and metrics endpoints until ctx is cancelled.
func serveAdmin(ctx context.Context, addr string, handler http.Handler) error {
	log := monitoring.Component("admin")
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("admin server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down admin server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("admin server shutdown error")
		// force close the server if graceful shutdown fails
		if err := server.Close(); err != nil {
			log.Warn().Err(err).Msg("admin server force close error")
		}
	}
	return nil
}
