// Package bridge connects parameter updates to the controller. Updates from
// any number of goroutines are queued and a single writer translates them
// into commands, so command lines reach the serial link whole and in order.
package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/skyhap/bridge/internal/haptics"
	"github.com/skyhap/bridge/internal/monitoring"
)

// DefaultQueueSize bounds the updates waiting for the writer.
const DefaultQueueSize = 64

// ErrIgnored is wrapped by Apply when an update produces no command.
var ErrIgnored = errors.New("update ignored")

type Config struct {
	Translator  *haptics.Translator
	Sink        CommandSink
	Diagnostics DiagnosticSink
	Metrics     *Metrics
	QueueSize   int
	// ZeroOnExit drives every point to zero when Run returns.
	ZeroOnExit bool
}

type Bridge struct {
	translator  *haptics.Translator
	sink        CommandSink
	diagnostics DiagnosticSink
	metrics     *Metrics
	zeroOnExit  bool
	queue       chan haptics.ParameterUpdate
	log         zerolog.Logger
}

func New(cfg Config) (*Bridge, error) {
	if cfg.Translator == nil {
		return nil, errors.New("bridge: translator is required")
	}
	if cfg.Sink == nil {
		return nil, errors.New("bridge: command sink is required")
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Bridge{
		translator:  cfg.Translator,
		sink:        cfg.Sink,
		diagnostics: cfg.Diagnostics,
		metrics:     cfg.Metrics,
		zeroOnExit:  cfg.ZeroOnExit,
		queue:       make(chan haptics.ParameterUpdate, size),
		log:         monitoring.Component("bridge"),
	}, nil
}

// Submit queues an update for the writer without blocking. When the queue is
// full the oldest waiting update is evicted so the newest value always reaches
// the controller; Submit then reports false.
func (b *Bridge) Submit(address string, v haptics.Value) bool {
	u := haptics.ParameterUpdate{Address: address, Value: v}
	evicted := false
	for {
		select {
		case b.queue <- u:
			return !evicted
		default:
		}
		select {
		case old := <-b.queue:
			evicted = true
			b.metrics.updateDropped()
			b.log.Warn().Str("address", old.Address).Int("queue", cap(b.queue)).Msg("write queue full, oldest update dropped")
		default:
		}
	}
}

// Apply translates one update and writes the resulting command immediately.
// Updates that produce no command return an error wrapping ErrIgnored. Any
// other error is a transport failure.
func (b *Bridge) Apply(address string, v haptics.Value) error {
	tr, ok := b.translator.Translate(address, v)
	if !ok {
		b.metrics.updateIgnored(string(tr.Skipped))
		ev := b.log.Debug().Str("address", address).Str("reason", string(tr.Skipped))
		if tr.Skipped == haptics.SkipInvalidValue {
			ev = ev.Str("value", v.Reason())
		}
		ev.Msg("update ignored")
		return fmt.Errorf("%w: %s", ErrIgnored, tr.Skipped)
	}

	if err := b.send(tr.Command); err != nil {
		return err
	}
	b.metrics.commandSent(tr.Diagnostic.Point, tr.Command.Target)

	if b.diagnostics != nil {
		if err := b.diagnostics.Publish(tr.Diagnostic); err != nil {
			b.log.Warn().Err(err).Str("point", tr.Diagnostic.Point).Msg("failed to publish diagnostic")
		}
	}
	return nil
}

func (b *Bridge) send(cmd haptics.Command) error {
	if err := b.sink.SendCommand(string(cmd.Encode())); err != nil {
		b.metrics.transportError()
		return fmt.Errorf("send %s: %w", cmd, err)
	}
	return nil
}

// Run drains the queue until ctx is cancelled or a write fails. A write
// failure is returned as is; cancellation returns ctx.Err(). With ZeroOnExit
// every point is released before Run returns.
func (b *Bridge) Run(ctx context.Context) (err error) {
	b.log.Info().Int("queue", cap(b.queue)).Int("points", len(b.translator.Points())).Msg("bridge running")
	defer func() {
		if !b.zeroOnExit {
			return
		}
		if rerr := b.Release(); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u := <-b.queue:
			if err := b.Apply(u.Address, u.Value); err != nil && !errors.Is(err, ErrIgnored) {
				b.log.Error().Err(err).Msg("transport failure")
				return err
			}
		}
	}
}

// Release writes a zero target for every physical point.
// It stops at the first failure since a dead link fails every later write.
func (b *Bridge) Release() error {
	for _, cmd := range b.translator.Release() {
		if err := b.send(cmd); err != nil {
			return err
		}
	}
	b.log.Info().Msg("all points released")
	return nil
}

// Pending is the number of queued updates.
func (b *Bridge) Pending() int { return len(b.queue) }
