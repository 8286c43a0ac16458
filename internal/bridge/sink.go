package bridge

import (
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/skyhap/bridge/internal/haptics"
)

// CommandSink accepts encoded command lines. *serialmux.SerialMux satisfies
// it.
type CommandSink interface {
	SendCommand(command string) error
}

// DiagnosticSink is told about every command the bridge sends.
type DiagnosticSink interface {
	Publish(d haptics.Diagnostic) error
}

// LogSink prints "<point>: <value>" for each command, the console line
// operators watch while tuning an avatar.
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) Publish(d haptics.Diagnostic) error {
	s.Log.Info().
		Int("index", d.Command.Index).
		Int("target", d.Command.Target).
		Msgf("%s: %v", d.Point, d.Value)
	return nil
}

// WriterSink prints "<point>: <value> <command>" lines to W, for one-shot CLI
// commands.
type WriterSink struct {
	W io.Writer
}

func (s WriterSink) Publish(d haptics.Diagnostic) error {
	_, err := fmt.Fprintf(s.W, "%s: %v %s\n", d.Point, d.Value, d.Command)
	return err
}

// MultiSink publishes to every sink and joins their errors.
type MultiSink []DiagnosticSink

func (m MultiSink) Publish(d haptics.Diagnostic) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
