package haptics

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultPrefix is the OSC address prefix the avatar parameters arrive under.
const DefaultPrefix = "/avatar/parameters/skyhap_"

// SkipReason explains why an update produced no command.
type SkipReason string

const (
	SkipInvalidValue SkipReason = "invalid_value"
	SkipUnknownPoint SkipReason = "unknown_point"
)

// EngineConfig is the immutable deployment configuration of a Translator.
type EngineConfig struct {
	Prefix string
	Ramp   int
	Curve  Curve
	Points *PointMap
}

// Diagnostic correlates a produced command with the point name and the value
// that caused it.
type Diagnostic struct {
	Point   string
	Value   float64
	Command Command
}

// Translation is the outcome of one update. Skipped is empty when a command
// was produced.
type Translation struct {
	Command    Command
	Diagnostic Diagnostic
	Skipped    SkipReason
}

// Translator turns parameter updates into commands. It holds no mutable state
// and may be shared between goroutines.
type Translator struct {
	prefix string
	ramp   int
	curve  Curve
	points *PointMap
}

func NewTranslator(cfg EngineConfig) (*Translator, error) {
	if cfg.Points == nil {
		return nil, errors.New("translator requires a point map")
	}
	if cfg.Ramp < 0 {
		return nil, fmt.Errorf("ramp must not be negative, got %d", cfg.Ramp)
	}
	curve := cfg.Curve
	if curve == nil {
		curve = Cubic{Wrap: DefaultWrap}
	}
	return &Translator{
		prefix: cfg.Prefix,
		ramp:   cfg.Ramp,
		curve:  curve,
		points: cfg.Points,
	}, nil
}

// StripPrefix removes the configured prefix when present and otherwise
// returns the address unchanged.
func (t *Translator) StripPrefix(address string) string {
	return strings.TrimPrefix(address, t.prefix)
}

// Translate resolves one update. It reports false, with the reason in
// Translation.Skipped, when the value is malformed or the point is unknown.
func (t *Translator) Translate(address string, v Value) (Translation, bool) {
	name := t.StripPrefix(address)
	if !v.Valid() {
		return Translation{Skipped: SkipInvalidValue}, false
	}
	p, ok := t.points.Resolve(name)
	if !ok {
		return Translation{Skipped: SkipUnknownPoint}, false
	}
	cmd := Command{
		Index:  p.Index,
		Target: t.curve.Transform(v.Float()),
		Ramp:   t.ramp,
	}
	return Translation{
		Command:    cmd,
		Diagnostic: Diagnostic{Point: name, Value: v.Float(), Command: cmd},
	}, true
}

func (t *Translator) OnUpdate(u ParameterUpdate) (Translation, bool) {
	return t.Translate(u.Address, u.Value)
}

// Release returns the commands that drive every physical point to zero.
func (t *Translator) Release() []Command {
	points := t.points.Points()
	cmds := make([]Command, 0, len(points))
	for _, p := range points {
		cmds = append(cmds, Command{Index: p.Index, Target: 0, Ramp: t.ramp})
	}
	return cmds
}

func (t *Translator) Prefix() string { return t.prefix }

func (t *Translator) Points() []ActuatorPoint { return t.points.Points() }
