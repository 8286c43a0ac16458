package haptics

import (
	"fmt"
	"math"
	"strings"
)

// DefaultWrap is the controller's PWM wrap value in the reference firmware.
const DefaultWrap = 1024

// Curve shapes a normalised intensity into a drive target in [0, wrap).
type Curve interface {
	Transform(v float64) int
}

// Cubic is the reference response: wrap * v^3. Low intensities stay close to
// zero so the motors do not buzz, values near 1 approach full scale.
type Cubic struct {
	Wrap int
}

func (c Cubic) Transform(v float64) int {
	return clampTarget(float64(c.Wrap)*v*v*v, c.Wrap)
}

// Linear maps intensity straight onto the drive range.
type Linear struct {
	Wrap int
}

func (l Linear) Transform(v float64) int {
	return clampTarget(float64(l.Wrap)*v, l.Wrap)
}

// CurveByName returns the named curve for the given wrap. An empty name
// selects the cubic curve.
func CurveByName(name string, wrap int) (Curve, error) {
	if wrap <= 0 {
		return nil, fmt.Errorf("wrap must be positive, got %d", wrap)
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "cubic":
		return Cubic{Wrap: wrap}, nil
	case "linear":
		return Linear{Wrap: wrap}, nil
	default:
		return nil, fmt.Errorf("unknown response curve %q: expected cubic or linear", name)
	}
}

// clampTarget rounds x and clamps it into [0, wrap). Negative and NaN inputs
// map to 0, anything at or past wrap maps to wrap-1. The comparison happens
// before the int conversion so huge inputs cannot overflow.
func clampTarget(x float64, wrap int) int {
	if wrap <= 0 || !(x > 0) {
		return 0
	}
	r := math.Round(x)
	if r >= float64(wrap) {
		return wrap - 1
	}
	return int(r)
}
