package haptics

import (
	"math"
	"strconv"
)

// Value is an inbound parameter argument after it has been checked at the
// protocol boundary. The zero Value is invalid.
type Value struct {
	f      float64
	ok     bool
	reason string
}

// Float wraps a numeric argument. NaN and infinities are not well formed
// intensities and produce an invalid Value.
func Float(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Invalid("not finite")
	}
	return Value{f: f, ok: true}
}

// Invalid records why an argument was rejected.
func Invalid(reason string) Value {
	return Value{reason: reason}
}

func (v Value) Valid() bool { return v.ok }

// Float returns the wrapped number, 0 for invalid values.
func (v Value) Float() float64 { return v.f }

func (v Value) Reason() string {
	if v.ok {
		return ""
	}
	if v.reason == "" {
		return "missing"
	}
	return v.reason
}

func (v Value) String() string {
	if !v.ok {
		return "invalid(" + v.Reason() + ")"
	}
	return strconv.FormatFloat(v.f, 'g', -1, 64)
}

// ParameterUpdate is one inbound (address, value) message.
type ParameterUpdate struct {
	Address string
	Value   Value
}
