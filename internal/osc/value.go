// Package osc receives avatar parameter updates over OSC, either live from a
// UDP socket or replayed from a packet capture, and hands validated values to
// a Handler.
package osc

import (
	"fmt"

	goosc "github.com/hypebeast/go-osc/osc"

	"github.com/skyhap/bridge/internal/haptics"
)

// Handler receives one parameter update. The address is the full OSC address,
// prefix included.
type Handler func(address string, v haptics.Value)

// ParseValue checks the argument list of a parameter message. Avatar float
// parameters arrive as a single float32; anything else is an invalid value.
func ParseValue(args []interface{}) haptics.Value {
	if len(args) != 1 {
		return haptics.Invalid(fmt.Sprintf("expected 1 argument, got %d", len(args)))
	}
	switch v := args[0].(type) {
	case float32:
		return haptics.Float(float64(v))
	case float64:
		return haptics.Float(v)
	case nil:
		return haptics.Invalid("nil argument")
	default:
		return haptics.Invalid(fmt.Sprintf("unsupported argument type %T", v))
	}
}

// update converts a decoded message into a ParameterUpdate.
func update(msg *goosc.Message) haptics.ParameterUpdate {
	return haptics.ParameterUpdate{Address: msg.Address, Value: ParseValue(msg.Arguments)}
}
