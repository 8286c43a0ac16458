package haptics

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultRamp is the per-tick step the reference deployment asks the
// controller to use when moving towards a new target.
const DefaultRamp = 10

var ErrMalformedCommand = errors.New("malformed set command")

// Command sets one actuator point to a target intensity.
type Command struct {
	Index  int
	Target int
	Ramp   int
}

// Encode returns the exact wire bytes: "s<index>,<target>,<ramp>\n".
func (c Command) Encode() []byte {
	b := make([]byte, 0, 24)
	b = append(b, 's')
	b = strconv.AppendInt(b, int64(c.Index), 10)
	b = append(b, ',')
	b = strconv.AppendInt(b, int64(c.Target), 10)
	b = append(b, ',')
	b = strconv.AppendInt(b, int64(c.Ramp), 10)
	return append(b, '\n')
}

// String is the command without its line terminator.
func (c Command) String() string {
	return strings.TrimSuffix(string(c.Encode()), "\n")
}

// EncodeReset resets every point and PWM slice on the controller.
func EncodeReset() []byte { return []byte("r\n") }

// EncodeQuery asks the controller to print the state of every point.
func EncodeQuery() []byte { return []byte("q\n") }

// EncodeSelfTest runs the controller's built-in sweep over all points.
func EncodeSelfTest() []byte { return []byte("t\n") }

// ParseCommand parses a set command line. It accepts the optional spaces the
// firmware's parser tolerates after each comma and an optional line ending.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "s") {
		return Command{}, fmt.Errorf("%q: %w", line, ErrMalformedCommand)
	}
	fields := strings.Split(line[1:], ",")
	if len(fields) != 3 {
		return Command{}, fmt.Errorf("%q: expected 3 fields: %w", line, ErrMalformedCommand)
	}
	var vals [3]int
	for i, f := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return Command{}, fmt.Errorf("%q: field %d: %w", line, i, ErrMalformedCommand)
		}
		vals[i] = v
	}
	return Command{Index: vals[0], Target: vals[1], Ramp: vals[2]}, nil
}
