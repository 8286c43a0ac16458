package serialmux

import (
	"fmt"
	"strings"

	"github.com/skyhap/bridge/internal/haptics"
)

// Kinds of line the controller firmware prints.
const (
	LineEcho           = "echo"
	LineQueryReport    = "query_report"
	LineInvalidArgs    = "invalid_args"
	LineUnknownCommand = "unknown_command"
	LineOther          = "other"
)

// PointState is one line of the controller's answer to a query command.
type PointState struct {
	Index  int `json:"index"`
	At     int `json:"at"`
	Ramp   int `json:"ramp"`
	Target int `json:"target"`
}

// ClassifyLine sorts a line printed by the controller. The firmware echoes
// every byte it receives, so most lines are copies of our own commands.
func ClassifyLine(line string) string {
	line = strings.TrimSpace(line)
	switch {
	case line == "invalid args":
		return LineInvalidArgs
	case line == "unknown command":
		return LineUnknownCommand
	case strings.HasPrefix(line, "point "):
		if _, err := ParseQueryReport(line); err == nil {
			return LineQueryReport
		}
		return LineOther
	case line == "r" || line == "q" || line == "t":
		return LineEcho
	case strings.HasPrefix(line, "s"):
		if _, err := haptics.ParseCommand(line); err == nil {
			return LineEcho
		}
		return LineOther
	default:
		return LineOther
	}
}

// ParseQueryReport parses "point N: at A, ramp R, target T".
func ParseQueryReport(line string) (PointState, error) {
	var ps PointState
	n, err := fmt.Sscanf(strings.TrimSpace(line), "point %d: at %d, ramp %d, target %d",
		&ps.Index, &ps.At, &ps.Ramp, &ps.Target)
	if err != nil {
		return PointState{}, fmt.Errorf("parse query report %q: %w", line, err)
	}
	if n != 4 {
		return PointState{}, fmt.Errorf("parse query report %q: got %d fields", line, n)
	}
	return ps, nil
}
