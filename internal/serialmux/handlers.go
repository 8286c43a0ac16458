package serialmux

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"tailscale.com/tsweb"

	"github.com/skyhap/bridge/internal/monitoring"
)

// DeviceState accumulates what the controller has told us about itself: the
// last query report per point and the last command it echoed back.
type DeviceState struct {
	mu          sync.Mutex
	points      map[int]PointState
	lastEcho    string
	lastError   string
	lastErrorAt time.Time
	lines       int
	log         zerolog.Logger
}

func NewDeviceState() *DeviceState {
	return &DeviceState{
		points: make(map[int]PointState),
		log:    monitoring.Component("serial"),
	}
}

// HandleLine records one line printed by the controller and returns its kind.
func (d *DeviceState) HandleLine(line string) string {
	kind := ClassifyLine(line)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.lines++

	switch kind {
	case LineQueryReport:
		ps, _ := ParseQueryReport(line)
		d.points[ps.Index] = ps
		d.log.Debug().Int("index", ps.Index).Int("at", ps.At).Int("target", ps.Target).Msg("point report")
	case LineEcho:
		d.lastEcho = line
		d.log.Trace().Str("line", line).Msg("echo")
	case LineInvalidArgs, LineUnknownCommand:
		d.lastError = line
		d.lastErrorAt = time.Now()
		d.log.Warn().Str("line", line).Msg("controller rejected command")
	default:
		d.log.Debug().Str("line", line).Msg("controller output")
	}
	return kind
}

// Point returns the most recent query report for a point index.
func (d *DeviceState) Point(index int) (PointState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ps, ok := d.points[index]
	return ps, ok
}

// DeviceSnapshot is the JSON view of DeviceState.
type DeviceSnapshot struct {
	Points      []PointState `json:"points"`
	LastEcho    string       `json:"last_echo,omitempty"`
	LastError   string       `json:"last_error,omitempty"`
	LastErrorAt *time.Time   `json:"last_error_at,omitempty"`
	Lines       int          `json:"lines"`
}

func (d *DeviceState) Snapshot() DeviceSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := DeviceSnapshot{
		Points:    make([]PointState, 0, len(d.points)),
		LastEcho:  d.lastEcho,
		LastError: d.lastError,
		Lines:     d.lines,
	}
	for _, ps := range d.points {
		snap.Points = append(snap.Points, ps)
	}
	sort.Slice(snap.Points, func(i, j int) bool { return snap.Points[i].Index < snap.Points[j].Index })
	if !d.lastErrorAt.IsZero() {
		at := d.lastErrorAt
		snap.LastErrorAt = &at
	}
	return snap
}

// Follow feeds every line from a mux subscription into the state until the
// subscription channel closes.
func (d *DeviceState) Follow(mux SerialMuxInterface) {
	id, ch := mux.Subscribe()
	defer mux.Unsubscribe(id)
	for line := range ch {
		d.HandleLine(line)
	}
}

// AttachAdminRoutes serves the accumulated state at /debug/device-state.
func (d *DeviceState) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("device-state", "last reported controller state (send q to refresh)", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(d.Snapshot()); err != nil {
			http.Error(w, "failed to encode state", http.StatusInternalServerError)
		}
	})
}
