package haptics

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrEmptyName          = errors.New("point name is empty")
	ErrInvalidIndex       = errors.New("point index must be positive")
	ErrDuplicateIndex     = errors.New("point index already assigned")
	ErrUnknownAliasTarget = errors.New("alias target is not a known point")
	ErrAliasShadowsPoint  = errors.New("alias name collides with a point name")
)

// ActuatorPoint is a single physical output on the controller.
type ActuatorPoint struct {
	Name  string
	Index int
}

// PointMap resolves symbolic point names to actuator indices. It is built once
// and is safe for concurrent reads.
type PointMap struct {
	byName map[string]ActuatorPoint
	points []ActuatorPoint
}

// DefaultPoints returns the reference layout: the right side's seven points on
// indices 1-7 and the left side's on 9-15. Indices 0 and 8 do not exist on the
// controller.
func DefaultPoints() map[string]int {
	return map[string]int{
		"R1": 1, "R2": 2, "R3": 3, "R4": 4, "R5": 5, "R6": 6, "R7": 7,
		"L1": 9, "L2": 10, "L3": 11, "L4": 12, "L5": 13, "L6": 14, "L7": 15,
	}
}

// NewPointMap validates points and aliases and builds the lookup table.
// Aliases map an extra name onto an existing point and are the only way for
// two names to drive the same index.
func NewPointMap(points map[string]int, aliases map[string]string) (*PointMap, error) {
	m := &PointMap{
		byName: make(map[string]ActuatorPoint, len(points)+len(aliases)),
		points: make([]ActuatorPoint, 0, len(points)),
	}

	owners := make(map[int]string, len(points))
	for _, name := range sortedKeys(points) {
		index := points[name]
		if name == "" {
			return nil, ErrEmptyName
		}
		if index <= 0 {
			return nil, fmt.Errorf("point %q index %d: %w", name, index, ErrInvalidIndex)
		}
		if owner, ok := owners[index]; ok {
			return nil, fmt.Errorf("point %q index %d held by %q: %w", name, index, owner, ErrDuplicateIndex)
		}
		owners[index] = name
		p := ActuatorPoint{Name: name, Index: index}
		m.byName[name] = p
		m.points = append(m.points, p)
	}

	for _, alias := range sortedKeys(aliases) {
		target := aliases[alias]
		if alias == "" {
			return nil, ErrEmptyName
		}
		if _, ok := points[alias]; ok {
			return nil, fmt.Errorf("alias %q: %w", alias, ErrAliasShadowsPoint)
		}
		p, ok := points[target]
		if !ok {
			return nil, fmt.Errorf("alias %q -> %q: %w", alias, target, ErrUnknownAliasTarget)
		}
		m.byName[alias] = ActuatorPoint{Name: alias, Index: p}
	}

	sort.Slice(m.points, func(i, j int) bool { return m.points[i].Index < m.points[j].Index })
	return m, nil
}

// Resolve looks up a point by name. Unknown names report false.
func (m *PointMap) Resolve(name string) (ActuatorPoint, bool) {
	p, ok := m.byName[name]
	return p, ok
}

// Points returns the physical points ordered by index, aliases excluded.
func (m *PointMap) Points() []ActuatorPoint {
	out := make([]ActuatorPoint, len(m.points))
	copy(out, m.points)
	return out
}

// Len is the number of resolvable names, aliases included.
func (m *PointMap) Len() int { return len(m.byName) }

func sortedKeys[V any](in map[string]V) []string {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
