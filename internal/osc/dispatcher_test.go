package osc

import (
	"sync"
	"testing"
	"time"

	goosc "github.com/hypebeast/go-osc/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyhap/bridge/internal/haptics"
)

type recorder struct {
	mu      sync.Mutex
	updates []haptics.ParameterUpdate
}

func (r *recorder) handle(address string, v haptics.Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, haptics.ParameterUpdate{Address: address, Value: v})
}

func (r *recorder) snapshot() []haptics.ParameterUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]haptics.ParameterUpdate(nil), r.updates...)
}

func TestPrefixDispatcher_Message(t *testing.T) {
	rec := &recorder{}
	d := NewPrefixDispatcher(haptics.DefaultPrefix, rec.handle)

	d.Dispatch(goosc.NewMessage(haptics.DefaultPrefix+"R1", float32(0.5)))
	d.Dispatch(goosc.NewMessage("/avatar/parameters/VelocityX", float32(0.1)))
	d.Dispatch(goosc.NewMessage(haptics.DefaultPrefix+"L7", int32(1)))

	got := rec.snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, haptics.DefaultPrefix+"R1", got[0].Address)
	assert.Equal(t, 0.5, got[0].Value.Float())
	assert.False(t, got[1].Value.Valid())

	assert.EqualValues(t, 2, d.Delivered())
	assert.EqualValues(t, 1, d.Filtered())
}

func TestPrefixDispatcher_NestedBundles(t *testing.T) {
	rec := &recorder{}
	d := NewPrefixDispatcher("/p_", rec.handle)

	inner := goosc.NewBundle(time.Now())
	require.NoError(t, inner.Append(goosc.NewMessage("/p_b", float32(0.2))))
	require.NoError(t, inner.Append(goosc.NewMessage("/other", float32(0.3))))

	outer := goosc.NewBundle(time.Now())
	require.NoError(t, outer.Append(goosc.NewMessage("/p_a", float32(0.1))))
	require.NoError(t, outer.Append(inner))

	d.Dispatch(outer)

	got := rec.snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, "/p_a", got[0].Address)
	assert.Equal(t, "/p_b", got[1].Address)
	assert.EqualValues(t, 1, d.Filtered())
}

func TestPrefixDispatcher_EmptyPrefixDeliversAll(t *testing.T) {
	rec := &recorder{}
	d := NewPrefixDispatcher("", rec.handle)
	d.Dispatch(goosc.NewMessage("/anything", float32(1)))
	d.Dispatch(nil)
	assert.Len(t, rec.snapshot(), 1)
}
