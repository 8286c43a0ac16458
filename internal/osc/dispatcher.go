package osc

import (
	"fmt"
	"strings"
	"sync/atomic"

	goosc "github.com/hypebeast/go-osc/osc"
	"github.com/rs/zerolog"

	"github.com/skyhap/bridge/internal/monitoring"
)

// PrefixDispatcher is a go-osc Dispatcher that forwards every message whose
// address starts with Prefix, walking bundles recursively. The standard
// dispatcher matches whole addresses against registered patterns, which does
// not fit a family of parameters sharing one prefix.
type PrefixDispatcher struct {
	prefix  string
	handler Handler
	log     zerolog.Logger

	delivered atomic.Uint64
	filtered  atomic.Uint64
}

var _ goosc.Dispatcher = (*PrefixDispatcher)(nil)

// NewPrefixDispatcher returns a dispatcher delivering to h. An empty prefix
// delivers every message.
func NewPrefixDispatcher(prefix string, h Handler) *PrefixDispatcher {
	return &PrefixDispatcher{
		prefix:  prefix,
		handler: h,
		log:     monitoring.Component("osc"),
	}
}

// Dispatch implements goosc.Dispatcher. go-osc calls it on a fresh goroutine
// per packet, so the handler must be safe for concurrent use.
func (d *PrefixDispatcher) Dispatch(packet goosc.Packet) {
	switch p := packet.(type) {
	case *goosc.Message:
		d.dispatchMessage(p)
	case *goosc.Bundle:
		d.dispatchBundle(p)
	default:
		d.log.Debug().Str("type", fmt.Sprintf("%T", packet)).Msg("ignoring unknown packet type")
	}
}

func (d *PrefixDispatcher) dispatchBundle(b *goosc.Bundle) {
	if b == nil {
		return
	}
	for _, m := range b.Messages {
		d.dispatchMessage(m)
	}
	for _, inner := range b.Bundles {
		d.dispatchBundle(inner)
	}
}

func (d *PrefixDispatcher) dispatchMessage(m *goosc.Message) {
	if m == nil {
		return
	}
	if !strings.HasPrefix(m.Address, d.prefix) {
		d.filtered.Add(1)
		d.log.Trace().Str("address", m.Address).Msg("filtered")
		return
	}
	d.delivered.Add(1)
	u := update(m)
	d.handler(u.Address, u.Value)
}

// Delivered is the number of messages passed to the handler.
func (d *PrefixDispatcher) Delivered() uint64 { return d.delivered.Load() }

// Filtered is the number of messages dropped for not matching the prefix.
func (d *PrefixDispatcher) Filtered() uint64 { return d.filtered.Load() }
