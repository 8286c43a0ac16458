package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records bridge activity in Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	commands   *prometheus.CounterVec
	ignored    *prometheus.CounterVec
	dropped    prometheus.Counter
	transport  prometheus.Counter
	lastTarget *prometheus.GaugeVec
}

// NewMetrics registers the bridge collectors on reg. A nil registerer
// defaults to the global Prometheus registerer. Registering twice reuses the
// existing collectors.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skyhap_commands_sent_total",
			Help: "Set commands written to the controller",
		}, []string{"point"}),
		ignored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skyhap_updates_ignored_total",
			Help: "Parameter updates that produced no command",
		}, []string{"reason"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skyhap_updates_dropped_total",
			Help: "Parameter updates dropped because the write queue was full",
		}),
		transport: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skyhap_transport_errors_total",
			Help: "Failed writes to the controller",
		}),
		lastTarget: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "skyhap_last_target",
			Help: "Last target intensity sent per point",
		}, []string{"point"}),
	}

	var err error
	if m.commands, err = register(reg, m.commands); err != nil {
		return nil, err
	}
	if m.ignored, err = register(reg, m.ignored); err != nil {
		return nil, err
	}
	if m.dropped, err = register(reg, m.dropped); err != nil {
		return nil, err
	}
	if m.transport, err = register(reg, m.transport); err != nil {
		return nil, err
	}
	if m.lastTarget, err = register(reg, m.lastTarget); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) commandSent(point string, target int) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(point).Inc()
	m.lastTarget.WithLabelValues(point).Set(float64(target))
}

func (m *Metrics) updateIgnored(reason string) {
	if m == nil {
		return
	}
	m.ignored.WithLabelValues(reason).Inc()
}

func (m *Metrics) updateDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *Metrics) transportError() {
	if m == nil {
		return
	}
	m.transport.Inc()
}
