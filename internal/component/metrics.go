package component

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeDispatched = "dispatched"
	outcomeForeign    = "foreign"
	outcomeMalformed  = "malformed"
	outcomeUnrouted   = "unrouted"

	reasonDuplicate = "duplicate"
	reasonUnknown   = "unknown"
	reasonNil       = "nil"
	reasonClosed    = "closed"
)

type metrics struct {
	messages             *prometheus.CounterVec
	listeners            prometheus.Gauge
	registrationWarnings *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "component",
				Name:      "messages_total",
				Help:      "Messages seen on the shared inbound channel by outcome.",
			},
			[]string{"outcome"},
		),
		listeners: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "component",
			Name:      "listeners",
			Help:      "Listeners currently registered.",
		}),
		registrationWarnings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "component",
				Name:      "registration_warnings_total",
				Help:      "Listener registration misuse by reason.",
			},
			[]string{"reason"},
		),
	}
	for _, o := range []string{outcomeDispatched, outcomeForeign, outcomeMalformed, outcomeUnrouted} {
		m.messages.WithLabelValues(o)
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.messages, m.listeners, m.registrationWarnings} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register component metrics: %w", err)
		}
	}
	return m, nil
}

func (m *metrics) observe(outcome string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(outcome).Inc()
}

func (m *metrics) warnRegistration(reason string) {
	if m == nil {
		return
	}
	m.registrationWarnings.WithLabelValues(reason).Inc()
}

func (m *metrics) setListeners(n int) {
	if m == nil {
		return
	}
	m.listeners.Set(float64(n))
}
