package session

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the session subsystem's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	sessions   *prometheus.GaugeVec
	created    prometheus.Counter
	events     *prometheus.CounterVec
	recoveries *prometheus.CounterVec
	dispatches *prometheus.CounterVec
	logouts    *prometheus.CounterVec
}

// NewMetrics builds and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pairline",
			Name:      "sessions",
			Help:      "Registered sessions by status text.",
		}, []string{"status"}),
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pairline",
			Name:      "session_clients_created_total",
			Help:      "Messaging clients constructed, including replacements.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pairline",
			Name:      "session_events_total",
			Help:      "Session transitions applied, by cause.",
		}, []string{"cause"}),
		recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pairline",
			Name:      "session_recoveries_total",
			Help:      "Recovery decisions, by outcome.",
		}, []string{"outcome"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pairline",
			Name:      "dispatches_total",
			Help:      "Outbound message attempts, by result.",
		}, []string{"result"}),
		logouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pairline",
			Name:      "logouts_total",
			Help:      "Explicit logouts, by result.",
		}, []string{"result"}),
	}

	for _, c := range []prometheus.Collector{m.sessions, m.created, m.events, m.recoveries, m.dispatches, m.logouts} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) setSessions(counts map[string]int) {
	if m == nil {
		return
	}
	for _, status := range []string{StatusConnected, StatusAwaitingScan, StatusConnecting} {
		m.sessions.WithLabelValues(status).Set(float64(counts[status]))
	}
}

func (m *Metrics) clientCreated() {
	if m == nil {
		return
	}
	m.created.Inc()
}

func (m *Metrics) event(cause string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(cause).Inc()
}

func (m *Metrics) recovery(outcome string) {
	if m == nil {
		return
	}
	m.recoveries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) dispatch(result string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(result).Inc()
}

func (m *Metrics) logout(result string) {
	if m == nil {
		return
	}
	m.logouts.WithLabelValues(result).Inc()
}
