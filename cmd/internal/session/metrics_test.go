package session

import (
	"testing"

	"pairline/cmd/internal/client"

	"github.com/prometheus/client_golang/prometheus"
)

func gaugeValue(t *testing.T, reg *prometheus.Registry, family, label, value string) float64 {
	t.Helper()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != family {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					if g := m.GetGauge(); g != nil {
						return g.GetValue()
					}
					return m.GetCounter().GetValue()
				}
			}
			if label == "" && m.GetCounter() != nil {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestMetrics_TrackSessions(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	r, f := newTestRegistry(t, Config{}, WithMetrics(m))

	h, _ := r.GetOrCreate("kim")
	f.client(0).emit(client.Event{Kind: client.EventReady})
	waitFor(t, "ready", h.IsReady)
	waitFor(t, "connected gauge", func() bool {
		return gaugeValue(t, reg, "pairline_sessions", "status", StatusConnected) == 1
	})

	if got := gaugeValue(t, reg, "pairline_session_clients_created_total", "", ""); got != 1 {
		t.Fatalf("clients_created=%v want=1", got)
	}

	if _, err := NewMetrics(reg); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestMetrics_NilIsSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.setSessions(map[string]int{StatusConnected: 1})
	m.clientCreated()
	m.event("ready")
	m.recovery("scheduled")
	m.dispatch("ok")
	m.logout("ok")
}
