package langserver

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "mesonls"

// Metrics counts installs, downloaded bytes and session transitions. A nil
// *Metrics records nothing.
type Metrics struct {
	installs      *prometheus.CounterVec
	downloadBytes *prometheus.CounterVec
	transitions   *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		installs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "installs_total",
				Help:      "Language server install attempts by server and outcome",
			},
			[]string{"server", "outcome"},
		),
		downloadBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "download_bytes_total",
				Help:      "Artifact bytes downloaded by server",
			},
			[]string{"server"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "session_transitions_total",
				Help:      "Session state transitions by server and target state",
			},
			[]string{"server", "state"},
		),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.installs, m.downloadBytes, m.transitions} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) install(server, outcome string) {
	if m == nil {
		return
	}
	m.installs.WithLabelValues(server, outcome).Inc()
}

func (m *Metrics) downloaded(server string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.downloadBytes.WithLabelValues(server).Add(float64(n))
}

func (m *Metrics) transition(server string, state State) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(server, state.String()).Inc()
}
