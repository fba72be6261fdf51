package leaderelection

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes election state to prometheus. A nil *Metrics records nothing.
type Metrics struct {
	status      *prometheus.GaugeVec
	lost        *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

// NewMetrics creates the election collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "leader_election_master_status",
			Help: "Gauge of if the reporting system is master of the relevant lease, 0 indicates backup, 1 indicates master.",
		}, []string{"name"}),
		lost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leader_election_leadership_lost_total",
			Help: "Number of times the reporting system failed to renew its lease and stepped down.",
		}, []string{"name"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leader_election_transitions_observed_total",
			Help: "Number of holder changes observed on the lease.",
		}, []string{"name"}),
	}

	for _, c := range []prometheus.Collector{m.status, m.lost, m.transitions} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "failed to register leader election metrics")
		}
	}
	return m, nil
}

func (m *Metrics) leaderOn(name string) {
	if m != nil {
		m.status.WithLabelValues(name).Set(1)
	}
}

func (m *Metrics) leaderOff(name string) {
	if m != nil {
		m.status.WithLabelValues(name).Set(0)
	}
}

func (m *Metrics) leadershipLost(name string) {
	if m != nil {
		m.lost.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) transitionObserved(name string) {
	if m != nil {
		m.transitions.WithLabelValues(name).Inc()
	}
}
