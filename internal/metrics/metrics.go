// Package metrics exports search sessions and trials to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/copyleftdev/hyperopt/internal/hyperopt"
	"github.com/copyleftdev/hyperopt/internal/trials"
)

const namespace = "hpo"

// Metrics holds the collectors of one registry.
type Metrics struct {
	trialsTotal   *prometheus.CounterVec
	trialDuration *prometheus.HistogramVec
	sessionsTotal *prometheus.CounterVec
	bestValue     *prometheus.GaugeVec
}

// New registers the collectors with reg; a nil reg means the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		// trialsTotal counts recorded trials.
		// Labels: strategy
		trialsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trials_total",
			Help:      "Objective evaluations recorded, by search strategy",
		}, []string{"strategy"}),

		trialDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "trial_duration_seconds",
			Help:      "Objective evaluation time in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"strategy"}),

		// sessionsTotal counts session state transitions.
		// Labels: strategy, state (running, completed, failed)
		sessionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Search session state transitions",
		}, []string{"strategy", "state"}),

		bestValue: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_score",
			Help:      "Best objective value recorded so far, by session",
		}, []string{"session"}),
	}
}

// TrialObserver returns a trials.Observer that counts trials and tracks
// the running best value of session.
func (m *Metrics) TrialObserver(session, strategy string, tracker func() *trials.Tracker) trials.Observer {
	return func(tr trials.Trial) {
		m.trialsTotal.WithLabelValues(strategy).Inc()
		m.trialDuration.WithLabelValues(strategy).Observe(tr.Duration.Seconds())
		if t := tracker(); t != nil {
			if best, ok := t.Best(); ok {
				m.bestValue.WithLabelValues(session).Set(best.Value)
			}
		}
	}
}

// SessionState counts a session state transition.
func (m *Metrics) SessionState(strategy string, state hyperopt.State) {
	m.sessionsTotal.WithLabelValues(strategy, string(state)).Inc()
}

// Forget drops the per-session series of session.
func (m *Metrics) Forget(session string) {
	m.bestValue.DeleteLabelValues(session)
}
