package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/hyperopt/internal/hyperopt"
	"github.com/copyleftdev/hyperopt/internal/objective"
	"github.com/copyleftdev/hyperopt/internal/optimization"
	"github.com/copyleftdev/hyperopt/internal/space"
	"github.com/copyleftdev/hyperopt/internal/trials"
)

func TestSessionMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	x, err := space.NewReal(space.WithName("x"), space.WithGrid(3, -1, 2))
	require.NoError(t, err)
	sp, err := space.FromDimensions(x)
	require.NoError(t, err)
	square := objective.Func(func(_ context.Context, p optimization.Params) (any, error) {
		v, _ := p.Float("x")
		return v * v, nil
	})

	var h *hyperopt.HyperOpt
	h, err = hyperopt.New(hyperopt.Config{
		Space:     sp,
		Objective: square,
		Strategy:  optimization.StrategyGrid,
		Observers: []trials.Observer{m.TrialObserver("s1", "grid", func() *trials.Tracker { return h.Tracker() })},
		OnStateChange: func(state hyperopt.State, _ error) {
			m.SessionState("grid", state)
		},
	})
	require.NoError(t, err)
	_, err = h.Fit(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.trialsTotal.WithLabelValues("grid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsTotal.WithLabelValues("grid", "running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsTotal.WithLabelValues("grid", "completed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.sessionsTotal.WithLabelValues("grid", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bestValue.WithLabelValues("s1")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.trialDuration))

	m.Forget("s1")
	assert.Equal(t, 0, testutil.CollectAndCount(m.bestValue))
}

func TestNewRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) }, "duplicate collectors are rejected")
}
