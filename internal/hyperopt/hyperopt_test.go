package hyperopt

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/hyperopt/internal/dataset"
	apperrors "github.com/copyleftdev/hyperopt/internal/errors"
	"github.com/copyleftdev/hyperopt/internal/models"
	"github.com/copyleftdev/hyperopt/internal/objective"
	"github.com/copyleftdev/hyperopt/internal/optimization"
	"github.com/copyleftdev/hyperopt/internal/space"
	"github.com/copyleftdev/hyperopt/internal/trials"
)

func mustSpace(t *testing.T, dims ...space.Dimension) *space.Space {
	t.Helper()
	s, err := space.FromDimensions(dims...)
	require.NoError(t, err)
	return s
}

func realDim(t *testing.T, name string, opts ...space.Option) *space.Real {
	t.Helper()
	d, err := space.NewReal(append(opts, space.WithName(name))...)
	require.NoError(t, err)
	return d
}

func categorical(t *testing.T, name string, cats ...any) *space.Categorical {
	t.Helper()
	d, err := space.NewCategorical(cats, space.WithName(name))
	require.NoError(t, err)
	return d
}

var sinTanh = objective.Func(func(_ context.Context, p optimization.Params) (any, error) {
	x, _ := p.Float("x")
	return math.Sin(5*x) * (1 - math.Tanh(x*x)), nil
})

func fit(t *testing.T, cfg Config) *Result {
	t.Helper()
	h, err := New(cfg)
	require.NoError(t, err)
	res, err := h.Fit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, h.State())
	return res
}

// assertBestInvariant checks that the result is the best recorded trial.
func assertBestInvariant(t *testing.T, res *Result, direction optimization.Direction) {
	t.Helper()
	all := res.Trials.Trials()
	require.NotEmpty(t, all)
	best := all[0]
	for _, tr := range all[1:] {
		if direction.Better(tr.Value, best.Value) {
			best = tr
		}
	}
	assert.Equal(t, best.Value, res.BestValue)
	assert.Equal(t, best.Params, res.BestParams)
}

func TestGridKernelScenario(t *testing.T) {
	C, err := space.NewInteger(space.WithName("C"), space.WithGrid(1, 10))
	require.NoError(t, err)
	sp := mustSpace(t, categorical(t, "kernel", "linear", "rbf"), C)

	base := map[string]float64{"linear": 0.9, "rbf": 0.5}
	score := objective.Func(func(_ context.Context, p optimization.Params) (any, error) {
		k, _ := p.String("kernel")
		c, _ := p.Float("C")
		return base[k] - c/100, nil
	})

	res := fit(t, Config{Space: sp, Objective: score, Strategy: optimization.StrategyGrid, Direction: optimization.Maximize})
	assert.Equal(t, optimization.Params{"kernel": "linear", "C": 1}, res.BestParams)
	assert.InDelta(t, 0.89, res.BestValue, 1e-12)
	assert.Equal(t, 4, res.Trials.Len())
	assertBestInvariant(t, res, optimization.Maximize)
}

func TestGridNumSamples(t *testing.T) {
	sp := mustSpace(t, realDim(t, "x", space.WithBounds(10, 100), space.WithNumSamples(20)))
	res := fit(t, Config{Space: sp, Objective: sinTanh, Strategy: optimization.StrategyGrid, Budget: 3})

	all := res.Trials.Trials()
	require.Len(t, all, 20, "grid ignores the budget")
	assert.Equal(t, 10.0, all[0].Params["x"])
	assert.Equal(t, 100.0, all[19].Params["x"])
	assertBestInvariant(t, res, optimization.Minimize)
}

func TestBudgetIsExact(t *testing.T) {
	sp := mustSpace(t, realDim(t, "x", space.WithBounds(-2, 2)))
	for _, strategy := range []optimization.Strategy{
		optimization.StrategyRandom, optimization.StrategyBayes, optimization.StrategyTPE,
	} {
		t.Run(string(strategy), func(t *testing.T) {
			res := fit(t, Config{
				Space:     sp,
				Objective: sinTanh,
				Strategy:  strategy,
				Budget:    15,
				Options:   Options{Seed: 11},
			})
			assert.Equal(t, 15, res.Trials.Len())
			assertBestInvariant(t, res, optimization.Minimize)
			for _, tr := range res.Trials.Trials() {
				x := tr.Params["x"].(float64)
				assert.True(t, x >= -2 && x <= 2, "x=%v", x)
			}
		})
	}
}

func TestReproducibleWithSeed(t *testing.T) {
	sp := mustSpace(t,
		realDim(t, "x", space.WithBounds(-2, 2)),
		categorical(t, "mode", "a", "b", "c"),
	)
	obj := objective.Func(func(ctx context.Context, p optimization.Params) (any, error) {
		v, err := sinTanh(ctx, p)
		if p["mode"] == "b" {
			return v.(float64) - 0.5, err
		}
		return v, err
	})

	for _, strategy := range []optimization.Strategy{
		optimization.StrategyRandom, optimization.StrategyBayes, optimization.StrategyTPE,
	} {
		t.Run(string(strategy), func(t *testing.T) {
			run := func() ([]optimization.Params, []float64, *Result) {
				res := fit(t, Config{Space: sp, Objective: obj, Strategy: strategy, Budget: 14, Options: Options{Seed: 7, NRandomStarts: 5}})
				var ps []optimization.Params
				var vs []float64
				for _, tr := range res.Trials.Trials() {
					ps = append(ps, tr.Params)
					vs = append(vs, tr.Value)
				}
				return ps, vs, res
			}
			p1, v1, r1 := run()
			p2, v2, r2 := run()
			assert.Equal(t, p1, p2)
			assert.Equal(t, v1, v2)
			assert.Equal(t, r1.BestParams, r2.BestParams)
			assert.Equal(t, r1.BestValue, r2.BestValue)
			assert.Contains(t, []any{"a", "b", "c"}, r1.BestParams["mode"])
		})
	}
}

func TestTPETwoKeys(t *testing.T) {
	sp := mustSpace(t,
		realDim(t, "x", space.WithBounds(-5, 5)),
		realDim(t, "y", space.WithBounds(-5, 5)),
	)
	sphere, err := objective.Builtin("sphere")
	require.NoError(t, err)

	res := fit(t, Config{Space: sp, Objective: sphere, Strategy: optimization.StrategyTPE, Budget: 40, Options: Options{Seed: 3}})
	assert.Len(t, res.BestParams, 2)
	assert.Contains(t, res.BestParams, "x")
	assert.Contains(t, res.BestParams, "y")
	assert.Equal(t, 40, res.Trials.Len())
	assertBestInvariant(t, res, optimization.Minimize)
}

func TestMaximizeNegatesLoss(t *testing.T) {
	sp := mustSpace(t, realDim(t, "x", space.WithBounds(-3, 3)))
	peak := objective.Func(func(_ context.Context, p optimization.Params) (any, error) {
		x, _ := p.Float("x")
		return -(x - 1) * (x - 1), nil
	})
	res := fit(t, Config{Space: sp, Objective: peak, Strategy: optimization.StrategyRandom, Direction: optimization.Maximize, Budget: 30, Options: Options{Seed: 5}})
	assertBestInvariant(t, res, optimization.Maximize)
	for _, tr := range res.Trials.Trials() {
		assert.Equal(t, -tr.Value, tr.Loss)
	}
	assert.Greater(t, res.BestValue, -0.5)
}

func TestBayesInitialPoints(t *testing.T) {
	sp := mustSpace(t,
		realDim(t, "x", space.WithBounds(-2, 2)),
		categorical(t, "mode", "a", "b"),
	)
	obj := objective.Func(func(ctx context.Context, p optimization.Params) (any, error) {
		return sinTanh(ctx, p)
	})
	res := fit(t, Config{
		Space:     sp,
		Objective: obj,
		Strategy:  optimization.StrategyBayes,
		Budget:    6,
		Options:   Options{Seed: 1, X0: [][]any{{0.5, "b"}, {-1.0, "a"}}, NRandomStarts: 2},
	})
	all := res.Trials.Trials()
	require.Len(t, all, 6)
	assert.Equal(t, optimization.Params{"x": 0.5, "mode": "b"}, all[0].Params)
	assert.Equal(t, optimization.Params{"x": -1.0, "mode": "a"}, all[1].Params)
}

func TestBackendFailure(t *testing.T) {
	boom := errors.New("fit diverged")
	calls := 0
	obj := objective.Func(func(context.Context, optimization.Params) (any, error) {
		calls++
		if calls == 3 {
			return nil, boom
		}
		return float64(calls), nil
	})
	var states []State
	h, err := New(Config{
		Space:     mustSpace(t, realDim(t, "x", space.WithBounds(0, 1))),
		Objective: obj,
		Strategy:  optimization.StrategyRandom,
		Budget:    10,
		OnStateChange: func(s State, _ error) {
			states = append(states, s)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, StateConfigured, h.State())

	res, err := h.Fit(context.Background())
	assert.Nil(t, res)
	assert.ErrorIs(t, err, apperrors.ErrBackendExecution)
	assert.ErrorIs(t, err, boom, "the objective's error is preserved")
	assert.Equal(t, StateFailed, h.State())
	assert.Equal(t, err, h.Err())
	assert.Nil(t, h.Result())
	assert.Equal(t, 2, h.Tracker().Len())
	assert.Equal(t, []State{StateRunning, StateFailed}, states)
}

func TestResultShapeFailsSession(t *testing.T) {
	obj := objective.Func(func(context.Context, optimization.Params) (any, error) {
		return []float64{1, 2}, nil
	})
	h, err := New(Config{
		Space:     mustSpace(t, realDim(t, "x", space.WithBounds(0, 1))),
		Objective: obj,
		Strategy:  optimization.StrategyTPE,
		Budget:    5,
	})
	require.NoError(t, err)
	_, err = h.Fit(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrBackendExecution)
	assert.ErrorIs(t, err, apperrors.ErrResultShape)
	assert.Equal(t, StateFailed, h.State())
}

func TestFitRunsOnce(t *testing.T) {
	h, err := New(Config{
		Space:     mustSpace(t, realDim(t, "x", space.WithGrid(1, 2))),
		Objective: sinTanh,
		Strategy:  optimization.StrategyGrid,
	})
	require.NoError(t, err)
	_, err = h.Fit(context.Background())
	require.NoError(t, err)
	require.NotNil(t, h.Result())

	_, err = h.Fit(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
	assert.Equal(t, 2, h.Tracker().Len())
}

func TestNewValidation(t *testing.T) {
	bounded := mustSpace(t, realDim(t, "x", space.WithBounds(0, 1)))
	logCat, err := space.NewCategorical([]any{1, 2}, space.WithName("c"), space.WithPrior(space.LogUniform))
	require.NoError(t, err)
	degree, err := space.NewInteger(space.WithBounds(1, 4), space.WithStep(1), space.WithName("degree"))
	require.NoError(t, err)
	unknownParam := mustSpace(t, degree)
	pipeline := &objective.Pipeline{Model: models.Spec{Estimator: models.KernelRidgeName}, Data: linearData(t)}
	estimator := &objective.Estimator{Estimator: models.NewRidge(), Data: linearData(t)}
	alphaAndC := mustSpace(t,
		realDim(t, "alpha", space.WithBounds(1e-3, 1), space.WithPrior(space.LogUniform)),
		realDim(t, "C", space.WithBounds(1, 10)),
	)

	tests := []struct {
		name string
		cfg  Config
		kind error
	}{
		{"no space", Config{Objective: sinTanh, Strategy: optimization.StrategyGrid}, apperrors.ErrConfiguration},
		{"no objective", Config{Space: bounded, Strategy: optimization.StrategyGrid}, apperrors.ErrConfiguration},
		{"unknown strategy", Config{Space: bounded, Objective: sinTanh, Strategy: "annealing"}, apperrors.ErrConfiguration},
		{"zero n_iter", Config{Space: bounded, Objective: sinTanh, Strategy: optimization.StrategyRandom}, apperrors.ErrConfiguration},
		{"zero n_calls", Config{Space: bounded, Objective: sinTanh, Strategy: optimization.StrategyBayes}, apperrors.ErrConfiguration},
		{"zero max_evals", Config{Space: bounded, Objective: sinTanh, Strategy: optimization.StrategyTPE}, apperrors.ErrConfiguration},
		{"bad direction", Config{Space: bounded, Objective: sinTanh, Strategy: optimization.StrategyRandom, Budget: 1, Direction: "up"}, apperrors.ErrConfiguration},
		{"x0 outside bayes", Config{Space: bounded, Objective: sinTanh, Strategy: optimization.StrategyRandom, Budget: 1, Options: Options{X0: [][]any{{0.5}}}}, apperrors.ErrConfiguration},
		{"x0 out of bounds", Config{Space: bounded, Objective: sinTanh, Strategy: optimization.StrategyBayes, Budget: 3, Options: Options{X0: [][]any{{5.0}}}}, apperrors.ErrConfiguration},
		{"x0 exceeds budget", Config{Space: bounded, Objective: sinTanh, Strategy: optimization.StrategyBayes, Budget: 1, Options: Options{X0: [][]any{{0.1}, {0.2}}}}, apperrors.ErrConfiguration},
		{"bad acquisition", Config{Space: bounded, Objective: sinTanh, Strategy: optimization.StrategyBayes, Budget: 3, Options: Options{AcqFunc: "UCB"}}, apperrors.ErrConfiguration},
		{"negative starts", Config{Space: bounded, Objective: sinTanh, Strategy: optimization.StrategyTPE, Budget: 3, Options: Options{NRandomStarts: -1}}, apperrors.ErrConfiguration},
		{"log categorical", Config{Space: mustSpace(t, logCat), Objective: sinTanh, Strategy: optimization.StrategyTPE, Budget: 3}, apperrors.ErrUnsupportedDimension},
		{"pipeline unknown parameter", Config{Space: unknownParam, Objective: pipeline, Strategy: optimization.StrategyGrid}, apperrors.ErrConfiguration},
		{"pipeline conflicting parameters", Config{Space: alphaAndC, Objective: pipeline, Strategy: optimization.StrategyTPE, Budget: 3}, apperrors.ErrConfiguration},
		{"estimator unknown parameter", Config{Space: unknownParam, Objective: estimator, Strategy: optimization.StrategyRandom, Budget: 3}, apperrors.ErrConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.ErrorIs(t, err, tt.kind)
		})
	}

	_, err = New(Config{Space: bounded, Objective: sinTanh, Strategy: optimization.StrategyGrid})
	assert.Error(t, err, "a continuous dimension has no grid")
}

func linearData(t *testing.T) *dataset.Dataset {
	t.Helper()
	var rows [][]float64
	var y []float64
	for i := 0; i < 24; i++ {
		x := float64(i) / 4
		rows = append(rows, []float64{x})
		y = append(y, 2*x+1+0.01*math.Sin(float64(i)))
	}
	d, err := dataset.New(rows, y)
	require.NoError(t, err)
	return d
}

func TestEstimatorNativeSearch(t *testing.T) {
	alpha := realDim(t, "alpha", space.WithGrid(0.001, 1000))
	est := &objective.Estimator{Estimator: models.NewRidge(), Data: linearData(t), Folds: 3, Seed: 2}

	var observed []trials.Trial
	res := fit(t, Config{
		Space:     mustSpace(t, alpha),
		Objective: est,
		Strategy:  optimization.StrategyGrid,
		Observers: []trials.Observer{func(tr trials.Trial) { observed = append(observed, tr) }},
	})
	assert.Equal(t, optimization.Params{"alpha": 0.001}, res.BestParams)
	assert.Greater(t, res.BestValue, 0.99, "cross-validated R²")
	require.NotNil(t, res.Estimator, "the best estimator is refitted")
	assert.Equal(t, 0.001, res.Estimator.Params()["alpha"])
	require.Len(t, observed, 2, "every candidate is recorded as a trial")
	assert.Equal(t, optimization.Maximize, res.Trials.Direction())
	assertBestInvariant(t, res, optimization.Maximize)
}

func TestEstimatorSequentialSearch(t *testing.T) {
	alpha := realDim(t, "alpha", space.WithBounds(1e-3, 1e3), space.WithPrior(space.LogUniform))
	est := &objective.Estimator{Estimator: models.NewRidge(), Data: linearData(t), Seed: 2}

	res := fit(t, Config{
		Space:     mustSpace(t, alpha),
		Objective: est,
		Strategy:  optimization.StrategyBayes,
		Budget:    8,
		Options:   Options{Seed: 4, NRandomStarts: 4},
	})
	assert.Nil(t, res.Estimator)
	assert.Equal(t, 8, res.Trials.Len())
	assertBestInvariant(t, res, optimization.Maximize)
}

func TestTrialLogReceivesEveryTrial(t *testing.T) {
	log, err := trials.OpenJSONL(t.TempDir()+"/trials.jsonl", "s1")
	require.NoError(t, err)

	res := fit(t, Config{
		Space:     mustSpace(t, realDim(t, "x", space.WithBounds(0, 1), space.WithNumSamples(5))),
		Objective: sinTanh,
		Strategy:  optimization.StrategyGrid,
		Log:       log,
	})
	require.NoError(t, log.Close())

	logged, err := trials.ReadJSONLFile(log.Path(), "s1")
	require.NoError(t, err)
	require.Len(t, logged, 5)
	for i, tr := range res.Trials.Trials() {
		assert.Equal(t, tr.Index, logged[i].Index)
		assert.Equal(t, tr.Value, logged[i].Value)
	}
}
