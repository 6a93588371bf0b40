package models

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/hyperopt/internal/dataset"
	apperrors "github.com/copyleftdev/hyperopt/internal/errors"
	"github.com/copyleftdev/hyperopt/internal/optimization"
	"github.com/copyleftdev/hyperopt/internal/optimization/grid"
	"github.com/copyleftdev/hyperopt/internal/optimization/random"
)

// linearData is y = 2a - b + 3 on a small grid.
func linearData(t *testing.T) *dataset.Dataset {
	t.Helper()
	var rows [][]float64
	var y []float64
	for a := 0.0; a < 6; a++ {
		for b := 0.0; b < 4; b++ {
			rows = append(rows, []float64{a, b})
			y = append(y, 2*a-b+3)
		}
	}
	d, err := dataset.New(rows, y)
	require.NoError(t, err)
	return d
}

func TestRidgeRecoversLinearModel(t *testing.T) {
	d := linearData(t)
	r := NewRidge()
	require.NoError(t, r.SetParams(optimization.Params{"alpha": 1e-9}))
	require.NoError(t, r.Fit(d.X, d.Y))

	coef, intercept := r.Coef()
	assert.InDeltaSlice(t, []float64{2, -1}, coef, 1e-6)
	assert.InDelta(t, 3, intercept, 1e-6)

	s, err := r.Score(d.X, d.Y)
	require.NoError(t, err)
	assert.InDelta(t, 1, s, 1e-9)
}

func TestRidgeErrors(t *testing.T) {
	r := NewRidge()
	_, err := r.Predict(mat.NewDense(1, 1, []float64{1}))
	assert.Error(t, err)
	assert.Error(t, r.SetParams(optimization.Params{"alpha": -1}))
	assert.Error(t, r.SetParams(optimization.Params{"gamma": 1}))
	assert.Error(t, r.Fit(mat.NewDense(2, 1, []float64{1, 2}), []float64{1}))
}

func TestKernelRidgeFits(t *testing.T) {
	d := linearData(t)
	for _, kernel := range []string{"linear", "rbf", "matern52"} {
		t.Run(kernel, func(t *testing.T) {
			m := NewKernelRidge()
			require.NoError(t, m.SetParams(optimization.Params{"kernel": kernel, "alpha": 1e-3, "length_scale": 2.0}))
			require.NoError(t, m.Fit(d.X, d.Y))
			s, err := m.Score(d.X, d.Y)
			require.NoError(t, err)
			assert.Greater(t, s, 0.99)
		})
	}
}

func TestKernelRidgeParams(t *testing.T) {
	m := NewKernelRidge()
	require.NoError(t, m.SetParams(optimization.Params{"C": 10}))
	assert.InDelta(t, 0.05, m.Params()["alpha"], 1e-12)
	assert.InDelta(t, 10, m.Params()["C"], 1e-12)

	assert.Error(t, m.SetParams(optimization.Params{"C": 0}))
	assert.Error(t, m.SetParams(optimization.Params{"kernel": "sigmoid"}))
	assert.Error(t, m.SetParams(optimization.Params{"kernel": 3}))
	assert.Error(t, m.SetParams(optimization.Params{"alpha": 1, "C": 1}))
	assert.Error(t, m.SetParams(optimization.Params{"degree": 3}))

	clone := m.Clone()
	assert.Equal(t, m.Params(), clone.Params())
	_, err := clone.Predict(mat.NewDense(1, 2, nil))
	assert.Error(t, err, "clones are unfitted")
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"kernelridge", "ridge"}, DefaultRegistry.Names())

	est, err := DefaultRegistry.Build(Spec{Estimator: "KernelRidge", Params: optimization.Params{"kernel": "linear"}})
	require.NoError(t, err)
	assert.Equal(t, "linear", est.Params()["kernel"])

	_, err = DefaultRegistry.Build(Spec{Estimator: "svm"})
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
	_, err = DefaultRegistry.Build(Spec{Estimator: "ridge", Params: optimization.Params{"alpha": "x"}})
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)

	r := NewRegistry()
	require.NoError(t, r.Register("custom", func() Estimator { return NewRidge() }))
	assert.Error(t, r.Register("custom", func() Estimator { return NewRidge() }))
	assert.Error(t, r.Register("", nil))
}

func TestParseSpec(t *testing.T) {
	spec, err := ParseSpec(map[string]any{
		"model": map[string]any{"kernelridge": map[string]any{"kernel": "rbf", "alpha": 0.5}},
	})
	require.NoError(t, err)
	assert.Equal(t, "kernelridge", spec.Estimator)
	assert.Equal(t, optimization.Params{"kernel": "rbf", "alpha": 0.5}, spec.Params)

	merged := spec.With(optimization.Params{"alpha": 0.1, "length_scale": 3.0})
	assert.Equal(t, 0.1, merged.Params["alpha"])
	assert.Equal(t, 0.5, spec.Params["alpha"], "With does not modify the receiver")

	spec, err = ParseSpec(map[string]any{"ridge": nil})
	require.NoError(t, err)
	assert.Equal(t, "ridge", spec.Estimator)

	_, err = ParseSpec(map[string]any{"ridge": 1})
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
	_, err = ParseSpec(map[string]any{"a": nil, "b": nil})
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
	_, err = ParseSpec(map[string]any{"model": "ridge"})
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestMetrics(t *testing.T) {
	yTrue := []float64{1, 2, 3, 4}
	yPred := []float64{1, 3, 2, 4}

	mse, err := MSE(yTrue, yPred)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, mse, 1e-12)

	rmse, err := RMSE(yTrue, yPred)
	require.NoError(t, err)
	assert.InDelta(t, math.Sqrt(0.5), rmse, 1e-12)

	mae, err := MAE(yTrue, yPred)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, mae, 1e-12)

	r2, err := R2(yTrue, yPred)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, r2, 1e-12)

	r2, err = R2([]float64{2, 2}, []float64{2, 2})
	require.NoError(t, err)
	assert.Equal(t, 1.0, r2)

	_, err = MSE([]float64{1}, nil)
	assert.Error(t, err)

	m, err := LookupMetric(" RMSE ")
	require.NoError(t, err)
	assert.Equal(t, "rmse", m.Name)
	assert.False(t, m.HigherIsBetter)
	_, err = LookupMetric("auc")
	assert.Error(t, err)
}

// scripted scores according to a lookup on its kernel and C parameters.
type scripted struct {
	kernel string
	c      float64
}

func (s *scripted) Name() string {
	return "scripted"
}

func (s *scripted) Fit(*mat.Dense, []float64) error {
	return nil
}

func (s *scripted) Clone() Estimator {
	c := *s
	return &c
}

func (s *scripted) Params() optimization.Params {
	return optimization.Params{"kernel": s.kernel, "C": s.c}
}

func (s *scripted) Predict(X *mat.Dense) ([]float64, error) {
	r, _ := X.Dims()
	return make([]float64, r), nil
}

func (s *scripted) Score(*mat.Dense, []float64) (float64, error) {
	scores := map[string]float64{"linear": 0.9, "rbf": 0.5}
	return scores[s.kernel] - s.c/100, nil
}

func (s *scripted) SetParams(p optimization.Params) error {
	if k, ok := p.String("kernel"); ok {
		s.kernel = k
	}
	if c, ok := p.Float("C"); ok {
		s.c = c
	}
	return nil
}

func TestGridSearchCV(t *testing.T) {
	var seen []optimization.Params
	res, err := GridSearchCV(context.Background(), &scripted{},
		[]grid.Axis{
			{Name: "kernel", Values: []any{"linear", "rbf"}},
			{Name: "C", Values: []any{1, 10}},
		},
		linearData(t),
		CVConfig{Folds: 3, Seed: 1, OnCandidate: func(p optimization.Params, _ float64) error {
			seen = append(seen, p)
			return nil
		}},
	)
	require.NoError(t, err)

	assert.Equal(t, optimization.Params{"kernel": "linear", "C": 1}, res.BestParams)
	assert.InDelta(t, 0.89, res.BestScore, 1e-12)
	assert.Len(t, res.Candidates, 4)
	assert.Len(t, seen, 4)
	assert.Len(t, res.Candidates[0].FoldScores, 3)
	assert.Equal(t, "linear", res.BestEstimator.Params()["kernel"])
}

func TestGridSearchCVStopsOnCallbackError(t *testing.T) {
	stop := errors.New("stop")
	_, err := GridSearchCV(context.Background(), &scripted{},
		[]grid.Axis{{Name: "C", Values: []any{1, 10}}},
		linearData(t),
		CVConfig{OnCandidate: func(optimization.Params, float64) error { return stop }},
	)
	assert.ErrorIs(t, err, stop)
}

func TestRandomizedSearchCV(t *testing.T) {
	run := func() *SearchResult {
		res, err := RandomizedSearchCV(context.Background(), NewRidge(),
			[]random.Param{{Name: "alpha", Dist: random.LogUniform{Low: 1e-4, High: 10}}},
			6, linearData(t), CVConfig{Seed: 5})
		require.NoError(t, err)
		return res
	}
	first := run()
	assert.Len(t, first.Candidates, 6)
	assert.Greater(t, first.BestScore, 0.9)

	second := run()
	assert.Equal(t, first.BestParams, second.BestParams)
	assert.Equal(t, first.BestScore, second.BestScore)
}

func TestCrossValScore(t *testing.T) {
	scores, err := CrossValScore(context.Background(), NewRidge(), linearData(t), 4, 2)
	require.NoError(t, err)
	assert.Len(t, scores, 4)
	for _, s := range scores {
		assert.Greater(t, s, 0.8)
	}

	_, err = CrossValScore(context.Background(), NewRidge(), linearData(t), 1, 2)
	assert.Error(t, err)
}
