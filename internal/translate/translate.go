// Package translate converts a search space into the representation each
// search backend consumes:
//
//   - grid:   ordered axes of candidate values
//   - random: named sampling distributions
//   - bayes:  an ordered box of coordinates plus a decoder back to names
//   - tpe:    labelled priors plus a decoder for choice indices
//
// Translation reads the space only and returns fresh values, so the same
// space translates identically on every call.
package translate

import (
	"math"

	apperrors "github.com/copyleftdev/hyperopt/internal/errors"
	"github.com/copyleftdev/hyperopt/internal/optimization"
	"github.com/copyleftdev/hyperopt/internal/optimization/grid"
	"github.com/copyleftdev/hyperopt/internal/optimization/random"
	"github.com/copyleftdev/hyperopt/internal/space"
)

// Translation is the backend-specific form of a space. Exactly one of the
// representation fields is set, according to Strategy.
type Translation struct {
	Strategy      optimization.Strategy
	Axes          []grid.Axis
	Distributions []random.Param
	Positional    *PositionalSpace
	TPE           *TPESpace
}

// For translates s for strategy.
func For(strategy optimization.Strategy, s *space.Space) (*Translation, error) {
	t := &Translation{Strategy: strategy}
	var err error
	switch strategy {
	case optimization.StrategyGrid:
		t.Axes, err = Grids(s)
	case optimization.StrategyRandom:
		t.Distributions, err = Distributions(s)
	case optimization.StrategyBayes:
		t.Positional, err = Positional(s)
	case optimization.StrategyTPE:
		t.TPE, err = TPE(s)
	default:
		return nil, apperrors.ConfigurationParam("strategy", "unknown search strategy %q", strategy)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Grids returns one axis per dimension, in space order. Every dimension
// must be discretized.
func Grids(s *space.Space) ([]grid.Axis, error) {
	if err := check(optimization.StrategyGrid, s); err != nil {
		return nil, err
	}
	axes := make([]grid.Axis, 0, s.Len())
	for _, name := range s.Names() {
		d, _ := s.Dimension(name)
		values, err := d.Values()
		if err != nil {
			return nil, apperrors.Wrapf(err, "grid for %q", name)
		}
		axes = append(axes, grid.Axis{Name: name, Values: values})
	}
	return axes, nil
}

// Distributions returns one named distribution per dimension. Discretized
// dimensions sample uniformly from their grid; bounded ones sample their
// prior over the bounds.
func Distributions(s *space.Space) ([]random.Param, error) {
	if err := check(optimization.StrategyRandom, s); err != nil {
		return nil, err
	}
	params := make([]random.Param, 0, s.Len())
	for _, name := range s.Names() {
		d, _ := s.Dimension(name)
		dist, err := distribution(d)
		if err != nil {
			return nil, apperrors.Wrapf(err, "distribution for %q", name)
		}
		params = append(params, random.Param{Name: name, Dist: dist})
	}
	return params, nil
}

func distribution(d space.Dimension) (random.Distribution, error) {
	switch d := d.(type) {
	case *space.Categorical:
		return random.Choice{Values: d.Categories(), Weights: d.Weights()}, nil
	case *space.Real:
		if d.Discretized() {
			values, err := d.Values()
			return random.Choice{Values: values}, err
		}
		low, high, _ := d.Bounds()
		if d.Prior() == space.LogUniform {
			return random.LogUniform{Low: low, High: high}, nil
		}
		return random.Uniform{Low: low, High: high}, nil
	case *space.Integer:
		if d.Discretized() {
			values, err := d.Values()
			return random.Choice{Values: values}, err
		}
		low, high, _ := d.Bounds()
		if d.Prior() == space.LogUniform {
			return random.IntLogUniform{Low: low, High: high}, nil
		}
		return random.IntUniform{Low: low, High: high}, nil
	}
	return nil, apperrors.Configuration("unknown dimension type %T", d)
}

// check validates s and rejects dimensions no backend can represent.
func check(strategy optimization.Strategy, s *space.Space) error {
	if err := s.Validate(); err != nil {
		return err
	}
	for _, name := range s.Names() {
		d, _ := s.Dimension(name)
		if d.Kind() == space.KindCategorical && d.Prior() == space.LogUniform {
			return apperrors.UnsupportedDimension(string(strategy), name,
				"categorical dimension cannot have a log-uniform prior")
		}
		switch d.(type) {
		case *space.Real, *space.Integer, *space.Categorical:
		default:
			return apperrors.UnsupportedDimension(string(strategy), name, "unknown dimension type %T", d)
		}
	}
	return nil
}

// indexOf finds v among values, matching numerically when both are
// numbers.
func indexOf(values []any, v any) (int, bool) {
	for i, x := range values {
		if x == v {
			return i, true
		}
	}
	f, ok := optimization.ToFloat(v)
	if !ok {
		return 0, false
	}
	for i, x := range values {
		if g, ok := optimization.ToFloat(x); ok && g == f {
			return i, true
		}
	}
	return 0, false
}

func clamp(v, low, high float64) float64 {
	return math.Min(high, math.Max(low, v))
}
