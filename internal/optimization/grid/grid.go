// Package grid implements exhaustive search over the Cartesian product of
// per-parameter value lists.
package grid

import (
	"context"
	"iter"
	"math"

	"go.uber.org/zap"

	apperrors "github.com/copyleftdev/hyperopt/internal/errors"
	"github.com/copyleftdev/hyperopt/internal/optimization"
)

const component = "grid"

// Axis is one named parameter and the values it takes.
type Axis struct {
	Name   string
	Values []any
}

// Size returns the number of points in the product of axes.
func Size(axes []Axis) int {
	if len(axes) == 0 {
		return 0
	}
	n := 1
	for _, a := range axes {
		n *= len(a.Values)
	}
	return n
}

// Points yields every assignment in lexicographic order: the first axis
// varies slowest and the last fastest.
func Points(axes []Axis) iter.Seq[optimization.Params] {
	return func(yield func(optimization.Params) bool) {
		if Size(axes) == 0 {
			return
		}
		idx := make([]int, len(axes))
		for {
			p := make(optimization.Params, len(axes))
			for i, a := range axes {
				p[a.Name] = a.Values[idx[i]]
			}
			if !yield(p) {
				return
			}

			// Odometer increment from the last axis.
			i := len(axes) - 1
			for ; i >= 0; i-- {
				idx[i]++
				if idx[i] < len(axes[i].Values) {
					break
				}
				idx[i] = 0
			}
			if i < 0 {
				return
			}
		}
	}
}

// Option configures a search.
type Option func(*searcher)

// WithLogger sets the logger for per-point diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(s *searcher) {
		if logger != nil {
			s.logger = logger.Named(component)
		}
	}
}

type searcher struct {
	logger *zap.Logger
}

// Search evaluates objective at every point and returns the first point
// with the lowest loss.
func Search(ctx context.Context, axes []Axis, objective optimization.NamedObjective, opts ...Option) (*optimization.NamedResult, error) {
	s := &searcher{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	if objective == nil {
		return nil, apperrors.Configuration("objective function is required")
	}
	if len(axes) == 0 {
		return nil, apperrors.Configuration("grid search needs at least one parameter")
	}
	seen := make(map[string]bool, len(axes))
	for _, a := range axes {
		if len(a.Values) == 0 {
			return nil, apperrors.ConfigurationParam(a.Name, "grid is empty")
		}
		if seen[a.Name] {
			return nil, apperrors.ConfigurationParam(a.Name, "duplicate parameter")
		}
		seen[a.Name] = true
	}

	s.logger.Debug("Starting grid search", zap.Int("points", Size(axes)))

	result := &optimization.NamedResult{BestValue: math.Inf(1)}
	for p := range Points(axes) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		value, err := objective(ctx, p)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(value) {
			return nil, apperrors.ResultShape("objective returned NaN at point %d", result.Evaluations+1)
		}
		result.Evaluations++

		if result.Best == nil || value < result.BestValue {
			result.Best = p.Clone()
			result.BestValue = value
		}
		s.logger.Debug("Evaluated point",
			zap.Int("call", result.Evaluations),
			zap.Any("params", p),
			zap.Float64("value", value),
		)
	}
	return result, nil
}
