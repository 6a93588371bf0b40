// Package optimization holds the vocabulary shared by the search backends:
// strategies, optimization direction, named parameter assignments and the
// positional objective contract used by the Gaussian-process backend.
package optimization

import (
	"context"
	"fmt"
	"strings"
)

// Strategy selects a search backend.
type Strategy string

const (
	// StrategyGrid enumerates the Cartesian product of every dimension grid.
	StrategyGrid Strategy = "grid"
	// StrategyRandom draws independent samples per dimension.
	StrategyRandom Strategy = "random"
	// StrategyBayes runs Gaussian-process sequential model-based search.
	StrategyBayes Strategy = "bayes"
	// StrategyTPE runs tree-structured Parzen estimator search.
	StrategyTPE Strategy = "tpe"
)

// ParseStrategy resolves a strategy selector, accepting the common aliases.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "grid", "gridsearch", "grid_search":
		return StrategyGrid, nil
	case "random", "randomized", "random_search":
		return StrategyRandom, nil
	case "bayes", "bayesian", "gp", "gp_minimize", "smbo":
		return StrategyBayes, nil
	case "tpe", "hyperopt":
		return StrategyTPE, nil
	}
	return "", fmt.Errorf("unknown search strategy %q", s)
}

// Direction says whether lower or higher objective values are better.
type Direction string

const (
	Minimize Direction = "minimize"
	Maximize Direction = "maximize"
)

// ParseDirection resolves "minimize"/"maximize" (and "min"/"max").
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "min", "minimize":
		return Minimize, nil
	case "max", "maximize":
		return Maximize, nil
	}
	return "", fmt.Errorf("unknown optimization direction %q", s)
}

// Sign maps a raw objective value to the minimization loss seen by backends.
func (d Direction) Sign() float64 {
	if d == Maximize {
		return -1
	}
	return 1
}

// Better reports whether a is strictly better than b.
func (d Direction) Better(a, b float64) bool {
	if d == Maximize {
		return a > b
	}
	return a < b
}

// Params is a named parameter assignment.
type Params map[string]any

// Clone returns a shallow copy.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Float returns a numeric parameter as float64.
func (p Params) Float(name string) (float64, bool) {
	return ToFloat(p[name])
}

// String returns a string parameter.
func (p Params) String(name string) (string, bool) {
	s, ok := p[name].(string)
	return s, ok
}

// ToFloat converts Go numeric values to float64.
func ToFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	}
	return 0, false
}

// OptimizerConfig contains configuration for a positional optimizer.
type OptimizerConfig struct {
	// Objective function to minimize
	Objective ObjectiveFunction

	// Bounds for each dimension [min, max], in search-space order
	Bounds [][2]float64

	// NCalls is the total number of objective evaluations, initial points
	// included.
	NCalls int

	// Number of initial random points to evaluate
	NInitialPoints int

	// InitialPoints are evaluated first and count towards NCalls.
	InitialPoints [][]float64

	// Random seed for reproducibility; zero seeds from the clock.
	RandomSeed int64

	// AcqFunc is one of "EI", "PI", "LCB".
	AcqFunc string

	// Xi is the exploration margin for EI and PI.
	Xi float64

	// Kappa is the exploration weight for LCB.
	Kappa float64

	// Noise is the observation noise variance of the surrogate.
	Noise float64

	// Kernel is "matern52" or "rbf".
	Kernel string
}

// ObjectiveFunction is the positional calling convention: one float per
// dimension, in search-space order.
type ObjectiveFunction func([]float64) (float64, error)

// Solution represents a solution in the optimization space
type Solution struct {
	Parameters []float64
	Value      float64
}

// Evaluation represents a single evaluation of the objective function
type Evaluation struct {
	Iteration int
	Solution  *Solution
}

// OptimizationResult contains the result of an optimization run
type OptimizationResult struct {
	BestSolution *Solution
	History      []Evaluation
	Iterations   int
	Converged    bool
}

// NamedObjective is the named calling convention used by the grid and
// random backends. It returns the loss to minimize.
type NamedObjective func(ctx context.Context, params Params) (float64, error)

// NamedResult is the outcome of a named-parameter search.
type NamedResult struct {
	// Best is the first assignment that reached BestValue.
	Best      Params
	BestValue float64
	// Evaluations is the number of objective calls made.
	Evaluations int
}
