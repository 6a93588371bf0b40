// Package random implements random search: every iteration draws each
// parameter independently from its distribution.
package random

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat/distuv"

	apperrors "github.com/copyleftdev/hyperopt/internal/errors"
	"github.com/copyleftdev/hyperopt/internal/optimization"
)

const component = "random"

// Distribution draws one parameter value.
type Distribution interface {
	Sample(rng *rand.Rand) any
	Validate() error
}

// Choice draws one of Values, uniformly unless Weights are set.
type Choice struct {
	Values  []any
	Weights []float64
}

func (c Choice) Sample(rng *rand.Rand) any {
	if len(c.Weights) == 0 {
		return c.Values[rng.IntN(len(c.Values))]
	}
	return c.Values[int(distuv.NewCategorical(c.Weights, rng).Rand())]
}

func (c Choice) Validate() error {
	if len(c.Values) == 0 {
		return fmt.Errorf("choice has no values")
	}
	if len(c.Weights) != 0 && len(c.Weights) != len(c.Values) {
		return fmt.Errorf("choice has %d weights for %d values", len(c.Weights), len(c.Values))
	}
	return nil
}

// Uniform draws a float64 from [Low, High).
type Uniform struct {
	Low, High float64
}

func (u Uniform) Sample(rng *rand.Rand) any {
	return distuv.Uniform{Min: u.Low, Max: u.High, Src: rng}.Rand()
}

func (u Uniform) Validate() error {
	return checkBounds(u.Low, u.High)
}

// LogUniform draws a float64 whose logarithm is uniform on
// [log Low, log High).
type LogUniform struct {
	Low, High float64
}

func (u LogUniform) Sample(rng *rand.Rand) any {
	v := distuv.Uniform{Min: math.Log(u.Low), Max: math.Log(u.High), Src: rng}.Rand()
	return math.Min(u.High, math.Max(u.Low, math.Exp(v)))
}

func (u LogUniform) Validate() error {
	if u.Low <= 0 {
		return fmt.Errorf("log-uniform low must be positive, got %v", u.Low)
	}
	return checkBounds(u.Low, u.High)
}

// IntUniform draws an int from [Low, High] inclusive.
type IntUniform struct {
	Low, High int
}

func (u IntUniform) Sample(rng *rand.Rand) any {
	return u.Low + rng.IntN(u.High-u.Low+1)
}

func (u IntUniform) Validate() error {
	if u.Low > u.High {
		return fmt.Errorf("invalid integer range [%d, %d]", u.Low, u.High)
	}
	return nil
}

// IntLogUniform draws an int from [Low, High] whose logarithm is roughly
// uniform.
type IntLogUniform struct {
	Low, High int
}

func (u IntLogUniform) Sample(rng *rand.Rand) any {
	v := distuv.Uniform{Min: math.Log(float64(u.Low)), Max: math.Log(float64(u.High) + 1), Src: rng}.Rand()
	return min(u.High, max(u.Low, int(math.Floor(math.Exp(v)))))
}

func (u IntLogUniform) Validate() error {
	if u.Low < 1 || u.Low > u.High {
		return fmt.Errorf("invalid log-uniform integer range [%d, %d]", u.Low, u.High)
	}
	return nil
}

func checkBounds(low, high float64) error {
	if math.IsNaN(low) || math.IsNaN(high) || math.IsInf(low, 0) || math.IsInf(high, 0) || low >= high {
		return fmt.Errorf("invalid bounds [%v, %v]", low, high)
	}
	return nil
}

// Param is one named distribution.
type Param struct {
	Name string
	Dist Distribution
}

// Config configures a search.
type Config struct {
	Params []Param
	// NIter is the exact number of objective evaluations.
	NIter int
	// Seed drives every draw; zero seeds from the clock.
	Seed int64
}

// Option configures a search.
type Option func(*searcher)

// WithLogger sets the logger for per-iteration diagnostics.
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

// NewRand returns the generator used for seed. Samplers outside this
// package use it to reproduce the same draws.
func NewRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewPCG(uint64(seed), 0x72616e646f6d))
}

// Validate checks every distribution and that names are unique.
func Validate(params []Param) error {
	if len(params) == 0 {
		return apperrors.Configuration("random search needs at least one parameter")
	}
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		if p.Dist == nil {
			return apperrors.ConfigurationParam(p.Name, "distribution is required")
		}
		if err := p.Dist.Validate(); err != nil {
			return apperrors.ConfigurationParam(p.Name, "%v", err)
		}
		if seen[p.Name] {
			return apperrors.ConfigurationParam(p.Name, "duplicate parameter")
		}
		seen[p.Name] = true
	}
	return nil
}

// Sample draws one assignment, in parameter order.
func Sample(params []Param, rng *rand.Rand) optimization.Params {
	out := make(optimization.Params, len(params))
	for _, p := range params {
		out[p.Name] = p.Dist.Sample(rng)
	}
	return out
}

// Search evaluates objective at exactly config.NIter sampled assignments
// and returns the first one with the lowest loss.
func Search(ctx context.Context, config Config, objective optimization.NamedObjective, opts ...Option) (*optimization.NamedResult, error) {
	s := &searcher{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	if objective == nil {
		return nil, apperrors.Configuration("objective function is required")
	}
	if err := Validate(config.Params); err != nil {
		return nil, err
	}
	if config.NIter < 1 {
		return nil, apperrors.ConfigurationParam("n_iter", "must be at least 1, got %d", config.NIter)
	}

	rng := NewRand(config.Seed)
	result := &optimization.NamedResult{BestValue: math.Inf(1)}
	for i := 0; i < config.NIter; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p := Sample(config.Params, rng)
		value, err := objective(ctx, p)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(value) {
			return nil, apperrors.ResultShape("objective returned NaN at iteration %d", i+1)
		}
		result.Evaluations++

		if result.Best == nil || value < result.BestValue {
			result.Best = p.Clone()
			result.BestValue = value
		}
		s.logger.Debug("Evaluated sample",
			zap.Int("iteration", i+1),
			zap.Any("params", p),
			zap.Float64("value", value),
		)
	}
	return result, nil
}
