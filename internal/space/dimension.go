// Package space describes what a hyperparameter search optimizes over.
//
// A Dimension is one searchable parameter: Real (continuous), Integer
// (discrete) or Categorical. Real and Integer dimensions are either bounded
// (low, high) or carry an explicit grid; bounded ones are discretized with
// NumSamples or Step when a backend needs a finite grid. A Space is an
// ordered, name-keyed collection of Dimensions whose insertion order is the
// positional order used by vector-based backends.
//
// Dimensions are immutable once constructed and are validated eagerly, so
// an invalid search space fails before any evaluation runs.
package space

import (
	"fmt"
	"math"
	"reflect"

	"gonum.org/v1/gonum/floats"

	apperrors "github.com/copyleftdev/hyperopt/internal/errors"
)

// Kind identifies the variant of a Dimension.
type Kind int

const (
	KindReal Kind = iota
	KindInteger
	KindCategorical
)

func (k Kind) String() string {
	switch k {
	case KindReal:
		return "real"
	case KindInteger:
		return "integer"
	case KindCategorical:
		return "categorical"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Prior is the sampling prior over a dimension's bounds.
type Prior string

const (
	Uniform    Prior = "uniform"
	LogUniform Prior = "log-uniform"
)

// Dimension is one searchable parameter.
type Dimension interface {
	// Name is the dimension's own name; empty when it is only known by its
	// key in a Space.
	Name() string
	Kind() Kind
	Prior() Prior
	// Values returns the discretized grid as untyped values.
	Values() ([]any, error)
}

// gridTolerance absorbs floating-point error when counting steps and
// truncating spans to integers.
const gridTolerance = 1e-9

type spec struct {
	name       string
	low, high  float64
	hasBounds  bool
	grid       []float64
	hasGrid    bool
	step       float64
	numSamples int
	prior      Prior
	weights    []float64
	hasWeights bool
}

// Option configures a Dimension.
type Option func(*spec)

// WithName names the dimension.
func WithName(name string) Option {
	return func(s *spec) { s.name = name }
}

// WithBounds sets the inclusive bounds of a Real or Integer dimension.
func WithBounds(low, high float64) Option {
	return func(s *spec) {
		s.low, s.high = low, high
		s.hasBounds = true
	}
}

// WithGrid sets an explicit grid. It takes precedence over bounds.
func WithGrid(values ...float64) Option {
	return func(s *spec) {
		s.grid = append([]float64(nil), values...)
		s.hasGrid = true
	}
}

// WithStep discretizes bounds from low to high by step.
func WithStep(step float64) Option {
	return func(s *spec) { s.step = step }
}

// WithNumSamples discretizes bounds into n evenly spaced points.
func WithNumSamples(n int) Option {
	return func(s *spec) { s.numSamples = n }
}

// WithPrior sets the sampling prior.
func WithPrior(p Prior) Option {
	return func(s *spec) { s.prior = p }
}

// WithWeights sets per-category sampling weights of a Categorical.
func WithWeights(w ...float64) Option {
	return func(s *spec) {
		s.weights = append([]float64(nil), w...)
		s.hasWeights = true
	}
}

func build(opts []Option) spec {
	s := spec{prior: Uniform}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// validateNumeric checks the invariants shared by Real and Integer.
func (s *spec) validateNumeric(kind Kind) error {
	param := s.name
	if s.hasWeights {
		return apperrors.ConfigurationParam(param, "weights only apply to categorical dimensions")
	}
	if s.prior != Uniform && s.prior != LogUniform {
		return apperrors.ConfigurationParam(param, "unknown prior %q", s.prior)
	}
	if s.numSamples < 0 {
		return apperrors.ConfigurationParam(param, "num_samples must be positive, got %d", s.numSamples)
	}
	if s.step < 0 || math.IsNaN(s.step) {
		return apperrors.ConfigurationParam(param, "step must be positive, got %v", s.step)
	}
	if s.step > 0 && s.numSamples > 0 {
		return apperrors.ConfigurationParam(param, "step and num_samples are mutually exclusive")
	}

	if s.hasGrid {
		if len(s.grid) == 0 {
			return apperrors.ConfigurationParam(param, "explicit grid must not be empty")
		}
		for _, v := range s.grid {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return apperrors.ConfigurationParam(param, "grid value %v is not finite", v)
			}
			if kind == KindInteger && v != math.Trunc(v) {
				return apperrors.ConfigurationParam(param, "integer grid value %v is not integral", v)
			}
		}
		return nil
	}

	if !s.hasBounds {
		return apperrors.ConfigurationParam(param, "%s dimension requires either a grid or low and high", kind)
	}
	if math.IsNaN(s.low) || math.IsNaN(s.high) || math.IsInf(s.low, 0) || math.IsInf(s.high, 0) {
		return apperrors.ConfigurationParam(param, "bounds must be finite, got [%v, %v]", s.low, s.high)
	}
	if s.low >= s.high {
		return apperrors.ConfigurationParam(param, "low (%v) must be less than high (%v)", s.low, s.high)
	}
	if kind == KindInteger && (s.low != math.Trunc(s.low) || s.high != math.Trunc(s.high)) {
		return apperrors.ConfigurationParam(param, "integer bounds must be integral, got [%v, %v]", s.low, s.high)
	}
	if kind == KindInteger && s.step != math.Trunc(s.step) {
		return apperrors.ConfigurationParam(param, "integer step must be integral, got %v", s.step)
	}
	if s.prior == LogUniform && s.low <= 0 {
		return apperrors.ConfigurationParam(param, "log-uniform prior requires low > 0, got %v", s.low)
	}
	return nil
}

// floatGrid discretizes bounds. It is shared by Real and Integer.
func (s *spec) floatGrid() ([]float64, error) {
	switch {
	case s.numSamples == 1:
		return []float64{s.low}, nil
	case s.numSamples > 1:
		dst := make([]float64, s.numSamples)
		if s.prior == LogUniform {
			floats.LogSpan(dst, s.low, s.high)
		} else {
			floats.Span(dst, s.low, s.high)
		}
		dst[0], dst[len(dst)-1] = s.low, s.high
		return dst, nil
	case s.step > 0:
		n := int(math.Floor((s.high-s.low)/s.step+gridTolerance)) + 1
		out := make([]float64, n)
		for i := range out {
			out[i] = s.low + float64(i)*s.step
		}
		return out, nil
	}
	return nil, apperrors.ConfigurationParam(s.name,
		"bounded dimension without grid, num_samples or step cannot produce a finite grid")
}

// Real is a continuous dimension.
type Real struct {
	s spec
}

// NewReal builds a continuous dimension.
func NewReal(opts ...Option) (*Real, error) {
	s := build(opts)
	if err := s.validateNumeric(KindReal); err != nil {
		return nil, err
	}
	return &Real{s: s}, nil
}

func (r *Real) Name() string { return r.s.name }
func (r *Real) Kind() Kind   { return KindReal }
func (r *Real) Prior() Prior { return r.s.prior }

// Bounds returns the bounds; ok is false for a grid-only dimension.
func (r *Real) Bounds() (low, high float64, ok bool) {
	if r.s.hasGrid {
		return 0, 0, false
	}
	return r.s.low, r.s.high, true
}

// Discretized reports whether Grid can succeed.
func (r *Real) Discretized() bool {
	return r.s.hasGrid || r.s.numSamples > 0 || r.s.step > 0
}

// Grid returns the ordered candidate values.
func (r *Real) Grid() ([]float64, error) {
	if r.s.hasGrid {
		return append([]float64(nil), r.s.grid...), nil
	}
	return r.s.floatGrid()
}

// Values implements Dimension.
func (r *Real) Values() ([]any, error) {
	g, err := r.Grid()
	if err != nil {
		return nil, err
	}
	out := make([]any, len(g))
	for i, v := range g {
		out[i] = v
	}
	return out, nil
}

// Integer is a discrete numeric dimension.
type Integer struct {
	s spec
}

// NewInteger builds a discrete dimension.
func NewInteger(opts ...Option) (*Integer, error) {
	s := build(opts)
	if err := s.validateNumeric(KindInteger); err != nil {
		return nil, err
	}
	return &Integer{s: s}, nil
}

func (d *Integer) Name() string { return d.s.name }
func (d *Integer) Kind() Kind   { return KindInteger }
func (d *Integer) Prior() Prior { return d.s.prior }

// Bounds returns the bounds; ok is false for a grid-only dimension.
func (d *Integer) Bounds() (low, high int, ok bool) {
	if d.s.hasGrid {
		return 0, 0, false
	}
	return int(d.s.low), int(d.s.high), true
}

// Discretized reports whether Grid can succeed.
func (d *Integer) Discretized() bool {
	return d.s.hasGrid || d.s.numSamples > 0 || d.s.step > 0
}

// Grid returns the ordered candidate values. An explicit grid is returned
// as given; a bounded grid drops the repeats left when num_samples exceeds
// the number of integers in range.
func (d *Integer) Grid() ([]int, error) {
	if d.s.hasGrid {
		out := make([]int, len(d.s.grid))
		for i, v := range d.s.grid {
			out[i] = int(v)
		}
		return out, nil
	}
	g, err := d.s.floatGrid()
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, len(g))
	for _, v := range g {
		n := int(math.Floor(v + gridTolerance))
		if len(out) > 0 && out[len(out)-1] == n {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// Values implements Dimension.
func (d *Integer) Values() ([]any, error) {
	g, err := d.Grid()
	if err != nil {
		return nil, err
	}
	out := make([]any, len(g))
	for i, v := range g {
		out[i] = v
	}
	return out, nil
}

// Categorical is an ordered set of opaque values.
type Categorical struct {
	s          spec
	categories []any
}

// NewCategorical builds a categorical dimension. Categories must be
// distinct, comparable values.
func NewCategorical(categories []any, opts ...Option) (*Categorical, error) {
	s := build(opts)
	param := s.name

	if s.hasBounds || s.hasGrid || s.step != 0 || s.numSamples != 0 {
		return nil, apperrors.ConfigurationParam(param, "categorical dimension takes categories only, not bounds or discretization")
	}
	if s.prior != Uniform && s.prior != LogUniform {
		return nil, apperrors.ConfigurationParam(param, "unknown prior %q", s.prior)
	}
	if len(categories) == 0 {
		return nil, apperrors.ConfigurationParam(param, "categorical dimension requires at least one category")
	}
	for i, c := range categories {
		if c == nil || !reflect.TypeOf(c).Comparable() {
			return nil, apperrors.ConfigurationParam(param, "category %d (%v) is not a comparable value", i, c)
		}
		for _, prev := range categories[:i] {
			if prev == c {
				return nil, apperrors.ConfigurationParam(param, "duplicate category %v", c)
			}
		}
	}
	if s.hasWeights {
		if len(s.weights) != len(categories) {
			return nil, apperrors.ConfigurationParam(param, "got %d weights for %d categories", len(s.weights), len(categories))
		}
		total := 0.0
		for _, w := range s.weights {
			if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
				return nil, apperrors.ConfigurationParam(param, "weights must be finite and non-negative")
			}
			total += w
		}
		if total <= 0 {
			return nil, apperrors.ConfigurationParam(param, "at least one weight must be positive")
		}
	}

	return &Categorical{s: s, categories: append([]any(nil), categories...)}, nil
}

func (c *Categorical) Name() string { return c.s.name }
func (c *Categorical) Kind() Kind   { return KindCategorical }
func (c *Categorical) Prior() Prior { return c.s.prior }

// Categories returns the categories in order.
func (c *Categorical) Categories() []any {
	return append([]any(nil), c.categories...)
}

// Grid is the categories, order preserved.
func (c *Categorical) Grid() []any {
	return c.Categories()
}

// Values implements Dimension.
func (c *Categorical) Values() ([]any, error) {
	return c.Categories(), nil
}

// Weights returns the sampling weights, or nil for uniform sampling.
func (c *Categorical) Weights() []float64 {
	if !c.s.hasWeights {
		return nil
	}
	return append([]float64(nil), c.s.weights...)
}

// Index returns the position of v among the categories.
func (c *Categorical) Index(v any) (int, bool) {
	if v == nil || !reflect.TypeOf(v).Comparable() {
		return 0, false
	}
	for i, cat := range c.categories {
		if cat == v {
			return i, true
		}
	}
	return 0, false
}
