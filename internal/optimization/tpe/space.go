// Package tpe implements Tree-structured Parzen Estimator search.
//
// The search space is a list of labelled prior distributions. Each trial
// proposes one float64 per label: a real value for Uniform and LogUniform,
// an integral value for RandInt and a choice index for Choice. Results
// report choice parameters as indices into the option list, so callers map
// them back to option values themselves.
package tpe

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Kind is the prior family of a parameter.
type Kind int

const (
	KindUniform Kind = iota
	KindLogUniform
	KindRandInt
	KindChoice
)

func (k Kind) String() string {
	switch k {
	case KindUniform:
		return "uniform"
	case KindLogUniform:
		return "loguniform"
	case KindRandInt:
		return "randint"
	case KindChoice:
		return "choice"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Param is one labelled prior. Low and High are on the natural scale and
// inclusive; N is the number of options of a choice.
type Param struct {
	Label   string
	Kind    Kind
	Low     float64
	High    float64
	N       int
	Weights []float64
}

// Uniform is a real parameter drawn uniformly from [low, high].
func Uniform(label string, low, high float64) Param {
	return Param{Label: label, Kind: KindUniform, Low: low, High: high}
}

// LogUniform is a real parameter whose logarithm is uniform.
func LogUniform(label string, low, high float64) Param {
	return Param{Label: label, Kind: KindLogUniform, Low: low, High: high}
}

// RandInt is an integer parameter drawn uniformly from [low, high].
func RandInt(label string, low, high int) Param {
	return Param{Label: label, Kind: KindRandInt, Low: float64(low), High: float64(high)}
}

// Choice selects one of n options, optionally with prior weights.
func Choice(label string, n int, weights ...float64) Param {
	return Param{Label: label, Kind: KindChoice, N: n, Weights: append([]float64(nil), weights...)}
}

// Validate checks the prior is well formed.
func (p Param) Validate() error {
	if p.Label == "" {
		return fmt.Errorf("parameter label is required")
	}
	switch p.Kind {
	case KindUniform, KindRandInt:
		if !(p.Low < p.High) || math.IsInf(p.Low, 0) || math.IsInf(p.High, 0) {
			return fmt.Errorf("%s: invalid bounds [%v, %v]", p.Label, p.Low, p.High)
		}
	case KindLogUniform:
		if !(p.Low > 0 && p.Low < p.High) || math.IsInf(p.High, 0) {
			return fmt.Errorf("%s: log-uniform bounds must satisfy 0 < low < high, got [%v, %v]", p.Label, p.Low, p.High)
		}
	case KindChoice:
		if p.N < 1 {
			return fmt.Errorf("%s: choice needs at least one option", p.Label)
		}
		if len(p.Weights) != 0 && len(p.Weights) != p.N {
			return fmt.Errorf("%s: %d weights for %d options", p.Label, len(p.Weights), p.N)
		}
	default:
		return fmt.Errorf("%s: unknown prior %v", p.Label, p.Kind)
	}
	return nil
}

// lowHigh returns the bounds of the space the estimator models in: log
// scale for LogUniform and half-open cells around integers for RandInt.
func (p Param) lowHigh() (float64, float64) {
	switch p.Kind {
	case KindLogUniform:
		return math.Log(p.Low), math.Log(p.High)
	case KindRandInt:
		return p.Low - 0.5, p.High + 0.5
	}
	return p.Low, p.High
}

// toModel maps a proposed value into estimator space.
func (p Param) toModel(v float64) float64 {
	if p.Kind == KindLogUniform {
		return math.Log(v)
	}
	return v
}

// fromModel maps an estimator-space value back to a proposal.
func (p Param) fromModel(v float64) float64 {
	lo, hi := p.lowHigh()
	v = math.Min(hi, math.Max(lo, v))
	switch p.Kind {
	case KindLogUniform:
		return math.Min(p.High, math.Max(p.Low, math.Exp(v)))
	case KindRandInt:
		return math.Min(p.High, math.Max(p.Low, math.Round(v)))
	}
	return v
}

func (p Param) priorWeights() []float64 {
	w := make([]float64, p.N)
	if len(p.Weights) == p.N {
		total := 0.0
		for _, x := range p.Weights {
			total += x
		}
		if total > 0 {
			for i, x := range p.Weights {
				w[i] = x / total
			}
			return w
		}
	}
	for i := range w {
		w[i] = 1 / float64(p.N)
	}
	return w
}

// Sampler returns a zero-argument function drawing from the prior.
func (p Param) Sampler(rng *rand.Rand) func() float64 {
	switch p.Kind {
	case KindChoice:
		cat := distuv.NewCategorical(p.priorWeights(), rng)
		return cat.Rand
	default:
		lo, hi := p.lowHigh()
		u := distuv.Uniform{Min: lo, Max: hi, Src: rng}
		return func() float64 { return p.fromModel(u.Rand()) }
	}
}
