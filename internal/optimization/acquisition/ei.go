// Package acquisition scores candidate points from a surrogate's predictive
// mean and standard deviation. Higher scores are more promising.
package acquisition

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"
)

// Function is an acquisition function over a minimization surrogate.
type Function interface {
	// Compute scores a candidate with predictive mean mu and deviation sigma.
	Compute(mu, sigma float64) float64
	// UpdateBest records the best (lowest) observed value so far.
	UpdateBest(best float64)
}

// Registry names.
const (
	EI  = "EI"
	PI  = "PI"
	LCB = "LCB"
)

// Default exploration parameters.
const (
	DefaultXi    = 0.01
	DefaultKappa = 1.96
)

// sigmaFloor is the deviation below which a prediction is treated as exact.
const sigmaFloor = 1e-10

// New builds an acquisition function by name for a minimization problem.
func New(name string, bestObserved, xi, kappa float64) (Function, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", EI:
		return NewExpectedImprovement(bestObserved, xi), nil
	case PI:
		return NewProbabilityOfImprovement(bestObserved, xi), nil
	case LCB:
		return NewLowerConfidenceBound(kappa), nil
	}
	return nil, fmt.Errorf("unknown acquisition function %q", name)
}

// ExpectedImprovement implements the Expected Improvement acquisition function
type ExpectedImprovement struct {
	// Best observed value so far
	bestObserved float64
	// Exploration-exploitation trade-off parameter (xi)
	xi float64
	// Whether we're minimizing (true) or maximizing (false)
	minimize bool
}

// NewExpectedImprovement creates a new ExpectedImprovement acquisition function
// By default, it assumes we're minimizing (lower values are better)
func NewExpectedImprovement(bestObserved, xi float64) *ExpectedImprovement {
	return &ExpectedImprovement{
		bestObserved: bestObserved,
		xi:           xi,
		minimize:     true,
	}
}

func (ei *ExpectedImprovement) improvement(mu float64) float64 {
	if ei.minimize {
		return ei.bestObserved - mu - ei.xi
	}
	return mu - ei.bestObserved - ei.xi
}

// Compute returns improvement*Φ(z) + sigma*φ(z), z = improvement/sigma.
// The result is never negative.
func (ei *ExpectedImprovement) Compute(mu, sigma float64) float64 {
	improvement := ei.improvement(mu)
	if improvement <= 0 {
		return 0.0
	}
	if sigma <= sigmaFloor {
		return improvement
	}
	z := improvement / sigma
	return improvement*distuv.UnitNormal.CDF(z) + sigma*distuv.UnitNormal.Prob(z)
}

// UpdateBest updates the best observed value
func (ei *ExpectedImprovement) UpdateBest(best float64) {
	ei.bestObserved = best
}

// SetXi sets the exploration-exploitation trade-off parameter
func (ei *ExpectedImprovement) SetXi(xi float64) {
	ei.xi = xi
}

// BestObserved returns the best observed value
func (ei *ExpectedImprovement) BestObserved() float64 {
	return ei.bestObserved
}

// ProbabilityOfImprovement scores Φ((best - mu - xi) / sigma).
type ProbabilityOfImprovement struct {
	bestObserved float64
	xi           float64
}

// NewProbabilityOfImprovement creates a PI acquisition for minimization.
func NewProbabilityOfImprovement(bestObserved, xi float64) *ProbabilityOfImprovement {
	return &ProbabilityOfImprovement{bestObserved: bestObserved, xi: xi}
}

func (pi *ProbabilityOfImprovement) Compute(mu, sigma float64) float64 {
	improvement := pi.bestObserved - mu - pi.xi
	if sigma <= sigmaFloor {
		if improvement > 0 {
			return 1
		}
		return 0
	}
	return distuv.UnitNormal.CDF(improvement / sigma)
}

func (pi *ProbabilityOfImprovement) UpdateBest(best float64) {
	pi.bestObserved = best
}

// LowerConfidenceBound scores -(mu - kappa*sigma), so the lowest optimistic
// bound gets the highest score.
type LowerConfidenceBound struct {
	kappa float64
}

// NewLowerConfidenceBound creates an LCB acquisition.
func NewLowerConfidenceBound(kappa float64) *LowerConfidenceBound {
	return &LowerConfidenceBound{kappa: kappa}
}

func (l *LowerConfidenceBound) Compute(mu, sigma float64) float64 {
	return -(mu - l.kappa*sigma)
}

// UpdateBest is a no-op; the bound does not depend on the incumbent.
func (l *LowerConfidenceBound) UpdateBest(float64) {}
