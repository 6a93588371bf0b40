// Package models provides the regression estimators searched by the
// optimizer, a registry that builds them from declarative model
// definitions, error metrics, and cross-validated native search.
package models

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"gonum.org/v1/gonum/mat"

	apperrors "github.com/copyleftdev/hyperopt/internal/errors"
	"github.com/copyleftdev/hyperopt/internal/optimization"
)

// Estimator is a regression model with settable hyperparameters.
type Estimator interface {
	// Name is the registry name of the estimator.
	Name() string
	Fit(X *mat.Dense, y []float64) error
	Predict(X *mat.Dense) ([]float64, error)
	// Score is the coefficient of determination on (X, y); higher is better.
	Score(X *mat.Dense, y []float64) (float64, error)
	// Params returns the current hyperparameters.
	Params() optimization.Params
	// SetParams updates the named hyperparameters, rejecting unknown names.
	SetParams(p optimization.Params) error
	// Clone returns an unfitted copy with the same hyperparameters.
	Clone() Estimator
}

// Factory creates an estimator with default hyperparameters.
type Factory func() Estimator

// Registry maps estimator names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry holds the estimators shipped with this package.
var DefaultRegistry = func() *Registry {
	r := NewRegistry()
	r.MustRegister(KernelRidgeName, func() Estimator { return NewKernelRidge() })
	r.MustRegister(RidgeName, func() Estimator { return NewRidge() })
	return r
}()

// Register adds a factory under name.
func (r *Registry) Register(name string, f Factory) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || f == nil {
		return fmt.Errorf("estimator name and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("estimator %q is already registered", name)
	}
	r.factories[name] = f
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(name string, f Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Build creates the estimator described by spec.
func (r *Registry) Build(spec Spec) (Estimator, error) {
	r.mu.RLock()
	f, ok := r.factories[strings.ToLower(spec.Estimator)]
	r.mu.RUnlock()
	if !ok {
		return nil, apperrors.ConfigurationParam("model", "unknown estimator %q (have %s)", spec.Estimator, strings.Join(r.Names(), ", "))
	}
	est := f()
	if len(spec.Params) > 0 {
		if err := est.SetParams(spec.Params); err != nil {
			return nil, apperrors.ConfigurationParam("model", "%s: %v", spec.Estimator, err)
		}
	}
	return est, nil
}

// Spec is a declarative model configuration: an estimator name and its
// hyperparameters.
type Spec struct {
	Estimator string
	Params    optimization.Params
}

// ParseSpec reads the nested form {"model": {"<estimator>": {params}}}.
// The outer "model" key is optional.
func ParseSpec(m map[string]any) (Spec, error) {
	if inner, ok := m["model"]; ok {
		im, ok := inner.(map[string]any)
		if !ok {
			return Spec{}, apperrors.ConfigurationParam("model", "must be a mapping, got %T", inner)
		}
		m = im
	}
	if len(m) != 1 {
		return Spec{}, apperrors.ConfigurationParam("model", "must name exactly one estimator, got %d", len(m))
	}
	for name, raw := range m {
		spec := Spec{Estimator: name, Params: optimization.Params{}}
		if raw == nil {
			return spec, nil
		}
		params, ok := raw.(map[string]any)
		if !ok {
			return Spec{}, apperrors.ConfigurationParam("model", "parameters of %q must be a mapping, got %T", name, raw)
		}
		for k, v := range params {
			spec.Params[k] = v
		}
		return spec, nil
	}
	return Spec{}, nil
}

// With returns a copy of s whose parameters are overridden by p.
func (s Spec) With(p optimization.Params) Spec {
	out := Spec{Estimator: s.Estimator, Params: s.Params.Clone()}
	for k, v := range p {
		out.Params[k] = v
	}
	return out
}

func checkFitInput(X *mat.Dense, y []float64) error {
	if X == nil {
		return fmt.Errorf("feature matrix is nil")
	}
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return fmt.Errorf("feature matrix is empty")
	}
	if r != len(y) {
		return fmt.Errorf("%d rows but %d targets", r, len(y))
	}
	return nil
}

func paramFloat(p optimization.Params, name string) (float64, error) {
	f, ok := p.Float(name)
	if !ok {
		return 0, fmt.Errorf("%s must be numeric, got %T", name, p[name])
	}
	return f, nil
}
