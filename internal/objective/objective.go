// Package objective adapts user objectives to the calling conventions of
// the search backends and records every evaluation as a trial.
//
// An Objective is one of three forms, resolved once when the adapter is
// built:
//
//   - Func: a function of a named parameter assignment
//   - Pipeline: a model definition that is built, fitted and scored on
//     held-out data for every assignment
//   - Estimator: an estimator searched through its own cross-validated
//     grid or randomized search
package objective

import (
	"context"
	"fmt"

	"github.com/copyleftdev/hyperopt/internal/dataset"
	"github.com/copyleftdev/hyperopt/internal/models"
	"github.com/copyleftdev/hyperopt/internal/optimization"
)

// Kind identifies the form of an Objective.
type Kind int

const (
	KindFunc Kind = iota
	KindPipeline
	KindEstimator
)

func (k Kind) String() string {
	switch k {
	case KindFunc:
		return "function"
	case KindPipeline:
		return "pipeline"
	case KindEstimator:
		return "estimator"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Objective is implemented by Func, *Pipeline and *Estimator only.
type Objective interface {
	Kind() Kind
	// DefaultDirection is used when a session does not set one.
	DefaultDirection() optimization.Direction
}

// Func evaluates a named assignment. The result may be any value Coerce
// accepts.
type Func func(ctx context.Context, params optimization.Params) (any, error)

func (Func) Kind() Kind { return KindFunc }

// DefaultDirection is Minimize: functions return a loss.
func (Func) DefaultDirection() optimization.Direction { return optimization.Minimize }

// Positional adapts a function of an ordered argument vector. Arguments
// are passed in the order of names.
func Positional(names []string, fn func(ctx context.Context, args []any) (any, error)) Func {
	names = append([]string(nil), names...)
	return func(ctx context.Context, params optimization.Params) (any, error) {
		args := make([]any, len(names))
		for i, n := range names {
			v, ok := params[n]
			if !ok {
				return nil, fmt.Errorf("missing argument %q", n)
			}
			args[i] = v
		}
		return fn(ctx, args)
	}
}

// Pipeline scores a model definition. Every assignment is merged into
// the model parameters, the model is fitted on the training split and
// Metric is computed on the held-out split.
type Pipeline struct {
	Model models.Spec
	// Registry builds the model; nil means models.DefaultRegistry.
	Registry *models.Registry
	Data     *dataset.Dataset
	// TestFraction of the rows is held out; zero means 0.2.
	TestFraction float64
	// Metric is one of mse, rmse, mae, r2; empty means mse.
	Metric string
	// Seed fixes the train/test split.
	Seed int64
}

func (*Pipeline) Kind() Kind { return KindPipeline }

// DefaultDirection follows the metric: minimize errors, maximize r2.
func (p *Pipeline) DefaultDirection() optimization.Direction {
	if m, err := models.LookupMetric(p.metricName()); err == nil && m.HigherIsBetter {
		return optimization.Maximize
	}
	return optimization.Minimize
}

func (p *Pipeline) registry() *models.Registry {
	if p.Registry == nil {
		return models.DefaultRegistry
	}
	return p.Registry
}

func (p *Pipeline) metricName() string {
	if p.Metric == "" {
		return "mse"
	}
	return p.Metric
}

// Estimator is searched with models.GridSearchCV or
// models.RandomizedSearchCV by grid and random strategies. Sequential
// strategies evaluate its mean cross-validated score per assignment.
type Estimator struct {
	Estimator models.Estimator
	Data      *dataset.Dataset
	// Folds is the number of cross-validation folds; zero means 3.
	Folds int
	// Seed fixes the fold assignment.
	Seed int64
}

func (*Estimator) Kind() Kind { return KindEstimator }

// DefaultDirection is Maximize: estimator scores are higher-is-better.
func (*Estimator) DefaultDirection() optimization.Direction { return optimization.Maximize }
