package objective

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/hyperopt/internal/dataset"
	apperrors "github.com/copyleftdev/hyperopt/internal/errors"
	"github.com/copyleftdev/hyperopt/internal/models"
	"github.com/copyleftdev/hyperopt/internal/optimization"
	"github.com/copyleftdev/hyperopt/internal/trials"
)

// Adapter evaluates an Objective for a backend. Every call is recorded in
// the tracker with the named assignment and the raw objective value, in
// call order, and returns the loss the backend minimizes.
type Adapter struct {
	obj       Objective
	eval      func(ctx context.Context, params optimization.Params) (any, error)
	direction optimization.Direction
	tracker   *trials.Tracker
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger for per-trial diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger.Named("objective")
		}
	}
}

// WithClock replaces time.Now for trial timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// NewAdapter validates obj and resolves how it is evaluated.
func NewAdapter(obj Objective, direction optimization.Direction, tracker *trials.Tracker, opts ...Option) (*Adapter, error) {
	if tracker == nil {
		return nil, apperrors.Configuration("trial tracker is required")
	}
	if direction == "" {
		direction = tracker.Direction()
	}
	a := &Adapter{
		obj:       obj,
		direction: direction,
		tracker:   tracker,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}

	var err error
	switch o := obj.(type) {
	case Func:
		if o == nil {
			return nil, apperrors.Configuration("objective function is nil")
		}
		a.eval = o
	case *Pipeline:
		a.eval, err = preparePipeline(o)
	case *Estimator:
		a.eval, err = prepareEstimator(o)
	case nil:
		return nil, apperrors.Configuration("objective is required")
	default:
		return nil, apperrors.Configuration("unsupported objective type %T", obj)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// CheckParams builds the model of a pipeline or estimator objective with
// sample, so a parameter the model does not accept is a configuration
// error before any trial runs. Functions accept any assignment.
func (a *Adapter) CheckParams(sample optimization.Params) error {
	switch o := a.obj.(type) {
	case *Pipeline:
		if _, err := o.registry().Build(o.Model.With(sample)); err != nil {
			return err
		}
	case *Estimator:
		if err := o.Estimator.Clone().SetParams(sample); err != nil {
			return apperrors.ConfigurationParam("model", "%s: %v", o.Estimator.Name(), err)
		}
	}
	return nil
}

// Objective returns the adapted objective.
func (a *Adapter) Objective() Objective { return a.obj }

// Direction returns the direction losses are signed by.
func (a *Adapter) Direction() optimization.Direction { return a.direction }

// Tracker returns the tracker trials are recorded in.
func (a *Adapter) Tracker() *trials.Tracker { return a.tracker }

// Call evaluates params, records the trial and returns its loss. It has
// the optimization.NamedObjective signature.
func (a *Adapter) Call(ctx context.Context, params optimization.Params) (float64, error) {
	started := a.now()
	raw, err := a.eval(ctx, params)
	if err != nil {
		return 0, err
	}
	value, err := Coerce(raw)
	if err != nil {
		return 0, err
	}
	return a.record(params, value, started, a.now().Sub(started))
}

// Record stores a value computed outside Call, such as a candidate score
// from an estimator's own search, and returns its loss.
func (a *Adapter) Record(params optimization.Params, value float64) (float64, error) {
	return a.record(params, value, a.now(), 0)
}

func (a *Adapter) record(params optimization.Params, value float64, started time.Time, d time.Duration) (float64, error) {
	loss := a.direction.Sign() * value
	trial, err := a.tracker.Record(params, value, loss, started, d)
	if err != nil {
		return 0, apperrors.Wrapf(err, "persisting trial %d", trial.Index)
	}
	a.logger.Debug("Trial recorded",
		zap.Int("index", trial.Index),
		zap.Any("params", params),
		zap.Float64("value", value),
		zap.Duration("duration", d),
	)
	return loss, nil
}

// PositionalDecoder maps a backend point to a named assignment.
type PositionalDecoder func(x []float64) (optimization.Params, error)

// Positional returns the positional calling convention: decode rebuilds
// the named assignment from the ordered vector before Call.
func (a *Adapter) Positional(ctx context.Context, decode PositionalDecoder) optimization.ObjectiveFunction {
	return func(x []float64) (float64, error) {
		params, err := decode(x)
		if err != nil {
			return 0, err
		}
		return a.Call(ctx, params)
	}
}

func preparePipeline(p *Pipeline) (func(context.Context, optimization.Params) (any, error), error) {
	if p.Data == nil || p.Data.Len() == 0 {
		return nil, apperrors.ConfigurationParam("dataset", "pipeline objective needs a dataset")
	}
	registry := p.registry()
	metric, err := models.LookupMetric(p.metricName())
	if err != nil {
		return nil, apperrors.ConfigurationParam("metric", "%v", err)
	}
	if _, err := registry.Build(p.Model); err != nil {
		return nil, err
	}
	fraction := p.TestFraction
	if fraction == 0 {
		fraction = 0.2
	}
	train, test, err := dataset.Split(p.Data, fraction, p.Seed)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, params optimization.Params) (any, error) {
		est, err := registry.Build(p.Model.With(params))
		if err != nil {
			return nil, err
		}
		if err := est.Fit(train.X, train.Y); err != nil {
			return nil, fmt.Errorf("fitting %s: %w", p.Model.Estimator, err)
		}
		pred, err := est.Predict(test.X)
		if err != nil {
			return nil, fmt.Errorf("predicting with %s: %w", p.Model.Estimator, err)
		}
		return metric.Fn(test.Y, pred)
	}, nil
}

func prepareEstimator(e *Estimator) (func(context.Context, optimization.Params) (any, error), error) {
	if e.Estimator == nil {
		return nil, apperrors.Configuration("estimator objective needs an estimator")
	}
	if e.Data == nil || e.Data.Len() == 0 {
		return nil, apperrors.ConfigurationParam("dataset", "estimator objective needs a dataset")
	}
	folds := e.Folds
	if folds == 0 {
		folds = models.DefaultFolds
	}
	if _, err := dataset.KFold(e.Data.Len(), folds, e.Seed); err != nil {
		return nil, err
	}

	return func(ctx context.Context, params optimization.Params) (any, error) {
		est := e.Estimator.Clone()
		if err := est.SetParams(params); err != nil {
			return nil, apperrors.ConfigurationParam("model", "%s: %v", est.Name(), err)
		}
		scores, err := models.CrossValScore(ctx, est, e.Data, folds, e.Seed)
		if err != nil {
			return nil, err
		}
		return stat.Mean(scores, nil), nil
	}, nil
}
