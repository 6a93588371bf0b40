// Package hyperopt runs one hyperparameter search session: it validates a
// search space and objective for the selected strategy, hands control to
// the strategy's backend and normalizes the backend's result into a
// name-keyed Result backed by the full trial history.
package hyperopt

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	apperrors "github.com/copyleftdev/hyperopt/internal/errors"
	"github.com/copyleftdev/hyperopt/internal/models"
	"github.com/copyleftdev/hyperopt/internal/objective"
	"github.com/copyleftdev/hyperopt/internal/optimization"
	"github.com/copyleftdev/hyperopt/internal/optimization/bayesian"
	"github.com/copyleftdev/hyperopt/internal/optimization/grid"
	"github.com/copyleftdev/hyperopt/internal/optimization/random"
	"github.com/copyleftdev/hyperopt/internal/optimization/tpe"
	"github.com/copyleftdev/hyperopt/internal/space"
	"github.com/copyleftdev/hyperopt/internal/translate"
	"github.com/copyleftdev/hyperopt/internal/trials"
)

// State is the lifecycle state of a session.
type State string

const (
	StateConfigured State = "configured"
	StateRunning    State = "running"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Options are passed through to the backend that understands them.
type Options struct {
	// AcqFunc is EI, PI or LCB (bayes).
	AcqFunc string
	// Xi is the EI/PI exploration margin (bayes).
	Xi float64
	// Kappa is the LCB exploration weight (bayes).
	Kappa float64
	// Noise is the surrogate's observation noise variance (bayes).
	Noise float64
	// NRandomStarts is the number of points drawn before the model is used
	// (bayes, tpe).
	NRandomStarts int
	// X0 are initial points, one value per dimension in space order,
	// evaluated first and counted in the budget (bayes).
	X0 [][]any
	// Kernel is the surrogate kernel, matern52 or rbf (bayes).
	Kernel string
	// Seed makes random, bayes and tpe sessions reproducible and fixes the
	// folds of estimator searches. Zero seeds from the clock.
	Seed int64
}

// Config describes a session.
type Config struct {
	Space     *space.Space
	Objective objective.Objective
	Strategy  optimization.Strategy
	// Direction defaults to the objective's DefaultDirection.
	Direction optimization.Direction
	// Budget is the number of evaluations: n_iter for random, n_calls for
	// bayes, max_evals for tpe. Grid enumerates the whole product and
	// ignores it.
	Budget  int
	Options Options
	// Log receives every trial as it is recorded; nil keeps trials in
	// memory only.
	Log trials.Log
	// Observers are called with every recorded trial.
	Observers []trials.Observer
	// OnStateChange is called on every state transition. err is set when
	// the new state is StateFailed.
	OnStateChange func(state State, err error)
	Logger        *zap.Logger
}

// Result is the normalized outcome of a session.
type Result struct {
	// BestParams is the name-keyed assignment of the best trial.
	BestParams optimization.Params
	// BestValue is the raw objective value of the best trial.
	BestValue float64
	// Trials holds every evaluation in call order.
	Trials *trials.Tracker
	// Estimator is the best estimator refitted on the whole dataset, set
	// only for estimator objectives searched by grid or random.
	Estimator models.Estimator
}

// HyperOpt is a single search session. Fit may be called once.
type HyperOpt struct {
	cfg         Config
	direction   optimization.Direction
	translation *translate.Translation
	adapter     *objective.Adapter
	tracker     *trials.Tracker
	x0          [][]float64
	bayes       optimization.OptimizerConfig
	logger      *zap.Logger

	mu     sync.Mutex
	state  State
	err    error
	result *Result
}

// New validates cfg and returns a session in StateConfigured. Every
// configuration error is reported here, before any evaluation.
func New(cfg Config) (*HyperOpt, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("hyperopt")

	if cfg.Space == nil {
		return nil, apperrors.Configuration("search space is required")
	}
	if cfg.Objective == nil {
		return nil, apperrors.Configuration("objective is required")
	}
	translation, err := translate.For(cfg.Strategy, cfg.Space)
	if err != nil {
		return nil, err
	}

	direction := cfg.Direction
	if direction == "" {
		direction = cfg.Objective.DefaultDirection()
	}
	if direction != optimization.Minimize && direction != optimization.Maximize {
		return nil, apperrors.ConfigurationParam("direction", "unknown optimization direction %q", direction)
	}

	if err := checkBudget(cfg.Strategy, cfg.Budget); err != nil {
		return nil, err
	}
	if len(cfg.Options.X0) > 0 && cfg.Strategy != optimization.StrategyBayes {
		return nil, apperrors.ConfigurationParam("x0", "initial points are only used by the bayes strategy")
	}
	if cfg.Options.NRandomStarts < 0 {
		return nil, apperrors.ConfigurationParam("n_random_starts", "must not be negative, got %d", cfg.Options.NRandomStarts)
	}

	trackerOpts := []trials.TrackerOption{trials.WithLog(cfg.Log)}
	for _, obs := range cfg.Observers {
		trackerOpts = append(trackerOpts, trials.WithObserver(obs))
	}
	tracker := trials.NewTracker(direction, trackerOpts...)

	adapter, err := objective.NewAdapter(cfg.Objective, direction, tracker, objective.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	sample, err := representative(cfg.Space)
	if err != nil {
		return nil, err
	}
	if err := adapter.CheckParams(sample); err != nil {
		return nil, err
	}

	h := &HyperOpt{
		cfg:         cfg,
		direction:   direction,
		translation: translation,
		adapter:     adapter,
		tracker:     tracker,
		logger:      logger.With(zap.String("strategy", string(cfg.Strategy))),
		state:       StateConfigured,
	}
	if cfg.Strategy == optimization.StrategyBayes {
		if err := h.prepareBayes(); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// representative picks one in-range value per dimension: the first grid
// value of a discretized dimension, the midpoint of a continuous one (the
// geometric midpoint under a log-uniform prior).
func representative(s *space.Space) (optimization.Params, error) {
	sample := make(optimization.Params, s.Len())
	for _, name := range s.Names() {
		d, _ := s.Dimension(name)
		switch d := d.(type) {
		case *space.Real:
			if low, high, ok := d.Bounds(); ok && !d.Discretized() {
				sample[name] = midpoint(low, high, d.Prior())
				continue
			}
		case *space.Integer:
			if low, high, ok := d.Bounds(); ok && !d.Discretized() {
				sample[name] = int(math.Round(midpoint(float64(low), float64(high), d.Prior())))
				continue
			}
		}
		values, err := d.Values()
		if err != nil {
			return nil, err
		}
		if len(values) > 0 {
			sample[name] = values[0]
		}
	}
	return sample, nil
}

func midpoint(low, high float64, prior space.Prior) float64 {
	if prior == space.LogUniform {
		return math.Sqrt(low * high)
	}
	return low + (high-low)/2
}

func checkBudget(strategy optimization.Strategy, budget int) error {
	var name string
	switch strategy {
	case optimization.StrategyRandom:
		name = "n_iter"
	case optimization.StrategyBayes:
		name = "n_calls"
	case optimization.StrategyTPE:
		name = "max_evals"
	default:
		return nil
	}
	if budget < 1 {
		return apperrors.ConfigurationParam(name, "must be at least 1, got %d", budget)
	}
	return nil
}

// prepareBayes encodes the initial points and validates the backend
// options without running anything.
func (h *HyperOpt) prepareBayes() error {
	ps := h.translation.Positional
	for i, values := range h.cfg.Options.X0 {
		x, err := ps.EncodeValues(values)
		if err != nil {
			return apperrors.Wrapf(err, "x0 point %d", i)
		}
		h.x0 = append(h.x0, x)
	}
	if len(h.x0) > h.cfg.Budget {
		return apperrors.ConfigurationParam("x0", "%d initial points exceed n_calls %d", len(h.x0), h.cfg.Budget)
	}
	opts := h.cfg.Options
	h.bayes = optimization.OptimizerConfig{
		Bounds:         ps.Bounds(),
		NCalls:         h.cfg.Budget,
		NInitialPoints: opts.NRandomStarts,
		InitialPoints:  h.x0,
		RandomSeed:     opts.Seed,
		AcqFunc:        opts.AcqFunc,
		Xi:             opts.Xi,
		Kappa:          opts.Kappa,
		Noise:          opts.Noise,
		Kernel:         opts.Kernel,
	}
	_, err := bayesian.NewBayesianOptimizer(h.bayes)
	return err
}

// State returns the current lifecycle state.
func (h *HyperOpt) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Err returns the error that failed the session, if any.
func (h *HyperOpt) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Result returns the result of a completed session, or nil.
func (h *HyperOpt) Result() *Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

// Tracker returns the live trial history.
func (h *HyperOpt) Tracker() *trials.Tracker { return h.tracker }

// Strategy returns the configured strategy.
func (h *HyperOpt) Strategy() optimization.Strategy { return h.cfg.Strategy }

// Direction returns the resolved optimization direction.
func (h *HyperOpt) Direction() optimization.Direction { return h.direction }

func (h *HyperOpt) transition(state State, err error) {
	h.mu.Lock()
	h.state = state
	h.err = err
	h.mu.Unlock()
	if h.cfg.OnStateChange != nil {
		h.cfg.OnStateChange(state, err)
	}
}

// Fit runs the backend to completion. The backend drives every evaluation
// and stops on its own budget; ctx is checked between trials. A backend
// failure moves the session to StateFailed and is returned as a
// BackendExecution error wrapping the backend's error.
func (h *HyperOpt) Fit(ctx context.Context) (*Result, error) {
	h.mu.Lock()
	if h.state != StateConfigured {
		state := h.state
		h.mu.Unlock()
		return nil, apperrors.Configuration("session already %s", state)
	}
	h.state = StateRunning
	h.mu.Unlock()
	if h.cfg.OnStateChange != nil {
		h.cfg.OnStateChange(StateRunning, nil)
	}

	h.logger.Info("Search started",
		zap.Int("dimensions", h.cfg.Space.Len()),
		zap.Int("budget", h.cfg.Budget),
		zap.String("direction", string(h.direction)),
		zap.String("objective", h.cfg.Objective.Kind().String()),
	)

	res, err := h.run(ctx)
	if err == nil {
		err = h.verify(res)
	}
	if err != nil {
		err = apperrors.BackendExecution(string(h.cfg.Strategy), err)
		h.logger.Error("Search failed", zap.Int("trials", h.tracker.Len()), zap.Error(err))
		h.transition(StateFailed, err)
		return nil, err
	}

	h.mu.Lock()
	h.result = res
	h.mu.Unlock()
	h.logger.Info("Search completed",
		zap.Int("trials", h.tracker.Len()),
		zap.Any("best_params", res.BestParams),
		zap.Float64("best_value", res.BestValue),
	)
	h.transition(StateCompleted, nil)
	return res, nil
}

func (h *HyperOpt) run(ctx context.Context) (*Result, error) {
	if est, ok := h.cfg.Objective.(*objective.Estimator); ok && h.native() {
		return h.runEstimator(ctx, est)
	}
	switch h.cfg.Strategy {
	case optimization.StrategyGrid:
		res, err := grid.Search(ctx, h.translation.Axes, h.adapter.Call, grid.WithLogger(h.logger))
		if err != nil {
			return nil, err
		}
		return h.fromLoss(res.Best, res.BestValue), nil

	case optimization.StrategyRandom:
		res, err := random.Search(ctx, random.Config{
			Params: h.translation.Distributions,
			NIter:  h.cfg.Budget,
			Seed:   h.cfg.Options.Seed,
		}, h.adapter.Call, random.WithLogger(h.logger))
		if err != nil {
			return nil, err
		}
		return h.fromLoss(res.Best, res.BestValue), nil

	case optimization.StrategyBayes:
		return h.runBayes(ctx)

	case optimization.StrategyTPE:
		return h.runTPE(ctx)
	}
	return nil, fmt.Errorf("no backend for strategy %q", h.cfg.Strategy)
}

// native reports whether an estimator objective is searched by its own
// cross-validated search. Those searches maximize the estimator score.
func (h *HyperOpt) native() bool {
	switch h.cfg.Strategy {
	case optimization.StrategyGrid, optimization.StrategyRandom:
		return h.direction == optimization.Maximize
	}
	return false
}

func (h *HyperOpt) runEstimator(ctx context.Context, est *objective.Estimator) (*Result, error) {
	cv := models.CVConfig{
		Folds:  est.Folds,
		Seed:   est.Seed,
		Logger: h.logger,
		OnCandidate: func(params optimization.Params, score float64) error {
			_, err := h.adapter.Record(params, score)
			return err
		},
	}
	var (
		res *models.SearchResult
		err error
	)
	if h.cfg.Strategy == optimization.StrategyGrid {
		res, err = models.GridSearchCV(ctx, est.Estimator, h.translation.Axes, est.Data, cv)
	} else {
		if h.cfg.Options.Seed != 0 {
			cv.Seed = h.cfg.Options.Seed
		}
		res, err = models.RandomizedSearchCV(ctx, est.Estimator, h.translation.Distributions, h.cfg.Budget, est.Data, cv)
	}
	if err != nil {
		return nil, err
	}
	return &Result{
		BestParams: res.BestParams,
		BestValue:  res.BestScore,
		Trials:     h.tracker,
		Estimator:  res.BestEstimator,
	}, nil
}

func (h *HyperOpt) runBayes(ctx context.Context) (*Result, error) {
	ps := h.translation.Positional
	cfg := h.bayes
	cfg.Objective = h.adapter.Positional(ctx, ps.Decode)

	opt, err := bayesian.NewBayesianOptimizer(cfg, bayesian.WithOptimizerLogger(h.logger))
	if err != nil {
		return nil, err
	}
	res, err := opt.Optimize(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if res.BestSolution == nil {
		return nil, fmt.Errorf("bayes returned no solution after %d calls", res.Iterations)
	}
	best, err := ps.Decode(res.BestSolution.Parameters)
	if err != nil {
		return nil, err
	}
	return h.fromLoss(best, res.BestSolution.Value), nil
}

func (h *HyperOpt) runTPE(ctx context.Context) (*Result, error) {
	ts := h.translation.TPE
	obj := func(ctx context.Context, vals map[string]float64) (tpe.Report, error) {
		params, err := ts.Decode(vals)
		if err != nil {
			return tpe.Report{}, err
		}
		loss, err := h.adapter.Call(ctx, params)
		if err != nil {
			return tpe.Report{}, err
		}
		return tpe.Report{Loss: loss, Status: tpe.StatusOK}, nil
	}
	res, err := tpe.FMin(ctx, obj, tpe.Config{
		Space:         ts.Params,
		MaxEvals:      h.cfg.Budget,
		Seed:          h.cfg.Options.Seed,
		StartupTrials: h.cfg.Options.NRandomStarts,
		Logger:        h.logger,
	})
	if err != nil {
		return nil, err
	}
	best, err := ts.Decode(res.Best)
	if err != nil {
		return nil, err
	}
	return h.fromLoss(best, res.BestLoss), nil
}

// fromLoss converts a backend's best loss back to an objective value.
func (h *HyperOpt) fromLoss(best optimization.Params, loss float64) *Result {
	return &Result{
		BestParams: best,
		BestValue:  h.direction.Sign() * loss,
		Trials:     h.tracker,
	}
}

// verify checks the backend's best against the recorded history and
// reports the best trial exactly as it was recorded.
func (h *HyperOpt) verify(res *Result) error {
	best, ok := h.tracker.Best()
	if !ok {
		return fmt.Errorf("backend finished without recording a trial")
	}
	if math.Abs(best.Value-res.BestValue) > 1e-9*math.Max(1, math.Abs(best.Value)) {
		return fmt.Errorf("backend best %v does not match best recorded trial %d (%v)", res.BestValue, best.Index, best.Value)
	}
	res.BestValue = best.Value
	res.BestParams = best.Params.Clone()
	return nil
}
