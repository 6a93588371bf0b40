// Package bayesian implements sequential model-based optimization with a
// Gaussian-process surrogate over a bounded box.
package bayesian

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	apperrors "github.com/copyleftdev/hyperopt/internal/errors"
	"github.com/copyleftdev/hyperopt/internal/optimization"
	"github.com/copyleftdev/hyperopt/internal/optimization/acquisition"
	"github.com/copyleftdev/hyperopt/internal/optimization/kernels"
)

// Defaults applied to zero-valued configuration fields.
const (
	DefaultNInitialPoints = 10
	DefaultNoise          = 1e-6
	DefaultKernel         = kernels.Matern52
)

const (
	component = "bayes"

	// nCandidates random points are scored before local refinement.
	nCandidates = 256
	// maxLocalEvaluations bounds each Nelder-Mead run.
	maxLocalEvaluations = 200
	// duplicateTolerance is the unit-cube distance under which a suggestion
	// counts as already evaluated.
	duplicateTolerance = 1e-8
)

// lengthScales are the candidate unit-cube length scales; the one with the
// highest marginal likelihood is used at each step.
var lengthScales = []float64{0.05, 0.1, 0.2, 0.5, 1.0, 2.0}

// BayesianOptimizer implements Bayesian Optimization
type BayesianOptimizer struct {
	config optimization.OptimizerConfig

	// Gaussian Process model fitted at the last suggestion
	gp *GP

	acquisition acquisition.Function

	rng *rand.Rand

	pool   *MatrixPool
	logger *zap.Logger

	// Best solution found
	bestSolution *optimization.Solution

	// History of evaluations
	history []optimization.Evaluation
}

// Option configures a BayesianOptimizer.
type Option func(*BayesianOptimizer)

// WithOptimizerLogger sets the logger for iteration diagnostics.
func WithOptimizerLogger(logger *zap.Logger) Option {
	return func(bo *BayesianOptimizer) {
		if logger != nil {
			bo.logger = logger.Named(component)
		}
	}
}

// NewBayesianOptimizer validates config and creates an optimizer.
func NewBayesianOptimizer(config optimization.OptimizerConfig, opts ...Option) (*BayesianOptimizer, error) {
	bo := &BayesianOptimizer{
		pool:   NewMatrixPool(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(bo)
	}
	if err := bo.configure(config); err != nil {
		return nil, err
	}
	return bo, nil
}

func (bo *BayesianOptimizer) configure(config optimization.OptimizerConfig) error {
	config, err := withDefaults(config)
	if err != nil {
		return err
	}
	acq, err := acquisition.New(config.AcqFunc, math.Inf(1), config.Xi, config.Kappa)
	if err != nil {
		return apperrors.ConfigurationParam("acq_func", "%v", err)
	}

	seed := config.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	bo.config = config
	bo.acquisition = acq
	bo.rng = rand.New(rand.NewPCG(uint64(seed), uint64(seed)>>1|1))
	return nil
}

func withDefaults(config optimization.OptimizerConfig) (optimization.OptimizerConfig, error) {
	if len(config.Bounds) == 0 {
		return config, apperrors.Configuration("bayesian optimization needs at least one dimension")
	}
	for i, b := range config.Bounds {
		if math.IsNaN(b[0]) || math.IsNaN(b[1]) || math.IsInf(b[0], 0) || math.IsInf(b[1], 0) || b[0] >= b[1] {
			return config, apperrors.Configuration("dimension %d has invalid bounds [%v, %v]", i, b[0], b[1])
		}
	}
	if config.NCalls < 1 {
		return config, apperrors.ConfigurationParam("n_calls", "must be at least 1, got %d", config.NCalls)
	}
	if config.NInitialPoints < 0 {
		return config, apperrors.ConfigurationParam("n_random_starts", "must not be negative, got %d", config.NInitialPoints)
	}
	if config.NInitialPoints == 0 {
		config.NInitialPoints = DefaultNInitialPoints
	}
	for i, x := range config.InitialPoints {
		if len(x) != len(config.Bounds) {
			return config, apperrors.ConfigurationParam("x0", "point %d has %d coordinates, want %d", i, len(x), len(config.Bounds))
		}
		for j, v := range x {
			if v < config.Bounds[j][0] || v > config.Bounds[j][1] {
				return config, apperrors.ConfigurationParam("x0", "point %d coordinate %d (%v) is outside [%v, %v]",
					i, j, v, config.Bounds[j][0], config.Bounds[j][1])
			}
		}
	}
	if config.Noise < 0 {
		return config, apperrors.ConfigurationParam("noise", "must not be negative, got %v", config.Noise)
	}
	if config.Noise == 0 {
		config.Noise = DefaultNoise
	}
	if config.Xi == 0 {
		config.Xi = acquisition.DefaultXi
	}
	if config.Kappa == 0 {
		config.Kappa = acquisition.DefaultKappa
	}
	if config.Kernel == "" {
		config.Kernel = DefaultKernel
	}
	if _, err := kernels.New(config.Kernel, 1, 1); err != nil || config.Kernel == kernels.Linear {
		return config, apperrors.ConfigurationParam("kernel", "unsupported surrogate kernel %q", config.Kernel)
	}
	return config, nil
}

// Optimize evaluates the objective exactly NCalls times: the configured
// initial points first, then Latin hypercube points, then points proposed
// by the surrogate. A non-nil config.Objective replaces the configuration.
func (bo *BayesianOptimizer) Optimize(ctx context.Context, config optimization.OptimizerConfig) (*optimization.OptimizationResult, error) {
	if config.Objective != nil {
		if err := bo.configure(config); err != nil {
			return nil, err
		}
	}
	if bo.config.Objective == nil {
		return nil, apperrors.Configuration("objective function is required")
	}

	bo.bestSolution = nil
	bo.history = make([]optimization.Evaluation, 0, bo.config.NCalls)

	queue := make([][]float64, 0, bo.config.NCalls)
	for _, x := range bo.config.InitialPoints {
		if len(queue) == bo.config.NCalls {
			break
		}
		queue = append(queue, append([]float64(nil), x...))
	}
	if nRandom := min(bo.config.NInitialPoints, bo.config.NCalls-len(queue)); nRandom > 0 {
		queue = append(queue, bo.latinHypercubeSample(nRandom)...)
	}

	for i := 0; i < bo.config.NCalls; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var x []float64
		if i < len(queue) {
			x = queue[i]
		} else {
			x = bo.suggest()
		}

		value, err := bo.config.Objective(x)
		if err != nil {
			return nil, fmt.Errorf("evaluating objective at call %d: %w", i+1, err)
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return nil, apperrors.ResultShape("objective returned non-finite value %v at call %d", value, i+1)
		}

		bo.updateBestSolution(x, value)
		bo.history = append(bo.history, optimization.Evaluation{
			Iteration: i,
			Solution: &optimization.Solution{
				Parameters: append([]float64(nil), x...),
				Value:      value,
			},
		})
		bo.logger.Debug("Evaluated point",
			zap.Int("call", i+1),
			zap.Float64s("x", x),
			zap.Float64("value", value),
			zap.Float64("best", bo.bestSolution.Value),
		)
	}

	return &optimization.OptimizationResult{
		BestSolution: bo.bestSolution,
		History:      bo.history,
		Iterations:   len(bo.history),
		Converged:    len(bo.history) == bo.config.NCalls,
	}, nil
}

// updateBestSolution replaces the incumbent only on strict improvement.
func (bo *BayesianOptimizer) updateBestSolution(params []float64, value float64) {
	if bo.bestSolution == nil || value < bo.bestSolution.Value {
		bo.bestSolution = &optimization.Solution{
			Parameters: append([]float64(nil), params...),
			Value:      value,
		}
	}
}

// toUnit maps a point from the search box into [0,1]^d.
func (bo *BayesianOptimizer) toUnit(x []float64) []float64 {
	u := make([]float64, len(x))
	for j, v := range x {
		lo, hi := bo.config.Bounds[j][0], bo.config.Bounds[j][1]
		u[j] = (v - lo) / (hi - lo)
	}
	return u
}

// fromUnit maps a unit-cube point back into the search box.
func (bo *BayesianOptimizer) fromUnit(u []float64) []float64 {
	x := make([]float64, len(u))
	for j, v := range u {
		lo, hi := bo.config.Bounds[j][0], bo.config.Bounds[j][1]
		x[j] = math.Min(hi, math.Max(lo, lo+clamp01(v)*(hi-lo)))
	}
	return x
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

// prepareTrainingData returns the evaluated points in unit-cube coordinates
// and the standardized values.
func (bo *BayesianOptimizer) prepareTrainingData() (*mat.Dense, *mat.VecDense) {
	nSamples := len(bo.history)
	nDims := len(bo.config.Bounds)

	X := mat.NewDense(nSamples, nDims, nil)
	values := make([]float64, nSamples)
	for i, eval := range bo.history {
		X.SetRow(i, bo.toUnit(eval.Solution.Parameters))
		values[i] = eval.Solution.Value
	}

	mean, std := stat.MeanStdDev(values, nil)
	if !(std > 0) {
		std = 1
	}
	y := mat.NewVecDense(nSamples, nil)
	for i, v := range values {
		y.SetVec(i, (v-mean)/std)
	}
	return X, y
}

// fitSurrogate fits one GP per candidate length scale and keeps the one with
// the highest log marginal likelihood.
func (bo *BayesianOptimizer) fitSurrogate(X *mat.Dense, y *mat.VecDense) (*GP, error) {
	var (
		best    *GP
		bestLML = math.Inf(-1)
		lastErr error
	)
	for _, ls := range lengthScales {
		kernel, err := kernels.New(bo.config.Kernel, ls, 1.0)
		if err != nil {
			return nil, err
		}
		gp := NewGP(kernel, bo.config.Noise, WithMatrixPool(bo.pool), WithLogger(bo.logger))
		if err := gp.Fit(X, y); err != nil {
			lastErr = err
			continue
		}
		if lml := gp.LogMarginalLikelihood(); best == nil || lml > bestLML {
			best, bestLML = gp, lml
		}
	}
	if best == nil {
		return nil, lastErr
	}
	return best, nil
}

// suggest proposes the next point by maximizing the acquisition function
// over the unit cube. It falls back to a uniform random point when the
// surrogate cannot be fitted or only proposes already evaluated points.
func (bo *BayesianOptimizer) suggest() []float64 {
	X, y := bo.prepareTrainingData()

	gp, err := bo.fitSurrogate(X, y)
	if err != nil {
		bo.logger.Warn("Surrogate fit failed, sampling uniformly", zap.Error(err))
		return bo.fromUnit(bo.randomUnitPoint())
	}
	bo.gp = gp
	bo.acquisition.UpdateBest(floats.Min(y.RawVector().Data))

	next := bo.maximizeAcquisition()
	if bo.alreadyEvaluated(X, next) {
		bo.logger.Debug("Acquisition maximum already evaluated, sampling uniformly")
		next = bo.randomUnitPoint()
	}
	return bo.fromUnit(next)
}

func (bo *BayesianOptimizer) alreadyEvaluated(X *mat.Dense, u []float64) bool {
	n, _ := X.Dims()
	for i := 0; i < n; i++ {
		if floats.Distance(X.RawRowView(i), u, 2) < duplicateTolerance {
			return true
		}
	}
	return false
}

func (bo *BayesianOptimizer) randomUnitPoint() []float64 {
	u := make([]float64, len(bo.config.Bounds))
	for j := range u {
		u[j] = bo.rng.Float64()
	}
	return u
}

// acquisitionAt returns the negated acquisition value at a unit-cube point.
func (bo *BayesianOptimizer) acquisitionAt(u []float64) float64 {
	mu, variance, err := bo.gp.Predict(mat.NewDense(1, len(u), u))
	if err != nil {
		return math.Inf(1)
	}
	return -bo.acquisition.Compute(mu.AtVec(0), math.Sqrt(variance.AtVec(0)))
}

// maximizeAcquisition scores random candidates, then refines the most
// promising ones and the incumbent with bounded Nelder-Mead runs.
func (bo *BayesianOptimizer) maximizeAcquisition() []float64 {
	nDims := len(bo.config.Bounds)

	candidates := mat.NewDense(nCandidates, nDims, nil)
	for i := 0; i < nCandidates; i++ {
		candidates.SetRow(i, bo.randomUnitPoint())
	}
	mu, variance, err := bo.gp.Predict(candidates)
	if err != nil {
		return bo.randomUnitPoint()
	}

	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, nCandidates)
	for i := range ranked {
		ranked[i] = scored{i, -bo.acquisition.Compute(mu.AtVec(i), math.Sqrt(variance.AtVec(i)))}
	}
	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].score < ranked[b].score })

	nStarts := min(5+int(5*math.Sqrt(float64(nDims))), nCandidates)
	starts := make([][]float64, 0, nStarts+1)
	if bo.bestSolution != nil {
		starts = append(starts, bo.toUnit(bo.bestSolution.Parameters))
	}
	for _, c := range ranked[:nStarts] {
		starts = append(starts, mat.Row(nil, c.idx, candidates))
	}

	bestX := mat.Row(nil, ranked[0].idx, candidates)
	bestVal := ranked[0].score

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			u := make([]float64, len(x))
			for i, v := range x {
				u[i] = clamp01(v)
			}
			return bo.acquisitionAt(u)
		},
	}

	for _, start := range starts {
		settings := &optimize.Settings{
			FuncEvaluations: maxLocalEvaluations,
			Converger: &optimize.FunctionConverge{
				Absolute:   1e-8,
				Relative:   1e-8,
				Iterations: 20,
			},
		}
		method := &optimize.NelderMead{SimplexSize: 0.1}

		result, err := optimize.Minimize(problem, start, settings, method)
		if result == nil {
			bo.logger.Debug("Local acquisition search failed", zap.Error(err))
			continue
		}
		if result.F < bestVal {
			bestVal = result.F
			bestX = append(bestX[:0], result.X...)
		}
	}

	for i := range bestX {
		bestX[i] = clamp01(bestX[i])
	}
	return bestX
}

// latinHypercubeSample generates n points by Latin hypercube sampling,
// scaled to the search bounds.
func (bo *BayesianOptimizer) latinHypercubeSample(n int) [][]float64 {
	nDims := len(bo.config.Bounds)
	samples := make([][]float64, n)
	for j := range samples {
		samples[j] = make([]float64, nDims)
	}

	strata := make([]float64, n)
	for i := 0; i < nDims; i++ {
		for j := 0; j < n; j++ {
			strata[j] = (float64(j) + bo.rng.Float64()) / float64(n)
		}
		bo.rng.Shuffle(n, func(k, l int) {
			strata[k], strata[l] = strata[l], strata[k]
		})

		lo, hi := bo.config.Bounds[i][0], bo.config.Bounds[i][1]
		for j := 0; j < n; j++ {
			samples[j][i] = lo + strata[j]*(hi-lo)
		}
	}
	return samples
}
