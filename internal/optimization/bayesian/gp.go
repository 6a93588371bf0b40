package bayesian

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	apperrors "github.com/copyleftdev/hyperopt/internal/errors"
	"github.com/copyleftdev/hyperopt/internal/optimization/kernels"
)

const (
	gpComponent = "gaussian_process"

	// jitter bounds for the Cholesky retry loop, relative to the largest
	// diagonal entry of the kernel matrix.
	minJitter      = 1e-12
	maxJitterTries = 10
)

// GP implements a Gaussian Process model for Bayesian Optimization
type GP struct {
	// Kernel function
	kernel kernels.Kernel

	// Noise variance
	noiseVar float64

	// Training data
	X *mat.Dense    // Input points (n_samples, n_features)
	y *mat.VecDense // Target values (n_samples)

	// Precomputed values
	alpha *mat.VecDense
	chol  *mat.Cholesky
	// kInv replaces chol when the kernel matrix could only be inverted
	// through its pseudo-inverse.
	kInv *mat.Dense
	k    *mat.SymDense

	// Matrix pool for reusing matrix allocations
	matrixPool *MatrixPool

	logger *zap.Logger
}

// GPOption configures a GP.
type GPOption func(*GP)

// WithLogger sets the logger used for fit diagnostics.
func WithLogger(logger *zap.Logger) GPOption {
	return func(gp *GP) {
		if logger != nil {
			gp.logger = logger.Named(gpComponent)
		}
	}
}

// WithMatrixPool shares a matrix pool between models.
func WithMatrixPool(pool *MatrixPool) GPOption {
	return func(gp *GP) {
		if pool != nil {
			gp.matrixPool = pool
		}
	}
}

// NewGP creates a new Gaussian Process model
func NewGP(kernel kernels.Kernel, noiseVar float64, opts ...GPOption) *GP {
	gp := &GP{
		kernel:     kernel,
		noiseVar:   math.Max(noiseVar, 0),
		matrixPool: NewMatrixPool(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(gp)
	}
	return gp
}

func gpError(op string, err error) error {
	return apperrors.Wrap(err, gpComponent+": "+op)
}

// Fit fits the GP model to the training data
func (gp *GP) Fit(X *mat.Dense, y *mat.VecDense) error {
	const op = "GP.Fit"

	if X == nil || y == nil {
		return gpError(op, errors.New("input matrices must not be nil"))
	}

	nSamples, nFeatures := X.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return gpError(op, errors.New("input matrix X must not be empty"))
	}
	if nSamples != y.Len() {
		return gpError(op, fmt.Errorf("dimension mismatch: X has %d samples but y has length %d",
			nSamples, y.Len()))
	}

	gp.logger.Debug("Fitting GP model",
		zap.Int("samples", nSamples),
		zap.Int("features", nFeatures),
		zap.Float64("noise_var", gp.noiseVar),
	)

	gp.X = mat.DenseCopyOf(X)
	gp.y = mat.VecDenseCopyOf(y)
	gp.chol, gp.kInv = nil, nil

	gp.matrixPool.PutSymDense(gp.k)
	gp.k = gp.computeKernelMatrix(gp.X)

	alpha, err := gp.solveLinearSystem(gp.k, gp.y)
	if err != nil {
		return gpError(op, fmt.Errorf("failed to solve linear system: %w", err))
	}
	gp.alpha = alpha
	return nil
}

// computeKernelMatrix returns K(X, X) + noise*I.
func (gp *GP) computeKernelMatrix(X *mat.Dense) *mat.SymDense {
	n, _ := X.Dims()
	K := gp.matrixPool.GetSymDense(n)
	for i := 0; i < n; i++ {
		x1 := X.RawRowView(i)
		K.SetSym(i, i, gp.kernel.Eval(x1, x1)+gp.noiseVar)
		for j := i + 1; j < n; j++ {
			K.SetSym(i, j, gp.kernel.Eval(x1, X.RawRowView(j)))
		}
	}
	return K
}

// solveLinearSystem solves K alpha = y by Cholesky, adding growing jitter to
// the diagonal until the factorization succeeds, and falls back to the SVD
// pseudo-inverse.
func (gp *GP) solveLinearSystem(K *mat.SymDense, y *mat.VecDense) (*mat.VecDense, error) {
	n := y.Len()
	if n == 0 {
		return nil, errors.New("empty input vector")
	}

	maxDiag := 0.0
	for i := 0; i < n; i++ {
		maxDiag = math.Max(maxDiag, K.At(i, i))
	}
	if maxDiag <= 0 {
		maxDiag = 1
	}

	jitter := 0.0
	for attempt := 0; attempt < maxJitterTries; attempt++ {
		Kj := mat.NewSymDense(n, nil)
		Kj.CopySym(K)
		if jitter > 0 {
			for i := 0; i < n; i++ {
				Kj.SetSym(i, i, Kj.At(i, i)+jitter)
			}
		}

		var chol mat.Cholesky
		if chol.Factorize(Kj) {
			alpha := mat.NewVecDense(n, nil)
			if err := chol.SolveVecTo(alpha, y); err == nil {
				gp.chol = &chol
				if jitter > 0 {
					gp.logger.Debug("Cholesky succeeded with jitter",
						zap.Int("attempt", attempt+1),
						zap.Float64("jitter", jitter))
				}
				return alpha, nil
			}
		}

		if jitter == 0 {
			jitter = minJitter * maxDiag
		} else {
			jitter *= 10
		}
	}

	gp.logger.Debug("Falling back to SVD after Cholesky attempts failed",
		zap.Float64("last_jitter", jitter))
	return gp.solveWithSVD(K, y)
}

// solveWithSVD computes alpha = V S^+ U^T y and keeps the pseudo-inverse
// for predictive variances.
func (gp *GP) solveWithSVD(K *mat.SymDense, y *mat.VecDense) (*mat.VecDense, error) {
	n := y.Len()

	var svd mat.SVD
	if !svd.Factorize(K, mat.SVDFull) {
		return nil, errors.New("SVD factorization failed")
	}
	s := svd.Values(nil)
	if len(s) == 0 {
		return nil, errors.New("SVD returned no singular values")
	}

	var U, V mat.Dense
	svd.UTo(&U)
	svd.VTo(&V)

	threshold := math.Max(float64(n), 1.0) * s[0] * 1e-15
	sInv := mat.NewDiagDense(n, nil)
	rank := 0
	for i, v := range s {
		if v > threshold {
			sInv.SetDiag(i, 1/v)
			rank++
		}
	}
	if rank == 0 {
		return nil, errors.New("matrix is effectively rank zero after thresholding")
	}

	var tmp, kInv mat.Dense
	tmp.Mul(&V, sInv)
	kInv.Mul(&tmp, U.T())

	alpha := mat.NewVecDense(n, nil)
	alpha.MulVec(&kInv, y)
	gp.kInv = &kInv

	gp.logger.Debug("Solved system with SVD",
		zap.Float64("condition_number", s[0]/math.Max(s[len(s)-1], 1e-300)),
		zap.Int("effective_rank", rank),
	)
	return alpha, nil
}

// Predict returns the posterior mean and the latent (noise-free) variance at
// each row of X.
func (gp *GP) Predict(X *mat.Dense) (*mat.VecDense, *mat.VecDense, error) {
	const op = "GP.Predict"

	if X == nil {
		return nil, nil, gpError(op, errors.New("input matrix X is nil"))
	}
	if gp == nil || gp.X == nil || gp.alpha == nil {
		return nil, nil, gpError(op, errors.New("model not trained or no training data"))
	}

	nTest, nf := X.Dims()
	nTrain, nFeatures := gp.X.Dims()
	if nf != nFeatures {
		return nil, nil, gpError(op, fmt.Errorf("dimension mismatch: model has %d features, input has %d",
			nFeatures, nf))
	}

	Kstar := gp.matrixPool.GetDense(nTest, nTrain)
	defer gp.matrixPool.PutDense(Kstar)
	kss := make([]float64, nTest)
	for i := 0; i < nTest; i++ {
		xStar := X.RawRowView(i)
		kss[i] = gp.kernel.Eval(xStar, xStar)
		for j := 0; j < nTrain; j++ {
			Kstar.Set(i, j, gp.kernel.Eval(xStar, gp.X.RawRowView(j)))
		}
	}

	mean := mat.NewVecDense(nTest, nil)
	mean.MulVec(Kstar, gp.alpha)

	// v = K^-1 K*^T, variance = k** - sum(K*^T ∘ v).
	v := mat.NewDense(nTrain, nTest, nil)
	switch {
	case gp.chol != nil:
		var cond mat.Condition
		if err := gp.chol.SolveTo(v, Kstar.T()); err != nil && !errors.As(err, &cond) {
			return nil, nil, gpError(op, fmt.Errorf("failed to solve linear system: %w", err))
		}
	case gp.kInv != nil:
		v.Mul(gp.kInv, Kstar.T())
	default:
		return nil, nil, gpError(op, errors.New("model has no factorization"))
	}

	variance := mat.NewVecDense(nTest, nil)
	for i := 0; i < nTest; i++ {
		var reduction float64
		for j := 0; j < nTrain; j++ {
			reduction += Kstar.At(i, j) * v.At(j, i)
		}
		variance.SetVec(i, math.Max(0, kss[i]-reduction))
	}
	return mean, variance, nil
}

// LogMarginalLikelihood returns log p(y | X) of the fitted model, or -Inf
// when the model has no Cholesky factorization.
func (gp *GP) LogMarginalLikelihood() float64 {
	if gp.chol == nil || gp.alpha == nil {
		return math.Inf(-1)
	}
	n := float64(gp.y.Len())
	return -0.5*mat.Dot(gp.y, gp.alpha) - 0.5*gp.chol.LogDet() - 0.5*n*math.Log(2*math.Pi)
}

// Sample draws nSamples independent draws from the marginal posterior at
// each row of X. Column j of the result is the j-th draw.
func (gp *GP) Sample(X *mat.Dense, nSamples int, rng *rand.Rand) (*mat.Dense, error) {
	const op = "GP.Sample"

	if X == nil {
		return nil, gpError(op, errors.New("input matrix X is nil"))
	}
	if nSamples <= 0 {
		return nil, gpError(op, errors.New("number of samples must be positive"))
	}
	if rng == nil {
		return nil, gpError(op, errors.New("random source is nil"))
	}

	mean, variance, err := gp.Predict(X)
	if err != nil {
		return nil, gpError(op, err)
	}

	nTest, _ := X.Dims()
	samples := mat.NewDense(nTest, nSamples, nil)
	for i := 0; i < nTest; i++ {
		sd := math.Sqrt(variance.AtVec(i))
		for j := 0; j < nSamples; j++ {
			samples.Set(i, j, mean.AtVec(i)+sd*rng.NormFloat64())
		}
	}
	return samples, nil
}
