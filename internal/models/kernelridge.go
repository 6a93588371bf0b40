package models

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/hyperopt/internal/optimization"
	"github.com/copyleftdev/hyperopt/internal/optimization/kernels"
)

// KernelRidgeName is the registry name of KernelRidge.
const KernelRidgeName = "kernelridge"

// KernelRidge is kernel ridge regression. The regularization can be set as
// alpha or, SVM style, as C = 1/(2·alpha).
type KernelRidge struct {
	kernel      string
	alpha       float64
	lengthScale float64

	xTrain *mat.Dense
	dual   *mat.VecDense
	yMean  float64
	k      kernels.Kernel
}

// NewKernelRidge returns an RBF kernel ridge model with alpha 1 and
// length scale 1.
func NewKernelRidge() *KernelRidge {
	return &KernelRidge{kernel: kernels.RBF, alpha: 1, lengthScale: 1}
}

func (m *KernelRidge) Name() string { return KernelRidgeName }

func (m *KernelRidge) Params() optimization.Params {
	return optimization.Params{
		"kernel":       m.kernel,
		"alpha":        m.alpha,
		"C":            1 / (2 * m.alpha),
		"length_scale": m.lengthScale,
	}
}

func (m *KernelRidge) SetParams(p optimization.Params) error {
	for k, v := range p {
		switch k {
		case "kernel":
			name, ok := v.(string)
			if !ok {
				return fmt.Errorf("kernel must be a string, got %T", v)
			}
			name = strings.ToLower(name)
			if _, err := kernels.New(name, 1, 1); err != nil {
				return err
			}
			m.kernel = name
		case "alpha", "C":
			f, err := paramFloat(p, k)
			if err != nil {
				return err
			}
			if !(f > 0) || math.IsInf(f, 0) {
				return fmt.Errorf("%s must be positive and finite, got %v", k, f)
			}
			if k == "C" {
				f = 1 / (2 * f)
			}
			m.alpha = f
		case "length_scale":
			f, err := paramFloat(p, k)
			if err != nil {
				return err
			}
			if !(f > 0) || math.IsInf(f, 0) {
				return fmt.Errorf("length_scale must be positive and finite, got %v", f)
			}
			m.lengthScale = f
		default:
			return fmt.Errorf("kernelridge has no parameter %q", k)
		}
	}
	if _, hasA := p["alpha"]; hasA {
		if _, hasC := p["C"]; hasC {
			return fmt.Errorf("set either alpha or C, not both")
		}
	}
	return nil
}

func (m *KernelRidge) Clone() Estimator {
	return &KernelRidge{kernel: m.kernel, alpha: m.alpha, lengthScale: m.lengthScale}
}

// Fit solves (K + alpha·I) a = y - mean(y).
func (m *KernelRidge) Fit(X *mat.Dense, y []float64) error {
	if err := checkFitInput(X, y); err != nil {
		return fmt.Errorf("kernelridge: %w", err)
	}
	k, err := kernels.New(m.kernel, m.lengthScale, 1)
	if err != nil {
		return fmt.Errorf("kernelridge: %w", err)
	}

	n, _ := X.Dims()
	gram := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		xi := X.RawRowView(i)
		for j := i; j < n; j++ {
			v := k.Eval(xi, X.RawRowView(j))
			if i == j {
				v += m.alpha
			}
			gram.SetSym(i, j, v)
		}
	}

	yMean := stat.Mean(y, nil)
	yc := mat.NewVecDense(n, nil)
	for i, v := range y {
		yc.SetVec(i, v-yMean)
	}

	var chol mat.Cholesky
	if !chol.Factorize(gram) {
		return fmt.Errorf("kernelridge: kernel matrix is not positive definite; increase alpha")
	}
	dual := mat.NewVecDense(n, nil)
	if err := chol.SolveVecTo(dual, yc); err != nil {
		return fmt.Errorf("kernelridge: %w", err)
	}

	m.xTrain = mat.DenseCopyOf(X)
	m.dual = dual
	m.yMean = yMean
	m.k = k
	return nil
}

func (m *KernelRidge) Predict(X *mat.Dense) ([]float64, error) {
	if m.dual == nil {
		return nil, fmt.Errorf("kernelridge: model is not fitted")
	}
	rows, cols := X.Dims()
	nTrain, trainCols := m.xTrain.Dims()
	if cols != trainCols {
		return nil, fmt.Errorf("kernelridge: %d features, model has %d", cols, trainCols)
	}
	pred := make([]float64, rows)
	for i := 0; i < rows; i++ {
		xi := X.RawRowView(i)
		sum := m.yMean
		for j := 0; j < nTrain; j++ {
			sum += m.k.Eval(xi, m.xTrain.RawRowView(j)) * m.dual.AtVec(j)
		}
		pred[i] = sum
	}
	return pred, nil
}

func (m *KernelRidge) Score(X *mat.Dense, y []float64) (float64, error) {
	return score(m, X, y)
}
