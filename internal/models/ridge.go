package models

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/hyperopt/internal/optimization"
)

// RidgeName is the registry name of Ridge.
const RidgeName = "ridge"

// Ridge is L2-regularized linear regression with an unpenalized
// intercept.
type Ridge struct {
	alpha float64

	coef      *mat.VecDense
	intercept float64
}

// NewRidge returns a ridge model with alpha 1.
func NewRidge() *Ridge {
	return &Ridge{alpha: 1}
}

func (r *Ridge) Name() string { return RidgeName }

func (r *Ridge) Params() optimization.Params {
	return optimization.Params{"alpha": r.alpha}
}

func (r *Ridge) SetParams(p optimization.Params) error {
	for k := range p {
		switch k {
		case "alpha":
			a, err := paramFloat(p, k)
			if err != nil {
				return err
			}
			if a < 0 || math.IsNaN(a) || math.IsInf(a, 0) {
				return fmt.Errorf("alpha must be finite and non-negative, got %v", a)
			}
			r.alpha = a
		default:
			return fmt.Errorf("ridge has no parameter %q", k)
		}
	}
	return nil
}

func (r *Ridge) Clone() Estimator {
	return &Ridge{alpha: r.alpha}
}

// Fit solves (XcᵀXc + alpha·I) w = Xcᵀyc on centered data.
func (r *Ridge) Fit(X *mat.Dense, y []float64) error {
	if err := checkFitInput(X, y); err != nil {
		return fmt.Errorf("ridge: %w", err)
	}
	rows, cols := X.Dims()

	means := make([]float64, cols)
	xc := mat.NewDense(rows, cols, nil)
	for j := 0; j < cols; j++ {
		col := mat.Col(nil, j, X)
		means[j] = stat.Mean(col, nil)
		for i := range col {
			col[i] -= means[j]
		}
		xc.SetCol(j, col)
	}
	yMean := stat.Mean(y, nil)
	yc := make([]float64, rows)
	for i, v := range y {
		yc[i] = v - yMean
	}

	var gram mat.SymDense
	gram.SymOuterK(1, xc.T())
	for j := 0; j < cols; j++ {
		gram.SetSym(j, j, gram.At(j, j)+r.alpha)
	}

	var rhs mat.VecDense
	rhs.MulVec(xc.T(), mat.NewVecDense(rows, yc))

	var chol mat.Cholesky
	if !chol.Factorize(&gram) {
		return fmt.Errorf("ridge: normal equations are singular; increase alpha")
	}
	coef := mat.NewVecDense(cols, nil)
	if err := chol.SolveVecTo(coef, &rhs); err != nil {
		return fmt.Errorf("ridge: %w", err)
	}

	r.coef = coef
	r.intercept = yMean - mat.Dot(coef, mat.NewVecDense(cols, means))
	return nil
}

func (r *Ridge) Predict(X *mat.Dense) ([]float64, error) {
	if r.coef == nil {
		return nil, fmt.Errorf("ridge: model is not fitted")
	}
	rows, cols := X.Dims()
	if cols != r.coef.Len() {
		return nil, fmt.Errorf("ridge: %d features, model has %d", cols, r.coef.Len())
	}
	var out mat.VecDense
	out.MulVec(X, r.coef)
	pred := make([]float64, rows)
	for i := range pred {
		pred[i] = out.AtVec(i) + r.intercept
	}
	return pred, nil
}

func (r *Ridge) Score(X *mat.Dense, y []float64) (float64, error) {
	return score(r, X, y)
}

// Coef returns the fitted weights and intercept.
func (r *Ridge) Coef() ([]float64, float64) {
	if r.coef == nil {
		return nil, 0
	}
	return mat.Col(nil, 0, r.coef), r.intercept
}

func score(e Estimator, X *mat.Dense, y []float64) (float64, error) {
	pred, err := e.Predict(X)
	if err != nil {
		return 0, err
	}
	return R2(y, pred)
}
