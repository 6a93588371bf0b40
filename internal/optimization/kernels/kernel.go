// Package kernels provides covariance functions shared by the Gaussian
// process surrogate and the kernel ridge estimator.
package kernels

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Kernel represents a covariance function between two points.
type Kernel interface {
	// Name is the registry name of the kernel.
	Name() string

	// Eval computes the kernel value between two points x1 and x2
	Eval(x1, x2 []float64) float64

	// Hyperparameters returns the current hyperparameters
	Hyperparameters() []float64

	// SetHyperparameters sets the kernel's hyperparameters
	SetHyperparameters(params []float64) error
}

// Registry names.
const (
	RBF      = "rbf"
	Matern32 = "matern32"
	Matern52 = "matern52"
	Linear   = "linear"
)

// New builds a kernel by name. Stationary kernels take a length scale and a
// signal variance; the linear kernel uses signalVar as its constant offset.
func New(name string, lengthScale, signalVar float64) (Kernel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case RBF, "squared_exponential", "gaussian":
		if err := checkPositive(lengthScale, signalVar); err != nil {
			return nil, err
		}
		return &RBFKernel{lengthScale: lengthScale, signalVar: signalVar}, nil
	case Matern32:
		if err := checkPositive(lengthScale, signalVar); err != nil {
			return nil, err
		}
		return &Matern32Kernel{lengthScale: lengthScale, signalVar: signalVar}, nil
	case "", Matern52, "matern":
		if err := checkPositive(lengthScale, signalVar); err != nil {
			return nil, err
		}
		return &Matern52Kernel{lengthScale: lengthScale, signalVar: signalVar}, nil
	case Linear:
		if signalVar < 0 {
			return nil, fmt.Errorf("linear kernel offset must be non-negative, got %v", signalVar)
		}
		return &LinearKernel{offset: signalVar}, nil
	}
	return nil, fmt.Errorf("unknown kernel %q", name)
}

func checkPositive(lengthScale, signalVar float64) error {
	if !(lengthScale > 0) {
		return fmt.Errorf("lengthScale must be positive, got %v", lengthScale)
	}
	if !(signalVar > 0) {
		return fmt.Errorf("signalVar must be positive, got %v", signalVar)
	}
	return nil
}

func distance(x1, x2 []float64) float64 {
	return floats.Distance(x1, x2, 2)
}

func setStationary(params []float64, ls, sv *float64) error {
	if len(params) != 2 {
		return fmt.Errorf("expected 2 hyperparameters, got %d", len(params))
	}
	if params[0] <= 0 || params[1] <= 0 {
		return fmt.Errorf("hyperparameters must be positive, got %v", params)
	}
	*ls, *sv = params[0], params[1]
	return nil
}

// RBFKernel implements the Radial Basis Function (squared exponential) kernel
type RBFKernel struct {
	// Length scale parameter (larger = smoother function)
	lengthScale float64
	// Signal variance (controls the amplitude of the function)
	signalVar float64
}

// NewRBFKernel creates a new RBF kernel. It panics on non-positive
// parameters; use New for user-supplied values.
func NewRBFKernel(lengthScale, signalVar float64) *RBFKernel {
	if err := checkPositive(lengthScale, signalVar); err != nil {
		panic(err)
	}
	return &RBFKernel{lengthScale: lengthScale, signalVar: signalVar}
}

func (k *RBFKernel) Name() string { return RBF }

// Eval computes sv * exp(-|x1-x2|^2 / (2 ls^2)).
func (k *RBFKernel) Eval(x1, x2 []float64) float64 {
	d := distance(x1, x2)
	return k.signalVar * math.Exp(-d*d/(2.0*k.lengthScale*k.lengthScale))
}

func (k *RBFKernel) Hyperparameters() []float64 {
	return []float64{k.lengthScale, k.signalVar}
}

func (k *RBFKernel) SetHyperparameters(params []float64) error {
	return setStationary(params, &k.lengthScale, &k.signalVar)
}

// Matern32Kernel implements the Matérn 3/2 kernel
type Matern32Kernel struct {
	lengthScale float64
	signalVar   float64
}

func (k *Matern32Kernel) Name() string { return Matern32 }

func (k *Matern32Kernel) Eval(x1, x2 []float64) float64 {
	r := math.Sqrt(3) * distance(x1, x2) / k.lengthScale
	return k.signalVar * (1 + r) * math.Exp(-r)
}

func (k *Matern32Kernel) Hyperparameters() []float64 {
	return []float64{k.lengthScale, k.signalVar}
}

func (k *Matern32Kernel) SetHyperparameters(params []float64) error {
	return setStationary(params, &k.lengthScale, &k.signalVar)
}

// Matern52Kernel implements the Matérn 5/2 kernel
type Matern52Kernel struct {
	// Length scale parameter (larger = smoother function)
	lengthScale float64
	// Signal variance (controls the amplitude of the function)
	signalVar float64
}

// NewMatern52Kernel creates a new Matérn 5/2 kernel. It panics on
// non-positive parameters; use New for user-supplied values.
func NewMatern52Kernel(lengthScale, signalVar float64) *Matern52Kernel {
	if err := checkPositive(lengthScale, signalVar); err != nil {
		panic(err)
	}
	return &Matern52Kernel{lengthScale: lengthScale, signalVar: signalVar}
}

func (k *Matern52Kernel) Name() string { return Matern52 }

// Eval computes the Matérn 5/2 kernel value between x1 and x2
func (k *Matern52Kernel) Eval(x1, x2 []float64) float64 {
	r := distance(x1, x2) / k.lengthScale
	polyTerm := 1.0 + math.Sqrt(5)*r + (5.0/3.0)*r*r
	return k.signalVar * polyTerm * math.Exp(-math.Sqrt(5)*r)
}

func (k *Matern52Kernel) Hyperparameters() []float64 {
	return []float64{k.lengthScale, k.signalVar}
}

func (k *Matern52Kernel) SetHyperparameters(params []float64) error {
	return setStationary(params, &k.lengthScale, &k.signalVar)
}

// LinearKernel is the dot product plus a constant offset.
type LinearKernel struct {
	offset float64
}

func (k *LinearKernel) Name() string { return Linear }

func (k *LinearKernel) Eval(x1, x2 []float64) float64 {
	return floats.Dot(x1, x2) + k.offset
}

func (k *LinearKernel) Hyperparameters() []float64 {
	return []float64{k.offset}
}

func (k *LinearKernel) SetHyperparameters(params []float64) error {
	if len(params) != 1 {
		return fmt.Errorf("expected 1 hyperparameter, got %d", len(params))
	}
	if params[0] < 0 {
		return fmt.Errorf("offset must be non-negative, got %v", params[0])
	}
	k.offset = params[0]
	return nil
}
