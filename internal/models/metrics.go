package models

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Metric scores predictions against targets.
type Metric struct {
	Name string
	Fn   func(yTrue, yPred []float64) (float64, error)
	// HigherIsBetter is true for goodness-of-fit scores such as R².
	HigherIsBetter bool
}

var metrics = map[string]Metric{
	"mse":  {Name: "mse", Fn: MSE},
	"rmse": {Name: "rmse", Fn: RMSE},
	"mae":  {Name: "mae", Fn: MAE},
	"r2":   {Name: "r2", Fn: R2, HigherIsBetter: true},
}

// LookupMetric returns the metric registered under name.
func LookupMetric(name string) (Metric, error) {
	m, ok := metrics[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Metric{}, fmt.Errorf("unknown metric %q", name)
	}
	return m, nil
}

func residuals(yTrue, yPred []float64) ([]float64, error) {
	if len(yTrue) != len(yPred) {
		return nil, fmt.Errorf("metric: %d targets but %d predictions", len(yTrue), len(yPred))
	}
	if len(yTrue) == 0 {
		return nil, fmt.Errorf("metric: no samples")
	}
	r := make([]float64, len(yTrue))
	floats.SubTo(r, yTrue, yPred)
	return r, nil
}

// MSE is the mean squared error.
func MSE(yTrue, yPred []float64) (float64, error) {
	r, err := residuals(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return floats.Dot(r, r) / float64(len(r)), nil
}

// RMSE is the root mean squared error.
func RMSE(yTrue, yPred []float64) (float64, error) {
	mse, err := MSE(yTrue, yPred)
	return math.Sqrt(mse), err
}

// MAE is the mean absolute error.
func MAE(yTrue, yPred []float64) (float64, error) {
	r, err := residuals(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return floats.Norm(r, 1) / float64(len(r)), nil
}

// R2 is the coefficient of determination. A constant target scores 1 when
// predicted exactly and 0 otherwise.
func R2(yTrue, yPred []float64) (float64, error) {
	r, err := residuals(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	ssRes := floats.Dot(r, r)
	mean := stat.Mean(yTrue, nil)
	ssTot := 0.0
	for _, v := range yTrue {
		ssTot += (v - mean) * (v - mean)
	}
	if ssTot == 0 {
		if ssRes == 0 {
			return 1, nil
		}
		return 0, nil
	}
	return 1 - ssRes/ssTot, nil
}
