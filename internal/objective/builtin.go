package objective

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/copyleftdev/hyperopt/internal/optimization"
)

// Builtin benchmark functions. Parameters are read in sorted name order.
var builtins = map[string]struct {
	dims int // 0 means any number of dimensions
	fn   func(x []float64) float64
}{
	"sphere": {0, func(x []float64) float64 {
		s := 0.0
		for _, v := range x {
			s += v * v
		}
		return s
	}},
	"sin_tanh": {1, func(x []float64) float64 {
		return math.Sin(5*x[0]) * (1 - math.Tanh(x[0]*x[0]))
	}},
	"rosenbrock": {0, func(x []float64) float64 {
		s := 0.0
		for i := 0; i+1 < len(x); i++ {
			s += 100*math.Pow(x[i+1]-x[i]*x[i], 2) + math.Pow(1-x[i], 2)
		}
		return s
	}},
	"branin": {2, func(x []float64) float64 {
		a, b, c := 1.0, 5.1/(4*math.Pi*math.Pi), 5/math.Pi
		r, s, t := 6.0, 10.0, 1/(8*math.Pi)
		return a*math.Pow(x[1]-b*x[0]*x[0]+c*x[0]-r, 2) + s*(1-t)*math.Cos(x[0]) + s
	}},
}

// BuiltinNames lists the builtin objectives.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Builtin returns a named benchmark objective over every numeric
// parameter, taken in sorted name order.
func Builtin(name string) (Func, error) {
	b, ok := builtins[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown builtin objective %q (have %s)", name, strings.Join(BuiltinNames(), ", "))
	}
	return func(_ context.Context, params optimization.Params) (any, error) {
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		x := make([]float64, len(keys))
		for i, k := range keys {
			v, ok := optimization.ToFloat(params[k])
			if !ok {
				return nil, fmt.Errorf("%s: parameter %q is not numeric", name, k)
			}
			x[i] = v
		}
		if len(x) == 0 || (b.dims > 0 && len(x) != b.dims) {
			return nil, fmt.Errorf("%s: got %d parameters, want %d", name, len(x), b.dims)
		}
		return b.fn(x), nil
	}, nil
}
