package objective

import (
	"math"

	"gonum.org/v1/gonum/mat"

	apperrors "github.com/copyleftdev/hyperopt/internal/errors"
	"github.com/copyleftdev/hyperopt/internal/optimization"
)

// StatusOK is the only status accepted in a mapping result.
const StatusOK = "ok"

// Result is the structured result form: a loss and a status.
type Result struct {
	Loss   float64
	Status string
}

// Coerce reduces an objective result to a finite scalar. It accepts Go
// numbers, a Result, a mapping with a "loss" field and an optional
// "status" of "ok", and single-element slices, vectors and 1x1 matrices.
func Coerce(v any) (float64, error) {
	f, err := coerce(v, 0)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, apperrors.ResultShape("objective returned non-finite value %v", f)
	}
	return f, nil
}

// maxDepth bounds unwrapping of nested single-element containers.
const maxDepth = 4

func coerce(v any, depth int) (float64, error) {
	if depth > maxDepth {
		return 0, apperrors.ResultShape("objective result is nested too deeply")
	}
	if f, ok := optimization.ToFloat(v); ok {
		return f, nil
	}

	switch x := v.(type) {
	case Result:
		return fromStatus(x.Loss, x.Status)
	case *Result:
		if x == nil {
			break
		}
		return fromStatus(x.Loss, x.Status)
	case map[string]any:
		loss, ok := x["loss"]
		if !ok {
			return 0, apperrors.ResultShape("mapping result has no \"loss\" field")
		}
		f, err := coerce(loss, depth+1)
		if err != nil {
			return 0, err
		}
		status := StatusOK
		if s, ok := x["status"]; ok {
			if status, ok = s.(string); !ok {
				return 0, apperrors.ResultShape("status must be a string, got %T", s)
			}
		}
		return fromStatus(f, status)
	case map[string]float64:
		loss, ok := x["loss"]
		if !ok {
			return 0, apperrors.ResultShape("mapping result has no \"loss\" field")
		}
		return loss, nil
	case []float64:
		if len(x) != 1 {
			return 0, apperrors.ResultShape("objective returned %d values, want a scalar", len(x))
		}
		return x[0], nil
	case []any:
		if len(x) != 1 {
			return 0, apperrors.ResultShape("objective returned %d values, want a scalar", len(x))
		}
		return coerce(x[0], depth+1)
	case mat.Vector:
		if x.Len() != 1 {
			return 0, apperrors.ResultShape("objective returned a vector of length %d, want a scalar", x.Len())
		}
		return x.AtVec(0), nil
	case mat.Matrix:
		r, c := x.Dims()
		if r != 1 || c != 1 {
			return 0, apperrors.ResultShape("objective returned a %dx%d matrix, want a scalar", r, c)
		}
		return x.At(0, 0), nil
	}
	return 0, apperrors.ResultShape("objective returned %T, want a number", v)
}

func fromStatus(loss float64, status string) (float64, error) {
	if status != "" && status != StatusOK {
		return 0, apperrors.ResultShape("objective reported status %q", status)
	}
	return loss, nil
}
