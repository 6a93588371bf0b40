package translate

import (
	"math"

	apperrors "github.com/copyleftdev/hyperopt/internal/errors"
	"github.com/copyleftdev/hyperopt/internal/optimization"
	"github.com/copyleftdev/hyperopt/internal/space"
)

// integerHalfWidth widens integer bounds so that rounding gives the end
// points the same share of the box as interior values.
const integerHalfWidth = 0.4999

type coordKind int

const (
	coordReal coordKind = iota
	coordInteger
	// coordIndex selects values[floor(v)] over [0, len(values)].
	coordIndex
)

type coordinate struct {
	kind      coordKind
	log       bool
	low, high float64
	// natural bounds of integer coordinates
	minInt, maxInt int
	values         []any
}

// PositionalSpace maps a named space onto an ordered box of float
// coordinates. Log-uniform dimensions are searched in log space; grid-only
// and categorical dimensions become an index coordinate.
type PositionalSpace struct {
	names  []string
	coords []coordinate
}

// Positional translates s into a box in space order.
func Positional(s *space.Space) (*PositionalSpace, error) {
	if err := check(optimization.StrategyBayes, s); err != nil {
		return nil, err
	}
	ps := &PositionalSpace{names: s.Names()}
	for _, name := range ps.names {
		d, _ := s.Dimension(name)
		c, err := positionalCoordinate(d)
		if err != nil {
			return nil, apperrors.Wrapf(err, "coordinate for %q", name)
		}
		ps.coords = append(ps.coords, c)
	}
	return ps, nil
}

func positionalCoordinate(d space.Dimension) (coordinate, error) {
	log := d.Prior() == space.LogUniform
	switch d := d.(type) {
	case *space.Real:
		if low, high, ok := d.Bounds(); ok {
			if log {
				return coordinate{kind: coordReal, log: true, low: math.Log(low), high: math.Log(high)}, nil
			}
			return coordinate{kind: coordReal, low: low, high: high}, nil
		}
	case *space.Integer:
		if low, high, ok := d.Bounds(); ok {
			c := coordinate{kind: coordInteger, log: log, minInt: low, maxInt: high}
			if log {
				c.low, c.high = math.Log(float64(low)), math.Log(float64(high))
			} else {
				c.low, c.high = float64(low)-integerHalfWidth, float64(high)+integerHalfWidth
			}
			return c, nil
		}
	}
	values, err := d.Values()
	if err != nil {
		return coordinate{}, err
	}
	return coordinate{kind: coordIndex, low: 0, high: float64(len(values)), values: values}, nil
}

// Names returns the parameter names in coordinate order.
func (p *PositionalSpace) Names() []string {
	return append([]string(nil), p.names...)
}

// Len returns the number of coordinates.
func (p *PositionalSpace) Len() int { return len(p.coords) }

// Bounds returns the search box, one [low, high] pair per coordinate.
func (p *PositionalSpace) Bounds() [][2]float64 {
	out := make([][2]float64, len(p.coords))
	for i, c := range p.coords {
		out[i] = [2]float64{c.low, c.high}
	}
	return out
}

// Decode maps a point of the box to a named assignment.
func (p *PositionalSpace) Decode(x []float64) (optimization.Params, error) {
	if len(x) != len(p.coords) {
		return nil, apperrors.ResultShape("point has %d coordinates, want %d", len(x), len(p.coords))
	}
	out := make(optimization.Params, len(x))
	for i, c := range p.coords {
		out[p.names[i]] = c.decode(x[i])
	}
	return out, nil
}

func (c coordinate) decode(v float64) any {
	v = clamp(v, c.low, c.high)
	switch c.kind {
	case coordInteger:
		if c.log {
			v = math.Exp(v)
		}
		return min(c.maxInt, max(c.minInt, int(math.Round(v))))
	case coordIndex:
		return c.values[min(len(c.values)-1, int(math.Floor(v)))]
	}
	if c.log {
		return clamp(math.Exp(v), math.Exp(c.low), math.Exp(c.high))
	}
	return v
}

// Encode maps a named assignment to a point of the box.
func (p *PositionalSpace) Encode(params optimization.Params) ([]float64, error) {
	values := make([]any, len(p.names))
	for i, name := range p.names {
		v, ok := params[name]
		if !ok {
			return nil, apperrors.ConfigurationParam(name, "value is missing")
		}
		values[i] = v
	}
	return p.EncodeValues(values)
}

// EncodeValues maps natural values, in coordinate order, to a point of the
// box. It is used for initial points given positionally.
func (p *PositionalSpace) EncodeValues(values []any) ([]float64, error) {
	if len(values) != len(p.coords) {
		return nil, apperrors.Configuration("point has %d values, want %d", len(values), len(p.coords))
	}
	x := make([]float64, len(values))
	for i, c := range p.coords {
		v, err := c.encode(values[i])
		if err != nil {
			return nil, apperrors.Wrapf(err, "parameter %q", p.names[i])
		}
		x[i] = v
	}
	return x, nil
}

func (c coordinate) encode(v any) (float64, error) {
	if c.kind == coordIndex {
		idx, ok := indexOf(c.values, v)
		if !ok {
			return 0, apperrors.Configuration("value %v is not one of %v", v, c.values)
		}
		return float64(idx) + 0.5, nil
	}

	f, ok := optimization.ToFloat(v)
	if !ok {
		return 0, apperrors.Configuration("value %v (%T) is not numeric", v, v)
	}
	if c.log {
		if f <= 0 {
			return 0, apperrors.Configuration("value %v is outside a log-uniform range", v)
		}
		f = math.Log(f)
	}
	if f < c.low || f > c.high {
		return 0, apperrors.Configuration("value %v is outside the search range", v)
	}
	return f, nil
}
