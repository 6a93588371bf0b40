package translate

import (
	"math"

	apperrors "github.com/copyleftdev/hyperopt/internal/errors"
	"github.com/copyleftdev/hyperopt/internal/optimization"
	"github.com/copyleftdev/hyperopt/internal/optimization/tpe"
	"github.com/copyleftdev/hyperopt/internal/space"
)

// TPESpace is a space as labelled priors. Choice parameters are proposed
// as indices; Decode maps them back to category values.
type TPESpace struct {
	Params []tpe.Param
	// choices holds the option values of each choice label.
	choices map[string][]any
	// integers marks labels decoded as int.
	integers map[string]bool
}

// TPE translates s into priors: bounded reals become uniform or
// log-uniform, bounded integers an integer range, and grids and
// categories a choice.
func TPE(s *space.Space) (*TPESpace, error) {
	if err := check(optimization.StrategyTPE, s); err != nil {
		return nil, err
	}
	ts := &TPESpace{choices: map[string][]any{}, integers: map[string]bool{}}
	for _, name := range s.Names() {
		d, _ := s.Dimension(name)
		log := d.Prior() == space.LogUniform

		switch d := d.(type) {
		case *space.Real:
			if low, high, ok := d.Bounds(); ok {
				if log {
					ts.Params = append(ts.Params, tpe.LogUniform(name, low, high))
				} else {
					ts.Params = append(ts.Params, tpe.Uniform(name, low, high))
				}
				continue
			}
		case *space.Integer:
			if low, high, ok := d.Bounds(); ok {
				ts.integers[name] = true
				if log {
					ts.Params = append(ts.Params, tpe.LogUniform(name, float64(low), float64(high)))
				} else {
					ts.Params = append(ts.Params, tpe.RandInt(name, low, high))
				}
				continue
			}
		case *space.Categorical:
			ts.choices[name] = d.Categories()
			ts.Params = append(ts.Params, tpe.Choice(name, len(ts.choices[name]), d.Weights()...))
			continue
		}

		values, err := d.Values()
		if err != nil {
			return nil, apperrors.Wrapf(err, "prior for %q", name)
		}
		ts.choices[name] = values
		ts.Params = append(ts.Params, tpe.Choice(name, len(values)))
	}
	return ts, nil
}

// Decode maps a proposal keyed by label to a named assignment.
func (t *TPESpace) Decode(vals map[string]float64) (optimization.Params, error) {
	out := make(optimization.Params, len(t.Params))
	for _, p := range t.Params {
		v, ok := vals[p.Label]
		if !ok {
			return nil, apperrors.ResultShape("proposal has no value for %q", p.Label)
		}
		switch {
		case t.choices[p.Label] != nil:
			options := t.choices[p.Label]
			idx := int(v)
			if idx < 0 || idx >= len(options) || float64(idx) != v {
				return nil, apperrors.ResultShape("choice index %v for %q is out of range", v, p.Label)
			}
			out[p.Label] = options[idx]
		case t.integers[p.Label]:
			out[p.Label] = int(math.Round(v))
		default:
			out[p.Label] = v
		}
	}
	return out, nil
}
