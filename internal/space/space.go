package space

import (
	"fmt"

	apperrors "github.com/copyleftdev/hyperopt/internal/errors"
)

// Space is an ordered, name-keyed collection of dimensions. Insertion order
// is the positional order seen by vector-based backends.
type Space struct {
	names []string
	dims  map[string]Dimension
}

// New returns an empty search space.
func New() *Space {
	return &Space{dims: make(map[string]Dimension)}
}

// FromDimensions builds a space from dimensions in positional order.
// Unnamed dimensions are keyed "x0", "x1", ... by position.
func FromDimensions(dims ...Dimension) (*Space, error) {
	s := New()
	for i, d := range dims {
		name := ""
		if d != nil {
			name = d.Name()
		}
		if name == "" {
			name = fmt.Sprintf("x%d", i)
		}
		if err := s.Add(name, d); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add appends a dimension under name. A named dimension must be added
// under its own name.
func (s *Space) Add(name string, d Dimension) error {
	if d == nil {
		return apperrors.ConfigurationParam(name, "dimension is nil")
	}
	if name == "" {
		name = d.Name()
	}
	if name == "" {
		return apperrors.Configuration("dimension at position %d has no name", len(s.names))
	}
	if own := d.Name(); own != "" && own != name {
		return apperrors.ConfigurationParam(name, "dimension is named %q", own)
	}
	if _, dup := s.dims[name]; dup {
		return apperrors.ConfigurationParam(name, "duplicate parameter name")
	}
	s.names = append(s.names, name)
	s.dims[name] = d
	return nil
}

// Len returns the number of dimensions.
func (s *Space) Len() int { return len(s.names) }

// Names returns the parameter names in positional order.
func (s *Space) Names() []string {
	return append([]string(nil), s.names...)
}

// Dimension returns the dimension registered under name.
func (s *Space) Dimension(name string) (Dimension, bool) {
	d, ok := s.dims[name]
	return d, ok
}

// Dimensions returns the dimensions in positional order.
func (s *Space) Dimensions() []Dimension {
	out := make([]Dimension, len(s.names))
	for i, name := range s.names {
		out[i] = s.dims[name]
	}
	return out
}

// Validate checks the space can be searched.
func (s *Space) Validate() error {
	if s == nil || len(s.names) == 0 {
		return apperrors.Configuration("search space has no dimensions")
	}
	return nil
}

// GridSize returns the number of points in the Cartesian product of every
// dimension grid.
func (s *Space) GridSize() (int, error) {
	if err := s.Validate(); err != nil {
		return 0, err
	}
	total := 1
	for _, name := range s.names {
		values, err := s.dims[name].Values()
		if err != nil {
			return 0, err
		}
		total *= len(values)
	}
	return total, nil
}
