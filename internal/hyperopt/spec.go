package hyperopt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/copyleftdev/hyperopt/internal/dataset"
	apperrors "github.com/copyleftdev/hyperopt/internal/errors"
	"github.com/copyleftdev/hyperopt/internal/models"
	"github.com/copyleftdev/hyperopt/internal/objective"
	"github.com/copyleftdev/hyperopt/internal/optimization"
	"github.com/copyleftdev/hyperopt/internal/space"
)

// SessionSpec is the file and wire form of a session.
type SessionSpec struct {
	Strategy  string          `json:"strategy" yaml:"strategy" validate:"required"`
	Direction string          `json:"direction,omitempty" yaml:"direction,omitempty" validate:"omitempty,oneof=min max minimize maximize"`
	Budget    int             `json:"budget,omitempty" yaml:"budget,omitempty" validate:"gte=0"`
	Options   OptionsSpec     `json:"options,omitempty" yaml:"options,omitempty"`
	Space     []DimensionSpec `json:"space" yaml:"space" validate:"required,min=1,dive"`
	Objective ObjectiveSpec   `json:"objective" yaml:"objective"`
}

// OptionsSpec mirrors Options.
type OptionsSpec struct {
	AcqFunc       string  `json:"acq_func,omitempty" yaml:"acq_func,omitempty" validate:"omitempty,oneof=EI PI LCB ei pi lcb"`
	Xi            float64 `json:"xi,omitempty" yaml:"xi,omitempty" validate:"gte=0"`
	Kappa         float64 `json:"kappa,omitempty" yaml:"kappa,omitempty" validate:"gte=0"`
	Noise         float64 `json:"noise,omitempty" yaml:"noise,omitempty" validate:"gte=0"`
	NRandomStarts int     `json:"n_random_starts,omitempty" yaml:"n_random_starts,omitempty" validate:"gte=0"`
	X0            [][]any `json:"x0,omitempty" yaml:"x0,omitempty"`
	Kernel        string  `json:"kernel,omitempty" yaml:"kernel,omitempty" validate:"omitempty,oneof=matern52 rbf"`
	RandomState   int64   `json:"random_state,omitempty" yaml:"random_state,omitempty"`
}

// DimensionSpec describes one dimension. Real and integer dimensions take
// bounds or an explicit grid; categorical ones take categories.
type DimensionSpec struct {
	Name       string    `json:"name" yaml:"name" validate:"required"`
	Type       string    `json:"type" yaml:"type" validate:"required,oneof=real integer categorical"`
	Low        *float64  `json:"low,omitempty" yaml:"low,omitempty"`
	High       *float64  `json:"high,omitempty" yaml:"high,omitempty"`
	Grid       []float64 `json:"grid,omitempty" yaml:"grid,omitempty"`
	Step       float64   `json:"step,omitempty" yaml:"step,omitempty" validate:"gte=0"`
	NumSamples int       `json:"num_samples,omitempty" yaml:"num_samples,omitempty" validate:"gte=0"`
	Prior      string    `json:"prior,omitempty" yaml:"prior,omitempty" validate:"omitempty,oneof=uniform log-uniform"`
	Categories []any     `json:"categories,omitempty" yaml:"categories,omitempty"`
	Weights    []float64 `json:"weights,omitempty" yaml:"weights,omitempty"`
}

// ObjectiveSpec names exactly one objective form.
type ObjectiveSpec struct {
	// Builtin is a benchmark function name, see objective.BuiltinNames.
	Builtin   string         `json:"builtin,omitempty" yaml:"builtin,omitempty"`
	Pipeline  *PipelineSpec  `json:"pipeline,omitempty" yaml:"pipeline,omitempty"`
	Estimator *EstimatorSpec `json:"estimator,omitempty" yaml:"estimator,omitempty"`
}

// PipelineSpec is a model definition scored on a held-out split.
type PipelineSpec struct {
	// Model is {"model": {"<estimator>": {params}}}; the outer key is
	// optional.
	Model        map[string]any `json:"model" yaml:"model" validate:"required"`
	Dataset      string         `json:"dataset" yaml:"dataset" validate:"required"`
	Target       string         `json:"target,omitempty" yaml:"target,omitempty"`
	TestFraction float64        `json:"test_fraction,omitempty" yaml:"test_fraction,omitempty" validate:"gte=0,lt=1"`
	Metric       string         `json:"metric,omitempty" yaml:"metric,omitempty" validate:"omitempty,oneof=mse rmse mae r2"`
	Seed         int64          `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// EstimatorSpec is an estimator scored by k-fold cross-validation.
type EstimatorSpec struct {
	Model   map[string]any `json:"model" yaml:"model" validate:"required"`
	Dataset string         `json:"dataset" yaml:"dataset" validate:"required"`
	Target  string         `json:"target,omitempty" yaml:"target,omitempty"`
	Folds   int            `json:"folds,omitempty" yaml:"folds,omitempty" validate:"omitempty,gte=2"`
	Seed    int64          `json:"seed,omitempty" yaml:"seed,omitempty"`
}

var specValidate = validator.New()

// DecodeSpec reads a session spec in "yaml" or "json" format and validates
// it.
func DecodeSpec(r io.Reader, format string) (*SessionSpec, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var spec SessionSpec
	switch strings.ToLower(format) {
	case "json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&spec)
	case "yaml", "yml", "":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&spec)
	default:
		return nil, apperrors.Configuration("unknown session spec format %q", format)
	}
	if err != nil {
		return nil, apperrors.Configuration("decoding session spec: %v", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// LoadSpec reads a session spec file; the format follows the extension.
func LoadSpec(path string) (*SessionSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Configuration("opening session spec: %v", err)
	}
	defer f.Close()
	return DecodeSpec(f, strings.TrimPrefix(filepath.Ext(path), "."))
}

// Validate checks field-level constraints.
func (s *SessionSpec) Validate() error {
	if err := specValidate.Struct(s); err != nil {
		var fields []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return apperrors.Configuration("invalid session spec: %s", strings.Join(fields, ", "))
		}
		return apperrors.Configuration("invalid session spec: %v", err)
	}
	n := 0
	if s.Objective.Builtin != "" {
		n++
	}
	if s.Objective.Pipeline != nil {
		n++
	}
	if s.Objective.Estimator != nil {
		n++
	}
	if n != 1 {
		return apperrors.ConfigurationParam("objective", "set exactly one of builtin, pipeline or estimator")
	}
	return nil
}

// Build turns the session spec into a session Config. Relative dataset paths are
// resolved against baseDir.
func (s *SessionSpec) Build(baseDir string) (Config, error) {
	strategy, err := optimization.ParseStrategy(s.Strategy)
	if err != nil {
		return Config{}, apperrors.ConfigurationParam("strategy", "%v", err)
	}
	var direction optimization.Direction
	if s.Direction != "" {
		if direction, err = optimization.ParseDirection(s.Direction); err != nil {
			return Config{}, apperrors.ConfigurationParam("direction", "%v", err)
		}
	}

	sp := space.New()
	for _, ds := range s.Space {
		d, err := ds.dimension()
		if err != nil {
			return Config{}, err
		}
		if err := sp.Add(ds.Name, d); err != nil {
			return Config{}, err
		}
	}

	obj, err := s.Objective.build(baseDir)
	if err != nil {
		return Config{}, err
	}

	o := s.Options
	return Config{
		Space:     sp,
		Objective: obj,
		Strategy:  strategy,
		Direction: direction,
		Budget:    s.Budget,
		Options: Options{
			AcqFunc:       strings.ToUpper(o.AcqFunc),
			Xi:            o.Xi,
			Kappa:         o.Kappa,
			Noise:         o.Noise,
			NRandomStarts: o.NRandomStarts,
			X0:            o.X0,
			Kernel:        o.Kernel,
			Seed:          o.RandomState,
		},
	}, nil
}

// BuildWithin is Build for specs from untrusted callers: dataset paths must
// be relative and stay inside dataDir.
func (s *SessionSpec) BuildWithin(dataDir string) (Config, error) {
	for _, path := range s.Objective.datasets() {
		if !filepath.IsLocal(path) {
			return Config{}, apperrors.ConfigurationParam("dataset",
				"%q must be a relative path inside the data directory", path)
		}
	}
	return s.Build(dataDir)
}

func (ds DimensionSpec) dimension() (space.Dimension, error) {
	var opts []space.Option
	if ds.Low != nil || ds.High != nil {
		if ds.Low == nil || ds.High == nil {
			return nil, apperrors.ConfigurationParam(ds.Name, "both low and high are required")
		}
		opts = append(opts, space.WithBounds(*ds.Low, *ds.High))
	}
	if len(ds.Grid) > 0 {
		opts = append(opts, space.WithGrid(ds.Grid...))
	}
	if ds.Step > 0 {
		opts = append(opts, space.WithStep(ds.Step))
	}
	if ds.NumSamples > 0 {
		opts = append(opts, space.WithNumSamples(ds.NumSamples))
	}
	if ds.Prior != "" {
		opts = append(opts, space.WithPrior(space.Prior(ds.Prior)))
	}
	if len(ds.Weights) > 0 {
		opts = append(opts, space.WithWeights(ds.Weights...))
	}
	opts = append(opts, space.WithName(ds.Name))

	switch ds.Type {
	case "real":
		return space.NewReal(opts...)
	case "integer":
		return space.NewInteger(opts...)
	case "categorical":
		return space.NewCategorical(ds.Categories, opts...)
	}
	return nil, apperrors.ConfigurationParam(ds.Name, "unknown dimension type %q", ds.Type)
}

func (o ObjectiveSpec) build(baseDir string) (objective.Objective, error) {
	switch {
	case o.Builtin != "":
		fn, err := objective.Builtin(o.Builtin)
		if err != nil {
			return nil, apperrors.ConfigurationParam("objective", "%v", err)
		}
		return fn, nil

	case o.Pipeline != nil:
		p := o.Pipeline
		model, err := models.ParseSpec(p.Model)
		if err != nil {
			return nil, err
		}
		data, err := loadDataset(baseDir, p.Dataset, p.Target)
		if err != nil {
			return nil, err
		}
		return &objective.Pipeline{
			Model:        model,
			Data:         data,
			TestFraction: p.TestFraction,
			Metric:       p.Metric,
			Seed:         p.Seed,
		}, nil

	case o.Estimator != nil:
		e := o.Estimator
		model, err := models.ParseSpec(e.Model)
		if err != nil {
			return nil, err
		}
		est, err := models.DefaultRegistry.Build(model)
		if err != nil {
			return nil, err
		}
		data, err := loadDataset(baseDir, e.Dataset, e.Target)
		if err != nil {
			return nil, err
		}
		return &objective.Estimator{Estimator: est, Data: data, Folds: e.Folds, Seed: e.Seed}, nil
	}
	return nil, apperrors.ConfigurationParam("objective", "no objective given")
}

func (o ObjectiveSpec) datasets() []string {
	var out []string
	if o.Pipeline != nil {
		out = append(out, o.Pipeline.Dataset)
	}
	if o.Estimator != nil {
		out = append(out, o.Estimator.Dataset)
	}
	return out
}

func loadDataset(baseDir, path, target string) (*dataset.Dataset, error) {
	if !filepath.IsAbs(path) && baseDir != "" {
		path = filepath.Join(baseDir, path)
	}
	return dataset.LoadCSVFile(path, target)
}
