package models

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/hyperopt/internal/dataset"
	"github.com/copyleftdev/hyperopt/internal/optimization"
	"github.com/copyleftdev/hyperopt/internal/optimization/grid"
	"github.com/copyleftdev/hyperopt/internal/optimization/random"
)

// DefaultFolds is the number of cross-validation folds when none is set.
const DefaultFolds = 3

// CVConfig configures a cross-validated search.
type CVConfig struct {
	Folds int
	// Seed fixes the fold assignment and, for randomized search, the
	// candidate draws.
	Seed   int64
	Logger *zap.Logger
	// OnCandidate is called after each candidate is scored, in evaluation
	// order. A non-nil error stops the search.
	OnCandidate func(params optimization.Params, score float64) error
}

// Candidate is one scored hyperparameter assignment.
type Candidate struct {
	Params     optimization.Params
	MeanScore  float64
	FoldScores []float64
}

// SearchResult is the outcome of a cross-validated search. BestEstimator
// is refitted on the whole dataset.
type SearchResult struct {
	BestParams    optimization.Params
	BestScore     float64
	BestEstimator Estimator
	Candidates    []Candidate
}

// CrossValScore returns the Score of est on each held-out fold.
func CrossValScore(ctx context.Context, est Estimator, d *dataset.Dataset, folds int, seed int64) ([]float64, error) {
	if folds == 0 {
		folds = DefaultFolds
	}
	splits, err := dataset.KFold(d.Len(), folds, seed)
	if err != nil {
		return nil, err
	}
	scores := make([]float64, 0, len(splits))
	for _, f := range splits {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		train, test := d.Subset(f.Train), d.Subset(f.Test)
		m := est.Clone()
		if err := m.Fit(train.X, train.Y); err != nil {
			return nil, err
		}
		s, err := m.Score(test.X, test.Y)
		if err != nil {
			return nil, err
		}
		scores = append(scores, s)
	}
	return scores, nil
}

type cvSearch struct {
	est        Estimator
	data       *dataset.Dataset
	cfg        CVConfig
	logger     *zap.Logger
	candidates []Candidate
}

func newCVSearch(est Estimator, d *dataset.Dataset, cfg CVConfig) (*cvSearch, error) {
	if est == nil {
		return nil, fmt.Errorf("estimator is required")
	}
	if d == nil || d.Len() == 0 {
		return nil, fmt.Errorf("dataset is required")
	}
	if cfg.Folds == 0 {
		cfg.Folds = DefaultFolds
	}
	logger := zap.NewNop()
	if cfg.Logger != nil {
		logger = cfg.Logger.Named("cv")
	}
	return &cvSearch{est: est, data: d, cfg: cfg, logger: logger}, nil
}

// objective scores one candidate and returns its negated mean score, the
// loss minimized by the search backends.
func (s *cvSearch) objective(ctx context.Context, p optimization.Params) (float64, error) {
	m := s.est.Clone()
	if err := m.SetParams(p); err != nil {
		return 0, fmt.Errorf("%s: %w", s.est.Name(), err)
	}
	scores, err := CrossValScore(ctx, m, s.data, s.cfg.Folds, s.cfg.Seed)
	if err != nil {
		return 0, err
	}
	mean := stat.Mean(scores, nil)
	s.candidates = append(s.candidates, Candidate{Params: p.Clone(), MeanScore: mean, FoldScores: scores})
	s.logger.Debug("Scored candidate",
		zap.String("estimator", s.est.Name()),
		zap.Any("params", p),
		zap.Float64("mean_score", mean),
	)
	if s.cfg.OnCandidate != nil {
		if err := s.cfg.OnCandidate(p.Clone(), mean); err != nil {
			return 0, err
		}
	}
	return -mean, nil
}

func (s *cvSearch) finish(res *optimization.NamedResult) (*SearchResult, error) {
	best := s.est.Clone()
	if err := best.SetParams(res.Best); err != nil {
		return nil, err
	}
	if err := best.Fit(s.data.X, s.data.Y); err != nil {
		return nil, fmt.Errorf("refitting best estimator: %w", err)
	}
	return &SearchResult{
		BestParams:    res.Best,
		BestScore:     -res.BestValue,
		BestEstimator: best,
		Candidates:    s.candidates,
	}, nil
}

// GridSearchCV scores every point of the grid by k-fold cross-validation
// and keeps the first with the highest mean score.
func GridSearchCV(ctx context.Context, est Estimator, axes []grid.Axis, d *dataset.Dataset, cfg CVConfig) (*SearchResult, error) {
	s, err := newCVSearch(est, d, cfg)
	if err != nil {
		return nil, err
	}
	res, err := grid.Search(ctx, axes, s.objective, grid.WithLogger(cfg.Logger))
	if err != nil {
		return nil, err
	}
	return s.finish(res)
}

// RandomizedSearchCV scores nIter sampled candidates by k-fold
// cross-validation and keeps the first with the highest mean score.
func RandomizedSearchCV(ctx context.Context, est Estimator, params []random.Param, nIter int, d *dataset.Dataset, cfg CVConfig) (*SearchResult, error) {
	s, err := newCVSearch(est, d, cfg)
	if err != nil {
		return nil, err
	}
	res, err := random.Search(ctx, random.Config{Params: params, NIter: nIter, Seed: cfg.Seed}, s.objective, random.WithLogger(cfg.Logger))
	if err != nil {
		return nil, err
	}
	return s.finish(res)
}
