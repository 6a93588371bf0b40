package tpe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// Defaults applied to zero-valued Config fields.
const (
	DefaultStartupTrials = 20
	DefaultGamma         = 0.25
	DefaultEICandidates  = 24
	DefaultPriorWeight   = 1.0

	// maxBelow caps the size of the "good" set.
	maxBelow = 25
)

// Status is the outcome reported for a trial.
type Status string

const (
	StatusOK   Status = "ok"
	StatusFail Status = "fail"
)

// Report is what the objective returns for one trial. Failed trials are
// kept in the history but excluded from the density model and the best.
type Report struct {
	Loss   float64
	Status Status
}

// Objective evaluates one proposal. Values are keyed by label.
type Objective func(ctx context.Context, vals map[string]float64) (Report, error)

// Config configures a search.
type Config struct {
	Space    []Param
	MaxEvals int
	// Seed drives every random draw; zero seeds from the clock.
	Seed int64
	// StartupTrials are drawn from the prior before the model is used.
	StartupTrials int
	// Gamma scales the size of the good set: ceil(Gamma * sqrt(n)).
	Gamma float64
	// EICandidates are drawn from the good density per parameter.
	EICandidates int
	// PriorWeight is the weight of the prior component in each density.
	PriorWeight float64
	Logger      *zap.Logger
}

// Trial is one evaluated proposal.
type Trial struct {
	TID    int
	Vals   map[string]float64
	Loss   float64
	Status Status
}

// Result is the outcome of FMin. Best holds choice indices for choice
// parameters.
type Result struct {
	Best     map[string]float64
	BestLoss float64
	Trials   []Trial
}

// ErrNoSuccessfulTrial is returned when every trial reported a failure.
var ErrNoSuccessfulTrial = errors.New("tpe: no trial completed with status ok")

type search struct {
	cfg    Config
	rng    *rand.Rand
	logger *zap.Logger
	priors []func() float64
	trials []Trial
}

func withDefaults(cfg Config) (Config, error) {
	if len(cfg.Space) == 0 {
		return cfg, fmt.Errorf("tpe: search space is empty")
	}
	seen := make(map[string]bool, len(cfg.Space))
	for _, p := range cfg.Space {
		if err := p.Validate(); err != nil {
			return cfg, fmt.Errorf("tpe: %w", err)
		}
		if seen[p.Label] {
			return cfg, fmt.Errorf("tpe: duplicate label %q", p.Label)
		}
		seen[p.Label] = true
	}
	if cfg.MaxEvals < 1 {
		return cfg, fmt.Errorf("tpe: max_evals must be at least 1, got %d", cfg.MaxEvals)
	}
	if cfg.StartupTrials <= 0 {
		cfg.StartupTrials = DefaultStartupTrials
	}
	if cfg.Gamma <= 0 || cfg.Gamma >= 1 {
		cfg.Gamma = DefaultGamma
	}
	if cfg.EICandidates <= 0 {
		cfg.EICandidates = DefaultEICandidates
	}
	if cfg.PriorWeight <= 0 {
		cfg.PriorWeight = DefaultPriorWeight
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return cfg, nil
}

// FMin minimizes objective over the space with exactly MaxEvals
// evaluations, unless the objective or the context fails first.
func FMin(ctx context.Context, objective Objective, cfg Config) (*Result, error) {
	if objective == nil {
		return nil, fmt.Errorf("tpe: objective is required")
	}
	cfg, err := withDefaults(cfg)
	if err != nil {
		return nil, err
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	s := &search{
		cfg:    cfg,
		rng:    rand.New(rand.NewPCG(uint64(seed), 0x7470655f73656564)),
		logger: cfg.Logger.Named("tpe"),
		trials: make([]Trial, 0, cfg.MaxEvals),
	}
	for _, p := range cfg.Space {
		s.priors = append(s.priors, p.Sampler(s.rng))
	}

	for tid := 0; tid < cfg.MaxEvals; tid++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		vals := s.suggest()
		report, err := objective(ctx, vals)
		if err != nil {
			return nil, fmt.Errorf("tpe: trial %d: %w", tid, err)
		}
		if report.Status == "" {
			report.Status = StatusOK
		}
		if report.Status == StatusOK && math.IsNaN(report.Loss) {
			return nil, fmt.Errorf("tpe: trial %d reported NaN loss", tid)
		}

		s.trials = append(s.trials, Trial{TID: tid, Vals: vals, Loss: report.Loss, Status: report.Status})
		s.logger.Debug("Trial complete",
			zap.Int("tid", tid),
			zap.Any("vals", vals),
			zap.Float64("loss", report.Loss),
			zap.String("status", string(report.Status)),
		)
	}

	return s.result()
}

func (s *search) result() (*Result, error) {
	bestIdx := -1
	for i, t := range s.trials {
		if t.Status != StatusOK {
			continue
		}
		if bestIdx < 0 || t.Loss < s.trials[bestIdx].Loss {
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return nil, ErrNoSuccessfulTrial
	}

	best := make(map[string]float64, len(s.trials[bestIdx].Vals))
	for k, v := range s.trials[bestIdx].Vals {
		best[k] = v
	}
	return &Result{Best: best, BestLoss: s.trials[bestIdx].Loss, Trials: s.trials}, nil
}

// suggest draws from the prior during startup, then maximizes the density
// ratio l(x)/g(x) independently per parameter.
func (s *search) suggest() map[string]float64 {
	ok := s.successful()
	vals := make(map[string]float64, len(s.cfg.Space))

	if len(ok) < s.cfg.StartupTrials || len(ok) < 2 {
		for i, p := range s.cfg.Space {
			vals[p.Label] = s.priors[i]()
		}
		return vals
	}

	sort.SliceStable(ok, func(a, b int) bool { return ok[a].Loss < ok[b].Loss })
	nBelow := int(math.Ceil(s.cfg.Gamma * math.Sqrt(float64(len(ok)))))
	nBelow = max(1, min(nBelow, maxBelow, len(ok)-1))
	below, above := ok[:nBelow], ok[nBelow:]

	for _, p := range s.cfg.Space {
		if p.Kind == KindChoice {
			vals[p.Label] = s.suggestChoice(p, below, above)
		} else {
			vals[p.Label] = s.suggestNumeric(p, below, above)
		}
	}
	return vals
}

func (s *search) successful() []Trial {
	out := make([]Trial, 0, len(s.trials))
	for _, t := range s.trials {
		if t.Status == StatusOK {
			out = append(out, t)
		}
	}
	return out
}

func (s *search) suggestChoice(p Param, below, above []Trial) float64 {
	l := s.categoricalPosterior(p, below)
	g := s.categoricalPosterior(p, above)

	draw := distuv.NewCategorical(l, s.rng)
	best, bestScore := 0.0, math.Inf(-1)
	for i := 0; i < s.cfg.EICandidates; i++ {
		c := draw.Rand()
		idx := int(c)
		if score := math.Log(l[idx]) - math.Log(g[idx]); score > bestScore {
			best, bestScore = c, score
		}
	}
	return best
}

// categoricalPosterior smooths observed option counts with the prior.
func (s *search) categoricalPosterior(p Param, obs []Trial) []float64 {
	prior := p.priorWeights()
	post := make([]float64, p.N)
	for _, t := range obs {
		idx := int(t.Vals[p.Label])
		if idx >= 0 && idx < p.N {
			post[idx]++
		}
	}
	total := float64(len(obs)) + s.cfg.PriorWeight
	for i := range post {
		post[i] = (post[i] + s.cfg.PriorWeight*prior[i]) / total
	}
	return post
}

func (s *search) suggestNumeric(p Param, below, above []Trial) float64 {
	lo, hi := p.lowHigh()
	l := newParzen(p, below, lo, hi, s.cfg.PriorWeight)
	g := newParzen(p, above, lo, hi, s.cfg.PriorWeight)

	best, bestScore := 0.0, math.Inf(-1)
	for i := 0; i < s.cfg.EICandidates; i++ {
		x := l.sample(s.rng)
		if score := l.logProb(x) - g.logProb(x); score > bestScore {
			best, bestScore = x, score
		}
	}
	return p.fromModel(best)
}

// parzen is a truncated Gaussian mixture over [lo, hi]: one component per
// observation plus a broad prior component.
type parzen struct {
	lo, hi     float64
	components []distuv.Normal
	weights    []float64
	// mass is the probability of each component inside [lo, hi].
	mass []float64
}

func newParzen(p Param, obs []Trial, lo, hi, priorWeight float64) *parzen {
	mus := make([]float64, 0, len(obs))
	for _, t := range obs {
		mus = append(mus, p.toModel(t.Vals[p.Label]))
	}
	sort.Float64s(mus)

	width := hi - lo
	minSigma := width / math.Min(100, 1+float64(len(mus)))

	pz := &parzen{lo: lo, hi: hi}
	pz.add(distuv.Normal{Mu: lo + width/2, Sigma: width}, priorWeight)
	for i, mu := range mus {
		// Bandwidth is the larger gap to a neighbour, the bounds acting as
		// neighbours of the extreme points.
		left, right := lo, hi
		if i > 0 {
			left = mus[i-1]
		}
		if i < len(mus)-1 {
			right = mus[i+1]
		}
		sigma := math.Max(mu-left, right-mu)
		sigma = math.Min(width, math.Max(minSigma, sigma))
		pz.add(distuv.Normal{Mu: mu, Sigma: sigma}, 1)
	}

	total := floats.Sum(pz.weights)
	floats.Scale(1/total, pz.weights)
	return pz
}

func (pz *parzen) add(n distuv.Normal, w float64) {
	pz.components = append(pz.components, n)
	pz.weights = append(pz.weights, w)
	pz.mass = append(pz.mass, math.Max(n.CDF(pz.hi)-n.CDF(pz.lo), 1e-12))
}

func (pz *parzen) logProb(x float64) float64 {
	p := 0.0
	for i, c := range pz.components {
		p += pz.weights[i] * c.Prob(x) / pz.mass[i]
	}
	return math.Log(math.Max(p, 1e-300))
}

// sample draws a component by weight, then a point from it, rejecting
// draws outside the bounds.
func (pz *parzen) sample(rng *rand.Rand) float64 {
	pick := distuv.NewCategorical(pz.weights, rng)
	for attempt := 0; attempt < 100; attempt++ {
		c := pz.components[int(pick.Rand())]
		c.Src = rng
		if x := c.Rand(); x >= pz.lo && x <= pz.hi {
			return x
		}
	}
	return distuv.Uniform{Min: pz.lo, Max: pz.hi, Src: rng}.Rand()
}
