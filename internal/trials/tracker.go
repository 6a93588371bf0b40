// Package trials records every objective evaluation of a search session,
// whichever backend produced it, and persists them to an append-only log.
package trials

import (
	"sync"
	"time"

	"github.com/copyleftdev/hyperopt/internal/optimization"
)

// Trial is one evaluated parameter assignment. Trials are never modified
// after they are recorded.
type Trial struct {
	// Index is the 0-based position in the session.
	Index  int                 `json:"index"`
	Params optimization.Params `json:"params"`
	// Value is the objective value as returned by the objective.
	Value float64 `json:"value"`
	// Loss is the value the backend minimized: Value, negated when the
	// session maximizes.
	Loss     float64       `json:"loss"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
}

// Observer is notified of every recorded trial.
type Observer func(Trial)

// Tracker is the ordered trial history of one session plus the running
// best. It is safe for concurrent readers while one search appends.
type Tracker struct {
	mu        sync.RWMutex
	direction optimization.Direction
	trials    []Trial
	best      int
	log       Log
	observers []Observer
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithLog persists each trial to log as it is recorded.
func WithLog(log Log) TrackerOption {
	return func(t *Tracker) { t.log = log }
}

// WithObserver registers fn for every recorded trial.
func WithObserver(fn Observer) TrackerOption {
	return func(t *Tracker) {
		if fn != nil {
			t.observers = append(t.observers, fn)
		}
	}
}

// NewTracker returns an empty tracker. The best trial is the one with the
// lowest value, or the highest when direction is Maximize.
func NewTracker(direction optimization.Direction, opts ...TrackerOption) *Tracker {
	if direction == "" {
		direction = optimization.Minimize
	}
	t := &Tracker{direction: direction, best: -1}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Direction returns the direction the best trial is chosen by.
func (t *Tracker) Direction() optimization.Direction { return t.direction }

// Record appends a trial and returns it with its index assigned. The trial
// is kept in memory even when the log write fails.
func (t *Tracker) Record(params optimization.Params, value, loss float64, started time.Time, d time.Duration) (Trial, error) {
	t.mu.Lock()
	trial := Trial{
		Index:    len(t.trials),
		Params:   params.Clone(),
		Value:    value,
		Loss:     loss,
		Started:  started,
		Duration: d,
	}
	t.trials = append(t.trials, trial)
	if t.best < 0 || t.direction.Better(value, t.trials[t.best].Value) {
		t.best = trial.Index
	}
	log := t.log
	observers := t.observers
	t.mu.Unlock()

	for _, fn := range observers {
		fn(trial)
	}
	if log != nil {
		if err := log.Append(trial); err != nil {
			return trial, err
		}
	}
	return trial, nil
}

// Len returns the number of recorded trials.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.trials)
}

// Trials returns a copy of the history in recording order.
func (t *Tracker) Trials() []Trial {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Trial(nil), t.trials...)
}

// Best returns the first trial with the best value.
func (t *Tracker) Best() (Trial, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.best < 0 {
		return Trial{}, false
	}
	return t.trials[t.best], true
}

// Reset discards the history. The log, if any, is left untouched.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trials = nil
	t.best = -1
}
