package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/copyleftdev/hyperopt/internal/config"
	apperrors "github.com/copyleftdev/hyperopt/internal/errors"
	"github.com/copyleftdev/hyperopt/internal/hyperopt"
	"github.com/copyleftdev/hyperopt/internal/logging"
	"github.com/copyleftdev/hyperopt/internal/metrics"
	"github.com/copyleftdev/hyperopt/internal/optimization"
	"github.com/copyleftdev/hyperopt/internal/trials"
)

// Logger defines the logging interface used by the server
// This allows us to be flexible with our logging implementation
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

var (
	errSessionNotFound = stderrors.New("session not found")
	errTooManySessions = stderrors.New("too many active sessions")
)

// Session is one search session started through the API. Sessions run in
// the background and cannot be interrupted once started.
type Session struct {
	ID        string
	StartTime time.Time
	Budget    int

	search *hyperopt.HyperOpt
	log    trials.Log

	mu      sync.Mutex
	endTime *time.Time
}

func (s *Session) finished() bool {
	switch s.search.State() {
	case hyperopt.StateCompleted, hyperopt.StateFailed:
		return true
	}
	return false
}

// Server implements the HTTP and JSON-RPC API of the search service.
// It starts sessions and serves their status and trial history.
type Server struct {
	cfg     *config.Config
	logger  Logger
	zap     *zap.Logger
	metrics *metrics.Metrics

	// ctx is cancelled by Close; running sessions stop before their next
	// trial.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Session state management
	sessions   map[string]*Session
	reserved   int          // slots held by sessions still being built
	sessionsMu sync.RWMutex // Protects the sessions map and reserved
}

// Option configures a Server.
type Option func(*Server)

// WithZapLogger sets the logger handed to search sessions.
func WithZapLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.zap = logger
		}
	}
}

// WithMetrics exports sessions and trials to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a new server instance with the given config and logger
// The logger parameter accepts any type that implements the Logger interface
func NewServer(cfg *config.Config, logger Logger, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		zap:      zap.NewNop(),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) RegisterRoutes(r chi.Router) {
	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sessions", s.handleStartSession)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{id}", s.handleSessionStatus)
		r.Get("/sessions/{id}/trials", s.handleSessionTrials)
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

// startSession validates spec, builds the session and runs it in the
// background. Configuration errors are returned before anything runs.
func (s *Server) startSession(spec *hyperopt.SessionSpec) (*Session, error) {
	if spec.Strategy == "" {
		spec.Strategy = s.cfg.Search.DefaultStrategy
	}
	if strategy, err := optimization.ParseStrategy(spec.Strategy); err == nil &&
		strategy != optimization.StrategyGrid && spec.Budget == 0 {
		spec.Budget = s.cfg.Search.DefaultBudget
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	cfg, err := spec.BuildWithin(s.cfg.Search.DataDir)
	if err != nil {
		return nil, err
	}

	if err := s.reserve(); err != nil {
		return nil, err
	}
	admitted := false
	defer func() {
		if !admitted {
			s.admit(nil)
		}
	}()

	id := uuid.NewString()
	log, err := s.openLog(id)
	if err != nil {
		return nil, err
	}

	sess := &Session{ID: id, StartTime: time.Now(), Budget: cfg.Budget, log: log}
	strategy := string(cfg.Strategy)
	cfg.Log = log
	cfg.Logger = s.zap.With(zap.String("session_id", id))
	if s.metrics != nil {
		cfg.Observers = append(cfg.Observers, s.metrics.TrialObserver(id, strategy, func() *trials.Tracker {
			return sess.search.Tracker()
		}))
		cfg.OnStateChange = func(state hyperopt.State, _ error) {
			s.metrics.SessionState(strategy, state)
		}
	}

	search, err := hyperopt.New(cfg)
	if err != nil {
		if log != nil {
			log.Close()
		}
		return nil, err
	}
	sess.search = search
	s.admit(sess)
	admitted = true

	s.logger.Info("Session started", map[string]interface{}{
		"session_id": id,
		"strategy":   strategy,
		"budget":     cfg.Budget,
	})

	s.wg.Add(1)
	go s.runSession(sess)
	return sess, nil
}

// reserve holds a slot for a new session, evicting the oldest finished
// session when the limit is reached. Every successful reserve is followed
// by one admit.
func (s *Server) reserve() error {
	limit := s.cfg.Search.MaxSessions
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	if limit <= 0 || len(s.sessions)+s.reserved < limit {
		s.reserved++
		return nil
	}
	var oldest *Session
	for _, sess := range s.sessions {
		if sess.finished() && (oldest == nil || sess.StartTime.Before(oldest.StartTime)) {
			oldest = sess
		}
	}
	if oldest == nil {
		return errTooManySessions
	}
	delete(s.sessions, oldest.ID)
	if s.metrics != nil {
		s.metrics.Forget(oldest.ID)
	}
	s.reserved++
	return nil
}

// admit releases a reserved slot, registering sess in it. A nil sess gives
// the slot back.
func (s *Server) admit(sess *Session) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	s.reserved--
	if sess != nil {
		s.sessions[sess.ID] = sess
	}
}

func (s *Server) openLog(id string) (trials.Log, error) {
	dir := s.cfg.Search.OutputDir
	switch s.cfg.Search.TrialLog {
	case config.TrialLogJSONL:
		return trials.OpenJSONL(filepath.Join(dir, id+".jsonl"), id)
	case config.TrialLogBadger:
		return trials.OpenBadger(trials.BadgerConfig{
			Path:    filepath.Join(dir, id+".badger"),
			Session: id,
			Logger:  s.zap,
		})
	}
	return nil, nil
}

// runSession executes the session's search to completion
func (s *Server) runSession(sess *Session) {
	defer s.wg.Done()

	_, err := sess.search.Fit(s.ctx)

	now := time.Now()
	sess.mu.Lock()
	sess.endTime = &now
	sess.mu.Unlock()

	if sess.log != nil {
		if cerr := sess.log.Close(); cerr != nil {
			s.logger.Error("Closing trial log failed", map[string]interface{}{
				"session_id": sess.ID,
				"error":      cerr.Error(),
			})
		}
	}

	fields := map[string]interface{}{
		"session_id": sess.ID,
		"trials":     sess.search.Tracker().Len(),
		"duration":   now.Sub(sess.StartTime).String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		s.logger.Error("Session failed", fields)
		return
	}
	s.logger.Info("Session completed", fields)
}

func (s *Server) session(id string) (*Session, error) {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, errSessionNotFound
	}
	return sess, nil
}

// BestView is the best trial of a session.
type BestView struct {
	Params optimization.Params `json:"params"`
	Value  float64             `json:"value"`
}

// SessionView is the status of a session.
type SessionView struct {
	ID        string     `json:"session_id"`
	Strategy  string     `json:"strategy"`
	Direction string     `json:"direction"`
	State     string     `json:"state"`
	Budget    int        `json:"budget,omitempty"`
	Trials    int        `json:"trials"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Best      *BestView  `json:"best,omitempty"`
	Error     string     `json:"error,omitempty"`
}

func (s *Server) view(sess *Session) SessionView {
	h := sess.search
	v := SessionView{
		ID:        sess.ID,
		Strategy:  string(h.Strategy()),
		Direction: string(h.Direction()),
		State:     string(h.State()),
		Budget:    sess.Budget,
		Trials:    h.Tracker().Len(),
		StartTime: sess.StartTime,
	}
	sess.mu.Lock()
	v.EndTime = sess.endTime
	sess.mu.Unlock()

	if res := h.Result(); res != nil {
		v.Best = &BestView{Params: res.BestParams, Value: res.BestValue}
	} else if best, ok := h.Tracker().Best(); ok {
		v.Best = &BestView{Params: best.Params, Value: best.Value}
	}
	if err := h.Err(); err != nil {
		v.Error = err.Error()
	}
	return v
}

// Close waits for running sessions after cancelling them between trials.
func (s *Server) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

// Wait blocks until every started session has finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

// handleStartSession handles POST /api/v1/sessions with a session spec body
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var spec hyperopt.SessionSpec
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": fmt.Sprintf("Invalid request body: %v", err),
		})
		return
	}

	sess, err := s.startSession(&spec)
	if err != nil {
		s.respondJSON(w, statusFor(err), map[string]interface{}{"error": err.Error()})
		return
	}
	s.respondJSON(w, http.StatusAccepted, s.view(sess))
}

// handleListSessions handles GET /api/v1/sessions
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	s.sessionsMu.RLock()
	views := make([]SessionView, 0, len(s.sessions))
	for _, sess := range s.sessions {
		views = append(views, s.view(sess))
	}
	s.sessionsMu.RUnlock()
	sort.Slice(views, func(i, j int) bool { return views[i].StartTime.Before(views[j].StartTime) })
	s.respondJSON(w, http.StatusOK, views)
}

// handleSessionStatus handles GET /api/v1/sessions/{id}
func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(chi.URLParam(r, "id"))
	if err != nil {
		s.respondJSON(w, http.StatusNotFound, map[string]interface{}{"error": err.Error()})
		return
	}
	s.respondJSON(w, http.StatusOK, s.view(sess))
}

// handleSessionTrials handles GET /api/v1/sessions/{id}/trials
func (s *Server) handleSessionTrials(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(chi.URLParam(r, "id"))
	if err != nil {
		s.respondJSON(w, http.StatusNotFound, map[string]interface{}{"error": err.Error()})
		return
	}
	s.respondJSON(w, http.StatusOK, sess.search.Tracker().Trials())
}

func statusFor(err error) int {
	switch {
	case stderrors.Is(err, errTooManySessions):
		return http.StatusTooManyRequests
	case stderrors.Is(err, errSessionNotFound):
		return http.StatusNotFound
	}
	return apperrors.HTTPStatus(err)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Encoding response failed", map[string]interface{}{"error": err.Error()})
	}
}
