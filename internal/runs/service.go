// Package runs owns the lifecycle of optimization runs: creation from a request,
// blocking or pooled execution, cooperative abort, statistics and persistence.
package runs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"slotopt/internal/alloc"
	"slotopt/internal/evaluation"
	"slotopt/internal/metrics"
	"slotopt/internal/model"
	"slotopt/internal/search"
	"slotopt/internal/store"
)

var (
	ErrNotFound     = errors.New("optimization not found")
	ErrInvalidState = errors.New("invalid optimization state")
	ErrInvalidInput = errors.New("invalid optimization input")
	ErrQueueFull    = errors.New("run queue is full")
)

// Lifecycle event types published to notifiers and the progress stream.
const (
	EventProgress = "optimization.progress"
	EventStatus   = "optimization.status"
	EventFinished = "optimization.finished"
	EventAborted  = "optimization.aborted"
	EventFailed   = "optimization.failed"
)

// Notifier receives run completion events.
type Notifier interface {
	Emit(ctx context.Context, eventType string, data any)
}

// OracleFactory returns the privacy engine client of one run.
type OracleFactory func(optID string) evaluation.Oracle

type Options struct {
	Store     store.Store
	Defaults  search.Config
	Oracle    OracleFactory
	Notifiers []Notifier
	// Events receives per run progress and status changes.
	Events func(optID, eventType string, data map[string]any)
	// Workers bounds the number of concurrently executing runs.
	Workers int
	// EvalWorkers bounds the exact fitness workers within one generation.
	EvalWorkers int
	QueueSize   int
	Log         *slog.Logger
}

// Run is the handle of one optimization.
type Run struct {
	ID      string
	Method  string
	Request model.OptimizationRequest

	kind        Method
	problem     search.Problem
	config      search.Config
	state       state
	interrupted atomic.Bool

	mu      sync.Mutex
	stats   Statistics
	outcome *search.Outcome
	// incumbent is the best-known result of a single objective run still in progress.
	incumbent []alloc.Assignment
}

func (r *Run) Status() Status { return r.state.load() }

type Service struct {
	opts Options
	log  *slog.Logger

	mu   sync.RWMutex
	runs map[string]*Run

	// closed guards queue against sends after Close.
	closed bool
	queue  chan string

	pool *pool.Pool
	done chan struct{}
	base context.Context
	stop context.CancelFunc
}

func NewService(opts Options) *Service {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Store == nil {
		opts.Store = store.NewMemory()
	}
	if opts.Defaults.PopulationSize == 0 {
		opts.Defaults = search.Defaults()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	base, stop := context.WithCancel(context.Background())
	s := &Service{
		opts:  opts,
		log:   opts.Log,
		runs:  map[string]*Run{},
		queue: make(chan string, opts.QueueSize),
		pool:  pool.New().WithMaxGoroutines(opts.Workers),
		done:  make(chan struct{}),
		base:  base,
		stop:  stop,
	}
	go s.dispatch()
	return s
}

func (s *Service) dispatch() {
	defer close(s.done)
	for id := range s.queue {
		id := id
		s.pool.Go(func() {
			if _, err := s.Run(s.base, id); err != nil && !errors.Is(err, ErrInvalidState) {
				s.log.Warn("optimization failed", "optId", id, "error", err)
			}
		})
	}
	s.pool.Wait()
}

// Close interrupts running optimizations and waits for the pool to drain.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, r := range s.runs {
		r.interrupted.Store(true)
	}
	close(s.queue)
	s.mu.Unlock()
	<-s.done
	s.stop()
}

// Create builds and registers a run. A run registered under the same id is aborted
// and replaced.
func (s *Service) Create(ctx context.Context, req model.OptimizationRequest) (*Run, error) {
	if req.Method == "" {
		req.Method = "SINGLE_OBJECTIVE"
	}
	if req.FitnessMethod == "" {
		req.FitnessMethod = string(evaluation.ActualValues)
	}
	if req.Mode == "" {
		req.Mode = string(evaluation.NonPrivacyPreserving)
	}
	if req.OptID == "" {
		req.OptID = uuid.New().String()
	}
	method, err := lookupMethod(req.Method)
	if err != nil {
		return nil, err
	}
	mode := evaluation.Mode(req.Mode)
	cfg, err := decodeParameters(req.Parameters)
	if err != nil {
		return nil, err
	}
	cfg = cfg.WithDefaults(s.opts.Defaults)
	if err := search.Validate(cfg, method.Kind, mode); err != nil {
		return nil, err
	}
	m, err := BuildModel(req.Flights, req.Slots, method.Objectives)
	if err != nil {
		return nil, err
	}
	var oracle evaluation.Oracle
	if mode.Private() {
		if s.opts.Oracle == nil {
			return nil, fmt.Errorf("%w: mode %s needs a privacy engine and none is configured", ErrInvalidInput, mode)
		}
		oracle = s.opts.Oracle(req.OptID)
	}

	now := time.Now().UTC()
	r := &Run{
		ID:      req.OptID,
		Method:  req.Method,
		Request: req,
		kind:    method,
		config:  cfg,
		problem: search.Problem{
			Model:           m,
			Kind:            method.Kind,
			Method:          evaluation.Method(req.FitnessMethod),
			Mode:            mode,
			Oracle:          oracle,
			InitialSequence: req.InitialFlightSequence,
		},
		stats: Statistics{OptID: req.OptID, Method: req.Method, TimeCreated: now},
	}
	s.mu.Lock()
	if old, ok := s.runs[r.ID]; ok {
		s.log.Info("replacing optimization with duplicate id", "optId", r.ID, "status", old.Status())
		old.interrupted.Store(true)
	}
	s.runs[r.ID] = r
	s.mu.Unlock()

	if n := m.CheckFeasibility(); n > 0 {
		s.log.Warn("no assignment satisfies every scheduled time", "optId", r.ID, "unplaceable", n)
		r.mu.Lock()
		r.stats.UnplaceableFlights = n
		r.mu.Unlock()
	}
	r.state.transition(Created, Initialized)
	s.log.Info("optimization initialized", "optId", r.ID, "method", r.Method,
		"flights", m.NumFlights(), "slots", m.NumSlots())
	s.persist(ctx, r)

	if req.Start {
		if err := s.Start(r.ID); err != nil {
			return r, err
		}
	}
	return r, nil
}

func decodeParameters(raw json.RawMessage) (search.Config, error) {
	var cfg search.Config
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return cfg, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, &search.ConfigError{Field: "parameters", Value: string(raw), Reason: err.Error()}
	}
	return cfg, nil
}

func (s *Service) lookup(id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

// Start queues an initialized run on the worker pool.
func (s *Service) Start(id string) error {
	r, err := s.lookup(id)
	if err != nil {
		return err
	}
	if r.Status() != Initialized {
		return fmt.Errorf("%w: optimization %s is %s", ErrInvalidState, id, r.Status())
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("%w: service is shutting down", ErrInvalidState)
	}
	select {
	case s.queue <- id:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run executes an initialized run and blocks until it ends. An aborted run returns the
// best result found so far with a nil error.
func (s *Service) Run(ctx context.Context, id string) (*search.Outcome, error) {
	r, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if !r.state.transition(Initialized, Running) {
		return nil, fmt.Errorf("%w: optimization %s is %s", ErrInvalidState, id, r.Status())
	}
	start := time.Now().UTC()
	r.mu.Lock()
	r.stats.TimeStarted = &start
	r.mu.Unlock()
	metrics.RunsActive.Inc()
	defer metrics.RunsActive.Dec()
	s.persist(ctx, r)
	s.event(r, EventStatus, map[string]any{"status": Running.String()})

	log := s.log.With("optId", r.ID)
	objectives := r.kind.Objectives
	outcome, runErr := search.Run(ctx, r.problem, r.config, search.Hooks{
		Interrupted: &r.interrupted,
		Log:         log,
		Workers:     s.opts.EvalWorkers,
		Progress: func(p search.Progress) {
			r.mu.Lock()
			r.stats.progress(p, objectives)
			if len(p.Incumbent) > 0 {
				r.incumbent = p.Incumbent
			}
			r.mu.Unlock()
			metrics.Generations.WithLabelValues(r.Method).Inc()
			s.event(r, EventProgress, map[string]any{
				"generation": p.Generation,
				"best":       values(p.Best, objectives),
				"altered":    p.Altered,
				"elapsedMs":  p.Elapsed.Milliseconds(),
			})
		},
	})

	end := time.Now().UTC()
	final := Done
	if runErr != nil || r.interrupted.Load() || ctx.Err() != nil {
		final = Cancelled
	}
	r.mu.Lock()
	r.stats.TimeFinished = &end
	r.stats.Duration = end.Sub(start).Seconds()
	if outcome != nil {
		r.stats.finish(outcome, objectives)
		r.outcome = outcome
	}
	r.incumbent = nil
	if runErr != nil {
		r.stats.Error = runErr.Error()
	}
	if final == Cancelled && r.stats.TimeAborted == nil {
		r.stats.TimeAborted = &end
	}
	r.mu.Unlock()
	r.state.transition(Running, final)

	metrics.Runs.WithLabelValues(r.Method, final.String()).Inc()
	metrics.RunDuration.WithLabelValues(r.Method).Observe(end.Sub(start).Seconds())
	log.Info("optimization ended", "status", final, "duration", end.Sub(start), "error", runErr)

	post := context.WithoutCancel(ctx)
	s.persist(post, r)
	s.event(r, EventStatus, map[string]any{"status": final.String()})
	eventType := EventFinished
	switch {
	case runErr != nil:
		eventType = EventFailed
	case final == Cancelled:
		eventType = EventAborted
	}
	s.notify(post, eventType, r)
	return outcome, runErr
}

// Abort asks a run to stop after its current generation. An initialized run that never
// started is cancelled directly.
func (s *Service) Abort(id string) error {
	r, err := s.lookup(id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if r.state.transition(Initialized, Cancelled) {
		r.mu.Lock()
		r.stats.TimeAborted = &now
		r.mu.Unlock()
		s.persist(context.Background(), r)
		s.event(r, EventStatus, map[string]any{"status": Cancelled.String()})
		return nil
	}
	if r.Status() != Running {
		return fmt.Errorf("%w: optimization %s is %s", ErrInvalidState, id, r.Status())
	}
	r.mu.Lock()
	if r.stats.TimeAborted == nil {
		r.stats.TimeAborted = &now
	}
	r.mu.Unlock()
	r.interrupted.Store(true)
	s.log.Info("optimization abort requested", "optId", id)
	return nil
}

// Statistics returns a snapshot that is safe to read while the run executes.
func (s *Service) Statistics(id string) (Statistics, error) {
	r, err := s.lookup(id)
	if err != nil {
		return Statistics{}, err
	}
	return r.snapshot(), nil
}

func (r *Run) snapshot() Statistics {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.stats
	st.Status = r.Status()
	st.RequestTime = time.Now().UTC()
	if st.TimeStarted != nil && st.TimeFinished == nil {
		st.Duration = time.Since(*st.TimeStarted).Seconds()
	}
	return st
}

// Results returns up to limit solutions of a finished run, best first. A running single
// objective run returns its best-known intermediate result. A limit of zero or less
// returns all of them.
func (s *Service) Results(id string, limit int) ([]model.ResultOut, error) {
	r, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	outcome, incumbent := r.outcome, r.incumbent
	r.mu.Unlock()
	if outcome != nil {
		return resultsOf(r, outcome, limit), nil
	}
	if r.Status() == Running && len(incumbent) > 0 {
		return incumbentOf(r, incumbent, limit), nil
	}
	return nil, fmt.Errorf("%w: optimization %s has no results yet", ErrInvalidState, id)
}

// incumbentOf reports intermediate assignments. Exact fitness is only known outside the
// privacy preserving mode; there the assignments are ranked by it.
func incumbentOf(r *Run, as []alloc.Assignment, limit int) []model.ResultOut {
	m := r.problem.Model
	exact := !r.problem.Mode.Private()
	sols := make([]search.Solution, len(as))
	for i, a := range as {
		sols[i] = search.Solution{Assignment: a, Violations: m.Violations(a)}
		if exact {
			for k := 0; k < r.kind.Objectives; k++ {
				sols[i].Fitness[k] = m.Fitness(a, k)
			}
		}
	}
	if exact {
		sort.SliceStable(sols, func(i, j int) bool { return sols[i].Fitness[0] > sols[j].Fitness[0] })
	}
	if limit > 0 && len(sols) > limit {
		sols = sols[:limit]
	}
	out := make([]model.ResultOut, len(sols))
	for i, sol := range sols {
		out[i] = resultOut(r.ID, m, sol, r.kind.Objectives)
	}
	return out
}

func resultsOf(r *Run, o *search.Outcome, limit int) []model.ResultOut {
	sols := o.Results
	if len(sols) == 0 {
		sols = []search.Solution{o.Best}
	}
	if r.kind.Kind == evaluation.DualObjective {
		sols = append([]search.Solution{o.Best}, without(sols, o.Best)...)
	}
	if limit > 0 && len(sols) > limit {
		sols = sols[:limit]
	}
	m := r.problem.Model
	out := make([]model.ResultOut, len(sols))
	for i, sol := range sols {
		out[i] = resultOut(r.ID, m, sol, r.kind.Objectives)
	}
	return out
}

func without(sols []search.Solution, skip search.Solution) []search.Solution {
	key := skip.Assignment.Key()
	out := make([]search.Solution, 0, len(sols))
	for _, s := range sols {
		if s.Assignment.Key() != key {
			out = append(out, s)
		}
	}
	return out
}

// resultOut lists the flights in the time order of their slots.
func resultOut(id string, m *alloc.Model, sol search.Solution, objectives int) model.ResultOut {
	bySlot := make(map[int]int, len(sol.Assignment))
	for f, slot := range sol.Assignment {
		bySlot[slot] = f
	}
	out := model.ResultOut{OptID: id, Fitness: values(sol.Fitness, objectives), Violations: sol.Violations}
	for slot, sl := range m.Slots() {
		f, ok := bySlot[slot]
		if !ok {
			continue
		}
		out.OptimizedFlightSequence = append(out.OptimizedFlightSequence, m.Flights()[f].ID)
		out.SlotIDs = append(out.SlotIDs, sl.ID)
		out.Slots = append(out.Slots, sl.Time)
	}
	return out
}

// Get describes a registered run, falling back to the persisted record.
func (s *Service) Get(ctx context.Context, id string) (model.OptimizationOut, error) {
	if r, err := s.lookup(id); err == nil {
		st := r.snapshot()
		out := model.OptimizationOut{OptID: r.ID, Method: r.Method, Status: st.Status.String(), Error: st.Error, CreatedAt: st.TimeCreated, UpdatedAt: st.RequestTime}
		return out, nil
	}
	rec, err := s.opts.Store.GetRun(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.OptimizationOut{}, ErrNotFound
	}
	if err != nil {
		return model.OptimizationOut{}, err
	}
	return recordOut(rec), nil
}

// List pages through the persisted runs.
func (s *Service) List(ctx context.Context, cursor string, limit int) (model.List[model.OptimizationOut], error) {
	recs, next, err := s.opts.Store.ListRuns(ctx, cursor, limit)
	if err != nil {
		return model.List[model.OptimizationOut]{}, err
	}
	out := model.List[model.OptimizationOut]{Items: make([]model.OptimizationOut, len(recs)), NextCursor: next}
	for i, rec := range recs {
		out.Items[i] = recordOut(rec)
	}
	return out, nil
}

func recordOut(rec store.Run) model.OptimizationOut {
	return model.OptimizationOut{OptID: rec.ID, Method: rec.Method, Status: rec.Status, Error: rec.Error, CreatedAt: rec.CreatedAt, UpdatedAt: rec.UpdatedAt}
}

// Delete removes a run, aborting it first when it is running.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	r, ok := s.runs[id]
	delete(s.runs, id)
	s.mu.Unlock()
	if ok {
		r.interrupted.Store(true)
	}
	err := s.opts.Store.DeleteRun(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		if ok {
			return nil
		}
		return ErrNotFound
	}
	return err
}

func (s *Service) persist(ctx context.Context, r *Run) {
	s.mu.RLock()
	current := s.runs[r.ID] == r
	s.mu.RUnlock()
	if !current {
		return
	}
	st := r.snapshot()
	rec := store.Run{ID: r.ID, Method: r.Method, Status: st.Status.String(), Error: st.Error}
	var err error
	if rec.Request, err = json.Marshal(r.Request); err == nil {
		rec.Statistics, err = json.Marshal(st)
	}
	if err == nil && st.Status.Final() {
		r.mu.Lock()
		o := r.outcome
		r.mu.Unlock()
		if o != nil {
			rec.Results, err = json.Marshal(resultsOf(r, o, 0))
		}
	}
	if err != nil {
		s.log.Error("encode optimization record", "optId", r.ID, "error", err)
		return
	}
	if err := s.opts.Store.SaveRun(ctx, rec); err != nil {
		s.log.Warn("persist optimization", "optId", r.ID, "error", err)
	}
}

func (s *Service) event(r *Run, eventType string, data map[string]any) {
	if s.opts.Events != nil {
		s.opts.Events(r.ID, eventType, data)
	}
}

func (s *Service) notify(ctx context.Context, eventType string, r *Run) {
	st := r.snapshot()
	data := map[string]any{
		"optId":         r.ID,
		"method":        r.Method,
		"status":        st.Status.String(),
		"iterations":    st.Iterations,
		"resultFitness": st.ResultFitness,
	}
	if st.Error != "" {
		data["error"] = st.Error
	}
	for _, n := range s.opts.Notifiers {
		n.Emit(ctx, eventType, data)
	}
}
