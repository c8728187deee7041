package runs

import (
	"math"
	"time"

	"slotopt/internal/evaluation"
	"slotopt/internal/opt"
	"slotopt/internal/search"
)

// Statistics is a point in time view of a run.
type Statistics struct {
	OptID       string     `json:"optId"`
	Method      string     `json:"method"`
	Status      Status     `json:"status"`
	RequestTime time.Time  `json:"requestTime"`
	TimeCreated time.Time  `json:"timeCreated"`
	TimeStarted *time.Time `json:"timeStarted,omitempty"`
	// TimeFinished is set for completed and for aborted runs.
	TimeFinished *time.Time `json:"timeFinished,omitempty"`
	TimeAborted  *time.Time `json:"timeAborted,omitempty"`
	Duration     float64    `json:"durationSeconds"`

	Iterations         int   `json:"iterations"`
	FitnessInvocations int64 `json:"fitnessFunctionInvocations"`

	InitialFitness     []float64 `json:"initialFitness,omitempty"`
	ResultFitness      []float64 `json:"resultFitness,omitempty"`
	MaximumFitness     []float64 `json:"maximumFitness,omitempty"`
	TheoreticalFitness []float64 `json:"theoreticalMaximumFitness,omitempty"`

	Counters         evaluation.Counters     `json:"counters"`
	FitnessEvolution []evaluation.TracePoint `json:"fitnessEvolution,omitempty"`

	EstimatedParetoFront [][2]float64 `json:"estimatedParetoFront,omitempty"`
	OptimizedParetoFront [][2]float64 `json:"optimizedParetoFront,omitempty"`
	SelectedPoint        []float64    `json:"selectedPoint,omitempty"`
	BalanceRatio         *float64     `json:"balanceRatio,omitempty"`

	UnplaceableFlights int    `json:"unplaceableFlights"`
	InvalidResults     int    `json:"invalidResults"`
	Error              string `json:"error,omitempty"`
}

// progress folds one generation into the statistics.
func (s *Statistics) progress(p search.Progress, objectives int) {
	s.Iterations = p.Generation
	s.Counters = p.Counters
	s.FitnessInvocations = p.Counters.FitnessInvocations
	if v := values(p.Maximum, objectives); v != nil {
		s.MaximumFitness = v
	}
}

// finish copies the outcome of a completed search.
func (s *Statistics) finish(o *search.Outcome, objectives int) {
	s.Iterations = o.Generations
	s.Counters = o.Counters
	s.FitnessInvocations = o.Counters.FitnessInvocations
	s.ResultFitness = values(o.Best.Fitness, objectives)
	if v := values(o.Maximum, objectives); v != nil {
		s.MaximumFitness = v
	}
	if o.InitialFitness != nil {
		s.InitialFitness = values(*o.InitialFitness, objectives)
	}
	s.TheoreticalFitness = o.TheoreticalMax
	s.FitnessEvolution = o.Trace
	s.EstimatedParetoFront = o.EstimatedFront
	s.OptimizedParetoFront = o.ParetoFront
	if o.SelectedPoint != nil {
		s.SelectedPoint = values(*o.SelectedPoint, 2)
	}
	if o.BalanceRatio != nil && !math.IsNaN(*o.BalanceRatio) && !math.IsInf(*o.BalanceRatio, 0) {
		r := *o.BalanceRatio
		s.BalanceRatio = &r
	}
	s.UnplaceableFlights = o.Infeasible
	s.InvalidResults = o.InvalidResults
}

// values returns the first n entries of f, or nil when one of them is not finite.
func values(f opt.Fitness, n int) []float64 {
	out := make([]float64, 0, n)
	for _, v := range f[:n] {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		out = append(out, v)
	}
	return out
}
