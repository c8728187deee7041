package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync/atomic"
	"time"

	"slotopt/internal/alloc"
	"slotopt/internal/assign"
	"slotopt/internal/estimate"
	"slotopt/internal/evaluation"
	"slotopt/internal/opt"
	"slotopt/internal/pareto"
)

// maxParetoSet bounds the Pareto set collected over a dual objective run.
const maxParetoSet = 100

type Problem struct {
	Model  *alloc.Model
	Kind   evaluation.Kind
	Method evaluation.Method
	Mode   evaluation.Mode
	Oracle evaluation.Oracle
	// InitialSequence lists flight ids in slot order; it only feeds the initial fitness.
	InitialSequence []string
}

// Progress is reported once per evaluated generation.
type Progress struct {
	Generation int
	Best       opt.Fitness
	Altered    int
	Elapsed    time.Duration
	Counters   evaluation.Counters
	Maximum    [2]float64
	// Incumbent holds the distinct assignments of the generation that last reached
	// Maximum. It is only set for single objective searches and must not be modified.
	Incumbent []alloc.Assignment
}

type Hooks struct {
	Interrupted *atomic.Bool
	Progress    func(Progress)
	Log         *slog.Logger
	Workers     int
}

type Solution struct {
	Assignment alloc.Assignment
	Fitness    opt.Fitness
	Violations int
}

// Outcome is the result of one search.
type Outcome struct {
	Kind        evaluation.Kind
	Best        Solution
	Results     []Solution
	Generations int
	Altered     int
	Elapsed     time.Duration

	InitialFitness *opt.Fitness
	TheoreticalMax []float64
	EstimatedFront [][2]float64
	ParetoFront    [][2]float64
	SelectedPoint  *[2]float64
	BalanceRatio   *float64

	Maximum        [2]float64
	Counters       evaluation.Counters
	Trace          []evaluation.TracePoint
	Infeasible     int
	InvalidResults int
}

// Run searches p with cfg. Configuration problems are returned as *ConfigError before
// the first generation. A cancelled ctx or a set Interrupted flag ends the search
// after the current generation with the best result so far.
func Run(ctx context.Context, p Problem, cfg Config, hooks Hooks) (*Outcome, error) {
	log := hooks.Log
	if log == nil {
		log = slog.Default()
	}
	m := p.Model
	cfg = cfg.WithDefaults(Defaults())

	mut, err := mutator(cfg.Mutator)
	if err != nil {
		return nil, err
	}
	cross, err := crossover(cfg.Crossover)
	if err != nil {
		return nil, err
	}
	offspring, err := selector("offspringSelector", cfg.OffspringSelector, cfg.OffspringSelectorParameter, p.Kind)
	if err != nil {
		return nil, err
	}
	survivors, err := selector("survivorsSelector", cfg.SurvivorsSelector, cfg.SurvivorsSelectorParameter, p.Kind)
	if err != nil {
		return nil, err
	}
	var est estimate.Estimator
	if cfg.FitnessEstimator != "" {
		if est, err = estimate.Lookup(cfg.FitnessEstimator); err != nil {
			return nil, &ConfigError{Field: "fitnessEstimator", Value: cfg.FitnessEstimator, Reason: err.Error()}
		}
	}

	out := &Outcome{Kind: p.Kind, Infeasible: m.CheckFeasibility()}
	if out.Infeasible > 0 {
		log.Warn("no assignment satisfies every scheduled time", "unplaceable", out.Infeasible)
	}
	theoretical := math.NaN()
	if p.Mode.Reference() {
		out.TheoreticalMax = assign.TheoreticalMaxima(m)
		theoretical = out.TheoreticalMax[0]
		if p.Kind != evaluation.SingleObjective {
			out.EstimatedFront = assign.EstimateFront(m, assign.DefaultGranularity)
		}
	}
	lim, err := limit(cfg.TerminationConditions, theoretical, hooks.Interrupted)
	if err != nil {
		return nil, err
	}
	pipe, err := evaluation.New(evaluation.Config{
		Kind:             p.Kind,
		Method:           p.Method,
		Mode:             p.Mode,
		Estimator:        est,
		Precision:        cfg.FitnessPrecision,
		Deduplicate:      cfg.Deduplicates(),
		TrackDuplicates:  cfg.TrackDuplicates,
		UseActualFitness: cfg.UseActualFitness,
		SecondObfuscated: cfg.SecondObfuscated,
		TraceEvolution:   cfg.TraceEvolution,
		TheoreticalMax:   out.TheoreticalMax,
		Workers:          hooks.Workers,
	}, m, p.Oracle, log)
	if err != nil {
		return nil, &ConfigError{Field: "fitnessMethod", Value: p.Method, Reason: err.Error()}
	}

	if !p.Mode.Private() && len(p.InitialSequence) > 0 {
		if a, err := m.FromSequence(p.InitialSequence); err != nil {
			log.Warn("initial flight sequence ignored", "err", err)
		} else {
			f := exact(m, a)
			out.InitialFitness = &f
		}
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	acc := evaluation.NewAccumulator()
	set := &paretoSet{}
	engine := &opt.Engine{
		Evaluator:         pipe.Bind(acc),
		Genes:             m.NumSlots(),
		Size:              cfg.PopulationSize,
		OffspringFraction: cfg.OffspringFraction,
		MaxAge:            cfg.MaximalPhenotypeAge,
		Mutator:           mut,
		MutationRate:      cfg.MutatorAlterProbability,
		Crossover:         cross,
		CrossoverRate:     cfg.CrossoverAlterProbability,
		OffspringSelector: offspring,
		SurvivorSelector:  survivors,
		Unique:            cfg.Deduplicates(),
		MaxRetries:        cfg.DeduplicateMaxRetries,
		Rng:               rand.New(rand.NewSource(seed)),
		Observer: func(g *opt.Generation) {
			if p.Kind == evaluation.DualObjective {
				set.add(g.Population)
			}
			if hooks.Progress != nil {
				hooks.Progress(Progress{
					Generation: g.Number,
					Best:       g.Best.Fitness,
					Altered:    g.Altered,
					Elapsed:    g.Elapsed,
					Counters:   acc.Counters,
					Maximum:    acc.Maximum,
					Incumbent:  acc.Results,
				})
			}
		},
	}

	log.Info("search started", "kind", p.Kind, "method", p.Method, "mode", p.Mode,
		"flights", m.NumFlights(), "slots", m.NumSlots(), "population", cfg.PopulationSize)
	res, err := engine.Run(ctx, InitialPopulation(m, cfg.PopulationSize), lim)
	if err != nil {
		return nil, err
	}
	out.Generations, out.Altered, out.Elapsed = res.Generations, res.Altered, res.Elapsed

	// Post-processing may still need the privacy engine after a cancellation.
	post := context.WithoutCancel(ctx)
	switch p.Kind {
	case evaluation.SingleObjective:
		err = finishSingle(post, p, res, out, log)
	case evaluation.DualObjective:
		err = finishDual(p, set.members, out)
	case evaluation.AggregatedObjective:
		err = finishAggregated(post, p, res, out, log)
	}
	if err != nil {
		return nil, err
	}
	out.Maximum, out.Counters, out.Trace = acc.Maximum, acc.Counters, acc.Trace
	if p.Kind == evaluation.AggregatedObjective {
		out.ParetoFront = acc.Front
	}
	log.Info("search finished", "generations", out.Generations, "best", out.Best.Fitness, "elapsed", out.Elapsed)
	return out, nil
}

// finishSingle drops invalid phenotypes and re-evaluates the rest with actual values.
func finishSingle(ctx context.Context, p Problem, res opt.Result, out *Outcome, log *slog.Logger) error {
	valid := validOf(p.Model, withBest(res), out, log, res.Best)
	if valid[0].Fitness[0] > 0 && !(p.Mode.Private() && p.Method == evaluation.ActualValues) {
		vals, err := actualValues(ctx, p, valid, 0)
		if err != nil {
			return err
		}
		for i := range valid {
			valid[i].Fitness = opt.Fitness{vals[i]}
		}
		sortDescending(valid)
	}
	out.Results = solutions(p.Model, valid)
	out.Best = out.Results[0]
	return nil
}

// finishDual selects the trade-off point of the collected Pareto set.
func finishDual(p Problem, members []opt.Phenotype, out *Outcome) error {
	if len(members) == 0 {
		return fmt.Errorf("search: no evaluated generation")
	}
	sorted := append([]opt.Phenotype(nil), members...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Fitness[0] > sorted[j].Fitness[0] })
	points := make([][2]float64, len(sorted))
	for i, ph := range sorted {
		points[i] = ph.Fitness
	}
	out.ParetoFront = pareto.Distinct(points)
	out.Results = solutions(p.Model, sorted)
	sel := sorted[pareto.SelectTradeOff(points)]
	out.Best = Solution{Assignment: p.Model.Decode(sel.Genotype), Fitness: sel.Fitness}
	out.Best.Violations = p.Model.Violations(out.Best.Assignment)
	reference(out, sel.Fitness)
	return nil
}

// finishAggregated reports the exact objective pair of the best aggregated phenotypes.
func finishAggregated(ctx context.Context, p Problem, res opt.Result, out *Outcome, log *slog.Logger) error {
	valid := validOf(p.Model, res.Population, out, log, res.Best)
	v0, err := actualValues(ctx, p, valid, 0)
	if err != nil {
		return err
	}
	v1, err := actualValues(ctx, p, valid, 1)
	if err != nil {
		return err
	}
	for i := range valid {
		valid[i].Fitness = opt.Fitness{v0[i], v1[i]}
	}
	out.Results = solutions(p.Model, valid)
	out.Best = out.Results[0]
	reference(out, out.Best.Fitness)
	return nil
}

// reference derives the balance ratio and moves the theoretical maximum to the nearest
// estimated front point dominating the selected point.
func reference(out *Outcome, point [2]float64) {
	out.SelectedPoint = &point
	if len(out.TheoreticalMax) < 2 {
		return
	}
	r := pareto.BalanceRatio(point, [2]float64{out.TheoreticalMax[0], out.TheoreticalMax[1]})
	out.BalanceRatio = &r
	if len(out.EstimatedFront) > 0 {
		near := pareto.NearestDominating(out.EstimatedFront, point)
		out.TheoreticalMax = []float64{near[0], near[1]}
	}
}

// withBest returns the final population plus the best phenotype seen in the run.
func withBest(res opt.Result) []opt.Phenotype {
	pop := append([]opt.Phenotype(nil), res.Population...)
	key := res.Best.Genotype.Key()
	for _, ph := range pop {
		if ph.Genotype.Key() == key {
			return pop
		}
	}
	return append(pop, res.Best)
}

// validOf keeps the phenotypes without scheduled time violations, sorted descending.
// When none is valid the fallback is returned alone.
func validOf(m *alloc.Model, pop []opt.Phenotype, out *Outcome, log *slog.Logger, fallback opt.Phenotype) []opt.Phenotype {
	var valid []opt.Phenotype
	for _, ph := range pop {
		if m.Violations(m.Decode(ph.Genotype)) > 0 {
			out.InvalidResults++
			continue
		}
		valid = append(valid, ph)
	}
	if len(valid) == 0 {
		log.Warn("no valid solution left, returning an invalid one")
		valid = []opt.Phenotype{fallback}
	}
	sortDescending(valid)
	return valid
}

func actualValues(ctx context.Context, p Problem, pop []opt.Phenotype, k int) ([]float64, error) {
	vals := make([]float64, len(pop))
	if !p.Mode.Private() {
		for i, ph := range pop {
			vals[i] = p.Model.Fitness(p.Model.Decode(ph.Genotype), k)
		}
		return vals, nil
	}
	enc := make([][]int, len(pop))
	for i, ph := range pop {
		enc[i] = alloc.RankEncode(p.Model.Decode(ph.Genotype))
	}
	vals, err := p.Oracle.ActualValues(ctx, k, enc)
	if err != nil {
		return nil, fmt.Errorf("actual values of final population: %w", err)
	}
	if len(vals) != len(pop) {
		return nil, fmt.Errorf("privacy engine returned %d actual values for %d individuals", len(vals), len(pop))
	}
	return vals, nil
}

// solutions decodes distinct genotypes in order.
func solutions(m *alloc.Model, pop []opt.Phenotype) []Solution {
	seen := make(map[string]bool, len(pop))
	out := make([]Solution, 0, len(pop))
	for _, ph := range pop {
		k := ph.Genotype.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		a := m.Decode(ph.Genotype)
		out = append(out, Solution{Assignment: a, Fitness: ph.Fitness, Violations: m.Violations(a)})
	}
	return out
}

func exact(m *alloc.Model, a alloc.Assignment) opt.Fitness {
	var f opt.Fitness
	for k := 0; k < m.Objectives(); k++ {
		f[k] = m.Fitness(a, k)
	}
	return f
}

func sortDescending(pop []opt.Phenotype) {
	sort.SliceStable(pop, func(i, j int) bool { return pop[i].Fitness[0] > pop[j].Fitness[0] })
}

// paretoSet keeps the non-dominated phenotypes seen over all generations.
type paretoSet struct {
	members []opt.Phenotype
}

func (s *paretoSet) add(pop []opt.Phenotype) {
	all := append(append([]opt.Phenotype(nil), s.members...), pop...)
	points := make([][2]float64, len(all))
	for i, ph := range all {
		points[i] = ph.Fitness
	}
	seen := make(map[string]bool)
	var next []opt.Phenotype
	for _, i := range pareto.Front(points) {
		k := all[i].Genotype.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		next = append(next, all[i])
	}
	if len(next) > maxParetoSet {
		next = opt.NSGA2{}.Select(next, maxParetoSet, nil)
	}
	s.members = next
}
