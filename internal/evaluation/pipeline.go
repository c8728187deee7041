package evaluation

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"

	"github.com/sourcegraph/conc/pool"

	"slotopt/internal/alloc"
	"slotopt/internal/assign"
	"slotopt/internal/opt"
	"slotopt/internal/pareto"
)

// Unevaluated is the placeholder fitness of a generation skipped for duplicates.
const Unevaluated = -1.0

// Pipeline evaluates the generations of one run. It must not be shared between runs.
type Pipeline struct {
	cfg       Config
	model     *alloc.Model
	oracle    Oracle
	log       *slog.Logger
	useActual bool
}

func New(cfg Config, model *alloc.Model, oracle Oracle, log *slog.Logger) (*Pipeline, error) {
	if err := cfg.validate(model.Objectives(), oracle); err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		cfg:       cfg,
		model:     model,
		oracle:    oracle,
		log:       log,
		useActual: cfg.UseActualFitness || cfg.Method == ActualValues,
	}, nil
}

func (p *Pipeline) Config() Config { return p.cfg }

// Bind returns an engine evaluator writing into acc.
func (p *Pipeline) Bind(acc *Accumulator) opt.Evaluator {
	return opt.EvaluatorFunc(func(ctx context.Context, pop []opt.Phenotype) ([]opt.Phenotype, error) {
		return p.Evaluate(ctx, acc, pop)
	})
}

// Evaluate runs the duplicate gate, the configured strategy, devaluation and the
// statistics update for one generation. The result has the size of pop and is sorted
// by the first objective, descending.
func (p *Pipeline) Evaluate(ctx context.Context, acc *Accumulator, pop []opt.Phenotype) ([]opt.Phenotype, error) {
	if len(pop) == 0 {
		return nil, nil
	}
	acc.Counters.Generations++
	gen := opt.MaxGeneration(pop)
	if p.cfg.Deduplicate && p.skip(acc, pop, gen) {
		out := make([]opt.Phenotype, len(pop))
		for i, ph := range pop {
			ph.Fitness = opt.Fitness{Unevaluated, Unevaluated}
			ph.Evaluated = false
			out[i] = ph
		}
		return out, nil
	}
	acc.Counters.GenerationsEvaluated++

	var step *TracePoint
	if p.cfg.TraceEvolution {
		acc.Trace = append(acc.Trace, TracePoint{Generation: gen})
		step = &acc.Trace[len(acc.Trace)-1]
	}

	var (
		out []opt.Phenotype
		err error
	)
	switch p.cfg.Kind {
	case SingleObjective:
		out, err = p.evaluateSingle(ctx, acc, pop, step)
	case DualObjective:
		out, err = p.evaluateDual(ctx, acc, pop, step)
	case AggregatedObjective:
		out, err = p.evaluateAggregated(ctx, acc, pop, step)
	}
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Evaluated = true
	}
	p.log.Debug("generation evaluated", "generation", gen, "size", len(out), "best", out[0].Fitness[0])
	return out, nil
}

// skip implements the duplicate gate. A generation holding duplicates is returned
// unevaluated the first time it is seen; the engine is expected to replace the
// duplicates and resubmit it.
func (p *Pipeline) skip(acc *Accumulator, pop []opt.Phenotype, gen int) bool {
	if gen == acc.latestUnevaluated && !p.cfg.TrackDuplicates {
		return false
	}
	dups := Duplicates(pop)
	if dups > 0 && gen != acc.latestUnevaluated {
		acc.Counters.GenerationsUnevaluated++
		acc.Counters.InitialDuplicates += int64(dups)
		acc.latestUnevaluated = gen
		p.log.Debug("generation holds duplicates, returned unevaluated", "generation", gen, "duplicates", dups)
		return true
	}
	acc.Counters.RemainingDuplicates += int64(dups)
	if dups > 0 {
		acc.Counters.GenerationsDuplicatesNotEliminated++
	}
	return false
}

// Duplicates counts genotypes that repeat an earlier member of pop.
func Duplicates(pop []opt.Phenotype) int {
	seen := make(map[string]bool, len(pop))
	n := 0
	for _, ph := range pop {
		k := ph.Genotype.Key()
		if seen[k] {
			n++
			continue
		}
		seen[k] = true
	}
	return n
}

// devalue overwrites the fitness of constraint violating candidates with
// violations*Devaluation on every objective and re-sorts the population.
func (p *Pipeline) devalue(acc *Accumulator, pop []opt.Phenotype, objectives int) []opt.Phenotype {
	for i := range pop {
		acc.Counters.Phenotypes++
		v := p.model.Violations(p.model.Decode(pop[i].Genotype))
		if v == 0 {
			continue
		}
		acc.Counters.InvalidPhenotypes++
		acc.Counters.InvalidAssignments += int64(v)
		for k := 0; k < objectives; k++ {
			pop[i].Fitness[k] = float64(v) * assign.Devaluation
		}
	}
	sortBy(pop, 0)
	return pop
}

// exact computes the true objective values of every candidate concurrently.
func (p *Pipeline) exact(acc *Accumulator, pop []opt.Phenotype) []opt.Phenotype {
	out := make([]opt.Phenotype, len(pop))
	workers := pool.New().WithMaxGoroutines(p.cfg.Workers)
	for i := range pop {
		i := i
		workers.Go(func() {
			ph := pop[i]
			a := p.model.Decode(ph.Genotype)
			for k := 0; k < p.model.Objectives(); k++ {
				ph.Fitness[k] = p.model.Fitness(a, k)
			}
			out[i] = ph
		})
	}
	workers.Wait()
	acc.Counters.FitnessInvocations += int64(len(pop))
	return out
}

// encode converts a population to the privacy engine representation.
func (p *Pipeline) encode(acc *Accumulator, pop []opt.Phenotype) [][]int {
	out := make([][]int, len(pop))
	for i, ph := range pop {
		out[i] = alloc.RankEncode(p.model.Decode(ph.Genotype))
	}
	acc.Counters.FitnessInvocations += int64(len(pop))
	return out
}

func (p *Pipeline) decodeDistinct(pop []opt.Phenotype) []alloc.Assignment {
	seen := make(map[string]bool, len(pop))
	var out []alloc.Assignment
	for _, ph := range pop {
		k := ph.Genotype.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, p.model.Decode(ph.Genotype))
	}
	return out
}

func sortBy(pop []opt.Phenotype, k int) {
	sort.SliceStable(pop, func(i, j int) bool { return pop[i].Fitness[k] > pop[j].Fitness[k] })
}

func fitnesses(pop []opt.Phenotype) []opt.Fitness {
	out := make([]opt.Fitness, len(pop))
	for i, ph := range pop {
		out[i] = ph.Fitness
	}
	return out
}

// frontOf keeps the trace entries no other entry dominates.
func frontOf(values []opt.Fitness) []opt.Fitness {
	pts := make([][2]float64, len(values))
	for i, v := range values {
		pts[i] = v
	}
	var out []opt.Fitness
	for _, i := range pareto.Front(pts) {
		out = append(out, values[i])
	}
	return out
}

func checkPermutation(order []int, n int) error {
	if len(order) != n {
		return fmt.Errorf("order has %d entries for %d individuals", len(order), n)
	}
	seen := make([]bool, n)
	for _, i := range order {
		if i < 0 || i >= n || seen[i] {
			return fmt.Errorf("order is not a permutation of the population")
		}
		seen[i] = true
	}
	return nil
}
