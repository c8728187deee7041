package opt

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Engine is a generational genetic algorithm over slot permutations. Fitness is
// maximised; multi objective selectors read both fitness values.
type Engine struct {
	Evaluator         Evaluator
	Genes             int // genotype length
	Size              int // population size
	OffspringFraction float64
	MaxAge            int // phenotypes older than this are replaced

	Mutator           Mutator
	MutationRate      float64
	Crossover         Crossover
	CrossoverRate     float64
	OffspringSelector Selector
	SurvivorSelector  Selector

	// Unique replaces duplicate genotypes of a generation the evaluator declined,
	// trying up to MaxRetries random genotypes per duplicate.
	Unique     bool
	MaxRetries int

	Observer func(*Generation)
	Rng      *rand.Rand
}

type Result struct {
	Population  []Phenotype
	Best        Phenotype
	Generations int
	Altered     int
	Elapsed     time.Duration
}

// Run evolves the initial genotypes, padded with random ones, until limit stops or ctx
// is done. An evaluation error aborts the run unless ctx was cancelled, in which case
// the best result so far is returned.
func (e *Engine) Run(ctx context.Context, initial []Genotype, limit Limit) (Result, error) {
	if e.Evaluator == nil || e.Size <= 0 || e.Genes <= 0 {
		return Result{}, errors.New("opt: engine needs an evaluator, a population size and a genotype length")
	}
	if e.Rng == nil {
		e.Rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	start := time.Now()
	pop := make([]Phenotype, 0, e.Size)
	for _, g := range initial {
		if len(pop) == e.Size {
			break
		}
		if len(g) != e.Genes {
			return Result{}, fmt.Errorf("opt: initial genotype has %d genes, want %d", len(g), e.Genes)
		}
		pop = append(pop, Phenotype{Genotype: g.Clone(), Generation: 1})
	}
	for len(pop) < e.Size {
		pop = append(pop, Phenotype{Genotype: e.random(), Generation: 1})
	}

	pop, err := e.evaluate(ctx, pop, 1)
	if err != nil {
		return Result{}, err
	}
	gen := e.summarise(1, pop, 0, start)
	res := Result{Population: pop, Best: gen.Best, Generations: 1}
	for limit == nil || limit(gen) {
		if ctx.Err() != nil {
			break
		}
		n := gen.Number + 1
		next, altered := e.breed(pop, n)
		next, err = e.evaluate(ctx, next, n)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return res, err
		}
		pop = next
		res.Altered += altered
		gen = e.summarise(n, pop, altered, start)
		res.Population, res.Generations = pop, n
		if gen.Best.Fitness[0] > res.Best.Fitness[0] {
			res.Best = gen.Best
		}
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

func (e *Engine) evaluate(ctx context.Context, pop []Phenotype, n int) ([]Phenotype, error) {
	out, err := e.Evaluator.Evaluate(ctx, pop)
	if err != nil {
		return nil, err
	}
	if !allEvaluated(out) {
		if e.Unique {
			out = e.unique(out, n)
		}
		if out, err = e.Evaluator.Evaluate(ctx, out); err != nil {
			return nil, err
		}
	}
	if len(out) != len(pop) {
		return nil, fmt.Errorf("opt: evaluator returned %d phenotypes for %d", len(out), len(pop))
	}
	return out, nil
}

// unique swaps repeated genotypes for fresh random ones.
func (e *Engine) unique(pop []Phenotype, n int) []Phenotype {
	out := append([]Phenotype(nil), pop...)
	seen := make(map[string]bool, len(out))
	for i := range out {
		k := out[i].Genotype.Key()
		if !seen[k] {
			seen[k] = true
			continue
		}
		for try := 0; try < max(e.MaxRetries, 1); try++ {
			g := e.random()
			if gk := g.Key(); !seen[gk] {
				seen[gk] = true
				out[i] = Phenotype{Genotype: g, Generation: n}
				break
			}
		}
	}
	return out
}

// breed selects survivors and offspring, alters the offspring and replaces phenotypes
// past the maximal age.
func (e *Engine) breed(pop []Phenotype, n int) ([]Phenotype, int) {
	offCount := int(math.Round(float64(e.Size) * e.OffspringFraction))
	offCount = max(0, min(offCount, e.Size))
	offspring := e.OffspringSelector.Select(pop, offCount, e.Rng)
	survivors := e.SurvivorSelector.Select(pop, e.Size-offCount, e.Rng)

	altered := 0
	if e.Crossover != nil {
		for i := 0; i+1 < len(offspring); i += 2 {
			if e.Rng.Float64() >= e.CrossoverRate {
				continue
			}
			a, b := offspring[i].Genotype.Clone(), offspring[i+1].Genotype.Clone()
			if c := e.Crossover.Cross(a, b, e.Rng); c > 0 {
				altered += c
				offspring[i] = Phenotype{Genotype: a, Generation: n}
				offspring[i+1] = Phenotype{Genotype: b, Generation: n}
			}
		}
	}
	if e.Mutator != nil {
		for i := range offspring {
			if e.Rng.Float64() >= e.MutationRate {
				continue
			}
			g := offspring[i].Genotype.Clone()
			if c := e.Mutator.Mutate(g, e.Rng); c > 0 {
				altered += c
				offspring[i] = Phenotype{Genotype: g, Generation: n}
			}
		}
	}

	next := append(offspring, survivors...)
	for i := range next {
		if e.MaxAge > 0 && n-next[i].Generation > e.MaxAge {
			next[i] = Phenotype{Genotype: e.random(), Generation: n}
		}
	}
	return next, altered
}

func (e *Engine) random() Genotype {
	return Genotype(e.Rng.Perm(e.Genes))
}

func (e *Engine) summarise(n int, pop []Phenotype, altered int, start time.Time) *Generation {
	g := &Generation{Number: n, Population: pop, Altered: altered, Elapsed: time.Since(start)}
	g.Best, g.Worst = pop[0], pop[0]
	for _, p := range pop[1:] {
		if p.Fitness[0] > g.Best.Fitness[0] {
			g.Best = p
		}
		if p.Fitness[0] < g.Worst.Fitness[0] {
			g.Worst = p
		}
	}
	if e.Observer != nil {
		e.Observer(g)
	}
	return g
}

func allEvaluated(pop []Phenotype) bool {
	for _, p := range pop {
		if !p.Evaluated {
			return false
		}
	}
	return true
}
