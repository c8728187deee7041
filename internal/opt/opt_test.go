package opt

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync/atomic"
	"testing"
	"time"
)

func isPermutation(g Genotype) bool {
	s := append([]int(nil), g...)
	sort.Ints(s)
	for i, v := range s {
		if v != i {
			return false
		}
	}
	return true
}

func TestMutatorsKeepPermutation(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	mutators := map[string]Mutator{
		"swap":    Swap{},
		"reverse": ReverseSequence{},
		"shift":   Shift{},
		"arb":     Arbitrary{},
		"hybrid":  HybridSwapReverse{SwapShare: 0.5},
	}
	for name, m := range mutators {
		for i := 0; i < 200; i++ {
			g := Genotype(rng.Perm(8))
			m.Mutate(g, rng)
			if !isPermutation(g) {
				t.Fatalf("%s broke permutation: %v", name, g)
			}
		}
	}
}

func TestCutsAreDistinct(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 500; i++ {
		c := cuts(3, 3, rng)
		for j := 1; j < len(c); j++ {
			if c[j] <= c[j-1] {
				t.Fatalf("cuts %v not strictly increasing", c)
			}
		}
		if c[0] < 0 || c[2] > 3 {
			t.Fatalf("cuts %v out of range", c)
		}
	}
}

func TestSegmentMutatorsAlwaysAlter(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 200; i++ {
		g := Genotype(rng.Perm(10))
		before := g.Clone()
		if n := (Shift{}).Mutate(g, rng); n <= 0 {
			t.Fatalf("shift altered %d positions", n)
		}
		same := true
		for j := range g {
			if g[j] != before[j] {
				same = false
			}
		}
		if same {
			t.Fatalf("shift left %v unchanged", g)
		}
		if n := (Arbitrary{}).Mutate(g, rng); n <= 0 {
			t.Fatalf("arbitrary picked an empty segment")
		}
	}
	// the shortest genotype still has room for three distinct cuts
	g := Genotype{0, 1}
	if n := (Shift{}).Mutate(g, rand.New(rand.NewSource(1))); n <= 0 || g[0] != 1 {
		t.Fatalf("shift on two positions: %d %v", n, g)
	}
}

func TestCrossoversKeepPermutation(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for name, c := range map[string]Crossover{"pmx": PartiallyMatched{}, "uob": UniformOrderBased{}} {
		for i := 0; i < 200; i++ {
			a, b := Genotype(rng.Perm(9)), Genotype(rng.Perm(9))
			c.Cross(a, b, rng)
			if !isPermutation(a) || !isPermutation(b) {
				t.Fatalf("%s broke permutation: %v %v", name, a, b)
			}
		}
	}
}

func population(values ...float64) []Phenotype {
	pop := make([]Phenotype, len(values))
	for i, v := range values {
		pop[i] = Phenotype{Genotype: Genotype{i}, Fitness: Fitness{v, -v}, Evaluated: true}
	}
	return pop
}

func TestSelectorsReturnRequestedCount(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	pop := population(1, 5, 3, 9, -2, 4)
	selectors := map[string]Selector{
		"tournament": Tournament{Size: 3},
		"truncation": Truncation{},
		"roulette":   RouletteWheel{},
		"sus":        StochasticUniversal{},
		"linear":     LinearRank{NMinus: 0.5},
		"exp":        ExponentialRank{C: 0.9},
		"boltzmann":  Boltzmann{Beta: 0.5},
		"pareto":     ParetoTournament{},
		"utility":    UtilityTournament{Size: 2},
		"nsga2":      NSGA2{},
		"spea2":      NewSPEA2(4),
	}
	for name, s := range selectors {
		if got := s.Select(pop, 10, rng); len(got) != 10 {
			t.Fatalf("%s returned %d, want 10", name, len(got))
		}
	}
}

func TestTruncationTakesBest(t *testing.T) {
	got := Truncation{}.Select(population(1, 5, 3, 9), 2, nil)
	if got[0].Fitness[0] != 9 || got[1].Fitness[0] != 5 {
		t.Fatalf("unexpected truncation %v", got)
	}
}

func TestLimits(t *testing.T) {
	if ByFixedGeneration(3)(&Generation{Number: 3}) {
		t.Fatal("fixed generation should stop at 3")
	}
	if !ByExecutionTime(time.Second)(&Generation{Elapsed: time.Millisecond}) {
		t.Fatal("execution time stopped early")
	}
	if ByFitnessThreshold(10)(&Generation{Best: Phenotype{Fitness: Fitness{10}}}) {
		t.Fatal("threshold reached but continued")
	}
	steady := BySteadyFitness(2)
	g := &Generation{Best: Phenotype{Fitness: Fitness{1}}}
	if !steady(g) || !steady(g) || steady(g) {
		t.Fatal("steady fitness should stop after two stale generations")
	}
	var flag atomic.Bool
	stop := All(ByFixedGeneration(100), Interrupted(&flag))
	if !stop(&Generation{Number: 1}) {
		t.Fatal("stopped before interrupt")
	}
	flag.Store(true)
	if stop(&Generation{Number: 1}) {
		t.Fatal("interrupt ignored")
	}
}

func TestPopulationConvergence(t *testing.T) {
	conv := ByPopulationConvergence(0.01)
	same := population(5, 5, 5)
	if conv(&Generation{Population: same, Best: same[0]}) {
		t.Fatal("converged population should stop")
	}
	spread := population(1, 5, 9)
	if !conv(&Generation{Population: spread, Best: spread[2]}) {
		t.Fatal("spread population should continue")
	}
}

// sortedness rewards genotypes close to the identity permutation.
func sortedness(_ context.Context, pop []Phenotype) ([]Phenotype, error) {
	out := make([]Phenotype, len(pop))
	for i, p := range pop {
		var f float64
		for j, v := range p.Genotype {
			if v == j {
				f++
			}
		}
		p.Fitness = Fitness{f}
		p.Evaluated = true
		out[i] = p
	}
	return out, nil
}

func newEngine(eval Evaluator) *Engine {
	return &Engine{
		Evaluator:         eval,
		Genes:             6,
		Size:              20,
		OffspringFraction: 0.6,
		MaxAge:            10,
		Mutator:           Swap{},
		MutationRate:      0.3,
		Crossover:         PartiallyMatched{},
		CrossoverRate:     0.5,
		OffspringSelector: Tournament{Size: 3},
		SurvivorSelector:  Tournament{Size: 3},
		Rng:               rand.New(rand.NewSource(42)),
	}
}

func TestEngineRunsToGenerationLimit(t *testing.T) {
	var generations int
	e := newEngine(EvaluatorFunc(sortedness))
	e.Observer = func(*Generation) { generations++ }
	res, err := e.Run(context.Background(), []Genotype{{5, 4, 3, 2, 1, 0}}, ByFixedGeneration(40))
	if err != nil {
		t.Fatal(err)
	}
	if res.Generations != 40 || generations != 40 {
		t.Fatalf("ran %d generations, observed %d", res.Generations, generations)
	}
	if len(res.Population) != 20 {
		t.Fatalf("population size %d", len(res.Population))
	}
	for _, p := range res.Population {
		if !isPermutation(p.Genotype) {
			t.Fatalf("invalid genotype %v", p.Genotype)
		}
	}
	if res.Best.Fitness[0] < 4 {
		t.Fatalf("search made no progress: best %v", res.Best.Fitness)
	}
}

func TestEngineRejectsWrongGenotypeLength(t *testing.T) {
	e := newEngine(EvaluatorFunc(sortedness))
	if _, err := e.Run(context.Background(), []Genotype{{0, 1}}, ByFixedGeneration(2)); err == nil {
		t.Fatal("expected error")
	}
}

func TestEngineCancelledReturnsBestSoFar(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	eval := EvaluatorFunc(func(ctx context.Context, pop []Phenotype) ([]Phenotype, error) {
		calls++
		if calls == 3 {
			cancel()
			return nil, errors.New("interrupted")
		}
		return sortedness(ctx, pop)
	})
	res, err := newEngine(eval).Run(ctx, nil, nil)
	if err != nil {
		t.Fatalf("cancelled run returned %v", err)
	}
	if res.Generations != 2 {
		t.Fatalf("generations %d, want 2", res.Generations)
	}
}

func TestEngineEvaluationErrorPropagates(t *testing.T) {
	eval := EvaluatorFunc(func(context.Context, []Phenotype) ([]Phenotype, error) {
		return nil, errors.New("boom")
	})
	if _, err := newEngine(eval).Run(context.Background(), nil, ByFixedGeneration(3)); err == nil {
		t.Fatal("expected error")
	}
}

func TestEngineReplacesDuplicatesWhenSkipped(t *testing.T) {
	var second []Phenotype
	calls := 0
	eval := EvaluatorFunc(func(ctx context.Context, pop []Phenotype) ([]Phenotype, error) {
		calls++
		if calls == 1 {
			out := append([]Phenotype(nil), pop...)
			for i := range out {
				out[i].Evaluated = false
			}
			return out, nil
		}
		if calls == 2 {
			second = pop
		}
		return sortedness(ctx, pop)
	})
	e := newEngine(eval)
	e.Genes = 8
	e.Size = 4
	e.Unique = true
	e.MaxRetries = 50
	same := Genotype{0, 1, 2, 3, 4, 5, 6, 7}
	if _, err := e.Run(context.Background(), []Genotype{same, same, same, same}, ByFixedGeneration(1)); err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for _, p := range second {
		if seen[p.Genotype.Key()] {
			t.Fatalf("duplicate survived: %v", p.Genotype)
		}
		seen[p.Genotype.Key()] = true
	}
}
