package opt

import (
	"math"
	"math/rand"
	"sort"

	"slotopt/internal/pareto"
)

// Selector draws n phenotypes from a population.
type Selector interface {
	Select(pop []Phenotype, n int, rng *rand.Rand) []Phenotype
}

// Tournament picks the best of Size random individuals, n times.
type Tournament struct {
	Size int
}

func (t Tournament) Select(pop []Phenotype, n int, rng *rand.Rand) []Phenotype {
	if len(pop) == 0 {
		return nil
	}
	size := max(t.Size, 2)
	out := make([]Phenotype, n)
	for i := range out {
		best := pop[rng.Intn(len(pop))]
		for j := 1; j < size; j++ {
			if c := pop[rng.Intn(len(pop))]; c.Fitness[0] > best.Fitness[0] {
				best = c
			}
		}
		out[i] = best
	}
	return out
}

// Truncation takes the n best, cycling when n exceeds the population.
type Truncation struct{}

func (Truncation) Select(pop []Phenotype, n int, _ *rand.Rand) []Phenotype {
	if len(pop) == 0 {
		return nil
	}
	sorted := append([]Phenotype(nil), pop...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Fitness[0] > sorted[j].Fitness[0] })
	out := make([]Phenotype, n)
	for i := range out {
		out[i] = sorted[i%len(sorted)]
	}
	return out
}

// RouletteWheel selects proportionally to fitness shifted above the population minimum.
type RouletteWheel struct{}

func (RouletteWheel) Select(pop []Phenotype, n int, rng *rand.Rand) []Phenotype {
	return spin(pop, shifted(pop), n, rng)
}

// StochasticUniversal samples with n evenly spaced pointers over the shifted fitness.
type StochasticUniversal struct{}

func (StochasticUniversal) Select(pop []Phenotype, n int, rng *rand.Rand) []Phenotype {
	if len(pop) == 0 || n <= 0 {
		return nil
	}
	w := shifted(pop)
	var total float64
	for _, v := range w {
		total += v
	}
	if total <= 0 {
		return spin(pop, nil, n, rng)
	}
	step := total / float64(n)
	ptr := rng.Float64() * step
	out := make([]Phenotype, 0, n)
	acc, i := w[0], 0
	for len(out) < n {
		for ptr > acc && i < len(w)-1 {
			i++
			acc += w[i]
		}
		out = append(out, pop[i])
		ptr += step
	}
	return out
}

// LinearRank selects by rank with linearly decreasing probability; NMinus is the
// expected count of the worst individual.
type LinearRank struct {
	NMinus float64
}

func (l LinearRank) Select(pop []Phenotype, n int, rng *rand.Rand) []Phenotype {
	nMinus := l.NMinus
	if nMinus <= 0 || nMinus > 1 {
		nMinus = 0.5
	}
	nPlus := 2 - nMinus
	ranked := byRank(pop)
	size := float64(len(ranked))
	w := make([]float64, len(ranked))
	for i := range w {
		if len(ranked) == 1 {
			w[i] = 1
			continue
		}
		w[i] = (nPlus - (nPlus-nMinus)*float64(i)/(size-1)) / size
	}
	return spin(ranked, w, n, rng)
}

// ExponentialRank weights the i-th best individual by C^i.
type ExponentialRank struct {
	C float64
}

func (e ExponentialRank) Select(pop []Phenotype, n int, rng *rand.Rand) []Phenotype {
	c := e.C
	if c <= 0 || c >= 1 {
		c = 0.975
	}
	ranked := byRank(pop)
	w := make([]float64, len(ranked))
	for i := range w {
		w[i] = math.Pow(c, float64(i))
	}
	return spin(ranked, w, n, rng)
}

// Boltzmann weights individuals by exp(Beta * normalised fitness).
type Boltzmann struct {
	Beta float64
}

func (b Boltzmann) Select(pop []Phenotype, n int, rng *rand.Rand) []Phenotype {
	if len(pop) == 0 {
		return nil
	}
	beta := b.Beta
	if beta == 0 {
		beta = 4
	}
	lo, hi := pop[0].Fitness[0], pop[0].Fitness[0]
	for _, p := range pop {
		lo, hi = math.Min(lo, p.Fitness[0]), math.Max(hi, p.Fitness[0])
	}
	w := make([]float64, len(pop))
	for i, p := range pop {
		x := 0.0
		if hi > lo {
			x = (p.Fitness[0] - lo) / (hi - lo)
		}
		w[i] = math.Exp(beta * x)
	}
	return spin(pop, w, n, rng)
}

// ParetoTournament compares two random individuals by dominance; incomparable pairs
// are decided by a coin flip.
type ParetoTournament struct{}

func (ParetoTournament) Select(pop []Phenotype, n int, rng *rand.Rand) []Phenotype {
	if len(pop) == 0 {
		return nil
	}
	out := make([]Phenotype, n)
	for i := range out {
		a, b := pop[rng.Intn(len(pop))], pop[rng.Intn(len(pop))]
		switch {
		case pareto.Dominates(a.Fitness, b.Fitness):
			out[i] = a
		case pareto.Dominates(b.Fitness, a.Fitness):
			out[i] = b
		case rng.Intn(2) == 0:
			out[i] = a
		default:
			out[i] = b
		}
	}
	return out
}

// UtilityTournament runs a tournament on the range-normalised sum of both objectives.
type UtilityTournament struct {
	Size int
}

func (u UtilityTournament) Select(pop []Phenotype, n int, rng *rand.Rand) []Phenotype {
	if len(pop) == 0 {
		return nil
	}
	points := make([][2]float64, len(pop))
	for i, p := range pop {
		points[i] = p.Fitness
	}
	score := utility(points)
	size := max(u.Size, 2)
	out := make([]Phenotype, n)
	for i := range out {
		best := rng.Intn(len(pop))
		for j := 1; j < size; j++ {
			if c := rng.Intn(len(pop)); score[c] > score[best] {
				best = c
			}
		}
		out[i] = pop[best]
	}
	return out
}

// NSGA2 keeps the n best by non-dominated rank and crowding distance.
type NSGA2 struct{}

func (NSGA2) Select(pop []Phenotype, n int, _ *rand.Rand) []Phenotype {
	return fromCandidates(pareto.NSGA2(candidates(pop), n))
}

// SPEA2 wraps an archive that lives for the whole run.
type SPEA2 struct {
	Archive *pareto.SPEA2[Phenotype]
}

func NewSPEA2(archiveSize int) SPEA2 {
	return SPEA2{Archive: &pareto.SPEA2[Phenotype]{ArchiveSize: archiveSize}}
}

func (s SPEA2) Select(pop []Phenotype, n int, rng *rand.Rand) []Phenotype {
	return fromCandidates(s.Archive.Select(candidates(pop), n, rng))
}

func candidates(pop []Phenotype) []pareto.Candidate[Phenotype] {
	out := make([]pareto.Candidate[Phenotype], len(pop))
	for i, p := range pop {
		out[i] = pareto.Candidate[Phenotype]{Item: p, Values: p.Fitness}
	}
	return out
}

func fromCandidates(cs []pareto.Candidate[Phenotype]) []Phenotype {
	out := make([]Phenotype, len(cs))
	for i, c := range cs {
		out[i] = c.Item
	}
	return out
}

func utility(points [][2]float64) []float64 {
	lo, hi := points[0], points[0]
	for _, p := range points {
		for k := 0; k < 2; k++ {
			lo[k], hi[k] = math.Min(lo[k], p[k]), math.Max(hi[k], p[k])
		}
	}
	out := make([]float64, len(points))
	for i, p := range points {
		for k := 0; k < 2; k++ {
			out[i] += (p[k] - lo[k] + 1) / (hi[k] - lo[k] + 1)
		}
	}
	return out
}

func byRank(pop []Phenotype) []Phenotype {
	ranked := append([]Phenotype(nil), pop...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Fitness[0] > ranked[j].Fitness[0] })
	return ranked
}

// shifted lifts all fitness values above zero.
func shifted(pop []Phenotype) []float64 {
	if len(pop) == 0 {
		return nil
	}
	lo := pop[0].Fitness[0]
	for _, p := range pop {
		lo = math.Min(lo, p.Fitness[0])
	}
	w := make([]float64, len(pop))
	for i, p := range pop {
		w[i] = p.Fitness[0] - lo + 1
	}
	return w
}

// spin performs n roulette draws over weights; nil or all-zero weights draw uniformly.
func spin(pop []Phenotype, w []float64, n int, rng *rand.Rand) []Phenotype {
	if len(pop) == 0 || n <= 0 {
		return nil
	}
	var total float64
	cumulative := make([]float64, len(w))
	for i, v := range w {
		total += v
		cumulative[i] = total
	}
	out := make([]Phenotype, n)
	for i := range out {
		if total <= 0 {
			out[i] = pop[rng.Intn(len(pop))]
			continue
		}
		r := rng.Float64() * total
		j := sort.SearchFloat64s(cumulative, r)
		if j >= len(pop) {
			j = len(pop) - 1
		}
		out[i] = pop[j]
	}
	return out
}
