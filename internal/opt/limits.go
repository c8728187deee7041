package opt

import (
	"math"
	"sync/atomic"
	"time"
)

// Generation summarises one evaluated generation.
type Generation struct {
	Number     int
	Population []Phenotype
	Best       Phenotype
	Worst      Phenotype
	Altered    int
	Elapsed    time.Duration
}

// Limit decides after each generation whether the evolution continues.
type Limit func(g *Generation) bool

// All continues while every limit continues, so the first one to trigger stops the run.
func All(limits ...Limit) Limit {
	return func(g *Generation) bool {
		for _, l := range limits {
			if !l(g) {
				return false
			}
		}
		return true
	}
}

func ByFixedGeneration(n int) Limit {
	return func(g *Generation) bool { return g.Number < n }
}

func ByExecutionTime(d time.Duration) Limit {
	return func(g *Generation) bool { return g.Elapsed < d }
}

// ByFitnessThreshold stops once the best fitness reaches threshold.
func ByFitnessThreshold(threshold float64) Limit {
	return func(g *Generation) bool { return g.Best.Fitness[0] < threshold }
}

// WorstFitness continues while the worst individual stays above threshold.
func WorstFitness(threshold float64) Limit {
	return func(g *Generation) bool { return g.Worst.Fitness[0] > threshold }
}

// BySteadyFitness stops after n generations without improvement of the best fitness.
func BySteadyFitness(n int) Limit {
	best := math.Inf(-1)
	steady := 0
	return func(g *Generation) bool {
		if g.Best.Fitness[0] > best {
			best = g.Best.Fitness[0]
			steady = 0
			return true
		}
		steady++
		return steady < n
	}
}

// ByPopulationConvergence stops when the mean fitness comes within epsilon (relative)
// of the best fitness.
func ByPopulationConvergence(epsilon float64) Limit {
	return func(g *Generation) bool {
		if len(g.Population) == 0 {
			return true
		}
		var sum float64
		for _, p := range g.Population {
			sum += p.Fitness[0]
		}
		mean := sum / float64(len(g.Population))
		best := g.Best.Fitness[0]
		return math.Abs(best-mean) > epsilon*math.Max(math.Abs(best), 1)
	}
}

// ByFitnessConvergence compares short and long moving averages of the best fitness and
// stops once they are within epsilon (relative) of each other.
func ByFitnessConvergence(short, long int, epsilon float64) Limit {
	if short < 1 {
		short = 1
	}
	if long < short {
		long = short
	}
	var history []float64
	return func(g *Generation) bool {
		history = append(history, g.Best.Fitness[0])
		if len(history) > long {
			history = history[len(history)-long:]
		}
		if len(history) < long {
			return true
		}
		s, l := mean(history[long-short:]), mean(history)
		return math.Abs(s-l) > epsilon*math.Max(math.Abs(s), math.Abs(l))
	}
}

// Interrupted stops once flag is set.
func Interrupted(flag *atomic.Bool) Limit {
	return func(*Generation) bool { return !flag.Load() }
}

func mean(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}
