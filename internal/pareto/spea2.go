package pareto

import (
	"math"
	"math/rand"
	"sort"
)

// DefaultArchiveSize bounds the SPEA2 archive when no size is configured.
const DefaultArchiveSize = 50

// Candidate pairs an item with its objective values.
type Candidate[T any] struct {
	Item   T
	Values [2]float64
}

// SPEA2 keeps an elitist archive across calls. It is owned by one run.
type SPEA2[T any] struct {
	ArchiveSize int
	archive     []scored[T]
}

type scored[T any] struct {
	Candidate[T]
	raw float64
}

// Archive returns a copy of the current archive.
func (s *SPEA2[T]) Archive() []Candidate[T] {
	out := make([]Candidate[T], len(s.archive))
	for i, m := range s.archive {
		out[i] = m.Candidate
	}
	return out
}

// Select updates the archive from pop and draws n candidates by binary tournament over
// the population and the archive; lower raw fitness wins.
func (s *SPEA2[T]) Select(pop []Candidate[T], n int, rng *rand.Rand) []Candidate[T] {
	size := s.ArchiveSize
	if size <= 0 {
		size = DefaultArchiveSize
	}
	union := make([]scored[T], 0, len(pop)+len(s.archive))
	for _, c := range pop {
		union = append(union, scored[T]{Candidate: c})
	}
	for _, m := range s.archive {
		union = append(union, scored[T]{Candidate: m.Candidate})
	}
	rawFitness(union)

	var next, rest []scored[T]
	for _, m := range union {
		if m.raw == 0 {
			next = append(next, m)
		} else {
			rest = append(rest, m)
		}
	}
	if len(next) < size {
		sort.SliceStable(rest, func(i, j int) bool { return rest[i].raw < rest[j].raw })
		for _, m := range rest {
			if len(next) == size {
				break
			}
			next = append(next, m)
		}
	}
	for len(next) > size {
		next = removeCrowded(next)
	}
	s.archive = next

	pool := union[:len(pop):len(pop)]
	pool = append(pool, next...)
	if len(pool) == 0 || n <= 0 {
		return nil
	}
	out := make([]Candidate[T], n)
	for i := range out {
		a, b := pool[rng.Intn(len(pool))], pool[rng.Intn(len(pool))]
		if b.raw < a.raw {
			a = b
		}
		out[i] = a.Candidate
	}
	return out
}

// rawFitness sets raw = sum of the strengths of every dominator, strength being the
// number of members an individual dominates.
func rawFitness[T any](members []scored[T]) {
	strength := make([]float64, len(members))
	for i := range members {
		for j := range members {
			if i != j && Dominates(members[i].Values, members[j].Values) {
				strength[i]++
			}
		}
	}
	for j := range members {
		var raw float64
		for i := range members {
			if i != j && Dominates(members[i].Values, members[j].Values) {
				raw += strength[i]
			}
		}
		members[j].raw = raw
	}
}

// removeCrowded drops the member with the smallest mean distance to its two nearest
// neighbours.
func removeCrowded[T any](members []scored[T]) []scored[T] {
	victim, smallest := 0, math.Inf(1)
	dist := make([]float64, 0, len(members))
	for i, a := range members {
		dist = dist[:0]
		for j, b := range members {
			if i != j {
				dist = append(dist, math.Abs(a.Values[0]-b.Values[0])+math.Abs(a.Values[1]-b.Values[1]))
			}
		}
		sort.Float64s(dist)
		k := min(2, len(dist))
		var sum float64
		for _, d := range dist[:k] {
			sum += d
		}
		mean := 0.0
		if k > 0 {
			mean = sum / float64(k)
		}
		if mean < smallest {
			victim, smallest = i, mean
		}
	}
	return append(members[:victim], members[victim+1:]...)
}
