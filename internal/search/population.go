package search

import (
	"slotopt/internal/alloc"
	"slotopt/internal/opt"
)

// InitialPopulation seeds size genotypes around the time ordered baseline. The first
// is the baseline itself; genotype i swaps adjacent flight pairs of the time order in
// a window that slides by one flight per genotype and widens by one pair every
// |flights| genotypes.
func InitialPopulation(m *alloc.Model, size int) []opt.Genotype {
	order := m.TimeOrder()
	base := m.Baseline()
	n := len(order)
	out := make([]opt.Genotype, 0, size)
	if size <= 0 {
		return out
	}
	out = append(out, opt.Genotype(m.Encode(base)))
	if n < 2 {
		for len(out) < size {
			out = append(out, out[0].Clone())
		}
		return out
	}
	for i := 1; i < size; i++ {
		a := append(alloc.Assignment(nil), base...)
		ratio := i / n
		for k := 0; k <= ratio; k++ {
			s1 := i - ratio*n + 2*k
			s2 := s1 + 1
			if s2 >= n {
				s1 = s1 - n + 1
				s2 = s2 - n + 2
			}
			if s1 >= 0 && s2 < n {
				f1, f2 := order[s1], order[s2]
				a[f1], a[f2] = a[f2], a[f1]
			}
		}
		out = append(out, opt.Genotype(m.Encode(a)))
	}
	return out
}
