package opt

import (
	"math/rand"
	"sort"
)

// Mutator alters a genotype in place and returns the number of altered positions.
type Mutator interface {
	Mutate(g Genotype, rng *rand.Rand) int
}

// Crossover recombines two genotypes in place and returns the number of altered positions.
type Crossover interface {
	Cross(a, b Genotype, rng *rand.Rand) int
}

// cuts draws k distinct sorted positions in [0, n]; k must not exceed n+1.
func cuts(n, k int, rng *rand.Rand) []int {
	out := rng.Perm(n + 1)[:k]
	sort.Ints(out)
	return out
}

// Swap exchanges two random positions.
type Swap struct{}

func (Swap) Mutate(g Genotype, rng *rand.Rand) int {
	if len(g) < 2 {
		return 0
	}
	i, j := rng.Intn(len(g)), rng.Intn(len(g))
	if i == j {
		return 0
	}
	g[i], g[j] = g[j], g[i]
	return 2
}

// ReverseSequence reverses a random sub-sequence.
type ReverseSequence struct{}

func (ReverseSequence) Mutate(g Genotype, rng *rand.Rand) int {
	if len(g) < 2 {
		return 0
	}
	c := cuts(len(g), 2, rng)
	for i, j := c[0], c[1]-1; i < j; i, j = i+1, j-1 {
		g[i], g[j] = g[j], g[i]
	}
	return c[1] - c[0]
}

// Shift moves two adjacent sub-blocks past each other.
type Shift struct{}

func (Shift) Mutate(g Genotype, rng *rand.Rand) int {
	if len(g) < 2 {
		return 0
	}
	c := cuts(len(g), 3, rng)
	block := append(Genotype(nil), g[c[1]:c[2]]...)
	block = append(block, g[c[0]:c[1]]...)
	copy(g[c[0]:c[2]], block)
	return c[2] - c[0] - 1
}

// Arbitrary shuffles one random sub-block.
type Arbitrary struct{}

func (Arbitrary) Mutate(g Genotype, rng *rand.Rand) int {
	if len(g) < 2 {
		return 0
	}
	c := cuts(len(g), 2, rng)
	seg := g[c[0]:c[1]]
	rng.Shuffle(len(seg), func(i, j int) { seg[i], seg[j] = seg[j], seg[i] })
	return c[1] - c[0]
}

// HybridSwapReverse applies a swap or a reversal, the swap with probability SwapShare.
type HybridSwapReverse struct {
	SwapShare float64
}

func (h HybridSwapReverse) Mutate(g Genotype, rng *rand.Rand) int {
	if rng.Float64() < h.SwapShare {
		return Swap{}.Mutate(g, rng)
	}
	return ReverseSequence{}.Mutate(g, rng)
}

// PartiallyMatched exchanges a random segment and repairs the rest through the
// segment's value mapping.
type PartiallyMatched struct{}

func (PartiallyMatched) Cross(a, b Genotype, rng *rand.Rand) int {
	n := len(a)
	if n < 2 || len(b) != n {
		return 0
	}
	c := cuts(n, 2, rng)
	lo, hi := c[0], c[1]
	ca, cb := a.Clone(), b.Clone()
	pa, pb := make(map[int]int, hi-lo), make(map[int]int, hi-lo)
	for i := lo; i < hi; i++ {
		a[i], b[i] = cb[i], ca[i]
		pa[cb[i]] = ca[i]
		pb[ca[i]] = cb[i]
	}
	repair := func(child, orig Genotype, mapping map[int]int) {
		for i := 0; i < n; i++ {
			if i >= lo && i < hi {
				continue
			}
			v := orig[i]
			for {
				m, ok := mapping[v]
				if !ok {
					break
				}
				v = m
			}
			child[i] = v
		}
	}
	repair(a, ca, pa)
	repair(b, cb, pb)
	return hi - lo
}

// UniformOrderBased keeps a random half of the positions of each parent and fills the
// others with the missing values in the order of the other parent.
type UniformOrderBased struct{}

func (UniformOrderBased) Cross(a, b Genotype, rng *rand.Rand) int {
	n := len(a)
	if n < 2 || len(b) != n {
		return 0
	}
	mask := make([]bool, n)
	kept := 0
	for i := range mask {
		if rng.Intn(2) == 0 {
			mask[i] = true
			kept++
		}
	}
	ca, cb := a.Clone(), b.Clone()
	fill := func(child, keep, other Genotype) {
		present := make(map[int]bool, kept)
		for i := range child {
			if mask[i] {
				child[i] = keep[i]
				present[keep[i]] = true
			}
		}
		j := 0
		for i := range child {
			if mask[i] {
				continue
			}
			for present[other[j]] {
				j++
			}
			child[i] = other[j]
			present[other[j]] = true
		}
	}
	fill(a, ca, cb)
	fill(b, cb, ca)
	return n - kept
}
