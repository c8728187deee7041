// Package pareto holds dominance bookkeeping for two-objective runs: fronts, trade-off
// selection and archive based selection.
package pareto

import "math"

// Dominates reports whether a is at least as good as b on both objectives and strictly
// better on one. Both objectives are maximised.
func Dominates(a, b [2]float64) bool {
	if a[0] < b[0] || a[1] < b[1] {
		return false
	}
	return a[0] > b[0] || a[1] > b[1]
}

// Front returns the indices of the non-dominated points, in input order.
func Front(points [][2]float64) []int {
	var out []int
	for i := range points {
		dominated := false
		for j := range points {
			if i != j && Dominates(points[j], points[i]) {
				dominated = true
				break
			}
		}
		if !dominated {
			out = append(out, i)
		}
	}
	return out
}

// StrictFront keeps the distinct points no other point beats on both objectives.
func StrictFront(points [][2]float64) [][2]float64 {
	var out [][2]float64
	for i, p := range points {
		beaten := false
		for j, q := range points {
			if i != j && q[0] > p[0] && q[1] > p[1] {
				beaten = true
				break
			}
		}
		if !beaten {
			out = append(out, p)
		}
	}
	return Distinct(out)
}

// Distinct drops repeated points, keeping the first occurrence.
func Distinct(points [][2]float64) [][2]float64 {
	seen := make(map[[2]float64]bool, len(points))
	out := make([][2]float64, 0, len(points))
	for _, p := range points {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// SelectTradeOff picks the point with the highest range-normalised score. The first
// point wins ties; -1 for an empty input.
func SelectTradeOff(points [][2]float64) int {
	if len(points) == 0 {
		return -1
	}
	lo, hi := points[0], points[0]
	for _, p := range points[1:] {
		for k := 0; k < 2; k++ {
			lo[k] = math.Min(lo[k], p[k])
			hi[k] = math.Max(hi[k], p[k])
		}
	}
	best, bestScore := -1, math.Inf(-1)
	for i, p := range points {
		var score float64
		for k := 0; k < 2; k++ {
			score += (p[k] - lo[k] + 1) / (hi[k] - lo[k] + 1)
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

// BalanceRatio is the gap between the two objectives' shares of their theoretical maxima.
func BalanceRatio(p, theoretical [2]float64) float64 {
	return math.Abs(p[0]/theoretical[0] - p[1]/theoretical[1])
}

// NearestDominating returns the closest front point that beats p on both objectives,
// or p itself when there is none.
func NearestDominating(front [][2]float64, p [2]float64) [2]float64 {
	best, bestDist := p, math.Inf(1)
	for _, q := range front {
		if q[0] <= p[0] || q[1] <= p[1] {
			continue
		}
		if d := math.Hypot(q[0]-p[0], q[1]-p[1]); d < bestDist {
			best, bestDist = q, d
		}
	}
	return best
}
