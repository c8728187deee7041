package pareto

import (
	"math"
	"sort"
)

// NSGA2 orders candidates by non-dominated rank, then by crowding distance within a
// rank, and returns the first n. Populations smaller than n are cycled.
func NSGA2[T any](pop []Candidate[T], n int) []Candidate[T] {
	if len(pop) == 0 || n <= 0 {
		return nil
	}
	ordered := make([]Candidate[T], 0, len(pop))
	for _, front := range sortFronts(pop) {
		crowd := crowding(pop, front)
		sort.SliceStable(front, func(i, j int) bool { return crowd[front[i]] > crowd[front[j]] })
		for _, i := range front {
			ordered = append(ordered, pop[i])
		}
	}
	out := make([]Candidate[T], n)
	for i := range out {
		out[i] = ordered[i%len(ordered)]
	}
	return out
}

// sortFronts splits the population into successive non-dominated fronts.
func sortFronts[T any](pop []Candidate[T]) [][]int {
	dominatedBy := make([]int, len(pop))
	dominates := make([][]int, len(pop))
	var current []int
	for i := range pop {
		for j := range pop {
			if i == j {
				continue
			}
			if Dominates(pop[i].Values, pop[j].Values) {
				dominates[i] = append(dominates[i], j)
			} else if Dominates(pop[j].Values, pop[i].Values) {
				dominatedBy[i]++
			}
		}
		if dominatedBy[i] == 0 {
			current = append(current, i)
		}
	}
	var fronts [][]int
	for len(current) > 0 {
		fronts = append(fronts, current)
		var next []int
		for _, i := range current {
			for _, j := range dominates[i] {
				dominatedBy[j]--
				if dominatedBy[j] == 0 {
					next = append(next, j)
				}
			}
		}
		current = next
	}
	return fronts
}

// crowding computes the crowding distance of each front member, keyed by population index.
func crowding[T any](pop []Candidate[T], front []int) map[int]float64 {
	out := make(map[int]float64, len(front))
	idx := append([]int(nil), front...)
	for k := 0; k < 2; k++ {
		sort.SliceStable(idx, func(a, b int) bool { return pop[idx[a]].Values[k] < pop[idx[b]].Values[k] })
		lo, hi := pop[idx[0]].Values[k], pop[idx[len(idx)-1]].Values[k]
		out[idx[0]] = math.Inf(1)
		out[idx[len(idx)-1]] = math.Inf(1)
		if hi == lo {
			continue
		}
		for i := 1; i < len(idx)-1; i++ {
			out[idx[i]] += (pop[idx[i+1]].Values[k] - pop[idx[i-1]].Values[k]) / (hi - lo)
		}
	}
	return out
}
