package assign

import (
	"log/slog"

	"gonum.org/v1/gonum/mat"

	"slotopt/internal/alloc"
)

// DefaultGranularity is the number of lambda steps of the estimated front.
const DefaultGranularity = 100

type Result struct {
	Assignment alloc.Assignment
	Value      float64
}

// maximize solves a slot x flight weight matrix and maps the answer back to flights.
func maximize(m *alloc.Model, weights mat.Matrix) alloc.Assignment {
	rows := Hungarian(CostMatrix(weights))
	a := make(alloc.Assignment, m.NumFlights())
	for slot, flight := range rows {
		if flight >= 0 {
			a[flight] = slot
		}
	}
	return a
}

// Value sums the raw weights of an assignment, devaluing invalid pairs.
func Value(m *alloc.Model, a alloc.Assignment, objective int) float64 {
	var sum float64
	for f, s := range a {
		sum += RawWeight(m, f, s, objective)
	}
	return sum
}

// Optimum computes the exact best assignment for one objective.
func Optimum(m *alloc.Model, objective int) Result {
	a := maximize(m, WeightMatrix(m, objective))
	return Result{Assignment: a, Value: Value(m, a, objective)}
}

// TheoreticalMaxima returns the exact optimum of every objective of the model.
func TheoreticalMaxima(m *alloc.Model) []float64 {
	out := make([]float64, m.Objectives())
	for k := range out {
		out[k] = Optimum(m, k).Value
	}
	return out
}

// EstimateFront traces the two-objective front by solving granularity+1 weighted
// scalarisations. Border points whose neighbour shares the flat objective are snapped and
// duplicate points are dropped.
func EstimateFront(m *alloc.Model, granularity int) [][2]float64 {
	if granularity < 1 {
		granularity = DefaultGranularity
	}
	points := make([][2]float64, granularity+1)
	for i := 0; i <= granularity; i++ {
		a := maximize(m, CombinedMatrix(m, float64(i)/float64(granularity)))
		points[i] = [2]float64{Value(m, a, 0), Value(m, a, 1)}
	}
	if points[0][1] == points[1][1] {
		points[0][0] = points[1][0]
	}
	if points[granularity][0] == points[granularity-1][0] {
		points[granularity][1] = points[granularity-1][1]
	}

	seen := make(map[[2]float64]bool, len(points))
	out := points[:0]
	for _, p := range points {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
		slog.Debug("estimated front point", "first", p[0], "second", p[1])
	}
	return out
}
