package assign

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"slotopt/internal/alloc"
)

// Devaluation is the per-violation penalty for a flight placed before its scheduled time.
const Devaluation = -10_000_000.0

// RawWeight is the weight of flight f in slot s, or Devaluation if the pair is invalid.
func RawWeight(m *alloc.Model, f, s, objective int) float64 {
	if !m.Valid(f, s) {
		return Devaluation
	}
	return m.Weight(f, s, objective)
}

// WeightMatrix builds the slot x flight weight matrix for one objective.
func WeightMatrix(m *alloc.Model, objective int) *mat.Dense {
	d := mat.NewDense(m.NumSlots(), m.NumFlights(), nil)
	for s := 0; s < m.NumSlots(); s++ {
		for f := 0; f < m.NumFlights(); f++ {
			d.Set(s, f, RawWeight(m, f, s, objective))
		}
	}
	return d
}

// CombinedMatrix blends both objectives: lambda*w1 + (1-lambda)*w2.
func CombinedMatrix(m *alloc.Model, lambda float64) *mat.Dense {
	d := mat.NewDense(m.NumSlots(), m.NumFlights(), nil)
	for s := 0; s < m.NumSlots(); s++ {
		for f := 0; f < m.NumFlights(); f++ {
			if !m.Valid(f, s) {
				d.Set(s, f, Devaluation)
				continue
			}
			d.Set(s, f, m.Weight(f, s, 0)*lambda+m.Weight(f, s, 1)*(1-lambda))
		}
	}
	return d
}

// ShiftToZero adds |min| to every cell strictly above the minimum. The minimum cell
// itself is left as is.
func ShiftToZero(d *mat.Dense) {
	lo := mat.Min(d)
	d.Apply(func(_, _ int, v float64) float64 {
		if lo < v {
			return math.Abs(lo) + v
		}
		return v
	}, d)
}

// Invert turns utilities into costs by subtracting each cell from the matrix maximum.
func Invert(d *mat.Dense) {
	hi := math.Max(mat.Max(d), math.SmallestNonzeroFloat64)
	d.Apply(func(_, _ int, v float64) float64 { return hi - v }, d)
}

// CostMatrix applies both transforms to a copy of a weight matrix.
func CostMatrix(weights mat.Matrix) *mat.Dense {
	d := mat.DenseCopyOf(weights)
	ShiftToZero(d)
	Invert(d)
	return d
}
