package evaluation

import (
	"math"

	"slotopt/internal/alloc"
	"slotopt/internal/opt"
)

type Counters struct {
	Generations                        int64 `json:"noGenerations"`
	GenerationsEvaluated               int64 `json:"noGenerationsEvaluated"`
	GenerationsUnevaluated             int64 `json:"noGenerationsUnevaluated"`
	InitialDuplicates                  int64 `json:"noInitialDuplicates"`
	RemainingDuplicates                int64 `json:"noRemainingDuplicates"`
	GenerationsDuplicatesNotEliminated int64 `json:"noGenerationsDuplicatesNotEliminated"`
	Phenotypes                         int64 `json:"noPhenotypes"`
	InvalidPhenotypes                  int64 `json:"noInvalidPhenotypes"`
	InvalidAssignments                 int64 `json:"noInvalidAssignments"`
	FitnessInvocations                 int64 `json:"fitnessFunctionInvocations"`
}

// TracePoint records one generation of the fitness evolution.
type TracePoint struct {
	Generation int           `json:"generation"`
	Evaluated  []opt.Fitness `json:"evaluated,omitempty"`
	Estimated  []opt.Fitness `json:"estimated"`
}

// Accumulator is the run-scoped state carried from one generation to the next. It is
// owned by the goroutine driving the run.
type Accumulator struct {
	Counters Counters

	// Maximum is the best observed value per objective.
	Maximum [2]float64
	// Results holds the distinct decoded assignments of the generation that last reached
	// Maximum (single objective runs).
	Results []alloc.Assignment
	// Front is the current non-dominated set (dual objective runs).
	Front [][2]float64
	Trace []TracePoint

	latestUnevaluated int
	increment         [2]float64
}

func NewAccumulator() *Accumulator {
	inf := math.Inf(-1)
	return &Accumulator{
		Maximum:           [2]float64{inf, inf},
		latestUnevaluated: -1,
		increment:         [2]float64{1, 1},
	}
}

// bump returns the signalled maximum of an above-threshold generation.
func (a *Accumulator) bump(k int, improved bool, size int) float64 {
	max := float64(size)
	if improved {
		max += a.increment[k]
		a.increment[k]++
	}
	return max
}
