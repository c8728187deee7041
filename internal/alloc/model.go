package alloc

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// MissingWeight is returned for slots a flight declared no weight for.
const MissingWeight = float64(math.MinInt32)

type Flight struct {
	ID            string
	ScheduledTime *time.Time  // optional not-before time
	Weights       [][]float64 // one vector per objective, aligned to slots sorted by time
}

type Slot struct {
	ID   string
	Time time.Time
}

// Assignment maps flight i to the slot index Assignment[i].
type Assignment []int

var ErrEmpty = errors.New("alloc: no flights")

// Model holds the flights, the time-sorted slots and the weight maps derived from them.
// Slot indices used throughout the module refer to positions in Slots().
type Model struct {
	flights    []Flight
	slots      []Slot
	objectives int
	weights    [][][]float64 // [flight][objective][slot]
	valid      [][]bool      // [flight][slot]
}

func NewModel(flights []Flight, slots []Slot) (*Model, error) {
	if len(flights) == 0 {
		return nil, ErrEmpty
	}
	objectives := len(flights[0].Weights)
	if objectives < 1 || objectives > 2 {
		return nil, fmt.Errorf("alloc: flight %s declares %d weight vectors, want 1 or 2", flights[0].ID, objectives)
	}
	for _, f := range flights[1:] {
		if len(f.Weights) != objectives {
			return nil, fmt.Errorf("alloc: flight %s declares %d weight vectors, want %d", f.ID, len(f.Weights), objectives)
		}
	}
	m := &Model{flights: append([]Flight(nil), flights...), objectives: objectives}
	if err := m.SetSlots(slots); err != nil {
		return nil, err
	}
	return m, nil
}

// SetSlots replaces the slot set and recomputes every weight map.
func (m *Model) SetSlots(slots []Slot) error {
	if len(slots) < len(m.flights) {
		return fmt.Errorf("alloc: %d slots for %d flights", len(slots), len(m.flights))
	}
	sorted := append([]Slot(nil), slots...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })
	m.slots = sorted
	m.weights = make([][][]float64, len(m.flights))
	m.valid = make([][]bool, len(m.flights))
	for i, f := range m.flights {
		m.weights[i] = make([][]float64, m.objectives)
		for k := 0; k < m.objectives; k++ {
			row := make([]float64, len(sorted))
			for s := range sorted {
				if s < len(f.Weights[k]) {
					row[s] = f.Weights[k][s]
				} else {
					row[s] = MissingWeight
				}
			}
			m.weights[i][k] = row
		}
		m.valid[i] = make([]bool, len(sorted))
		for s, slot := range sorted {
			m.valid[i][s] = f.ScheduledTime == nil || !slot.Time.Before(*f.ScheduledTime)
		}
	}
	return nil
}

func (m *Model) Flights() []Flight { return m.flights }
func (m *Model) Slots() []Slot     { return m.slots }
func (m *Model) NumFlights() int   { return len(m.flights) }
func (m *Model) NumSlots() int     { return len(m.slots) }
func (m *Model) Objectives() int   { return m.objectives }

// Weight returns the declared weight of flight f for the slot at sorted position s.
func (m *Model) Weight(f, s, objective int) float64 {
	return m.weights[f][objective][s]
}

// Valid reports whether flight f may take slot s (slot not before the scheduled time).
func (m *Model) Valid(f, s int) bool {
	return m.valid[f][s]
}

// Fitness sums the weights of the assigned slots for one objective.
func (m *Model) Fitness(a Assignment, objective int) float64 {
	var sum float64
	for f, s := range a {
		sum += m.weights[f][objective][s]
	}
	return sum
}

// Violations counts flights assigned to a slot earlier than their scheduled time.
func (m *Model) Violations(a Assignment) int {
	n := 0
	for f, s := range a {
		if !m.valid[f][s] {
			n++
		}
	}
	return n
}

// CheckFeasibility counts scheduled flights that cannot be placed: the k-th latest
// scheduled flight needs at least k slots at or after its scheduled time.
func (m *Model) CheckFeasibility() int {
	var times []time.Time
	for _, f := range m.flights {
		if f.ScheduledTime != nil {
			times = append(times, *f.ScheduledTime)
		}
	}
	sort.Slice(times, func(i, j int) bool { return times[i].After(times[j]) })
	short := 0
	for k, t := range times {
		available := 0
		for _, s := range m.slots {
			if !s.Time.Before(t) {
				available++
			}
		}
		if available < k+1 {
			short++
		}
	}
	return short
}
