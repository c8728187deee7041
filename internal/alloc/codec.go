package alloc

import (
	"fmt"
	"sort"
)

// Decode reads the first NumFlights genes of a slot permutation.
func (m *Model) Decode(genotype []int) Assignment {
	a := make(Assignment, len(m.flights))
	copy(a, genotype[:len(m.flights)])
	return a
}

// Encode extends an assignment to a full slot permutation; unused slots follow in time order.
func (m *Model) Encode(a Assignment) []int {
	used := make([]bool, len(m.slots))
	g := make([]int, 0, len(m.slots))
	for _, s := range a {
		used[s] = true
		g = append(g, s)
	}
	for s := range m.slots {
		if !used[s] {
			g = append(g, s)
		}
	}
	return g
}

// TimeOrder returns flight indices sorted by scheduled time; unscheduled flights come first.
func (m *Model) TimeOrder() []int {
	order := make([]int, len(m.flights))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := m.flights[order[i]].ScheduledTime, m.flights[order[j]].ScheduledTime
		switch {
		case a == nil:
			return b != nil
		case b == nil:
			return false
		}
		return a.Before(*b)
	})
	return order
}

// Baseline assigns the i-th flight in time order to the i-th slot in time order.
func (m *Model) Baseline() Assignment {
	a := make(Assignment, len(m.flights))
	for i, f := range m.TimeOrder() {
		a[f] = i
	}
	return a
}

// FromSequence builds an assignment from flight ids listed in slot order.
func (m *Model) FromSequence(ids []string) (Assignment, error) {
	if len(ids) != len(m.flights) {
		return nil, fmt.Errorf("alloc: sequence has %d flights, want %d", len(ids), len(m.flights))
	}
	index := make(map[string]int, len(m.flights))
	for i, f := range m.flights {
		index[f.ID] = i
	}
	a := make(Assignment, len(m.flights))
	seen := make([]bool, len(m.flights))
	for s, id := range ids {
		f, ok := index[id]
		if !ok {
			return nil, fmt.Errorf("alloc: unknown flight %q in sequence", id)
		}
		if seen[f] {
			return nil, fmt.Errorf("alloc: flight %q listed twice", id)
		}
		seen[f] = true
		a[f] = s
	}
	return a, nil
}

// Mapping resolves an assignment to flight id -> slot id.
func (m *Model) Mapping(a Assignment) map[string]string {
	out := make(map[string]string, len(a))
	for f, s := range a {
		out[m.flights[f].ID] = m.slots[s].ID
	}
	return out
}

// RankEncode is the representation sent to the privacy engine: for each flight, in
// original order, the rank of its slot among the slots this assignment uses.
func RankEncode(a Assignment) []int {
	idx := make([]int, len(a))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool { return a[idx[i]] < a[idx[j]] })
	ranks := make([]int, len(a))
	for r, f := range idx {
		ranks[f] = r
	}
	return ranks
}

// Key is a comparable form of an assignment, used for deduplication.
func (a Assignment) Key() string {
	return fmt.Sprint([]int(a))
}
