package runs

import (
	"fmt"
	"sort"

	"slotopt/internal/alloc"
	"slotopt/internal/evaluation"
	"slotopt/internal/model"
)

// Method is an optimization family selectable by name.
type Method struct {
	Kind evaluation.Kind
	// Objectives is the number of weight maps read from each flight.
	Objectives int
}

var methods = map[string]Method{
	"SINGLE_OBJECTIVE": {Kind: evaluation.SingleObjective, Objectives: 1},
	"MULTI_OBJECTIVE":  {Kind: evaluation.DualObjective, Objectives: 2},
	"AGGREGATED":       {Kind: evaluation.AggregatedObjective, Objectives: 2},
}

// Methods lists the registered method names.
func Methods() []string {
	out := make([]string, 0, len(methods))
	for k := range methods {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func lookupMethod(name string) (Method, error) {
	m, ok := methods[name]
	if !ok {
		return Method{}, fmt.Errorf("%w: unknown method %q, want one of %v", ErrInvalidInput, name, Methods())
	}
	return m, nil
}

// BuildModel converts request flights and slots into a model reading objectives weight
// maps per flight.
func BuildModel(in []model.FlightIn, slots []model.SlotIn, objectives int) (*alloc.Model, error) {
	flights := make([]alloc.Flight, len(in))
	for i, f := range in {
		weights := [][]float64{f.WeightMap}
		if objectives == 2 {
			if len(f.WeightMapTwo) == 0 {
				return nil, fmt.Errorf("%w: flight %s has no second weight map", ErrInvalidInput, f.FlightID)
			}
			weights = append(weights, f.WeightMapTwo)
		}
		flights[i] = alloc.Flight{ID: f.FlightID, ScheduledTime: f.ScheduledTime, Weights: weights}
	}
	m, err := alloc.NewModel(flights, modelSlots(slots))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return m, nil
}

func modelSlots(in []model.SlotIn) []alloc.Slot {
	out := make([]alloc.Slot, len(in))
	for i, s := range in {
		id := s.SlotID
		if id == "" {
			id = fmt.Sprintf("slot-%d", i)
		}
		out[i] = alloc.Slot{ID: id, Time: s.Time}
	}
	return out
}
