package evaluation

import (
	"context"
	"errors"
	"testing"
	"time"

	"slotopt/internal/alloc"
	"slotopt/internal/assign"
	"slotopt/internal/estimate"
	"slotopt/internal/opt"
)

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func minute(n int) *time.Time {
	t := t0.Add(time.Duration(n) * time.Minute)
	return &t
}

// testModel: F2 may not leave before minute 1, F3 not before minute 2.
func testModel(t *testing.T, dual bool) *alloc.Model {
	t.Helper()
	w := func(first, second []float64) [][]float64 {
		if dual {
			return [][]float64{first, second}
		}
		return [][]float64{first}
	}
	flights := []alloc.Flight{
		{ID: "F1", Weights: w([]float64{10, 1, 1, 1}, []float64{1, 1, 1, 9})},
		{ID: "F2", ScheduledTime: minute(1), Weights: w([]float64{1, 10, 1, 1}, []float64{1, 1, 9, 1})},
		{ID: "F3", ScheduledTime: minute(2), Weights: w([]float64{1, 1, 10, 5}, []float64{1, 9, 1, 1})},
	}
	slots := make([]alloc.Slot, 4)
	for i := range slots {
		slots[i] = alloc.Slot{ID: string(rune('a' + i)), Time: *minute(i)}
	}
	m, err := alloc.NewModel(flights, slots)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

var (
	candA = alloc.Assignment{0, 1, 2} // 30, valid
	candB = alloc.Assignment{3, 1, 2} // 21, valid
	candC = alloc.Assignment{0, 1, 3} // 25, valid
	candD = alloc.Assignment{2, 3, 0} // F3 too early
	candG = alloc.Assignment{2, 0, 1} // F2 and F3 too early
)

func population(m *alloc.Model, gen int, as ...alloc.Assignment) []opt.Phenotype {
	out := make([]opt.Phenotype, len(as))
	for i, a := range as {
		out[i] = opt.Phenotype{Genotype: m.Encode(a), Generation: gen}
	}
	return out
}

func newPipeline(t *testing.T, cfg Config, m *alloc.Model, o Oracle) *Pipeline {
	t.Helper()
	if cfg.Mode == "" {
		cfg.Mode = NonPrivacyPreserving
	}
	p, err := New(cfg, m, o, nil)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p
}

func sameGenotype(m *alloc.Model, ph opt.Phenotype, a alloc.Assignment) bool {
	return m.Decode(ph.Genotype).Key() == a.Key()
}

func TestDevaluationSingle(t *testing.T) {
	m := testModel(t, false)
	p := newPipeline(t, Config{Kind: SingleObjective, Method: ActualValues}, m, nil)
	acc := NewAccumulator()
	out, err := p.Evaluate(context.Background(), acc, population(m, 1, candG, candA, candD))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Fatalf("size %d", len(out))
	}
	want := []float64{30, assign.Devaluation, 2 * assign.Devaluation}
	for i, w := range want {
		if out[i].Fitness[0] != w {
			t.Fatalf("fitness[%d] = %v want %v", i, out[i].Fitness[0], w)
		}
	}
	if acc.Counters.InvalidPhenotypes != 2 || acc.Counters.InvalidAssignments != 3 || acc.Counters.Phenotypes != 3 {
		t.Fatalf("counters %+v", acc.Counters)
	}
	if acc.Maximum[0] != 30 {
		t.Fatalf("maximum %v", acc.Maximum[0])
	}
}

func TestDevaluationDual(t *testing.T) {
	m := testModel(t, true)
	p := newPipeline(t, Config{Kind: DualObjective, Method: ActualValues}, m, nil)
	out, err := p.Evaluate(context.Background(), NewAccumulator(), population(m, 1, candG, candD))
	if err != nil {
		t.Fatal(err)
	}
	if out[0].Fitness != (opt.Fitness{assign.Devaluation, assign.Devaluation}) {
		t.Fatalf("one violation: %v", out[0].Fitness)
	}
	if out[1].Fitness != (opt.Fitness{2 * assign.Devaluation, 2 * assign.Devaluation}) {
		t.Fatalf("two violations: %v", out[1].Fitness)
	}
}

func TestDuplicateGenerationSkippedOnce(t *testing.T) {
	m := testModel(t, false)
	p := newPipeline(t, Config{Kind: SingleObjective, Method: ActualValues, Deduplicate: true}, m, nil)
	acc := NewAccumulator()
	pop := population(m, 4, candA, candA, candA)

	out, err := p.Evaluate(context.Background(), acc, pop)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Fatalf("size %d", len(out))
	}
	for _, ph := range out {
		if ph.Evaluated || ph.Fitness[0] != Unevaluated {
			t.Fatalf("expected placeholder, got %+v", ph)
		}
	}
	if acc.Counters.GenerationsUnevaluated != 1 || acc.Counters.InitialDuplicates != 2 {
		t.Fatalf("counters %+v", acc.Counters)
	}

	out, err = p.Evaluate(context.Background(), acc, pop)
	if err != nil {
		t.Fatal(err)
	}
	if !out[0].Evaluated || out[0].Fitness[0] != 30 {
		t.Fatalf("second encounter must be evaluated: %+v", out[0])
	}
	if acc.Counters.GenerationsEvaluated != 1 || acc.Counters.Generations != 2 {
		t.Fatalf("counters %+v", acc.Counters)
	}
	if acc.Counters.RemainingDuplicates != 0 {
		t.Fatalf("repeat encounter is not re-checked without tracking: %+v", acc.Counters)
	}
}

func TestDuplicateTracking(t *testing.T) {
	m := testModel(t, false)
	p := newPipeline(t, Config{Kind: SingleObjective, Method: ActualValues, Deduplicate: true, TrackDuplicates: true}, m, nil)
	acc := NewAccumulator()
	pop := population(m, 2, candA, candA, candB)
	for i := 0; i < 2; i++ {
		if _, err := p.Evaluate(context.Background(), acc, pop); err != nil {
			t.Fatal(err)
		}
	}
	if acc.Counters.RemainingDuplicates != 1 || acc.Counters.GenerationsDuplicatesNotEliminated != 1 {
		t.Fatalf("counters %+v", acc.Counters)
	}
}

func TestOrderEstimation(t *testing.T) {
	m := testModel(t, false)
	p := newPipeline(t, Config{Kind: SingleObjective, Method: Order, Estimator: estimate.Linear}, m, nil)
	acc := NewAccumulator()
	pop := population(m, 1, candB, candA, candC)

	out, err := p.Evaluate(context.Background(), acc, pop)
	if err != nil {
		t.Fatal(err)
	}
	wantOrder := []alloc.Assignment{candA, candC, candB}
	wantFit := []float64{30, 20, 10}
	for i := range out {
		if !sameGenotype(m, out[i], wantOrder[i]) || out[i].Fitness[0] != wantFit[i] {
			t.Fatalf("position %d: %v with %v", i, m.Decode(out[i].Genotype), out[i].Fitness[0])
		}
	}
	if acc.Maximum[0] != 30 || len(acc.Results) != 3 {
		t.Fatalf("statistics: max %v results %d", acc.Maximum[0], len(acc.Results))
	}

	// exact evaluation anchors the estimate at the observed maximum in every generation
	better := population(m, 2, candB, candA, candC)
	out, err = p.Evaluate(context.Background(), acc, better)
	if err != nil {
		t.Fatal(err)
	}
	if out[0].Fitness[0] != 30 {
		t.Fatalf("signalled maximum %v want 30", out[0].Fitness[0])
	}
}

func TestOrderWithoutEstimatorKeepsExactValues(t *testing.T) {
	m := testModel(t, false)
	p := newPipeline(t, Config{Kind: SingleObjective, Method: Order}, m, nil)
	out, err := p.Evaluate(context.Background(), NewAccumulator(), population(m, 1, candB, candA))
	if err != nil {
		t.Fatal(err)
	}
	if out[0].Fitness[0] != 30 || out[1].Fitness[0] != 21 {
		t.Fatalf("fitness %v %v", out[0].Fitness[0], out[1].Fitness[0])
	}
}

func TestAboveAbsolute(t *testing.T) {
	m := testModel(t, false)
	p := newPipeline(t, Config{Kind: SingleObjective, Method: AboveAbsolute, Precision: 80}, m, nil)
	out, err := p.Evaluate(context.Background(), NewAccumulator(), population(m, 1, candB, candA, candC, candB))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 4 {
		t.Fatalf("size %d", len(out))
	}
	// threshold 24: A and C pass, A is the best and gets max+1
	for _, ph := range out {
		switch {
		case sameGenotype(m, ph, candA):
			if ph.Fitness[0] != 31 {
				t.Fatalf("best fitness %v want 31", ph.Fitness[0])
			}
		case sameGenotype(m, ph, candC):
			if ph.Fitness[0] != 30 {
				t.Fatalf("selected fitness %v want 30", ph.Fitness[0])
			}
		default:
			t.Fatalf("unexpected individual %v", m.Decode(ph.Genotype))
		}
	}
	if out[0].Fitness[0] != 31 {
		t.Fatalf("output not sorted: %v", out[0].Fitness)
	}
}

func TestRangeQuantilesUsesObservedMaximum(t *testing.T) {
	m := testModel(t, false)
	p := newPipeline(t, Config{Kind: SingleObjective, Method: FitnessRangeQuantiles, Estimator: estimate.Linear, Precision: 3}, m, nil)
	acc := NewAccumulator()
	for gen := 1; gen <= 2; gen++ {
		out, err := p.Evaluate(context.Background(), acc, population(m, gen, candB, candA, candC))
		if err != nil {
			t.Fatal(err)
		}
		// the best individual sits one above the observed maximum
		if !sameGenotype(m, out[0], candA) || out[0].Fitness[0] != 31 {
			t.Fatalf("generation %d: first %v %v", gen, m.Decode(out[0].Genotype), out[0].Fitness[0])
		}
	}
}

func TestThresholds(t *testing.T) {
	pop := []opt.Phenotype{{Fitness: opt.Fitness{21}}, {Fitness: opt.Fitness{30}}, {Fitness: opt.Fitness{25}}}
	if got := threshold(pop, 0, false, 90); got != 27 {
		t.Fatalf("absolute %v", got)
	}
	if got := threshold(pop, 0, true, 50); got != 30 {
		t.Fatalf("relative %v", got)
	}
	if got := threshold(pop, 0, true, 100); got != 21 {
		t.Fatalf("relative 100 %v", got)
	}
	neg := []opt.Phenotype{{Fitness: opt.Fitness{-10}}, {Fitness: opt.Fitness{-20}}}
	if got := threshold(neg, 0, false, 50); got != -15 {
		t.Fatalf("negative absolute %v", got)
	}
}

func TestFitnessRangeQuantiles(t *testing.T) {
	m := testModel(t, false)
	p := newPipeline(t, Config{Kind: SingleObjective, Method: FitnessRangeQuantiles, Estimator: estimate.Linear, Precision: 3}, m, nil)
	out, err := p.Evaluate(context.Background(), NewAccumulator(), population(m, 1, candB, candA, candC))
	if err != nil {
		t.Fatal(err)
	}
	if !sameGenotype(m, out[0], candA) {
		t.Fatalf("best first expected, got %v", m.Decode(out[0].Genotype))
	}
	for i := 1; i < len(out); i++ {
		if out[i].Fitness[0] > out[i-1].Fitness[0] {
			t.Fatalf("not sorted: %v", fitnesses(out))
		}
	}
}

type fakeOracle struct {
	orders     [][]int
	objectives []int
	err        error
}

func (f *fakeOracle) Order(_ context.Context, objective int, population [][]int) ([]int, float64, error) {
	f.objectives = append(f.objectives, objective)
	if f.err != nil {
		return nil, 0, f.err
	}
	order := f.orders[objective]
	return order, float64(len(population)), nil
}

func (f *fakeOracle) Above(_ context.Context, objective int, population [][]int, _ bool, _ float64) ([]int, bool, int, error) {
	f.objectives = append(f.objectives, objective)
	return []int{0}, true, 0, f.err
}

func (f *fakeOracle) Quantiles(_ context.Context, objective int, population [][]int, precision int) ([]int, float64, error) {
	f.objectives = append(f.objectives, objective)
	return make([]int, len(population)), 10, f.err
}

func (f *fakeOracle) ActualValues(_ context.Context, objective int, population [][]int) ([]float64, error) {
	f.objectives = append(f.objectives, objective)
	out := make([]float64, len(population))
	for i := range out {
		out[i] = float64(10*objective + i)
	}
	return out, f.err
}

func TestPrivateOrderUsesOracle(t *testing.T) {
	m := testModel(t, true)
	o := &fakeOracle{orders: [][]int{{2, 0, 1}, {1, 2, 0}}}
	p := newPipeline(t, Config{Kind: DualObjective, Method: Order, Mode: PrivacyPreserving, Estimator: estimate.Linear, SecondObfuscated: true}, m, o)
	out, err := p.Evaluate(context.Background(), NewAccumulator(), population(m, 1, candB, candA, candC))
	if err != nil {
		t.Fatal(err)
	}
	if len(o.objectives) != 2 || o.objectives[0] != 0 || o.objectives[1] != 1 {
		t.Fatalf("oracle objectives %v", o.objectives)
	}
	if !sameGenotype(m, out[0], candC) || out[0].Fitness[0] != 3 {
		t.Fatalf("first %v %v", m.Decode(out[0].Genotype), out[0].Fitness)
	}
	// candA is first in the second order
	for _, ph := range out {
		if sameGenotype(m, ph, candA) && ph.Fitness[1] != 3 {
			t.Fatalf("second objective of A %v", ph.Fitness[1])
		}
	}
}

// rejectingOracle lets no individual pass the threshold.
type rejectingOracle struct{ fakeOracle }

func (r *rejectingOracle) Above(_ context.Context, objective int, _ [][]int, _ bool, _ float64) ([]int, bool, int, error) {
	r.objectives = append(r.objectives, objective)
	return nil, false, -1, nil
}

func TestPrivateAboveNothingPassedKeepsExactSecond(t *testing.T) {
	m := testModel(t, true)
	exact := map[string]float64{}
	for _, a := range []alloc.Assignment{candA, candB, candC} {
		exact[a.Key()] = m.Fitness(a, 1)
	}
	for _, method := range []Method{AboveAbsolute, AboveRelative} {
		o := &rejectingOracle{}
		p := newPipeline(t, Config{Kind: DualObjective, Method: method, Mode: PrivacyPreserving, Precision: 90}, m, o)
		out, err := p.Evaluate(context.Background(), NewAccumulator(), population(m, 1, candA, candB, candC))
		if err != nil {
			t.Fatalf("%s: %v", method, err)
		}
		if len(out) != 3 {
			t.Fatalf("%s: size %d", method, len(out))
		}
		if len(o.objectives) != 1 || o.objectives[0] != 0 {
			t.Fatalf("%s: only the first objective goes to the oracle: %v", method, o.objectives)
		}
		for _, ph := range out {
			a := m.Decode(ph.Genotype)
			if ph.Fitness[0] != 3 {
				t.Fatalf("%s: %v first objective %v want 3", method, a, ph.Fitness[0])
			}
			if ph.Fitness[1] != exact[a.Key()] {
				t.Fatalf("%s: %v second objective %v exact %v", method, a, ph.Fitness[1], exact[a.Key()])
			}
		}
	}
}

func TestPrivateAboveSelectedKeepsExactSecond(t *testing.T) {
	m := testModel(t, true)
	p := newPipeline(t, Config{Kind: DualObjective, Method: AboveAbsolute, Mode: PrivacyPreserving, Precision: 90}, m, &fakeOracle{})
	out, err := p.Evaluate(context.Background(), NewAccumulator(), population(m, 1, candB, candA))
	if err != nil {
		t.Fatal(err)
	}
	// only B passes and fills the population with its exact second objective
	for _, ph := range out {
		if !sameGenotype(m, ph, candB) || ph.Fitness[1] != 11 {
			t.Fatalf("got %v %v", m.Decode(ph.Genotype), ph.Fitness)
		}
	}
}

func TestPrivateActualValuesExactSecond(t *testing.T) {
	m := testModel(t, true)
	o := &fakeOracle{}
	p := newPipeline(t, Config{Kind: DualObjective, Method: ActualValues, Mode: PrivacyPreserving}, m, o)
	out, err := p.Evaluate(context.Background(), NewAccumulator(), population(m, 1, candA, candB))
	if err != nil {
		t.Fatal(err)
	}
	if len(o.objectives) != 1 || o.objectives[0] != 0 {
		t.Fatalf("only the first objective goes to the oracle: %v", o.objectives)
	}
	// oracle values 0 and 1: B first
	if !sameGenotype(m, out[0], candB) || out[0].Fitness != (opt.Fitness{1, 11}) {
		t.Fatalf("first %v %v", m.Decode(out[0].Genotype), out[0].Fitness)
	}
}

func TestOracleFailureIsReturned(t *testing.T) {
	m := testModel(t, false)
	boom := errors.New("engine down")
	p := newPipeline(t, Config{Kind: SingleObjective, Method: Order, Mode: PrivacyPreserving, Estimator: estimate.Linear}, m, &fakeOracle{err: boom})
	if _, err := p.Evaluate(context.Background(), NewAccumulator(), population(m, 1, candA, candB)); !errors.Is(err, boom) {
		t.Fatalf("expected oracle error, got %v", err)
	}
}

func TestDualFrontSnapshot(t *testing.T) {
	m := testModel(t, true)
	p := newPipeline(t, Config{Kind: DualObjective, Method: ActualValues}, m, nil)
	acc := NewAccumulator()
	// A = (30, 3), C = (25, 3), B = (21, 11)
	if _, err := p.Evaluate(context.Background(), acc, population(m, 1, candA, candB, candC)); err != nil {
		t.Fatal(err)
	}
	if len(acc.Front) != 3 {
		t.Fatalf("front %v", acc.Front)
	}
	if acc.Maximum != [2]float64{30, 11} {
		t.Fatalf("maximum %v", acc.Maximum)
	}
}

func TestAggregatedOrdering(t *testing.T) {
	m := testModel(t, true)
	p := newPipeline(t, Config{Kind: AggregatedObjective, Method: ActualValues, Precision: 1}, m, nil)
	out, err := p.Evaluate(context.Background(), NewAccumulator(), population(m, 1, candA, candB, candC))
	if err != nil {
		t.Fatal(err)
	}
	// one quantile: ordered by the second objective only
	if !sameGenotype(m, out[0], candB) {
		t.Fatalf("first %v", m.Decode(out[0].Genotype))
	}
	if out[0].Fitness[0] != 30 {
		t.Fatalf("scalar fitness %v", out[0].Fitness[0])
	}
}

func TestConfigValidation(t *testing.T) {
	m := testModel(t, false)
	cases := []Config{
		{Kind: SingleObjective, Method: Order, Mode: PrivacyPreserving, Estimator: estimate.Linear},
		{Kind: SingleObjective, Method: "MEDIAN", Mode: NonPrivacyPreserving},
		{Kind: DualObjective, Method: ActualValues, Mode: NonPrivacyPreserving},
		{Kind: SingleObjective, Method: AboveRelative, Mode: NonPrivacyPreserving},
		{Kind: SingleObjective, Method: FitnessRangeQuantiles, Mode: NonPrivacyPreserving, Precision: 5},
	}
	for i, c := range cases {
		if _, err := New(c, m, nil, nil); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}
