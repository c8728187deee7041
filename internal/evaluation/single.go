package evaluation

import (
	"context"
	"fmt"
	"math"
	"sort"

	"slotopt/internal/opt"
)

// populationEvaluation is the raw outcome of the evaluation step, before estimation.
type populationEvaluation struct {
	evaluated []opt.Phenotype // sorted best first, may be a subset for above methods
	buckets   [2][]int        // per population index, quantile methods only
	best      [2]opt.Genotype
	max       [2]float64         // maximum used for estimation
	observed  [2]float64         // maximum used for statistics
	second    map[string]float64 // exact second objective by genotype key, whole population
}

func (p *Pipeline) evaluateSingle(ctx context.Context, acc *Accumulator, pop []opt.Phenotype, step *TracePoint) ([]opt.Phenotype, error) {
	var (
		ev  populationEvaluation
		err error
	)
	switch p.cfg.Method {
	case Order, OrderQuantiles:
		ev, err = p.order(ctx, acc, pop, step, 1)
	case AboveAbsolute, AboveRelative:
		ev, err = p.above(ctx, acc, pop, step, 1)
	case FitnessRangeQuantiles:
		ev, err = p.rangeQuantiles(ctx, acc, pop, step, 1)
	case ActualValues:
		ev, err = p.actual(ctx, acc, pop, step, 1)
	}
	if err != nil {
		return nil, err
	}

	var out []opt.Phenotype
	switch p.cfg.Method {
	case Order, OrderQuantiles:
		out = p.estimateOrder(pop, ev, 1)
	case AboveAbsolute, AboveRelative:
		out = p.estimateAbove(pop, ev, 1)
	case FitnessRangeQuantiles:
		out = p.estimateRange(pop, ev, 1)
	case ActualValues:
		out = ev.evaluated
	}
	if step != nil {
		step.Estimated = fitnesses(out)
	}
	out = p.devalue(acc, out, 1)

	if ev.observed[0] >= acc.Maximum[0] {
		acc.Results = p.decodeDistinct(out)
		acc.Maximum[0] = ev.observed[0]
	}
	return out, nil
}

// order ranks the population. Exact values are sorted descending; the privacy engine
// returns the order and an obfuscated maximum per objective.
func (p *Pipeline) order(ctx context.Context, acc *Accumulator, pop []opt.Phenotype, step *TracePoint, objectives int) (populationEvaluation, error) {
	var ev populationEvaluation
	if p.cfg.Mode.Private() {
		enc := p.encode(acc, pop)
		exactSecond := objectives == 2 && !p.cfg.SecondObfuscated
		var second []opt.Phenotype
		if exactSecond {
			second = p.exact(acc, pop)
		}
		for k := 0; k < objectives; k++ {
			if !p.cfg.obfuscated(k) {
				continue
			}
			order, max, err := p.oracle.Order(ctx, k, enc)
			if err != nil {
				return ev, fmt.Errorf("evaluation: population order: %w", err)
			}
			if err := checkPermutation(order, len(pop)); err != nil {
				return ev, fmt.Errorf("evaluation: population order: %w", err)
			}
			ev.max[k], ev.observed[k] = max, max
			if k == 0 {
				ev.evaluated = make([]opt.Phenotype, len(order))
				for i, idx := range order {
					ev.evaluated[i] = pop[idx]
					if exactSecond {
						ev.evaluated[i].Fitness[1] = second[idx].Fitness[1]
					}
				}
			} else {
				ev.buckets[1] = rankOf(order)
			}
		}
		if exactSecond {
			ev.max[1] = maxOf(second, 1)
			ev.observed[1] = ev.max[1]
		}
		return ev, nil
	}

	ev.evaluated = p.exact(acc, pop)
	sortBy(ev.evaluated, 0)
	if step != nil {
		step.Evaluated = fitnesses(ev.evaluated)
		if objectives == 2 {
			step.Evaluated = frontOf(step.Evaluated)
		}
	}
	for k := 0; k < objectives; k++ {
		bi := argMax(ev.evaluated, k)
		top := ev.evaluated[bi].Fitness[k]
		ev.best[k] = ev.evaluated[bi].Genotype
		ev.observed[k] = top
		ev.max[k] = top
	}
	return ev, nil
}

// estimateOrder replaces each fitness by the estimator value at its rank. Without an
// estimator the exact values are kept.
func (p *Pipeline) estimateOrder(pop []opt.Phenotype, ev populationEvaluation, objectives int) []opt.Phenotype {
	out := append([]opt.Phenotype(nil), ev.evaluated...)
	if p.cfg.Estimator == nil {
		return out
	}
	size := len(pop)
	if p.cfg.Method == OrderQuantiles {
		size = p.cfg.Precision
	}
	at := func(values []float64, rank int) float64 {
		return values[int(float64(rank)/float64(len(pop))*float64(size))]
	}
	values := p.cfg.Estimator.Estimate(size, ev.max[0])
	for i := range out {
		out[i].Fitness[0] = math.Trunc(at(values, i))
	}
	if objectives == 2 && p.cfg.SecondObfuscated {
		second := p.cfg.Estimator.Estimate(size, ev.max[1])
		ranks := ev.buckets[1]
		if ranks == nil {
			// exact mode: rank by the second objective among the evaluated list
			ranks = rankBy(out, 1)
			for i := range out {
				out[i].Fitness[1] = math.Trunc(at(second, ranks[i]))
			}
		} else {
			index := indexOf(pop)
			for i := range out {
				out[i].Fitness[1] = math.Trunc(at(second, ranks[index[out[i].Genotype.Key()]]))
			}
		}
	}
	sortBy(out, 0)
	return out
}

// above keeps the individuals that pass the threshold of the configured method.
func (p *Pipeline) above(ctx context.Context, acc *Accumulator, pop []opt.Phenotype, step *TracePoint, objectives int) (populationEvaluation, error) {
	relative := p.cfg.Method == AboveRelative
	if p.cfg.Mode.Private() {
		var ev populationEvaluation
		enc := p.encode(acc, pop)
		selected := make([]bool, len(pop))
		var exactValues []opt.Phenotype
		if objectives == 2 && !p.cfg.SecondObfuscated {
			exactValues = p.exact(acc, pop)
		}
		for k := 0; k < objectives; k++ {
			if !p.cfg.obfuscated(k) {
				continue
			}
			indices, improved, highest, err := p.oracle.Above(ctx, k, enc, relative, float64(p.cfg.Precision))
			if err != nil {
				return ev, fmt.Errorf("evaluation: individuals above: %w", err)
			}
			for _, i := range indices {
				if i < 0 || i >= len(pop) {
					return ev, fmt.Errorf("evaluation: individuals above: index %d out of range", i)
				}
				selected[i] = true
			}
			if highest >= 0 && highest < len(pop) {
				ev.best[k] = pop[highest].Genotype
			}
			ev.max[k] = acc.bump(k, improved, len(pop))
			ev.observed[k] = ev.max[k]
		}
		for i, ok := range selected {
			if !ok {
				continue
			}
			ph := pop[i]
			if exactValues != nil {
				ph.Fitness[1] = exactValues[i].Fitness[1]
			}
			ev.evaluated = append(ev.evaluated, ph)
		}
		if exactValues != nil {
			ev.second = secondByKey(exactValues)
		}
		return ev, nil
	}

	ev, err := p.order(ctx, acc, pop, step, objectives)
	if err != nil {
		return ev, err
	}
	if objectives == 2 && !p.cfg.SecondObfuscated {
		ev.second = secondByKey(ev.evaluated)
	}
	var thresholds [2]float64
	for k := 0; k < objectives; k++ {
		thresholds[k] = threshold(ev.evaluated, k, relative, float64(p.cfg.Precision))
	}
	var kept []opt.Phenotype
	for _, ph := range ev.evaluated {
		if ph.Fitness[0] >= thresholds[0] || (objectives == 2 && p.cfg.SecondObfuscated && ph.Fitness[1] >= thresholds[1]) {
			kept = append(kept, ph)
		}
	}
	ev.evaluated = kept
	return ev, nil
}

func secondByKey(pop []opt.Phenotype) map[string]float64 {
	out := make(map[string]float64, len(pop))
	for _, ph := range pop {
		out[ph.Genotype.Key()] = ph.Fitness[1]
	}
	return out
}

// threshold computes the cut-off value of an above method from exact values.
func threshold(pop []opt.Phenotype, k int, relative bool, percentage float64) float64 {
	values := make([]float64, len(pop))
	for i, ph := range pop {
		values[i] = ph.Fitness[k]
	}
	sort.Float64s(values)
	if relative {
		idx := int(math.Ceil((100 - percentage) / 100 * float64(len(values))))
		idx = max(0, min(idx, len(values)-1))
		return values[idx]
	}
	top := values[len(values)-1]
	if top < 0 {
		return top * (1 + (1 - percentage/100))
	}
	return top * percentage / 100
}

// estimateAbove gives every selected individual the signalled maximum, the best one
// maximum+1, and refills the population by repeating the selection.
func (p *Pipeline) estimateAbove(pop []opt.Phenotype, ev populationEvaluation, objectives int) []opt.Phenotype {
	selected := make(map[string]bool, len(ev.evaluated))
	for _, ph := range ev.evaluated {
		selected[ph.Genotype.Key()] = true
	}
	signal := func(ph opt.Phenotype) opt.Phenotype {
		ph.Fitness[0] = ev.max[0]
		if objectives == 2 {
			if p.cfg.SecondObfuscated {
				ph.Fitness[1] = ev.max[1]
			} else {
				ph.Fitness[1] = ev.second[ph.Genotype.Key()]
			}
		}
		return ph
	}
	var out []opt.Phenotype
	for _, ph := range pop {
		if selected[ph.Genotype.Key()] {
			out = append(out, signal(ph))
		}
	}
	if len(out) == 0 {
		// nothing passed: the whole population sits at the signalled maximum
		for _, ph := range pop {
			out = append(out, signal(ph))
		}
	}
	for k := 0; k < objectives; k++ {
		if ev.best[k] == nil || !p.cfg.obfuscated(k) || ev.max[k] >= p.cfg.theoretical(k) {
			continue
		}
		key := ev.best[k].Key()
		for i := range out {
			if out[i].Genotype.Key() == key {
				out[i].Fitness[k] = ev.max[k] + 1
			}
		}
	}
	for len(out) < len(pop) {
		out = append(out, out...)
	}
	out = out[:len(pop)]
	sortBy(out, 0)
	return out
}

// rangeQuantiles assigns every individual a bucket of a fixed-width fitness window.
func (p *Pipeline) rangeQuantiles(ctx context.Context, acc *Accumulator, pop []opt.Phenotype, step *TracePoint, objectives int) (populationEvaluation, error) {
	var ev populationEvaluation
	precision := p.cfg.Precision
	if p.cfg.Mode.Private() {
		enc := p.encode(acc, pop)
		if objectives == 2 && !p.cfg.SecondObfuscated {
			ev.evaluated = p.exact(acc, pop)
			ev.max[1] = maxOf(ev.evaluated, 1)
			ev.observed[1] = ev.max[1]
		} else {
			ev.evaluated = append([]opt.Phenotype(nil), pop...)
		}
		for k := 0; k < objectives; k++ {
			if !p.cfg.obfuscated(k) {
				continue
			}
			buckets, max, err := p.oracle.Quantiles(ctx, k, enc, precision)
			if err != nil {
				return ev, fmt.Errorf("evaluation: fitness quantiles: %w", err)
			}
			if len(buckets) != len(pop) {
				return ev, fmt.Errorf("evaluation: fitness quantiles: %d buckets for %d individuals", len(buckets), len(pop))
			}
			ev.buckets[k] = clampBuckets(buckets, precision)
			ev.max[k], ev.observed[k] = max, max
		}
		return ev, nil
	}

	ev.evaluated = p.exact(acc, pop)
	if step != nil {
		step.Evaluated = fitnesses(ev.evaluated)
		if objectives == 2 {
			step.Evaluated = frontOf(step.Evaluated)
		}
	}
	for k := 0; k < objectives; k++ {
		bi := argMax(ev.evaluated, k)
		top := ev.evaluated[bi].Fitness[k]
		ev.best[k] = ev.evaluated[bi].Genotype
		ev.observed[k] = top
		ev.max[k] = top
		if !p.cfg.obfuscated(k) {
			continue
		}
		bottom := ev.evaluated[argMin(ev.evaluated, k)].Fitness[k]
		window := (top-bottom)/float64(precision) + 0.01
		buckets := make([]int, len(pop))
		for i, ph := range ev.evaluated {
			buckets[i] = int((top - ph.Fitness[k]) / window)
		}
		ev.buckets[k] = clampBuckets(buckets, precision)
	}
	return ev, nil
}

// estimateRange maps each bucket to the estimator value anchored at the maximum and a
// synthetic minimum well below it.
func (p *Pipeline) estimateRange(pop []opt.Phenotype, ev populationEvaluation, objectives int) []opt.Phenotype {
	out := append([]opt.Phenotype(nil), ev.evaluated...)
	for k := 0; k < objectives; k++ {
		if !p.cfg.obfuscated(k) || ev.buckets[k] == nil {
			continue
		}
		max := ev.max[k]
		lo := max - 2*math.Abs(max) - math.Abs(max)*0.0001
		values := p.cfg.Estimator.EstimateRange(p.cfg.Precision, max, lo)
		for i := range out {
			out[i].Fitness[k] = math.Trunc(values[ev.buckets[k][i]])
		}
		if ev.best[k] != nil && !p.useActual && max < p.cfg.theoretical(k) {
			key := ev.best[k].Key()
			for i := range out {
				if out[i].Genotype.Key() == key {
					out[i].Fitness[k] = max + 1
				}
			}
		}
	}
	sortBy(out, 0)
	return out
}

// actual fetches true values: exactly, or per individual from the privacy engine.
func (p *Pipeline) actual(ctx context.Context, acc *Accumulator, pop []opt.Phenotype, step *TracePoint, objectives int) (populationEvaluation, error) {
	if !p.cfg.Mode.Private() {
		return p.order(ctx, acc, pop, step, objectives)
	}
	var ev populationEvaluation
	enc := p.encode(acc, pop)
	out := append([]opt.Phenotype(nil), pop...)
	if objectives == 2 && !p.cfg.SecondObfuscated {
		out = p.exact(acc, pop)
	}
	for k := 0; k < objectives; k++ {
		if !p.cfg.obfuscated(k) {
			continue
		}
		values, err := p.oracle.ActualValues(ctx, k, enc)
		if err != nil {
			return ev, fmt.Errorf("evaluation: actual fitness values: %w", err)
		}
		if len(values) != len(pop) {
			return ev, fmt.Errorf("evaluation: actual fitness values: %d values for %d individuals", len(values), len(pop))
		}
		for i := range out {
			out[i].Fitness[k] = values[i]
		}
	}
	sortBy(out, 0)
	ev.evaluated = out
	for k := 0; k < objectives; k++ {
		ev.max[k] = maxOf(out, k)
		ev.observed[k] = ev.max[k]
	}
	return ev, nil
}

func argMax(pop []opt.Phenotype, k int) int {
	best := 0
	for i, ph := range pop {
		if ph.Fitness[k] > pop[best].Fitness[k] {
			best = i
		}
	}
	return best
}

func argMin(pop []opt.Phenotype, k int) int {
	worst := 0
	for i, ph := range pop {
		if ph.Fitness[k] < pop[worst].Fitness[k] {
			worst = i
		}
	}
	return worst
}

func maxOf(pop []opt.Phenotype, k int) float64 {
	return pop[argMax(pop, k)].Fitness[k]
}

func clampBuckets(buckets []int, precision int) []int {
	out := make([]int, len(buckets))
	for i, b := range buckets {
		out[i] = max(0, min(b, precision-1))
	}
	return out
}

// rankOf inverts an order: rank[individual] = position.
func rankOf(order []int) []int {
	rank := make([]int, len(order))
	for pos, i := range order {
		rank[i] = pos
	}
	return rank
}

// rankBy ranks the members of pop by objective k, descending.
func rankBy(pop []opt.Phenotype, k int) []int {
	idx := make([]int, len(pop))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return pop[idx[a]].Fitness[k] > pop[idx[b]].Fitness[k] })
	return rankOf(idx)
}

func indexOf(pop []opt.Phenotype) map[string]int {
	out := make(map[string]int, len(pop))
	for i, ph := range pop {
		if _, ok := out[ph.Genotype.Key()]; !ok {
			out[ph.Genotype.Key()] = i
		}
	}
	return out
}
