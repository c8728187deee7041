package evaluation

import (
	"context"
	"math"
	"sort"

	"slotopt/internal/estimate"
	"slotopt/internal/opt"
	"slotopt/internal/pareto"
)

func (p *Pipeline) evaluateDual(ctx context.Context, acc *Accumulator, pop []opt.Phenotype, step *TracePoint) ([]opt.Phenotype, error) {
	var (
		ev  populationEvaluation
		err error
		out []opt.Phenotype
	)
	switch p.cfg.Method {
	case Order, OrderQuantiles:
		if ev, err = p.order(ctx, acc, pop, step, 2); err == nil {
			out = p.estimateOrder(pop, ev, 2)
		}
	case AboveAbsolute, AboveRelative:
		if ev, err = p.above(ctx, acc, pop, step, 2); err == nil {
			out = p.estimateAbove(pop, ev, 2)
		}
	case FitnessRangeQuantiles:
		if ev, err = p.rangeQuantiles(ctx, acc, pop, step, 2); err == nil {
			out = p.estimateRange(pop, ev, 2)
		}
	case ActualValues:
		if ev, err = p.actual(ctx, acc, pop, step, 2); err == nil {
			out = ev.evaluated
		}
	}
	if err != nil {
		return nil, err
	}
	if step != nil {
		step.Estimated = frontOf(fitnesses(out))
	}
	out = p.devalue(acc, out, 2)

	points := make([][2]float64, len(out))
	for i, ph := range out {
		points[i] = ph.Fitness
	}
	acc.Front = pareto.StrictFront(points)
	for k := 0; k < 2; k++ {
		acc.Maximum[k] = math.Max(acc.Maximum[k], ev.observed[k])
	}
	return out, nil
}

// evaluateAggregated reduces both objectives to one value: the population is cut into
// quantiles of the first objective, quantiles are ranked best first and members of a
// quantile by the second objective. Estimated values are then handed out by position.
func (p *Pipeline) evaluateAggregated(ctx context.Context, acc *Accumulator, pop []opt.Phenotype, step *TracePoint) ([]opt.Phenotype, error) {
	ev, err := p.actual(ctx, acc, pop, step, 2)
	if err != nil {
		return nil, err
	}
	n := len(ev.evaluated)
	ranked := append([]opt.Phenotype(nil), ev.evaluated...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Fitness[0] < ranked[j].Fitness[0] })
	quantile := func(i int) int { return i * p.cfg.Precision / n }
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		qa, qb := quantile(order[a]), quantile(order[b])
		if qa != qb {
			return qa > qb
		}
		return ranked[order[a]].Fitness[1] > ranked[order[b]].Fitness[1]
	})

	est := p.cfg.Estimator
	if est == nil {
		est = estimate.Linear
	}
	values := est.Estimate(n, ranked[n-1].Fitness[0])

	var valid [][2]float64
	out := make([]opt.Phenotype, n)
	for pos, i := range order {
		ph := ranked[i]
		if p.model.Violations(p.model.Decode(ph.Genotype)) == 0 {
			valid = append(valid, ph.Fitness)
		}
		ph.Fitness[0] = math.Trunc(values[pos])
		out[pos] = ph
	}
	if step != nil {
		step.Estimated = fitnesses(out)
	}
	out = p.devalue(acc, out, 1)

	acc.Front = pareto.StrictFront(valid)
	for _, v := range valid {
		acc.Maximum[0] = math.Max(acc.Maximum[0], v[0])
		acc.Maximum[1] = math.Max(acc.Maximum[1], v[1])
	}
	return out, nil
}
