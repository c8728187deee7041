package search

import (
	"math"
	"sync/atomic"

	"slotopt/internal/opt"
)

// limit composes the configured termination conditions with the cancellation flag.
// theoreticalMax is NaN when the run has no reference optimum.
func limit(conds map[string]any, theoreticalMax float64, interrupted *atomic.Bool) (opt.Limit, error) {
	var limits []opt.Limit
	for _, key := range sortedKeys(conds) {
		l, err := termination(key, conds[key], theoreticalMax)
		if err != nil {
			return nil, err
		}
		limits = append(limits, l)
	}
	if interrupted != nil {
		limits = append(limits, opt.Interrupted(interrupted))
	}
	return opt.All(limits...), nil
}

func termination(key string, v any, theoreticalMax float64) (opt.Limit, error) {
	field := "terminationConditions." + key
	if key == ByFitnessConvergence {
		params, ok := v.(map[string]any)
		if !ok {
			return nil, &ConfigError{Field: field, Value: v, Reason: "want shortFilterSize, longFilterSize and epsilon"}
		}
		short, err := number(field+".shortFilterSize", params["shortFilterSize"])
		if err != nil {
			return nil, err
		}
		long, err := number(field+".longFilterSize", params["longFilterSize"])
		if err != nil {
			return nil, err
		}
		eps, err := number(field+".epsilon", params["epsilon"])
		if err != nil {
			return nil, err
		}
		return opt.ByFitnessConvergence(int(short), int(long), eps), nil
	}
	if key == ByTheoreticalMaximumFitness {
		if math.IsNaN(theoreticalMax) {
			return nil, &ConfigError{Field: field, Value: v, Reason: "needs a DEMONSTRATION or BENCHMARKING run"}
		}
		return opt.ByFitnessThreshold(theoreticalMax - 1), nil
	}

	n, err := number(field, v)
	if err != nil {
		return nil, err
	}
	switch key {
	case WorstFitness:
		return opt.WorstFitness(n), nil
	case ByFitnessThreshold:
		return opt.ByFitnessThreshold(n), nil
	case BySteadyFitness:
		return opt.BySteadyFitness(int(n)), nil
	case ByFixedGeneration:
		return opt.ByFixedGeneration(int(n)), nil
	case ByExecutionTime:
		return opt.ByExecutionTime(seconds(n)), nil
	case ByPopulationConvergence:
		return opt.ByPopulationConvergence(n), nil
	}
	return nil, &ConfigError{Field: "terminationConditions", Value: key, Reason: "unknown termination condition"}
}
