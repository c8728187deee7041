package search

import (
	"fmt"
	"math"
	"sort"

	"slotopt/internal/estimate"
	"slotopt/internal/evaluation"
	"slotopt/internal/opt"
	"slotopt/internal/pareto"
)

var mutators = map[string]func() opt.Mutator{
	"SWAP_MUTATOR":                         func() opt.Mutator { return opt.Swap{} },
	"REVERSE_SEQUENCE_MUTATOR":             func() opt.Mutator { return opt.ReverseSequence{} },
	"RS_MUTATOR":                           func() opt.Mutator { return opt.ReverseSequence{} },
	"SHIFT_MUTATOR":                        func() opt.Mutator { return opt.Shift{} },
	"ARBITRARY_MUTATOR":                    func() opt.Mutator { return opt.Arbitrary{} },
	"HYBRID_SWAP_REVERSE_SEQUENCE_MUTATOR": func() opt.Mutator { return opt.HybridSwapReverse{SwapShare: 0.5} },
}

var crossovers = map[string]func() opt.Crossover{
	"PARTIALLY_MATCHED_CROSSOVER":   func() opt.Crossover { return opt.PartiallyMatched{} },
	"UNIFORM_ORDER_BASED_CROSSOVER": func() opt.Crossover { return opt.UniformOrderBased{} },
}

// selectorFactory builds a selector from its optional numeric parameter.
type selectorFactory func(param *float64) opt.Selector

func intParam(p *float64, def int) int {
	if p == nil {
		return def
	}
	return int(*p)
}

func floatParam(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

var singleSelectors = map[string]selectorFactory{
	"TOURNAMENT_SELECTOR":           func(p *float64) opt.Selector { return opt.Tournament{Size: intParam(p, 3)} },
	"TRUNCATION_SELECTOR":           func(*float64) opt.Selector { return opt.Truncation{} },
	"ROULETTE_WHEEL_SELECTOR":       func(*float64) opt.Selector { return opt.RouletteWheel{} },
	"STOCHASTIC_UNIVERSAL_SELECTOR": func(*float64) opt.Selector { return opt.StochasticUniversal{} },
	"LINEAR_RANK_SELECTOR":          func(p *float64) opt.Selector { return opt.LinearRank{NMinus: floatParam(p, 0.5)} },
	"EXPONENTIAL_RANK_SELECTOR":     func(p *float64) opt.Selector { return opt.ExponentialRank{C: floatParam(p, 0.975)} },
	"BOLTZMANN_SELECTOR":            func(p *float64) opt.Selector { return opt.Boltzmann{Beta: floatParam(p, 4)} },
}

var dualSelectors = map[string]selectorFactory{
	"TOURNAMENT_SELECTOR":    func(*float64) opt.Selector { return opt.ParetoTournament{} },
	"NSGA2_SELECTOR":         func(*float64) opt.Selector { return opt.NSGA2{} },
	"SPEA2_SELECTOR":         func(p *float64) opt.Selector { return opt.NewSPEA2(intParam(p, pareto.DefaultArchiveSize)) },
	"UT_TOURNAMENT_SELECTOR": func(p *float64) opt.Selector { return opt.UtilityTournament{Size: intParam(p, 2)} },
}

func mutator(name string) (opt.Mutator, error) {
	f, ok := mutators[name]
	if !ok {
		return nil, &ConfigError{Field: "mutator", Value: name, Reason: "unknown mutator, want one of " + keys(mutators)}
	}
	return f(), nil
}

func crossover(name string) (opt.Crossover, error) {
	f, ok := crossovers[name]
	if !ok {
		return nil, &ConfigError{Field: "crossover", Value: name, Reason: "unknown crossover, want one of " + keys(crossovers)}
	}
	return f(), nil
}

// selector resolves a selector name for the objective kind. Aggregated runs select on
// their single scalar.
func selector(field, name string, param *float64, kind evaluation.Kind) (opt.Selector, error) {
	reg := singleSelectors
	if kind == evaluation.DualObjective {
		reg = dualSelectors
	}
	f, ok := reg[name]
	if !ok {
		return nil, &ConfigError{Field: field, Value: name, Reason: fmt.Sprintf("unknown %s selector, want one of %s", kind, keys(reg))}
	}
	if param != nil && *param <= 0 {
		return nil, &ConfigError{Field: field + "Parameter", Value: *param, Reason: "must be positive"}
	}
	return f(param), nil
}

// Mutators lists the registered mutator names.
func Mutators() []string { return sortedKeys(mutators) }

func Crossovers() []string { return sortedKeys(crossovers) }

// Selectors lists the selector names valid for kind.
func Selectors(kind evaluation.Kind) []string {
	if kind == evaluation.DualObjective {
		return sortedKeys(dualSelectors)
	}
	return sortedKeys(singleSelectors)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func keys[V any](m map[string]V) string {
	return fmt.Sprint(sortedKeys(m))
}

// Validate resolves every operator name and termination condition of cfg without
// running anything.
func Validate(cfg Config, kind evaluation.Kind, mode evaluation.Mode) error {
	cfg = cfg.WithDefaults(Defaults())
	if _, err := mutator(cfg.Mutator); err != nil {
		return err
	}
	if _, err := crossover(cfg.Crossover); err != nil {
		return err
	}
	if _, err := selector("offspringSelector", cfg.OffspringSelector, cfg.OffspringSelectorParameter, kind); err != nil {
		return err
	}
	if _, err := selector("survivorsSelector", cfg.SurvivorsSelector, cfg.SurvivorsSelectorParameter, kind); err != nil {
		return err
	}
	if cfg.FitnessEstimator != "" {
		if _, err := estimate.Lookup(cfg.FitnessEstimator); err != nil {
			return &ConfigError{Field: "fitnessEstimator", Value: cfg.FitnessEstimator, Reason: err.Error()}
		}
	}
	tmax := math.NaN()
	if mode.Reference() {
		tmax = 0
	}
	_, err := limit(cfg.TerminationConditions, tmax, nil)
	return err
}
