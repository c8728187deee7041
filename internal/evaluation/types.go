// Package evaluation turns a generation of candidate assignments into fitness values,
// either from the exact weights or from the obfuscated signals of a privacy engine.
package evaluation

import (
	"context"
	"fmt"
	"math"

	"slotopt/internal/estimate"
)

// Kind selects how many objectives a run optimises and how they are combined.
type Kind int

const (
	SingleObjective Kind = iota
	DualObjective
	AggregatedObjective
)

func (k Kind) String() string {
	switch k {
	case SingleObjective:
		return "SINGLE_OBJECTIVE"
	case DualObjective:
		return "DUAL_OBJECTIVE"
	case AggregatedObjective:
		return "AGGREGATED_OBJECTIVE"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

type Method string

const (
	Order                 Method = "ORDER"
	OrderQuantiles        Method = "ORDER_QUANTILES"
	AboveAbsolute         Method = "ABOVE_ABSOLUTE"
	AboveRelative         Method = "ABOVE_RELATIVE"
	FitnessRangeQuantiles Method = "FITNESS_RANGE_QUANTILES"
	ActualValues          Method = "ACTUAL_VALUES"
)

func (m Method) Valid() bool {
	switch m {
	case Order, OrderQuantiles, AboveAbsolute, AboveRelative, FitnessRangeQuantiles, ActualValues:
		return true
	}
	return false
}

type Mode string

const (
	PrivacyPreserving    Mode = "PRIVACY_PRESERVING"
	NonPrivacyPreserving Mode = "NON_PRIVACY_PRESERVING"
	Demonstration        Mode = "DEMONSTRATION"
	Benchmarking         Mode = "BENCHMARKING"
)

func (m Mode) Valid() bool {
	switch m {
	case PrivacyPreserving, NonPrivacyPreserving, Demonstration, Benchmarking:
		return true
	}
	return false
}

// Private reports whether evaluation must go through the privacy engine.
func (m Mode) Private() bool { return m == PrivacyPreserving }

// Reference reports whether exact reference values (theoretical maxima, estimated
// front) are computed for the run.
func (m Mode) Reference() bool { return m == Demonstration || m == Benchmarking }

// Oracle is the privacy engine as seen by the pipeline. Populations are rank encoded.
type Oracle interface {
	Order(ctx context.Context, objective int, population [][]int) (order []int, max float64, err error)
	Above(ctx context.Context, objective int, population [][]int, relative bool, percentage float64) (indices []int, improved bool, highest int, err error)
	Quantiles(ctx context.Context, objective int, population [][]int, precision int) (buckets []int, max float64, err error)
	ActualValues(ctx context.Context, objective int, population [][]int) ([]float64, error)
}

// Config is fixed for the lifetime of a run.
type Config struct {
	Kind      Kind
	Method    Method
	Mode      Mode
	Estimator estimate.Estimator // nil keeps exact values where the mode allows it

	// Precision is the bucket count of the quantile methods and the threshold
	// percentage of the above methods.
	Precision int

	Deduplicate      bool
	TrackDuplicates  bool
	UseActualFitness bool
	SecondObfuscated bool
	TraceEvolution   bool

	// TheoreticalMax holds the exact optimum per objective when known.
	TheoreticalMax []float64
	Workers        int
}

func (c Config) theoretical(k int) float64 {
	if k < len(c.TheoreticalMax) {
		return c.TheoreticalMax[k]
	}
	return math.Inf(1)
}

// obfuscated reports whether objective k goes through estimation.
func (c Config) obfuscated(k int) bool {
	return k == 0 || c.SecondObfuscated
}

func (c Config) validate(objectives int, oracle Oracle) error {
	if !c.Method.Valid() {
		return fmt.Errorf("unknown fitness method %q", c.Method)
	}
	if !c.Mode.Valid() {
		return fmt.Errorf("unknown optimization mode %q", c.Mode)
	}
	switch c.Kind {
	case SingleObjective:
	case DualObjective, AggregatedObjective:
		if objectives != 2 {
			return fmt.Errorf("%s needs two weight vectors per flight, got %d", c.Kind, objectives)
		}
	default:
		return fmt.Errorf("unknown objective kind %d", int(c.Kind))
	}
	if c.Mode.Private() && oracle == nil {
		return fmt.Errorf("mode %s needs a privacy engine", c.Mode)
	}
	switch c.Method {
	case Order, OrderQuantiles:
		if c.Mode.Private() && c.Estimator == nil && c.Kind != AggregatedObjective {
			return fmt.Errorf("method %s in mode %s needs a fitness estimator", c.Method, c.Mode)
		}
	case FitnessRangeQuantiles:
		if c.Estimator == nil && c.Kind != AggregatedObjective {
			return fmt.Errorf("method %s needs a fitness estimator", c.Method)
		}
	case AboveAbsolute, AboveRelative:
		if c.Precision <= 0 || c.Precision > 100 {
			return fmt.Errorf("method %s needs a fitness precision in (0,100], got %d", c.Method, c.Precision)
		}
	}
	if (c.Method == OrderQuantiles || c.Method == FitnessRangeQuantiles || c.Kind == AggregatedObjective) && c.Precision < 1 {
		return fmt.Errorf("fitness precision must be positive, got %d", c.Precision)
	}
	return nil
}
