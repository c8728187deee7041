// Package estimate reconstructs plausible fitness curves from the few facts a privacy
// preserving evaluation reveals: how many values there are and the best one.
package estimate

import (
	"fmt"
	"math"
	"sort"
)

// Estimator returns size values starting at max and never increasing.
type Estimator interface {
	Estimate(size int, max float64) []float64
	EstimateRange(size int, max, min float64) []float64
}

// LowerBound is the floor used when only the maximum is known.
func LowerBound(max float64) float64 {
	if max > 0 {
		return 0
	}
	return max - math.Max(math.Abs(max), 1)
}

// shape maps position i of size to a fraction in [0,1], 0 at i=0, non-decreasing.
type shape func(i, size int) float64

type curve struct {
	name string
	f    shape
}

func (c curve) Estimate(size int, max float64) []float64 {
	return c.EstimateRange(size, max, LowerBound(max))
}

func (c curve) EstimateRange(size int, max, min float64) []float64 {
	if size <= 0 {
		return nil
	}
	if min > max {
		min = LowerBound(max)
	}
	out := make([]float64, size)
	for i := range out {
		out[i] = max - (max-min)*c.f(i, size)
	}
	out[0] = max
	return out
}

func (c curve) String() string { return c.name }

var (
	Linear = curve{"LINEAR", func(i, size int) float64 {
		return float64(i) / float64(size)
	}}
	Logarithmic = curve{"LOGARITHMIC", func(i, size int) float64 {
		return math.Log1p(float64(i)) / math.Log1p(float64(size))
	}}
	Sigmoid = curve{"SIGMOID", func(i, size int) float64 {
		const k = 10.0
		lo, hi := sigmoid(-k/2), sigmoid(k/2)
		return (sigmoid(k*(float64(i)/float64(size)-0.5)) - lo) / (hi - lo)
	}}
)

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

var registry = map[string]Estimator{
	Linear.name:      Linear,
	Logarithmic.name: Logarithmic,
	Sigmoid.name:     Sigmoid,
}

// Lookup resolves an estimator by name.
func Lookup(name string) (Estimator, error) {
	e, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("estimate: unknown estimator %q", name)
	}
	return e, nil
}

// Names lists the registered estimators.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
