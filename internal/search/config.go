// Package search wires a slot allocation problem into the genetic engine: it builds
// the operators from their configured names, seeds the initial population and turns
// the final generation into results.
package search

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Termination keys.
const (
	WorstFitness                = "WORST_FITNESS"
	ByFitnessThreshold          = "BY_FITNESS_THRESHOLD"
	BySteadyFitness             = "BY_STEADY_FITNESS"
	ByFixedGeneration           = "BY_FIXED_GENERATION"
	ByExecutionTime             = "BY_EXECUTION_TIME"
	ByPopulationConvergence     = "BY_POPULATION_CONVERGENCE"
	ByFitnessConvergence        = "BY_FITNESS_CONVERGENCE"
	ByTheoreticalMaximumFitness = "BY_THEORETICAL_MAXIMUM_FITNESS"
)

// Config holds the engine parameters of one run. Zero values fall back to Defaults.
type Config struct {
	PopulationSize      int     `json:"populationSize,omitempty" yaml:"populationSize"`
	MaximalPhenotypeAge int     `json:"maximalPhenotypeAge,omitempty" yaml:"maximalPhenotypeAge"`
	OffspringFraction   float64 `json:"offspringFraction,omitempty" yaml:"offspringFraction"`

	Mutator                   string  `json:"mutator,omitempty" yaml:"mutator"`
	MutatorAlterProbability   float64 `json:"mutatorAlterProbability,omitempty" yaml:"mutatorAlterProbability"`
	Crossover                 string  `json:"crossover,omitempty" yaml:"crossover"`
	CrossoverAlterProbability float64 `json:"crossoverAlterProbability,omitempty" yaml:"crossoverAlterProbability"`

	OffspringSelector          string   `json:"offspringSelector,omitempty" yaml:"offspringSelector"`
	OffspringSelectorParameter *float64 `json:"offspringSelectorParameter,omitempty" yaml:"offspringSelectorParameter"`
	SurvivorsSelector          string   `json:"survivorsSelector,omitempty" yaml:"survivorsSelector"`
	SurvivorsSelectorParameter *float64 `json:"survivorsSelectorParameter,omitempty" yaml:"survivorsSelectorParameter"`

	// TerminationConditions maps a termination key to its parameter. BY_FITNESS_CONVERGENCE
	// takes an object with shortFilterSize, longFilterSize and epsilon.
	TerminationConditions map[string]any `json:"terminationConditions,omitempty" yaml:"terminationConditions"`

	// Deduplicate is nil when unset so that an explicit false overrides a true default.
	Deduplicate           *bool `json:"deduplicate,omitempty" yaml:"deduplicate"`
	DeduplicateMaxRetries int   `json:"deduplicateMaxRetries,omitempty" yaml:"deduplicateMaxRetries"`

	FitnessEstimator string `json:"fitnessEstimator,omitempty" yaml:"fitnessEstimator"`
	FitnessPrecision int    `json:"fitnessPrecision,omitempty" yaml:"fitnessPrecision"`
	SecondObfuscated bool   `json:"secondObfuscated,omitempty" yaml:"secondObfuscated"`

	UseActualFitness bool `json:"useActualFitness,omitempty" yaml:"useActualFitness"`
	TrackDuplicates  bool `json:"trackDuplicates,omitempty" yaml:"trackDuplicates"`
	TraceEvolution   bool `json:"traceFitnessEvolution,omitempty" yaml:"traceFitnessEvolution"`

	Seed int64 `json:"seed,omitempty" yaml:"seed"`
}

func Defaults() Config {
	return Config{
		PopulationSize:            50,
		MaximalPhenotypeAge:       70,
		OffspringFraction:         0.6,
		Mutator:                   "SWAP_MUTATOR",
		MutatorAlterProbability:   0.2,
		Crossover:                 "PARTIALLY_MATCHED_CROSSOVER",
		CrossoverAlterProbability: 0.35,
		OffspringSelector:         "TOURNAMENT_SELECTOR",
		SurvivorsSelector:         "TOURNAMENT_SELECTOR",
		TerminationConditions:     map[string]any{ByExecutionTime: 60},
		DeduplicateMaxRetries:     100,
		FitnessPrecision:          10,
	}
}

// Deduplicates reports whether offspring duplicates are replaced and duplicate
// generations skipped.
func (c Config) Deduplicates() bool {
	return c.Deduplicate != nil && *c.Deduplicate
}

// LoadDefaults reads a YAML file of defaults layered over the built-in ones. An empty
// path returns the built-in defaults.
func LoadDefaults(path string) (Config, error) {
	def := Defaults()
	if path == "" {
		return def, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return def, fmt.Errorf("read run defaults: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return def, fmt.Errorf("parse run defaults %s: %w", path, err)
	}
	return c.WithDefaults(def), nil
}

// WithDefaults fills every unset field from def.
func (c Config) WithDefaults(def Config) Config {
	if c.PopulationSize <= 0 {
		c.PopulationSize = def.PopulationSize
	}
	if c.MaximalPhenotypeAge <= 0 {
		c.MaximalPhenotypeAge = def.MaximalPhenotypeAge
	}
	if c.OffspringFraction <= 0 {
		c.OffspringFraction = def.OffspringFraction
	}
	if c.Mutator == "" {
		c.Mutator = def.Mutator
	}
	if c.MutatorAlterProbability <= 0 {
		c.MutatorAlterProbability = def.MutatorAlterProbability
	}
	if c.Crossover == "" {
		c.Crossover = def.Crossover
	}
	if c.CrossoverAlterProbability <= 0 {
		c.CrossoverAlterProbability = def.CrossoverAlterProbability
	}
	if c.OffspringSelector == "" {
		c.OffspringSelector = def.OffspringSelector
		if c.OffspringSelectorParameter == nil {
			c.OffspringSelectorParameter = def.OffspringSelectorParameter
		}
	}
	if c.SurvivorsSelector == "" {
		c.SurvivorsSelector = def.SurvivorsSelector
		if c.SurvivorsSelectorParameter == nil {
			c.SurvivorsSelectorParameter = def.SurvivorsSelectorParameter
		}
	}
	if len(c.TerminationConditions) == 0 {
		c.TerminationConditions = def.TerminationConditions
	}
	if c.Deduplicate == nil {
		c.Deduplicate = def.Deduplicate
	}
	if c.DeduplicateMaxRetries <= 0 {
		c.DeduplicateMaxRetries = def.DeduplicateMaxRetries
	}
	if c.FitnessEstimator == "" {
		c.FitnessEstimator = def.FitnessEstimator
	}
	if c.FitnessPrecision <= 0 {
		c.FitnessPrecision = def.FitnessPrecision
	}
	return c
}

// ConfigError reports an unknown operator name or a mistyped parameter. It is raised
// before a run starts.
type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// number accepts the numeric types produced by the JSON and YAML decoders.
func number(field string, v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		if err != nil {
			return 0, &ConfigError{Field: field, Value: v, Reason: err.Error()}
		}
		return f, nil
	}
	return 0, &ConfigError{Field: field, Value: v, Reason: "not a number"}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
