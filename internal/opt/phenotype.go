package opt

import (
	"context"
	"strconv"
	"strings"
)

// Genotype is a permutation of slot indices.
type Genotype []int

// Key is a comparable form of the genotype.
func (g Genotype) Key() string {
	var b strings.Builder
	for i, v := range g {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(v))
	}
	return b.String()
}

func (g Genotype) Clone() Genotype { return append(Genotype(nil), g...) }

// Fitness holds one value per objective; single objective runs use index 0.
type Fitness [2]float64

type Phenotype struct {
	Genotype   Genotype
	Fitness    Fitness
	Generation int  // generation the genotype was created in
	Evaluated  bool // false for placeholders returned by a skipped evaluation
}

// Evaluator assigns fitness to a whole generation at once. The returned population has
// the same size as the input.
type Evaluator interface {
	Evaluate(ctx context.Context, pop []Phenotype) ([]Phenotype, error)
}

type EvaluatorFunc func(ctx context.Context, pop []Phenotype) ([]Phenotype, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, pop []Phenotype) ([]Phenotype, error) {
	return f(ctx, pop)
}

// MaxGeneration is the generation number a population is identified by.
func MaxGeneration(pop []Phenotype) int {
	g := 0
	for _, p := range pop {
		if p.Generation > g {
			g = p.Generation
		}
	}
	return g
}
