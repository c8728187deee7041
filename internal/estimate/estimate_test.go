package estimate

import (
	"math/rand"
	"testing"
)

func TestEstimatorContract(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for _, name := range Names() {
		e, err := Lookup(name)
		if err != nil {
			t.Fatal(err)
		}
		for trial := 0; trial < 200; trial++ {
			size := 1 + rng.Intn(120)
			max := float64(rng.Intn(20000) - 10000)
			out := e.Estimate(size, max)
			if len(out) != size {
				t.Fatalf("%s: len %d want %d", name, len(out), size)
			}
			if out[0] != max {
				t.Fatalf("%s: first %v want %v", name, out[0], max)
			}
			for i := 1; i < len(out); i++ {
				if out[i] > out[i-1] {
					t.Fatalf("%s: increasing at %d for max %v: %v > %v", name, i, max, out[i], out[i-1])
				}
			}
		}
	}
}

func TestEstimateRangeStaysAboveMin(t *testing.T) {
	out := Linear.EstimateRange(4, 100, 20)
	want := []float64{100, 80, 60, 40}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("linear = %v want %v", out, want)
		}
	}
}

func TestLookupUnknown(t *testing.T) {
	if _, err := Lookup("QUADRATIC"); err == nil {
		t.Fatalf("expected error")
	}
}
