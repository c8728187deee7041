package assign

import (
	"math/rand"
	"testing"
	"time"

	"gonum.org/v1/gonum/mat"

	"slotopt/internal/alloc"
)

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func slots(n int) []alloc.Slot {
	out := make([]alloc.Slot, n)
	for i := range out {
		out[i] = alloc.Slot{ID: string(rune('A' + i)), Time: t0.Add(time.Duration(i) * time.Minute)}
	}
	return out
}

func diagonalModel(t *testing.T) *alloc.Model {
	t.Helper()
	m, err := alloc.NewModel([]alloc.Flight{
		{ID: "F1", Weights: [][]float64{{10, 1, 2}, {8, 1, 1}}},
		{ID: "F2", Weights: [][]float64{{3, 10, 1}, {1, 8, 1}}},
		{ID: "F3", Weights: [][]float64{{2, 4, 10}, {1, 1, 8}}},
	}, slots(3))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestOptimumDiagonal(t *testing.T) {
	m := diagonalModel(t)
	res := Optimum(m, 0)
	if res.Value != 30 {
		t.Fatalf("optimum = %v, want 30", res.Value)
	}
	for f, s := range res.Assignment {
		if f != s {
			t.Fatalf("assignment %v is not the diagonal", res.Assignment)
		}
	}
	if got := TheoreticalMaxima(m); got[0] != 30 || got[1] != 24 {
		t.Fatalf("theoretical maxima %v", got)
	}
}

func TestHungarianBijectionAndRawSum(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 20; trial++ {
		rows, cols := 6, 4
		w := mat.NewDense(rows, cols, nil)
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				w.Set(i, j, float64(rng.Intn(50)))
			}
		}
		// a zero minimum keeps the shift uniform, so the optimum is comparable
		w.Set(rng.Intn(rows), rng.Intn(cols), 0)
		res := Hungarian(CostMatrix(w))
		used := map[int]bool{}
		var sum float64
		for row, col := range res {
			if col < 0 {
				continue
			}
			if used[col] {
				t.Fatalf("column %d used twice: %v", col, res)
			}
			used[col] = true
			sum += w.At(row, col)
		}
		if len(used) != cols {
			t.Fatalf("only %d of %d columns assigned", len(used), cols)
		}
		if best := bruteForce(w); sum != best {
			t.Fatalf("trial %d: sum %v, brute force %v", trial, sum, best)
		}
	}
}

// bruteForce maximises over all injective column->row maps.
func bruteForce(w *mat.Dense) float64 {
	rows, cols := w.Dims()
	best := -1e18
	used := make([]bool, rows)
	var rec func(col int, acc float64)
	rec = func(col int, acc float64) {
		if col == cols {
			if acc > best {
				best = acc
			}
			return
		}
		for r := 0; r < rows; r++ {
			if !used[r] {
				used[r] = true
				rec(col+1, acc+w.At(r, col))
				used[r] = false
			}
		}
	}
	rec(0, 0)
	return best
}

func TestShiftToZeroLeavesMinimum(t *testing.T) {
	d := mat.NewDense(1, 3, []float64{-4, 0, 2})
	ShiftToZero(d)
	if d.At(0, 0) != -4 || d.At(0, 1) != 4 || d.At(0, 2) != 6 {
		t.Fatalf("shift = %v", mat.Formatted(d))
	}
	Invert(d)
	if d.At(0, 2) != 0 || d.At(0, 0) != 10 {
		t.Fatalf("invert = %v", mat.Formatted(d))
	}
}

func TestOptimumRespectsSchedule(t *testing.T) {
	late := t0.Add(2 * time.Minute)
	m, err := alloc.NewModel([]alloc.Flight{
		{ID: "F1", ScheduledTime: &late, Weights: [][]float64{{100, 1, 1}}},
		{ID: "F2", Weights: [][]float64{{1, 1, 5}}},
	}, slots(3))
	if err != nil {
		t.Fatal(err)
	}
	res := Optimum(m, 0)
	if res.Assignment[0] != 2 {
		t.Fatalf("F1 must get the only slot after its schedule: %v", res.Assignment)
	}
	if res.Value != 2 {
		t.Fatalf("value %v", res.Value)
	}
}

func TestEstimateFrontContainsDiagonal(t *testing.T) {
	m := diagonalModel(t)
	front := EstimateFront(m, DefaultGranularity)
	if len(front) != 1 || front[0] != [2]float64{30, 24} {
		t.Fatalf("front = %v", front)
	}
}
