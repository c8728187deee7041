package assign

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Hungarian solves the rectangular minimum-cost assignment problem. It returns, for each
// row, the assigned column, or -1 when the row stays unassigned (more rows than columns).
func Hungarian(cost mat.Matrix) []int {
	r, c := cost.Dims()
	a := cost
	transposed := r > c
	if transposed {
		a = cost.T()
	}
	n, m := a.Dims() // n <= m

	// potentials over 1-based rows/columns; column 0 is the virtual start
	u := make([]float64, n+1)
	v := make([]float64, m+1)
	p := make([]int, m+1)
	way := make([]int, m+1)
	minv := make([]float64, m+1)
	used := make([]bool, m+1)
	for i := 1; i <= n; i++ {
		p[0] = i
		j0 := 0
		for j := range minv {
			minv[j] = math.Inf(1)
			used[j] = false
		}
		for {
			used[j0] = true
			i0 := p[j0]
			delta := math.Inf(1)
			j1 := 0
			for j := 1; j <= m; j++ {
				if used[j] {
					continue
				}
				cur := a.At(i0-1, j-1) - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			for j := 0; j <= m; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}
		for j0 != 0 {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
		}
	}

	rowToCol := make([]int, n)
	for j := 1; j <= m; j++ {
		if p[j] != 0 {
			rowToCol[p[j]-1] = j - 1
		}
	}
	if !transposed {
		return rowToCol
	}
	out := make([]int, r)
	for i := range out {
		out[i] = -1
	}
	for col, row := range rowToCol {
		out[row] = col
	}
	return out
}
