// Package cholesky computes a generalized Cholesky decomposition of a
// symmetric positive semi-definite matrix.
//
// The matrix A is factored as L D Lᵀ, where L is unit lower triangular
// and D is diagonal.  Pivots that are numerically zero are set to
// exactly zero and their column of L is cleared, so that the
// decomposition, the solver and the generalized inverse all remain
// well-defined for rank deficient matrices.  The factor is stored in
// place: D occupies the diagonal and L the strict lower triangle.
package cholesky

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Factor is an in-place L D Lᵀ factorization produced by Decompose.
type Factor struct {
	m      *mat.Dense
	dim    int
	rank   int
	nonneg bool
}

// Decompose factors the symmetric matrix a in place and returns the
// factor.  Only the lower triangle of a is read; it is first copied
// into the upper triangle.  A pivot smaller than toler times the
// largest diagonal element of a is treated as zero.  Decompose never
// fails on numerical grounds; use Rank, NonNeg and FullRank to inspect
// the outcome.
//
// An empty matrix (the zero value of mat.Dense) is accepted and gives a
// factor of dimension and rank zero.
func Decompose(a *mat.Dense, toler float64) *Factor {

	n, c := a.Dims()
	if n != c {
		msg := fmt.Sprintf("cholesky: matrix is %d x %d, not square", n, c)
		panic(msg)
	}

	var eps float64
	for i := 0; i < n; i++ {
		if d := a.At(i, i); d > eps {
			eps = d
		}
		for j := 0; j < i; j++ {
			a.Set(j, i, a.At(i, j))
		}
	}
	if eps == 0 {
		eps = toler
	} else {
		eps *= toler
	}

	f := &Factor{
		m:      a,
		dim:    n,
		nonneg: true,
	}

	for i := 0; i < n; i++ {
		pivot := a.At(i, i)
		if math.IsNaN(pivot) || math.IsInf(pivot, 0) || pivot < eps {
			if pivot < -8*eps {
				f.nonneg = false
			}
			a.Set(i, i, 0)
			for j := i + 1; j < n; j++ {
				a.Set(j, i, 0)
			}
			continue
		}

		f.rank++
		for j := i + 1; j < n; j++ {
			temp := a.At(j, i) / pivot
			a.Set(j, i, temp)
			a.Set(j, j, a.At(j, j)-temp*temp*pivot)
			for k := j + 1; k < n; k++ {
				a.Set(k, j, a.At(k, j)-temp*a.At(k, i))
			}
		}
	}

	return f
}

// Dim returns the number of rows (and columns) of the factored matrix.
func (f *Factor) Dim() int {
	return f.dim
}

// Rank returns the number of pivots that were retained.
func (f *Factor) Rank() int {
	return f.rank
}

// NonNeg returns false if a pivot was found that is clearly negative,
// indicating that the input was not non-negative definite.
func (f *Factor) NonNeg() bool {
	return f.nonneg
}

// FullRank returns true if no pivot was set to zero.
func (f *Factor) FullRank() bool {
	return f.rank == f.dim
}

// Solve overwrites y with a solution x of A x = y.  Coordinates
// corresponding to zero pivots are set to zero.
func (f *Factor) Solve(y []float64) {

	n := f.dim
	if len(y) != n {
		msg := fmt.Sprintf("cholesky: length of y is %d, factor has dimension %d", len(y), n)
		panic(msg)
	}
	a := f.m

	// Forward substitution with the unit lower triangle.
	for i := 0; i < n; i++ {
		temp := y[i]
		for j := 0; j < i; j++ {
			temp -= y[j] * a.At(i, j)
		}
		y[i] = temp
	}

	// Back substitution with D Lᵀ.
	for i := n - 1; i >= 0; i-- {
		d := a.At(i, i)
		if d == 0 {
			y[i] = 0
			continue
		}
		temp := y[i] / d
		for j := i + 1; j < n; j++ {
			temp -= y[j] * a.At(j, i)
		}
		y[i] = temp
	}
}

// Inverse overwrites the factor with a generalized inverse of the
// original matrix and returns it.  Rows and columns belonging to zero
// pivots are zero.  The factor must not be used after calling Inverse.
func (f *Factor) Inverse() *mat.Dense {

	n := f.dim
	a := f.m

	// Invert L and D in place, L⁻¹ in the strict lower triangle.
	for i := 0; i < n; i++ {
		if a.At(i, i) > 0 {
			a.Set(i, i, 1/a.At(i, i))
			for j := i + 1; j < n; j++ {
				a.Set(j, i, -a.At(j, i))
				for k := 0; k < i; k++ {
					a.Set(j, k, a.At(j, k)+a.At(j, i)*a.At(i, k))
				}
			}
		}
	}

	// Form L⁻ᵀ D⁻¹ L⁻¹ in the upper triangle.
	for i := 0; i < n; i++ {
		if a.At(i, i) == 0 {
			for j := 0; j < i; j++ {
				a.Set(j, i, 0)
			}
			for j := i; j < n; j++ {
				a.Set(i, j, 0)
			}
			continue
		}
		for j := i + 1; j < n; j++ {
			temp := a.At(j, i) * a.At(j, j)
			a.Set(i, j, temp)
			for k := i; k < j; k++ {
				a.Set(i, k, a.At(i, k)+temp*a.At(j, k))
			}
		}
	}

	for i := 0; i < n; i++ {
		for j := 0; j < i; j++ {
			a.Set(i, j, a.At(j, i))
		}
	}

	return a
}

// Rank returns the numerical rank of the symmetric matrix a, which is
// not modified.
func Rank(a *mat.Dense, toler float64) int {
	if a.IsEmpty() {
		return 0
	}
	return Decompose(mat.DenseCopyOf(a), toler).Rank()
}

// QuadForm returns uᵀ A⁻ u, where A⁻ is the generalized inverse
// represented by the factor.  The vector u is not modified.
func QuadForm(f *Factor, u []float64) float64 {
	v := make([]float64, len(u))
	copy(v, u)
	f.Solve(v)
	return floats.Dot(u, v)
}
