package backend

import (
	"math"

	"github.com/viterin/vek"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/lapack"
	"gonum.org/v1/gonum/lapack/lapack64"

	"github.com/YuminosukeSato/muygo/core/parallel"
	"github.com/YuminosukeSato/muygo/core/tensor"
	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
)

// LapackName is the registry name of the lapack backend.
const LapackName = "lapack"

// DefaultParallelThreshold is the batch count above which the lapack backend
// splits work across cores.
const DefaultParallelThreshold = 64

// Lapack drives lapack64 directly and parallelizes over the batch axis.
type Lapack struct {
	threshold int
}

// LapackOption configures a Lapack backend.
type LapackOption func(*Lapack)

// WithParallelThreshold sets the batch count above which work is split.
func WithParallelThreshold(n int) LapackOption {
	return func(l *Lapack) {
		l.threshold = n
	}
}

// NewLapack returns the lapack backend.
func NewLapack(opts ...LapackOption) *Lapack {
	l := &Lapack{threshold: DefaultParallelThreshold}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name implements Backend.
func (*Lapack) Name() string { return LapackName }

// Map implements Backend.
func (l *Lapack) Map(t *tensor.Dense, fn func(float64) float64) *tensor.Dense {
	out := t.Clone()
	d := out.Data()
	parallel.ParallelizeWithThreshold(len(d), l.threshold*64, func(start, end int) {
		for i := start; i < end; i++ {
			d[i] = fn(d[i])
		}
	})
	return out
}

// Solve implements Backend with Potrf/Potrs per batch and a Pocon condition
// estimate.
func (l *Lapack) Solve(a, b *tensor.Dense) (*tensor.Dense, error) {
	const op = "lapack.Solve"
	B, k, m, err := checkSolve(op, a, b)
	if err != nil {
		return nil, err
	}
	out := b.Clone()
	if B == 0 || k == 0 || m == 0 {
		return out, nil
	}

	var errs batchErrors
	parallel.ParallelizeWithThreshold(B, l.threshold, func(start, end int) {
		fac := make([]float64, k*k)
		work := make([]float64, 3*k)
		iwork := make([]int, k)
		for i := start; i < end; i++ {
			copy(fac, a.Index(i).Data())
			sym := blas64.Symmetric{N: k, Stride: k, Data: fac, Uplo: blas.Upper}
			anorm := lapack64.Lansy(lapack.MaxColumnSum, sym, work)
			t, ok := lapack64.Potrf(sym)
			if !ok {
				errs.record(i, scigoErrors.NewConditioningError(op, i, math.Inf(1), "matrix is not positive definite"))
				continue
			}
			rcond := lapack64.Pocon(sym, anorm, work, iwork)
			if rcond == 0 || 1/rcond > MaxCondition {
				errs.record(i, scigoErrors.NewConditioningError(op, i, 1/rcond, "condition number exceeds limit"))
				continue
			}
			lapack64.Potrs(t, blas64.General{Rows: k, Cols: m, Stride: m, Data: out.Index(i).Data()})
		}
	})
	if errs.err != nil {
		return nil, errs.err
	}
	return out, nil
}

// Contract implements Backend with one Gemv per batch.
func (l *Lapack) Contract(x, y *tensor.Dense) (*tensor.Dense, error) {
	B, k, m, err := checkContract("lapack.Contract", x, y)
	if err != nil {
		return nil, err
	}
	out := tensor.Zeros(B, m)
	if B == 0 || k == 0 || m == 0 {
		return out, nil
	}
	parallel.ParallelizeWithThreshold(B, l.threshold, func(start, end int) {
		for i := start; i < end; i++ {
			ym := blas64.General{Rows: k, Cols: m, Stride: m, Data: y.Index(i).Data()}
			xv := blas64.Vector{N: k, Inc: 1, Data: x.Index(i).Data()}
			dst := blas64.Vector{N: m, Inc: 1, Data: out.Index(i).Data()}
			blas64.Gemv(blas.Trans, 1, ym, xv, 0, dst)
		}
	})
	return out, nil
}

// Dot implements Backend.
func (*Lapack) Dot(x, y []float64) float64 { return vek.Dot(x, y) }
