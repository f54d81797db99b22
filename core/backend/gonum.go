package backend

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/muygo/core/tensor"
	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
)

// GonumName is the registry name of the gonum backend.
const GonumName = "gonum"

// Gonum is the sequential reference backend built on gonum/mat.
type Gonum struct{}

// NewGonum returns the gonum backend.
func NewGonum() *Gonum { return &Gonum{} }

// Name implements Backend.
func (*Gonum) Name() string { return GonumName }

// Map implements Backend.
func (*Gonum) Map(t *tensor.Dense, fn func(float64) float64) *tensor.Dense {
	out := t.Clone()
	d := out.Data()
	for i, v := range d {
		d[i] = fn(v)
	}
	return out
}

// Solve implements Backend with one Cholesky factorization per batch.
func (*Gonum) Solve(a, b *tensor.Dense) (*tensor.Dense, error) {
	const op = "gonum.Solve"
	B, k, m, err := checkSolve(op, a, b)
	if err != nil {
		return nil, err
	}
	out := tensor.Zeros(B, k, m)
	if B == 0 || k == 0 || m == 0 {
		return out, nil
	}

	var chol mat.Cholesky
	for i := 0; i < B; i++ {
		// NewSymDense reads the upper triangle only.
		sym := mat.NewSymDense(k, a.Index(i).Data())
		if ok := chol.Factorize(sym); !ok {
			return nil, scigoErrors.NewConditioningError(op, i, math.Inf(1), "matrix is not positive definite")
		}
		if c := chol.Cond(); c > MaxCondition {
			return nil, scigoErrors.NewConditioningError(op, i, c, "condition number exceeds limit")
		}
		rhs := mat.NewDense(k, m, b.Index(i).Data())
		dst := mat.NewDense(k, m, out.Index(i).Data())
		if err := chol.SolveTo(dst, rhs); err != nil {
			return nil, scigoErrors.NewConditioningError(op, i, chol.Cond(), err.Error())
		}
	}
	return out, nil
}

// Contract implements Backend.
func (*Gonum) Contract(x, y *tensor.Dense) (*tensor.Dense, error) {
	B, k, m, err := checkContract("gonum.Contract", x, y)
	if err != nil {
		return nil, err
	}
	out := tensor.Zeros(B, m)
	if B == 0 || k == 0 || m == 0 {
		return out, nil
	}
	for i := 0; i < B; i++ {
		xv := mat.NewVecDense(k, x.Index(i).Data())
		ym := mat.NewDense(k, m, y.Index(i).Data())
		dst := mat.NewVecDense(m, out.Index(i).Data())
		dst.MulVec(ym.T(), xv)
	}
	return out, nil
}

// Dot implements Backend.
func (*Gonum) Dot(x, y []float64) float64 { return floats.Dot(x, y) }
