// Package noise perturbs covariance diagonals with a nugget before solves.
package noise

import (
	"fmt"
	"math"

	"github.com/YuminosukeSato/muygo/core/tensor"
	"github.com/YuminosukeSato/muygo/gp/hyperparameter"
	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
)

// EpsName is the hyperparameter name of the homoscedastic nugget.
const EpsName = "eps"

// CovFn is a downstream computation whose first argument is a covariance
// tensor, e.g. a posterior mean over (K, Kcross, targets).
type CovFn func(K *tensor.Dense, args ...*tensor.Dense) (*tensor.Dense, error)

// OptCovFn is a CovFn that also takes keyword hyperparameters.
type OptCovFn func(p hyperparameter.Params, K *tensor.Dense, args ...*tensor.Dense) (*tensor.Dense, error)

// Kind selects the noise model.
type Kind int

const (
	Homoscedastic Kind = iota
	Heteroscedastic
	Null
)

func (k Kind) String() string {
	switch k {
	case Homoscedastic:
		return "homoscedastic"
	case Heteroscedastic:
		return "heteroscedastic"
	case Null:
		return "null"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Noise is the tagged noise variant.
type Noise struct {
	kind   Kind
	eps    hyperparameter.Scalar
	hetero *tensor.Dense
}

// NewHomoscedastic adds the same nugget to every diagonal entry.
func NewHomoscedastic(eps hyperparameter.Scalar) (Noise, error) {
	if lo, _ := eps.Bounds(); eps.Value() < 0 || lo < 0 {
		return Noise{}, scigoErrors.NewValidationError(EpsName, "nugget must be non-negative", eps.Value())
	}
	return Noise{kind: Homoscedastic, eps: eps}, nil
}

// NewHeteroscedastic adds eps[b,i] to K[b,i,i]. eps is (B,k) or (N,k) and is
// not copied.
func NewHeteroscedastic(eps *tensor.Dense) (Noise, error) {
	if eps == nil || eps.NDim() != 2 {
		var got []int
		if eps != nil {
			got = eps.Shape()
		}
		return Noise{}, scigoErrors.NewNamedInputShapeError("noise.NewHeteroscedastic", EpsName, []int{-1, -1}, got)
	}
	for _, v := range eps.Data() {
		if v < 0 || math.IsNaN(v) {
			return Noise{}, scigoErrors.NewValidationError(EpsName, "nugget must be non-negative", v)
		}
	}
	return Noise{kind: Heteroscedastic, hetero: eps}, nil
}

// NewNull leaves covariances untouched.
func NewNull() Noise { return Noise{kind: Null} }

// Kind returns the variant.
func (n Noise) Kind() Kind { return n.kind }

// Eps returns the homoscedastic nugget.
func (n Noise) Eps() hyperparameter.Scalar { return n.eps }

// Matrix returns the heteroscedastic nugget matrix, or nil.
func (n Noise) Matrix() *tensor.Dense { return n.hetero }

// Hyperparameters lists eps for the homoscedastic variant and nothing otherwise.
func (n Noise) Hyperparameters() []hyperparameter.Named {
	if n.kind != Homoscedastic {
		return nil
	}
	return []hyperparameter.Named{{Name: EpsName, Scalar: n.eps}}
}

// Set changes eps.
func (n *Noise) Set(name string, v float64) error {
	if n.kind != Homoscedastic || name != EpsName {
		var known []string
		if n.kind == Homoscedastic {
			known = []string{EpsName}
		}
		return scigoErrors.NewHyperparameterNameError("noise.Set", name, known)
	}
	if v < 0 {
		return scigoErrors.NewValidationError(EpsName, "nugget must be non-negative", v)
	}
	return n.eps.Set(v)
}

// Perturb returns K with the nugget added to the diagonal at the current
// hyperparameter values.
func (n Noise) Perturb(K *tensor.Dense) (*tensor.Dense, error) {
	return n.PerturbWith(K, nil)
}

// PerturbWith is Perturb with eps read from p when present. K must be
// (...,k,k). Null noise returns K itself; other variants return a copy.
func (n Noise) PerturbWith(K *tensor.Dense, p hyperparameter.Params) (*tensor.Dense, error) {
	const op = "noise.Perturb"
	if K == nil || K.NDim() < 2 || K.Dim(K.NDim()-1) != K.Dim(K.NDim()-2) {
		var got []int
		if K != nil {
			got = K.Shape()
		}
		return nil, scigoErrors.NewNamedInputShapeError(op, "K", []int{-1, -1, -1}, got)
	}
	if n.kind == Null {
		return K, nil
	}

	shape := K.Shape()
	k := shape[len(shape)-1]
	out := K.Clone()
	data := out.Data()
	mats := out.Len() / (k * k)

	switch n.kind {
	case Homoscedastic:
		eps := p.Lookup(EpsName, n.eps.Value())
		for m := 0; m < mats; m++ {
			base := m * k * k
			for i := 0; i < k; i++ {
				data[base+i*k+i] += eps
			}
		}
	case Heteroscedastic:
		want := shape[:len(shape)-1]
		if !sameShape(n.hetero.Shape(), want) {
			return nil, scigoErrors.NewNamedInputShapeError(op, EpsName, want, n.hetero.Shape())
		}
		eps := n.hetero.Data()
		for m := 0; m < mats; m++ {
			base := m * k * k
			for i := 0; i < k; i++ {
				data[base+i*k+i] += eps[m*k+i]
			}
		}
	}
	return out, nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// PerturbFn wraps fn so that its covariance argument is perturbed first, with
// eps taken from the keyword params. The wrapped function never needs to know
// which noise variant is active.
func (n Noise) PerturbFn(fn CovFn) OptCovFn {
	return func(p hyperparameter.Params, K *tensor.Dense, args ...*tensor.Dense) (*tensor.Dense, error) {
		Kp, err := n.PerturbWith(K, p)
		if err != nil {
			return nil, err
		}
		return fn(Kp, args...)
	}
}

// Apply binds the noise hyperparameter into fn's keyword params under name.
// A fixed eps is always injected; an optimizable eps is left to the caller
// and only filled in when missing. Other variants pass params through.
func (n Noise) Apply(fn OptCovFn, name string) OptCovFn {
	if n.kind != Homoscedastic {
		return fn
	}
	fixed := n.eps.Fixed()
	v := n.eps.Value()
	return func(p hyperparameter.Params, K *tensor.Dense, args ...*tensor.Dense) (*tensor.Dense, error) {
		q := make(hyperparameter.Params, len(p)+1)
		for key, val := range p {
			q[key] = val
		}
		if _, ok := q[name]; fixed || !ok {
			q[name] = v
		}
		if name != EpsName {
			q[EpsName] = q[name]
		}
		return fn(q, K, args...)
	}
}
