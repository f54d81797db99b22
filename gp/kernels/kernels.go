// Package kernels provides the RBF and Matérn covariance functions composed
// with a distortion model.
//
// Kernels act element-wise and do not care whether the input is a crosswise
// (B,k,D) or pairwise (B,k,k,D) difference tensor.
package kernels

import (
	"fmt"
	"math"

	"github.com/YuminosukeSato/muygo/core/backend"
	"github.com/YuminosukeSato/muygo/core/tensor"
	"github.com/YuminosukeSato/muygo/gp/distortion"
	"github.com/YuminosukeSato/muygo/gp/hyperparameter"
	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
)

// NuName is the hyperparameter name of the Matérn smoothness.
const NuName = "nu"

var (
	sqrt3 = math.Sqrt(3)
	sqrt5 = math.Sqrt(5)
)

// RBFValue is exp(-d2/2) for a squared distance d2.
func RBFValue(d2 float64) float64 { return math.Exp(-d2 / 2) }

// Matern05 is the ν=1/2 closed form.
func Matern05(d float64) float64 { return math.Exp(-d) }

// Matern15 is the ν=3/2 closed form.
func Matern15(d float64) float64 {
	x := sqrt3 * d
	return (1 + x) * math.Exp(-x)
}

// Matern25 is the ν=5/2 closed form.
func Matern25(d float64) float64 {
	x := sqrt5 * d
	return (1 + x + 5*d*d/3) * math.Exp(-x)
}

// MaternInf is the ν→∞ limit, exp(-d²/2).
func MaternInf(d float64) float64 { return math.Exp(-d * d / 2) }

// Kind selects the kernel family.
type Kind int

const (
	RBF Kind = iota
	Matern
)

func (k Kind) String() string {
	switch k {
	case RBF:
		return "rbf"
	case Matern:
		return "matern"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind accepts "rbf" and "matern".
func ParseKind(s string) (Kind, error) {
	switch s {
	case "rbf", "RBF":
		return RBF, nil
	case "matern", "Matern":
		return Matern, nil
	default:
		return 0, scigoErrors.NewValidationError("kern", "unknown kernel", s)
	}
}

// Kernel is the tagged kernel variant. It owns its distortion model and, for
// Matérn, the smoothness ν.
type Kernel struct {
	kind       Kind
	distortion distortion.Distortion
	nu         hyperparameter.Scalar
	be         backend.Backend
}

// NewRBF returns an RBF kernel. The distortion must use the F2 metric, since
// the kernel expects squared distances.
func NewRBF(d distortion.Distortion) (Kernel, error) {
	if d.Metric() != distortion.F2 {
		return Kernel{}, scigoErrors.NewValidationError("metric", "rbf requires the F2 metric", d.Metric().String())
	}
	return Kernel{kind: RBF, distortion: d, be: backend.Active()}, nil
}

// NewMatern returns a Matérn kernel with smoothness nu over l2 distances.
func NewMatern(nu hyperparameter.Scalar, d distortion.Distortion) (Kernel, error) {
	if d.Metric() != distortion.L2 {
		return Kernel{}, scigoErrors.NewValidationError("metric", "matern requires the l2 metric", d.Metric().String())
	}
	if lo, _ := nu.Bounds(); !(nu.Value() > 0) || !(lo > 0) {
		return Kernel{}, scigoErrors.NewValidationError(NuName, "smoothness must be positive", nu.Value())
	}
	return Kernel{kind: Matern, distortion: d, nu: nu, be: backend.Active()}, nil
}

// WithBackend returns a copy evaluating element-wise maps on be.
func (k Kernel) WithBackend(be backend.Backend) Kernel {
	k.be = be
	return k
}

// Clone returns a copy whose hyperparameters can be changed independently.
func (k Kernel) Clone() Kernel {
	k.distortion = k.distortion.Clone()
	return k
}

// Kind returns the kernel family.
func (k Kernel) Kind() Kind { return k.kind }

// Distortion returns the owned distortion model.
func (k Kernel) Distortion() distortion.Distortion { return k.distortion }

// Nu returns the Matérn smoothness. It is meaningless for RBF.
func (k Kernel) Nu() hyperparameter.Scalar { return k.nu }

// Hyperparameters lists ν (Matérn only) followed by the length scales.
func (k Kernel) Hyperparameters() []hyperparameter.Named {
	var out []hyperparameter.Named
	if k.kind == Matern {
		out = append(out, hyperparameter.Named{Name: NuName, Scalar: k.nu})
	}
	return append(out, k.distortion.Hyperparameters()...)
}

// Set changes an owned hyperparameter.
func (k *Kernel) Set(name string, v float64) error {
	if k.kind == Matern && name == NuName {
		if !(v > 0) {
			return scigoErrors.NewValidationError(NuName, "smoothness must be positive", v)
		}
		return k.nu.Set(v)
	}
	if err := k.distortion.Set(name, v); err != nil {
		var nameErr *scigoErrors.HyperparameterNameError
		if scigoErrors.As(err, &nameErr) {
			known := make([]string, 0)
			for _, h := range k.Hyperparameters() {
				known = append(known, h.Name)
			}
			return scigoErrors.NewHyperparameterNameError("kernel.Set", name, known)
		}
		return err
	}
	return nil
}

// DistanceFn returns the kernel as a function of a distance tensor. ν is read
// from params when it is optimizable.
func (k Kernel) DistanceFn() distortion.DistanceFn {
	be := k.be
	if be == nil {
		be = backend.Active()
	}
	if k.kind == RBF {
		return func(dists *tensor.Dense, _ hyperparameter.Params) (*tensor.Dense, error) {
			return be.Map(dists, RBFValue), nil
		}
	}
	if k.nu.Fixed() {
		if fn := fixedMatern(k.nu.Value()); fn != nil {
			return func(dists *tensor.Dense, _ hyperparameter.Params) (*tensor.Dense, error) {
				return be.Map(dists, fn), nil
			}
		}
	}
	nu0 := k.nu.Value()
	return func(dists *tensor.Dense, p hyperparameter.Params) (*tensor.Dense, error) {
		nu := p.Lookup(NuName, nu0)
		if !(nu > 0) {
			return nil, scigoErrors.NewValidationError(NuName, "smoothness must be positive", nu)
		}
		return be.Map(dists, func(d float64) float64 { return MaternGeneral(d, nu) }), nil
	}
}

func fixedMatern(nu float64) func(float64) float64 {
	switch {
	case nu == 0.5:
		return Matern05
	case nu == 1.5:
		return Matern15
	case nu == 2.5:
		return Matern25
	case math.IsInf(nu, 1):
		return MaternInf
	default:
		return nil
	}
}

// OptFn returns the kernel as a function of a difference tensor with the
// distortion applied. All hyperparameters are read from params, falling back
// to the kernel's current values.
func (k Kernel) OptFn() distortion.DiffFn {
	return k.distortion.Apply(k.DistanceFn())
}

// Eval computes the covariance tensor of diffs at the current hyperparameters.
func (k Kernel) Eval(diffs *tensor.Dense) (*tensor.Dense, error) {
	return k.OptFn()(diffs, nil)
}
