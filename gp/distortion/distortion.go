// Package distortion turns feature differences into distances under a
// length-scale model.
package distortion

import (
	"fmt"
	"math"
	"strings"

	"github.com/YuminosukeSato/muygo/core/tensor"
	"github.com/YuminosukeSato/muygo/gp/hyperparameter"
	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
)

// Metric is the distance functional applied over the trailing feature axis.
type Metric int

const (
	// F2 is the squared Euclidean distance.
	F2 Metric = iota
	// L2 is the Euclidean distance.
	L2
)

func (m Metric) String() string {
	switch m {
	case F2:
		return "F2"
	case L2:
		return "l2"
	default:
		return fmt.Sprintf("Metric(%d)", int(m))
	}
}

// ParseMetric accepts "F2" and "l2" in any case.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(s) {
	case "f2":
		return F2, nil
	case "l2":
		return L2, nil
	default:
		return 0, scigoErrors.NewValidationError("metric", "unknown metric", s)
	}
}

// Kind selects the length-scale model.
type Kind int

const (
	// Isotropic shares one length scale across all feature dimensions.
	Isotropic Kind = iota
	// Anisotropic has one length scale per feature dimension.
	Anisotropic
)

func (k Kind) String() string {
	if k == Anisotropic {
		return "anisotropic"
	}
	return "isotropic"
}

// LengthScaleName is the hyperparameter name of the isotropic length scale.
// Anisotropic scales are named LengthScaleName followed by the dimension index.
const LengthScaleName = "length_scale"

// DistanceFn maps a distance tensor to a covariance tensor, reading any
// kernel hyperparameters from p.
type DistanceFn func(dists *tensor.Dense, p hyperparameter.Params) (*tensor.Dense, error)

// DiffFn maps a difference tensor (trailing axis D) to a covariance tensor.
type DiffFn func(diffs *tensor.Dense, p hyperparameter.Params) (*tensor.Dense, error)

// Distortion is the tagged length-scale model.
type Distortion struct {
	kind   Kind
	metric Metric
	scales []hyperparameter.Scalar
}

// NewIsotropic returns a single-scale distortion.
func NewIsotropic(metric Metric, lengthScale hyperparameter.Scalar) Distortion {
	return Distortion{kind: Isotropic, metric: metric, scales: []hyperparameter.Scalar{lengthScale}}
}

// NewAnisotropic returns a distortion with one scale per feature dimension.
func NewAnisotropic(metric Metric, scales ...hyperparameter.Scalar) (Distortion, error) {
	if len(scales) == 0 {
		return Distortion{}, scigoErrors.NewValueError("distortion.NewAnisotropic", "at least one length scale is required")
	}
	return Distortion{kind: Anisotropic, metric: metric, scales: append([]hyperparameter.Scalar(nil), scales...)}, nil
}

// Clone returns a copy that does not share length scales with d.
func (d Distortion) Clone() Distortion {
	d.scales = append([]hyperparameter.Scalar(nil), d.scales...)
	return d
}

// Kind returns the variant.
func (d Distortion) Kind() Kind { return d.kind }

// Metric returns the distance functional.
func (d Distortion) Metric() Metric { return d.metric }

func (d Distortion) name(i int) string {
	if d.kind == Isotropic {
		return LengthScaleName
	}
	return fmt.Sprintf("%s%d", LengthScaleName, i)
}

// Hyperparameters lists the owned length scales in dimension order.
func (d Distortion) Hyperparameters() []hyperparameter.Named {
	out := make([]hyperparameter.Named, len(d.scales))
	for i, s := range d.scales {
		out[i] = hyperparameter.Named{Name: d.name(i), Scalar: s}
	}
	return out
}

// Set changes an owned length scale. Names the distortion does not own fail
// with a HyperparameterNameError.
func (d *Distortion) Set(name string, v float64) error {
	for i := range d.scales {
		if d.name(i) == name {
			return d.scales[i].Set(v)
		}
	}
	names := make([]string, len(d.scales))
	for i := range d.scales {
		names[i] = d.name(i)
	}
	return scigoErrors.NewHyperparameterNameError("distortion.Set", name, names)
}

// scaleValues returns the per-dimension scales, overridden by p.
func (d Distortion) scaleValues(p hyperparameter.Params) []float64 {
	vals := make([]float64, len(d.scales))
	for i, s := range d.scales {
		vals[i] = p.Lookup(d.name(i), s.Value())
	}
	return vals
}

// Reduce divides diffs by the length scale(s) and applies the metric over the
// trailing axis. The output drops that axis.
func (d Distortion) Reduce(diffs *tensor.Dense, p hyperparameter.Params) (*tensor.Dense, error) {
	const op = "distortion.Reduce"
	if diffs.NDim() < 2 {
		return nil, scigoErrors.NewInputShapeError(op, []int{-1, -1}, diffs.Shape())
	}
	shape := diffs.Shape()
	dim := shape[len(shape)-1]

	scales := d.scaleValues(p)
	if d.kind == Anisotropic && len(scales) != dim {
		return nil, scigoErrors.NewDimensionError(op, len(scales), dim, diffs.NDim()-1)
	}
	inv := make([]float64, dim)
	for c := range inv {
		s := scales[0]
		if d.kind == Anisotropic {
			s = scales[c]
		}
		if !(s > 0) {
			return nil, scigoErrors.NewValidationError(d.name(c), "length scale must be positive", s)
		}
		inv[c] = 1 / s
	}

	out := tensor.Zeros(shape[:len(shape)-1]...)
	src, dst := diffs.Data(), out.Data()
	for i := range dst {
		row := src[i*dim : (i+1)*dim]
		acc := 0.0
		for c, v := range row {
			x := v * inv[c]
			acc += x * x
		}
		dst[i] = acc
	}
	if d.metric == L2 {
		for i, v := range dst {
			dst[i] = math.Sqrt(v)
		}
	}
	return out, nil
}

// Apply wraps a distance kernel into a difference kernel. Params are
// forwarded unchanged to both the reduction and fn.
func (d Distortion) Apply(fn DistanceFn) DiffFn {
	return func(diffs *tensor.Dense, p hyperparameter.Params) (*tensor.Dense, error) {
		dists, err := d.Reduce(diffs, p)
		if err != nil {
			return nil, err
		}
		return fn(dists, p)
	}
}
