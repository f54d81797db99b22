package gp

import (
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/muygo/core/tensor"
	"github.com/YuminosukeSato/muygo/gp/distortion"
	"github.com/YuminosukeSato/muygo/gp/hyperparameter"
	"github.com/YuminosukeSato/muygo/gp/kernels"
	"github.com/YuminosukeSato/muygo/gp/noise"
	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
)

// ModelSpec is the dictionary form of a model: a kernel name, an optional
// metric, and one hyperparameter specification per name.
type ModelSpec struct {
	Kernel kernels.Kind
	// Metric defaults to F2 for RBF and l2 for Matérn.
	Metric *distortion.Metric
	// Nu is ignored for RBF.
	Nu hyperparameter.Spec
	// LengthScales holds one entry for an isotropic distortion and one per
	// feature dimension for an anisotropic one.
	LengthScales []hyperparameter.Spec
	// Anisotropic keeps indexed length_scaleN names even for a single scale.
	Anisotropic bool
	// Eps selects homoscedastic noise. Nil means no nugget unless
	// HeteroscedasticEps is set.
	Eps                *hyperparameter.Spec
	HeteroscedasticEps *tensor.Dense
}

// NewFromSpec builds a model from its dictionary form. src drives sampled
// initial values and may be nil when nothing is sampled.
func NewFromSpec(spec ModelSpec, src rand.Source, opts ...Option) (*MuyGPS, error) {
	const op = "gp.NewFromSpec"
	metric := defaultMetric(spec.Kernel)
	if spec.Metric != nil {
		metric = *spec.Metric
	}

	if len(spec.LengthScales) == 0 {
		return nil, scigoErrors.NewValidationError(distortion.LengthScaleName, "at least one length scale is required", 0)
	}
	scales := make([]hyperparameter.Scalar, len(spec.LengthScales))
	for i, ls := range spec.LengthScales {
		s, err := ls.Build(src)
		if err != nil {
			return nil, scigoErrors.Wrapf(err, "%s: length scale %d", op, i)
		}
		scales[i] = s
	}
	var dist distortion.Distortion
	if len(scales) == 1 && !spec.Anisotropic {
		dist = distortion.NewIsotropic(metric, scales[0])
	} else {
		var err error
		if dist, err = distortion.NewAnisotropic(metric, scales...); err != nil {
			return nil, err
		}
	}

	var kernel kernels.Kernel
	switch spec.Kernel {
	case kernels.RBF:
		k, err := kernels.NewRBF(dist)
		if err != nil {
			return nil, err
		}
		kernel = k
	case kernels.Matern:
		nu, err := spec.Nu.Build(src)
		if err != nil {
			return nil, scigoErrors.Wrapf(err, "%s: nu", op)
		}
		if kernel, err = kernels.NewMatern(nu, dist); err != nil {
			return nil, err
		}
	default:
		return nil, scigoErrors.NewValidationError("kern", "unknown kernel", spec.Kernel.String())
	}

	eps := noise.NewNull()
	switch {
	case spec.Eps != nil && spec.HeteroscedasticEps != nil:
		return nil, scigoErrors.NewValueError(op, "eps and heteroscedastic eps are mutually exclusive")
	case spec.Eps != nil:
		v, err := spec.Eps.Build(src)
		if err != nil {
			return nil, scigoErrors.Wrapf(err, "%s: eps", op)
		}
		if eps, err = noise.NewHomoscedastic(v); err != nil {
			return nil, err
		}
	case spec.HeteroscedasticEps != nil:
		var err error
		if eps, err = noise.NewHeteroscedastic(spec.HeteroscedasticEps); err != nil {
			return nil, err
		}
	}
	return New(kernel, eps, opts...)
}

// NewFromParams builds a model whose hyperparameters are all fixed at the raw
// values in p. Recognized names are those of AssembleSpec.
func NewFromParams(kind kernels.Kind, p hyperparameter.Params, opts ...Option) (*MuyGPS, error) {
	specs := make(map[string]hyperparameter.Spec, len(p))
	for name, v := range p {
		specs[name] = hyperparameter.Spec{Value: v, Fixed: true}
	}
	spec, err := AssembleSpec("gp.NewFromParams", kind, specs)
	if err != nil {
		return nil, err
	}
	return NewFromSpec(spec, nil, opts...)
}

// AssembleSpec routes named hyperparameter specifications into a ModelSpec
// for kind. Recognized names are nu (Matérn only), eps, and either
// length_scale or length_scale0 .. length_scaleD-1. Indexed names must be
// contiguous from 0 and always yield an anisotropic distortion. Unknown
// names fail with a HyperparameterNameError.
func AssembleSpec(op string, kind kernels.Kind, specs map[string]hyperparameter.Spec) (ModelSpec, error) {
	spec := ModelSpec{Kernel: kind}
	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	indexed := map[int]hyperparameter.Spec{}
	for _, name := range names {
		sp := specs[name]
		switch {
		case name == kernels.NuName && kind == kernels.Matern:
			spec.Nu = sp
		case name == noise.EpsName:
			spec.Eps = &sp
		case name == distortion.LengthScaleName:
			spec.LengthScales = []hyperparameter.Spec{sp}
		case strings.HasPrefix(name, distortion.LengthScaleName):
			i, err := strconv.Atoi(strings.TrimPrefix(name, distortion.LengthScaleName))
			if err != nil || i < 0 {
				return spec, scigoErrors.NewHyperparameterNameError(op, name, KnownNames(kind))
			}
			indexed[i] = sp
		default:
			return spec, scigoErrors.NewHyperparameterNameError(op, name, KnownNames(kind))
		}
	}

	if len(indexed) > 0 {
		if spec.LengthScales != nil {
			return spec, scigoErrors.NewValueError(op, "length_scale and indexed length scales are mutually exclusive")
		}
		for i := 0; i < len(indexed); i++ {
			sp, ok := indexed[i]
			if !ok {
				return spec, scigoErrors.NewValueError(op, "indexed length scales must be contiguous from 0")
			}
			spec.LengthScales = append(spec.LengthScales, sp)
		}
		spec.Anisotropic = true
	}
	if kind == kernels.Matern {
		if _, ok := specs[kernels.NuName]; !ok {
			return spec, scigoErrors.NewValueError(op, "matern requires nu")
		}
	}
	return spec, nil
}

func defaultMetric(kind kernels.Kind) distortion.Metric {
	if kind == kernels.RBF {
		return distortion.F2
	}
	return distortion.L2
}

// KnownNames lists the hyperparameter names AssembleSpec accepts for kind.
func KnownNames(kind kernels.Kind) []string {
	names := []string{distortion.LengthScaleName, distortion.LengthScaleName + "0", noise.EpsName}
	if kind == kernels.Matern {
		names = append([]string{kernels.NuName}, names...)
	}
	return names
}
