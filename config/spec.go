package config

import (
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/muygo/gp"
	"github.com/YuminosukeSato/muygo/gp/distortion"
	"github.com/YuminosukeSato/muygo/gp/hyperparameter"
	"github.com/YuminosukeSato/muygo/gp/kernels"
	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
)

// Keys of a model specification document other than hyperparameter names.
const (
	KernelKey = "kern"
	MetricKey = "metric"
)

// scalarDoc is one hyperparameter entry:
//
//	length_scale:
//	  val: 1.0          # or "sample" / "log_sample"
//	  bounds: [0.1, 10] # or "fixed" (the default)
type scalarDoc struct {
	Val    yaml.Node `yaml:"val"`
	Bounds yaml.Node `yaml:"bounds"`
}

// DecodeModelSpec reads a YAML model specification. Anisotropic models list
// length_scale0, length_scale1, ... instead of length_scale.
func DecodeModelSpec(r io.Reader) (gp.ModelSpec, error) {
	const op = "config.DecodeModelSpec"
	var doc map[string]yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return gp.ModelSpec{}, scigoErrors.Wrap(err, op)
	}

	kernNode, ok := doc[KernelKey]
	if !ok {
		return gp.ModelSpec{}, scigoErrors.NewValueError(op, "missing kern")
	}
	kind, err := kernels.ParseKind(kernNode.Value)
	if err != nil {
		return gp.ModelSpec{}, err
	}
	var metric *distortion.Metric
	if n, ok := doc[MetricKey]; ok {
		m, err := distortion.ParseMetric(n.Value)
		if err != nil {
			return gp.ModelSpec{}, err
		}
		metric = &m
	}

	names := make([]string, 0, len(doc))
	for name := range doc {
		if name != KernelKey && name != MetricKey {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	specs := make(map[string]hyperparameter.Spec, len(names))
	for _, name := range names {
		node := doc[name]
		sp, err := decodeScalar(name, &node)
		if err != nil {
			return gp.ModelSpec{}, err
		}
		specs[name] = sp
	}

	spec, err := gp.AssembleSpec(op, kind, specs)
	if err != nil {
		return spec, err
	}
	spec.Metric = metric
	return spec, nil
}

// LoadModelSpec reads a YAML model specification from a file.
func LoadModelSpec(path string) (gp.ModelSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return gp.ModelSpec{}, scigoErrors.Wrapf(err, "config: open %s", path)
	}
	defer f.Close()
	return DecodeModelSpec(f)
}

func decodeScalar(name string, node *yaml.Node) (hyperparameter.Spec, error) {
	var doc scalarDoc
	if err := node.Decode(&doc); err != nil {
		return hyperparameter.Spec{}, scigoErrors.Wrapf(err, "config: %s", name)
	}
	var sp hyperparameter.Spec

	switch doc.Val.Kind {
	case 0:
		return sp, scigoErrors.NewValidationError(name, "missing val", nil)
	case yaml.ScalarNode:
	default:
		return sp, scigoErrors.NewValidationError(name, "val must be a number, sample or log_sample", doc.Val.Value)
	}
	switch doc.Val.Value {
	case "sample":
		sp.Sample = hyperparameter.Uniform
	case "log_sample":
		sp.Sample = hyperparameter.LogUniform
	default:
		if err := doc.Val.Decode(&sp.Value); err != nil {
			return sp, scigoErrors.NewValidationError(name, "val must be a number, sample or log_sample", doc.Val.Value)
		}
	}

	switch doc.Bounds.Kind {
	case 0:
		sp.Fixed = true
	case yaml.ScalarNode:
		if doc.Bounds.Value != "fixed" {
			return sp, scigoErrors.NewValidationError(name, "bounds must be fixed or a [lower, upper] pair", doc.Bounds.Value)
		}
		sp.Fixed = true
	case yaml.SequenceNode:
		var b []float64
		if err := doc.Bounds.Decode(&b); err != nil || len(b) != 2 {
			return sp, scigoErrors.NewValidationError(name, "bounds must be fixed or a [lower, upper] pair", doc.Bounds.Value)
		}
		sp.Lower, sp.Upper = b[0], b[1]
	default:
		return sp, scigoErrors.NewValidationError(name, "bounds must be fixed or a [lower, upper] pair", doc.Bounds.Value)
	}
	if sp.Fixed && sp.Sample != hyperparameter.NoSample {
		return sp, scigoErrors.NewValidationError(name, "cannot sample a fixed hyperparameter", doc.Val.Value)
	}
	return sp, nil
}
