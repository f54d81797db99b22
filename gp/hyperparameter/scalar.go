// Package hyperparameter holds named GP hyperparameters: a value with
// optional bounds, collected into an ordered set that flattens to and from
// optimizer vectors.
package hyperparameter

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
)

// Scalar is a hyperparameter value with (lower, upper) bounds. A fixed scalar
// has lower == upper == value and is excluded from optimization.
type Scalar struct {
	value float64
	lower float64
	upper float64
}

// Fixed returns a scalar that is never optimized.
func Fixed(v float64) Scalar {
	return Scalar{value: v, lower: v, upper: v}
}

// Bounded returns an optimizable scalar. It requires lo < hi and lo <= v <= hi.
func Bounded(v, lo, hi float64) (Scalar, error) {
	if err := checkBounds(lo, hi); err != nil {
		return Scalar{}, err
	}
	if v < lo || v > hi || math.IsNaN(v) {
		return Scalar{}, scigoErrors.NewValidationError("value",
			fmt.Sprintf("outside bounds [%g, %g]", lo, hi), v)
	}
	return Scalar{value: v, lower: lo, upper: hi}, nil
}

// MustBounded is Bounded for literals known to be valid. It panics otherwise.
func MustBounded(v, lo, hi float64) Scalar {
	s, err := Bounded(v, lo, hi)
	if err != nil {
		panic(err)
	}
	return s
}

// Sampled draws the initial value uniformly from [lo, hi]. A nil src uses the
// global math/rand/v2 source.
func Sampled(lo, hi float64, src rand.Source) (Scalar, error) {
	if err := checkBounds(lo, hi); err != nil {
		return Scalar{}, err
	}
	u := distuv.Uniform{Min: lo, Max: hi, Src: src}
	return Scalar{value: u.Rand(), lower: lo, upper: hi}, nil
}

// LogSampled draws the initial value log-uniformly from [lo, hi]; lo must be positive.
func LogSampled(lo, hi float64, src rand.Source) (Scalar, error) {
	if err := checkBounds(lo, hi); err != nil {
		return Scalar{}, err
	}
	if lo <= 0 {
		return Scalar{}, scigoErrors.NewValidationError("bounds", "log sampling needs a positive lower bound", lo)
	}
	u := distuv.Uniform{Min: math.Log(lo), Max: math.Log(hi), Src: src}
	v := math.Exp(u.Rand())
	return Scalar{value: scigoErrors.ClipValue(v, lo, hi), lower: lo, upper: hi}, nil
}

func checkBounds(lo, hi float64) error {
	if math.IsNaN(lo) || math.IsNaN(hi) || math.IsInf(lo, 0) || math.IsInf(hi, 0) {
		return scigoErrors.NewValidationError("bounds", "bounds must be finite", [2]float64{lo, hi})
	}
	if lo >= hi {
		return scigoErrors.NewValidationError("bounds", "lower bound must be below upper bound", [2]float64{lo, hi})
	}
	return nil
}

// Value returns the current value.
func (s Scalar) Value() float64 { return s.value }

// Bounds returns (lower, upper).
func (s Scalar) Bounds() (float64, float64) { return s.lower, s.upper }

// Fixed reports whether the scalar is excluded from optimization.
func (s Scalar) Fixed() bool { return s.lower == s.upper }

// Set changes the value. Optimizable scalars must stay within bounds; a fixed
// scalar is re-pinned to the new value.
func (s *Scalar) Set(v float64) error {
	if s.Fixed() {
		*s = Fixed(v)
		return nil
	}
	if v < s.lower || v > s.upper || math.IsNaN(v) {
		return scigoErrors.NewValidationError("value",
			fmt.Sprintf("outside bounds [%g, %g]", s.lower, s.upper), v)
	}
	s.value = v
	return nil
}

func (s Scalar) String() string {
	if s.Fixed() {
		return fmt.Sprintf("%g (fixed)", s.value)
	}
	return fmt.Sprintf("%g [%g, %g]", s.value, s.lower, s.upper)
}

// SampleMode selects how a Spec chooses its initial value.
type SampleMode int

const (
	// NoSample uses Spec.Value.
	NoSample SampleMode = iota
	// Uniform samples uniformly within the bounds ("sample").
	Uniform
	// LogUniform samples log-uniformly within the bounds ("log_sample").
	LogUniform
)

// Spec is the dictionary form of a scalar as written in model specifications:
// a value or a sampling mode, and either bounds or "fixed".
type Spec struct {
	Value        float64
	Sample       SampleMode
	Lower, Upper float64
	Fixed        bool
}

// Build turns the specification into a Scalar.
func (sp Spec) Build(src rand.Source) (Scalar, error) {
	if sp.Fixed {
		if sp.Sample != NoSample {
			return Scalar{}, scigoErrors.NewValidationError("val", "cannot sample a fixed hyperparameter", sp.Sample)
		}
		return Fixed(sp.Value), nil
	}
	switch sp.Sample {
	case Uniform:
		return Sampled(sp.Lower, sp.Upper, src)
	case LogUniform:
		return LogSampled(sp.Lower, sp.Upper, src)
	default:
		return Bounded(sp.Value, sp.Lower, sp.Upper)
	}
}
