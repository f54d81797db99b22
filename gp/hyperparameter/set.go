package hyperparameter

import (
	"fmt"
	"sort"

	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
)

// Params maps hyperparameter names to raw values. It is the keyword form
// optimizers and objective functions exchange.
type Params map[string]float64

// Lookup returns p[name] if present and fallback otherwise.
func (p Params) Lookup(name string, fallback float64) float64 {
	if v, ok := p[name]; ok {
		return v
	}
	return fallback
}

// Names returns the keys in sorted order.
func (p Params) Names() []string {
	names := make([]string, 0, len(p))
	for n := range p {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Bound is a (lower, upper) pair for one optimizable value.
type Bound struct {
	Lower, Upper float64
}

// Named pairs a scalar with its name.
type Named struct {
	Name   string
	Scalar Scalar
}

// Set is an ordered name→Scalar mapping. Insertion order is the order used by
// Flatten, Unflatten and OptParams.
type Set struct {
	names  []string
	index  map[string]int
	values []Scalar
}

// NewSet builds a set from named scalars in order.
func NewSet(items ...Named) (*Set, error) {
	s := &Set{index: make(map[string]int, len(items))}
	for _, it := range items {
		if err := s.Add(it.Name, it.Scalar); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add appends a scalar. Names must be unique.
func (s *Set) Add(name string, v Scalar) error {
	if s.index == nil {
		s.index = make(map[string]int)
	}
	if _, dup := s.index[name]; dup {
		return scigoErrors.NewValidationError("name", "duplicate hyperparameter", name)
	}
	s.index[name] = len(s.names)
	s.names = append(s.names, name)
	s.values = append(s.values, v)
	return nil
}

// Len returns the number of hyperparameters.
func (s *Set) Len() int { return len(s.names) }

// Names returns all names in order.
func (s *Set) Names() []string { return append([]string(nil), s.names...) }

// Has reports whether name is in the set.
func (s *Set) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

func (s *Set) lookup(op, name string) (int, error) {
	i, ok := s.index[name]
	if !ok {
		return 0, scigoErrors.NewHyperparameterNameError(op, name, s.Names())
	}
	return i, nil
}

// Get returns the scalar called name.
func (s *Set) Get(name string) (Scalar, error) {
	i, err := s.lookup("Set.Get", name)
	if err != nil {
		return Scalar{}, err
	}
	return s.values[i], nil
}

// SetValue changes one value. Unknown names fail with a HyperparameterNameError.
func (s *Set) SetValue(name string, v float64) error {
	i, err := s.lookup("Set.SetValue", name)
	if err != nil {
		return err
	}
	return s.values[i].Set(v)
}

// Update applies every entry of p. All names and values are validated before
// anything is written, so a failed update leaves the set unchanged.
func (s *Set) Update(p Params) error {
	next := append([]Scalar(nil), s.values...)
	for _, name := range p.Names() {
		i, err := s.lookup("Set.Update", name)
		if err != nil {
			return err
		}
		if err := next[i].Set(p[name]); err != nil {
			return scigoErrors.Wrapf(err, "hyperparameter %q", name)
		}
	}
	s.values = next
	return nil
}

// Values returns every value keyed by name.
func (s *Set) Values() Params {
	p := make(Params, len(s.names))
	for i, n := range s.names {
		p[n] = s.values[i].value
	}
	return p
}

// OptParams returns the names, current values and bounds of the optimizable
// scalars, in set order. Fixed scalars are omitted.
func (s *Set) OptParams() ([]string, []float64, []Bound) {
	var (
		names  []string
		x0     []float64
		bounds []Bound
	)
	for i, n := range s.names {
		v := s.values[i]
		if v.Fixed() {
			continue
		}
		names = append(names, n)
		x0 = append(x0, v.value)
		bounds = append(bounds, Bound{Lower: v.lower, Upper: v.upper})
	}
	return names, x0, bounds
}

// Flatten extracts the optimizable values from p in OptParams order. Names
// missing from p take the set's current value.
func (s *Set) Flatten(p Params) []float64 {
	names, x, _ := s.OptParams()
	for i, n := range names {
		x[i] = p.Lookup(n, x[i])
	}
	return x
}

// Unflatten maps an optimizer vector back to named values. The result holds
// every hyperparameter; fixed ones keep their value.
func (s *Set) Unflatten(x []float64) (Params, error) {
	names, _, _ := s.OptParams()
	if len(x) != len(names) {
		return nil, scigoErrors.NewDimensionError("Set.Unflatten", len(names), len(x), 0)
	}
	p := s.Values()
	for i, n := range names {
		p[n] = x[i]
	}
	return p, nil
}

// Clone returns an independent copy.
func (s *Set) Clone() *Set {
	c := &Set{
		names:  append([]string(nil), s.names...),
		index:  make(map[string]int, len(s.index)),
		values: append([]Scalar(nil), s.values...),
	}
	for k, v := range s.index {
		c.index[k] = v
	}
	return c
}

func (s *Set) String() string {
	out := "{"
	for i, n := range s.names {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s: %s", n, s.values[i])
	}
	return out + "}"
}
