package model

import (
	"github.com/YuminosukeSato/muygo/gp/hyperparameter"
)

// Identified is implemented by models carrying a stable identifier for logs.
type Identified interface {
	ID() string
}

// Tunable is the interface the optimizer drives. GetOptParams lists the
// non-fixed hyperparameters in canonical order; SetParams applies a
// name→value assignment atomically.
type Tunable interface {
	GetOptParams() (names []string, x0 []float64, bounds []hyperparameter.Bound)
	SetParams(p hyperparameter.Params) error
}

// SigmaSqFitter is implemented by models whose variance scale can be
// estimated after hyperparameters are chosen.
type SigmaSqFitter interface {
	SigmaSq() ([]float64, error)
}
