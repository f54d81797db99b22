package kernels

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/integrate/quad"
)

// GeneralMaternZeroTol is the distance below which the general Matérn form
// returns its limit value 1.
const GeneralMaternZeroTol = 1e-12

const (
	legendreNodes = 96
	// integrand tail cut, in nats below the peak
	besselTail = 45.0
)

var legendre struct {
	once sync.Once
	x, w []float64
}

// unitLegendre returns Gauss–Legendre nodes and weights on [0, 1].
func unitLegendre() ([]float64, []float64) {
	legendre.once.Do(func() {
		legendre.x = make([]float64, legendreNodes)
		legendre.w = make([]float64, legendreNodes)
		quad.Legendre{}.FixedLocations(legendre.x, legendre.w, 0, 1)
	})
	return legendre.x, legendre.w
}

func integrate(f func(float64) float64, a, b float64) float64 {
	if b <= a {
		return 0
	}
	xs, ws := unitLegendre()
	s := 0.0
	for i, x := range xs {
		s += ws[i] * f(a+(b-a)*x)
	}
	return s * (b - a)
}

// coshm1 is cosh(t)-1 without cancellation near zero.
func coshm1(t float64) float64 {
	s := math.Sinh(t / 2)
	return 2 * s * s
}

// logBesselK returns log K_nu(x) for x > 0 using
//
//	K_nu(x) = ∫_0^∞ exp(-x cosh t) cosh(nu t) dt.
//
// The integrand is rescaled by its peak and truncated where it has fallen by
// besselTail nats, then integrated on two Gauss–Legendre panels split at the peak.
func logBesselK(nu, x float64) float64 {
	nu = math.Abs(nu)
	h := func(t float64) float64 { return nu*t - x*coshm1(t) }
	peak := math.Asinh(nu / x)
	hPeak := h(peak)

	upper := peak + 1
	for hPeak-h(upper) < besselTail {
		upper = peak + 2*(upper-peak)
	}

	f := func(t float64) float64 {
		return math.Exp(h(t)-hPeak) * (1 + math.Exp(-2*nu*t)) / 2
	}
	total := integrate(f, 0, peak) + integrate(f, peak, upper)
	return hPeak + math.Log(total) - x
}

// MaternGeneral evaluates 2^(1-nu)/Γ(nu) (√(2nu) d)^nu K_nu(√(2nu) d).
// Distances below GeneralMaternZeroTol return 1.
func MaternGeneral(d, nu float64) float64 {
	if d < GeneralMaternZeroTol {
		return 1
	}
	x := math.Sqrt(2*nu) * d
	lg, _ := math.Lgamma(nu)
	logv := (1-nu)*math.Ln2 - lg + nu*math.Log(x) + logBesselK(nu, x)
	return math.Exp(logv)
}
