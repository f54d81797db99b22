package gp

import (
	"github.com/YuminosukeSato/muygo/core/backend"
	"github.com/YuminosukeSato/muygo/core/tensor"
	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
)

// VarianceTolerance is how far below zero a diagonal variance may fall
// before it is reported as a conditioning failure. Values in
// [-VarianceTolerance, 0) are returned unchanged, never clamped.
const VarianceTolerance = 1e-8

func checkCov(op string, K *tensor.Dense) (int, int, error) {
	if err := tensor.CheckShape(op, "K", K, -1, -1, -1); err != nil {
		return 0, 0, err
	}
	if K.Dim(1) != K.Dim(2) {
		return 0, 0, scigoErrors.NewNamedInputShapeError(op, "K", []int{K.Dim(0), K.Dim(1), K.Dim(1)}, K.Shape())
	}
	return K.Dim(0), K.Dim(1), nil
}

// PosteriorMean returns Kcrossᵀ K⁻¹ targets for every batch. K is (B,k,k),
// Kcross is (B,k) and nnTargets is (B,k,R); the result is (B,R). K must
// already carry its nugget.
func PosteriorMean(be backend.Backend, K, Kcross, nnTargets *tensor.Dense) (*tensor.Dense, error) {
	const op = "gp.PosteriorMean"
	B, k, err := checkCov(op, K)
	if err != nil {
		return nil, err
	}
	if err := tensor.CheckShape(op, "Kcross", Kcross, B, k); err != nil {
		return nil, err
	}
	if err := tensor.CheckShape(op, "nn_targets", nnTargets, B, k, -1); err != nil {
		return nil, err
	}
	coeffs, err := be.Solve(K, nnTargets)
	if err != nil {
		return nil, err
	}
	return be.Contract(Kcross, coeffs)
}

// DiagonalVariance returns 1 − Kcrossᵀ K⁻¹ Kcross per batch as a (B) tensor.
// The kernels are normalized so the prior variance at zero distance is 1.
func DiagonalVariance(be backend.Backend, K, Kcross *tensor.Dense) (*tensor.Dense, error) {
	const op = "gp.DiagonalVariance"
	B, k, err := checkCov(op, K)
	if err != nil {
		return nil, err
	}
	if err := tensor.CheckShape(op, "Kcross", Kcross, B, k); err != nil {
		return nil, err
	}
	rhs, err := Kcross.Reshape(B, k, 1)
	if err != nil {
		return nil, err
	}
	x, err := be.Solve(K, rhs)
	if err != nil {
		return nil, err
	}

	out := tensor.Zeros(B)
	kc, xs, v := Kcross.Data(), x.Data(), out.Data()
	for b := 0; b < B; b++ {
		v[b] = 1 - be.Dot(kc[b*k:(b+1)*k], xs[b*k:(b+1)*k])
		if v[b] < -VarianceTolerance {
			return nil, scigoErrors.NewConditioningError(op, b, 0, "negative posterior variance")
		}
	}
	return out, nil
}

// SigmaSqOptim returns the maximum-likelihood variance scale per response:
// the mean over batches of targetsᵀ K⁻¹ targets / k. The result is (R).
func SigmaSqOptim(be backend.Backend, K, nnTargets *tensor.Dense) (*tensor.Dense, error) {
	const op = "gp.SigmaSqOptim"
	B, k, err := checkCov(op, K)
	if err != nil {
		return nil, err
	}
	if err := tensor.CheckShape(op, "nn_targets", nnTargets, B, k, -1); err != nil {
		return nil, err
	}
	if B == 0 || k == 0 {
		return nil, scigoErrors.ErrEmptyData
	}
	R := nnTargets.Dim(2)
	x, err := be.Solve(K, nnTargets)
	if err != nil {
		return nil, err
	}

	out := tensor.Zeros(R)
	t, xs, s := nnTargets.Data(), x.Data(), out.Data()
	col := make([]float64, k)
	xcol := make([]float64, k)
	for r := 0; r < R; r++ {
		var acc float64
		for b := 0; b < B; b++ {
			base := b * k * R
			for j := 0; j < k; j++ {
				col[j] = t[base+j*R+r]
				xcol[j] = xs[base+j*R+r]
			}
			acc += be.Dot(col, xcol)
		}
		s[r] = acc / float64(k*B)
	}
	return out, nil
}

// FastPrecompute solves K_fast x = targets_fast once per training point and
// returns the (N,k,R) coefficient cache.
func FastPrecompute(be backend.Backend, Kfast, nnTargetsFast *tensor.Dense) (*tensor.Dense, error) {
	const op = "gp.FastPrecompute"
	N, k, err := checkCov(op, Kfast)
	if err != nil {
		return nil, err
	}
	if err := tensor.CheckShape(op, "nn_targets", nnTargetsFast, N, k, -1); err != nil {
		return nil, err
	}
	return be.Solve(Kfast, nnTargetsFast)
}

// FastPosteriorMean contracts a (B,k) cross-covariance with the (B,k,R)
// coefficient rows of each query's closest training point.
func FastPosteriorMean(be backend.Backend, Kcross, coeffs *tensor.Dense) (*tensor.Dense, error) {
	const op = "gp.FastPosteriorMean"
	if err := tensor.CheckShape(op, "Kcross", Kcross, -1, -1); err != nil {
		return nil, err
	}
	if err := tensor.CheckShape(op, "coeffs", coeffs, Kcross.Dim(0), Kcross.Dim(1), -1); err != nil {
		return nil, err
	}
	return be.Contract(Kcross, coeffs)
}

// MultivariateFastPosteriorMean computes out[b,r] = Σ_j Kcross[b,j,r]·coeffs[b,j,r],
// one independent model per response column.
func MultivariateFastPosteriorMean(be backend.Backend, Kcross, coeffs *tensor.Dense) (*tensor.Dense, error) {
	const op = "gp.MultivariateFastPosteriorMean"
	if err := tensor.CheckShape(op, "Kcross", Kcross, -1, -1, -1); err != nil {
		return nil, err
	}
	B, k, R := Kcross.Dim(0), Kcross.Dim(1), Kcross.Dim(2)
	if err := tensor.CheckShape(op, "coeffs", coeffs, B, k, R); err != nil {
		return nil, err
	}

	out := tensor.Zeros(B, R)
	kc, c, o := Kcross.Data(), coeffs.Data(), out.Data()
	a := make([]float64, k)
	x := make([]float64, k)
	for b := 0; b < B; b++ {
		base := b * k * R
		for r := 0; r < R; r++ {
			for j := 0; j < k; j++ {
				a[j] = kc[base+j*R+r]
				x[j] = c[base+j*R+r]
			}
			o[b*R+r] = be.Dot(a, x)
		}
	}
	return out, nil
}

// gatherRows returns t[idx[0]], t[idx[1]], ... stacked along the leading axis.
func gatherRows(op string, t *tensor.Dense, idx []int) (*tensor.Dense, error) {
	if err := tensor.CheckIndexVector(op, idx, t.Dim(0)); err != nil {
		return nil, err
	}
	shape := t.Shape()
	step := 1
	for _, d := range shape[1:] {
		step *= d
	}
	shape[0] = len(idx)
	out := tensor.Zeros(shape...)
	src, dst := t.Data(), out.Data()
	for i, j := range idx {
		copy(dst[i*step:(i+1)*step], src[j*step:(j+1)*step])
	}
	return out, nil
}
