// Package metrics scores predictions against held-out responses. Inputs are
// (n,R) matrices with one column per response, as returned by gp.Regress.
package metrics

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
)

// checkPair は形状が一致し空でないことを確認する
func checkPair(op string, yTrue, yPred mat.Matrix) (int, int, error) {
	n, R := yTrue.Dims()
	if n == 0 || R == 0 {
		return 0, 0, scigoErrors.Wrap(scigoErrors.ErrEmptyData, op)
	}
	pn, pR := yPred.Dims()
	if pn != n {
		return 0, 0, scigoErrors.NewDimensionError(op, n, pn, 0)
	}
	if pR != R {
		return 0, 0, scigoErrors.NewDimensionError(op, R, pR, 1)
	}
	return n, R, nil
}

// MSE は全要素の平均二乗誤差を計算する
func MSE(yTrue, yPred mat.Matrix) (float64, error) {
	n, R, err := checkPair("MSE", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	// フロベニウスノルムの二乗が残差平方和
	var diff mat.Dense
	diff.Sub(yTrue, yPred)
	f := mat.Norm(&diff, 2)
	return f * f / float64(n*R), nil
}

// RMSE は平方根平均二乗誤差を計算する
func RMSE(yTrue, yPred mat.Matrix) (float64, error) {
	mse, err := MSE(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(mse), nil
}

// MAE は全要素の平均絶対誤差を計算する
func MAE(yTrue, yPred mat.Matrix) (float64, error) {
	n, R, err := checkPair("MAE", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	var sum float64
	for i := 0; i < n; i++ {
		for r := 0; r < R; r++ {
			sum += math.Abs(yTrue.At(i, r) - yPred.At(i, r))
		}
	}
	return sum / float64(n*R), nil
}

// R2Score returns the coefficient of determination averaged uniformly over
// response columns. A constant column is undefined: it scores 1 when
// predicted exactly and 0 otherwise, and an UndefinedMetricWarning is raised.
func R2Score(yTrue, yPred mat.Matrix) (float64, error) {
	n, R, err := checkPair("R2Score", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for r := 0; r < R; r++ {
		t := mat.Col(nil, r, yTrue)
		p := mat.Col(nil, r, yPred)
		mean := stat.Mean(t, nil)

		var tss float64
		for _, v := range t {
			tss += (v - mean) * (v - mean)
		}
		rss := floats.Distance(t, p, 2)
		rss *= rss
		total += ratioScore("R2Score", rss, tss, n)
	}
	return total / float64(R), nil
}

// ExplainedVarianceScore は 1 - Var(yTrue-yPred)/Var(yTrue) を列ごとに計算して平均する
func ExplainedVarianceScore(yTrue, yPred mat.Matrix) (float64, error) {
	n, R, err := checkPair("ExplainedVarianceScore", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	if n < 2 {
		return 0, scigoErrors.NewValueError("ExplainedVarianceScore", "needs at least two samples")
	}
	total := 0.0
	for r := 0; r < R; r++ {
		t := mat.Col(nil, r, yTrue)
		resid := mat.Col(nil, r, yPred)
		floats.SubTo(resid, t, resid)
		total += ratioScore("ExplainedVarianceScore", stat.Variance(resid, nil), stat.Variance(t, nil), n)
	}
	return total / float64(R), nil
}

func ratioScore(metric string, num, den float64, n int) float64 {
	if den == 0 {
		score := 0.0
		if num == 0 {
			score = 1
		}
		scigoErrors.Warn(scigoErrors.NewUndefinedMetricWarning(metric, "constant response column", score))
		return score
	}
	return 1 - num/den
}
