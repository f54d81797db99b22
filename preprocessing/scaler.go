// Package preprocessing rescales features and responses before a MuyGPS fit
// and maps predictions back to the original units.
//
// The kernels assume a zero-mean prior with unit variance at zero distance,
// so responses are usually standardized. Features are often mapped to [0, 1]
// so that length-scale bounds mean the same thing in every dimension.
package preprocessing

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/muygo/core/model"
	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
)

// constantTolerance 以下の幅の列は定数とみなしスケール1を使う
const constantTolerance = 1e-8

// StandardScaler は列ごとに平均0、標準偏差1へ変換する
type StandardScaler struct {
	state *model.StateManager

	// Mean は各列の平均値
	Mean []float64
	// Scale は各列の標準偏差（母分散ベース）
	Scale []float64
	// NFeatures は列数
	NFeatures int

	WithMean bool
	WithStd  bool
}

// NewStandardScaler は新しいStandardScalerを作成する
//
// 使用例:
//
//	scaler := preprocessing.NewStandardScaler(true, true)
//	yScaled, err := scaler.FitTransform(y)
//	...
//	mean, err := scaler.InverseTransform(pred.Mean)
//	variance, err := scaler.InverseTransformVariance(pred.Variance)
func NewStandardScaler(withMean, withStd bool) *StandardScaler {
	return &StandardScaler{
		state:    model.NewStateManager(),
		WithMean: withMean,
		WithStd:  withStd,
	}
}

// NewStandardScalerDefault はデフォルト設定でStandardScalerを作成する
func NewStandardScalerDefault() *StandardScaler {
	return NewStandardScaler(true, true)
}

// IsFitted reports whether Fit has succeeded.
func (s *StandardScaler) IsFitted() bool { return s.state.IsFitted() }

// Fit は列ごとの平均と標準偏差を計算する
func (s *StandardScaler) Fit(X mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return scigoErrors.NewModelError("StandardScaler.Fit", "empty data", scigoErrors.ErrEmptyData)
	}

	s.state.Reset()
	s.NFeatures = c
	s.Mean = make([]float64, c)
	s.Scale = make([]float64, c)
	for j := 0; j < c; j++ {
		col := mat.Col(nil, j, X)
		mean := stat.Mean(col, nil)
		if s.WithMean {
			s.Mean[j] = mean
		}
		s.Scale[j] = 1
		if s.WithStd {
			var ss float64
			for _, v := range col {
				ss += (v - mean) * (v - mean)
			}
			if sd := math.Sqrt(ss / float64(r)); sd >= constantTolerance {
				s.Scale[j] = sd
			}
		}
	}
	s.state.SetDimensions(c, r)
	s.state.SetFitted()
	return nil
}

// Transform は (X - Mean) / Scale を返す
func (s *StandardScaler) Transform(X mat.Matrix) (*mat.Dense, error) {
	if err := s.check("Transform", X); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(i, j int, v float64) float64 {
		return (v - s.Mean[j]) / s.Scale[j]
	}, X)
	return out, nil
}

// FitTransform は学習と変換を続けて行う
func (s *StandardScaler) FitTransform(X mat.Matrix) (*mat.Dense, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

// InverseTransform は標準化された値（予測平均など）を元のスケールに戻す
func (s *StandardScaler) InverseTransform(X mat.Matrix) (*mat.Dense, error) {
	if err := s.check("InverseTransform", X); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(i, j int, v float64) float64 {
		return v*s.Scale[j] + s.Mean[j]
	}, X)
	return out, nil
}

// InverseTransformVariance maps posterior variances of standardized
// responses back to the original units by multiplying column j by Scale[j]².
// The mean shift does not affect variances.
func (s *StandardScaler) InverseTransformVariance(V mat.Matrix) (*mat.Dense, error) {
	if err := s.check("InverseTransformVariance", V); err != nil {
		return nil, err
	}
	r, c := V.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(i, j int, v float64) float64 {
		return v * s.Scale[j] * s.Scale[j]
	}, V)
	return out, nil
}

func (s *StandardScaler) check(method string, X mat.Matrix) error {
	if err := s.state.RequireFitted("StandardScaler", method); err != nil {
		return err
	}
	if _, c := X.Dims(); c != s.NFeatures {
		return scigoErrors.NewDimensionError("StandardScaler."+method, s.NFeatures, c, 1)
	}
	return nil
}

// String はスケーラーの文字列表現を返す
func (s *StandardScaler) String() string {
	if !s.IsFitted() {
		return fmt.Sprintf("StandardScaler(with_mean=%t, with_std=%t)", s.WithMean, s.WithStd)
	}
	return fmt.Sprintf("StandardScaler(with_mean=%t, with_std=%t, n_features=%d)",
		s.WithMean, s.WithStd, s.NFeatures)
}

// MinMaxScaler は列ごとに指定範囲（デフォルト[0,1]）へ線形変換する
type MinMaxScaler struct {
	state *model.StateManager

	// DataMin, DataMax は学習データの列ごとの最小値・最大値
	DataMin []float64
	DataMax []float64
	// Scale は DataMax - DataMin（定数列では1）
	Scale     []float64
	NFeatures int

	// FeatureRange はスケーリング後の範囲 [min, max]
	FeatureRange [2]float64
}

// NewMinMaxScaler は新しいMinMaxScalerを作成する
func NewMinMaxScaler(featureRange [2]float64) *MinMaxScaler {
	return &MinMaxScaler{
		state:        model.NewStateManager(),
		FeatureRange: featureRange,
	}
}

// NewMinMaxScalerDefault はデフォルト設定([0,1]範囲)でMinMaxScalerを作成する
func NewMinMaxScalerDefault() *MinMaxScaler {
	return NewMinMaxScaler([2]float64{0.0, 1.0})
}

// IsFitted reports whether Fit has succeeded.
func (m *MinMaxScaler) IsFitted() bool { return m.state.IsFitted() }

// Fit は列ごとの最小値・最大値を計算する
func (m *MinMaxScaler) Fit(X mat.Matrix) error {
	const op = "MinMaxScaler.Fit"
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return scigoErrors.NewModelError(op, "empty data", scigoErrors.ErrEmptyData)
	}
	if m.FeatureRange[0] >= m.FeatureRange[1] {
		return scigoErrors.NewValidationError("feature_range", "lower must be below upper", m.FeatureRange)
	}

	m.state.Reset()
	m.NFeatures = c
	m.DataMin = make([]float64, c)
	m.DataMax = make([]float64, c)
	m.Scale = make([]float64, c)
	for j := 0; j < c; j++ {
		col := mat.Col(nil, j, X)
		m.DataMin[j], m.DataMax[j] = floats.Min(col), floats.Max(col)
		m.Scale[j] = m.DataMax[j] - m.DataMin[j]
		if m.Scale[j] < constantTolerance {
			m.Scale[j] = 1
		}
	}
	m.state.SetDimensions(c, r)
	m.state.SetFitted()
	return nil
}

// Transform は学習範囲を FeatureRange へ写す
func (m *MinMaxScaler) Transform(X mat.Matrix) (*mat.Dense, error) {
	if err := m.check("Transform", X); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	width := m.FeatureRange[1] - m.FeatureRange[0]
	out := mat.NewDense(r, c, nil)
	out.Apply(func(i, j int, v float64) float64 {
		return (v-m.DataMin[j])/m.Scale[j]*width + m.FeatureRange[0]
	}, X)
	return out, nil
}

// FitTransform は学習と変換を続けて行う
func (m *MinMaxScaler) FitTransform(X mat.Matrix) (*mat.Dense, error) {
	if err := m.Fit(X); err != nil {
		return nil, err
	}
	return m.Transform(X)
}

// InverseTransform はスケーリングされたデータを元の範囲に戻す
func (m *MinMaxScaler) InverseTransform(X mat.Matrix) (*mat.Dense, error) {
	if err := m.check("InverseTransform", X); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	width := m.FeatureRange[1] - m.FeatureRange[0]
	out := mat.NewDense(r, c, nil)
	out.Apply(func(i, j int, v float64) float64 {
		return (v-m.FeatureRange[0])/width*m.Scale[j] + m.DataMin[j]
	}, X)
	return out, nil
}

func (m *MinMaxScaler) check(method string, X mat.Matrix) error {
	if err := m.state.RequireFitted("MinMaxScaler", method); err != nil {
		return err
	}
	if _, c := X.Dims(); c != m.NFeatures {
		return scigoErrors.NewDimensionError("MinMaxScaler."+method, m.NFeatures, c, 1)
	}
	return nil
}

// String はスケーラーの文字列表現を返す
func (m *MinMaxScaler) String() string {
	if !m.IsFitted() {
		return fmt.Sprintf("MinMaxScaler(feature_range=[%.1f, %.1f])",
			m.FeatureRange[0], m.FeatureRange[1])
	}
	return fmt.Sprintf("MinMaxScaler(feature_range=[%.1f, %.1f], n_features=%d)",
		m.FeatureRange[0], m.FeatureRange[1], m.NFeatures)
}
