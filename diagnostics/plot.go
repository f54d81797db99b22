// Package diagnostics renders charts for inspecting a fit: the loss trace of
// a hyperparameter optimization and predicted against observed responses.
package diagnostics

import (
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/muygo/optimize"
	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
)

// Default image size.
const (
	DefaultWidth  = 6 * vg.Inch
	DefaultHeight = 4 * vg.Inch
)

// Format is an image format understood by gonum/plot.
type Format string

const (
	PNG Format = "png"
	SVG Format = "svg"
	PDF Format = "pdf"
)

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch f := Format(strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")); f {
	case PNG, SVG, PDF:
		return f, nil
	default:
		return "", scigoErrors.NewValidationError("format", "unsupported image format", filepath.Ext(path))
	}
}

// TracePlot builds a line chart of the best loss after each optimizer
// iteration.
func TracePlot(res *optimize.Result) (*plot.Plot, error) {
	const op = "diagnostics.TracePlot"
	if res == nil || len(res.Trace) == 0 {
		return nil, scigoErrors.Wrap(scigoErrors.ErrEmptyData, op)
	}
	pts := make(plotter.XYs, 0, len(res.Trace))
	for i, v := range res.Trace {
		// 発散した評価値は描画できない
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		pts = append(pts, plotter.XY{X: float64(i + 1), Y: v})
	}
	if len(pts) == 0 {
		return nil, scigoErrors.NewValueError(op, "trace has no finite values")
	}

	p := plot.New()
	p.Title.Text = "Leave-one-out loss"
	p.X.Label.Text = "iteration"
	p.Y.Label.Text = "loss"
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, scigoErrors.Wrap(err, op)
	}
	p.Add(plotter.NewGrid(), line)
	return p, nil
}

// ParityPlot scatters predictions against observed values for response
// column r, with the y = x reference line.
func ParityPlot(pred, observed mat.Matrix, r int) (*plot.Plot, error) {
	const op = "diagnostics.ParityPlot"
	n, R := pred.Dims()
	if on, oR := observed.Dims(); on != n || oR != R {
		return nil, scigoErrors.NewDimensionError(op, n, on, 0)
	}
	if n == 0 {
		return nil, scigoErrors.Wrap(scigoErrors.ErrEmptyData, op)
	}
	if r < 0 || r >= R {
		return nil, scigoErrors.NewValidationError("response", "out of range", r)
	}

	pts := make(plotter.XYs, n)
	xs := make([]float64, 0, 2*n)
	for i := 0; i < n; i++ {
		pts[i] = plotter.XY{X: observed.At(i, r), Y: pred.At(i, r)}
		xs = append(xs, pts[i].X, pts[i].Y)
	}
	lo, hi := floats.Min(xs), floats.Max(xs)

	p := plot.New()
	p.Title.Text = "Predicted vs observed"
	p.X.Label.Text = "observed"
	p.Y.Label.Text = "predicted"
	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, scigoErrors.Wrap(err, op)
	}
	ref, err := plotter.NewLine(plotter.XYs{{X: lo, Y: lo}, {X: hi, Y: hi}})
	if err != nil {
		return nil, scigoErrors.Wrap(err, op)
	}
	ref.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(plotter.NewGrid(), scatter, ref)
	return p, nil
}

// Render writes p to w at the default size.
func Render(p *plot.Plot, w io.Writer, format Format) error {
	wt, err := p.WriterTo(DefaultWidth, DefaultHeight, string(format))
	if err != nil {
		return scigoErrors.Wrap(err, "diagnostics.Render")
	}
	if _, err := wt.WriteTo(w); err != nil {
		return scigoErrors.Wrap(err, "diagnostics.Render")
	}
	return nil
}

// Save writes p to path, choosing the format from the extension.
func Save(p *plot.Plot, path string) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return scigoErrors.Wrapf(err, "diagnostics: create %s", path)
	}
	if err := Render(p, f, format); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
