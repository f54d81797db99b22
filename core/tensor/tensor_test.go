package tensor

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
)

func TestNewAndAt(t *testing.T) {
	data := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}
	x, err := New([]int{2, 3, 2}, data)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		idx  []int
		want float64
	}{
		{[]int{0, 0, 0}, 0},
		{[]int{0, 2, 1}, 5},
		{[]int{1, 0, 0}, 6},
		{[]int{1, 2, 1}, 11},
	}
	for _, tt := range tests {
		if got := x.At(tt.idx...); got != tt.want {
			t.Errorf("At(%v) = %v, want %v", tt.idx, got, tt.want)
		}
	}

	x.Set(-1, 1, 1, 0)
	if data[8] != -1 {
		t.Errorf("Set should write through to the backing slice")
	}

	if _, err := New([]int{2, 2}, data); err == nil {
		t.Error("expected error for element-count mismatch")
	}
}

func TestIndexAndReshape(t *testing.T) {
	x := Zeros(3, 2, 2)
	for i := range x.Data() {
		x.Data()[i] = float64(i)
	}

	sub := x.Index(1)
	if got := sub.Shape(); len(got) != 2 || got[0] != 2 || got[1] != 2 {
		t.Fatalf("Index(1).Shape() = %v", got)
	}
	if sub.At(1, 0) != 6 {
		t.Errorf("Index(1).At(1,0) = %v, want 6", sub.At(1, 0))
	}
	sub.Set(100, 0, 0)
	if x.At(1, 0, 0) != 100 {
		t.Error("Index should return a view")
	}

	flat, err := x.Reshape(12)
	if err != nil {
		t.Fatalf("Reshape() error = %v", err)
	}
	if flat.At(4) != 100 {
		t.Errorf("Reshape view mismatch: %v", flat.At(4))
	}
	if _, err := x.Reshape(5); err == nil {
		t.Error("expected error reshaping 12 elements into 5")
	}
}

func TestMatrixRoundTrip(t *testing.T) {
	m := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	x := FromMatrix(m)
	back, err := x.Matrix()
	if err != nil {
		t.Fatalf("Matrix() error = %v", err)
	}
	if !mat.Equal(m, back) {
		t.Errorf("round trip mismatch: %v vs %v", mat.Formatted(m), mat.Formatted(back))
	}

	if _, err := Zeros(2, 2, 2).Matrix(); err == nil {
		t.Error("expected error converting 3-d tensor")
	}
}

func TestAllClose(t *testing.T) {
	a := Full(1.0, 2, 2)
	b := a.Clone()
	b.Set(1+1e-9, 0, 1)

	if !AllClose(a, b, 1e-8) {
		t.Error("AllClose should accept differences within tolerance")
	}
	if AllClose(a, b, 1e-10) {
		t.Error("AllClose should reject differences beyond tolerance")
	}
	if AllClose(a, Full(1.0, 4), 1) {
		t.Error("AllClose should reject shape mismatch")
	}
	b.Set(math.NaN(), 0, 0)
	if AllClose(a, b, 1) {
		t.Error("AllClose should reject NaN")
	}
}

func TestCheckShape(t *testing.T) {
	x := Zeros(4, 3)
	if err := CheckShape("op", "x", x, 4, -1); err != nil {
		t.Errorf("unexpected error %v", err)
	}
	err := CheckShape("op", "x", x, 4, 2)
	var shapeErr *scigoErrors.InputShapeError
	if !scigoErrors.As(err, &shapeErr) {
		t.Fatalf("expected InputShapeError, got %v", err)
	}
	if shapeErr.Feature != "x" {
		t.Errorf("Feature = %q", shapeErr.Feature)
	}
}

func TestCheckIndices(t *testing.T) {
	tests := []struct {
		name    string
		idx     [][]int
		n       int
		wantK   int
		wantErr bool
	}{
		{"valid", [][]int{{0, 1}, {2, 3}}, 4, 2, false},
		{"ragged", [][]int{{0, 1}, {2}}, 4, 0, true},
		{"out of range", [][]int{{0, 4}}, 4, 0, true},
		{"negative", [][]int{{-1, 0}}, 4, 0, true},
		{"empty", nil, 4, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := CheckIndices("op", tt.idx, tt.n)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckIndices() error = %v, wantErr %v", err, tt.wantErr)
			}
			if k != tt.wantK {
				t.Errorf("k = %d, want %d", k, tt.wantK)
			}
		})
	}

	_, err := CheckIndices("op", [][]int{{0, 1}, {2}}, 4)
	var dimErr *scigoErrors.DimensionError
	if !scigoErrors.As(err, &dimErr) {
		t.Errorf("ragged rows should be a DimensionError, got %v", err)
	}
}
