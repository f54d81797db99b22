package parallel

import (
	"errors"
	"sync/atomic"
	"testing"

	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
)

func TestParallelizeCoversEveryIndexOnce(t *testing.T) {
	tests := []struct {
		name    string
		items   int
		workers int
	}{
		{"fewer items than workers", 3, 8},
		{"uneven split", 101, 4},
		{"single worker", 17, 1},
		{"default workers", 1000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetMaxWorkers(tt.workers)
			defer SetMaxWorkers(0)

			hits := make([]int32, tt.items)
			Parallelize(tt.items, func(start, end int) {
				for i := start; i < end; i++ {
					atomic.AddInt32(&hits[i], 1)
				}
			})
			for i, h := range hits {
				if h != 1 {
					t.Fatalf("index %d visited %d times", i, h)
				}
			}
		})
	}
}

func TestParallelizeWithThresholdSequential(t *testing.T) {
	calls := 0
	ParallelizeWithThreshold(10, 10, func(start, end int) {
		calls++
		if start != 0 || end != 10 {
			t.Errorf("range = [%d,%d), want [0,10)", start, end)
		}
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestParallelizeZeroItems(t *testing.T) {
	Parallelize(0, func(start, end int) {
		t.Error("fn should not be called for zero items")
	})
}

func TestParallelizeWorkerPanic(t *testing.T) {
	SetMaxWorkers(4)
	defer SetMaxWorkers(0)

	var finished atomic.Int32
	err := scigoErrors.SafeExecute("lapack.Solve", func() error {
		Parallelize(40, func(start, end int) {
			if start == 10 {
				panic("not positive definite")
			}
			finished.Add(1)
		})
		return nil
	})

	var panicErr *scigoErrors.PanicError
	if !errors.As(err, &panicErr) {
		t.Fatalf("expected PanicError, got %v", err)
	}
	if panicErr.PanicValue != "not positive definite" {
		t.Errorf("PanicValue = %v", panicErr.PanicValue)
	}
	if panicErr.Operation != "lapack.Solve" {
		t.Errorf("Operation = %q, want lapack.Solve", panicErr.Operation)
	}
	if panicErr.StackTrace == "" {
		t.Error("expected the worker stack")
	}
	// 他のワーカーは最後まで実行される
	if got := finished.Load(); got != 3 {
		t.Errorf("finished workers = %d, want 3", got)
	}
}
