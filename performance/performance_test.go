package performance

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/YuminosukeSato/muygo/core/parallel"
	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
)

func TestChunks(t *testing.T) {
	tests := []struct {
		name string
		n    int
		size int
		want []Range
	}{
		{"even", 6, 2, []Range{{0, 2}, {2, 4}, {4, 6}}},
		{"remainder", 5, 2, []Range{{0, 2}, {2, 4}, {4, 5}}},
		{"single", 3, 0, []Range{{0, 3}}},
		{"oversized", 3, 10, []Range{{0, 3}}},
		{"empty", 0, 4, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Chunks(tt.n, tt.size)
			if len(got) != len(tt.want) {
				t.Fatalf("Chunks(%d, %d) = %v, want %v", tt.n, tt.size, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("chunk %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestChunkedProcessorCoversAllRows(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		p := NewChunkedProcessor(7, parallel).WithWorkers(3)
		seen := make([]int32, 50)
		err := p.Process(len(seen), func(_ int, r Range) error {
			for i := r.Start; i < r.End; i++ {
				atomic.AddInt32(&seen[i], 1)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("parallel=%v: %v", parallel, err)
		}
		for i, c := range seen {
			if c != 1 {
				t.Errorf("parallel=%v: row %d visited %d times", parallel, i, c)
			}
		}
	}
}

func TestChunkedProcessorLowestError(t *testing.T) {
	boom := errors.New("boom")
	for _, parallel := range []bool{false, true} {
		p := NewChunkedProcessor(2, parallel)
		var calls atomic.Int32
		err := p.Process(10, func(chunk int, _ Range) error {
			calls.Add(1)
			if chunk == 1 || chunk == 3 {
				return boom
			}
			return nil
		})
		if !errors.Is(err, boom) {
			t.Fatalf("parallel=%v: expected boom, got %v", parallel, err)
		}
		if got := err.Error(); got[:7] != "chunk 1" {
			t.Errorf("parallel=%v: expected lowest failing chunk, got %q", parallel, got)
		}
	}
}

func TestChunkedProcessorDefaultWorkers(t *testing.T) {
	parallel.SetMaxWorkers(2)
	defer parallel.SetMaxWorkers(0)

	p := NewChunkedProcessor(1, true)
	if got := p.Workers(); got != 2 {
		t.Errorf("Workers() = %d, want 2 from parallel.Workers", got)
	}
	if got := p.WithWorkers(5).Workers(); got != 5 {
		t.Errorf("Workers() = %d, want 5", got)
	}

	var running, peak atomic.Int32
	err := NewChunkedProcessor(1, true).Process(20, func(int, Range) error {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		running.Add(-1)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := peak.Load(); got > 2 {
		t.Errorf("%d chunks ran concurrently with a cap of 2", got)
	}
}

func TestChunkedProcessorPanic(t *testing.T) {
	for _, par := range []bool{false, true} {
		p := NewChunkedProcessor(3, par)
		err := p.Process(12, func(chunk int, _ Range) error {
			if chunk == 2 {
				var idx []int
				_ = idx[chunk]
			}
			return nil
		})
		var panicErr *scigoErrors.PanicError
		if !errors.As(err, &panicErr) {
			t.Fatalf("parallel=%v: expected PanicError, got %v", par, err)
		}
		if got := err.Error(); got[:7] != "chunk 2" {
			t.Errorf("parallel=%v: expected chunk 2 in %q", par, got)
		}
	}
}

func TestMemoryEfficientBatch(t *testing.T) {
	m := NewMemoryEfficientBatch(1)
	if !m.CanAllocate(1024) {
		t.Fatal("1KiB should fit in 1MiB")
	}
	if err := m.Allocate(1 << 20); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := m.Allocate(1); err == nil {
		t.Error("expected limit error")
	}
	m.Free(1 << 21)
	if used, max := m.GetUsage(); used != 0 || max != 1<<20 {
		t.Errorf("GetUsage = (%d, %d)", used, max)
	}

	// k=10, D=2, R=1: 200+20+200+20 = 440 elements
	if got := QueryBytes(10, 2, 1); got != 440*8 {
		t.Errorf("QueryBytes = %d, want %d", got, 440*8)
	}
	if got := m.ChunkSizeFor(10, 2, 1); got != (1<<20)/(440*8) {
		t.Errorf("ChunkSizeFor = %d", got)
	}
	if got := NewMemoryEfficientBatch(0).ChunkSizeFor(10, 2, 1); got != 1 {
		t.Errorf("ChunkSizeFor with no budget = %d, want 1", got)
	}
}
