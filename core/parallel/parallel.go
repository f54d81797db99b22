// Package parallel splits index ranges across worker goroutines. The lapack
// backend uses it to distribute independent per-neighborhood solves.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"

	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
)

var maxWorkers atomic.Int64

// SetMaxWorkers caps the number of goroutines used by Parallelize.
// n <= 0 restores the default of runtime.NumCPU().
func SetMaxWorkers(n int) {
	maxWorkers.Store(int64(n))
}

// Workers returns the current worker cap.
func Workers() int {
	if n := int(maxWorkers.Load()); n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// Parallelize divides items into contiguous ranges, one per worker, and calls
// fn(start, end) for each range concurrently. It returns when all calls have
// finished. Ranges are disjoint, so fn may write to per-index output without
// locking. A panic in any worker is re-raised on the calling goroutine as a
// *errors.PanicError once every worker has returned.
func Parallelize(items int, fn func(start, end int)) {
	if items <= 0 {
		return
	}

	numWorkers := Workers()
	if numWorkers > items {
		numWorkers = items
	}

	// ceiling division
	chunkSize := (items + numWorkers - 1) / numWorkers

	var (
		wg sync.WaitGroup
		pc scigoErrors.PanicCollector
	)
	for i := 0; i < numWorkers; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > items {
			end = items
		}
		if start >= end {
			continue
		}

		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			defer pc.Capture("parallel.Parallelize")
			fn(s, e)
		}(start, end)
	}
	wg.Wait()
	pc.Repanic()
}

// ParallelizeWithThreshold runs fn(0, items) on the calling goroutine when
// items <= threshold and delegates to Parallelize otherwise.
func ParallelizeWithThreshold(items int, threshold int, fn func(start, end int)) {
	if items <= threshold {
		fn(0, items)
		return
	}
	Parallelize(items, fn)
}
