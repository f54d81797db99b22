// Package performance splits large prediction workloads into row chunks so
// that the per-query neighborhood tensors never have to exist all at once.
package performance

import (
	"sync"

	"github.com/YuminosukeSato/muygo/core/parallel"
	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
)

// Range is the half-open row interval [Start, End).
type Range struct {
	Start, End int
}

// Len returns the number of rows in r.
func (r Range) Len() int { return r.End - r.Start }

// Chunks splits n rows into consecutive ranges of at most size rows.
func Chunks(n, size int) []Range {
	if n <= 0 {
		return nil
	}
	if size <= 0 || size > n {
		size = n
	}
	out := make([]Range, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, Range{Start: start, End: end})
	}
	return out
}

// ChunkedProcessor processes row ranges in chunks, optionally with several
// workers. Each chunk is handled by exactly one call, so fn may write to
// per-row output without locking.
type ChunkedProcessor struct {
	chunkSize  int
	parallel   bool
	numWorkers int
}

// NewChunkedProcessor creates a new chunked processor. chunkSize <= 0 puts
// all rows in one chunk.
func NewChunkedProcessor(chunkSize int, parallel bool) *ChunkedProcessor {
	return &ChunkedProcessor{
		chunkSize: chunkSize,
		parallel:  parallel,
	}
}

// WithWorkers sets the number of parallel workers. Without it the cap of
// parallel.Workers() at Process time is used.
func (c *ChunkedProcessor) WithWorkers(n int) *ChunkedProcessor {
	if n > 0 {
		c.numWorkers = n
	}
	return c
}

// ChunkSize returns the configured chunk size.
func (c *ChunkedProcessor) ChunkSize() int { return c.chunkSize }

// Workers returns the number of workers a parallel run would start.
func (c *ChunkedProcessor) Workers() int {
	if c.numWorkers > 0 {
		return c.numWorkers
	}
	return parallel.Workers()
}

// Process calls fn(chunk, r) for every chunk of n rows. The error of the
// lowest-numbered failing chunk is returned, so parallel and sequential runs
// report the same failure. A panicking chunk fails with a *errors.PanicError.
func (c *ChunkedProcessor) Process(n int, fn func(chunk int, r Range) error) error {
	chunks := Chunks(n, c.chunkSize)
	if c.parallel && len(chunks) > 1 {
		return c.processParallel(chunks, fn)
	}
	return c.processSequential(chunks, fn)
}

func (c *ChunkedProcessor) processSequential(chunks []Range, fn func(chunk int, r Range) error) error {
	for i, r := range chunks {
		if err := runChunk(fn, i, r); err != nil {
			return scigoErrors.Wrapf(err, "chunk %d [%d, %d)", i, r.Start, r.End)
		}
	}
	return nil
}

func (c *ChunkedProcessor) processParallel(chunks []Range, fn func(chunk int, r Range) error) error {
	jobs := make(chan int, len(chunks))
	errs := make([]error, len(chunks))
	var wg sync.WaitGroup

	workers := c.Workers()
	if workers > len(chunks) {
		workers = len(chunks)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				errs[i] = runChunk(fn, i, chunks[i])
			}
		}()
	}

	for i := range chunks {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			r := chunks[i]
			return scigoErrors.Wrapf(err, "chunk %d [%d, %d)", i, r.Start, r.End)
		}
	}
	return nil
}

func runChunk(fn func(chunk int, r Range) error, i int, r Range) (err error) {
	defer scigoErrors.Recover(&err, "performance.ChunkedProcessor")
	return fn(i, r)
}
