package performance

import (
	"sync"

	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
)

const float64Bytes = 8

// MemoryEfficientBatch tracks the bytes held by in-flight chunks against a
// fixed budget.
type MemoryEfficientBatch struct {
	maxMemory   int64
	currentUsed int64
	mu          sync.Mutex
}

// NewMemoryEfficientBatch creates a memory-efficient batch processor
func NewMemoryEfficientBatch(maxMemoryMB int64) *MemoryEfficientBatch {
	return &MemoryEfficientBatch{
		maxMemory: maxMemoryMB * 1024 * 1024,
	}
}

// CanAllocate checks if allocation is possible within memory limits
func (m *MemoryEfficientBatch) CanAllocate(bytes int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.currentUsed+bytes <= m.maxMemory
}

// Allocate tracks memory allocation
func (m *MemoryEfficientBatch) Allocate(bytes int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.currentUsed+bytes > m.maxMemory {
		return scigoErrors.Newf("memory limit exceeded: %d + %d > %d",
			m.currentUsed, bytes, m.maxMemory)
	}

	m.currentUsed += bytes
	return nil
}

// Free tracks memory deallocation
func (m *MemoryEfficientBatch) Free(bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.currentUsed -= bytes
	if m.currentUsed < 0 {
		m.currentUsed = 0
	}
}

// GetUsage returns current memory usage
func (m *MemoryEfficientBatch) GetUsage() (used, max int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.currentUsed, m.maxMemory
}

// QueryBytes estimates the bytes one query needs during prediction: the
// (k,k,D) pairwise and (k,D) crosswise differences, the (k,k) covariance and
// its perturbed copy, and (k,R) neighbor targets plus solve output.
func QueryBytes(k, d, r int) int64 {
	elems := k*k*d + k*d + 2*k*k + 2*k*r
	return int64(elems) * float64Bytes
}

// ChunkSizeFor returns how many queries fit in the budget at once, at least 1.
func (m *MemoryEfficientBatch) ChunkSizeFor(k, d, r int) int {
	_, limit := m.GetUsage()
	per := QueryBytes(k, d, r)
	if per <= 0 {
		return 1
	}
	n := int(limit / per)
	if n < 1 {
		return 1
	}
	return n
}
