// Package errors: panic recovery.
//
// gonum reports shape mismatches and non-finite pivots by panicking. Public
// entry points defer Recover so such a panic surfaces as a *PanicError, and
// worker goroutines defer PanicCollector.Capture so a panic raised inside a
// parallel batch reaches the goroutine that owns the Recover.

package errors

import (
	"fmt"
	"runtime/debug"
	"sync"
)

// PanicError is an error created from a recovered panic.
type PanicError struct {
	// PanicValue is the value passed to panic().
	PanicValue interface{}

	// StackTrace is the stack of the goroutine that panicked.
	StackTrace string

	// Operation identifies where the panic was recovered.
	Operation string

	// Err is the error the function had already set when it panicked, if any.
	Err error
}

func (e *PanicError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("panic in %s: %v (original error: %v)", e.Operation, e.PanicValue, e.Err)
	}
	return fmt.Sprintf("panic in %s: %v", e.Operation, e.PanicValue)
}

// Unwrap returns the pre-existing error, so errors.Is still finds it.
func (e *PanicError) Unwrap() error {
	return e.Err
}

// String includes the stack trace.
func (e *PanicError) String() string {
	return fmt.Sprintf("%s\nStack trace:\n%s", e.Error(), e.StackTrace)
}

// NewPanicError captures the current stack. Call it from the deferred
// function that recovered, so the stack still shows the panicking frames.
func NewPanicError(operation string, panicValue interface{}) *PanicError {
	return &PanicError{
		PanicValue: panicValue,
		StackTrace: string(debug.Stack()),
		Operation:  operation,
	}
}

// Recover converts a panic into a *PanicError stored in *err. It must be
// deferred directly:
//
//	func (m *MuyGPS) PosteriorMean(...) (mean *tensor.Dense, err error) {
//	    defer Recover(&err, "MuyGPS.PosteriorMean")
//	    ...
//	}
//
// A panic re-raised by PanicCollector.Repanic keeps the worker's value and
// stack; only the operation is replaced. An error already set in *err is kept
// as PanicError.Err.
func Recover(err *error, operation string) {
	r := recover()
	if r == nil {
		return
	}
	var panicErr *PanicError
	if inner, ok := r.(*PanicError); ok {
		cp := *inner
		cp.Operation = operation
		panicErr = &cp
	} else {
		panicErr = NewPanicError(operation, r)
	}
	panicErr.Err = *err
	*err = panicErr
}

// SafeExecute runs fn and returns its error, or a *PanicError if it panicked.
func SafeExecute(operation string, fn func() error) (err error) {
	defer Recover(&err, operation)
	return fn()
}

// PanicCollector records the first panic raised by a group of worker
// goroutines. The zero value is ready to use.
//
//	var pc PanicCollector
//	go func() {
//	    defer wg.Done()
//	    defer pc.Capture("parallel.Parallelize")
//	    ...
//	}()
//	wg.Wait()
//	pc.Repanic()
type PanicCollector struct {
	once sync.Once
	err  *PanicError
}

// Capture must be deferred directly by the worker goroutine.
func (c *PanicCollector) Capture(operation string) {
	if r := recover(); r != nil {
		c.once.Do(func() {
			if inner, ok := r.(*PanicError); ok {
				c.err = inner
				return
			}
			c.err = NewPanicError(operation, r)
		})
	}
}

// Err returns the first captured panic, or nil. Call it after the workers
// have finished.
func (c *PanicCollector) Err() error {
	if c.err == nil {
		return nil
	}
	return c.err
}

// Repanic re-raises the first captured panic on the calling goroutine, where
// a deferred Recover can turn it into an error.
func (c *PanicCollector) Repanic() {
	if c.err != nil {
		panic(c.err)
	}
}
