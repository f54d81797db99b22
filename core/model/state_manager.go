// Package model provides fitted-state tracking and the capability interfaces
// shared by the GP models.
package model

import (
	"sync"

	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
)

// StateManager manages the fitted state of a model in a thread-safe manner.
// For the GP models "fitted" means the variance scale σ² has been estimated.
type StateManager struct {
	Fitted bool // Public for encoding
	mu     sync.RWMutex

	// Optional metadata - Public for encoding
	NResponses int
	NBatch     int
}

// NewStateManager creates a new StateManager instance.
func NewStateManager() *StateManager {
	return &StateManager{
		Fitted: false,
	}
}

// IsFitted returns whether the model has been fitted.
func (s *StateManager) IsFitted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Fitted
}

// SetFitted marks the model as fitted.
func (s *StateManager) SetFitted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fitted = true
}

// Reset resets the fitted state.
func (s *StateManager) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fitted = false
	s.NResponses = 0
	s.NBatch = 0
}

// SetDimensions records the response count and batch size seen while fitting.
func (s *StateManager) SetDimensions(nResponses, nBatch int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NResponses = nResponses
	s.NBatch = nBatch
}

// GetDimensions returns the response count and batch size seen while fitting.
func (s *StateManager) GetDimensions() (nResponses, nBatch int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.NResponses, s.NBatch
}

// RequireFitted returns a NotFittedError naming model and method if the
// model has not been fitted.
func (s *StateManager) RequireFitted(model, method string) error {
	if !s.IsFitted() {
		return scigoErrors.NewNotFittedError(model, method)
	}
	return nil
}

// ModelState represents the complete state of a model.
// This can be used for serialization and debugging.
type ModelState struct {
	Fitted     bool `json:"fitted"`
	NResponses int  `json:"n_responses,omitempty"`
	NBatch     int  `json:"n_batch,omitempty"`
}

// GetState returns the current state as a ModelState struct.
func (s *StateManager) GetState() ModelState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return ModelState{
		Fitted:     s.Fitted,
		NResponses: s.NResponses,
		NBatch:     s.NBatch,
	}
}

// SetState sets the state from a ModelState struct.
func (s *StateManager) SetState(state ModelState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Fitted = state.Fitted
	s.NResponses = state.NResponses
	s.NBatch = state.NBatch
}

// WithState is a helper function that executes a function with the state locked for reading.
func (s *StateManager) WithState(fn func() error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn()
}

// WithStateMut is a helper function that executes a function with the state locked for writing.
func (s *StateManager) WithStateMut(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}
