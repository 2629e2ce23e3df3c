package changerequest

import (
	"errors"
	"fmt"

	"github.com/niczy/changerequest/internal/storage"
)

var (
	// ErrStaleState is returned when the change request or a document changed
	// since the caller loaded it. Callers reload and re-evaluate.
	ErrStaleState = storage.ErrStaleVersion
	// ErrNotFound is returned when the change request does not exist.
	ErrNotFound = storage.ErrChangeRequestNotFound
	// ErrInvalidInput is returned for malformed requests.
	ErrInvalidInput = storage.ErrInvalidInput
)

// CollaboratorError wraps a failure of storage, the document store or the
// merge engine.
type CollaboratorError struct {
	Op  string
	Err error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// wrap classifies err for op. Stale state and missing entities stay
// distinguishable through errors.Is.
func (m *Manager) wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStaleState):
		m.metrics.RecordStale(op)
		return fmt.Errorf("%s: %w", op, ErrStaleState)
	case errors.Is(err, ErrNotFound), errors.Is(err, storage.ErrReviewNotFound), errors.Is(err, ErrInvalidInput):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return &CollaboratorError{Op: op, Err: err}
	}
}
