package service

import (
	"context"
	"errors"

	"github.com/ekisa-team/melotts/internal/model"
)

// Error definitions for the service package.
var (
	ErrEmptyInput      = errors.New("Input text is empty after normalization")
	ErrSynthesisFailed = errors.New("Failed to generate audio")
	ErrInvalidSpeed    = errors.New("speed must be greater than zero")

	// ErrNoModelLoaded is returned when neither the requested nor the default
	// language has a loaded model.
	ErrNoModelLoaded = model.ErrNoModelLoaded
)

// InternalError wraps any pipeline failure that is not one of the errors
// above. Its message is the original error's message.
type InternalError struct {
	Err error
}

func (e *InternalError) Error() string {
	return e.Err.Error()
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// IsClientError reports whether err was caused by the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrEmptyInput) || errors.Is(err, ErrInvalidSpeed)
}

// classify passes known errors through and wraps the rest.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrEmptyInput),
		errors.Is(err, ErrInvalidSpeed),
		errors.Is(err, ErrSynthesisFailed),
		errors.Is(err, ErrNoModelLoaded),
		errors.Is(err, context.Canceled):
		return err
	}

	var internal *InternalError
	if errors.As(err, &internal) {
		return err
	}

	return &InternalError{Err: err}
}
