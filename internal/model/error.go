package model

import "errors"

// Error definitions for the model package.
var (
	ErrNotFound = errors.New("model not found in registry")

	// ErrNoModelLoaded means neither the requested nor the default language
	// has a loaded model.
	ErrNoModelLoaded = errors.New("no language model loaded")

	ErrNoSpeakers = errors.New("language model has no speakers")
)
