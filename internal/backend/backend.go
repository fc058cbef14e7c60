package backend

import (
	"context"

	"github.com/ekisa-team/melotts/internal/audio"
)

// BackendProvider is a string identifier for a backend provider.
type BackendProvider string

const (
	BackendProviderMelo       BackendProvider = "melo"
	BackendProviderMeloWorker BackendProvider = "melo-worker"
)

// Backend defines the synthesis capability: normalized text in, mono
// waveform out.
type Backend interface {
	// Provider returns the backend identifier.
	Provider() BackendProvider

	// Synthesize renders req.Text with the requested speaker and speed.
	// The returned waveform carries the backend's native sample rate.
	Synthesize(ctx context.Context, req *Request) (audio.Waveform, error)

	// Close cleans up resources.
	Close() error
}

// SpeakerLister is an optional interface for backends that can enumerate the
// speakers of a language model themselves.
type SpeakerLister interface {
	Speakers(ctx context.Context, language string) (map[string]Speaker, error)
}

// Speaker is the opaque handle a backend needs to select a voice. Name is the
// public voice id (e.g. "EN-US"), ID the model's internal speaker index.
type Speaker struct {
	Name string `json:"name"`
	ID   int    `json:"id"`
}

// Request encapsulates all parameters for a synthesis call.
type Request struct {
	// Text is the normalized input.
	Text string

	// Language is the registry language code (EN, ES, ...).
	Language string

	// ModelPath is the local checkpoint directory, empty when the backend
	// manages its own weights.
	ModelPath string

	Speaker Speaker

	// Speed is the playback rate multiplier, 1.0 is natural speed.
	Speed float64

	// Device is one of auto, cpu, cuda, mps.
	Device string

	// Parameters contains backend-specific inference parameters.
	Parameters map[string]any
}
