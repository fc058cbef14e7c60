// Package audio holds the waveform type produced by synthesis and the stages
// that transform it: upsampling and container/codec encoding.
package audio

import (
	"time"
)

// Waveform is mono audio as float samples in [-1, 1] at SampleRate Hz.
// A Waveform is never mutated once produced; every stage returns a new one.
type Waveform struct {
	Samples    []float32
	SampleRate int
}

// Len returns the number of samples.
func (w Waveform) Len() int {
	return len(w.Samples)
}

// IsEmpty reports whether the waveform has no samples.
func (w Waveform) IsEmpty() bool {
	return len(w.Samples) == 0
}

// Duration returns the playback length of the waveform.
func (w Waveform) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(w.Samples)) * time.Second / time.Duration(w.SampleRate)
}

// Format is an output audio format as requested by clients.
type Format string

const (
	FormatWAV  Format = "wav"
	FormatMP3  Format = "mp3"
	FormatOpus Format = "opus"
)

// Content types for the produced formats.
const (
	ContentTypeWAV  = "audio/wav"
	ContentTypeMP3  = "audio/mpeg"
	ContentTypeOpus = "audio/opus"
)

// ContentType returns the MIME type of f. Unknown formats map to WAV.
func (f Format) ContentType() string {
	switch f {
	case FormatMP3:
		return ContentTypeMP3
	case FormatOpus:
		return ContentTypeOpus
	default:
		return ContentTypeWAV
	}
}

// Supported reports whether f is one of the formats the encoder knows.
func (f Format) Supported() bool {
	return f == FormatWAV || f == FormatMP3 || f == FormatOpus
}
