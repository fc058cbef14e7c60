package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/ekisa-team/melotts/internal/audio"
	"github.com/ekisa-team/melotts/internal/backend"
	"github.com/ekisa-team/melotts/internal/model"
	"github.com/ekisa-team/melotts/internal/text"
)

// Request defaults.
const (
	DefaultModel  = "tts-1"
	DefaultVoice  = "EN-Default"
	DefaultFormat = audio.FormatOpus
	DefaultSpeed  = 1.0
)

// RegistryProvider hands out the current registry snapshot.
type RegistryProvider interface {
	Registry() *model.Registry
}

// Settings are the pipeline settings fixed at startup.
type Settings struct {
	// Device is passed to the synthesis backend.
	Device string

	// NativeSampleRate is the rate backends synthesize at.
	NativeSampleRate int
}

// SpeechRequest is an OpenAI style speech request. Zero values take the
// defaults above.
type SpeechRequest struct {
	// Model is accepted for API compatibility and not used for routing.
	Model  string
	Input  string
	Voice  string
	Format audio.Format
	Speed  float64
}

func (r SpeechRequest) withDefaults() SpeechRequest {
	if r.Model == "" {
		r.Model = DefaultModel
	}
	if r.Voice == "" {
		r.Voice = DefaultVoice
	}
	if r.Format == "" {
		r.Format = DefaultFormat
	}
	if r.Speed == 0 {
		r.Speed = DefaultSpeed
	}
	return r
}

// SpeechResult is the encoded audio and how it was produced.
type SpeechResult struct {
	Audio       []byte
	ContentType string
	// Format is the format actually produced, which may differ from the
	// requested one.
	Format     audio.Format
	SampleRate int
	Voice      model.Resolution
	Encoding   *audio.Encoded
	Duration   time.Duration
}

// Info describes the running configuration.
type Info struct {
	Voices           []string
	DefaultVoice     string
	UpsamplerEnabled bool
	SampleRate       int
}

// TTS runs the speech pipeline: normalize, resolve voice, synthesize,
// upsample, encode.
type TTS struct {
	models     RegistryProvider
	normalizer text.Normalizer
	upsampler  audio.Upsampler
	encoder    *audio.Encoder
	settings   Settings
}

// NewTTS creates a new TTS service.
func NewTTS(models RegistryProvider, normalizer text.Normalizer, upsampler audio.Upsampler, encoder *audio.Encoder, settings Settings) *TTS {
	if upsampler == nil {
		upsampler = audio.Passthrough{}
	}

	return &TTS{
		models:     models,
		normalizer: normalizer,
		upsampler:  upsampler,
		encoder:    encoder,
		settings:   settings,
	}
}

// Synthesize turns req into encoded audio.
//
// Errors are ErrEmptyInput, ErrInvalidSpeed, ErrSynthesisFailed,
// ErrNoModelLoaded, context.Canceled or an *InternalError wrapping anything
// else. An Opus encoding failure is not an error: the result then holds WAV
// and ContentType says so.
func (s *TTS) Synthesize(ctx context.Context, req SpeechRequest) (*SpeechResult, error) {
	res, err := s.synthesize(ctx, req.withDefaults())
	if err != nil {
		return nil, classify(err)
	}
	return res, nil
}

func (s *TTS) synthesize(ctx context.Context, req SpeechRequest) (*SpeechResult, error) {
	start := time.Now()

	if req.Speed < 0 || math.IsNaN(req.Speed) || math.IsInf(req.Speed, 0) {
		return nil, ErrInvalidSpeed
	}

	input := strings.TrimSpace(s.normalizer.Normalize(req.Input))
	if input == "" {
		return nil, ErrEmptyInput
	}

	resolution, err := s.models.Registry().Resolve(req.Voice)
	if err != nil {
		return nil, err
	}
	if !resolution.Exact() {
		slog.Debug("Voice resolved with fallback",
			"requested", req.Voice,
			"voice", resolution.VoiceID,
			"language", resolution.Language(),
			"fallback", resolution.Fallback.String())
	}

	lm := resolution.Model
	w, err := lm.Backend.Synthesize(ctx, &backend.Request{
		Text:       input,
		Language:   lm.Language,
		ModelPath:  lm.ModelPath,
		Speaker:    resolution.Speaker,
		Speed:      req.Speed,
		Device:     s.settings.Device,
		Parameters: lm.Parameters,
	})
	if errors.Is(err, backend.ErrEmptyAudio) {
		return nil, ErrSynthesisFailed
	}
	if err != nil {
		return nil, fmt.Errorf("synthesize %s: %w", resolution.VoiceID, err)
	}
	if w.IsEmpty() {
		return nil, ErrSynthesisFailed
	}
	if w.SampleRate <= 0 {
		w.SampleRate = s.settings.NativeSampleRate
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.upsampler.Enabled() {
		w, err = s.upsampler.Upsample(w)
		if err != nil {
			return nil, fmt.Errorf("upsample: %w", err)
		}
	}

	encoded, err := s.encoder.Encode(ctx, w, req.Format)
	if err != nil {
		return nil, err
	}

	slog.Info("Speech synthesized",
		"voice", resolution.VoiceID,
		"language", resolution.Language(),
		"format", encoded.Format,
		"requested_format", req.Format,
		"sample_rate", encoded.SampleRate,
		"audio_seconds", w.Duration().Seconds(),
		"bytes", len(encoded.Data),
		"elapsed", time.Since(start))

	return &SpeechResult{
		Audio:       encoded.Data,
		ContentType: encoded.ContentType,
		Format:      encoded.Format,
		SampleRate:  encoded.SampleRate,
		Voice:       resolution,
		Encoding:    encoded,
		Duration:    w.Duration(),
	}, nil
}

// Voices lists the catalog of the current registry.
func (s *TTS) Voices() []model.Voice {
	return s.models.Registry().Voices()
}

// Ready reports whether the default language is loaded.
func (s *TTS) Ready() bool {
	return s.models.Registry().Ready()
}

// Info describes voices and output rate. SampleRate is the rate clients
// receive: the upsampler output rate when enabled, else the native rate.
func (s *TTS) Info() Info {
	reg := s.models.Registry()

	voices := reg.Voices()
	ids := make([]string, len(voices))
	for i, v := range voices {
		ids[i] = v.ID
	}

	def, _ := reg.DefaultVoice()

	return Info{
		Voices:           ids,
		DefaultVoice:     def,
		UpsamplerEnabled: s.upsampler.Enabled(),
		SampleRate:       s.upsampler.OutputRate(s.settings.NativeSampleRate),
	}
}
