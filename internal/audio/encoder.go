package audio

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/ekisa-team/melotts/internal/executor"
)

// FallbackReason tags why the encoder produced a different format than requested.
// The zero value means the requested format was produced.
type FallbackReason string

const (
	FallbackNone              FallbackReason = ""
	FallbackUnsupportedFormat FallbackReason = "unsupported_format"
	FallbackOpusEncodeFailed  FallbackReason = "opus_encode_failed"
	FallbackMP3EncodeFailed   FallbackReason = "mp3_encode_failed"
)

// Encoded is the serialized audio together with what was actually produced.
type Encoded struct {
	Data        []byte
	Format      Format
	ContentType string
	SampleRate  int

	// Requested is the format the caller asked for.
	Requested Format

	// Fallback is set when Format differs from Requested, Cause holds the
	// encoder error that triggered it, if any.
	Fallback FallbackReason
	Cause    error
}

// Exact reports whether the requested format was produced.
func (e *Encoded) Exact() bool {
	return e.Fallback == FallbackNone
}

// Encoder turns waveforms into WAV, MP3 or Opus byte streams. WAV is always
// produced first and is the input for the ffmpeg transcodes.
type Encoder struct {
	ffmpeg      *executor.Executor
	mp3Bitrate  string
	opusBitrate string
	mp3Fallback bool
}

// EncoderOption configures an Encoder.
type EncoderOption func(*Encoder)

// WithMP3Bitrate sets the libmp3lame target bitrate (e.g. "128k").
func WithMP3Bitrate(bitrate string) EncoderOption {
	return func(e *Encoder) { e.mp3Bitrate = bitrate }
}

// WithOpusBitrate sets the libopus target bitrate (e.g. "64k").
func WithOpusBitrate(bitrate string) EncoderOption {
	return func(e *Encoder) { e.opusBitrate = bitrate }
}

// WithMP3Fallback makes MP3 failures degrade to WAV like Opus failures do.
// By default MP3 failures are returned as errors.
func WithMP3Fallback(enabled bool) EncoderOption {
	return func(e *Encoder) { e.mp3Fallback = enabled }
}

// NewEncoder creates an encoder. ffmpeg may be nil, in which case MP3 and Opus
// encoding fail with ErrEncoderUnavailable.
func NewEncoder(ffmpeg *executor.Executor, opts ...EncoderOption) *Encoder {
	e := &Encoder{
		ffmpeg:      ffmpeg,
		mp3Bitrate:  "128k",
		opusBitrate: "64k",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Encode serializes w in the requested format.
//
// Opus failures never fail the call: the WAV intermediate is returned with an
// audio/wav content type instead and the result is tagged with
// FallbackOpusEncodeFailed. Callers must use Encoded.ContentType rather than
// assume the requested format. Unknown formats are encoded as WAV.
func (e *Encoder) Encode(ctx context.Context, w Waveform, requested Format) (*Encoded, error) {
	wavData, err := EncodeWAV(w)
	if err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}

	wavResult := &Encoded{
		Data:        wavData,
		Format:      FormatWAV,
		ContentType: ContentTypeWAV,
		SampleRate:  w.SampleRate,
		Requested:   requested,
	}

	switch requested {
	case FormatMP3:
		data, err := e.transcode(ctx, wavData, e.mp3Args())
		if err != nil {
			if !e.mp3Fallback {
				return nil, fmt.Errorf("encode mp3: %w", err)
			}
			slog.Warn("MP3 encoding failed, falling back to WAV", "error", err)
			wavResult.Fallback = FallbackMP3EncodeFailed
			wavResult.Cause = err
			return wavResult, nil
		}
		return e.result(data, FormatMP3, w.SampleRate), nil

	case FormatOpus:
		rate := OpusSampleRate(w.SampleRate)
		data, err := e.transcode(ctx, wavData, e.opusArgs(rate))
		if err != nil {
			slog.Warn("Opus encoding failed, falling back to WAV", "error", err)
			wavResult.Fallback = FallbackOpusEncodeFailed
			wavResult.Cause = err
			return wavResult, nil
		}
		return e.result(data, FormatOpus, rate), nil

	case FormatWAV:
		return wavResult, nil

	default:
		wavResult.Fallback = FallbackUnsupportedFormat
		return wavResult, nil
	}
}

func (e *Encoder) result(data []byte, format Format, sampleRate int) *Encoded {
	return &Encoded{
		Data:        data,
		Format:      format,
		ContentType: format.ContentType(),
		SampleRate:  sampleRate,
		Requested:   format,
	}
}

func (e *Encoder) transcode(ctx context.Context, wavData []byte, args []string) ([]byte, error) {
	if e.ffmpeg == nil {
		return nil, ErrEncoderUnavailable
	}

	stdout, _, err := e.ffmpeg.Execute(ctx, args, bytes.NewReader(wavData))
	if err != nil {
		return nil, err
	}
	if len(stdout) == 0 {
		return nil, ErrEmptyEncoderOutput
	}

	return stdout, nil
}

func (e *Encoder) mp3Args() []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "wav", "-i", "pipe:0",
		"-vn", "-c:a", "libmp3lame", "-b:a", e.mp3Bitrate,
		"-f", "mp3", "pipe:1",
	}
}

// OpusSampleRate returns the smallest rate libopus accepts that is not below
// sampleRate, capped at 48 kHz.
func OpusSampleRate(sampleRate int) int {
	for _, r := range []int{8000, 12000, 16000, 24000} {
		if sampleRate <= r {
			return r
		}
	}
	return 48000
}

func (e *Encoder) opusArgs(sampleRate int) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "wav", "-i", "pipe:0",
		"-vn", "-c:a", "libopus", "-b:a", e.opusBitrate,
		"-ar", strconv.Itoa(sampleRate),
		"-f", "opus", "pipe:1",
	}
}
