package audio

import "errors"

// Error definitions for the audio package.
var (
	ErrInvalidSampleRate   = errors.New("sample rate must be positive")
	ErrInvalidWAV          = errors.New("invalid wav data")
	ErrEncoderUnavailable  = errors.New("ffmpeg encoder is not configured")
	ErrEmptyEncoderOutput  = errors.New("encoder produced no output")
	ErrUnsupportedWAVCodec = errors.New("unsupported wav codec")
)
