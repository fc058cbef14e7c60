package audio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/melotts/internal/executor"
)

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, name string, args []string, stdin io.Reader) ([]byte, []byte, error) {
	ret := m.Called(ctx, name, args, stdin)
	stdout, _ := ret.Get(0).([]byte)
	stderr, _ := ret.Get(1).([]byte)
	return stdout, stderr, ret.Error(2)
}

func codecArg(codec string) any {
	return mock.MatchedBy(func(args []string) bool {
		for i, a := range args {
			if a == "-c:a" && i+1 < len(args) && args[i+1] == codec {
				return true
			}
		}
		return false
	})
}

func wavStdin(t *testing.T, w Waveform) any {
	want, err := EncodeWAV(w)
	require.NoError(t, err)
	return mock.MatchedBy(func(r io.Reader) bool {
		got, err := io.ReadAll(r)
		return err == nil && bytes.Equal(got, want)
	})
}

func newEncoder(runner *MockRunner, opts ...EncoderOption) *Encoder {
	return NewEncoder(executor.NewWithRunner("ffmpeg", 0, runner), opts...)
}

func TestEncoder_WAV(t *testing.T) {
	runner := new(MockRunner)
	w := sine(440, 48000, 480)

	got, err := newEncoder(runner).Encode(context.Background(), w, FormatWAV)
	require.NoError(t, err)

	want, err := EncodeWAV(w)
	require.NoError(t, err)

	assert.Equal(t, want, got.Data)
	assert.Equal(t, FormatWAV, got.Format)
	assert.Equal(t, "audio/wav", got.ContentType)
	assert.True(t, got.Exact())
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEncoder_MP3(t *testing.T) {
	runner := new(MockRunner)
	w := sine(440, 48000, 480)
	runner.On("Run", mock.Anything, "ffmpeg", codecArg("libmp3lame"), wavStdin(t, w)).
		Return([]byte("ID3-mp3-bytes"), nil, nil).Once()

	got, err := newEncoder(runner).Encode(context.Background(), w, FormatMP3)
	require.NoError(t, err)

	assert.Equal(t, []byte("ID3-mp3-bytes"), got.Data)
	assert.Equal(t, "audio/mpeg", got.ContentType)
	assert.True(t, got.Exact())
	runner.AssertExpectations(t)
}

func TestEncoder_MP3FailurePropagates(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", mock.Anything, "ffmpeg", codecArg("libmp3lame"), mock.Anything).
		Return(nil, []byte("Unknown encoder 'libmp3lame'"), errors.New("exit status 1")).Once()

	_, err := newEncoder(runner).Encode(context.Background(), sine(440, 48000, 480), FormatMP3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encode mp3")
	assert.Contains(t, err.Error(), "libmp3lame")
}

func TestEncoder_MP3FallbackWhenEnabled(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", mock.Anything, "ffmpeg", codecArg("libmp3lame"), mock.Anything).
		Return(nil, nil, errors.New("exit status 1")).Once()

	got, err := newEncoder(runner, WithMP3Fallback(true)).Encode(context.Background(), sine(440, 48000, 480), FormatMP3)
	require.NoError(t, err)

	assert.Equal(t, "audio/wav", got.ContentType)
	assert.Equal(t, FallbackMP3EncodeFailed, got.Fallback)
	assert.Equal(t, FormatMP3, got.Requested)
}

func TestEncoder_Opus(t *testing.T) {
	runner := new(MockRunner)
	w := sine(440, 48000, 480)
	runner.On("Run", mock.Anything, "ffmpeg", mock.MatchedBy(func(args []string) bool {
		joined := strings.Join(args, " ")
		return strings.Contains(joined, "-c:a libopus") && strings.Contains(joined, "-ar 48000")
	}), wavStdin(t, w)).Return([]byte("OggS-opus"), nil, nil).Once()

	got, err := newEncoder(runner).Encode(context.Background(), w, FormatOpus)
	require.NoError(t, err)

	assert.Equal(t, []byte("OggS-opus"), got.Data)
	assert.Equal(t, "audio/opus", got.ContentType)
	assert.Equal(t, FormatOpus, got.Format)
	runner.AssertExpectations(t)
}

func TestEncoder_OpusFailureFallsBackToWAV(t *testing.T) {
	runner := new(MockRunner)
	w := sine(440, 44100, 441)
	cause := errors.New("exit status 1")
	runner.On("Run", mock.Anything, "ffmpeg", codecArg("libopus"), mock.Anything).
		Return(nil, []byte("invalid sample rate"), cause).Once()

	enc := newEncoder(runner)

	got, err := enc.Encode(context.Background(), w, FormatOpus)
	require.NoError(t, err)

	wav, err := enc.Encode(context.Background(), w, FormatWAV)
	require.NoError(t, err)

	assert.Equal(t, wav.Data, got.Data)
	assert.Equal(t, "audio/wav", got.ContentType)
	assert.Equal(t, FormatWAV, got.Format)
	assert.Equal(t, FormatOpus, got.Requested)
	assert.Equal(t, FallbackOpusEncodeFailed, got.Fallback)
	assert.ErrorIs(t, got.Cause, cause)
}

func TestEncoder_OpusEmptyOutputFallsBack(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", mock.Anything, "ffmpeg", codecArg("libopus"), mock.Anything).
		Return([]byte{}, nil, nil).Once()

	got, err := newEncoder(runner).Encode(context.Background(), sine(440, 48000, 48), FormatOpus)
	require.NoError(t, err)

	assert.Equal(t, "audio/wav", got.ContentType)
	assert.ErrorIs(t, got.Cause, ErrEmptyEncoderOutput)
}

func TestEncoder_WithoutFFmpeg(t *testing.T) {
	enc := NewEncoder(nil)
	w := sine(440, 48000, 48)

	got, err := enc.Encode(context.Background(), w, FormatOpus)
	require.NoError(t, err)
	assert.Equal(t, "audio/wav", got.ContentType)
	assert.ErrorIs(t, got.Cause, ErrEncoderUnavailable)

	_, err = enc.Encode(context.Background(), w, FormatMP3)
	assert.ErrorIs(t, err, ErrEncoderUnavailable)
}

func TestEncoder_UnknownFormatIsWAV(t *testing.T) {
	runner := new(MockRunner)

	for _, f := range []Format{"flac", "", "MP3"} {
		got, err := newEncoder(runner).Encode(context.Background(), sine(440, 48000, 48), f)
		require.NoError(t, err)

		assert.Equal(t, "audio/wav", got.ContentType, "format %q", f)
		assert.Equal(t, FallbackUnsupportedFormat, got.Fallback)
	}
}

func TestEncoder_OpusResamplesToSupportedRate(t *testing.T) {
	runner := new(MockRunner)
	w := sine(440, 44100, 441)
	runner.On("Run", mock.Anything, "ffmpeg", mock.MatchedBy(func(args []string) bool {
		return strings.Contains(strings.Join(args, " "), "-ar 48000")
	}), mock.Anything).Return([]byte("OggS-opus"), nil, nil).Once()

	got, err := newEncoder(runner).Encode(context.Background(), w, FormatOpus)
	require.NoError(t, err)

	assert.Equal(t, 48000, got.SampleRate)
	runner.AssertExpectations(t)
}

func TestOpusSampleRate(t *testing.T) {
	tests := map[int]int{
		8000:  8000,
		11025: 12000,
		16000: 16000,
		22050: 24000,
		24000: 24000,
		44100: 48000,
		48000: 48000,
		96000: 48000,
	}
	for in, want := range tests {
		assert.Equal(t, want, OpusSampleRate(in), "rate %d", in)
	}
}
