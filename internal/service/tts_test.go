package service

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/melotts/internal/audio"
	"github.com/ekisa-team/melotts/internal/backend"
	"github.com/ekisa-team/melotts/internal/executor"
	"github.com/ekisa-team/melotts/internal/model"
	"github.com/ekisa-team/melotts/internal/text"
)

// --- Mock types ---

type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Provider() backend.BackendProvider { return backend.BackendProviderMelo }

func (m *MockBackend) Synthesize(ctx context.Context, req *backend.Request) (audio.Waveform, error) {
	args := m.Called(ctx, req)
	w, _ := args.Get(0).(audio.Waveform)
	return w, args.Error(1)
}

func (m *MockBackend) Close() error { return nil }

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, name string, args []string, stdin io.Reader) ([]byte, []byte, error) {
	ret := m.Called(ctx, name, args, stdin)
	stdout, _ := ret.Get(0).([]byte)
	stderr, _ := ret.Get(1).([]byte)
	return stdout, stderr, ret.Error(2)
}

type staticRegistry struct {
	r *model.Registry
}

func (s staticRegistry) Registry() *model.Registry { return s.r }

// --- Helpers ---

func tone(rate, n int) audio.Waveform {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	return audio.Waveform{Samples: samples, SampleRate: rate}
}

type fixture struct {
	backend *MockBackend
	runner  *MockRunner
	tts     *TTS
}

func newFixture(t *testing.T, upsampler audio.Upsampler, normalizer text.Normalizer, encOpts ...audio.EncoderOption) *fixture {
	t.Helper()

	b := new(MockBackend)
	registry := model.NewRegistry("EN",
		&model.LanguageModel{
			Language:   "EN",
			Family:     "melo",
			Speakers:   model.StaticSpeakerTable([]string{"EN-US", "EN-BR", "EN-Default"}),
			Parameters: map[string]any{"sdp_ratio": 0.2},
			Backend:    b,
		},
		&model.LanguageModel{
			Language: "ES",
			Family:   "melo",
			Speakers: model.StaticSpeakerTable([]string{"ES"}),
			Backend:  b,
		},
	)

	runner := new(MockRunner)
	encoder := audio.NewEncoder(executor.NewWithRunner("ffmpeg", time.Second, runner), encOpts...)

	return &fixture{
		backend: b,
		runner:  runner,
		tts: NewTTS(staticRegistry{registry}, normalizer, upsampler, encoder, Settings{
			Device:           "cpu",
			NativeSampleRate: 44100,
		}),
	}
}

func identity() text.Normalizer {
	return text.NormalizerFunc(func(s string) string { return s })
}

// --- Tests ---

func TestTTS_SynthesizeWAV(t *testing.T) {
	f := newFixture(t, audio.Passthrough{}, text.NewCleaner())

	f.backend.On("Synthesize", mock.Anything, mock.MatchedBy(func(req *backend.Request) bool {
		return req.Text == `"Hello," world.` &&
			req.Language == "EN" &&
			req.Speaker.Name == "EN-BR" && req.Speaker.ID == 1 &&
			req.Speed == 1.5 &&
			req.Device == "cpu" &&
			req.Parameters["sdp_ratio"] == 0.2
	})).Return(tone(44100, 4410), nil).Once()

	res, err := f.tts.Synthesize(context.Background(), SpeechRequest{
		Input:  "  “Hello,”   world.  ",
		Voice:  "EN-BR",
		Format: audio.FormatWAV,
		Speed:  1.5,
	})
	require.NoError(t, err)

	want, err := audio.EncodeWAV(tone(44100, 4410))
	require.NoError(t, err)

	assert.Equal(t, want, res.Audio)
	assert.Equal(t, "audio/wav", res.ContentType)
	assert.Equal(t, audio.FormatWAV, res.Format)
	assert.Equal(t, 44100, res.SampleRate)
	assert.Equal(t, "EN-BR", res.Voice.VoiceID)
	assert.True(t, res.Voice.Exact())
	assert.Equal(t, 100*time.Millisecond, res.Duration)
	f.backend.AssertExpectations(t)
}

func TestTTS_Defaults(t *testing.T) {
	f := newFixture(t, audio.Passthrough{}, identity())

	f.backend.On("Synthesize", mock.Anything, mock.MatchedBy(func(req *backend.Request) bool {
		return req.Speaker.Name == "EN-Default" && req.Speed == 1.0
	})).Return(tone(44100, 441), nil).Once()
	f.runner.On("Run", mock.Anything, "ffmpeg", mock.Anything, mock.Anything).
		Return([]byte("OggS"), nil, nil).Once()

	res, err := f.tts.Synthesize(context.Background(), SpeechRequest{Input: "hi"})
	require.NoError(t, err)

	assert.Equal(t, audio.FormatOpus, res.Format)
	assert.Equal(t, "audio/opus", res.ContentType)
	assert.Equal(t, []byte("OggS"), res.Audio)
}

func TestTTS_WhitespaceInputIsEmpty(t *testing.T) {
	for name, n := range map[string]text.Normalizer{
		"identity": identity(),
		"cleaner":  text.NewCleaner(),
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, audio.Passthrough{}, n)

			_, err := f.tts.Synthesize(context.Background(), SpeechRequest{Input: "   "})
			assert.ErrorIs(t, err, ErrEmptyInput)
			assert.EqualError(t, err, "Input text is empty after normalization")
			assert.True(t, IsClientError(err))
			f.backend.AssertNotCalled(t, "Synthesize", mock.Anything, mock.Anything)
		})
	}
}

func TestTTS_NormalizationCanEmptyInput(t *testing.T) {
	f := newFixture(t, audio.Passthrough{}, text.NewCleaner())

	_, err := f.tts.Synthesize(context.Background(), SpeechRequest{Input: "https://example.com ***"})
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestTTS_InvalidSpeed(t *testing.T) {
	f := newFixture(t, audio.Passthrough{}, identity())

	for _, speed := range []float64{-1, math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := f.tts.Synthesize(context.Background(), SpeechRequest{Input: "hi", Speed: speed})
		assert.ErrorIs(t, err, ErrInvalidSpeed, "speed %v", speed)
	}
	f.backend.AssertNotCalled(t, "Synthesize", mock.Anything, mock.Anything)
}

func TestTTS_EmptyAudioIsSynthesisFailed(t *testing.T) {
	f := newFixture(t, audio.Passthrough{}, identity())

	f.backend.On("Synthesize", mock.Anything, mock.Anything).Return(audio.Waveform{SampleRate: 44100}, nil).Once()
	f.backend.On("Synthesize", mock.Anything, mock.Anything).Return(audio.Waveform{}, backend.ErrEmptyAudio).Once()

	for range 2 {
		_, err := f.tts.Synthesize(context.Background(), SpeechRequest{Input: "hi", Format: audio.FormatWAV})
		assert.ErrorIs(t, err, ErrSynthesisFailed)
		assert.EqualError(t, err, "Failed to generate audio")
	}
}

func TestTTS_BackendErrorIsInternal(t *testing.T) {
	f := newFixture(t, audio.Passthrough{}, identity())

	cause := errors.New("CUDA out of memory")
	f.backend.On("Synthesize", mock.Anything, mock.Anything).Return(audio.Waveform{}, cause).Once()

	_, err := f.tts.Synthesize(context.Background(), SpeechRequest{Input: "hi"})

	var internal *InternalError
	require.ErrorAs(t, err, &internal)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "CUDA out of memory")
	assert.False(t, IsClientError(err))
}

func TestTTS_NoModelLoaded(t *testing.T) {
	encoder := audio.NewEncoder(nil)
	tts := NewTTS(staticRegistry{model.NewRegistry("EN")}, identity(), nil, encoder, Settings{NativeSampleRate: 44100})

	_, err := tts.Synthesize(context.Background(), SpeechRequest{Input: "hi"})
	assert.ErrorIs(t, err, ErrNoModelLoaded)

	var internal *InternalError
	assert.False(t, errors.As(err, &internal))
}

func TestTTS_OpusFailureReturnsWAVBytes(t *testing.T) {
	f := newFixture(t, audio.Passthrough{}, identity())

	f.backend.On("Synthesize", mock.Anything, mock.Anything).Return(tone(44100, 2205), nil).Twice()
	f.runner.On("Run", mock.Anything, "ffmpeg", mock.Anything, mock.Anything).
		Return(nil, []byte("Unknown encoder 'libopus'"), errors.New("exit status 1")).Once()

	opus, err := f.tts.Synthesize(context.Background(), SpeechRequest{Input: "hi", Format: audio.FormatOpus})
	require.NoError(t, err)

	wav, err := f.tts.Synthesize(context.Background(), SpeechRequest{Input: "hi", Format: audio.FormatWAV})
	require.NoError(t, err)

	assert.Equal(t, "audio/wav", opus.ContentType)
	assert.Equal(t, audio.FormatWAV, opus.Format)
	assert.Equal(t, wav.Audio, opus.Audio)
	assert.Equal(t, audio.FallbackOpusEncodeFailed, opus.Encoding.Fallback)
}

func TestTTS_MP3FailureIsInternal(t *testing.T) {
	f := newFixture(t, audio.Passthrough{}, identity())

	f.backend.On("Synthesize", mock.Anything, mock.Anything).Return(tone(44100, 441), nil).Once()
	f.runner.On("Run", mock.Anything, "ffmpeg", mock.Anything, mock.Anything).
		Return(nil, nil, errors.New("exit status 1")).Once()

	_, err := f.tts.Synthesize(context.Background(), SpeechRequest{Input: "hi", Format: audio.FormatMP3})

	var internal *InternalError
	require.ErrorAs(t, err, &internal)
	assert.Contains(t, err.Error(), "encode mp3")
}

func TestTTS_MP3FallbackOption(t *testing.T) {
	f := newFixture(t, audio.Passthrough{}, identity(), audio.WithMP3Fallback(true))

	f.backend.On("Synthesize", mock.Anything, mock.Anything).Return(tone(44100, 441), nil).Once()
	f.runner.On("Run", mock.Anything, "ffmpeg", mock.Anything, mock.Anything).
		Return(nil, nil, errors.New("exit status 1")).Once()

	res, err := f.tts.Synthesize(context.Background(), SpeechRequest{Input: "hi", Format: audio.FormatMP3})
	require.NoError(t, err)
	assert.Equal(t, "audio/wav", res.ContentType)
	assert.Equal(t, audio.FallbackMP3EncodeFailed, res.Encoding.Fallback)
}

func TestTTS_UpsamplerTracksSampleRate(t *testing.T) {
	up, err := audio.NewUpsampler(true, 24000, 48000)
	require.NoError(t, err)

	f := newFixture(t, up, identity())
	f.backend.On("Synthesize", mock.Anything, mock.Anything).Return(tone(44100, 4410), nil).Once()

	res, err := f.tts.Synthesize(context.Background(), SpeechRequest{Input: "hi", Format: audio.FormatWAV})
	require.NoError(t, err)

	decoded, err := audio.DecodeWAV(res.Audio)
	require.NoError(t, err)

	assert.Equal(t, 48000, res.SampleRate)
	assert.Equal(t, 48000, decoded.SampleRate)
	// 4410 @ 44.1k -> 2400 @ 24k -> 4800 @ 48k
	assert.Equal(t, 4800, decoded.Len())
}

func TestTTS_UnknownVoiceFallsBack(t *testing.T) {
	f := newFixture(t, audio.Passthrough{}, identity())
	f.backend.On("Synthesize", mock.Anything, mock.MatchedBy(func(req *backend.Request) bool {
		return req.Language == "EN" && req.Speaker.Name == "EN-BR"
	})).Return(tone(44100, 441), nil).Once()

	res, err := f.tts.Synthesize(context.Background(), SpeechRequest{Input: "hi", Voice: "KR-Default", Format: audio.FormatWAV})
	require.NoError(t, err)
	assert.True(t, res.Voice.Fallback.Has(model.FallbackLanguage))
	assert.True(t, res.Voice.Fallback.Has(model.FallbackSpeaker))
}

func TestTTS_Canceled(t *testing.T) {
	f := newFixture(t, audio.Passthrough{}, identity())

	ctx, cancel := context.WithCancel(context.Background())
	f.backend.On("Synthesize", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(tone(44100, 441), nil).Once()

	_, err := f.tts.Synthesize(ctx, SpeechRequest{Input: "hi", Format: audio.FormatWAV})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTTS_Info(t *testing.T) {
	up, err := audio.NewUpsampler(true, 24000, 48000)
	require.NoError(t, err)

	info := newFixture(t, up, identity()).tts.Info()
	assert.Equal(t, []string{"EN-BR", "EN-Default", "EN-US", "ES"}, info.Voices)
	assert.Equal(t, "EN-BR", info.DefaultVoice)
	assert.True(t, info.UpsamplerEnabled)
	assert.Equal(t, 48000, info.SampleRate)

	info = newFixture(t, audio.Passthrough{}, identity()).tts.Info()
	assert.False(t, info.UpsamplerEnabled)
	assert.Equal(t, 44100, info.SampleRate)
}
