package melo

import (
	"context"
	"errors"
	"io"
	"math"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/melotts/internal/audio"
	"github.com/ekisa-team/melotts/internal/backend"
	"github.com/ekisa-team/melotts/internal/executor"
)

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, name string, args []string, stdin io.Reader) ([]byte, []byte, error) {
	ret := m.Called(ctx, name, args)
	stdout, _ := ret.Get(0).([]byte)
	stderr, _ := ret.Get(1).([]byte)
	return stdout, stderr, ret.Error(2)
}

func tone(n int) audio.Waveform {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/44100))
	}
	return audio.Waveform{Samples: samples, SampleRate: 44100}
}

func newBackend(t *testing.T, runner *MockRunner) *Backend {
	b := NewBackendWithExecutor(executor.NewWithRunner("melo", time.Second, runner))
	b.tempDir = t.TempDir()
	return b
}

func TestBackend_Synthesize(t *testing.T) {
	runner := new(MockRunner)
	b := newBackend(t, runner)

	var gotText string
	runner.On("Run", mock.Anything, "melo", mock.Anything).
		Run(func(args mock.Arguments) {
			argv := args.Get(2).([]string)
			text, err := os.ReadFile(argv[0])
			require.NoError(t, err)
			gotText = string(text)

			data, err := audio.EncodeWAV(tone(441))
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(argv[1], data, 0o600))
		}).
		Return(nil, nil, nil).Once()

	w, err := b.Synthesize(context.Background(), &backend.Request{
		Text:     "Hello world.",
		Language: "EN",
		Speaker:  backend.Speaker{Name: "EN-US", ID: 0},
		Speed:    1.25,
		Device:   "cpu",
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello world.", gotText)
	assert.Equal(t, 44100, w.SampleRate)
	assert.Equal(t, 441, w.Len())
	runner.AssertExpectations(t)
}

func TestBackend_BuildArgs(t *testing.T) {
	b := &Backend{}

	args := b.buildArgs(&backend.Request{
		Language: "ES",
		Speaker:  backend.Speaker{Name: "ES"},
		Speed:    0,
		Device:   "cuda",
	}, "in.txt", "out.wav")

	assert.Equal(t, []string{
		"in.txt", "out.wav", "--file",
		"--language", "ES",
		"--speaker", "ES",
		"--speed", "1.00",
		"--device", "cuda",
	}, args)
}

func TestBackend_ExecutionFailure(t *testing.T) {
	runner := new(MockRunner)
	b := newBackend(t, runner)

	runner.On("Run", mock.Anything, "melo", mock.Anything).
		Return(nil, []byte("CUDA out of memory"), errors.New("exit status 1")).Once()

	_, err := b.Synthesize(context.Background(), &backend.Request{Text: "hi", Language: "EN"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CUDA out of memory")
}

func TestBackend_NoOutputFile(t *testing.T) {
	runner := new(MockRunner)
	b := newBackend(t, runner)

	runner.On("Run", mock.Anything, "melo", mock.Anything).Return(nil, nil, nil).Once()

	_, err := b.Synthesize(context.Background(), &backend.Request{Text: "hi", Language: "EN"})
	assert.ErrorIs(t, err, backend.ErrEmptyAudio)
}

func TestBackend_Provider(t *testing.T) {
	b := &Backend{}
	assert.Equal(t, backend.BackendProviderMelo, b.Provider())
	assert.NoError(t, b.Close())
}
