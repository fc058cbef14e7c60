// Package melo runs synthesis through the MeloTTS command line tool.
package melo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ekisa-team/melotts/internal/audio"
	"github.com/ekisa-team/melotts/internal/backend"
	"github.com/ekisa-team/melotts/internal/executor"
)

// DefaultTimeout bounds a single CLI invocation, which includes loading the
// checkpoint.
const DefaultTimeout = 2 * time.Minute

// Backend implements backend.Backend for the melo CLI.
type Backend struct {
	executor *executor.Executor
	tempDir  string
}

// NewBackend creates a new melo backend. binPath may be a bare name looked up
// in PATH.
func NewBackend(binPath string, timeout time.Duration) (*Backend, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	e, err := executor.New(binPath, timeout)
	if err != nil {
		return nil, err
	}

	return NewBackendWithExecutor(e), nil
}

// NewBackendWithExecutor creates a melo backend around an existing executor.
func NewBackendWithExecutor(e *executor.Executor) *Backend {
	return &Backend{
		executor: e,
		tempDir:  os.TempDir(),
	}
}

// Provider returns the backend provider.
func (b *Backend) Provider() backend.BackendProvider {
	return backend.BackendProviderMelo
}

// Synthesize writes the text to a temp file, lets melo render it into a WAV
// file next to it and decodes the result.
func (b *Backend) Synthesize(ctx context.Context, req *backend.Request) (audio.Waveform, error) {
	// melo only writes to a file, so the output is read back from a temp dir.
	workDir, err := os.MkdirTemp(b.tempDir, "melo-*")
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	inputFile := filepath.Join(workDir, "input.txt")
	if err := os.WriteFile(inputFile, []byte(req.Text), 0o600); err != nil {
		return audio.Waveform{}, fmt.Errorf("write input: %w", err)
	}

	outputFile := filepath.Join(workDir, "output.wav")

	if _, _, err := b.executor.Execute(ctx, b.buildArgs(req, inputFile, outputFile), nil); err != nil {
		return audio.Waveform{}, fmt.Errorf("execution failed: %w", err)
	}

	data, err := os.ReadFile(outputFile)
	if errors.Is(err, os.ErrNotExist) {
		return audio.Waveform{}, backend.ErrEmptyAudio
	}
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("failed to read audio file: %w", err)
	}

	w, err := audio.DecodeWAV(data)
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("decode melo output: %w", err)
	}

	return w, nil
}

// buildArgs builds melo command-line arguments.
func (b *Backend) buildArgs(req *backend.Request, inputFile, outputFile string) []string {
	args := []string{
		inputFile, outputFile,
		"--file",
		"--language", req.Language,
	}

	// melo only honours the speaker flag for English.
	if req.Speaker.Name != "" {
		args = append(args, "--speaker", req.Speaker.Name)
	}

	speed := req.Speed
	if speed <= 0 {
		speed = 1.0
	}
	args = append(args, "--speed", strconv.FormatFloat(speed, 'f', 2, 64))

	if req.Device != "" {
		args = append(args, "--device", req.Device)
	}

	return args
}

// Close cleans up resources. The melo CLI does not have any resources to clean up.
func (b *Backend) Close() error {
	return nil
}
