// Package executor runs external programs (melo, ffmpeg) with a bounded
// lifetime and captured output.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"
)

// ErrBinaryNotFound is returned when the configured binary cannot be located.
var ErrBinaryNotFound = errors.New("binary not found")

// CommandRunner is the interface for running commands.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, stdin io.Reader) (stdout, stderr []byte, err error)
}

// ExecCommandRunner uses os/exec.
type ExecCommandRunner struct{}

// Run runs a command.
func (ExecCommandRunner) Run(ctx context.Context, name string, args []string, stdin io.Reader) (stdout, stderr []byte, err error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err = cmd.Run()
	return outBuf.Bytes(), errBuf.Bytes(), err
}

// Executor runs a single binary.
type Executor struct {
	runner     CommandRunner
	binaryPath string
	timeout    time.Duration
}

// New creates an executor for binary, which may be a bare name looked up in
// PATH or an explicit path.
func New(binary string, timeout time.Duration) (*Executor, error) {
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBinaryNotFound, binary, err)
	}

	return &Executor{
		binaryPath: path,
		timeout:    timeout,
		runner:     ExecCommandRunner{},
	}, nil
}

// NewWithRunner creates an executor with a custom runner. The binary is not
// looked up.
func NewWithRunner(binary string, timeout time.Duration, runner CommandRunner) *Executor {
	return &Executor{
		binaryPath: binary,
		timeout:    timeout,
		runner:     runner,
	}
}

// Binary returns the resolved binary path.
func (e *Executor) Binary() string {
	return e.binaryPath
}

// Execute runs the command and returns output. A non-zero exit status is
// reported with the tail of stderr attached.
func (e *Executor) Execute(ctx context.Context, args []string, stdin io.Reader) (stdout, stderr []byte, err error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	stdout, stderr, err = e.runner.Run(ctx, e.binaryPath, args, stdin)
	if err != nil {
		return stdout, stderr, fmt.Errorf("%s: %w: %s", e.binaryPath, err, tail(stderr, 512))
	}

	return stdout, stderr, nil
}

func tail(b []byte, n int) string {
	b = bytes.TrimSpace(b)
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(b)
}
