package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ekisa-team/melotts/internal/config"
	"github.com/ekisa-team/melotts/internal/executor"
)

const (
	defaultRetryDelay = 2 * time.Second
	defaultMaxRetries = 3
	defaultTimeout    = 5 * time.Minute
	recordFilename    = ".melotts-download.json"
)

// Errors returned by the Hugging Face downloader.
var (
	ErrIncompleteCheckpoint = errors.New("checkpoint is missing required files")
	ErrRepoUnavailable      = errors.New("repository or revision not available")
)

// hf CLI output that no retry can fix.
var permanentFailures = []string{
	"401", "403", "404",
	"Repository Not Found",
	"RevisionNotFoundError",
	"GatedRepoError",
}

// downloadRecord is written next to a completed checkpoint. A checkpoint is
// reused only while the record still describes the configured source.
type downloadRecord struct {
	Repo         string    `json:"repo"`
	Revision     string    `json:"revision,omitempty"`
	Include      []string  `json:"include,omitempty"`
	Exclude      []string  `json:"exclude,omitempty"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

func (r downloadRecord) describes(other downloadRecord) bool {
	return r.Repo == other.Repo &&
		r.Revision == other.Revision &&
		slices.Equal(r.Include, other.Include) &&
		slices.Equal(r.Exclude, other.Exclude)
}

// HuggingFaceDownloader fetches MeloTTS checkpoints with the hf CLI.
type HuggingFaceDownloader struct {
	runner     executor.CommandRunner
	bin        string
	retryDelay time.Duration
}

// NewHuggingFaceDownloader creates a downloader that runs the hf binary.
func NewHuggingFaceDownloader() *HuggingFaceDownloader {
	return &HuggingFaceDownloader{
		runner:     executor.ExecCommandRunner{},
		bin:        "hf",
		retryDelay: defaultRetryDelay,
	}
}

// Download places the checkpoint of modelConfig under targetDir/<repo>. An
// existing checkpoint is reused when its download record matches the source
// and every required file is present.
func (d *HuggingFaceDownloader) Download(ctx context.Context, modelConfig *config.ModelConfig, targetDir string) (string, bool, error) {
	src, err := modelConfig.GetSource()
	if err != nil {
		return "", false, fmt.Errorf("failed to get model source: %w", err)
	}

	hf, ok := src.(config.HuggingFaceSource)
	if !ok {
		return "", false, fmt.Errorf("invalid source type: %T", src)
	}

	want := downloadRecord{
		Repo:     strings.TrimSpace(hf.Repo),
		Revision: hf.Revision,
		Include:  hf.Include,
		Exclude:  hf.Exclude,
	}
	if want.Repo == "" {
		return "", false, errors.New("huggingface source has no repo")
	}

	dir := filepath.Join(targetDir, filepath.FromSlash(want.Repo))

	if !hf.ForceDownload && d.reusable(dir, want) {
		slog.Debug("Checkpoint up to date", "repo", want.Repo, "path", dir)
		return dir, true, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create directory: %w", err)
	}

	if err := d.fetch(ctx, hfArgs(hf, want.Repo, dir), want.Repo); err != nil {
		return "", false, fmt.Errorf("download %s: %w", want.Repo, err)
	}

	if missing := missingFiles(dir, want.Include); len(missing) > 0 {
		return "", false, fmt.Errorf("download %s: %w: %s", want.Repo, ErrIncompleteCheckpoint, strings.Join(missing, ", "))
	}

	want.DownloadedAt = time.Now().UTC()
	if err := writeRecord(dir, want); err != nil {
		slog.Warn("Failed to write download record", "path", dir, "error", err)
	}

	slog.Info("Checkpoint downloaded", "repo", want.Repo, "revision", want.Revision, "path", dir)
	return dir, false, nil
}

// fetch runs hf with exponential backoff. Auth and not-found failures are
// returned at once.
func (d *HuggingFaceDownloader) fetch(ctx context.Context, args []string, repo string) error {
	delay := d.retryDelay

	var lastErr error
	for attempt := 1; attempt <= defaultMaxRetries; attempt++ {
		runCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
		_, stderr, err := d.runner.Run(runCtx, d.bin, args, nil)
		cancel()
		if err == nil {
			return nil
		}

		output := strings.TrimSpace(string(stderr))
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if isPermanent(output) {
			return fmt.Errorf("%w: %s", ErrRepoUnavailable, output)
		}

		lastErr = fmt.Errorf("%w: %s", err, output)
		slog.Warn("Checkpoint download failed", "repo", repo, "attempt", attempt, "error", err, "output", output)

		if attempt == defaultMaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return lastErr
}

func (d *HuggingFaceDownloader) reusable(dir string, want downloadRecord) bool {
	have, err := readRecord(dir)
	if err != nil {
		return false
	}
	if !have.describes(want) {
		slog.Info("Checkpoint source changed, downloading again", "repo", want.Repo, "revision", want.Revision)
		return false
	}
	return len(missingFiles(dir, want.Include)) == 0
}

func hfArgs(hf config.HuggingFaceSource, repo, dir string) []string {
	args := []string{"download", repo, "--local-dir", dir}

	if hf.Revision != "" {
		args = append(args, "--revision", hf.Revision)
	}
	if hf.RepoType != "" {
		args = append(args, "--repo-type", hf.RepoType)
	}
	for _, p := range hf.Include {
		args = append(args, "--include", p)
	}
	for _, p := range hf.Exclude {
		args = append(args, "--exclude", p)
	}
	if hf.ForceDownload {
		args = append(args, "--force-download")
	}
	if hf.Token != "" {
		args = append(args, "--token", hf.Token)
	}
	if hf.MaxWorkers > 0 {
		args = append(args, "--max-workers", strconv.Itoa(hf.MaxWorkers))
	}

	return args
}

// missingFiles lists the literal (non-glob) include patterns absent from dir.
func missingFiles(dir string, include []string) []string {
	var missing []string
	for _, name := range include {
		if strings.ContainsAny(name, "*?[") {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(name))); err != nil {
			missing = append(missing, name)
		}
	}
	return missing
}

func isPermanent(output string) bool {
	for _, s := range permanentFailures {
		if strings.Contains(output, s) {
			return true
		}
	}
	return false
}

func readRecord(dir string) (downloadRecord, error) {
	var r downloadRecord

	data, err := os.ReadFile(filepath.Join(dir, recordFilename))
	if err != nil {
		return r, err
	}
	err = json.Unmarshal(data, &r)
	return r, err
}

func writeRecord(dir string, r downloadRecord) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, recordFilename), data, 0o644)
}
