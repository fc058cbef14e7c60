// Package source fetches model checkpoints into the local models directory.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/ekisa-team/melotts/internal/config"
	"github.com/ekisa-team/melotts/internal/xfs"
)

// ErrUnsupportedSource is returned for source types without a downloader.
var ErrUnsupportedSource = errors.New("unsupported model source")

// Downloader places a model into targetDir and returns its local path and
// whether an existing copy was reused.
type Downloader interface {
	Download(ctx context.Context, modelConfig *config.ModelConfig, targetDir string) (path string, cached bool, err error)
}

// GetDownloader returns the downloader for a source type.
func GetDownloader(_ context.Context, sourceType config.SourceType) (Downloader, error) {
	switch sourceType {
	case config.SourceTypeHuggingFace:
		return NewHuggingFaceDownloader(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, sourceType)
	}
}

// EnsureModelsDirectory creates the models directory if needed.
func EnsureModelsDirectory(path string) error {
	if path == "" {
		return errors.New("models directory is empty")
	}
	return xfs.EnsureDir(path)
}
