package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ekisa-team/melotts/internal/backend"
	"github.com/ekisa-team/melotts/internal/config"
	"github.com/ekisa-team/melotts/internal/config/source"
	"github.com/ekisa-team/melotts/internal/mapsafe"
	"github.com/ekisa-team/melotts/internal/xfs"
)

// DownloaderFunc returns the downloader for a model source type.
type DownloaderFunc func(ctx context.Context, sourceType config.SourceType) (source.Downloader, error)

// Manager owns the current registry snapshot. Loading builds a new registry
// and swaps it in, so readers never observe a partially loaded registry.
type Manager struct {
	backends    *backend.Registry
	downloaders DownloaderFunc
	registry    *Registry
	reports     []LoadReport
	listeners   []func(*Registry)
	loadMu      sync.Mutex
	mu          sync.RWMutex
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDownloaders replaces source.GetDownloader.
func WithDownloaders(f DownloaderFunc) ManagerOption {
	return func(m *Manager) { m.downloaders = f }
}

// NewManager creates a Manager that synthesizes through backends. The
// initial registry is empty.
func NewManager(backends *backend.Registry, opts ...ManagerOption) *Manager {
	m := &Manager{
		backends:    backends,
		downloaders: source.GetDownloader,
		registry:    NewRegistry(config.DefaultLanguage),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Registry returns the current registry snapshot.
func (m *Manager) Registry() *Registry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.registry
}

// Reports returns the per-language outcome of the last load.
func (m *Manager) Reports() []LoadReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]LoadReport(nil), m.reports...)
}

// OnSwap registers fn to be called with every new registry.
func (m *Manager) OnSwap(fn func(*Registry)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listeners = append(m.listeners, fn)
}

// LoadModelsFromConfig loads every configured language and swaps in the new
// registry. A language that fails to load is left out and reported; only
// failures that affect every language are returned.
func (m *Manager) LoadModelsFromConfig(ctx context.Context, cfg *config.Config) error {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	modelsPath := resolveModelsPath(cfg)
	if cfg.Storage.Download {
		if err := source.EnsureModelsDirectory(modelsPath); err != nil {
			return fmt.Errorf("failed to prepare models directory %s: %w", modelsPath, err)
		}
	}

	var (
		models  []*LanguageModel
		reports []LoadReport
	)

	for _, lang := range cfg.Synthesis.Languages {
		if err := ctx.Err(); err != nil {
			return err
		}

		lm, err := m.loadLanguage(ctx, cfg, lang, modelsPath)
		if err != nil {
			slog.Warn("Failed to load language model", "language", lang, "error", err)
			reports = append(reports, LoadReport{Language: lang, Status: ModelStatusFailed, Error: err.Error()})
			continue
		}

		models = append(models, lm)
		reports = append(reports, LoadReport{Language: lang, Status: ModelStatusLoaded, Speakers: len(lm.Speakers)})
		slog.Info("Language model loaded", "language", lang, "speakers", len(lm.Speakers), "backend", lm.Backend.Provider())
	}

	registry := NewRegistry(cfg.Synthesis.DefaultLanguage, models...)

	m.mu.Lock()
	m.registry = registry
	m.reports = reports
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(registry)
	}

	if !registry.Ready() {
		slog.Error("Default language model is not loaded", "language", cfg.Synthesis.DefaultLanguage, "loaded", registry.Languages())
	}

	return nil
}

func (m *Manager) loadLanguage(ctx context.Context, cfg *config.Config, lang, modelsPath string) (*LanguageModel, error) {
	mc, ok := cfg.Models[lang]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, lang)
	}

	b, err := m.backends.MustGet(backend.BackendProvider(cfg.BackendFor(lang)))
	if err != nil {
		return nil, err
	}

	var modelPath string
	if cfg.Storage.Download {
		modelPath, err = m.download(ctx, &mc, modelsPath)
		if err != nil {
			return nil, err
		}
	}

	speakers := m.speakersFor(ctx, b, lang, modelPath, mc.Speakers)
	if len(speakers) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSpeakers, lang)
	}

	family := mc.Family
	if family == "" {
		family = config.DefaultModelFamily
	}

	return &LanguageModel{
		Language:   lang,
		Family:     family,
		ModelPath:  modelPath,
		Speakers:   speakers,
		Parameters: mapsafe.Merge(cfg.Synthesis.Parameters, mc.Parameters),
		Backend:    b,
		LoadedAt:   time.Now(),
	}, nil
}

func (m *Manager) download(ctx context.Context, mc *config.ModelConfig, modelsPath string) (string, error) {
	src, err := mc.GetSource()
	if errors.Is(err, config.ErrNoSource) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get model source: %w", err)
	}

	downloader, err := m.downloaders(ctx, src.Type())
	if err != nil {
		return "", fmt.Errorf("failed to get downloader: %w", err)
	}

	path, _, err := downloader.Download(ctx, mc, modelsPath)
	if err != nil {
		return "", fmt.Errorf("failed to download model into %s: %w", modelsPath, err)
	}

	return path, nil
}

// speakersFor picks the speaker table from, in order: the backend itself,
// the checkpoint's config.json, the configured static list.
func (m *Manager) speakersFor(ctx context.Context, b backend.Backend, lang, modelPath string, static []string) SpeakerTable {
	if lister, ok := b.(backend.SpeakerLister); ok {
		speakers, err := lister.Speakers(ctx, lang)
		if err == nil && len(speakers) > 0 {
			return SpeakerTable(speakers)
		}
		slog.Warn("Backend did not list speakers", "language", lang, "error", err)
	}

	if modelPath != "" {
		table, err := ReadSpeakerTable(modelPath)
		if err == nil && len(table) > 0 {
			return table
		}
		slog.Debug("No speaker table in checkpoint", "language", lang, "path", modelPath, "error", err)
	}

	return StaticSpeakerTable(static)
}

// resolveModelsPath returns the models directory: storage.models_dir (which
// MELOTTS_MODELS_PATH overrides) or the platform default.
func resolveModelsPath(cfg *config.Config) string {
	if cfg.Storage.ModelsDir != "" {
		return xfs.ExpandTilde(cfg.Storage.ModelsDir)
	}
	return xfs.ExpandTilde(config.DefaultModelsPath())
}
