package config

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// SourceType represents the type of model source.
type SourceType string

const (
	// SourceTypeHuggingFace represents a Hugging Face model repository source.
	SourceTypeHuggingFace SourceType = "huggingface"
)

// Synthesis backends.
const (
	BackendMelo   = "melo"
	BackendWorker = "melo-worker"
)

// Devices accepted by the synthesis backends.
var Devices = []string{"auto", "cpu", "cuda", "mps"}

// Config holds the main configuration for the application.
type Config struct {
	Version   string                 `json:"version"             yaml:"version"`
	Server    ServerConfig           `json:"server"              yaml:"server"`
	Device    string                 `json:"device"              yaml:"device"`
	Storage   StorageConfig          `json:"storage,omitempty"   yaml:"storage,omitempty"`
	Logging   LoggingConfig          `json:"logging,omitempty"   yaml:"logging,omitempty"`
	Synthesis SynthesisConfig        `json:"synthesis"           yaml:"synthesis"`
	Models    map[string]ModelConfig `json:"models"              yaml:"models"`
	Upsampler UpsamplerConfig        `json:"upsampler"           yaml:"upsampler"`
	Encoder   EncoderConfig          `json:"encoder"             yaml:"encoder"`
}

// ServerConfig holds the listen addresses.
type ServerConfig struct {
	Host     string `json:"host"      yaml:"host"`
	HTTPPort int    `json:"http_port" yaml:"http_port"`
	GRPCPort int    `json:"grpc_port" yaml:"grpc_port"`
}

// StorageConfig holds configuration for caching and auto-download.
type StorageConfig struct {
	ModelsDir string `json:"models_dir,omitempty" yaml:"models_dir,omitempty"`
	// Download fetches checkpoints into ModelsDir before a language is
	// registered. Disable it when the backend manages its own weights.
	Download bool `json:"download" yaml:"download"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"   yaml:"level,omitempty"`
	File   string `json:"file,omitempty"    yaml:"file,omitempty"`
	ToFile bool   `json:"to_file,omitempty" yaml:"to_file,omitempty"`
}

// SynthesisConfig selects the synthesis backend and the languages to load.
type SynthesisConfig struct {
	Backend         string         `json:"backend"              yaml:"backend"`
	SampleRate      int            `json:"sample_rate"          yaml:"sample_rate"`
	DefaultLanguage string         `json:"default_language"     yaml:"default_language"`
	Languages       []string       `json:"languages"            yaml:"languages"`
	Parameters      map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Melo            MeloConfig     `json:"melo"                 yaml:"melo"`
	Worker          WorkerConfig   `json:"worker"               yaml:"worker"`
}

// MeloConfig configures the melo CLI backend.
type MeloConfig struct {
	BinPath string        `json:"bin_path" yaml:"bin_path"`
	Timeout time.Duration `json:"timeout"  yaml:"timeout"`
}

// WorkerConfig configures the resident worker backend. BinPath is optional,
// without it the worker at Endpoint is expected to be running already.
type WorkerConfig struct {
	Endpoint     string        `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	BinPath      string        `json:"bin_path,omitempty" yaml:"bin_path,omitempty"`
	Args         []string      `json:"args,omitempty"     yaml:"args,omitempty"`
	Port         int           `json:"port,omitempty"     yaml:"port,omitempty"`
	ReadyTimeout time.Duration `json:"ready_timeout"      yaml:"ready_timeout"`
	Timeout      time.Duration `json:"timeout"            yaml:"timeout"`
}

// ModelConfig holds configuration for one language model.
type ModelConfig struct {
	Source SourceConfig `json:"source"           yaml:"source"`
	// Family prefixes the voice catalog category, e.g. "melo" -> "melo_en".
	Family string `json:"family,omitempty" yaml:"family,omitempty"`
	// Backend overrides synthesis.backend for this language.
	Backend string `json:"backend,omitempty" yaml:"backend,omitempty"`
	// Speakers is used when the checkpoint carries no speaker table.
	Speakers   []string       `json:"speakers,omitempty"   yaml:"speakers,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// SourceConfig wraps optional sources (only one should be set).
type SourceConfig struct {
	HuggingFace *HuggingFaceSource `json:"huggingface,omitempty" yaml:"huggingface,omitempty"`
}

// UpsamplerConfig configures post-synthesis upsampling.
type UpsamplerConfig struct {
	Enabled    bool `json:"enabled"     yaml:"enabled"`
	InputRate  int  `json:"input_rate"  yaml:"input_rate"`
	OutputRate int  `json:"output_rate" yaml:"output_rate"`
}

// EncoderConfig configures the ffmpeg transcoder.
type EncoderConfig struct {
	FFmpegPath  string        `json:"ffmpeg_path"  yaml:"ffmpeg_path"`
	Timeout     time.Duration `json:"timeout"      yaml:"timeout"`
	MP3Bitrate  string        `json:"mp3_bitrate"  yaml:"mp3_bitrate"`
	OpusBitrate string        `json:"opus_bitrate" yaml:"opus_bitrate"`
	// MP3Fallback serves WAV when MP3 transcoding fails instead of an error.
	MP3Fallback bool `json:"mp3_fallback" yaml:"mp3_fallback"`
}

// -------------------------
// Source definitions
// -------------------------

// ModelSource represents a source for a model.
type ModelSource interface {
	Type() SourceType
}

// HuggingFaceSource represents a Hugging Face model repository source.
type HuggingFaceSource struct {
	Repo          string   `json:"repo"                     yaml:"repo"`
	Revision      string   `json:"revision,omitempty"       yaml:"revision,omitempty"`
	RepoType      string   `json:"repo_type,omitempty"      yaml:"repo_type,omitempty"`
	Token         string   `json:"token,omitempty"          yaml:"token,omitempty"`
	Include       []string `json:"include,omitempty"        yaml:"include,omitempty"`
	Exclude       []string `json:"exclude,omitempty"        yaml:"exclude,omitempty"`
	MaxWorkers    int      `json:"max_workers,omitempty"    yaml:"max_workers,omitempty"`
	ForceDownload bool     `json:"force_download,omitempty" yaml:"force_download,omitempty"`
}

// Type returns the Hugging Face source type.
func (h HuggingFaceSource) Type() SourceType {
	return SourceTypeHuggingFace
}

// ErrNoSource is returned by GetSource when a model has no source configured.
var ErrNoSource = errors.New("no source configured for model")

// GetSource returns the active source for the model.
func (m *ModelConfig) GetSource() (ModelSource, error) {
	if m.Source.HuggingFace != nil {
		return *m.Source.HuggingFace, nil
	}

	return nil, ErrNoSource
}

// SetHuggingFaceSource sets the Hugging Face source.
func (m *ModelConfig) SetHuggingFaceSource(source HuggingFaceSource) {
	m.Source.HuggingFace = &source
}

// BackendFor returns the backend serving language, honouring per-model
// overrides.
func (c *Config) BackendFor(language string) string {
	if m, ok := c.Models[language]; ok && m.Backend != "" {
		return m.Backend
	}
	return c.Synthesis.Backend
}

// Validate checks the invariants the schema cannot express, and the values
// set through flags and environment variables.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("server.http_port out of range: %d", c.Server.HTTPPort))
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		errs = append(errs, fmt.Errorf("server.grpc_port out of range: %d", c.Server.GRPCPort))
	}
	if !slices.Contains(Devices, c.Device) {
		errs = append(errs, fmt.Errorf("device must be one of %v, got %q", Devices, c.Device))
	}
	if c.Synthesis.Backend != BackendMelo && c.Synthesis.Backend != BackendWorker {
		errs = append(errs, fmt.Errorf("synthesis.backend must be %q or %q, got %q", BackendMelo, BackendWorker, c.Synthesis.Backend))
	}
	if c.Synthesis.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("synthesis.sample_rate must be positive, got %d", c.Synthesis.SampleRate))
	}
	if !slices.Contains(c.Synthesis.Languages, c.Synthesis.DefaultLanguage) {
		errs = append(errs, fmt.Errorf("synthesis.default_language %q is not in synthesis.languages", c.Synthesis.DefaultLanguage))
	}
	for _, lang := range c.Synthesis.Languages {
		if _, ok := c.Models[lang]; !ok {
			errs = append(errs, fmt.Errorf("language %s has no entry under models", lang))
		}
	}
	if c.Upsampler.Enabled && (c.Upsampler.InputRate <= 0 || c.Upsampler.OutputRate <= 0) {
		errs = append(errs, fmt.Errorf("upsampler rates must be positive, got %d -> %d", c.Upsampler.InputRate, c.Upsampler.OutputRate))
	}

	return errors.Join(errs...)
}

// NativeSampleRate is the rate synthesized audio is produced at.
func (c *Config) NativeSampleRate() int {
	return c.Synthesis.SampleRate
}

// OutputSampleRate is the rate clients receive: the upsampler output rate when
// enabled, otherwise the native rate.
func (c *Config) OutputSampleRate() int {
	if c.Upsampler.Enabled {
		return c.Upsampler.OutputRate
	}
	return c.Synthesis.SampleRate
}
