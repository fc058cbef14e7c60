package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Defaults applied before the config file is decoded.
const (
	DefaultHost            = "0.0.0.0"
	DefaultHTTPPort        = 8000
	DefaultGRPCPort        = 8001
	DefaultDevice          = "auto"
	DefaultSampleRate      = 44100
	DefaultLanguage        = "EN"
	DefaultUpsampleInput   = 24000
	DefaultUpsampleOutput  = 48000
	DefaultModelFamily     = "melo"
	DefaultMP3Bitrate      = "128k"
	DefaultOpusBitrate     = "64k"
	DefaultEncoderTimeout  = 30 * time.Second
	DefaultMeloTimeout     = 2 * time.Minute
	DefaultWorkerPort      = 8890
	DefaultWorkerReadiness = 2 * time.Minute
)

// DefaultLanguages is the registry order of the built-in language models.
var DefaultLanguages = []string{"EN", "ES", "FR", "ZH", "JP", "KR"}

// Default returns the configuration used when no config file is given. Every
// field a config file leaves out keeps these values.
func Default() *Config {
	return &Config{
		Version: "1",
		Server: ServerConfig{
			Host:     DefaultHost,
			HTTPPort: DefaultHTTPPort,
			GRPCPort: DefaultGRPCPort,
		},
		Device: DefaultDevice,
		Storage: StorageConfig{
			Download: true,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(DefaultConfigPath(), "logs", "melotts.log"),
		},
		Synthesis: SynthesisConfig{
			Backend:         BackendMelo,
			SampleRate:      DefaultSampleRate,
			DefaultLanguage: DefaultLanguage,
			Languages:       append([]string(nil), DefaultLanguages...),
			Parameters: map[string]any{
				"sdp_ratio":     0.2,
				"noise_scale":   0.6,
				"noise_scale_w": 0.8,
			},
			Melo: MeloConfig{
				BinPath: "melo",
				Timeout: DefaultMeloTimeout,
			},
			Worker: WorkerConfig{
				Port:         DefaultWorkerPort,
				ReadyTimeout: DefaultWorkerReadiness,
				Timeout:      5 * time.Minute,
			},
		},
		Models: DefaultModels(),
		Upsampler: UpsamplerConfig{
			Enabled:    true,
			InputRate:  DefaultUpsampleInput,
			OutputRate: DefaultUpsampleOutput,
		},
		Encoder: EncoderConfig{
			FFmpegPath:  "ffmpeg",
			Timeout:     DefaultEncoderTimeout,
			MP3Bitrate:  DefaultMP3Bitrate,
			OpusBitrate: DefaultOpusBitrate,
		},
	}
}

// DefaultModels returns the published MeloTTS checkpoints keyed by language.
func DefaultModels() map[string]ModelConfig {
	model := func(repo string, speakers ...string) ModelConfig {
		m := ModelConfig{Family: DefaultModelFamily, Speakers: speakers}
		m.SetHuggingFaceSource(HuggingFaceSource{
			Repo:    repo,
			Include: []string{"checkpoint.pth", "config.json"},
		})
		return m
	}

	return map[string]ModelConfig{
		"EN": model("myshell-ai/MeloTTS-English", "EN-US", "EN-BR", "EN_INDIA", "EN-AU", "EN-Default"),
		"ES": model("myshell-ai/MeloTTS-Spanish", "ES"),
		"FR": model("myshell-ai/MeloTTS-French", "FR"),
		"ZH": model("myshell-ai/MeloTTS-Chinese", "ZH"),
		"JP": model("myshell-ai/MeloTTS-Japanese", "JP"),
		"KR": model("myshell-ai/MeloTTS-Korean", "KR"),
	}
}

// DefaultConfigPath returns the default path for the melotts config directory.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "melotts", "config")
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "melotts")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "melotts")
	default: // Linux, BSD, etc.
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "melotts")
		}
		return filepath.Join(home, ".config", "melotts")
	}
}

// DefaultModelsPath returns the default path for the melotts models directory.
func DefaultModelsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "melotts", "models")
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Local", "melotts", "models")
	case "darwin":
		return filepath.Join(home, "Library", "Caches", "melotts", "models")
	default: // Linux, BSD, etc.
		if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
			return filepath.Join(xdg, "melotts", "models")
		}
		return filepath.Join(home, ".cache", "melotts", "models")
	}
}
