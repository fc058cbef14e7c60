package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"sync"
	"syscall"

	"github.com/ekisa-team/melotts/internal/audio"
	"github.com/ekisa-team/melotts/internal/backend"
	"github.com/ekisa-team/melotts/internal/backend/melo"
	"github.com/ekisa-team/melotts/internal/backend/worker"
	"github.com/ekisa-team/melotts/internal/config"
	"github.com/ekisa-team/melotts/internal/env"
	"github.com/ekisa-team/melotts/internal/executor"
	"github.com/ekisa-team/melotts/internal/logger"
	"github.com/ekisa-team/melotts/internal/model"
	grpcserver "github.com/ekisa-team/melotts/internal/server/grpc"
	httpserver "github.com/ekisa-team/melotts/internal/server/http"
	"github.com/ekisa-team/melotts/internal/service"
	"github.com/ekisa-team/melotts/internal/text"
)

var version = "dev"

func main() {
	var (
		flagConfigPath       = flag.String("config", path.Join(config.DefaultConfigPath(), "config.yaml"), "Path to config file")
		flagSchemaPath       = flag.String("schema", "", "Path to schema file (defaults to the embedded schema)")
		flagHost             = flag.String("host", config.DefaultHost, "Host to bind")
		flagHTTPPort         = flag.Int("http-port", config.DefaultHTTPPort, "HTTP port to listen on")
		flagGRPCPort         = flag.Int("grpc-port", config.DefaultGRPCPort, "GRPC port to listen on, 0 disables it")
		flagDevice           = flag.String("device", config.DefaultDevice, "Inference device: auto, cpu, cuda or mps")
		flagDisableUpsampler = flag.Bool("disable-upsampler", false, "Disable upsampling of synthesized audio")
	)
	flag.Parse()

	var overrides config.Overrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			overrides.Host = flagHost
		case "http-port":
			overrides.HTTPPort = flagHTTPPort
		case "grpc-port":
			overrides.GRPCPort = flagGRPCPort
		case "device":
			overrides.Device = flagDevice
		case "disable-upsampler":
			overrides.DisableUpsampler = flagDisableUpsampler
		}
	})

	environment := env.FromEnv()
	slog.SetDefault(logger.New(environment))

	load := func(p string) (*config.Config, error) {
		cfg, err := config.LoadAndValidate(p, *flagSchemaPath)
		if err != nil {
			return nil, err
		}
		return finalize(cfg, overrides)
	}

	cfg, fromFile, err := initialConfig(*flagConfigPath, load, overrides)
	if err != nil {
		slog.Error("Failed to load config", "config", *flagConfigPath, "error", err)
		os.Exit(1)
	}

	logOpts := []logger.Option{
		logger.WithLevel(logger.ParseLevel(cfg.Logging.Level)),
		logger.WithLogToFile(cfg.Logging.ToFile),
	}
	if cfg.Logging.File != "" {
		logOpts = append(logOpts, logger.WithLogFile(cfg.Logging.File))
	}
	slog.SetDefault(logger.New(environment, logOpts...))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverManager := backend.NewServerManager()
	defer serverManager.StopAll()

	backends := registerBackends(cfg, serverManager)
	defer func() {
		if err := backends.Close(); err != nil {
			slog.Error("Failed to close backends", "error", err)
		}
	}()

	manager := model.NewManager(backends)

	grpcServer := grpcserver.NewServer(cfg.Server.Host, cfg.Server.GRPCPort)
	manager.OnSwap(grpcServer.Update)
	grpcServer.Update(manager.Registry())

	if err := manager.LoadModelsFromConfig(ctx, cfg); err != nil {
		slog.Error("Failed to load models from config", "error", err)
		os.Exit(1)
	}

	if fromFile {
		watcher, err := config.NewWatcher(*flagConfigPath, load, func(cfg *config.Config, err error) {
			if err != nil {
				slog.Error("Failed to reload config", "error", err)
				return
			}

			if err := manager.LoadModelsFromConfig(ctx, cfg); err != nil {
				slog.Error("Failed to load models from config", "error", err)
			}
		})
		if err != nil {
			slog.Warn("Config hot reload disabled", "config", *flagConfigPath, "error", err)
		} else {
			defer watcher.Close()
		}
	}

	upsampler, err := audio.NewUpsampler(cfg.Upsampler.Enabled, cfg.Upsampler.InputRate, cfg.Upsampler.OutputRate)
	if err != nil {
		slog.Error("Failed to create upsampler", "error", err)
		os.Exit(1)
	}

	ffmpeg, err := executor.New(cfg.Encoder.FFmpegPath, cfg.Encoder.Timeout)
	if err != nil {
		slog.Warn("ffmpeg not found, opus requests will be served as wav and mp3 requests will fail", "error", err)
	}

	encoder := audio.NewEncoder(ffmpeg,
		audio.WithMP3Bitrate(cfg.Encoder.MP3Bitrate),
		audio.WithOpusBitrate(cfg.Encoder.OpusBitrate),
		audio.WithMP3Fallback(cfg.Encoder.MP3Fallback),
	)

	tts := service.NewTTS(manager, text.NewCleaner(), upsampler, encoder, service.Settings{
		Device:           cfg.Device,
		NativeSampleRate: cfg.NativeSampleRate(),
	})

	httpServer := httpserver.NewServer(cfg.Server.Host, cfg.Server.HTTPPort, version, tts, manager)

	slog.Info("MeloTTS server starting",
		"version", version,
		"host", cfg.Server.Host,
		"http_port", cfg.Server.HTTPPort,
		"grpc_port", cfg.Server.GRPCPort,
		"device", cfg.Device,
		"backend", cfg.Synthesis.Backend,
		"upsampler", upsampler.Enabled(),
		"sample_rate", cfg.OutputSampleRate(),
		"languages", manager.Registry().Languages(),
		"ready", tts.Ready())

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpServer.ListenAndServe(ctx); err != nil {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	if cfg.Server.GRPCPort > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := grpcServer.ListenAndServe(ctx); err != nil {
				slog.Error("gRPC server failed", "error", err)
				stop()
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()

	slog.Info("MeloTTS server stopped")
}

// initialConfig loads the config file, or the defaults when the file does not
// exist. fromFile reports which one was used.
func initialConfig(configPath string, load config.LoadFunc, overrides config.Overrides) (cfg *config.Config, fromFile bool, err error) {
	if _, statErr := os.Stat(configPath); errors.Is(statErr, fs.ErrNotExist) {
		slog.Info("Config file not found, using defaults", "config", configPath)
		cfg, err = finalize(config.Default(), overrides)
		return cfg, false, err
	}

	cfg, err = load(configPath)
	return cfg, true, err
}

// finalize applies environment and flag overrides, in that order, and
// validates the result.
func finalize(cfg *config.Config, overrides config.Overrides) (*config.Config, error) {
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.Apply(overrides)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// registerBackends registers every backend some configured language uses.
// Backends are created once; config reloads reuse them.
func registerBackends(cfg *config.Config, serverManager *backend.ServerManager) *backend.Registry {
	backends := backend.NewRegistry()

	needed := map[string]bool{cfg.Synthesis.Backend: true}
	for _, lang := range cfg.Synthesis.Languages {
		needed[cfg.BackendFor(lang)] = true
	}

	if needed[config.BackendMelo] {
		b, err := melo.NewBackend(cfg.Synthesis.Melo.BinPath, cfg.Synthesis.Melo.Timeout)
		if err != nil {
			slog.Error("Failed to create melo backend", "error", err)
		} else if err := backends.Register(b); err != nil {
			slog.Error("Failed to register backend", "backend", b.Provider(), "error", err)
		}
	}

	if needed[config.BackendWorker] {
		w := cfg.Synthesis.Worker
		b, err := worker.NewBackend(worker.Config{
			Endpoint:     w.Endpoint,
			BinPath:      w.BinPath,
			Args:         w.Args,
			Port:         w.Port,
			Device:       cfg.Device,
			ReadyTimeout: w.ReadyTimeout,
			Timeout:      w.Timeout,
		}, serverManager)
		if err != nil {
			slog.Error("Failed to create worker backend", "error", err)
		} else if err := backends.Register(b); err != nil {
			slog.Error("Failed to register backend", "backend", b.Provider(), "error", err)
		}
	}

	return backends
}
