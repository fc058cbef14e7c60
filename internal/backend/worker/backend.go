// Package worker talks to a resident MeloTTS synthesis process over HTTP.
//
// The worker keeps every language checkpoint in memory, which avoids the
// per-request model load of the melo CLI. It exposes:
//
//	GET  /health                  200 once models are loaded
//	GET  /speakers?language=EN    {"speakers": {"EN-US": 0, ...}}
//	POST /synthesize              JSON SynthesisRequest -> audio/wav
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ekisa-team/melotts/internal/audio"
	"github.com/ekisa-team/melotts/internal/backend"
	"github.com/ekisa-team/melotts/internal/mapsafe"
)

const (
	BackendName = "melo-worker"
	BackendPort = 8890
)

// Config describes how to reach, and optionally launch, the worker.
type Config struct {
	// Endpoint is the base URL. When empty it is derived from Port.
	Endpoint string

	// BinPath launches the worker through the ServerManager on first use
	// when set. Leave empty for an externally managed worker.
	BinPath      string
	Args         []string
	Port         int
	Device       string
	ReadyTimeout time.Duration
	Timeout      time.Duration
}

// Backend implements backend.Backend for a resident worker.
type Backend struct {
	cfg           Config
	endpoint      string
	serverManager *backend.ServerManager
	client        *http.Client
}

// SynthesisRequest is the JSON body sent to POST /synthesize.
type SynthesisRequest struct {
	Text        string  `json:"text"`
	Language    string  `json:"language"`
	Speaker     string  `json:"speaker"`
	SpeakerID   int     `json:"speaker_id"`
	Speed       float64 `json:"speed"`
	Device      string  `json:"device,omitempty"`
	ModelPath   string  `json:"model_path,omitempty"`
	SDPRatio    float64 `json:"sdp_ratio"`
	NoiseScale  float64 `json:"noise_scale"`
	NoiseScaleW float64 `json:"noise_scale_w"`
}

// SpeakersResponse is the body of GET /speakers.
type SpeakersResponse struct {
	Speakers map[string]int `json:"speakers"`
}

// NewBackend creates a new Backend instance. serverManager may be nil when
// cfg.BinPath is empty.
func NewBackend(cfg Config, serverManager *backend.ServerManager) (*Backend, error) {
	if cfg.Port == 0 {
		cfg.Port = BackendPort
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute // Long inputs synthesize slowly on CPU
	}
	if cfg.BinPath != "" && serverManager == nil {
		return nil, fmt.Errorf("%s: a server manager is required to launch %s", BackendName, cfg.BinPath)
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("http://127.0.0.1:%d", cfg.Port)
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("%s: invalid endpoint %q: %w", BackendName, endpoint, err)
	}

	return &Backend{
		cfg:           cfg,
		endpoint:      endpoint,
		serverManager: serverManager,
		client:        &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Provider implements backend.Backend.
func (b *Backend) Provider() backend.BackendProvider {
	return backend.BackendProviderMeloWorker
}

// Close implements backend.Backend.
func (b *Backend) Close() error {
	if b.cfg.BinPath == "" || !b.serverManager.Running(BackendName, b.cfg.Port) {
		return nil
	}
	return b.serverManager.StopServer(BackendName, b.cfg.Port)
}

// ensureStarted launches the managed worker process if one is configured.
func (b *Backend) ensureStarted(ctx context.Context) error {
	if b.cfg.BinPath == "" {
		return nil
	}

	args := append([]string{}, b.cfg.Args...)
	args = append(args, "--host", "127.0.0.1", "--port", strconv.Itoa(b.cfg.Port))
	if b.cfg.Device != "" {
		args = append(args, "--device", b.cfg.Device)
	}

	if err := b.serverManager.StartServer(ctx, backend.ServerConfig{
		Name:         BackendName,
		BinPath:      b.cfg.BinPath,
		Args:         args,
		Port:         b.cfg.Port,
		HealthPath:   "/health",
		ReadyTimeout: b.cfg.ReadyTimeout,
	}); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Synthesize implements backend.Backend.
func (b *Backend) Synthesize(ctx context.Context, req *backend.Request) (audio.Waveform, error) {
	if err := b.ensureStarted(ctx); err != nil {
		return audio.Waveform{}, err
	}

	body, err := json.Marshal(b.buildSynthesisRequest(req))
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", audio.ContentTypeWAV)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return audio.Waveform{}, fmt.Errorf("request failed with status code %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	if len(data) == 0 {
		return audio.Waveform{}, backend.ErrEmptyAudio
	}

	w, err := audio.DecodeWAV(data)
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("decode worker output: %w", err)
	}

	return w, nil
}

// Speakers implements backend.SpeakerLister.
func (b *Backend) Speakers(ctx context.Context, language string) (map[string]backend.Speaker, error) {
	if err := b.ensureStarted(ctx); err != nil {
		return nil, err
	}

	u := b.endpoint + "/speakers?" + url.Values{"language": {language}}.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("request failed with status code %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var sr SpeakersResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	speakers := make(map[string]backend.Speaker, len(sr.Speakers))
	for name, id := range sr.Speakers {
		speakers[name] = backend.Speaker{Name: name, ID: id}
	}

	return speakers, nil
}

// buildSynthesisRequest builds a SynthesisRequest from a backend.Request.
func (b *Backend) buildSynthesisRequest(req *backend.Request) *SynthesisRequest {
	p := req.Parameters
	if p == nil {
		p = make(map[string]any)
	}

	speed := req.Speed
	if speed <= 0 {
		speed = 1.0
	}

	device := req.Device
	if device == "" {
		device = b.cfg.Device
	}

	return &SynthesisRequest{
		Text:        req.Text,
		Language:    req.Language,
		Speaker:     req.Speaker.Name,
		SpeakerID:   req.Speaker.ID,
		Speed:       speed,
		Device:      device,
		ModelPath:   req.ModelPath,
		SDPRatio:    mapsafe.Get(p, "sdp_ratio", 0.2),
		NoiseScale:  mapsafe.Get(p, "noise_scale", 0.6),
		NoiseScaleW: mapsafe.Get(p, "noise_scale_w", 0.8),
	}
}
