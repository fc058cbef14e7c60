// Package http serves the OpenAI compatible speech API over huma.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/ekisa-team/melotts/internal/service"
)

const shutdownTimeout = 5 * time.Second

// Server is the HTTP front of the speech service.
type Server struct {
	api    huma.API
	server *http.Server
}

// NewAPI registers every handler on a fresh huma API backed by mux.
func NewAPI(mux *http.ServeMux, version string, tts *service.TTS, reports ReportSource) huma.API {
	cfg := huma.DefaultConfig("MeloTTS API", version)
	cfg.Info.Description = "Text to speech with an OpenAI compatible /v1/audio/speech endpoint."

	api := humago.New(mux, cfg)

	NewTTSHandler(api, tts)
	NewSystemHandler(api, tts, reports)

	mux.Handle("GET /swagger/", httpSwagger.Handler(
		httpSwagger.URL("/openapi-3.0.json"),
	))

	return api
}

// NewServer creates a new Server listening on host:port.
func NewServer(host string, port int, version string, tts *service.TTS, reports ReportSource) *Server {
	mux := http.NewServeMux()
	api := NewAPI(mux, version, tts, reports)

	return &Server{
		api: api,
		server: &http.Server{
			Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// API returns the underlying huma API.
func (s *Server) API() huma.API {
	return s.api
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		slog.Info("HTTP server shutting down")
		if err := s.Shutdown(); err != nil {
			slog.Error("Failed to shut down HTTP server", "error", err)
		}
	}()

	slog.Info("HTTP server listening", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}
