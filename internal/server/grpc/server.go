// Package grpc exposes the standard gRPC health service, with one entry per
// loaded language.
package grpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ekisa-team/melotts/internal/model"
)

// ServicePrefix prefixes per-language health service names.
const ServicePrefix = "melotts."

// Server is the gRPC front serving grpc.health.v1.Health.
type Server struct {
	addr   string
	server *grpc.Server
	health *health.Server

	// languages seen so far, so dropped ones can be marked NOT_SERVING.
	mu        sync.Mutex
	languages map[string]struct{}
}

// NewServer creates a new Server listening on host:port.
func NewServer(host string, port int) *Server {
	s := &Server{
		addr:      net.JoinHostPort(host, strconv.Itoa(port)),
		server:    grpc.NewServer(),
		health:    health.NewServer(),
		languages: make(map[string]struct{}),
	}

	healthpb.RegisterHealthServer(s.server, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	return s
}

// ServiceName returns the health service name of a language.
func ServiceName(language string) string {
	return ServicePrefix + language
}

// Health returns the health service implementation.
func (s *Server) Health() healthpb.HealthServer {
	return s.health
}

// Update publishes the state of a registry. It is registered with
// model.Manager.OnSwap.
func (s *Server) Update(reg *model.Registry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loaded := make(map[string]struct{})
	for _, lang := range reg.Languages() {
		loaded[lang] = struct{}{}
		s.languages[lang] = struct{}{}
	}

	for lang := range s.languages {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if _, ok := loaded[lang]; ok {
			status = healthpb.HealthCheckResponse_SERVING
		}
		s.health.SetServingStatus(ServiceName(lang), status)
	}

	overall := healthpb.HealthCheckResponse_NOT_SERVING
	if reg.Ready() {
		overall = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", overall)

	slog.Debug("gRPC health updated", "languages", reg.Languages(), "status", overall.String())
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.addr
}

// ListenAndServe serves until ctx is done, then stops gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is done.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		slog.Info("gRPC server shutting down")
		s.Stop()
	}()

	slog.Info("gRPC server listening", "addr", lis.Addr().String())

	if err := s.server.Serve(lis); err != nil {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// Stop marks every service NOT_SERVING and stops the server gracefully.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}
