package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ServerManager manages resident synthesis worker processes.
type ServerManager struct {
	servers map[string]*ServerProcess
	client  *http.Client
	poll    time.Duration
	mu      sync.RWMutex
}

// ServerProcess represents a running worker process.
type ServerProcess struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
}

// ServerConfig defines how to start and check a worker process.
type ServerConfig struct {
	Env          map[string]string
	Name         string
	BinPath      string
	Host         string
	HealthPath   string
	Args         []string
	Port         int
	ReadyTimeout time.Duration
}

// NewServerManager initializes a ServerManager.
func NewServerManager() *ServerManager {
	return &ServerManager{
		servers: map[string]*ServerProcess{},
		client:  &http.Client{Timeout: 1 * time.Second},
		poll:    500 * time.Millisecond,
	}
}

func serverKey(name string, port int) string {
	return fmt.Sprintf("%s-%d", name, port)
}

// Running reports whether a server started by this manager is registered.
func (sm *ServerManager) Running(name string, port int) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	_, ok := sm.servers[serverKey(name, port)]
	return ok
}

// StartServer starts a worker process and blocks until its health endpoint
// answers 200 or the ready timeout expires.
func (sm *ServerManager) StartServer(ctx context.Context, cfg ServerConfig) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	key := serverKey(cfg.Name, cfg.Port)
	if _, exists := sm.servers[key]; exists {
		return nil // Already running
	}

	binPath, err := exec.LookPath(cfg.BinPath)
	if err != nil {
		return fmt.Errorf("manager: failed to start %s server: %w", cfg.Name, err)
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, binPath, cfg.Args...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	if len(cfg.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("manager: failed to start %s server: %w", cfg.Name, err)
	}

	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}

	healthPath := cfg.HealthPath
	if healthPath == "" {
		healthPath = "/health"
	}

	timeout := cfg.ReadyTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	url := fmt.Sprintf("http://%s:%d%s", host, cfg.Port, healthPath)
	if err := sm.waitForServer(ctx, url, timeout); err != nil {
		cancel()
		if err := cmd.Process.Kill(); err != nil {
			slog.Error("Failed to kill server process", "error", err)
		}
		_ = cmd.Wait()
		return fmt.Errorf("manager: %s server did not become ready: %w", cfg.Name, err)
	}

	sm.servers[key] = &ServerProcess{
		cmd:    cmd,
		cancel: cancel,
	}

	slog.Info("Server started", "name", cfg.Name, "port", cfg.Port, "pid", cmd.Process.Pid)
	return nil
}

// StopServer terminates a worker process.
func (sm *ServerManager) StopServer(name string, port int) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	key := serverKey(name, port)
	srv, exists := sm.servers[key]
	if !exists {
		return fmt.Errorf("%w: %s", ErrServerNotFound, key)
	}

	srv.stop()
	delete(sm.servers, key)

	slog.Info("Server stopped", "name", name, "port", port)
	return nil
}

// StopAll terminates all running servers.
func (sm *ServerManager) StopAll() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for _, srv := range sm.servers {
		srv.stop()
	}
	sm.servers = map[string]*ServerProcess{}

	slog.Info("All servers stopped")
}

func (p *ServerProcess) stop() {
	p.cancel()
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		slog.Error("Failed to kill server process", "error", err)
	}
	_ = p.cmd.Wait()
}

// waitForServer polls url until it answers 200.
func (sm *ServerManager) waitForServer(ctx context.Context, url string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := sm.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sm.poll):
		}
	}

	return fmt.Errorf("manager: server failed to respond at %s within %v", url, timeout)
}
