package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerManager_WaitForServer(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sm := NewServerManager()
	sm.poll = 10 * time.Millisecond

	err := sm.waitForServer(context.Background(), srv.URL+"/health", 2*time.Second)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestServerManager_WaitForServerTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sm := NewServerManager()
	sm.poll = 10 * time.Millisecond

	err := sm.waitForServer(context.Background(), srv.URL, 50*time.Millisecond)
	assert.ErrorContains(t, err, "failed to respond")
}

func TestServerManager_WaitForServerCanceled(t *testing.T) {
	sm := NewServerManager()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sm.waitForServer(ctx, "http://127.0.0.1:1/health", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestServerManager_StartMissingBinary(t *testing.T) {
	sm := NewServerManager()

	err := sm.StartServer(context.Background(), ServerConfig{
		Name:    "melo-worker",
		BinPath: "/nonexistent/melo-worker",
		Port:    18080,
	})
	require.Error(t, err)
	assert.False(t, sm.Running("melo-worker", 18080))
}

func TestServerManager_StopUnknown(t *testing.T) {
	sm := NewServerManager()
	assert.ErrorIs(t, sm.StopServer("melo-worker", 18080), ErrServerNotFound)
}
