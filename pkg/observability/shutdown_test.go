package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
)

func TestNewShutdownManager(t *testing.T) {
	tests := []struct {
		name            string
		timeout         time.Duration
		expectedTimeout time.Duration
	}{
		{name: "with custom timeout", timeout: 10 * time.Second, expectedTimeout: 10 * time.Second},
		{name: "with zero timeout uses default", timeout: 0, expectedTimeout: 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := test.NewNullLogger()
			server := &http.Server{}

			sm := NewShutdownManager(logger, tt.timeout, server)

			if sm.shutdownTimeout != tt.expectedTimeout {
				t.Errorf("Expected timeout %v, got %v", tt.expectedTimeout, sm.shutdownTimeout)
			}
			if len(sm.servers) != 1 || sm.servers[0] != server {
				t.Error("Server not set correctly")
			}
		})
	}
}

func TestShutdownManager_Shutdown(t *testing.T) {
	t.Run("stops servers and runs functions", func(t *testing.T) {
		logger, hook := test.NewNullLogger()

		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("Failed to listen: %v", err)
		}
		server := &http.Server{Handler: http.NotFoundHandler()}
		served := make(chan error, 1)
		go func() { served <- server.Serve(listener) }()

		sm := NewShutdownManager(logger, time.Second, server)
		var calls int32
		for i := 0; i < 3; i++ {
			sm.RegisterShutdownFunc(func(context.Context) error {
				atomic.AddInt32(&calls, 1)
				return nil
			})
		}

		if err := sm.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown returned error: %v", err)
		}
		if got := atomic.LoadInt32(&calls); got != 3 {
			t.Errorf("Expected 3 shutdown calls, got %d", got)
		}
		if err := <-served; !errors.Is(err, http.ErrServerClosed) {
			t.Errorf("Expected ErrServerClosed, got %v", err)
		}
		if hook.LastEntry().Message != "Graceful shutdown complete" {
			t.Errorf("Unexpected last log entry %q", hook.LastEntry().Message)
		}
	})

	t.Run("counts failures", func(t *testing.T) {
		logger, _ := test.NewNullLogger()
		sm := NewShutdownManager(logger, time.Second)
		sm.RegisterShutdownFunc(func(context.Context) error { return errors.New("redis close failed") })
		sm.RegisterShutdownFunc(func(context.Context) error { return nil })
		sm.RegisterShutdownFunc(func(context.Context) error { panic("boom") })

		err := sm.Shutdown(context.Background())
		if err == nil || err.Error() != "shutdown completed with 2 errors" {
			t.Errorf("Expected 2 errors, got %v", err)
		}
	})

	t.Run("times out", func(t *testing.T) {
		logger, _ := test.NewNullLogger()
		sm := NewShutdownManager(logger, time.Second)
		release := make(chan struct{})
		defer close(release)
		sm.RegisterShutdownFunc(func(context.Context) error {
			<-release
			return nil
		})

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		if err := sm.Shutdown(ctx); err == nil {
			t.Error("Expected timeout error")
		}
	})
}

func TestShutdownManager_WaitForShutdownContext(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sm := NewShutdownManager(logger, time.Second)

	var called int32
	sm.RegisterShutdownFunc(func(context.Context) error {
		atomic.StoreInt32(&called, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sm.WaitForShutdown(ctx); err != nil {
		t.Fatalf("WaitForShutdown returned error: %v", err)
	}
	if atomic.LoadInt32(&called) != 1 {
		t.Error("Expected shutdown function to run")
	}
}
