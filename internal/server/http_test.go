package server

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/roomrelay/internal/config"
)

func TestHTTPServiceServesAndStops(t *testing.T) {
	logger := zaptest.NewLogger(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/hello", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "hi")
	})
	svc := NewHTTPService(config.ServerConfig{ShutdownTimeout: time.Second}, mux, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.serve("127.0.0.1:0")
	}()

	deadline := time.After(2 * time.Second)
	for {
		if svc.IsRunning() && svc.Addr() != "" {
			break
		}
		select {
		case <-deadline:
			t.Fatal("http service did not start in time")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	resp, err := http.Get("http://" + svc.Addr() + "/hello")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "hi", string(body))

	svc.Stop()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("http service did not stop in time")
	}
	assert.False(t, svc.IsRunning())

	// Stopping twice is harmless.
	svc.Stop()
}

func TestHTTPServiceListenError(t *testing.T) {
	svc := NewHTTPService(config.ServerConfig{}, http.NewServeMux(), zaptest.NewLogger(t))
	assert.Error(t, svc.serve("256.0.0.1:1"))
}
