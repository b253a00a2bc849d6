package revprisma

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthWithRetry_RecoversFromTransientFailure(t *testing.T) {
	var calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			// Drop the connection to simulate a transport failure
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(HealthResponse{Status: "healthy"})
	}))
	defer server.Close()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	client := NewClient(server.URL, "", logger)

	resp, err := client.HealthWithRetry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", resp.Status)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestProjectStatusWithRetry_NoRetryOnAPIError(t *testing.T) {
	var calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"detail": "Project not found"})
	}))
	defer server.Close()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	client := NewClient(server.URL, "", logger)

	_, err := client.ProjectStatusWithRetry(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsAPIError(err))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "deterministic backend errors are not retried")
}

func TestRetry_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, _ := w.(http.Hijacker)
		conn, _, _ := hj.Hijack()
		conn.Close()
	}))
	defer server.Close()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	client := NewClient(server.URL, "", logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.HealthWithRetry(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
