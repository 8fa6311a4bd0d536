package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/instrulink/sessionkit/internal/infrastructure/config"
)

func flakyServer(t *testing.T, failures int32, attempts *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= failures {
			http.Error(w, "transient", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRetriesTransientServerErrors(t *testing.T) {
	var attempts atomic.Int32
	srv := flakyServer(t, 2, &attempts)

	client := New(config.APIConfig{
		BaseURL:      srv.URL,
		Timeout:      2 * time.Second,
		RetryMax:     3,
		RetryWaitMin: 10 * time.Millisecond,
		RetryWaitMax: 50 * time.Millisecond,
	})

	req, err := client.Request(context.Background())
	require.NoError(t, err)
	resp, err := req.Get("/ping")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, int32(3), attempts.Load())
}

func TestRetriesExhaustedSurfaceLastResponse(t *testing.T) {
	var attempts atomic.Int32
	srv := flakyServer(t, 100, &attempts)

	client := New(config.APIConfig{
		BaseURL:      srv.URL,
		Timeout:      2 * time.Second,
		RetryMax:     2,
		RetryWaitMin: 10 * time.Millisecond,
		RetryWaitMax: 50 * time.Millisecond,
	})

	req, err := client.Request(context.Background())
	require.NoError(t, err)
	resp, err := req.Get("/ping")
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode())
	// Initial attempt plus RetryMax retries, then the failure stands.
	assert.Equal(t, int32(3), attempts.Load())
}

func TestZeroRetryMaxMeansSingleAttempt(t *testing.T) {
	var attempts atomic.Int32
	srv := flakyServer(t, 100, &attempts)

	client := New(config.APIConfig{BaseURL: srv.URL, Timeout: 2 * time.Second})

	req, err := client.Request(context.Background())
	require.NoError(t, err)
	resp, err := req.Get("/ping")
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode())
	assert.Equal(t, int32(1), attempts.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	client := New(config.APIConfig{
		BaseURL:      srv.URL,
		Timeout:      2 * time.Second,
		RetryMax:     3,
		RetryWaitMin: 10 * time.Millisecond,
		RetryWaitMax: 50 * time.Millisecond,
	})

	req, err := client.Request(context.Background())
	require.NoError(t, err)
	resp, err := req.Get("/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode())
	assert.Equal(t, int32(1), attempts.Load())
}
