package network

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"market-streamer/src/logger"
	"market-streamer/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(retries int) *AsyncNetworkManager {
	logger.SetOutput(io.Discard)
	cfg := &models.MConfig{
		Network: models.MNetworkConfig{RequestTimeout: 5, MaxRetries: retries, RequestsPerMinute: 6000, UserAgent: "test-agent"},
	}
	return NewAsyncNetworkManager(cfg, logger.NewLogger(nil, "network-test"))
}

func TestGet_SendsParamsAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "crypto", r.URL.Query().Get("asset_class"))
		assert.Equal(t, "key", r.Header.Get("Apca-Api-Key-Id"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	nm := newTestManager(0)
	body, err := nm.Get(context.Background(), srv.URL+"/v2/assets", map[string]string{"asset_class": "crypto"}, map[string]string{"Apca-Api-Key-Id": "key"})
	require.NoError(t, err)
	assert.Equal(t, "[]", string(body))
}

func TestGet_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"forbidden."}`))
	}))
	defer srv.Close()

	nm := newTestManager(3)
	_, err := nm.Get(context.Background(), srv.URL, nil, nil)
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusForbidden, se.StatusCode)
	assert.Contains(t, string(se.Body), "forbidden")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGet_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	nm := newTestManager(1)
	body, err := nm.Get(context.Background(), srv.URL, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(2), calls.Load())
}

func TestGet_CancelledContext(t *testing.T) {
	nm := newTestManager(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := nm.Get(ctx, "http://127.0.0.1:1", nil, nil)
	assert.Error(t, err)
}
