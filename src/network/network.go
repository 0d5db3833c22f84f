package network

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"market-streamer/src/logger"
	"market-streamer/src/models"

	"golang.org/x/time/rate"
)

// AsyncNetworkManager issues rate-limited GET requests with retries.
type AsyncNetworkManager struct {
	Config  *models.MConfig
	Client  *http.Client
	Limiter *rate.Limiter
	Logger  *logger.Logger
}

// StatusError is a non-200 response. Body is kept for vendor error messages.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bad status %d: %s", e.StatusCode, truncate(e.Body, 200))
}

// -----------------------------------------------------------------------------

func NewAsyncNetworkManager(cfg *models.MConfig, log *logger.Logger) *AsyncNetworkManager {
	rpm := cfg.Network.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}

	return &AsyncNetworkManager{
		Config: cfg,
		Client: &http.Client{
			Timeout: time.Duration(cfg.Network.RequestTimeout) * time.Second,
		},
		Limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 2),
		Logger:  log,
	}
}

// -----------------------------------------------------------------------------

// Get performs a GET request with retries. 4xx responses other than 429 are
// returned immediately as *StatusError.
func (nm *AsyncNetworkManager) Get(ctx context.Context, urlStr string, params map[string]string, headers map[string]string) ([]byte, error) {
	reqURL, err := url.Parse(urlStr)
	if err != nil {
		return nil, err
	}

	q := reqURL.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	reqURL.RawQuery = q.Encode()
	finalURL := reqURL.String()

	maxRetries := nm.Config.Network.MaxRetries
	var lastErr error

	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			delay := time.Duration(i*i) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := nm.Limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, err := nm.do(ctx, finalURL, headers)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if se, ok := err.(*StatusError); ok && se.StatusCode != http.StatusTooManyRequests && se.StatusCode < 500 {
			return nil, err
		}
		nm.Logger.Info("Request failed (attempt %d/%d): %v", i+1, maxRetries+1, err)
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (nm *AsyncNetworkManager) do(ctx context.Context, finalURL string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", nm.Config.Network.UserAgent)
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := nm.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: body}
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
