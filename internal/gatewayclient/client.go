// Package gatewayclient registers issued API keys with the API gateway.
package gatewayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.uber.org/zap"
)

const (
	apiKeysPath       = "/veil/api/keys"
	defaultTimeout    = 5 * time.Second
	defaultMaxRetries = 3
	defaultBaseDelay  = 100 * time.Millisecond
	defaultMaxDelay   = 2 * time.Second
	jitterFactor      = 0.1
	maxErrorBodyBytes = 512
)

// ErrGatewayRejected reports a non-retryable gateway response.
var ErrGatewayRejected = errors.New("gateway rejected request")

// Config describes how to reach the gateway.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Client calls the gateway key registry through a retry policy.
type Client struct {
	baseURL    string
	httpClient *http.Client
	executor   failsafe.Executor[*http.Response]
	logger     *zap.Logger
}

type apiKeyPayload struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

type registerRequest struct {
	Path    string          `json:"path"`
	APIKeys []apiKeyPayload `json:"api_keys"`
}

type deleteRequest struct {
	Path   string `json:"path"`
	APIKey string `json:"api_key"`
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("gateway base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	if cfg.MaxDelay <= cfg.BaseDelay {
		cfg.MaxDelay = 2 * cfg.BaseDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	retry := retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(jitterFactor).
		HandleIf(shouldRetry).
		OnRetry(func(event failsafe.ExecutionEvent[*http.Response]) {
			logger.Warn("gateway call retry", zap.Int("attempt", event.Attempts()), zap.Error(event.LastError()))
		}).
		Build()
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		executor:   failsafe.With(retry),
		logger:     logger,
	}, nil
}

// RegisterAPIKey attaches key to the gateway route for apiPath.
func (client *Client) RegisterAPIKey(ctx context.Context, apiPath string, key string, name string) error {
	return client.send(ctx, http.MethodPost, registerRequest{
		Path:    apiPath,
		APIKeys: []apiKeyPayload{{Key: key, Name: name}},
	})
}

// DeleteAPIKey detaches key from the gateway route for apiPath.
func (client *Client) DeleteAPIKey(ctx context.Context, apiPath string, key string) error {
	return client.send(ctx, http.MethodDelete, deleteRequest{Path: apiPath, APIKey: key})
}

func (client *Client) send(ctx context.Context, method string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("gateway encode: %w", err)
	}
	endpoint := client.baseURL + apiKeysPath
	response, err := client.executor.WithContext(ctx).Get(func() (*http.Response, error) {
		request, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		request.Header.Set("Content-Type", "application/json")
		response, err := client.httpClient.Do(request)
		if err != nil {
			return nil, err
		}
		if shouldRetry(response, nil) {
			drain(response)
		}
		return response, nil
	})
	if err != nil {
		if response != nil {
			drain(response)
		}
		return fmt.Errorf("gateway %s %s: %w", method, apiKeysPath, err)
	}
	defer drain(response)
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		detail, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
		return fmt.Errorf("%w: %s %s returned %d: %s", ErrGatewayRejected, method, apiKeysPath, response.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

// shouldRetry retries transport errors, server errors and rate limits.
func shouldRetry(response *http.Response, err error) bool {
	if err != nil || response == nil {
		return true
	}
	switch response.StatusCode {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

func drain(response *http.Response) {
	if response == nil || response.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, response.Body)
	_ = response.Body.Close()
}
