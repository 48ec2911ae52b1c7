// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package completions

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultBaseURL is the Hack Club AI endpoint. No API key required.
	DefaultBaseURL = "https://ai.hackclub.com"

	// DefaultTimeout bounds non-streaming requests.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the default number of attempts for
	// transient failures.
	DefaultMaxRetries = 3

	// DefaultRequestsPerMinute is the client-side send rate cap.
	DefaultRequestsPerMinute = 20

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay caps exponential backoff.
	retryMaxDelay = 10 * time.Second

	// MaxErrorBodySize bounds how much of an error response body is
	// read when reporting a non-200 status.
	MaxErrorBodySize = 64 * 1024
)

// PERFORMANCE: shared client with connection pooling for all streaming
// requests. No client timeout: stream lifetime is controlled via the
// request context.
var sharedStreamingClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
}

// debugLog writes when HACKCHAT_DEBUG is set; otherwise discards.
var debugLog = func() *log.Logger {
	if os.Getenv("HACKCHAT_DEBUG") != "" {
		return log.New(os.Stderr, "completions: ", log.LstdFlags)
	}
	return log.New(io.Discard, "", 0)
}()

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrEmptyStream indicates the stream ended without producing a
	// single decodable chunk.
	ErrEmptyStream = errors.New("stream ended without any decodable chunk")

	// ErrRateLimited indicates the server rejected the request with 429.
	ErrRateLimited = errors.New("rate limited by server")
)

// APIError is a non-200 response from the completions endpoint.
type APIError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error (status %d)", e.Status)
}

// StreamError wraps a failure that occurred mid-stream, preserving the
// content received before it.
type StreamError struct {
	Partial string
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// IsCancellation reports whether err stems from a cancelled context.
// Cancellation is user intent, not a failure, and is never surfaced as
// an error state.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// =============================================================================
// CLIENT
// =============================================================================

// Config controls client construction. Zero values take defaults.
type Config struct {
	BaseURL           string
	Model             string // empty lets the endpoint pick its default
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerMinute int
}

// Client talks to the completions endpoint.
type Client struct {
	baseURL    string
	model      string
	timeout    time.Duration
	maxRetries int
	limiter    *rate.Limiter
	httpClient *http.Client
}

// NewClient builds a client from config, filling defaults.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultRequestsPerMinute
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		limiter:    rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.RequestsPerMinute),
		httpClient: sharedStreamingClient,
	}
}

// BaseURL returns the configured endpoint base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// ERROR RESPONSE HANDLING
// =============================================================================

// apiErrorResponse is the JSON error envelope some responses carry.
type apiErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// handleErrorResponse converts a non-200 response to a Go error.
func (c *Client) handleErrorResponse(statusCode int, body []byte) error {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		if statusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Error.Message)
		}
		return &APIError{Status: statusCode, Message: apiErr.Error.Message}
	}

	if statusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	return &APIError{Status: statusCode, Message: string(body)}
}

// calculateBackoff returns the delay before the next retry attempt.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	// Exponential backoff: 500ms, 1000ms, 2000ms, ...
	delay := retryBaseDelay * time.Duration(1<<uint(attempt))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}
