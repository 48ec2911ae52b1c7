// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package completions

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// =============================================================================
// NDJSON READER
// =============================================================================

// MaxLineSize is the maximum accepted length of one NDJSON line (1MB).
const MaxLineSize = 1024 * 1024

// StreamReader parses newline-delimited JSON chunks from a response
// body. Lines that are blank, oversized, or fail to decode are skipped;
// the reader only fails on transport-level read errors.
type StreamReader struct {
	reader *bufio.Reader
}

// NewStreamReader wraps r for NDJSON chunk reading.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{
		reader: bufio.NewReader(r),
	}
}

// Next returns the next decodable chunk. Returns io.EOF when the
// stream ends cleanly (including a final unterminated line).
func (s *StreamReader) Next() (StreamChunk, error) {
	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return StreamChunk{}, err
		}

		atEOF := err == io.EOF
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if atEOF {
				return StreamChunk{}, io.EOF
			}
			continue
		}
		if len(line) > MaxLineSize {
			debugLog.Printf("skipping oversized line: %d bytes", len(line))
			if atEOF {
				return StreamChunk{}, io.EOF
			}
			continue
		}

		var chunk StreamChunk
		if decodeErr := json.Unmarshal(line, &chunk); decodeErr != nil {
			// Skip malformed lines rather than killing the stream
			debugLog.Printf("skipping undecodable line: %v", decodeErr)
			if atEOF {
				return StreamChunk{}, io.EOF
			}
			continue
		}

		return chunk, nil
	}
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// ChatStream performs a streaming completion request, invoking callback
// once per decoded chunk in order. It returns once a chunk carries a
// finish_reason, the body ends, or the context is cancelled.
//
// Transient failures before any content was delivered are retried with
// backoff; once content has reached the callback a failure is returned
// as a *StreamError carrying the partial text, since replaying the
// stream would duplicate what the caller already consumed.
func (c *Client) ChatStream(ctx context.Context, messages []ChatMessage, callback StreamCallback) error {
	if len(messages) == 0 {
		return errors.New("no messages to send")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	bodyBytes, err := json.Marshal(ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	var delivered strings.Builder

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/x-ndjson")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if IsCancellation(err) || ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxErrorBodySize))
			resp.Body.Close()
			apiErr := c.handleErrorResponse(resp.StatusCode, body)
			// Client errors are not transient
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return apiErr
			}
			lastErr = apiErr
			continue
		}

		wrapped := func(chunk StreamChunk) {
			delivered.WriteString(chunk.GetContent())
			callback(chunk)
		}
		err = c.processStream(ctx, resp.Body, wrapped)
		resp.Body.Close()

		if err == nil {
			return nil
		}
		if IsCancellation(err) {
			return err
		}
		if delivered.Len() > 0 {
			// Content already reached the caller; retrying would
			// replay it.
			return &StreamError{Partial: delivered.String(), Err: err}
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("max retries exceeded: %w", lastErr)
	}
	return errors.New("max retries exceeded")
}

// processStream drains the NDJSON body until a terminal chunk or EOF.
// Choiceless chunks are passed through so the caller can surface the
// condition; they never end the stream.
func (c *Client) processStream(ctx context.Context, body io.Reader, callback StreamCallback) error {
	reader := NewStreamReader(body)
	sawChunk := false
	warnedNoChoices := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		chunk, err := reader.Next()
		if err != nil {
			if err == io.EOF {
				if !sawChunk {
					return ErrEmptyStream
				}
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		if !chunk.HasChoices() && !warnedNoChoices {
			warnedNoChoices = true
			debugLog.Printf("chunk %s carried no choices", chunk.ID)
		}

		sawChunk = true
		callback(chunk)

		if chunk.IsDone() {
			return nil
		}
	}
}

// =============================================================================
// ACCUMULATED RESPONSE
// =============================================================================

// ChatStreamAccumulate streams a completion and returns the full text.
// Used where progress chunks are irrelevant, such as title derivation.
// Because nothing is shown incrementally, the configured timeout bounds
// the whole exchange.
func (c *Client) ChatStreamAccumulate(ctx context.Context, messages []ChatMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var accumulated strings.Builder

	err := c.ChatStream(ctx, messages, func(chunk StreamChunk) {
		accumulated.WriteString(chunk.GetContent())
	})
	if err != nil {
		var streamErr *StreamError
		if errors.As(err, &streamErr) && streamErr.Partial != "" {
			return streamErr.Partial, err
		}
		return accumulated.String(), err
	}

	return accumulated.String(), nil
}
