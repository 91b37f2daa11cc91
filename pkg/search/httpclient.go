package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/probelab/delver/pkg/faults"
)

// maxResponseBytes caps how much of a provider response is read. Anything
// larger is truncated rather than buffered without bound.
const maxResponseBytes = 10 << 20

const defaultBackendTimeout = 30 * time.Second

// fetch performs one HTTP call and returns the (size-capped) response body.
// Transport failures and non-2xx statuses come back as taxonomy errors, so
// the retry and breaker layers can classify them without touching net/http.
func fetch(ctx context.Context, client *http.Client, op, method, url string, headers map[string]string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, faults.Transformation(op, fmt.Errorf("encoding request: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, faults.Transformation(op, fmt.Errorf("building request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, faults.FromNetError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain a little so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, faults.FromHTTPStatus(op, resp.StatusCode, resp.Header.Get("Retry-After"))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, faults.FromNetError(op, err)
	}
	return data, nil
}

// decodeJSON unmarshals a provider response, normalizing failures to
// TransformationError.
func decodeJSON(op string, data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return faults.Transformation(op, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

// newHTTPClient builds the per-backend client with the configured timeout.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultBackendTimeout
	}
	return &http.Client{Timeout: timeout}
}

// truncate shortens content fields to keep hits bounded.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}
