package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ResourceError is returned for non-transient HTTP failures, such as
// unknown resources or rejected requests.
type ResourceError struct {
	// Note: .error is the implementation of .Error, .Unwrap etc. Use
	// `ResourceError{fmt.Errorf("...: %w", err)}` to keep err in the
	// Unwrap chain.
	error
}

func (err ResourceError) Is(target error) bool {
	_, ok := target.(ResourceError)
	return ok
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	return c.getURL(ctx, c.endpoint+path)
}

func (c *Client) getURL(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.http.Do(req)
}

func (c *Client) postJSON(ctx context.Context, path string, body any) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.http.Do(req)
}

// responseOK closes the body of a failed response and classifies the
// failure. 5xx and 429 are transient, other statuses are ResourceErrors.
func responseOK(resp *http.Response, accepted ...int) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	for _, code := range accepted {
		if resp.StatusCode == code {
			return nil
		}
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if err := resp.Body.Close(); err != nil {
		return fmt.Errorf("HTTP closing body due to HTTP %d: %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return ResourceError{fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))}
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
