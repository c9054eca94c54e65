package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
)

// postJSON sends body as JSON and decodes the response into out regardless
// of status, so callers can surface the backend's own error message. It
// returns the HTTP status code.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response (HTTP %d): %w", resp.StatusCode, err)
	}
	return resp.StatusCode, nil
}

// backendError is implemented by response bodies that carry the backend's
// own error message.
type backendError interface {
	errorMessage() string
}

// call posts body and decodes into out, turning a non-2xx status into an
// error that carries the backend's message when it sent one.
func call(ctx context.Context, client *http.Client, url string, headers map[string]string, body any, out backendError) error {
	status, err := postJSON(ctx, client, url, headers, body, out)
	if err != nil {
		return err
	}
	if status >= 200 && status < 300 {
		return nil
	}
	if msg := out.errorMessage(); msg != "" {
		return fmt.Errorf("HTTP %d: %s", status, msg)
	}
	return fmt.Errorf("HTTP %d", status)
}

// normalizeL2 scales v in place to unit length so dot products equal
// cosine similarity. Zero vectors are left unchanged.
func normalizeL2(v []float32) {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return
	}
	n := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / n)
	}
}
