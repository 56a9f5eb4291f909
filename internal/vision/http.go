package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPEmbedder calls a remote inference endpoint that accepts raw image
// bytes and returns a JSON embedding vector:
//
//	POST <endpoint>  body: image bytes
//	200: {"embedding": [0.1, 0.2, ...]}
//	422: undecodable input
type HTTPEmbedder struct {
	endpoint string
	dims     int
	client   *http.Client
}

// NewHTTPEmbedder creates an embedder backed by a remote inference
// endpoint producing dims-length vectors.
func NewHTTPEmbedder(endpoint string, dims int) *HTTPEmbedder {
	return &HTTPEmbedder{
		endpoint: endpoint,
		dims:     dims,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Embed posts the image to the inference endpoint.
func (e *HTTPEmbedder) Embed(ctx context.Context, imageBytes []byte) ([]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(imageBytes))
	if err != nil {
		return nil, fmt.Errorf("vision: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vision: embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnprocessableEntity {
		return nil, fmt.Errorf("%w: rejected by inference endpoint", ErrInvalidImage)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("vision: embedding endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("vision: decode embedding response: %w", err)
	}
	if e.dims > 0 && len(out.Embedding) != e.dims {
		return nil, fmt.Errorf("vision: expected %d dimensions, got %d", e.dims, len(out.Embedding))
	}

	return out.Embedding, nil
}

// Dimensions returns the vector dimensionality.
func (e *HTTPEmbedder) Dimensions() int {
	return e.dims
}

// Name identifies the embedder.
func (e *HTTPEmbedder) Name() string {
	return "http"
}
