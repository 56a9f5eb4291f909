// Package vision is the boundary to the pretrained image models. The
// classifier core only ever sees fixed-length embedding vectors; how
// they are produced (local feature extraction or a remote inference
// endpoint) is an implementation detail behind the Embedder interface.
package vision

import (
	"context"
	"errors"
	"fmt"
)

// Common errors
var (
	ErrInvalidImage = errors.New("vision: undecodable image")
)

// Embedder converts raw image bytes to a fixed-length vector.
type Embedder interface {
	// Embed converts one image to its embedding vector. Returns
	// ErrInvalidImage when the bytes cannot be decoded as an image.
	Embed(ctx context.Context, imageBytes []byte) ([]float32, error)

	// Dimensions returns the vector dimensionality.
	Dimensions() int

	// Name identifies the embedder.
	Name() string
}

// New creates an embedder from a provider name. Supported providers are
// "histogram" (local, deterministic) and "http" (remote inference
// endpoint).
func New(provider, endpoint string, dims int) (Embedder, error) {
	switch provider {
	case "", "histogram":
		return NewHistogram(dims), nil
	case "http":
		if endpoint == "" {
			return nil, fmt.Errorf("vision: http embedder requires an endpoint")
		}
		return NewHTTPEmbedder(endpoint, dims), nil
	default:
		return nil, fmt.Errorf("vision: unknown embedder provider %q", provider)
	}
}
