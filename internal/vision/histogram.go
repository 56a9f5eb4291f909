package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
)

// DefaultDimensions is the histogram embedding size: three color
// channels quantized into equal-width bins.
const DefaultDimensions = 192

// Histogram is a local, deterministic embedder. It quantizes each RGB
// channel into bins and L2-normalizes the combined histogram, so images
// with similar color distributions land close together. It stands in
// for a remote pretrained extractor in development and tests.
type Histogram struct {
	dims int
}

// NewHistogram creates a histogram embedder. dims must be divisible by
// 3; non-positive values fall back to DefaultDimensions.
func NewHistogram(dims int) *Histogram {
	if dims <= 0 || dims%3 != 0 {
		dims = DefaultDimensions
	}
	return &Histogram{dims: dims}
}

// Embed decodes the image and computes its normalized color histogram.
func (h *Histogram) Embed(ctx context.Context, imageBytes []byte) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	binsPerChannel := h.dims / 3
	hist := make([]float32, h.dims)
	bounds := img.Bounds()

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			hist[bin(r, binsPerChannel)]++
			hist[binsPerChannel+bin(g, binsPerChannel)]++
			hist[2*binsPerChannel+bin(b, binsPerChannel)]++
		}
	}

	return normalize(hist), nil
}

// Dimensions returns the vector dimensionality.
func (h *Histogram) Dimensions() int {
	return h.dims
}

// Name identifies the embedder.
func (h *Histogram) Name() string {
	return "histogram"
}

// bin maps a 16-bit color channel value onto a histogram bin index.
func bin(channel uint32, bins int) int {
	idx := int(channel) * bins / 0x10000
	if idx >= bins {
		idx = bins - 1
	}
	return idx
}

// normalize scales a vector to unit length. A zero vector is returned
// unchanged.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}
