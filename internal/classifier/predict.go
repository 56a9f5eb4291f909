package classifier

import "math"

// distEpsilon keeps inverse-distance weights finite when a query vector
// matches a stored example exactly.
const distEpsilon = 1e-9

// Predict classifies a vector against the dataset using an
// inverse-squared-distance weighted vote over every stored example.
// Votes are aggregated per label and normalized so the returned
// confidences sum to 1. Returns the highest-confidence label.
func (d Dataset) Predict(vec []float32) (string, map[string]float64, error) {
	if d.NumClasses() == 0 {
		return "", nil, WrapError("Predict", ErrNoClasses)
	}
	if dim := d.Dimensions(); dim != len(vec) {
		return "", nil, WrapError("Predict", ErrDimMismatch)
	}

	votes := make(map[string]float64, len(d.order))
	var total float64
	for _, label := range d.order {
		for _, example := range d.examples[label] {
			w := 1 / (squaredDistance(vec, example) + distEpsilon)
			votes[label] += w
			total += w
		}
	}

	best := ""
	bestScore := math.Inf(-1)
	for _, label := range d.order {
		votes[label] /= total
		if votes[label] > bestScore {
			best = label
			bestScore = votes[label]
		}
	}

	return best, votes, nil
}

// squaredDistance computes the squared euclidean distance between two
// vectors of equal length.
func squaredDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		diff := float64(a[i]) - float64(b[i])
		sum += diff * diff
	}
	return sum
}
