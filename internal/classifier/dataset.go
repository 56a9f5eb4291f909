package classifier

// Dataset holds labeled example vectors for one trained category.
// All vectors share the same dimensionality. The zero value is usable
// as an empty dataset.
//
// Datasets are value-like: AddExample returns a new Dataset and never
// mutates the receiver's backing storage from the caller's point of
// view. Labels keep their first-appearance order so serialization is
// stable within a single encode.
type Dataset struct {
	examples map[string][][]float32
	order    []string
}

// NewDataset returns an empty dataset.
func NewDataset() Dataset {
	return Dataset{}
}

// NumClasses returns the number of distinct labels.
func (d Dataset) NumClasses() int {
	return len(d.order)
}

// Labels returns the labels in first-appearance order.
func (d Dataset) Labels() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// Examples returns the stored vectors for a label, or nil if the label
// is unknown. The returned slice must not be mutated.
func (d Dataset) Examples(label string) [][]float32 {
	return d.examples[label]
}

// NumExamples returns the total number of stored vectors across all labels.
func (d Dataset) NumExamples() int {
	n := 0
	for _, vecs := range d.examples {
		n += len(vecs)
	}
	return n
}

// Dimensions returns the vector dimensionality, or 0 for an empty dataset.
func (d Dataset) Dimensions() int {
	for _, vecs := range d.examples {
		if len(vecs) > 0 {
			return len(vecs[0])
		}
	}
	return 0
}

// AddExample appends a vector under the given label, creating the label
// if it is new, and returns the resulting dataset. The receiver is left
// unchanged.
func (d Dataset) AddExample(label string, vec []float32) (Dataset, error) {
	if label == "" {
		return d, WrapError("AddExample", ErrEmptyLabel)
	}
	if dim := d.Dimensions(); dim != 0 && dim != len(vec) {
		return d, WrapError("AddExample", ErrDimMismatch)
	}

	next := Dataset{
		examples: make(map[string][][]float32, len(d.examples)+1),
		order:    make([]string, len(d.order)),
	}
	copy(next.order, d.order)
	for l, vecs := range d.examples {
		copied := make([][]float32, len(vecs))
		copy(copied, vecs)
		next.examples[l] = copied
	}

	if _, exists := next.examples[label]; !exists {
		next.order = append(next.order, label)
	}
	stored := make([]float32, len(vec))
	copy(stored, vec)
	next.examples[label] = append(next.examples[label], stored)

	return next, nil
}

// Train applies one mistake-driven training step: the example is only
// added when the dataset is empty or currently misclassifies the vector.
// Returns the resulting dataset and whether the example was stored.
func Train(d Dataset, label string, vec []float32) (Dataset, bool, error) {
	if d.NumClasses() == 0 {
		next, err := d.AddExample(label, vec)
		if err != nil {
			return d, false, err
		}
		return next, true, nil
	}

	predicted, _, err := d.Predict(vec)
	if err != nil {
		return d, false, err
	}
	if predicted == label {
		// Already classified correctly; discard to bound growth.
		return d, false, nil
	}

	next, err := d.AddExample(label, vec)
	if err != nil {
		return d, false, err
	}
	return next, true, nil
}
