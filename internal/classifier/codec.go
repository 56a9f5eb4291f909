package classifier

import "encoding/json"

// entry is one label's flattened example block in the transport form.
// Shape is [count, dimensions]; Values holds count*dimensions numbers
// in row-major order.
type entry struct {
	Label  string    `json:"label"`
	Values []float32 `json:"values"`
	Shape  [2]int    `json:"shape"`
}

// Encode serializes a dataset to its transport string. Labels appear in
// first-appearance order. An empty dataset encodes to an empty list.
func Encode(d Dataset) (string, error) {
	entries := make([]entry, 0, d.NumClasses())
	for _, label := range d.order {
		vecs := d.examples[label]
		if len(vecs) == 0 {
			continue
		}
		dim := len(vecs[0])
		flat := make([]float32, 0, len(vecs)*dim)
		for _, v := range vecs {
			flat = append(flat, v...)
		}
		entries = append(entries, entry{
			Label:  label,
			Values: flat,
			Shape:  [2]int{len(vecs), dim},
		})
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return "", WrapError("Encode", err)
	}
	return string(data), nil
}

// Decode reconstructs a dataset from its transport string. It rejects
// entries whose value count disagrees with their shape and datasets
// that mix dimensionalities across entries.
func Decode(serialized string) (Dataset, error) {
	var entries []entry
	if err := json.Unmarshal([]byte(serialized), &entries); err != nil {
		return Dataset{}, WrapError("Decode", ErrMalformedDataset)
	}

	d := Dataset{
		examples: make(map[string][][]float32, len(entries)),
	}

	dim := 0
	for _, e := range entries {
		count := e.Shape[0]
		entryDim := e.Shape[1]
		if count <= 0 || entryDim <= 0 || len(e.Values) != count*entryDim {
			return Dataset{}, WrapError("Decode", ErrMalformedDataset)
		}
		if dim == 0 {
			dim = entryDim
		} else if dim != entryDim {
			return Dataset{}, WrapError("Decode", ErrMalformedDataset)
		}
		if e.Label == "" {
			return Dataset{}, WrapError("Decode", ErrMalformedDataset)
		}
		if _, exists := d.examples[e.Label]; !exists {
			d.order = append(d.order, e.Label)
		}
		vecs := d.examples[e.Label]
		for row := 0; row < count; row++ {
			vec := make([]float32, entryDim)
			copy(vec, e.Values[row*entryDim:(row+1)*entryDim])
			vecs = append(vecs, vec)
		}
		d.examples[e.Label] = vecs
	}

	if len(d.examples) == 0 {
		d.examples = nil
	}
	return d, nil
}
