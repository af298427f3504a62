package classifiers

import (
	"fmt"
)

type postprocessOptions struct {
	trailingMask [][]bool
}

// PostprocessOption customizes label post-processing.
type PostprocessOption func(o *postprocessOptions)

// WithTrailingMask supplies the trailing subword mask produced during
// encoding and requests that continuation fragments be dropped, collapsing
// predictions to one label per original word.
func WithTrailingMask(mask [][]bool) PostprocessOption {
	return func(o *postprocessOptions) {
		o.trailingMask = mask
	}
}

// PostprocessTokenIDs strips padding positions from each predicted row
// independently, then optionally drops trailing subword positions. Rows may
// end with different lengths.
func PostprocessTokenIDs(preds, inputMask [][]int64, opts ...PostprocessOption) ([][]int64, error) {
	o := &postprocessOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if len(inputMask) != len(preds) {
		return nil, fmt.Errorf("got %d mask rows for %d prediction rows", len(inputMask), len(preds))
	}
	out := make([][]int64, len(preds))
	for i, row := range preds {
		stripped := make([]int64, 0, len(row))
		var trailing []bool
		for j, p := range row {
			if inputMask[i][j] == 0 {
				continue
			}
			stripped = append(stripped, p)
			if o.trailingMask != nil {
				// trailing mask rows may carry only pre-padding positions
				keep := true
				if j < len(o.trailingMask[i]) {
					keep = o.trailingMask[i][j]
				}
				trailing = append(trailing, keep)
			}
		}
		if trailing != nil {
			kept := stripped[:0]
			for j, p := range stripped {
				if trailing[j] {
					kept = append(kept, p)
				}
			}
			stripped = kept
		}
		out[i] = stripped
	}
	return out, nil
}

// PostprocessTokenLabels additionally inverts labelMap and maps the surviving
// ids back to their label strings. An id absent from the map is an error.
func PostprocessTokenLabels(preds, inputMask [][]int64, labelMap map[string]int, opts ...PostprocessOption) ([][]string, error) {
	ids, err := PostprocessTokenIDs(preds, inputMask, opts...)
	if err != nil {
		return nil, err
	}
	inverse := make(map[int64]string, len(labelMap))
	for label, id := range labelMap {
		inverse[int64(id)] = label
	}
	out := make([][]string, len(ids))
	for i, row := range ids {
		labels := make([]string, len(row))
		for j, id := range row {
			label, found := inverse[id]
			if !found {
				return nil, fmt.Errorf("predicted label id %d is not in the label map", id)
			}
			labels[j] = label
		}
		out[i] = labels
	}
	return out, nil
}
