package evaluation

import "rageval/src/infrastructure/apperr"

// CenterEmbeddings subtracts the column-wise mean from every vector so that
// two point clouds embedded separately overlap when plotted together.
// The input is left untouched.
func CenterEmbeddings(vectors [][]float32) ([][]float32, error) {
	if len(vectors) == 0 {
		return [][]float32{}, nil
	}

	dim := len(vectors[0])
	mean := make([]float64, dim)
	for i, v := range vectors {
		if len(v) != dim {
			return nil, apperr.Newf(apperr.InvalidArgument, "vector %d has dimension %d, want %d", i, len(v), dim)
		}
		for j, x := range v {
			mean[j] += float64(x)
		}
	}
	for j := range mean {
		mean[j] /= float64(len(vectors))
	}

	centered := make([][]float32, len(vectors))
	for i, v := range vectors {
		c := make([]float32, dim)
		for j, x := range v {
			c[j] = float32(float64(x) - mean[j])
		}
		centered[i] = c
	}

	return centered, nil
}
