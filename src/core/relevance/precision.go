// Package relevance holds relevance judgments and the ranking metrics computed from them.
package relevance

import "rageval/src/infrastructure/apperr"

// PrecisionAtK returns p where p[k] is the fraction of r[0..k] judged Relevant.
// Unknown entries count toward the denominator but never the numerator.
func PrecisionAtK(r []Judgment) ([]float64, error) {
	if len(r) == 0 {
		return nil, apperr.New(apperr.InvalidArgument, "ranking must contain at least one judgment")
	}

	p := make([]float64, len(r))
	relevant := 0
	for k, j := range r {
		if j == Relevant {
			relevant++
		}
		p[k] = float64(relevant) / float64(k+1)
	}
	return p, nil
}

// CountUnknown returns how many entries of r have no usable judgment.
func CountUnknown(r []Judgment) int {
	n := 0
	for _, j := range r {
		if j == Unknown {
			n++
		}
	}
	return n
}
