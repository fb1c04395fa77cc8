package evaluation_test

import (
	"math"
	"reflect"
	"testing"

	"rageval/src/core/evaluation"
	"rageval/src/infrastructure/apperr"
)

func TestCenterEmbeddings(t *testing.T) {
	input := [][]float32{{1, 2}, {3, 6}, {5, 10}}
	got, err := evaluation.CenterEmbeddings(input)
	if err != nil {
		t.Fatalf("CenterEmbeddings() error = %v", err)
	}

	want := [][]float32{{-2, -4}, {0, 0}, {2, 4}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("CenterEmbeddings() = %v, want %v", got, want)
	}
	if input[0][0] != 1 {
		t.Errorf("CenterEmbeddings() mutated its input")
	}

	for j := 0; j < 2; j++ {
		var sum float64
		for _, v := range got {
			sum += float64(v[j])
		}
		if math.Abs(sum) > 1e-6 {
			t.Errorf("column %d sums to %v, want 0", j, sum)
		}
	}
}

func TestCenterEmbeddingsEdgeCases(t *testing.T) {
	got, err := evaluation.CenterEmbeddings(nil)
	if err != nil || len(got) != 0 {
		t.Errorf("CenterEmbeddings(nil) = %v, %v, want empty", got, err)
	}

	if _, err := evaluation.CenterEmbeddings([][]float32{{1, 2}, {3}}); !apperr.Is(err, apperr.InvalidArgument) {
		t.Errorf("CenterEmbeddings(ragged) error = %v, want InvalidArgument", err)
	}
}
