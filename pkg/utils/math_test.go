package utils

import (
	"math"
	"testing"
)

func TestNormalizeL2(t *testing.T) {
	x := []float32{3, 4}
	NormalizeL2(x)
	if math.Abs(float64(x[0])-0.6) > 1e-6 || math.Abs(float64(x[1])-0.8) > 1e-6 {
		t.Errorf("got %v", x)
	}
	if n := L2Norm(x); math.Abs(n-1) > 1e-6 {
		t.Errorf("norm = %f", n)
	}
}

func TestNormalizeL2_zero(t *testing.T) {
	x := []float32{0, 0, 0}
	NormalizeL2(x)
	for i, v := range x {
		if v != 0 || math.IsNaN(float64(v)) {
			t.Errorf("x[%d] = %v", i, v)
		}
	}
}

func TestInnerProduct(t *testing.T) {
	if got := InnerProduct([]float32{1, 2}, []float32{3, 4}); got != 11 {
		t.Errorf("got %f", got)
	}
	if got := InnerProduct([]float32{1}, []float32{1, 2}); got != 0 {
		t.Errorf("mismatched lengths: got %f", got)
	}
}
