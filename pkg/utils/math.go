package utils

import "math"

// NormEpsilon keeps NormalizeL2 finite for all-zero vectors.
const NormEpsilon = 1e-12

// NormalizeL2 divides x in place by its L2 norm plus NormEpsilon.
// An all-zero slice stays all zero.
func NormalizeL2(x []float32) {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	denom := math.Sqrt(sum) + NormEpsilon
	for i := range x {
		x[i] = float32(float64(x[i]) / denom)
	}
}

// L2Norm returns the Euclidean length of x.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// InnerProduct returns the inner product of two vectors, which equals cosine
// similarity for normalized vectors. Mismatched or empty inputs give 0.
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}
