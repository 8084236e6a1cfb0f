// Package vector provides the distance and arithmetic kernels used by the
// HNSW index and the rest of VexDB.
//
// This package consolidates all vector math in one place. Use these functions
// instead of implementing your own to ensure every caller agrees on distance
// semantics (the index relies on smaller-is-better orderings derived from
// these kernels).
//
// Main Functions:
//   - Dot: dot product of two float32 vectors
//   - SquaredDistance: squared Euclidean distance (hot-path form, no sqrt)
//   - Distance: Euclidean distance
//   - CosineSimilarity: cosine of the angle between two vectors
//   - Magnitude: L2 norm
//   - Normalize / NormalizeInPlace: unit-length scaling
//   - Add / Sub / Scale / ScaleInPlace: elementwise arithmetic
//
// SIMD:
//
// The heavy kernels are backed by github.com/viterin/vek, which dispatches to
// AVX-512, AVX2, or portable scalar code at runtime depending on CPU support.
// Callers never see the choice; the exported signatures are identical on
// every platform. The unexported *Scalar functions are the portable reference
// implementations and back the equivalence tests.
package vector

import (
	"math"

	"github.com/viterin/vek/vek32"
)

// zeroMagnitude is the threshold below which a vector is treated as zero for
// cosine similarity and normalization.
const zeroMagnitude = 1e-9

// Dot returns the dot product of two float32 vectors.
//
// Both vectors must have the same length; the result for mismatched lengths
// is unspecified (callers validate dimensions before reaching the kernels).
//
// Example:
//
//	a := []float32{1, 2, 3}
//	b := []float32{4, 5, 6}
//	dot := vector.Dot(a, b) // 32
func Dot(a, b []float32) float32 {
	if len(a) == 0 {
		return 0
	}
	return vek32.Dot(a, b)
}

// SquaredDistance returns the squared Euclidean distance between a and b.
//
// This is the form the HNSW interior uses on hot paths: it preserves the
// ordering of Distance without paying for a square root per comparison.
func SquaredDistance(a, b []float32) float32 {
	if len(a) == 0 {
		return 0
	}
	d := vek32.Distance(a, b)
	return d * d
}

// Distance returns the Euclidean (L2) distance between a and b.
func Distance(a, b []float32) float32 {
	if len(a) == 0 {
		return 0
	}
	return vek32.Distance(a, b)
}

// CosineSimilarity returns the cosine of the angle between a and b, in
// [-1, 1]. If either vector's magnitude is below 1e-9 the result is 0.
//
// Example:
//
//	a := []float32{1, 0}
//	b := []float32{0, 1}
//	sim := vector.CosineSimilarity(a, b) // 0
func CosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 {
		return 0
	}
	magA := Magnitude(a)
	magB := Magnitude(b)
	if magA < zeroMagnitude || magB < zeroMagnitude {
		return 0
	}
	sim := vek32.Dot(a, b) / (magA * magB)
	// Clamp accumulated rounding error so distances stay in [0, 2].
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return sim
}

// Magnitude returns the L2 norm of v.
func Magnitude(v []float32) float32 {
	if len(v) == 0 {
		return 0
	}
	return float32(math.Sqrt(float64(vek32.Dot(v, v))))
}

// Normalize returns a unit-length copy of v. The input is not modified.
// A vector with magnitude below 1e-9 is returned as an unscaled copy.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	NormalizeInPlace(out)
	return out
}

// NormalizeInPlace scales v to unit length in place. Vectors with magnitude
// below 1e-9 are left unchanged so no NaN is introduced.
func NormalizeInPlace(v []float32) {
	mag := Magnitude(v)
	if mag < zeroMagnitude {
		return
	}
	vek32.MulNumber_Inplace(v, 1/mag)
}

// Add returns the elementwise sum a + b as a new slice.
func Add(a, b []float32) []float32 {
	if len(a) == 0 {
		return nil
	}
	return vek32.Add(a, b)
}

// Sub returns the elementwise difference a - b as a new slice.
func Sub(a, b []float32) []float32 {
	if len(a) == 0 {
		return nil
	}
	return vek32.Sub(a, b)
}

// Scale returns v scaled by s as a new slice.
func Scale(v []float32, s float32) []float32 {
	if len(v) == 0 {
		return nil
	}
	return vek32.MulNumber(v, s)
}

// ScaleInPlace scales v by s in place. The output aliases the input, which
// is the one overlap the kernel contract permits.
func ScaleInPlace(v []float32, s float32) {
	if len(v) == 0 {
		return
	}
	vek32.MulNumber_Inplace(v, s)
}
