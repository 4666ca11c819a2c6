package utils

import (
	"errors"
	"math"
)

var (
	ErrEmptyVector       = errors.New("vectors cannot be empty")
	ErrDimensionMismatch = errors.New("vectors must have the same dimension")
)

// dotProduct calculates the dot product of two vectors of equal length.
func dotProduct(vec1, vec2 []float32) float64 {
	var product float64
	for i := range vec1 {
		product += float64(vec1[i]) * float64(vec2[i])
	}
	return product
}

// Magnitude calculates the L2 norm of a vector.
func Magnitude(vec []float32) float64 {
	var sumOfSquares float64
	for _, val := range vec {
		sumOfSquares += float64(val) * float64(val)
	}
	return math.Sqrt(sumOfSquares)
}

// CosineSimilarity returns the cosine of the angle between two vectors, in [-1, 1].
// A zero vector has similarity 0 with everything.
func CosineSimilarity(vec1, vec2 []float32) (float64, error) {
	if len(vec1) == 0 || len(vec2) == 0 {
		return 0, ErrEmptyVector
	}
	if len(vec1) != len(vec2) {
		return 0, ErrDimensionMismatch
	}

	mag1 := Magnitude(vec1)
	mag2 := Magnitude(vec2)
	if mag1 == 0 || mag2 == 0 {
		return 0, nil
	}

	sim := dotProduct(vec1, vec2) / (mag1 * mag2)
	// Rounding can push identical vectors a hair past 1.
	return math.Max(-1, math.Min(1, sim)), nil
}
