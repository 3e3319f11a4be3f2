package embedding

import (
	"context"
	"math"
)

// Embedder turns text into a vector. Implementations must return a non-empty
// vector or an error; an empty result is never a valid success.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// EmbedderFunc adapts a function to the Embedder interface.
type EmbedderFunc func(ctx context.Context, text string) ([]float64, error)

// Embed implements Embedder.
func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float64, error) { return f(ctx, text) }

// Normalize returns v scaled to unit L2 norm. A zero vector maps to a zero
// vector of the same length.
func Normalize(v []float64) []float64 {
	out := make([]float64, len(v))
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return out
	}
	n := math.Sqrt(sum)
	for i, x := range v {
		out[i] = x / n
	}
	return out
}

// Dot returns the dot product of a and b, or 0 when their lengths differ.
func Dot(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Sum returns the element-wise sum of vectors. It reports false when the
// input is empty or the dimensions do not agree.
func Sum(vs [][]float64) ([]float64, bool) {
	if len(vs) == 0 {
		return nil, false
	}
	dim := len(vs[0])
	out := make([]float64, dim)
	for _, v := range vs {
		if len(v) != dim {
			return nil, false
		}
		for i, x := range v {
			out[i] += x
		}
	}
	return out, true
}
