package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
)

// DefaultHashDimensions matches the width of the hosted embedding models.
const DefaultHashDimensions = 1536

// HashEmbedder produces deterministic pseudo embeddings: the SHA-256 digest
// of the text seeds a Gaussian generator, and the resulting vector is
// normalised. Identical texts map to identical vectors; different texts are
// close to orthogonal. It never fails and needs no network.
type HashEmbedder struct {
	Dimensions int
}

// NewHashEmbedder returns a HashEmbedder with the given dimensions (or the
// default when dims <= 0).
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	return &HashEmbedder{Dimensions: dims}
}

// Embed implements Embedder.
func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	dims := h.Dimensions
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	digest := sha256.Sum256([]byte(text))
	seed := int64(binary.BigEndian.Uint64(digest[:8]))
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // deterministic by construction

	v := make([]float64, dims)
	for i := range v {
		v[i] = rng.NormFloat64()
	}
	return Normalize(v), nil
}
