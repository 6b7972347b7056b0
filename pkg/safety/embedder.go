package safety

import (
	"crypto/sha512"
	"math"

	"golang.org/x/text/unicode/norm"
)

// Embedder maps texts to fixed-size vectors. Implementations must be
// deterministic: the semantic screen is part of the governed turn and has
// to replay bit-for-bit.
type Embedder interface {
	Embed(texts []string) [][]float64
}

// LocalEmbedder derives 64-dim pseudo-embeddings from the SHA-512 digest
// of the NFC-normalized text. Byte values are shifted to roughly zero-mean
// so cosine similarity between unrelated texts stays low.
type LocalEmbedder struct{}

func (LocalEmbedder) Embed(texts []string) [][]float64 {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		sum := sha512.Sum512([]byte(norm.NFC.String(t)))
		vec := make([]float64, len(sum))
		for j, b := range sum {
			vec[j] = float64(b)/255.0 - 0.5
		}
		out[i] = vec
	}
	return out
}

func normalize(vec []float64) []float64 {
	var n float64
	for _, v := range vec {
		n += v * v
	}
	n = math.Sqrt(n) + 1e-9
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = v / n
	}
	return out
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
