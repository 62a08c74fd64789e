package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/dataengine/core/internal/domain"
)

// LocalDimensions is the fixed width of every vector this engine produces or
// indexes (§6).
const LocalDimensions = 384

// minGram and maxGram bound the character n-grams hashed into the feature
// space. Short n-grams keep the provider robust to typos and short property
// values; 3-5 mirrors what subword tokenizers see in practice.
const (
	minGram = 3
	maxGram = 5
)

// epsilon floors the L2 norm so normalizing an all-zero vector (an empty or
// whitespace-only rendering) cannot divide by zero.
const epsilon = 1e-9

// LocalProvider is the default embedding provider: a pure function of its
// input text with no I/O beyond construction, required by the resource-
// scoping rule that the embedding model be a cheaply constructible
// singleton. It stands in for a WordPiece+MiniLM pipeline (no Go ONNX or
// transformer runtime exists to run one) with hashed character n-gram
// feature hashing, mean-pooled and L2-normalized into a 384-dim vector.
type LocalProvider struct{}

// NewLocalProvider constructs the default embedding provider. Construction
// never fails and never performs I/O.
func NewLocalProvider() *LocalProvider { return &LocalProvider{} }

// Embed implements domain.EmbeddingProvider.
func (p *LocalProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = embedOne(t)
	}
	return out, nil
}

// Dimensions implements domain.EmbeddingProvider.
func (p *LocalProvider) Dimensions() int { return LocalDimensions }

// Name implements domain.EmbeddingProvider.
func (p *LocalProvider) Name() string { return "local" }

func embedOne(text string) []float32 {
	var vec [LocalDimensions]float64
	var count int

	norm := strings.ToLower(strings.TrimSpace(text))
	for n := minGram; n <= maxGram; n++ {
		for _, gram := range charGrams(norm, n) {
			bucket, sign := hashGram(gram)
			vec[bucket] += sign
			count++
		}
	}

	if count > 0 {
		for i := range vec {
			vec[i] /= float64(count)
		}
	}

	return l2Normalize(vec)
}

func charGrams(s string, n int) []string {
	r := []rune(s)
	if len(r) < n {
		if len(r) == 0 {
			return nil
		}
		return []string{string(r)}
	}
	grams := make([]string, 0, len(r)-n+1)
	for i := 0; i+n <= len(r); i++ {
		grams = append(grams, string(r[i:i+n]))
	}
	return grams
}

// hashGram maps a gram to a feature bucket and a +1/-1 sign, the standard
// feature-hashing trick that keeps collisions from biasing the sum.
func hashGram(gram string) (int, float64) {
	h := fnv.New64a()
	h.Write([]byte(gram))
	sum := h.Sum64()
	bucket := int(sum % uint64(LocalDimensions))
	if sum&(1<<63) != 0 {
		return bucket, -1
	}
	return bucket, 1
}

func l2Normalize(vec [LocalDimensions]float64) []float32 {
	var sumSq float64
	for _, v := range vec {
		sumSq += v * v
	}
	norm := math.Sqrt(sumSq)
	if norm < epsilon {
		norm = epsilon
	}

	out := make([]float32, LocalDimensions)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

var _ domain.EmbeddingProvider = (*LocalProvider)(nil)
