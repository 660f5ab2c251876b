package embedding

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/trendscout/backend/internal/textproc"
	"github.com/trendscout/backend/pkg/logger"
	"github.com/trendscout/backend/pkg/utils"
)

var ErrZeroVector = errors.New("zero-length vector")

// Embedder maps texts to fixed-dimension vectors, one per input, in order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Cache stores embeddings by text hash. GetEmbeddings omits misses.
type Cache interface {
	GetEmbeddings(ctx context.Context, hashes []string) (map[string][]float32, error)
	SetEmbeddings(ctx context.Context, vectors map[string][]float32, ttl time.Duration) error
}

// CachedEmbedder consults the cache before delegating misses to next in a
// single batch. Cache failures degrade to a full miss.
type CachedEmbedder struct {
	next  Embedder
	cache Cache
	model string
	ttl   time.Duration
}

func NewCachedEmbedder(next Embedder, cache Cache, model string, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{next: next, cache: cache, model: model, ttl: ttl}
}

func (e *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = utils.HashKey(e.model, text)
	}

	cached, err := e.cache.GetEmbeddings(ctx, keys)
	if err != nil {
		logger.Warn("Embedding cache read failed", zap.Error(err))
		cached = nil
	}

	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		if vec, ok := cached[keys[i]]; ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := e.next.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(missTexts))
	}

	fresh := make(map[string][]float32, len(missIdx))
	for j, i := range missIdx {
		out[i] = vecs[j]
		fresh[keys[i]] = vecs[j]
	}
	if err := e.cache.SetEmbeddings(ctx, fresh, e.ttl); err != nil {
		logger.Warn("Embedding cache write failed", zap.Error(err))
	}
	return out, nil
}

// HashingEmbedder is a deterministic bag-of-words embedder using feature
// hashing over the same tokens the profile builder uses. It needs no network
// and is used offline and in tests.
type HashingEmbedder struct {
	Dim int
}

func NewHashingEmbedder(dim int) *HashingEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &HashingEmbedder{Dim: dim}
}

func (h *HashingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec := make([]float32, h.Dim)
		for _, tok := range textproc.Tokenize(text) {
			f := fnv.New32a()
			f.Write([]byte(tok))
			sum := f.Sum32()
			sign := float32(1)
			if sum&1 == 1 {
				sign = -1
			}
			vec[int(sum>>1)%h.Dim] += sign
		}
		Normalize(vec)
		out[i] = vec
	}
	return out, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or their dimensions differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Normalize scales v in place to unit length and reports whether it was
// non-zero.
func Normalize(v []float32) bool {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return false
	}
	n := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / n)
	}
	return true
}

// WeightedMean returns the weighted average of vecs, L2-normalized.
func WeightedMean(vecs [][]float32, weights []float64) ([]float32, error) {
	if len(vecs) == 0 || len(vecs) != len(weights) {
		return nil, ErrZeroVector
	}

	dim := len(vecs[0])
	acc := make([]float64, dim)
	for i, v := range vecs {
		if len(v) != dim {
			return nil, errors.New("embedding dimensions differ")
		}
		for j, x := range v {
			acc[j] += weights[i] * float64(x)
		}
	}

	out := make([]float32, dim)
	for j := range acc {
		out[j] = float32(acc[j])
	}
	if !Normalize(out) {
		return nil, ErrZeroVector
	}
	return out, nil
}
