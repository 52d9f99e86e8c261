// Package vectorindex builds in-memory cosine-similarity indexes over
// demonstration pools. An index is immutable after construction; changing
// the pool means building a new index.
package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/dsp/internal/backend"
	"github.com/kalambet/dsp/internal/cache"
	"github.com/kalambet/dsp/internal/primitives"
)

const embedConcurrency = 4

// Index maps pool positions to embedding vectors. Entry order follows the
// pool, which is what makes tie-breaking by pool order stable.
type Index struct {
	pool    []primitives.Example
	vectors [][]float32
	norms   []float64
}

// Hit is one nearest-neighbor result.
type Hit struct {
	Example primitives.Example
	Score   float64
}

// Build embeds the named field of every pool Example and returns the
// finished index. Fails with ErrEmbedding if the field is absent on any
// Example or the vectorizer rejects it.
func Build(ctx context.Context, pool []primitives.Example, field string, vec backend.Vectorizer) (*Index, error) {
	texts := make([]string, len(pool))
	for i, ex := range pool {
		text, err := ex.Field(field)
		if err != nil {
			return nil, primitives.StageErrorf("demonstrate", ex.ID(),
				fmt.Errorf("indexing field %q: %w", field, primitives.ErrEmbedding))
		}
		texts[i] = text
	}

	vectors := make([][]float32, len(pool))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	for i, text := range texts {
		g.Go(func() error {
			v, err := vec.Embed(gCtx, text)
			if err != nil {
				return primitives.StageErrorf("demonstrate", pool[i].ID(),
					fmt.Errorf("embedding pool entry %d: %v: %w", i, err, primitives.ErrEmbedding))
			}
			vectors[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	norms := make([]float64, len(vectors))
	for i, v := range vectors {
		norms[i] = norm(v)
	}

	return &Index{pool: pool, vectors: vectors, norms: norms}, nil
}

// Len returns the number of indexed Examples.
func (idx *Index) Len() int { return len(idx.pool) }

// Search returns the k entries most similar to the query vector, highest
// similarity first. Ties keep original pool order. k larger than the pool
// returns the whole pool ranked.
func (idx *Index) Search(query []float32, k int) []Hit {
	qNorm := norm(query)

	scored := make([]Hit, len(idx.pool))
	for i := range idx.pool {
		scored[i] = Hit{
			Example: idx.pool[i],
			Score:   cosine(query, qNorm, idx.vectors[i], idx.norms[i]),
		}
	}

	// Stable sort preserves pool order among equal scores.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k]
}

func norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// cosine computes dot(a,b) / (aNorm * bNorm) with precomputed norms.
func cosine(a []float32, aNorm float64, b []float32, bNorm float64) float64 {
	if len(a) != len(b) || aNorm == 0 || bNorm == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (aNorm * bNorm)
}

// Builder memoizes one Index per pool identity so repeated knn selection
// over the same training pool pays the embedding cost once. Builder is the
// only mutable piece of the index layer and serializes its own writes.
type Builder struct {
	mu    sync.Mutex
	built map[string]*Index
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{built: make(map[string]*Index)}
}

// For returns the memoized index for the pool, building it on first use.
// Pool identity is the fingerprint of Example IDs in order plus the
// indexed field and vectorizer name.
func (b *Builder) For(ctx context.Context, pool []primitives.Example, field string, vec backend.Vectorizer) (*Index, error) {
	ids := make([]string, len(pool))
	for i, ex := range pool {
		ids[i] = ex.ID()
	}
	key := cache.Fingerprint("vectorindex", vec.Name(), field, ids)

	b.mu.Lock()
	defer b.mu.Unlock()
	if idx, ok := b.built[key]; ok {
		return idx, nil
	}

	idx, err := Build(ctx, pool, field, vec)
	if err != nil {
		return nil, err
	}
	b.built[key] = idx
	return idx, nil
}
