package stages

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/kalambet/dsp/internal/backend"
	"github.com/kalambet/dsp/internal/primitives"
	"github.com/kalambet/dsp/internal/vectorindex"
)

// Method selects how Demonstrate picks examples from the pool. The set of
// methods is closed: stages switch on it rather than dispatching openly.
type Method string

const (
	// MethodRandom draws k pool members without replacement using the
	// configured seed; same seed, same selection and order.
	MethodRandom Method = "random"
	// MethodKNN returns the k pool members nearest to the query under
	// cosine similarity over the configured query field.
	MethodKNN Method = "knn"
	// MethodFrozen returns a fixed demonstration set, bypassing
	// selection entirely. The compiler produces frozen stages.
	MethodFrozen Method = "frozen"
)

// Demonstrate selects an ordered demonstration set for one Predict call.
// The selection is recomputed per call unless the method is frozen.
type Demonstrate struct {
	Method Method
	Pool   []primitives.Example
	K      int

	// Seed drives MethodRandom.
	Seed int64

	// AllowFewer permits falling back to a smaller set when the pool
	// has fewer than K members. Off by default: the stage fails with
	// ErrInsufficientPool instead.
	AllowFewer bool

	// QueryField and Vectorizer drive MethodKNN.
	QueryField string
	Vectorizer backend.Vectorizer

	// Frozen is the fixed set MethodFrozen returns.
	Frozen []primitives.Example

	indexOnce sync.Once
	indexes   *vectorindex.Builder
}

// Select returns the demonstration set for the query Example.
func (d *Demonstrate) Select(ctx context.Context, query primitives.Example) ([]primitives.Example, error) {
	switch d.Method {
	case MethodFrozen:
		out := make([]primitives.Example, len(d.Frozen))
		copy(out, d.Frozen)
		return out, nil
	case MethodRandom:
		return d.selectRandom(query)
	case MethodKNN:
		return d.selectKNN(ctx, query)
	default:
		return nil, primitives.StageErrorf("demonstrate", query.ID(),
			fmt.Errorf("unknown method %q", d.Method))
	}
}

// effectiveK validates the pool size against K, honoring AllowFewer.
func (d *Demonstrate) effectiveK(queryID string) (int, error) {
	if len(d.Pool) >= d.K {
		return d.K, nil
	}
	if d.AllowFewer {
		return len(d.Pool), nil
	}
	return 0, primitives.StageErrorf("demonstrate", queryID,
		fmt.Errorf("pool has %d examples, need %d: %w", len(d.Pool), d.K, primitives.ErrInsufficientPool))
}

func (d *Demonstrate) selectRandom(query primitives.Example) ([]primitives.Example, error) {
	k, err := d.effectiveK(query.ID())
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(d.Seed))
	perm := rng.Perm(len(d.Pool))

	out := make([]primitives.Example, k)
	for i := 0; i < k; i++ {
		out[i] = d.Pool[perm[i]]
	}
	return out, nil
}

func (d *Demonstrate) selectKNN(ctx context.Context, query primitives.Example) ([]primitives.Example, error) {
	k, err := d.effectiveK(query.ID())
	if err != nil {
		return nil, err
	}

	field := d.QueryField
	if field == "" {
		field = "question"
	}

	text, err := query.Field(field)
	if err != nil {
		return nil, primitives.StageErrorf("demonstrate", query.ID(),
			fmt.Errorf("query field %q: %w", field, primitives.ErrEmbedding))
	}

	vector, err := d.Vectorizer.Embed(ctx, text)
	if err != nil {
		return nil, primitives.StageErrorf("demonstrate", query.ID(),
			fmt.Errorf("embedding query: %v: %w", err, primitives.ErrEmbedding))
	}

	d.indexOnce.Do(func() { d.indexes = vectorindex.NewBuilder() })
	idx, err := d.indexes.For(ctx, d.Pool, field, d.Vectorizer)
	if err != nil {
		return nil, err
	}

	hits := idx.Search(vector, k)
	out := make([]primitives.Example, len(hits))
	for i, h := range hits {
		out[i] = h.Example
	}
	return out, nil
}
