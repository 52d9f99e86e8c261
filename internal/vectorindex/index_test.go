package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/kalambet/dsp/internal/primitives"
)

// axisVectorizer maps known strings to fixed unit vectors so similarity
// ranking is fully predictable.
type axisVectorizer struct {
	vectors map[string][]float32
	calls   atomic.Int64
}

func (v *axisVectorizer) Name() string { return "axis-test" }

func (v *axisVectorizer) Embed(_ context.Context, text string) ([]float32, error) {
	v.calls.Add(1)
	vec, ok := v.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", text)
	}
	return vec, nil
}

func makePool(t *testing.T, questions ...string) []primitives.Example {
	t.Helper()
	pool := make([]primitives.Example, len(questions))
	for i, q := range questions {
		pool[i] = primitives.MustExample(primitives.Schema{}, map[string]any{"question": q})
	}
	return pool
}

func TestSearch_RanksByCosine(t *testing.T) {
	vec := &axisVectorizer{vectors: map[string][]float32{
		"x":    {1, 0, 0},
		"y":    {0, 1, 0},
		"xy":   {1, 1, 0},
		"near": {0.9, 0.1, 0},
	}}
	pool := makePool(t, "y", "xy", "near")

	idx, err := Build(context.Background(), pool, "question", vec)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	hits := idx.Search([]float32{1, 0, 0}, 2)
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	first, _ := hits[0].Example.Field("question")
	second, _ := hits[1].Example.Field("question")
	if first != "near" || second != "xy" {
		t.Errorf("ranking = [%s %s], want [near xy]", first, second)
	}

	// Greedy top-k: every returned score >= any excluded score.
	all := idx.Search([]float32{1, 0, 0}, 3)
	if hits[1].Score < all[2].Score {
		t.Errorf("excluded member outranks included: %f < %f", hits[1].Score, all[2].Score)
	}
}

func TestSearch_TiesKeepPoolOrder(t *testing.T) {
	// Two identical vectors: pool order must decide.
	vec := &axisVectorizer{vectors: map[string][]float32{
		"first":  {0, 1, 0},
		"second": {0, 1, 0},
		"other":  {1, 0, 0},
	}}
	pool := makePool(t, "first", "second", "other")

	idx, err := Build(context.Background(), pool, "question", vec)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	hits := idx.Search([]float32{0, 1, 0}, 2)
	a, _ := hits[0].Example.Field("question")
	b, _ := hits[1].Example.Field("question")
	if a != "first" || b != "second" {
		t.Errorf("tie order = [%s %s], want [first second]", a, b)
	}
}

func TestBuild_EmbeddingFailure(t *testing.T) {
	vec := &axisVectorizer{vectors: map[string][]float32{}}
	pool := makePool(t, "unknown")

	_, err := Build(context.Background(), pool, "question", vec)
	if !errors.Is(err, primitives.ErrEmbedding) {
		t.Fatalf("expected ErrEmbedding, got %v", err)
	}
}

func TestBuild_MissingFieldIsEmbeddingError(t *testing.T) {
	vec := &axisVectorizer{vectors: map[string][]float32{}}
	pool := []primitives.Example{
		primitives.MustExample(primitives.Schema{}, map[string]any{"answer": "no question"}),
	}

	_, err := Build(context.Background(), pool, "question", vec)
	if !errors.Is(err, primitives.ErrEmbedding) {
		t.Fatalf("expected ErrEmbedding, got %v", err)
	}
}

func TestBuilder_MemoizesPerPool(t *testing.T) {
	vec := &axisVectorizer{vectors: map[string][]float32{
		"a": {1, 0},
		"b": {0, 1},
	}}
	pool := makePool(t, "a", "b")
	b := NewBuilder()

	first, err := b.For(context.Background(), pool, "question", vec)
	if err != nil {
		t.Fatalf("For: %v", err)
	}
	callsAfterBuild := vec.calls.Load()

	second, err := b.For(context.Background(), pool, "question", vec)
	if err != nil {
		t.Fatalf("For (memoized): %v", err)
	}

	if first != second {
		t.Error("expected the memoized index instance")
	}
	if vec.calls.Load() != callsAfterBuild {
		t.Errorf("vectorizer called again on memoized pool: %d -> %d",
			callsAfterBuild, vec.calls.Load())
	}
}
