package corpus

import (
	"context"
	"fmt"

	"github.com/kalambet/dsp/internal/backend"
)

// Retriever combines a vectorizer and the passage store into the RM
// capability: it embeds the query and returns the top-k passages.
type Retriever struct {
	vectorizer backend.Vectorizer
	store      *Store
}

// NewRetriever creates a Retriever over the given store.
func NewRetriever(vectorizer backend.Vectorizer, store *Store) *Retriever {
	return &Retriever{vectorizer: vectorizer, store: store}
}

// Name identifies the retriever for cache fingerprinting.
func (r *Retriever) Name() string { return "corpus/" + r.vectorizer.Name() }

// Search implements backend.RM.
func (r *Retriever) Search(ctx context.Context, query string, k int) ([]backend.Passage, error) {
	vec, err := r.vectorizer.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	scored, err := r.store.Search(vec, k)
	if err != nil {
		return nil, fmt.Errorf("searching corpus: %w", err)
	}

	out := make([]backend.Passage, len(scored))
	for i, sp := range scored {
		out[i] = backend.Passage{
			Text:  sp.Text,
			Title: sp.Title,
			Score: float64(sp.Score),
		}
	}
	return out, nil
}

var _ backend.RM = (*Retriever)(nil)
