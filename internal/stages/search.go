package stages

import (
	"context"
	"fmt"

	"github.com/kalambet/dsp/internal/backend"
	"github.com/kalambet/dsp/internal/cache"
	"github.com/kalambet/dsp/internal/primitives"
)

// Search issues one retrieval query against the RM capability and wraps
// each passage into an Example. Results keep the backend's relevance
// order; nothing is re-sorted here.
type Search struct {
	RM backend.RM
	K  int

	// Retry is the caller-supplied policy; zero value means a single
	// attempt whose failure propagates immediately.
	Retry backend.RetryPolicy

	// Cache memoizes retrieval results when set.
	Cache *cache.Cache
}

// Run performs the retrieval. queryID is the identity of the Example the
// query was derived from, carried into errors for diagnosability.
func (s *Search) Run(ctx context.Context, query string, queryID string) ([]primitives.Example, error) {
	k := s.K
	if k <= 0 {
		k = 3
	}

	fetch := func() ([]backend.Passage, error) {
		var passages []backend.Passage
		err := s.Retry.Do(ctx, func() error {
			var innerErr error
			passages, innerErr = s.RM.Search(ctx, query, k)
			return innerErr
		})
		return passages, err
	}

	var passages []backend.Passage
	var err error
	if s.Cache != nil {
		fp := cache.Fingerprint("rm", s.RM.Name(), query, k)
		passages, err = cache.GetOrCompute(s.Cache, fp, fetch)
	} else {
		passages, err = fetch()
	}
	if err != nil {
		return nil, primitives.StageErrorf("search", queryID,
			fmt.Errorf("query %q: %v: %w", query, err, primitives.ErrRetrieval))
	}

	out := make([]primitives.Example, len(passages))
	for i, p := range passages {
		fields := map[string]any{
			"text":  p.Text,
			"rank":  i + 1,
			"score": p.Score,
		}
		if p.Title != "" {
			fields["title"] = p.Title
		}
		ex, err := primitives.NewExample(primitives.Schema{}, fields)
		if err != nil {
			return nil, primitives.StageErrorf("search", queryID, err)
		}
		out[i] = ex
	}
	return out, nil
}
