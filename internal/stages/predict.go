package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/dsp/internal/backend"
	"github.com/kalambet/dsp/internal/cache"
	"github.com/kalambet/dsp/internal/primitives"
)

// Predict renders the prompt, invokes the LM, and parses the samples into
// Completions. With N > 1 and aggregation enabled it additionally reduces
// the samples to a single winner by plurality vote.
type Predict struct {
	LM       backend.LM
	Template Template

	// N is the number of samples per call; 0 means 1.
	N           int
	Temperature float64
	MaxTokens   int
	Stop        []string

	// Aggregate enables plurality voting over the primary output field.
	Aggregate bool

	Retry backend.RetryPolicy
	Cache *cache.Cache
}

// Prediction is the result of one Predict call. Completions is the raw
// sample list, descending by score when scores exist. Best is the
// aggregated winner, nil when aggregation is off.
type Prediction struct {
	Best        *primitives.Completion
	Completions []primitives.Completion
}

// Top returns the preferred completion: the aggregated winner when
// available, the highest-ranked sample otherwise.
func (p Prediction) Top() primitives.Completion {
	if p.Best != nil {
		return *p.Best
	}
	if len(p.Completions) > 0 {
		return p.Completions[0]
	}
	return primitives.Completion{}
}

// Run executes the stage for one input Example.
func (p *Predict) Run(ctx context.Context, demos []primitives.Example, passages []string, input primitives.Example) (Prediction, error) {
	prompt, err := p.Template.Render(demos, passages, input)
	if err != nil {
		return Prediction{}, primitives.StageErrorf("predict", input.ID(), err)
	}

	n := p.N
	if n <= 0 {
		n = 1
	}
	opts := backend.GenerateOptions{
		N:           n,
		Temperature: p.Temperature,
		Stop:        p.Stop,
		MaxTokens:   p.MaxTokens,
	}

	generate := func() ([]backend.Generation, error) {
		var gens []backend.Generation
		err := p.Retry.Do(ctx, func() error {
			var innerErr error
			gens, innerErr = p.LM.Generate(ctx, prompt, opts)
			return innerErr
		})
		return gens, err
	}

	var gens []backend.Generation
	if p.Cache != nil {
		fp := cache.Fingerprint("lm", p.LM.Name(), prompt, n, p.Temperature, p.Stop, p.MaxTokens)
		gens, err = cache.GetOrCompute(p.Cache, fp, generate)
	} else {
		gens, err = generate()
	}
	if err != nil {
		return Prediction{}, primitives.StageErrorf("predict", input.ID(),
			fmt.Errorf("%v: %w", err, primitives.ErrBackend))
	}

	completions := make([]primitives.Completion, len(gens))
	for i, g := range gens {
		completions[i] = primitives.Completion{
			Fields:   p.Template.Parse(g.Text),
			Text:     g.Text,
			Score:    g.LogProb,
			HasScore: g.HasLogProb,
		}
	}
	primitives.SortCompletions(completions)

	pred := Prediction{Completions: completions}
	if p.Aggregate && len(completions) > 0 {
		best := pluralityVote(completions, p.Template.PrimaryOutput())
		pred.Best = &best
	}
	return pred, nil
}

// pluralityVote picks the completion whose primary output value occurs
// most often. Values are compared normalized (trimmed, lowercased). Ties
// go to the value whose best completion ranks highest, which after
// SortCompletions means the earliest occurrence in the list.
func pluralityVote(completions []primitives.Completion, field string) primitives.Completion {
	counts := make(map[string]int)
	for _, c := range completions {
		counts[normalizeAnswer(c.Field(field))]++
	}

	winner := ""
	winnerCount := -1
	for _, c := range completions {
		v := normalizeAnswer(c.Field(field))
		if counts[v] > winnerCount {
			winner = v
			winnerCount = counts[v]
		}
	}

	for _, c := range completions {
		if normalizeAnswer(c.Field(field)) == winner {
			return c
		}
	}
	return completions[0]
}

func normalizeAnswer(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
