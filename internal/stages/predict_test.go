package stages

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/kalambet/dsp/internal/backend"
	"github.com/kalambet/dsp/internal/cache"
	"github.com/kalambet/dsp/internal/primitives"
)

// stubLM returns canned generations and counts invocations.
type stubLM struct {
	name  string
	gens  []backend.Generation
	err   error
	calls atomic.Int64
}

func (s *stubLM) Name() string { return s.name }

func (s *stubLM) Generate(_ context.Context, prompt string, opts backend.GenerateOptions) ([]backend.Generation, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	n := opts.N
	if n <= 0 {
		n = 1
	}
	if n > len(s.gens) {
		n = len(s.gens)
	}
	return s.gens[:n], nil
}

func generations(texts ...string) []backend.Generation {
	gens := make([]backend.Generation, len(texts))
	for i, txt := range texts {
		gens[i] = backend.Generation{Text: txt}
	}
	return gens
}

func TestPredict_AggregatesPluralityVote(t *testing.T) {
	lm := &stubLM{name: "stub", gens: generations("Paris", "Paris", "Lyon")}
	p := &Predict{
		LM:        lm,
		Template:  qaTemplate,
		N:         3,
		Aggregate: true,
	}

	pred, err := p.Run(context.Background(), nil, nil, ex(t, map[string]any{"question": "capital of France?"}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if pred.Best == nil {
		t.Fatal("expected aggregated completion")
	}
	if got := pred.Best.Field("answer"); got != "Paris" {
		t.Errorf("aggregated answer = %q, want Paris", got)
	}
	if len(pred.Completions) != 3 {
		t.Errorf("raw list has %d completions, want 3", len(pred.Completions))
	}
}

func TestPredict_TieBrokenByScore(t *testing.T) {
	lm := &stubLM{name: "stub", gens: []backend.Generation{
		{Text: "Lyon", LogProb: -2.0, HasLogProb: true},
		{Text: "Paris", LogProb: -0.1, HasLogProb: true},
	}}
	p := &Predict{LM: lm, Template: qaTemplate, N: 2, Aggregate: true}

	pred, err := p.Run(context.Background(), nil, nil, ex(t, map[string]any{"question": "q"}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := pred.Best.Field("answer"); got != "Paris" {
		t.Errorf("tie should go to the higher-scoring completion, got %q", got)
	}
}

func TestPredict_NoAggregationReturnsListOnly(t *testing.T) {
	lm := &stubLM{name: "stub", gens: generations("Paris", "Lyon")}
	p := &Predict{LM: lm, Template: qaTemplate, N: 2}

	pred, err := p.Run(context.Background(), nil, nil, ex(t, map[string]any{"question": "q"}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pred.Best != nil {
		t.Error("Best should be nil without aggregation")
	}
	if len(pred.Completions) != 2 {
		t.Errorf("got %d completions, want 2", len(pred.Completions))
	}
}

func TestPredict_RenderErrorCarriesExampleID(t *testing.T) {
	lm := &stubLM{name: "stub", gens: generations("x")}
	p := &Predict{LM: lm, Template: qaTemplate}
	input := ex(t, map[string]any{"topic": "missing the question"})

	_, err := p.Run(context.Background(), nil, nil, input)
	if !errors.Is(err, primitives.ErrRender) {
		t.Fatalf("expected ErrRender, got %v", err)
	}
	var se *primitives.StageError
	if !errors.As(err, &se) || se.ExampleID != input.ID() {
		t.Errorf("missing example identity: %v", err)
	}
	if lm.calls.Load() != 0 {
		t.Error("LM invoked despite render failure")
	}
}

func TestPredict_BackendError(t *testing.T) {
	lm := &stubLM{name: "stub", err: errors.New("connection refused")}
	p := &Predict{LM: lm, Template: qaTemplate}

	_, err := p.Run(context.Background(), nil, nil, ex(t, map[string]any{"question": "q"}))
	if !errors.Is(err, primitives.ErrBackend) {
		t.Fatalf("expected ErrBackend, got %v", err)
	}
}

func TestPredict_CacheHitSkipsBackend(t *testing.T) {
	lm := &stubLM{name: "stub", gens: generations("Paris")}
	c := cache.New()
	p := &Predict{LM: lm, Template: qaTemplate, Cache: c}
	input := ex(t, map[string]any{"question": "capital of France?"})

	first, err := p.Run(context.Background(), nil, nil, input)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	second, err := p.Run(context.Background(), nil, nil, input)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if lm.calls.Load() != 1 {
		t.Errorf("LM called %d times, want 1 (second call must hit cache)", lm.calls.Load())
	}
	if first.Top().Field("answer") != second.Top().Field("answer") {
		t.Error("cached prediction differs from computed one")
	}
}

func TestPredict_RetryPolicyRetries(t *testing.T) {
	failures := 2
	lm := &flakyLM{failures: &failures, gens: generations("Paris")}
	p := &Predict{
		LM:       lm,
		Template: qaTemplate,
		Retry:    backend.RetryPolicy{Attempts: 3},
	}

	pred, err := p.Run(context.Background(), nil, nil, ex(t, map[string]any{"question": "q"}))
	if err != nil {
		t.Fatalf("Run with retries: %v", err)
	}
	if pred.Top().Field("answer") != "Paris" {
		t.Errorf("answer = %q", pred.Top().Field("answer"))
	}
}

type flakyLM struct {
	failures *int
	gens     []backend.Generation
}

func (f *flakyLM) Name() string { return "flaky" }

func (f *flakyLM) Generate(context.Context, string, backend.GenerateOptions) ([]backend.Generation, error) {
	if *f.failures > 0 {
		*f.failures--
		return nil, errors.New("transient failure")
	}
	return f.gens, nil
}
