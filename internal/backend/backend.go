// Package backend defines the capability interfaces the pipeline stages
// call into. Concrete adapters (Ollama, OpenAI, the local corpus) live in
// their own packages; stages depend only on these interfaces.
package backend

import "context"

// GenerateOptions are the sampling parameters for one LM invocation.
type GenerateOptions struct {
	// N is the number of samples to draw; 0 means 1.
	N int
	// Temperature is the sampling temperature.
	Temperature float64
	// Stop sequences terminate generation when produced.
	Stop []string
	// MaxTokens caps the generation length; 0 means backend default.
	MaxTokens int
}

// Generation is one raw sample from an LM. Predict parses it into a
// Completion; the backend layer knows nothing about templates or fields.
type Generation struct {
	Text string
	// LogProb is the backend-reported score for the sample (mean token
	// log-probability for providers that expose one).
	LogProb    float64
	HasLogProb bool
}

// LM is the language-model capability. Implementations must report
// failures as errors, never as an empty slice: an empty result with a nil
// error means the model genuinely produced nothing.
type LM interface {
	// Name identifies the backend and model for cache fingerprinting.
	Name() string
	// Generate draws opts.N samples for the prompt.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) ([]Generation, error)
}

// Passage is one retrieval hit, in backend relevance order.
type Passage struct {
	Text  string
	Title string
	Score float64
}

// RM is the retrieval-model capability.
type RM interface {
	Name() string
	// Search returns up to k passages for the query, most relevant first.
	Search(ctx context.Context, query string, k int) ([]Passage, error)
}

// Vectorizer embeds text into fixed-dimensionality vectors.
type Vectorizer interface {
	Name() string
	Embed(ctx context.Context, text string) ([]float32, error)
}
