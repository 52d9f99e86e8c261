// Package compiler rewrites an expensive teacher program into a cheaper
// student. It bootstraps demonstration traces by running the teacher over
// labeled training examples, keeps the traces whose final output matches
// the gold label, and freezes them into the student's Demonstrate stage.
package compiler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/dsp/internal/primitives"
	"github.com/kalambet/dsp/internal/program"
)

// Metric judges whether a teacher run on a training example succeeded.
// The equality policy is deliberately pluggable: exact match is the
// default, fuzzier policies are the caller's choice.
type Metric func(output primitives.Completion, gold primitives.Example) bool

// ExactMatch returns a Metric comparing the named field after trimming
// and lowercasing.
func ExactMatch(field string) Metric {
	return func(output primitives.Completion, gold primitives.Example) bool {
		want, err := gold.Field(field)
		if err != nil {
			return false
		}
		return normalize(output.Field(field)) == normalize(want)
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Options configure one compilation run.
type Options struct {
	// K is the target demonstration count; bootstrap stops once K
	// successful traces are collected. Default 4.
	K int
	// MaxAttempts bounds teacher executions (M). 0 means the whole
	// training set.
	MaxAttempts int
	// MinDemos is the minimum trace count below which compilation
	// fails with ErrInsufficientDemonstrations. Default 1.
	MinDemos int
	// Metric judges a bootstrapped trace. Default ExactMatch("answer").
	Metric Metric
	// Parallelism bounds concurrent teacher runs. Default 1, which
	// keeps attempt accounting exact; higher values trade a few extra
	// attempts inside the final batch for throughput.
	Parallelism int
}

func (o Options) withDefaults() Options {
	if o.K <= 0 {
		o.K = 4
	}
	if o.MinDemos <= 0 {
		o.MinDemos = 1
	}
	if o.Metric == nil {
		o.Metric = ExactMatch("answer")
	}
	if o.Parallelism <= 0 {
		o.Parallelism = 1
	}
	return o
}

// Compiler runs the bootstrap-and-freeze state machine.
type Compiler struct {
	opts Options
}

// New creates a Compiler with the given options.
func New(opts Options) *Compiler {
	return &Compiler{opts: opts.withDefaults()}
}

// Compile executes the teacher over the training set and freezes the
// successful traces into a Compiled program description.
func (c *Compiler) Compile(ctx context.Context, teacher *program.Program, trainset []primitives.Example) (*Compiled, error) {
	budget := len(trainset)
	if c.opts.MaxAttempts > 0 && c.opts.MaxAttempts < budget {
		budget = c.opts.MaxAttempts
	}

	var (
		demos    []primitives.Example
		traces   []program.Trace
		attempts int
	)

	for attempts < budget && len(demos) < c.opts.K {
		batch := c.opts.Parallelism
		if remaining := budget - attempts; batch > remaining {
			batch = remaining
		}

		results := make([]*bootstrapResult, batch)
		g, gCtx := errgroup.WithContext(ctx)
		for i := 0; i < batch; i++ {
			example := trainset[attempts+i]
			g.Go(func() error {
				results[i] = c.attempt(gCtx, teacher, example)
				return nil
			})
		}
		g.Wait()
		attempts += batch

		for _, r := range results {
			if r == nil || !r.success || len(demos) >= c.opts.K {
				continue
			}
			demos = append(demos, r.demo)
			traces = append(traces, *r.trace)
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	if len(demos) < c.opts.MinDemos {
		return nil, primitives.StageErrorf("compile", "",
			fmt.Errorf("collected %d traces from %d attempts, need %d: %w",
				len(demos), attempts, c.opts.MinDemos, primitives.ErrInsufficientDemonstrations))
	}

	slog.Debug("compilation complete",
		"program", teacher.Name,
		"demos", len(demos),
		"attempts", attempts,
	)

	return &Compiled{
		RunID:       uuid.NewString(),
		ProgramName: teacher.Name,
		Demos:       demos,
		Traces:      traces,
		K:           c.opts.K,
		Attempts:    attempts,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

type bootstrapResult struct {
	success bool
	demo    primitives.Example
	trace   *program.Trace
}

// attempt runs the teacher on one training example. Per-example failures
// are swallowed: a failed run is simply "no trace".
func (c *Compiler) attempt(ctx context.Context, teacher *program.Program, example primitives.Example) *bootstrapResult {
	st, err := teacher.Run(ctx, example)
	if err != nil {
		slog.Debug("bootstrap attempt failed", "example", example.ID(), "error", err)
		return &bootstrapResult{}
	}
	if !c.opts.Metric(st.Output, example) {
		return &bootstrapResult{}
	}
	return &bootstrapResult{
		success: true,
		demo:    buildDemo(example, st.Output),
		trace:   st.Trace,
	}
}

// buildDemo augments the gold example with any generated fields it lacks,
// keeping the gold example in the provenance chain.
func buildDemo(gold primitives.Example, output primitives.Completion) primitives.Example {
	demo := gold
	for name, value := range output.Fields {
		if demo.Has(name) {
			continue
		}
		augmented, err := demo.With(name, value)
		if err != nil {
			// Schema does not admit the generated field; skip it.
			continue
		}
		demo = augmented
	}
	return demo
}
