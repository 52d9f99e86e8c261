// Package program composes pipeline stages into runnable programs. A
// program threads a shared State through its steps in user-defined order;
// each run owns its State, so concurrent runs are independent.
package program

import (
	"context"
	"fmt"

	"github.com/kalambet/dsp/internal/primitives"
	"github.com/kalambet/dsp/internal/stages"
)

// State is the mutable execution state one run threads through its steps.
// The Examples and Completions inside it are immutable snapshots; steps
// replace fields rather than mutating values in place.
type State struct {
	// Input is the Example the program was invoked with.
	Input primitives.Example
	// Demos is the demonstration set selected for this run.
	Demos []primitives.Example
	// Retrieved holds the Search results as Examples.
	Retrieved []primitives.Example
	// Passages holds the retrieved texts in relevance order, ready for
	// prompt rendering.
	Passages []string
	// Prediction is the full result of the last Predict step.
	Prediction stages.Prediction
	// Output is the preferred completion of the last Predict step.
	Output primitives.Completion
	// Trace records every stage invocation for this run.
	Trace *Trace
}

// Trace is the recorded sequence of stage inputs and outputs from one
// program execution. The compiler inspects traces when bootstrapping.
type Trace struct {
	Events []Event
}

// Event is one stage invocation.
type Event struct {
	Stage   string
	InputID string
	Detail  map[string]any
}

func (t *Trace) record(stage, inputID string, detail map[string]any) {
	t.Events = append(t.Events, Event{Stage: stage, InputID: inputID, Detail: detail})
}

// Step is one node of a program. The set of stage kinds is small and
// stable; user logic plugs in through FuncStep rather than new kinds.
type Step interface {
	Name() string
	Run(ctx context.Context, st *State) error
}

// Program is an ordered composition of steps.
type Program struct {
	Name  string
	Steps []Step
}

// New creates a Program from steps in execution order.
func New(name string, steps ...Step) *Program {
	return &Program{Name: name, Steps: steps}
}

// Run executes the program on the input. The returned State is complete
// up to the failing step when err is non-nil.
func (p *Program) Run(ctx context.Context, input primitives.Example) (*State, error) {
	st := &State{Input: input, Trace: &Trace{}}
	for _, step := range p.Steps {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		if err := step.Run(ctx, st); err != nil {
			return st, fmt.Errorf("program %s, step %s: %w", p.Name, step.Name(), err)
		}
	}
	return st, nil
}

// WithFrozenDemonstrations returns a copy of the program whose
// Demonstrate steps always return the given set, bypassing selection.
// All other steps are shared with the original.
func (p *Program) WithFrozenDemonstrations(demos []primitives.Example) *Program {
	steps := make([]Step, len(p.Steps))
	for i, s := range p.Steps {
		if ds, ok := s.(*DemonstrateStep); ok {
			steps[i] = &DemonstrateStep{Stage: &stages.Demonstrate{
				Method: stages.MethodFrozen,
				K:      ds.Stage.K,
				Frozen: demos,
			}}
			continue
		}
		steps[i] = s
	}
	return &Program{Name: p.Name, Steps: steps}
}
