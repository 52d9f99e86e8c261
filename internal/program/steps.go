package program

import (
	"context"
	"fmt"

	"github.com/kalambet/dsp/internal/primitives"
	"github.com/kalambet/dsp/internal/stages"
)

// DemonstrateStep selects the demonstration set into the State.
type DemonstrateStep struct {
	Stage *stages.Demonstrate
}

func (s *DemonstrateStep) Name() string { return "demonstrate" }

func (s *DemonstrateStep) Run(ctx context.Context, st *State) error {
	demos, err := s.Stage.Select(ctx, st.Input)
	if err != nil {
		return err
	}
	st.Demos = demos
	st.Trace.record("demonstrate", st.Input.ID(), map[string]any{
		"method":   string(s.Stage.Method),
		"selected": len(demos),
	})
	return nil
}

// SearchStep retrieves passages for the query field of the input Example.
type SearchStep struct {
	Stage *stages.Search
	// QueryField is the input field used as the retrieval query;
	// defaults to "question".
	QueryField string
}

func (s *SearchStep) Name() string { return "search" }

func (s *SearchStep) Run(ctx context.Context, st *State) error {
	field := s.QueryField
	if field == "" {
		field = "question"
	}
	query, err := st.Input.Field(field)
	if err != nil {
		return primitives.StageErrorf("search", st.Input.ID(), err)
	}

	results, err := s.Stage.Run(ctx, query, st.Input.ID())
	if err != nil {
		return err
	}

	st.Retrieved = results
	st.Passages = make([]string, len(results))
	for i, r := range results {
		text, err := r.Field("text")
		if err != nil {
			return primitives.StageErrorf("search", st.Input.ID(), err)
		}
		st.Passages[i] = text
	}

	st.Trace.record("search", st.Input.ID(), map[string]any{
		"query":   query,
		"results": len(results),
	})
	return nil
}

// PredictStep invokes the LM with the accumulated demos and passages.
type PredictStep struct {
	Stage *stages.Predict
}

func (s *PredictStep) Name() string { return "predict" }

func (s *PredictStep) Run(ctx context.Context, st *State) error {
	pred, err := s.Stage.Run(ctx, st.Demos, st.Passages, st.Input)
	if err != nil {
		return err
	}
	if len(pred.Completions) == 0 && pred.Best == nil {
		return primitives.StageErrorf("predict", st.Input.ID(),
			fmt.Errorf("backend returned no completions"))
	}

	st.Prediction = pred
	st.Output = pred.Top()
	st.Trace.record("predict", st.Input.ID(), map[string]any{
		"samples": len(pred.Completions),
		"output":  st.Output.Field(s.Stage.Template.PrimaryOutput()),
	})
	return nil
}

// FuncStep wraps arbitrary control logic as a step.
type FuncStep struct {
	StepName string
	Fn       func(ctx context.Context, st *State) error
}

func (s *FuncStep) Name() string { return s.StepName }

func (s *FuncStep) Run(ctx context.Context, st *State) error {
	return s.Fn(ctx, st)
}
