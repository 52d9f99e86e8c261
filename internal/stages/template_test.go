package stages

import (
	"errors"
	"strings"
	"testing"

	"github.com/kalambet/dsp/internal/primitives"
)

var qaTemplate = Template{
	Instructions: "Answer questions with short factoid answers.",
	Inputs:       []Field{{Name: "question", Prefix: "Question:"}},
	Outputs:      []Field{{Name: "answer", Prefix: "Answer:"}},
}

func ex(t *testing.T, fields map[string]any) primitives.Example {
	t.Helper()
	e, err := primitives.NewExample(primitives.Schema{}, fields)
	if err != nil {
		t.Fatalf("building example: %v", err)
	}
	return e
}

func TestRender_FullPrompt(t *testing.T) {
	demo := ex(t, map[string]any{"question": "capital of Italy?", "answer": "Rome"})
	input := ex(t, map[string]any{"question": "capital of France?"})

	prompt, err := qaTemplate.Render([]primitives.Example{demo}, []string{"France is in Europe.", "Paris is its capital."}, input)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	wantOrder := []string{
		"Answer questions with short factoid answers.",
		"Question: capital of Italy?",
		"Answer: Rome",
		"Context:",
		"[1] France is in Europe.",
		"[2] Paris is its capital.",
		"Question: capital of France?",
	}
	last := -1
	for _, w := range wantOrder {
		idx := strings.Index(prompt, w)
		if idx < 0 {
			t.Fatalf("prompt missing %q:\n%s", w, prompt)
		}
		if idx < last {
			t.Errorf("%q appears out of order", w)
		}
		last = idx
	}
	if !strings.HasSuffix(prompt, "Answer:") {
		t.Errorf("prompt must end with the blank output prefix:\n%s", prompt)
	}
}

func TestRender_MissingInputField(t *testing.T) {
	input := ex(t, map[string]any{"topic": "no question here"})

	_, err := qaTemplate.Render(nil, nil, input)
	if !errors.Is(err, primitives.ErrRender) {
		t.Fatalf("expected ErrRender, got %v", err)
	}
	if !errors.Is(err, primitives.ErrMissingField) {
		t.Fatalf("render error should also match ErrMissingField, got %v", err)
	}
}

func TestRender_MissingDemoField(t *testing.T) {
	demo := ex(t, map[string]any{"question": "unlabeled"})
	input := ex(t, map[string]any{"question": "q"})

	_, err := qaTemplate.Render([]primitives.Example{demo}, nil, input)
	if !errors.Is(err, primitives.ErrRender) {
		t.Fatalf("expected ErrRender, got %v", err)
	}
}

func TestParse_BareValue(t *testing.T) {
	got := qaTemplate.Parse(" Paris\n")
	if got["answer"] != "Paris" {
		t.Errorf("answer = %q, want Paris", got["answer"])
	}
}

func TestParse_RestatedPrefix(t *testing.T) {
	got := qaTemplate.Parse("Answer: Paris")
	if got["answer"] != "Paris" {
		t.Errorf("answer = %q, want Paris", got["answer"])
	}
}

func TestParse_MultipleOutputs(t *testing.T) {
	tpl := Template{
		Inputs: []Field{{Name: "question", Prefix: "Question:"}},
		Outputs: []Field{
			{Name: "rationale", Prefix: "Rationale:"},
			{Name: "answer", Prefix: "Answer:"},
		},
	}

	got := tpl.Parse("Let me think. The capital is known.\nAnswer: Paris")
	if got["rationale"] != "Let me think. The capital is known." {
		t.Errorf("rationale = %q", got["rationale"])
	}
	if got["answer"] != "Paris" {
		t.Errorf("answer = %q, want Paris", got["answer"])
	}
}
