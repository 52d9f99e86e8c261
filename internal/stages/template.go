// Package stages implements the pipeline stage kinds (Demonstrate, Search,
// Predict) as small structs over the backend capabilities. Programs compose
// them; the stages hold no cross-call state.
package stages

import (
	"fmt"
	"strings"

	"github.com/kalambet/dsp/internal/primitives"
)

// Field names one Example field a template renders, with the literal
// prefix that introduces it in the prompt (e.g. "Question:").
type Field struct {
	Name   string `json:"name"`
	Prefix string `json:"prefix"`
}

// Template turns demonstrations, retrieved context, and the current input
// into a single prompt string, and parses LM generations back into the
// declared output fields.
type Template struct {
	Instructions string  `json:"instructions"`
	Inputs       []Field `json:"inputs"`
	Outputs      []Field `json:"outputs"`
}

// PrimaryOutput is the field aggregation votes over.
func (t Template) PrimaryOutput() string {
	if len(t.Outputs) == 0 {
		return ""
	}
	return t.Outputs[0].Name
}

// RenderDemo formats one labeled demonstration: every input and output
// field rendered with its prefix. A missing field fails the render.
func (t Template) RenderDemo(ex primitives.Example) (string, error) {
	var sb strings.Builder
	for _, f := range append(append([]Field{}, t.Inputs...), t.Outputs...) {
		v, err := ex.Field(f.Name)
		if err != nil {
			return "", fmt.Errorf("demonstration %w: %w", primitives.ErrRender, err)
		}
		sb.WriteString(f.Prefix)
		sb.WriteString(" ")
		sb.WriteString(v)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// Render assembles the full prompt: instructions, demonstrations, numbered
// context passages, and the input with the first output prefix left blank
// to cue the model.
func (t Template) Render(demos []primitives.Example, context []string, input primitives.Example) (string, error) {
	var blocks []string

	if t.Instructions != "" {
		blocks = append(blocks, t.Instructions)
	}

	for _, d := range demos {
		block, err := t.RenderDemo(d)
		if err != nil {
			return "", err
		}
		blocks = append(blocks, block)
	}

	var sb strings.Builder
	if len(context) > 0 {
		sb.WriteString("Context:\n")
		for i, passage := range context {
			fmt.Fprintf(&sb, "[%d] %s\n", i+1, passage)
		}
		sb.WriteString("\n")
	}

	for _, f := range t.Inputs {
		v, err := input.Field(f.Name)
		if err != nil {
			return "", fmt.Errorf("input %w: %w", primitives.ErrRender, err)
		}
		sb.WriteString(f.Prefix)
		sb.WriteString(" ")
		sb.WriteString(v)
		sb.WriteString("\n")
	}
	if len(t.Outputs) > 0 {
		sb.WriteString(t.Outputs[0].Prefix)
	}

	blocks = append(blocks, strings.TrimRight(sb.String(), "\n"))
	return strings.Join(blocks, "\n\n"), nil
}

// Parse extracts the output fields from a raw generation. The generation
// may start directly with the first output's value (the prompt ends with
// its prefix) or restate the prefixes.
func (t Template) Parse(text string) map[string]string {
	fields := make(map[string]string, len(t.Outputs))
	remainder := text

	for i, f := range t.Outputs {
		start := 0
		if idx := strings.Index(remainder, f.Prefix); idx >= 0 {
			start = idx + len(f.Prefix)
		} else if i > 0 {
			// Later outputs require their prefix; absent means absent.
			continue
		}

		value := remainder[start:]
		end := len(value)
		for _, later := range t.Outputs[i+1:] {
			if idx := strings.Index(value, later.Prefix); idx >= 0 && idx < end {
				end = idx
			}
		}
		fields[f.Name] = strings.TrimSpace(value[:end])
		remainder = value[end:]
	}
	return fields
}
