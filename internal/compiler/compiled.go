package compiler

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kalambet/dsp/internal/primitives"
	"github.com/kalambet/dsp/internal/program"
)

// Compiled is the frozen result of one compilation run. It is immutable
// once produced and owned by the caller who requested compilation.
type Compiled struct {
	RunID       string
	ProgramName string
	// Demos are the bootstrapped demonstrations in collection order;
	// the student's Demonstrate stage returns exactly this set.
	Demos []primitives.Example
	// Traces are the recorded teacher executions behind each demo.
	Traces    []program.Trace
	K         int
	Attempts  int
	CreatedAt time.Time
}

// Student returns a runnable program: the teacher's composition with its
// Demonstrate stages replaced by the frozen demonstration set.
func (c *Compiled) Student(teacher *program.Program) *program.Program {
	return teacher.WithFrozenDemonstrations(c.Demos)
}

// exampleJSON is the wire form of a demonstration Example.
type exampleJSON struct {
	ID      string            `json:"id"`
	Schema  primitives.Schema `json:"schema,omitempty"`
	Fields  map[string]any    `json:"fields"`
	Sources []string          `json:"sources,omitempty"`
}

// compiledJSON is the wire form of a Compiled program.
type compiledJSON struct {
	RunID       string          `json:"run_id"`
	ProgramName string          `json:"program"`
	K           int             `json:"k"`
	Attempts    int             `json:"attempts"`
	CreatedAt   time.Time       `json:"created_at"`
	Demos       []exampleJSON   `json:"demonstrations"`
	Traces      []program.Trace `json:"traces,omitempty"`
}

// MarshalJSON serializes the compiled program, demonstrations included.
func (c *Compiled) MarshalJSON() ([]byte, error) {
	out := compiledJSON{
		RunID:       c.RunID,
		ProgramName: c.ProgramName,
		K:           c.K,
		Attempts:    c.Attempts,
		CreatedAt:   c.CreatedAt,
		Traces:      c.Traces,
	}
	for _, d := range c.Demos {
		out.Demos = append(out.Demos, exampleJSON{
			ID:      d.ID(),
			Schema:  d.Schema(),
			Fields:  d.Fields(),
			Sources: d.Sources(),
		})
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a compiled program, preserving demonstration
// identities and order so a deserialized student reproduces the original's
// outputs exactly.
func (c *Compiled) UnmarshalJSON(data []byte) error {
	var in compiledJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("decoding compiled program: %w", err)
	}

	demos := make([]primitives.Example, len(in.Demos))
	for i, d := range in.Demos {
		ex, err := primitives.Restore(d.ID, d.Schema, d.Fields, d.Sources)
		if err != nil {
			return fmt.Errorf("restoring demonstration %d: %w", i, err)
		}
		demos[i] = ex
	}

	*c = Compiled{
		RunID:       in.RunID,
		ProgramName: in.ProgramName,
		Demos:       demos,
		Traces:      in.Traces,
		K:           in.K,
		Attempts:    in.Attempts,
		CreatedAt:   in.CreatedAt,
	}
	return nil
}
