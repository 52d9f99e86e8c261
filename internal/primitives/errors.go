package primitives

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by all stages. Stages wrap these sentinels in a
// StageError so callers can match the failure kind with errors.Is while
// still seeing which stage and which Example produced it.
var (
	ErrMissingField               = errors.New("missing field")
	ErrInsufficientPool           = errors.New("insufficient demonstration pool")
	ErrEmbedding                  = errors.New("embedding failed")
	ErrRetrieval                  = errors.New("retrieval failed")
	ErrRender                     = errors.New("prompt render failed")
	ErrBackend                    = errors.New("backend call failed")
	ErrInsufficientDemonstrations = errors.New("insufficient demonstrations")
)

// StageError attaches the stage name and the offending Example identity
// to an underlying taxonomy error.
type StageError struct {
	Stage     string
	ExampleID string
	Err       error
}

func (e *StageError) Error() string {
	if e.ExampleID == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s (example %s): %v", e.Stage, e.ExampleID, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// StageErrorf wraps err with stage and example identity.
func StageErrorf(stage, exampleID string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, ExampleID: exampleID, Err: err}
}
