package primitives

import "sort"

// Completion is one candidate output produced by a single Predict call.
// It is owned by that call; stages never mutate completions they receive.
type Completion struct {
	// Fields holds the generated output fields parsed from the raw text.
	Fields map[string]string `json:"fields"`
	// Text is the raw generation the fields were parsed from.
	Text string `json:"text"`
	// Score is a log-probability (or other backend score) when the
	// backend reports one; meaningful only if HasScore is true.
	Score    float64 `json:"score,omitempty"`
	HasScore bool    `json:"has_score,omitempty"`
}

// Field returns a generated field value, "" if absent.
func (c Completion) Field(name string) string {
	return c.Fields[name]
}

// SortCompletions orders completions by descending score when scores are
// available, preserving generation order otherwise (and among unscored
// entries). The sort is stable so ties keep their relative order.
func SortCompletions(cs []Completion) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].HasScore && cs[j].HasScore {
			return cs[i].Score > cs[j].Score
		}
		// Scored completions sort ahead of unscored ones.
		return cs[i].HasScore && !cs[j].HasScore
	})
}
