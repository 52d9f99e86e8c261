package primitives

import (
	"errors"
	"testing"
)

var qaSchema = Schema{
	Required: []string{"question"},
	Optional: []string{"answer", "context"},
}

func TestNewExample_RequiredFieldMissing(t *testing.T) {
	_, err := NewExample(qaSchema, map[string]any{"answer": "Paris"})
	if !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
}

func TestNewExample_UndeclaredField(t *testing.T) {
	_, err := NewExample(qaSchema, map[string]any{
		"question": "q",
		"rating":   5,
	})
	if err == nil {
		t.Fatal("expected error for undeclared field")
	}
}

func TestZeroSchema_AllowsAnything(t *testing.T) {
	ex, err := NewExample(Schema{}, map[string]any{"whatever": "x", "n": 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := ex.Field("n")
	if err != nil {
		t.Fatalf("Field: %v", err)
	}
	if got != "3" {
		t.Errorf("Field(n) = %q, want %q", got, "3")
	}
}

func TestField_Missing(t *testing.T) {
	ex := MustExample(qaSchema, map[string]any{"question": "q"})
	_, err := ex.Field("answer")
	if !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
}

func TestWith_CopiesAndTracksProvenance(t *testing.T) {
	orig := MustExample(qaSchema, map[string]any{"question": "capital of France?"})

	derived, err := orig.With("answer", "Paris")
	if err != nil {
		t.Fatalf("With: %v", err)
	}

	if orig.Has("answer") {
		t.Error("original example was mutated")
	}
	ans, err := derived.Field("answer")
	if err != nil || ans != "Paris" {
		t.Errorf("derived answer = %q, %v", ans, err)
	}
	if derived.ID() == orig.ID() {
		t.Error("derived example shares identity with original")
	}

	srcs := derived.Sources()
	if len(srcs) != 1 || srcs[0] != orig.ID() {
		t.Errorf("sources = %v, want [%s]", srcs, orig.ID())
	}
}

func TestMerge_OtherWinsAndProvenanceOrdered(t *testing.T) {
	a := MustExample(qaSchema, map[string]any{"question": "q", "answer": "old"})
	b := MustExample(Schema{}, map[string]any{"answer": "new", "junk": "dropped"})

	m := a.Merge(b)

	ans, _ := m.Field("answer")
	if ans != "new" {
		t.Errorf("merged answer = %q, want %q", ans, "new")
	}
	if m.Has("junk") {
		t.Error("merge admitted a field the schema does not declare")
	}
	srcs := m.Sources()
	if len(srcs) != 2 || srcs[0] != a.ID() || srcs[1] != b.ID() {
		t.Errorf("sources = %v, want [%s %s]", srcs, a.ID(), b.ID())
	}
}

func TestRestore_PreservesIdentity(t *testing.T) {
	ex, err := Restore("fixed-id", qaSchema, map[string]any{"question": "q"}, []string{"p1"})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if ex.ID() != "fixed-id" {
		t.Errorf("ID = %q, want fixed-id", ex.ID())
	}
	if srcs := ex.Sources(); len(srcs) != 1 || srcs[0] != "p1" {
		t.Errorf("sources = %v", srcs)
	}
}

func TestStageError_WrapsTaxonomy(t *testing.T) {
	err := StageErrorf("demonstrate", "ex-42", ErrInsufficientPool)
	if !errors.Is(err, ErrInsufficientPool) {
		t.Fatal("StageError does not unwrap to sentinel")
	}
	var se *StageError
	if !errors.As(err, &se) {
		t.Fatal("errors.As failed")
	}
	if se.Stage != "demonstrate" || se.ExampleID != "ex-42" {
		t.Errorf("StageError = %+v", se)
	}
}

func TestSortCompletions(t *testing.T) {
	cs := []Completion{
		{Text: "a"},
		{Text: "b", Score: -0.5, HasScore: true},
		{Text: "c", Score: -0.1, HasScore: true},
		{Text: "d"},
	}
	SortCompletions(cs)

	want := []string{"c", "b", "a", "d"}
	for i, w := range want {
		if cs[i].Text != w {
			t.Errorf("cs[%d].Text = %q, want %q", i, cs[i].Text, w)
		}
	}
}
