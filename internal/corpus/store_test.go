package corpus

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeTestVector(dim int, seed float32) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = seed + float32(i)*0.001
	}
	return v
}

func TestInsertAndSearch(t *testing.T) {
	s := openTestStore(t)

	vec := makeTestVector(768, 0.1)
	err := s.Insert([]Passage{{
		ID:        "p1",
		Title:     "go",
		Text:      "Go is a compiled language",
		Source:    "notes.md",
		Embedding: vec,
		CreatedAt: time.Now().UTC(),
	}})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := s.Search(vec, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Text != "Go is a compiled language" {
		t.Errorf("text = %q", results[0].Text)
	}
	if results[0].Score < 0.99 {
		t.Errorf("self-similarity = %f, want ~1.0", results[0].Score)
	}
}

func TestSearch_TopKOrdering(t *testing.T) {
	s := openTestStore(t)

	query := []float32{1, 0, 0}
	passages := []Passage{
		{ID: "far", Text: "far", Embedding: []float32{0, 1, 0}},
		{ID: "close", Text: "close", Embedding: []float32{0.9, 0.1, 0}},
		{ID: "exact", Text: "exact", Embedding: []float32{1, 0, 0}},
		{ID: "mid", Text: "mid", Embedding: []float32{0.5, 0.5, 0}},
	}
	if err := s.Insert(passages); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := s.Search(query, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}

	want := []string{"exact", "close", "mid"}
	for i, w := range want {
		if results[i].ID != w {
			t.Errorf("results[%d] = %s, want %s", i, results[i].ID, w)
		}
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not in descending score order at %d", i)
		}
	}
}

func TestSearch_ZeroQueryVector(t *testing.T) {
	s := openTestStore(t)
	if err := s.Insert([]Passage{{ID: "x", Text: "x", Embedding: []float32{1, 2}}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := s.Search([]float32{0, 0}, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results != nil {
		t.Errorf("expected nil results for zero query, got %v", results)
	}
}

func TestCount(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 3; i++ {
		err := s.Insert([]Passage{{
			ID:        uuid.NewString(),
			Text:      "passage",
			Embedding: makeTestVector(4, float32(i)),
		}})
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	n, err := s.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
}
