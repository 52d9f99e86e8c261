package corpus

import (
	"context"
	"strings"
	"testing"
)

// hashVectorizer produces a deterministic pseudo-embedding from the text.
type hashVectorizer struct{}

func (hashVectorizer) Name() string { return "hash-test" }

func (hashVectorizer) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 8)
	for i, r := range text {
		v[i%8] += float32(r%13) / 13
	}
	return v, nil
}

func TestChunkText_ParagraphAligned(t *testing.T) {
	text := "First paragraph.\n\nSecond paragraph.\n\nThird paragraph."
	chunks := ChunkText(text, 40)

	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2: %q", len(chunks), chunks)
	}
	if !strings.Contains(chunks[0], "First") || !strings.Contains(chunks[0], "Second") {
		t.Errorf("chunk[0] = %q", chunks[0])
	}
	if !strings.Contains(chunks[1], "Third") {
		t.Errorf("chunk[1] = %q", chunks[1])
	}
}

func TestChunkText_SplitsOversizedParagraph(t *testing.T) {
	text := strings.Repeat("word ", 100) // one 500-char paragraph
	chunks := ChunkText(text, 120)

	if len(chunks) < 4 {
		t.Fatalf("got %d chunks, want >= 4", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 120 {
			t.Errorf("chunk %d has %d chars, want <= 120", i, len(c))
		}
		if strings.HasPrefix(c, " ") || strings.HasSuffix(c, " ") {
			t.Errorf("chunk %d not trimmed: %q", i, c)
		}
	}
}

func TestChunkText_Empty(t *testing.T) {
	if chunks := ChunkText("   \n\n  ", 100); chunks != nil {
		t.Errorf("expected no chunks, got %q", chunks)
	}
}

func TestIngestText_StoresPassages(t *testing.T) {
	store := openTestStore(t)
	ing := NewIngester(store, hashVectorizer{}, 50)

	n, err := ing.IngestText(context.Background(), "doc", "Alpha paragraph.\n\nBeta paragraph that is separate.", "test")
	if err != nil {
		t.Fatalf("IngestText: %v", err)
	}
	if n < 1 {
		t.Fatalf("stored %d passages, want >= 1", n)
	}

	count, err := store.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != n {
		t.Errorf("Count = %d, IngestText reported %d", count, n)
	}
}

func TestRetriever_SearchReturnsRelevanceOrder(t *testing.T) {
	store := openTestStore(t)
	ing := NewIngester(store, hashVectorizer{}, 200)

	if _, err := ing.IngestText(context.Background(), "doc",
		"Paris is the capital of France.\n\nTokyo is the capital of Japan.", "test"); err != nil {
		t.Fatalf("IngestText: %v", err)
	}

	r := NewRetriever(hashVectorizer{}, store)
	passages, err := r.Search(context.Background(), "Paris is the capital of France.", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(passages) == 0 {
		t.Fatal("no passages returned")
	}
	for i := 1; i < len(passages); i++ {
		if passages[i].Score > passages[i-1].Score {
			t.Errorf("passages not in relevance order at %d", i)
		}
	}
}

func TestExtractHTMLText(t *testing.T) {
	page := `<html><head><title>My Page</title><style>body{}</style></head>
		<body><script>var x=1;</script><h1>Heading</h1><p>Body text.</p></body></html>`

	title, text, err := ExtractHTMLText(strings.NewReader(page))
	if err != nil {
		t.Fatalf("ExtractHTMLText: %v", err)
	}
	if title != "My Page" {
		t.Errorf("title = %q, want My Page", title)
	}
	if !strings.Contains(text, "Heading") || !strings.Contains(text, "Body text.") {
		t.Errorf("text = %q", text)
	}
	if strings.Contains(text, "var x=1") || strings.Contains(text, "body{}") {
		t.Errorf("script/style leaked into text: %q", text)
	}
}
