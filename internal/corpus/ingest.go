package corpus

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/dsp/internal/backend"
)

const (
	defaultChunkSize = 1200 // characters per chunk, paragraph-aligned
	embedConcurrency = 4
	fetchTimeout     = 30 * time.Second
)

// Ingester chunks documents, embeds the chunks, and stores them as
// passages.
type Ingester struct {
	store      *Store
	vectorizer backend.Vectorizer
	chunkSize  int
}

// NewIngester creates an Ingester. chunkSize <= 0 selects the default.
func NewIngester(store *Store, vectorizer backend.Vectorizer, chunkSize int) *Ingester {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &Ingester{store: store, vectorizer: vectorizer, chunkSize: chunkSize}
}

// IngestText chunks, embeds, and stores raw text. Returns the number of
// passages stored.
func (in *Ingester) IngestText(ctx context.Context, title, text, source string) (int, error) {
	chunks := ChunkText(text, in.chunkSize)
	if len(chunks) == 0 {
		return 0, nil
	}

	vectors, err := in.embedAll(ctx, chunks)
	if err != nil {
		return 0, err
	}

	passages := make([]Passage, len(chunks))
	now := time.Now().UTC()
	for i, chunk := range chunks {
		passages[i] = Passage{
			ID:        uuid.NewString(),
			Title:     title,
			Text:      chunk,
			Source:    source,
			Embedding: vectors[i],
			CreatedAt: now,
		}
	}

	if err := in.store.Insert(passages); err != nil {
		return 0, fmt.Errorf("storing passages: %w", err)
	}
	return len(passages), nil
}

// IngestPDF extracts plain text from a PDF file and ingests it.
func (in *Ingester) IngestPDF(ctx context.Context, path string) (int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return 0, fmt.Errorf("extracting pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return 0, fmt.Errorf("reading pdf text: %w", err)
	}

	return in.IngestText(ctx, path, buf.String(), path)
}

// IngestURL fetches a page, strips it down to visible text, and ingests it.
func (in *Ingester) IngestURL(ctx context.Context, url string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("creating fetch request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fetching %s: unexpected status %d", url, resp.StatusCode)
	}

	title, text, err := ExtractHTMLText(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", url, err)
	}
	if title == "" {
		title = url
	}

	return in.IngestText(ctx, title, text, url)
}

// embedAll embeds chunks concurrently, bounded to avoid overwhelming the
// vectorizer backend.
func (in *Ingester) embedAll(ctx context.Context, chunks []string) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	for i, chunk := range chunks {
		g.Go(func() error {
			vec, err := in.vectorizer.Embed(gCtx, chunk)
			if err != nil {
				return fmt.Errorf("embedding chunk %d: %w", i, err)
			}
			vectors[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// ChunkText splits text into chunks of at most chunkSize characters,
// preferring paragraph boundaries and falling back to sentence-ish splits
// for oversized paragraphs. Blank input yields no chunks.
func ChunkText(text string, chunkSize int) []string {
	var chunks []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if len(para) > chunkSize {
			flush()
			for len(para) > chunkSize {
				cut := chunkSize
				// Back up to the nearest space so words stay whole.
				if idx := strings.LastIndex(para[:cut], " "); idx > 0 {
					cut = idx
				}
				chunks = append(chunks, strings.TrimSpace(para[:cut]))
				para = strings.TrimSpace(para[cut:])
			}
			if para != "" {
				current.WriteString(para)
			}
			continue
		}

		if current.Len() > 0 && current.Len()+len(para)+2 > chunkSize {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return chunks
}

// ExtractHTMLText returns the page title and the visible text of an HTML
// document, with script and style contents dropped.
func ExtractHTMLText(r io.Reader) (title, text string, err error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", "", err
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript":
				return
			case "title":
				if n.FirstChild != nil && title == "" {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			}
		case html.TextNode:
			if s := strings.TrimSpace(n.Data); s != "" {
				sb.WriteString(s)
				sb.WriteString("\n")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return title, strings.TrimSpace(sb.String()), nil
}
