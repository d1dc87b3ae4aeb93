package rag_test

import (
	"context"
	"strings"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/sensei/pkg/model"
	"github.com/m-mizutani/sensei/pkg/rag"
)

// stubEmbedding returns fixed vectors per known text so similarity ordering
// is fully deterministic
func stubEmbedding(vectors map[string][]float32) func(ctx context.Context, text string) ([]float32, error) {
	return func(ctx context.Context, text string) ([]float32, error) {
		if v, ok := vectors[text]; ok {
			return v, nil
		}
		return nil, goerr.New("no stub vector for text", goerr.V("text", text))
	}
}

func buildTestIndex(t *testing.T) *rag.Index {
	t.Helper()

	vectors := map[string][]float32{
		"quadratic equations":  {1, 0, 0},
		"factoring quadratics": {0.8, 0.6, 0},
		"roots of polynomials": {0.6, 0.8, 0},
		"sine and cosine":      {0, 1, 0},
	}

	index := rag.NewMemoryIndex(stubEmbedding(vectors))

	chunks := []model.KnowledgeChunk{
		{ID: "algebra.md#0000", Text: "quadratic equations", Source: "algebra.md", Section: "Quadratic Equations"},
		{ID: "algebra.md#0001", Text: "factoring quadratics", Source: "algebra.md", Section: "Factoring"},
		{ID: "algebra.md#0002", Text: "roots of polynomials", Source: "algebra.md", Section: "Polynomials"},
		{ID: "trig.md#0000", Text: "sine and cosine", Source: "trig.md", Section: "Basic Ratios"},
	}

	gt.NoError(t, index.Rebuild(context.Background(), chunks))
	return index
}

func TestRetrieve(t *testing.T) {
	ctx := context.Background()
	retriever := rag.NewRetriever(buildTestIndex(t))

	t.Run("top_k bounds and ordering", func(t *testing.T) {
		result, err := retriever.Retrieve(ctx, "quadratic equations", 2, nil)
		gt.NoError(t, err)
		gt.V(t, result.Count).Equal(2)
		gt.V(t, result.Chunks[0].ID).Equal("algebra.md#0000")
		gt.V(t, result.Chunks[1].ID).Equal("algebra.md#0001")

		for i, chunk := range result.Chunks {
			if chunk.Relevance < 0.5 {
				t.Errorf("chunk %d relevance %f below floor", i, chunk.Relevance)
			}
			if i > 0 && result.Chunks[i-1].Relevance < chunk.Relevance {
				t.Errorf("relevance not non-increasing at %d", i)
			}
		}
	})

	t.Run("relevance floor drops weak candidates", func(t *testing.T) {
		result, err := retriever.Retrieve(ctx, "quadratic equations", 10, nil)
		gt.NoError(t, err)
		// "sine and cosine" is orthogonal to the query and must not appear
		gt.V(t, result.Count).Equal(3)
		for _, chunk := range result.Chunks {
			gt.V(t, chunk.Source).Equal("algebra.md")
		}
	})

	t.Run("filters keep matching citations only", func(t *testing.T) {
		result, err := retriever.Retrieve(ctx, "quadratic equations", 3, []string{"polynomials"})
		gt.NoError(t, err)
		gt.V(t, result.Count).Equal(1)
		gt.V(t, result.Chunks[0].ID).Equal("algebra.md#0002")
	})

	t.Run("filters are case-insensitive", func(t *testing.T) {
		result, err := retriever.Retrieve(ctx, "quadratic equations", 3, []string{"FACTORING"})
		gt.NoError(t, err)
		gt.V(t, result.Count).Equal(1)
		gt.V(t, result.Chunks[0].ID).Equal("algebra.md#0001")
	})

	t.Run("unmatched filter yields empty result", func(t *testing.T) {
		result, err := retriever.Retrieve(ctx, "quadratic equations", 3, []string{"statistics"})
		gt.NoError(t, err)
		gt.V(t, result.Count).Equal(0)
	})

	t.Run("invalid top_k rejected", func(t *testing.T) {
		_, err := retriever.Retrieve(ctx, "quadratic equations", 0, nil)
		gt.Error(t, err)
	})
}

func TestRetrieveEmptyIndex(t *testing.T) {
	ctx := context.Background()
	index := rag.NewMemoryIndex(stubEmbedding(nil))
	gt.NoError(t, index.Rebuild(ctx, nil))

	retriever := rag.NewRetriever(index)
	result, err := retriever.Retrieve(ctx, "anything", 3, nil)
	gt.NoError(t, err)
	gt.V(t, result.Count).Equal(0)
}

func TestRebuildIsIdempotent(t *testing.T) {
	ctx := context.Background()
	index := buildTestIndex(t)
	gt.V(t, index.Count()).Equal(4)

	// A second rebuild with fewer chunks fully replaces the collection
	gt.NoError(t, index.Rebuild(ctx, []model.KnowledgeChunk{
		{ID: "algebra.md#0000", Text: "quadratic equations", Source: "algebra.md", Section: "Quadratic Equations"},
	}))
	gt.V(t, index.Count()).Equal(1)
}

func TestIndexerChunking(t *testing.T) {
	doc := rag.Document{
		Name: "algebra.md",
		Content: `# Algebra Notes

## Quadratic Equations

A quadratic equation has the form ax^2 + bx + c = 0.

### Factoring

` + strings.Repeat("Factor pairs multiply to c and add to b. ", 8) + `

## Linear Equations

Isolate the variable on one side.
`,
	}

	indexer := rag.NewIndexer(rag.WithChunkSize(120), rag.WithOverlap(20))
	chunks := indexer.Chunk([]rag.Document{doc})

	if len(chunks) < 3 {
		t.Fatalf("expected at least 3 chunks, got %d", len(chunks))
	}

	for _, chunk := range chunks {
		gt.V(t, chunk.Source).Equal("algebra.md")
		if len(chunk.Text) > 120 {
			t.Errorf("chunk %s exceeds window: %d chars", chunk.ID, len(chunk.Text))
		}
		if chunk.Text == "" {
			t.Errorf("chunk %s is empty", chunk.ID)
		}
	}

	// Section labels follow the headers
	gt.V(t, chunks[0].Section).Equal("Quadratic Equations")
	gt.V(t, chunks[0].Subsection).Equal("")

	var sawFactoring, sawLinear bool
	for _, chunk := range chunks {
		if chunk.Subsection == "Factoring" {
			sawFactoring = true
		}
		if chunk.Section == "Linear Equations" {
			sawLinear = true
		}
	}
	gt.V(t, sawFactoring).Equal(true)
	gt.V(t, sawLinear).Equal(true)

	// IDs are unique
	seen := map[string]bool{}
	for _, chunk := range chunks {
		if seen[chunk.ID] {
			t.Errorf("duplicate chunk id %s", chunk.ID)
		}
		seen[chunk.ID] = true
	}
}

func TestIndexerOverlap(t *testing.T) {
	// One long paragraph forces hard splits with character overlap
	long := strings.Repeat("abcdefghij", 30)
	doc := rag.Document{Name: "long.md", Content: "## Section\n\n" + long}

	indexer := rag.NewIndexer(rag.WithChunkSize(100), rag.WithOverlap(10))
	chunks := indexer.Chunk([]rag.Document{doc})

	if len(chunks) < 3 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1].Text
		tail := prev[len(prev)-10:]
		if !strings.HasPrefix(chunks[i].Text, tail) {
			t.Errorf("chunk %d does not start with previous tail", i)
		}
	}
}

func TestIndexerSmallDocument(t *testing.T) {
	doc := rag.Document{Name: "tiny.md", Content: "## Only\n\nshort text"}
	chunks := rag.NewIndexer().Chunk([]rag.Document{doc})
	gt.V(t, len(chunks)).Equal(1)
	gt.V(t, chunks[0].Text).Equal("short text")
	gt.V(t, chunks[0].Section).Equal("Only")
}
