// Package rag provides the knowledge index and retriever used to ground
// solver output in a curated corpus.
package rag

import (
	"context"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/sensei/pkg/adapter"
	"github.com/m-mizutani/sensei/pkg/model"
	chromem "github.com/philippgille/chromem-go"
)

const collectionName = "knowledge"

// NewGeminiEmbedding adapts the Gemini adapter into a chromem embedding
// function. Index build and query share this one function, so both sides of
// a similarity comparison always come from the identical embedding model.
func NewGeminiEmbedding(gemini adapter.Gemini) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		resp, err := gemini.Embedding(ctx, text)
		if err != nil {
			return nil, err
		}
		return adapter.EmbeddingValues(resp)
	}
}

// Index wraps the embedded vector database holding the knowledge corpus
type Index struct {
	db    *chromem.DB
	embed chromem.EmbeddingFunc
}

// NewIndex opens (or creates) a persistent index at the given directory
func NewIndex(path string, embed chromem.EmbeddingFunc) (*Index, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create index directory", goerr.V("path", path))
	}

	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open vector database", goerr.V("path", path))
	}

	return &Index{db: db, embed: embed}, nil
}

// NewMemoryIndex creates a volatile index, used by tests
func NewMemoryIndex(embed chromem.EmbeddingFunc) *Index {
	return &Index{db: chromem.NewDB(), embed: embed}
}

// Rebuild replaces the whole collection with the given chunks. Rebuilds are
// always full and idempotent; there is no incremental append path.
func (x *Index) Rebuild(ctx context.Context, chunks []model.KnowledgeChunk) error {
	if err := x.db.DeleteCollection(collectionName); err != nil {
		return goerr.Wrap(err, "failed to drop collection")
	}

	collection, err := x.db.GetOrCreateCollection(collectionName, nil, x.embed)
	if err != nil {
		return goerr.Wrap(err, "failed to create collection")
	}

	if len(chunks) == 0 {
		return nil
	}

	docs := make([]chromem.Document, 0, len(chunks))
	for _, chunk := range chunks {
		docs = append(docs, chromem.Document{
			ID:      chunk.ID,
			Content: chunk.Text,
			Metadata: map[string]string{
				"source":     chunk.Source,
				"section":    chunk.Section,
				"subsection": chunk.Subsection,
			},
		})
	}

	if err := collection.AddDocuments(ctx, docs, 1); err != nil {
		return goerr.Wrap(err, "failed to add documents", goerr.V("count", len(docs)))
	}

	return nil
}

// Count returns the number of indexed chunks
func (x *Index) Count() int {
	collection := x.db.GetCollection(collectionName, x.embed)
	if collection == nil {
		return 0
	}
	return collection.Count()
}

// Query embeds the query text and returns the n nearest chunks in
// descending similarity order
func (x *Index) Query(ctx context.Context, query string, n int) ([]model.RetrievedChunk, error) {
	collection := x.db.GetCollection(collectionName, x.embed)
	if collection == nil {
		return nil, nil
	}

	count := collection.Count()
	if count == 0 {
		return nil, nil
	}
	if n > count {
		n = count
	}

	results, err := collection.Query(ctx, query, n, nil, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query index")
	}

	chunks := make([]model.RetrievedChunk, 0, len(results))
	for _, r := range results {
		chunks = append(chunks, model.RetrievedChunk{
			KnowledgeChunk: model.KnowledgeChunk{
				ID:         r.ID,
				Text:       r.Content,
				Source:     r.Metadata["source"],
				Section:    r.Metadata["section"],
				Subsection: r.Metadata["subsection"],
			},
			Relevance: float64(r.Similarity),
		})
	}

	return chunks, nil
}
