package rag

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/sensei/pkg/model"
	"github.com/m-mizutani/sensei/pkg/utils/logging"
)

// defaultRelevanceFloor is the minimum similarity below which a candidate
// is discarded as noise
const defaultRelevanceFloor = 0.5

// overfetchFactor compensates for filter-induced drop-out: with filters
// present the index is asked for 3x the requested count before filtering
const overfetchFactor = 3

// Retriever answers similarity queries against the knowledge index with
// lexical post-filtering on citations
type Retriever struct {
	index *Index
	floor float64
}

type RetrieverOption func(*Retriever)

// WithRelevanceFloor overrides the minimum relevance score
func WithRelevanceFloor(floor float64) RetrieverOption {
	return func(r *Retriever) {
		r.floor = floor
	}
}

func NewRetriever(index *Index, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		index: index,
		floor: defaultRelevanceFloor,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve returns up to topK chunks relevant to the query, each scoring at
// least the relevance floor, in descending relevance order with no
// duplicates. Filters keep only chunks whose citation contains at least one
// keyword (case-insensitive substring).
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, filters []string) (*model.RetrievalResult, error) {
	if topK <= 0 {
		return nil, goerr.New("top_k must be positive", goerr.V("top_k", topK))
	}

	fetch := topK
	if len(filters) > 0 {
		fetch = topK * overfetchFactor
	}

	candidates, err := r.index.Query(ctx, query, fetch)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query knowledge index")
	}

	result := &model.RetrievalResult{}
	seen := make(map[string]bool)

	for _, candidate := range candidates {
		if len(result.Chunks) >= topK {
			break
		}
		if candidate.Relevance < r.floor {
			// Candidates arrive in descending order; everything after
			// this one is below the floor too
			break
		}
		if seen[candidate.ID] {
			continue
		}
		if !candidate.MatchesFilter(filters) {
			continue
		}

		seen[candidate.ID] = true
		result.Chunks = append(result.Chunks, candidate)
	}

	result.Count = len(result.Chunks)

	logging.From(ctx).Debug("retrieved knowledge chunks",
		"query_len", len(query),
		"top_k", topK,
		"filters", filters,
		"count", result.Count,
	)

	return result, nil
}
