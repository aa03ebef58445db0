package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"code-rag/internal/models"
)

var (
	ErrInvalidK   = errors.New("k must be at least 1")
	ErrEmptyQuery = errors.New("query is empty")
)

// Retriever finds the documents of an index closest to a query. It must use
// the embedder the index was built with. Safe for concurrent use.
type Retriever struct {
	index    *Index
	embedder embeddings.Embedder
}

func NewRetriever(index *Index, embedder embeddings.Embedder) *Retriever {
	return &Retriever{index: index, embedder: embedder}
}

// Retrieve returns up to k documents, best match first.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]models.Document, error) {
	matches, err := r.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	docs := make([]models.Document, 0, len(matches))
	for _, m := range matches {
		docs = append(docs, m.Document)
	}
	return docs, nil
}

// Search returns the min(k, Count) best matches ordered by similarity
// descending, then by ID. Entries tied with the k-th match are all fetched
// before the cut so the result is the same on every call.
func (r *Retriever) Search(ctx context.Context, query string, k int) ([]models.Match, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidK, k)
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	embedding, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if dim := r.index.manifest.Embedding.Dimension; dim > 0 && len(embedding) != dim {
		return nil, fmt.Errorf("query vector has %d dimensions, index has %d: %w", len(embedding), dim, models.ErrDimensionMismatch)
	}

	size := r.index.Count()
	if size == 0 {
		return nil, nil
	}
	want := min(k, size)

	var matches []models.Match
	for n := want; ; n = min(n*2, size) {
		matches, err = r.index.store.Search(ctx, embedding, n)
		if err != nil {
			return nil, err
		}
		sortMatches(matches)
		if n >= size || len(matches) < n || len(matches) < want {
			break
		}
		if matches[len(matches)-1].Similarity != matches[want-1].Similarity {
			break
		}
	}
	if len(matches) > want {
		matches = matches[:want]
	}

	for i, m := range matches {
		log.Debug().Int("rank", i+1).Str("path", m.Metadata.Path).Float32("similarity", m.Similarity).Msg("Retrieved document")
	}
	return matches, nil
}

func sortMatches(matches []models.Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ID < matches[j].ID
	})
}
