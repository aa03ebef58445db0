package rag

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"code-rag/internal/helper"
	"code-rag/internal/models"
	"code-rag/internal/testutils"
)

func buildIndex(t *testing.T, docs []models.Document, embedder *testutils.MockEmbedder) *Index {
	t.Helper()
	index, err := NewIndexStore(newTestStore(t.TempDir()), embedder, testIdentity).BuildOrLoad(context.Background(), docs)
	require.NoError(t, err)
	return index
}

func TestRetrieveArguments(t *testing.T) {
	embedder := sampleEmbedder()
	r := NewRetriever(buildIndex(t, sampleDocs(), embedder), embedder)

	_, err := r.Retrieve(context.Background(), "login", 0)
	assert.ErrorIs(t, err, ErrInvalidK)

	_, err = r.Retrieve(context.Background(), "   ", 1)
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestRetrieveReturnsMinOfKAndSize(t *testing.T) {
	embedder := sampleEmbedder()
	r := NewRetriever(buildIndex(t, sampleDocs(), embedder), embedder)

	for k, want := range map[int]int{1: 1, 2: 2, 3: 3, 10: 3} {
		docs, err := r.Retrieve(context.Background(), "login", k)
		require.NoError(t, err)
		assert.Len(t, docs, want, "k=%d", k)
	}
}

func TestRetrieveRanksBySimilarity(t *testing.T) {
	embedder := sampleEmbedder()
	embedder.Vectors["how does login work"] = []float32{0.9, 0.1, 0.3}
	r := NewRetriever(buildIndex(t, sampleDocs(), embedder), embedder)

	matches, err := r.Search(context.Background(), "how does login work", 3)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "src/auth.ts", matches[0].Metadata.Path)
	assert.Equal(t, "src/routes.ts", matches[1].Metadata.Path)
	assert.Equal(t, "src/types.json", matches[2].Metadata.Path)
	assert.GreaterOrEqual(t, matches[0].Similarity, matches[1].Similarity)
	assert.GreaterOrEqual(t, matches[1].Similarity, matches[2].Similarity)
}

func TestRetrieveIsDeterministicOnTies(t *testing.T) {
	var docs []models.Document
	var ids []string
	for i := 0; i < 6; i++ {
		path := fmt.Sprintf("src/same%d.ts", i)
		docs = append(docs, doc(path, fmt.Sprintf("export const same%d = 1", i)))
		ids = append(ids, helper.DocumentID(path))
	}
	sort.Strings(ids)

	// Every document and the query share the default vector.
	embedder := testutils.NewMockEmbedder(nil)
	r := NewRetriever(buildIndex(t, docs, embedder), embedder)

	first, err := r.Search(context.Background(), "anything", 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, ids[:2], []string{first[0].ID, first[1].ID})

	for i := 0; i < 5; i++ {
		again, err := r.Search(context.Background(), "anything", 2)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRetrieveQueryDimensionMismatch(t *testing.T) {
	embedder := sampleEmbedder()
	r := NewRetriever(buildIndex(t, sampleDocs(), embedder), embedder)

	embedder.Vectors["short"] = []float32{1, 0}
	_, err := r.Retrieve(context.Background(), "short", 1)
	assert.ErrorIs(t, err, models.ErrDimensionMismatch)
}

func TestRetrieveEmbedderFailure(t *testing.T) {
	embedder := sampleEmbedder()
	r := NewRetriever(buildIndex(t, sampleDocs(), embedder), embedder)

	embedder.FailOn = "boom"
	_, err := r.Retrieve(context.Background(), "boom", 1)
	assert.ErrorIs(t, err, testutils.ErrScripted)
}

func TestSortMatches(t *testing.T) {
	matches := []models.Match{
		{ID: "c", Similarity: 0.5},
		{ID: "b", Similarity: 0.9},
		{ID: "a", Similarity: 0.5},
	}
	sortMatches(matches)
	assert.Equal(t, []string{"b", "a", "c"}, []string{matches[0].ID, matches[1].ID, matches[2].ID})
}
