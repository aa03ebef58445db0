package rag

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"code-rag/internal/helper"
	"code-rag/internal/models"
)

// VectorStore is a persisted similarity index backend.
type VectorStore interface {
	// Exists reports whether a complete index has been persisted.
	Exists(ctx context.Context) (bool, error)
	Load(ctx context.Context) (models.Manifest, error)
	// Save replaces any persisted index with entries.
	Save(ctx context.Context, entries []models.IndexedEntry, manifest models.Manifest) error
	// Search returns the n best matches; n must be between 1 and Count.
	Search(ctx context.Context, embedding []float32, n int) ([]models.Match, error)
	Count() int
	Location() string
}

// Index is a built or loaded vector index. It is read-only.
type Index struct {
	store    VectorStore
	manifest models.Manifest
	// Loaded is true when the index came from storage rather than a build.
	Loaded bool
}

func (i *Index) Manifest() models.Manifest { return i.manifest }

func (i *Index) Count() int { return i.store.Count() }

func (i *Index) Location() string { return i.store.Location() }

type ProgressFunc func(done, total int)

type IndexStore struct {
	store        VectorStore
	embedder     embeddings.Embedder
	identity     models.EmbeddingIdentity
	indexName    string
	backend      string
	forceRebuild bool
	batchSize    int
	onProgress   ProgressFunc
	now          func() time.Time
}

type Option func(*IndexStore)

func WithIndexName(name string) Option {
	return func(s *IndexStore) { s.indexName = name }
}

func WithBackend(name string) Option {
	return func(s *IndexStore) { s.backend = name }
}

func WithForceRebuild(force bool) Option {
	return func(s *IndexStore) { s.forceRebuild = force }
}

// WithBatchSize sets how many documents go into one EmbedDocuments call.
func WithBatchSize(n int) Option {
	return func(s *IndexStore) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithProgress is called after every embedded batch.
func WithProgress(fn ProgressFunc) Option {
	return func(s *IndexStore) { s.onProgress = fn }
}

func NewIndexStore(store VectorStore, embedder embeddings.Embedder, identity models.EmbeddingIdentity, opts ...Option) *IndexStore {
	s := &IndexStore{
		store:     store,
		embedder:  embedder,
		identity:  identity,
		indexName: "code_index",
		batchSize: 16,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BuildOrLoad loads the persisted index when one exists, without looking at
// docs. Otherwise it embeds docs and persists a new index.
func (s *IndexStore) BuildOrLoad(ctx context.Context, docs []models.Document) (*Index, error) {
	exists, err := s.store.Exists(ctx)
	if err != nil {
		return nil, &models.IndexLoadError{Location: s.store.Location(), Err: err}
	}
	if exists && !s.forceRebuild {
		return s.load(ctx)
	}
	if exists {
		log.Info().Str("index", s.store.Location()).Msg("Rebuilding existing index")
	}
	return s.build(ctx, docs)
}

func (s *IndexStore) load(ctx context.Context) (*Index, error) {
	location := s.store.Location()
	fail := func(err error) (*Index, error) {
		return nil, &models.IndexLoadError{Location: location, Err: err}
	}

	manifest, err := s.store.Load(ctx)
	if err != nil {
		return fail(err)
	}
	if manifest.Embedding.Provider != s.identity.Provider || manifest.Embedding.Model != s.identity.Model {
		return fail(fmt.Errorf("index built with %s, configured %s: %w",
			manifest.Embedding, s.identity, models.ErrEmbeddingMismatch))
	}
	if s.identity.Dimension > 0 && manifest.Embedding.Dimension != s.identity.Dimension {
		return fail(fmt.Errorf("index has %d dimensions, configured %d: %w",
			manifest.Embedding.Dimension, s.identity.Dimension, models.ErrDimensionMismatch))
	}
	if count := s.store.Count(); count != manifest.DocumentCount {
		return fail(fmt.Errorf("index holds %d entries, manifest records %d: %w",
			count, manifest.DocumentCount, models.ErrIndexInconsistent))
	}

	log.Info().Str("index", location).Int("documents", manifest.DocumentCount).
		Str("embedding", manifest.Embedding.String()).Msg("Loaded existing index")
	return &Index{store: s.store, manifest: manifest, Loaded: true}, nil
}

func (s *IndexStore) build(ctx context.Context, docs []models.Document) (*Index, error) {
	if len(docs) == 0 {
		return nil, &models.EmptyCorpusError{}
	}

	valid := make([]models.Document, 0, len(docs))
	for _, doc := range docs {
		if strings.TrimSpace(doc.Text) != "" {
			valid = append(valid, doc)
		}
	}
	if len(valid) == 0 {
		return nil, &models.EmptyCorpusError{Documents: len(docs)}
	}

	vectors, err := s.embed(ctx, valid)
	if err != nil {
		return nil, err
	}
	dim, err := s.dimension(vectors)
	if err != nil {
		return nil, err
	}

	entries := make([]models.IndexedEntry, 0, len(valid))
	seen := make(map[string]int, len(valid))
	for i, doc := range valid {
		id := helper.DocumentID(doc.Metadata.Path)
		if n := seen[doc.Metadata.Path]; n > 0 {
			id = helper.DocumentID(doc.Metadata.Path + "#" + strconv.Itoa(n))
		}
		seen[doc.Metadata.Path]++
		entries = append(entries, models.IndexedEntry{
			ID:        id,
			Text:      doc.Text,
			Embedding: vectors[i],
			Metadata:  doc.Metadata,
		})
	}

	identity := s.identity
	identity.Dimension = dim
	manifest := models.Manifest{
		IndexName:     s.indexName,
		Backend:       s.backend,
		Embedding:     identity,
		DocumentCount: len(entries),
		CreatedAt:     s.now().UTC(),
	}
	if err := s.store.Save(ctx, entries, manifest); err != nil {
		return nil, fmt.Errorf("failed to save index %s: %w", s.store.Location(), err)
	}

	log.Info().Str("index", s.store.Location()).Int("documents", len(entries)).
		Int("skipped", len(docs)-len(valid)).Int("dimension", dim).Msg("Built new index")
	return &Index{store: s.store, manifest: manifest}, nil
}

func (s *IndexStore) embed(ctx context.Context, docs []models.Document) ([][]float32, error) {
	vectors := make([][]float32, 0, len(docs))
	for start := 0; start < len(docs); start += s.batchSize {
		end := min(start+s.batchSize, len(docs))
		texts := make([]string, 0, end-start)
		for _, doc := range docs[start:end] {
			texts = append(texts, doc.Text)
		}

		batch, err := s.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("failed to embed documents %d-%d: %w", start, end-1, err)
		}
		if len(batch) != len(texts) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d documents", len(batch), len(texts))
		}
		vectors = append(vectors, batch...)

		if s.onProgress != nil {
			s.onProgress(end, len(docs))
		}
	}
	return vectors, nil
}

func (s *IndexStore) dimension(vectors [][]float32) (int, error) {
	dim := len(vectors[0])
	if dim == 0 {
		return 0, fmt.Errorf("embedder returned an empty vector")
	}
	for i, v := range vectors {
		if len(v) != dim {
			return 0, fmt.Errorf("vector %d has %d dimensions, expected %d: %w", i, len(v), dim, models.ErrDimensionMismatch)
		}
	}
	if s.identity.Dimension > 0 && dim != s.identity.Dimension {
		return 0, fmt.Errorf("embedder produced %d dimensions, configured %d: %w", dim, s.identity.Dimension, models.ErrDimensionMismatch)
	}
	return dim, nil
}
