package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"code-rag/internal/helper"
	"code-rag/internal/models"
)

const Backend = "chromem"

var errNoEmbeddingFunc = errors.New("documents must be embedded before they are added")

// VectorDBManager keeps one chromem-go collection in memory and persists it
// to a single exported file next to a YAML manifest.
type VectorDBManager struct {
	db             *chromem.DB
	collection     *chromem.Collection
	collectionName string
	compress       bool
	encryptionKey  string
	filePath       string
	manifestPath   string
}

// NewVectorDBManager prepares a manager for the index stored at indexPath plus
// the chromem suffix. Nothing is read or written until Load or Save.
func NewVectorDBManager(indexPath, collectionName string, compress bool, encryptionKey string) *VectorDBManager {
	suffix := models.IndexFileSuffix
	if compress {
		suffix = models.CompressedIndexFileSuffix
	}
	return &VectorDBManager{
		db:             chromem.NewDB(),
		collectionName: collectionName,
		compress:       compress,
		encryptionKey:  encryptionKey,
		filePath:       indexPath + suffix,
		manifestPath:   indexPath + models.ManifestFileSuffix,
	}
}

func (m *VectorDBManager) Location() string { return m.filePath }

// Exists reports whether an exported index file is present.
func (m *VectorDBManager) Exists(ctx context.Context) (bool, error) {
	return helper.FileExists(m.filePath)
}

// Load imports the exported collection and returns the manifest it was saved with.
func (m *VectorDBManager) Load(ctx context.Context) (models.Manifest, error) {
	var manifest models.Manifest

	raw, err := os.ReadFile(m.manifestPath)
	if err != nil {
		return manifest, fmt.Errorf("failed to read manifest: %w", err)
	}
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return manifest, fmt.Errorf("failed to parse manifest %s: %w", m.manifestPath, err)
	}

	db := chromem.NewDB()
	if err := db.ImportFromFile(m.filePath, m.encryptionKey, m.collectionName); err != nil {
		return manifest, fmt.Errorf("failed to import database: %w", err)
	}
	collection := db.GetCollection(m.collectionName, noEmbedding)
	if collection == nil {
		return manifest, fmt.Errorf("collection %q not found in %s", m.collectionName, m.filePath)
	}

	m.db = db
	m.collection = collection
	log.Debug().Str("file", m.filePath).Int("documents", collection.Count()).Msg("Imported collection")
	return manifest, nil
}

// Save replaces the collection with entries and exports it. The manifest is
// written first and the index file is renamed into place last. If that last
// rename fails the manifest is removed, so an old index is never paired with a
// new manifest.
func (m *VectorDBManager) Save(ctx context.Context, entries []models.IndexedEntry, manifest models.Manifest) error {
	db := chromem.NewDB()
	collection, err := db.CreateCollection(m.collectionName, nil, noEmbedding)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	docs := make([]chromem.Document, 0, len(entries))
	for _, e := range entries {
		docs = append(docs, chromem.Document{
			ID:      e.ID,
			Content: e.Text,
			Metadata: map[string]string{
				models.MetadataPath: e.Metadata.Path,
				models.MetadataType: e.Metadata.Type,
			},
			Embedding: e.Embedding,
		})
	}
	if err := collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}

	if err := helper.CreateFolder(filepath.Dir(m.filePath)); err != nil {
		return err
	}

	tmpIndex := m.filePath + ".tmp"
	if err := db.ExportToFile(tmpIndex, m.compress, m.encryptionKey, m.collectionName); err != nil {
		os.Remove(tmpIndex)
		return fmt.Errorf("failed to export database: %w", err)
	}

	raw, err := yaml.Marshal(manifest)
	if err != nil {
		os.Remove(tmpIndex)
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	tmpManifest := m.manifestPath + ".tmp"
	if err := os.WriteFile(tmpManifest, raw, 0o644); err != nil {
		os.Remove(tmpIndex)
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmpManifest, m.manifestPath); err != nil {
		os.Remove(tmpIndex)
		os.Remove(tmpManifest)
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmpIndex, m.filePath); err != nil {
		// The manifest describes the new entries, so it must not sit next to
		// whatever index file is still in place.
		os.Remove(m.manifestPath)
		os.Remove(tmpIndex)
		return fmt.Errorf("failed to write index: %w", err)
	}

	m.db = db
	m.collection = collection
	log.Debug().Str("file", m.filePath).Int("documents", len(docs)).Bool("compress", m.compress).Msg("Exported collection")
	return nil
}

// Search returns the n entries most similar to embedding. n must not exceed Count.
func (m *VectorDBManager) Search(ctx context.Context, embedding []float32, n int) ([]models.Match, error) {
	if m.collection == nil {
		return nil, fmt.Errorf("collection is not loaded")
	}
	if len(embedding) == 0 {
		return nil, fmt.Errorf("query embedding is empty")
	}

	results, err := m.collection.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	matches := make([]models.Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, models.Match{
			ID:         r.ID,
			Similarity: r.Similarity,
			Document: models.Document{
				Text: r.Content,
				Metadata: models.Metadata{
					Path: r.Metadata[models.MetadataPath],
					Type: r.Metadata[models.MetadataType],
				},
			},
		})
	}
	return matches, nil
}

// Count is the number of documents in the loaded collection.
func (m *VectorDBManager) Count() int {
	if m.collection == nil {
		return 0
	}
	return m.collection.Count()
}

// Close is a no-op; the collection lives in memory.
func (m *VectorDBManager) Close() error { return nil }

func noEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}
