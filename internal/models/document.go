package models

import "time"

// Metadata records where a document came from.
type Metadata struct {
	Path string `json:"path" yaml:"path"`
	Type string `json:"type" yaml:"type"`
}

// Document is one loaded project file.
type Document struct {
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}

// IndexedEntry is a document plus its embedding, as stored by a vector backend.
type IndexedEntry struct {
	ID        string
	Text      string
	Embedding []float32
	Metadata  Metadata
}

// Match is a single similarity search hit.
type Match struct {
	Document
	ID         string
	Similarity float32
}

// EmbeddingIdentity names the embedding model an index was built with.
type EmbeddingIdentity struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

func (e EmbeddingIdentity) String() string {
	return e.Provider + "/" + e.Model
}

// Manifest is written next to every persisted index.
type Manifest struct {
	IndexName     string            `yaml:"index_name"`
	Backend       string            `yaml:"backend"`
	Embedding     EmbeddingIdentity `yaml:"embedding"`
	DocumentCount int               `yaml:"document_count"`
	CreatedAt     time.Time         `yaml:"created_at"`
}

// QueryResult is the answer to one question and the documents it was built from.
type QueryResult struct {
	Question string
	Answer   string
	Sources  []Document
}

// SourcePaths lists the source paths in ranking order.
func (r *QueryResult) SourcePaths() []string {
	paths := make([]string, 0, len(r.Sources))
	for _, doc := range r.Sources {
		path := doc.Metadata.Path
		if path == "" {
			path = UnknownPath
		}
		paths = append(paths, path)
	}
	return paths
}
