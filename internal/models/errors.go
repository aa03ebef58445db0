package models

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidUTF8       = errors.New("file is not valid UTF-8")
	ErrEmbeddingMismatch = errors.New("embedding model does not match the index")
	ErrDimensionMismatch = errors.New("embedding dimension does not match the index")
	ErrIndexInconsistent = errors.New("index contents do not match its manifest")
)

// FileReadError is a per-file loading failure. Loading continues past it.
type FileReadError struct {
	Path string
	Err  error
}

func (e *FileReadError) Error() string {
	return fmt.Sprintf("failed to read %s: %v", e.Path, e.Err)
}

func (e *FileReadError) Unwrap() error { return e.Err }

// EmptyCorpusError means there was nothing to build an index from.
type EmptyCorpusError struct {
	// Documents is how many documents were offered, all of them blank when non-zero.
	Documents int
}

func (e *EmptyCorpusError) Error() string {
	if e.Documents == 0 {
		return "no documents were found in the project"
	}
	return fmt.Sprintf("no valid documents to index (%d blank)", e.Documents)
}

// IndexLoadError means a persisted index exists but cannot be used.
type IndexLoadError struct {
	Location string
	Err      error
}

func (e *IndexLoadError) Error() string {
	return fmt.Sprintf("failed to load index %s: %v", e.Location, e.Err)
}

func (e *IndexLoadError) Unwrap() error { return e.Err }

// GenerationError wraps a failure of the generation provider.
type GenerationError struct {
	Model string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation with %s failed: %v", e.Model, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
