package parser

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"code-rag/internal/models"
)

// Extractor turns one file into plain text.
type Extractor func(path string) (string, error)

// Loader walks a project directory and loads files whose names end with one
// of the allowed extensions.
type Loader struct {
	extensions  []string
	excludeDirs map[string]struct{}
	extractors  map[string]Extractor
}

// NewLoader returns a loader for the given extension allow-list. Matching is a
// case-sensitive suffix match on the file name.
func NewLoader(extensions []string, excludeDirs []string) *Loader {
	excluded := make(map[string]struct{}, len(excludeDirs))
	for _, dir := range excludeDirs {
		if dir = strings.TrimSpace(dir); dir != "" {
			excluded[dir] = struct{}{}
		}
	}
	return &Loader{
		extensions:  append([]string(nil), extensions...),
		excludeDirs: excluded,
		extractors:  defaultExtractors(),
	}
}

// LoadProjectFiles is a shorthand for NewLoader(extensions, nil).Load(dir).
func LoadProjectFiles(dir string, extensions []string) ([]models.Document, []*models.FileReadError) {
	return NewLoader(extensions, nil).Load(dir)
}

// Load returns one document per readable, non-blank matching file, in walk
// order. Files that cannot be read are reported in the second return value
// and skipped.
func (l *Loader) Load(dir string) ([]models.Document, []*models.FileReadError) {
	var (
		documents []models.Document
		failures  []*models.FileReadError
	)

	fail := func(path string, err error) {
		ferr := &models.FileReadError{Path: path, Err: err}
		log.Warn().Err(err).Str("path", path).Msg("Error loading file")
		failures = append(failures, ferr)
	}

	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			fail(path, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if _, skip := l.excludeDirs[d.Name()]; skip && path != dir {
				log.Debug().Str("path", path).Msg("Skipping excluded directory")
				return filepath.SkipDir
			}
			return nil
		}
		if !l.matches(d.Name()) {
			return nil
		}

		text, err := l.read(path)
		if err != nil {
			fail(path, err)
			return nil
		}
		if strings.TrimSpace(text) == "" {
			log.Debug().Str("path", path).Msg("Skipping empty file")
			return nil
		}

		documents = append(documents, models.Document{
			Text: text,
			Metadata: models.Metadata{
				Path: path,
				Type: filepath.Ext(d.Name()),
			},
		})
		return nil
	})

	log.Info().Str("dir", dir).Int("documents", len(documents)).Int("failures", len(failures)).Msg("Loaded project files")
	return documents, failures
}

func (l *Loader) matches(name string) bool {
	for _, ext := range l.extensions {
		if ext != "" && strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

func (l *Loader) read(path string) (string, error) {
	if extract, ok := l.extractors[strings.ToLower(filepath.Ext(path))]; ok {
		return extract(path)
	}
	return readText(path)
}

func readText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", models.ErrInvalidUTF8
	}
	return string(data), nil
}
