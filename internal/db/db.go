package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"code-rag/internal/config"
	"code-rag/internal/models"
)

const (
	Backend = "postgres"

	manifestsTable = "index_manifests"
)

type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`
	IndexName     string          `bun:"index_name,pk"`
	ID            string          `bun:"id,pk"`
	Content       string          `bun:"content,notnull"`
	Path          string          `bun:"path,notnull"`
	Type          string          `bun:"type,notnull"`
	Embedding     pgvector.Vector `bun:"embedding,notnull,type:vector"`
	Similarity    float32         `bun:"similarity,scanonly"`
}

type Manifest struct {
	bun.BaseModel `bun:"table:index_manifests,alias:m"`
	IndexName     string    `bun:"index_name,pk"`
	Backend       string    `bun:"backend,notnull"`
	Provider      string    `bun:"provider,notnull"`
	Model         string    `bun:"model,notnull"`
	Dimension     int       `bun:"dimension,notnull"`
	DocumentCount int       `bun:"document_count,notnull"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
}

// ConnectDB opens a database handle with the configured driver.
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case config.DriverPq:
		sqldb, err := sql.Open("postgres", cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		return sqldb, nil
	case config.DriverPgdriver, "":
		return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.URL))), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

func InitDB(ctx context.Context, db *bun.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}
	if _, err := db.NewCreateTable().Model((*Document)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}
	if _, err := db.NewCreateTable().Model((*Manifest)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create manifests table: %w", err)
	}
	return nil
}

// Store keeps every index in the same two tables, keyed by index name.
type Store struct {
	db        *bun.DB
	indexName string
	count     int
}

func NewStore(db *bun.DB, indexName string) *Store {
	return &Store{db: db, indexName: indexName}
}

func (s *Store) Location() string { return "postgres:" + s.indexName }

// Exists reports whether a manifest row exists for the index.
// A missing manifests table counts as no index.
func (s *Store) Exists(ctx context.Context) (bool, error) {
	var table sql.NullString
	if err := s.db.NewRaw("SELECT to_regclass(?::text)", manifestsTable).Scan(ctx, &table); err != nil {
		return false, fmt.Errorf("failed to look up manifests table: %w", err)
	}
	if !table.Valid {
		return false, nil
	}
	exists, err := s.db.NewSelect().Model((*Manifest)(nil)).Where("index_name = ?", s.indexName).Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to look up manifest: %w", err)
	}
	return exists, nil
}

func (s *Store) Load(ctx context.Context) (models.Manifest, error) {
	var row Manifest
	err := s.db.NewSelect().Model(&row).Where("index_name = ?", s.indexName).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Manifest{}, fmt.Errorf("no manifest for index %q", s.indexName)
	}
	if err != nil {
		return models.Manifest{}, fmt.Errorf("failed to read manifest: %w", err)
	}

	count, err := s.db.NewSelect().Model((*Document)(nil)).Where("index_name = ?", s.indexName).Count(ctx)
	if err != nil {
		return models.Manifest{}, fmt.Errorf("failed to count documents: %w", err)
	}
	s.count = count
	return row.toModel(), nil
}

// Save replaces the index contents and manifest in one transaction.
func (s *Store) Save(ctx context.Context, entries []models.IndexedEntry, manifest models.Manifest) error {
	if err := InitDB(ctx, s.db); err != nil {
		return err
	}
	docs := make([]Document, 0, len(entries))
	for _, e := range entries {
		docs = append(docs, Document{
			IndexName: s.indexName,
			ID:        e.ID,
			Content:   e.Text,
			Path:      e.Metadata.Path,
			Type:      e.Metadata.Type,
			Embedding: pgvector.NewVector(e.Embedding),
		})
	}
	row := manifestRow(s.indexName, manifest)

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*Document)(nil)).Where("index_name = ?", s.indexName).Exec(ctx); err != nil {
			return fmt.Errorf("failed to clear documents: %w", err)
		}
		if len(docs) > 0 {
			if _, err := tx.NewInsert().Model(&docs).Exec(ctx); err != nil {
				return fmt.Errorf("failed to store documents: %w", err)
			}
		}
		if _, err := tx.NewInsert().Model(&row).On("CONFLICT (index_name) DO UPDATE").
			Set("backend = EXCLUDED.backend").
			Set("provider = EXCLUDED.provider").
			Set("model = EXCLUDED.model").
			Set("dimension = EXCLUDED.dimension").
			Set("document_count = EXCLUDED.document_count").
			Set("created_at = EXCLUDED.created_at").
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to store manifest: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.count = len(docs)
	log.Debug().Str("index", s.indexName).Int("documents", len(docs)).Msg("Stored documents")
	return nil
}

// Search orders by cosine distance, then id, so ties come back in a fixed order.
func (s *Store) Search(ctx context.Context, embedding []float32, n int) ([]models.Match, error) {
	var docs []Document
	vec := pgvector.NewVector(embedding)
	err := s.db.NewSelect().
		Model(&docs).
		Column("id", "content", "path", "type").
		ColumnExpr("1 - (embedding <=> ?::vector) AS similarity", vec).
		Where("index_name = ?", s.indexName).
		OrderExpr("embedding <=> ?::vector", vec).
		Order("id ASC").
		Limit(n).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}

	matches := make([]models.Match, 0, len(docs))
	for _, d := range docs {
		matches = append(matches, models.Match{
			ID:         d.ID,
			Similarity: d.Similarity,
			Document: models.Document{
				Text:     d.Content,
				Metadata: models.Metadata{Path: d.Path, Type: d.Type},
			},
		})
	}
	return matches, nil
}

func (s *Store) Count() int { return s.count }

func (s *Store) Close() error { return s.db.Close() }

func manifestRow(indexName string, m models.Manifest) Manifest {
	return Manifest{
		IndexName:     indexName,
		Backend:       m.Backend,
		Provider:      m.Embedding.Provider,
		Model:         m.Embedding.Model,
		Dimension:     m.Embedding.Dimension,
		DocumentCount: m.DocumentCount,
		CreatedAt:     m.CreatedAt,
	}
}

func (m Manifest) toModel() models.Manifest {
	return models.Manifest{
		IndexName: m.IndexName,
		Backend:   m.Backend,
		Embedding: models.EmbeddingIdentity{
			Provider:  m.Provider,
			Model:     m.Model,
			Dimension: m.Dimension,
		},
		DocumentCount: m.DocumentCount,
		CreatedAt:     m.CreatedAt,
	}
}

// drop tables

func DropTables(ctx context.Context, db *bun.DB) error {
	if _, err := db.NewDropTable().Model((*Document)(nil)).IfExists().Exec(ctx); err != nil {
		return err
	}
	_, err := db.NewDropTable().Model((*Manifest)(nil)).IfExists().Exec(ctx)
	return err
}
