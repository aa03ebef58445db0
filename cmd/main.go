package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/tmc/langchaingo/embeddings"

	"code-rag/internal/chromemdb"
	"code-rag/internal/config"
	"code-rag/internal/db"
	"code-rag/internal/embedding"
	"code-rag/internal/helper"
	"code-rag/internal/llmservice"
	"code-rag/internal/models"
	"code-rag/internal/parser"
	"code-rag/internal/rag"
)

const configFilePath = "./configs/config.yaml"

type options struct {
	query  string
	dryRun bool
}

type vectorStore interface {
	rag.VectorStore
	Close() error
}

// dependencies are the provider constructors used by run.
type dependencies struct {
	newEmbedder  func(cfg *config.EmbedLLMConfig) (embeddings.Embedder, error)
	newGenerator func(cfg *config.InferenceLLMConfig) (rag.Generator, error)
	newStore     func(cfg *config.Config) (vectorStore, error)
	progress     io.Writer
}

func defaultDependencies() dependencies {
	return dependencies{
		newEmbedder: func(cfg *config.EmbedLLMConfig) (embeddings.Embedder, error) {
			return embedding.NewEmbedder(cfg)
		},
		newGenerator: func(cfg *config.InferenceLLMConfig) (rag.Generator, error) {
			return llmservice.NewGenerator(cfg)
		},
		newStore: openStore,
		progress: os.Stderr,
	}
}

func main() {
	configPath := flag.String("config", configFilePath, "Path to the config file")
	query := flag.String("query", models.DefaultQuestion, "Question to be answered")
	rebuild := flag.Bool("rebuild", false, "Rebuild the index even if one exists")
	project := flag.String("project", "", "Project directory to index")
	topK := flag.Int("top-k", 0, "Number of documents to retrieve")
	dryRun := flag.Bool("dry-run", false, "Dry run, only list the documents that would be indexed")
	flag.Parse()

	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading .env: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *project != "" {
		cfg.ProjectPath = *project
	}
	if *topK > 0 {
		cfg.RAG.TopK = *topK
	}
	if *rebuild {
		cfg.Index.ForceRebuild = true
	}

	helper.SetupLogger(cfg.Log.Level)

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Error().Msg("Invalid configuration")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, options{query: *query, dryRun: *dryRun}, defaultDependencies(), os.Stdout); err != nil {
		reportError(err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts options, deps dependencies, out io.Writer) error {
	log.Debug().Str("project", cfg.ProjectPath).Strs("extensions", cfg.AllowedExtensions).Msg("Loading project")
	docs, failures := parser.NewLoader(cfg.AllowedExtensions, cfg.ExcludeDirs).Load(cfg.ProjectPath)
	if len(failures) > 0 {
		log.Warn().Int("failures", len(failures)).Msg("Some files could not be loaded")
	}

	if opts.dryRun {
		printDocuments(out, docs)
		return nil
	}

	embedder, err := deps.newEmbedder(&cfg.EmbedLLM)
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}

	store, err := deps.newStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open vector store: %w", err)
	}
	defer store.Close()

	var bar *progressbar.ProgressBar
	indexStore := rag.NewIndexStore(store, embedder, embedding.Identity(&cfg.EmbedLLM),
		rag.WithIndexName(filepath.Base(cfg.Index.Path)),
		rag.WithBackend(cfg.Index.Backend),
		rag.WithForceRebuild(cfg.Index.ForceRebuild),
		rag.WithBatchSize(cfg.EmbedLLM.BatchSize),
		rag.WithProgress(func(done, total int) {
			if bar == nil {
				bar = getProgressBar(deps.progress, total, "Embedding documents")
			}
			_ = bar.Set(done)
		}),
	)
	index, err := indexStore.BuildOrLoad(ctx, docs)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return err
	}
	manifest := index.Manifest()
	log.Info().Str("index", index.Location()).Bool("loaded", index.Loaded).
		Int("documents", manifest.DocumentCount).Str("embedding", manifest.Embedding.String()).
		Time("created_at", manifest.CreatedAt).Msg("Index ready")

	generator, err := deps.newGenerator(&cfg.InferenceLLM)
	if err != nil {
		return fmt.Errorf("failed to initialize generator: %w", err)
	}

	pipeline, err := rag.NewRAG(rag.NewRetriever(index, embedder), generator, cfg)
	if err != nil {
		return err
	}

	result, err := pipeline.Query(ctx, opts.query)
	if err != nil {
		return err
	}

	printResult(out, result)
	return nil
}

func openStore(cfg *config.Config) (vectorStore, error) {
	switch cfg.Index.Backend {
	case config.BackendPostgres:
		sqldb, err := db.ConnectDB(&cfg.Database)
		if err != nil {
			return nil, err
		}
		return db.NewStore(db.NewDB(sqldb, cfg.Database.Debug), filepath.Base(cfg.Index.Path)), nil
	case config.BackendChromem, "":
		return chromemdb.NewVectorDBManager(cfg.Index.Path, cfg.Index.Collection, cfg.Index.Compress, cfg.Index.EncryptionKey), nil
	default:
		return nil, fmt.Errorf("unsupported index backend %q", cfg.Index.Backend)
	}
}

func getProgressBar(w io.Writer, total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("docs"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func printDocuments(out io.Writer, docs []models.Document) {
	heading := color.New(color.FgCyan, color.Bold)
	heading.Fprintf(out, "Documents (%d):\n", len(docs))
	for _, doc := range docs {
		fmt.Fprintf(out, "  %s (%s, %d bytes)\n", doc.Metadata.Path, doc.Metadata.Type, len(doc.Text))
	}
}

func printResult(out io.Writer, result *models.QueryResult) {
	heading := color.New(color.FgCyan, color.Bold)

	heading.Fprintln(out, "Pergunta:")
	fmt.Fprintf(out, "%s\n\n", result.Question)

	heading.Fprintln(out, "Resposta:")
	answer := result.Answer
	if answer == "" {
		answer = models.MissingAnswer
	}
	fmt.Fprintf(out, "%s\n\n", answer)

	heading.Fprintln(out, "Fontes:")
	for _, path := range result.SourcePaths() {
		fmt.Fprintf(out, "- %s\n", path)
	}
}

func reportError(err error) {
	var (
		emptyErr *models.EmptyCorpusError
		loadErr  *models.IndexLoadError
		genErr   *models.GenerationError
	)
	switch {
	case errors.As(err, &emptyErr):
		log.Error().Err(err).Msg("Nothing to index, check project_path and allowed_extensions")
	case errors.As(err, &loadErr):
		log.Error().Err(err).Str("index", loadErr.Location).Msg("Existing index cannot be used, rerun with -rebuild to replace it")
	case errors.As(err, &genErr):
		log.Error().Err(err).Str("model", genErr.Model).Msg("Answer generation failed")
	default:
		log.Error().Err(err).Msg("Query failed")
	}
}
