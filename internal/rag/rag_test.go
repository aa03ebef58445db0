package rag

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"code-rag/internal/config"
	"code-rag/internal/models"
	"code-rag/internal/parser"
	"code-rag/internal/testutils"
)

const (
	authSource  = "export function login(user: string, pass: string) { return issueToken(user) }"
	typesSource = `{"User": {"id": "string", "email": "string"}}`
)

func testConfig(topK int) *config.Config {
	cfg := config.Default()
	cfg.RAG.TopK = topK
	cfg.InferenceLLM.Model = "starcoder2:7b"
	return cfg
}

func newTestRAG(t *testing.T, cfg *config.Config, answer string) (*RAG, *testutils.MockGenerator) {
	t.Helper()
	embedder := sampleEmbedder()
	embedder.Vectors["login?"] = []float32{1, 0.1, 0.2}
	gen := &testutils.MockGenerator{Name: cfg.InferenceLLM.Model, Answer: answer}
	r, err := NewRAG(NewRetriever(buildIndex(t, sampleDocs(), embedder), embedder), gen, cfg)
	require.NoError(t, err)
	return r, gen
}

func TestQueryEndToEnd(t *testing.T) {
	ctx := context.Background()
	project := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(project, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(project, "src", "auth.ts"), []byte(authSource), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(project, "src", "types.json"), []byte(typesSource), 0o644))

	docs, failures := parser.LoadProjectFiles(project, []string{".ts", ".json"})
	require.Empty(t, failures)
	require.Len(t, docs, 2)

	embedder := testutils.NewMockEmbedder(map[string][]float32{
		authSource:             {0.9, 0.1, 0},
		typesSource:            {0.1, 0.9, 0},
		models.DefaultQuestion: {1, 0, 0},
	})
	index, err := NewIndexStore(newTestStore(t.TempDir()), embedder, testIdentity).BuildOrLoad(ctx, docs)
	require.NoError(t, err)

	gen := &testutils.MockGenerator{Answer: "A autenticação usa login() em auth.ts."}
	r, err := NewRAG(NewRetriever(index, embedder), gen, testConfig(1))
	require.NoError(t, err)

	result, err := r.Query(ctx, models.DefaultQuestion)
	require.NoError(t, err)

	assert.Equal(t, models.DefaultQuestion, result.Question)
	assert.Equal(t, gen.Answer, result.Answer)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, filepath.Join(project, "src", "auth.ts"), result.Sources[0].Metadata.Path)
	assert.Equal(t, []string{filepath.Join(project, "src", "auth.ts")}, result.SourcePaths())

	prompt := gen.LastPrompt()
	assert.Contains(t, prompt, authSource)
	assert.Contains(t, prompt, "Pergunta: "+models.DefaultQuestion)
	assert.NotContains(t, prompt, typesSource)
}

func TestQueryEndToEndDefaultTopK(t *testing.T) {
	ctx := context.Background()
	project := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(project, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(project, "src", "auth.ts"), []byte(authSource), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(project, "src", "types.json"), []byte(typesSource), 0o644))

	docs, failures := parser.LoadProjectFiles(project, []string{".ts", ".json"})
	require.Empty(t, failures)

	embedder := testutils.NewMockEmbedder(map[string][]float32{
		authSource:             {0.9, 0.1, 0},
		typesSource:            {0.1, 0.9, 0},
		models.DefaultQuestion: {1, 0, 0},
	})
	index, err := NewIndexStore(newTestStore(t.TempDir()), embedder, testIdentity).BuildOrLoad(ctx, docs)
	require.NoError(t, err)

	// k=3 with two documents returns both, best match first.
	gen := &testutils.MockGenerator{Answer: "login() em auth.ts."}
	r, err := NewRAG(NewRetriever(index, embedder), gen, testConfig(3))
	require.NoError(t, err)

	result, err := r.Query(ctx, models.DefaultQuestion)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(project, "src", "auth.ts"),
		filepath.Join(project, "src", "types.json"),
	}, result.SourcePaths())

	prompt := gen.LastPrompt()
	require.Contains(t, prompt, typesSource)
	assert.Less(t, strings.Index(prompt, authSource), strings.Index(prompt, typesSource))
}

func TestQueryGenerationErrorNamesGeneratorModel(t *testing.T) {
	cfg := testConfig(1)
	embedder := sampleEmbedder()
	embedder.Vectors["login?"] = []float32{1, 0.1, 0.2}
	gen := &testutils.MockGenerator{Name: "codellama:13b", Err: errors.New("connection refused")}
	r, err := NewRAG(NewRetriever(buildIndex(t, sampleDocs(), embedder), embedder), gen, cfg)
	require.NoError(t, err)

	_, err = r.Query(context.Background(), "login?")
	var genErr *models.GenerationError
	require.True(t, errors.As(err, &genErr), "got %v", err)
	assert.Equal(t, "codellama:13b", genErr.Model)
	assert.NotEqual(t, cfg.InferenceLLM.Model, genErr.Model)
}

func TestQueryJoinsContextInRankOrder(t *testing.T) {
	r, gen := newTestRAG(t, testConfig(3), "ok")

	result, err := r.Query(context.Background(), "login?")
	require.NoError(t, err)
	require.Len(t, result.Sources, 3)

	docs := sampleDocs()
	want := docs[0].Text + models.ContextSeparator + docs[2].Text + models.ContextSeparator + docs[1].Text
	assert.Contains(t, gen.LastPrompt(), "Contexto: "+want+"\n")
}

func TestQueryPassesEmptyAnswerThrough(t *testing.T) {
	r, _ := newTestRAG(t, testConfig(1), "")

	result, err := r.Query(context.Background(), "login?")
	require.NoError(t, err)
	assert.Equal(t, "", result.Answer)
	assert.Len(t, result.Sources, 1)
}

func TestQueryGenerationFailure(t *testing.T) {
	r, gen := newTestRAG(t, testConfig(1), "")
	gen.Err = errors.New("connection refused")

	_, err := r.Query(context.Background(), "login?")
	var genErr *models.GenerationError
	require.True(t, errors.As(err, &genErr), "got %v", err)
	assert.Equal(t, "starcoder2:7b", genErr.Model)

	scripted := &models.GenerationError{Model: "other", Err: errors.New("timeout")}
	gen.Err = scripted
	_, err = r.Query(context.Background(), "login?")
	require.True(t, errors.As(err, &genErr))
	assert.Same(t, scripted, genErr)
}

func TestQueryRetrievalFailure(t *testing.T) {
	r, gen := newTestRAG(t, testConfig(1), "")

	_, err := r.Query(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyQuery)
	assert.Empty(t, gen.Prompts)
}

func TestBuildPromptTruncatesContext(t *testing.T) {
	cfg := testConfig(3)
	cfg.InferenceLLM.Truncation = true
	cfg.InferenceLLM.MaxPromptTokens = 40
	r, _ := newTestRAG(t, cfg, "")

	long := strings.Repeat("token ", 100)
	docs := []models.Document{doc("a.ts", "first document"), doc("b.ts", long)}

	prompt, err := r.BuildPrompt("login?", docs)
	require.NoError(t, err)
	assert.Equal(t, 40, CountTokens(prompt))
	assert.Contains(t, prompt, "Contexto: first document"+models.ContextSeparator+"token")
	assert.Contains(t, prompt, "Pergunta: login?")

	cfg.InferenceLLM.Truncation = false
	r, _ = newTestRAG(t, cfg, "")
	prompt, err = r.BuildPrompt("login?", docs)
	require.NoError(t, err)
	assert.Contains(t, prompt, long)
}

func TestNewRAGTemplates(t *testing.T) {
	cfg := testConfig(1)
	cfg.RAG.PromptTemplate = "Q: {{.question}}\nC: {{.context}}"
	r, _ := newTestRAG(t, cfg, "")
	prompt, err := r.BuildPrompt("why?", []models.Document{doc("a.ts", "because")})
	require.NoError(t, err)
	assert.Equal(t, "Q: why?\nC: because", prompt)

	cfg.RAG.PromptTemplate = "{{.context"
	_, err = NewRAG(nil, &testutils.MockGenerator{}, cfg)
	assert.Error(t, err)
}

func TestFormatContext(t *testing.T) {
	assert.Equal(t, "", FormatContext(nil))
	assert.Equal(t, "a\n---\nb", FormatContext([]models.Document{doc("a", "a"), doc("b", "b")}))
}

func TestTruncateTokens(t *testing.T) {
	assert.Equal(t, "", TruncateTokens("a b c", 0))
	assert.Equal(t, "a  b", TruncateTokens("a  b\nc", 2))
	assert.Equal(t, "  a b c", TruncateTokens("  a b c ", 3))
	assert.Equal(t, "a b", TruncateTokens("a b", 5))
	assert.Equal(t, "a\n---\nb", TruncateTokens("a\n---\nb c", 3))
}
