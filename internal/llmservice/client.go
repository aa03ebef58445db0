package llmservice

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"code-rag/internal/config"
	"code-rag/internal/models"
)

// Generator calls a langchaingo model with the configured generation options.
type Generator struct {
	llm   llms.Model
	model string
	opts  []llms.CallOption
}

// NewGenerator builds the provider named in cfg.
func NewGenerator(cfg *config.InferenceLLMConfig) (*Generator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("inference config is nil")
	}
	log.Debug().Interface("config", map[string]string{
		"provider": cfg.Provider,
		"base_url": cfg.BaseURL,
		"model":    cfg.Model,
	}).Msg("Creating generator")

	llm, err := newModel(&cfg.LLMConfig)
	if err != nil {
		return nil, err
	}
	return NewGeneratorWithModel(llm, cfg), nil
}

// NewGeneratorWithModel wraps an already constructed model.
func NewGeneratorWithModel(llm llms.Model, cfg *config.InferenceLLMConfig) *Generator {
	return &Generator{llm: llm, model: cfg.Model, opts: callOptions(cfg)}
}

// Model is the configured model name.
func (g *Generator) Model() string { return g.model }

// Generate sends prompt as a single human message and returns the raw text.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	out, err := llms.GenerateFromSinglePrompt(ctx, g.llm, prompt, g.opts...)
	if err != nil {
		return "", &models.GenerationError{Model: g.model, Err: err}
	}
	log.Debug().Str("model", g.model).Int("chars", len(out)).Msg("Generated answer")
	return out, nil
}

func callOptions(cfg *config.InferenceLLMConfig) []llms.CallOption {
	var opts []llms.CallOption
	if cfg.MaxNewTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(cfg.MaxNewTokens))
	}
	if cfg.PadToken != "" {
		opts = append(opts, llms.WithStopWords([]string{cfg.PadToken}))
	}
	if cfg.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(cfg.Temperature))
	}
	return opts
}

func newModel(cfg *config.LLMConfig) (llms.Model, error) {
	switch cfg.Provider {
	case config.ProviderOllama:
		llm, err := ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ollama model: %w", err)
		}
		return llm, nil
	case config.ProviderOpenAI:
		llm, err := openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai model: %w", err)
		}
		return llm, nil
	default:
		return nil, fmt.Errorf("unsupported inference provider %q", cfg.Provider)
	}
}
