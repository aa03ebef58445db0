package rag

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/prompts"

	"code-rag/internal/config"
	"code-rag/internal/models"
)

// Generator produces an answer for a fully rendered prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	// Model names the model in GenerationError.
	Model() string
}

type RAG struct {
	retriever       *Retriever
	generator       Generator
	template        prompts.PromptTemplate
	topK            int
	truncation      bool
	maxPromptTokens int
}

func NewRAG(retriever *Retriever, generator Generator, cfg *config.Config) (*RAG, error) {
	tmpl := cfg.RAG.PromptTemplate
	if tmpl == "" {
		tmpl = models.PromptTemplate
	}
	template := prompts.NewPromptTemplate(tmpl, models.PromptInputVariables)
	if _, err := template.Format(map[string]any{"context": "", "question": ""}); err != nil {
		return nil, fmt.Errorf("invalid prompt template: %w", err)
	}

	topK := cfg.RAG.TopK
	if topK < 1 {
		topK = 3
	}
	return &RAG{
		retriever:       retriever,
		generator:       generator,
		template:        template,
		topK:            topK,
		truncation:      cfg.InferenceLLM.Truncation,
		maxPromptTokens: cfg.InferenceLLM.MaxPromptTokens,
	}, nil
}

// Query answers question from the top-k retrieved documents. The answer is the
// generator's raw output and Sources are the retrieved documents as stored.
func (r *RAG) Query(ctx context.Context, question string) (*models.QueryResult, error) {
	docs, err := r.retriever.Retrieve(ctx, question, r.topK)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve documents: %w", err)
	}

	prompt, err := r.BuildPrompt(question, docs)
	if err != nil {
		return nil, err
	}
	log.Debug().Int("sources", len(docs)).Int("prompt_tokens", CountTokens(prompt)).Msg("Generating answer")

	answer, err := r.generator.Generate(ctx, prompt)
	if err != nil {
		var genErr *models.GenerationError
		if errors.As(err, &genErr) {
			return nil, err
		}
		return nil, &models.GenerationError{Model: r.generator.Model(), Err: err}
	}

	return &models.QueryResult{
		Question: question,
		Answer:   answer,
		Sources:  docs,
	}, nil
}

// BuildPrompt renders the template with the joined context, truncated to the
// prompt budget when truncation is enabled.
func (r *RAG) BuildPrompt(question string, docs []models.Document) (string, error) {
	contextText := FormatContext(docs)

	if r.truncation && r.maxPromptTokens > 0 {
		overhead, err := r.render("", question)
		if err != nil {
			return "", err
		}
		budget := r.maxPromptTokens - CountTokens(overhead)
		if CountTokens(contextText) > budget {
			log.Warn().Int("max_prompt_tokens", r.maxPromptTokens).Int("context_budget", max(budget, 0)).
				Msg("Context truncated to fit the prompt budget")
			contextText = TruncateTokens(contextText, budget)
		}
	}

	return r.render(contextText, question)
}

func (r *RAG) render(contextText, question string) (string, error) {
	prompt, err := r.template.Format(map[string]any{
		"context":  contextText,
		"question": question,
	})
	if err != nil {
		return "", fmt.Errorf("failed to format prompt: %w", err)
	}
	return prompt, nil
}
