package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/prompts"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate reports every invalid field rather than stopping at the first one.
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	add := func(field, format string, args ...any) {
		errors = append(errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(c.ProjectPath) == "" {
		add("project_path", "project path is required")
	}
	if len(c.AllowedExtensions) == 0 {
		add("allowed_extensions", "at least one extension is required")
	}
	for _, ext := range c.AllowedExtensions {
		if strings.TrimSpace(ext) == "" {
			add("allowed_extensions", "empty extension")
		}
	}

	switch c.Index.Backend {
	case BackendChromem:
	case BackendPostgres:
		if c.Database.URL == "" {
			add("database.url", "database url is required for the %s backend", BackendPostgres)
		} else if _, err := url.Parse(c.Database.URL); err != nil {
			add("database.url", "invalid database URL")
		}
		if c.Database.Driver != DriverPgdriver && c.Database.Driver != DriverPq {
			add("database.driver", "unsupported driver %q", c.Database.Driver)
		}
	default:
		add("index.backend", "unsupported backend %q", c.Index.Backend)
	}
	if strings.TrimSpace(c.Index.Path) == "" {
		add("index.path", "index path is required")
	}
	if strings.TrimSpace(c.Index.Collection) == "" {
		add("index.collection", "collection name is required")
	}
	if n := len(c.Index.EncryptionKey); n != 0 && n != 32 {
		add("index.encryption_key", "encryption key must be 32 bytes, got %d", n)
	}

	errors = append(errors, validateLLM("embed_llm", c.EmbedLLM.LLMConfig)...)
	if c.EmbedLLM.Dimension < 0 {
		add("embed_llm.dimension", "dimension must not be negative")
	}
	if c.EmbedLLM.BatchSize < 1 {
		add("embed_llm.batch_size", "batch_size must be positive")
	}

	errors = append(errors, validateLLM("inference_llm", c.InferenceLLM.LLMConfig)...)
	if c.InferenceLLM.MaxNewTokens < 1 {
		add("inference_llm.max_new_tokens", "max_new_tokens must be positive")
	}
	if c.InferenceLLM.MaxPromptTokens < 0 {
		add("inference_llm.max_prompt_tokens", "max_prompt_tokens must not be negative")
	}
	if c.InferenceLLM.Temperature < 0 || c.InferenceLLM.Temperature > 2 {
		add("inference_llm.temperature", "temperature must be between 0 and 2")
	}

	if c.RAG.TopK < 1 {
		add("rag.top_k", "top_k must be at least 1")
	}
	if tmpl := c.RAG.PromptTemplate; tmpl != "" {
		for _, msg := range checkPromptTemplate(tmpl) {
			add("rag.prompt_template", "%s", msg)
		}
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		add("log.level", "unknown level %q", c.Log.Level)
	}

	return errors
}

func validateLLM(prefix string, llm LLMConfig) []ValidationError {
	var errors []ValidationError
	switch llm.Provider {
	case ProviderOllama:
	case ProviderOpenAI:
		if llm.Key == "" {
			errors = append(errors, ValidationError{Field: prefix + ".key", Message: "API key is required for openai"})
		}
	default:
		errors = append(errors, ValidationError{Field: prefix + ".provider", Message: fmt.Sprintf("unsupported provider %q", llm.Provider)})
	}
	if strings.TrimSpace(llm.Model) == "" {
		errors = append(errors, ValidationError{Field: prefix + ".model", Message: "model is required"})
	}
	if llm.BaseURL != "" {
		if u, err := url.Parse(llm.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errors = append(errors, ValidationError{Field: prefix + ".base_url", Message: "invalid base URL"})
		}
	}
	return errors
}

// checkPromptTemplate renders tmpl with marker values and reports any input
// variable whose marker does not reach the output.
func checkPromptTemplate(tmpl string) []string {
	markers := map[string]any{
		"context":  "@@context@@",
		"question": "@@question@@",
	}
	out, err := prompts.NewPromptTemplate(tmpl, []string{"context", "question"}).Format(markers)
	if err != nil {
		return []string{fmt.Sprintf("template does not render: %v", err)}
	}

	var msgs []string
	for _, name := range []string{"context", "question"} {
		if !strings.Contains(out, markers[name].(string)) {
			msgs = append(msgs, fmt.Sprintf("template must use {{.%s}}", name))
		}
	}
	return msgs
}
