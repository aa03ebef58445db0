package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"code-rag/internal/config"
	"code-rag/internal/models"
)

func TestNewEmbedderProviders(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.EmbedLLMConfig
		wantErr bool
	}{
		{
			name: "ollama",
			cfg: config.EmbedLLMConfig{
				LLMConfig: config.LLMConfig{Provider: config.ProviderOllama, BaseURL: config.DefaultOllamaURL, Model: "all-minilm"},
				BatchSize: 8,
			},
		},
		{
			name: "openai",
			cfg: config.EmbedLLMConfig{
				LLMConfig: config.LLMConfig{Provider: config.ProviderOpenAI, BaseURL: config.DefaultOpenAIURL, Key: "Bearer sk-test", Model: "text-embedding-3-small"},
			},
		},
		{
			name:    "unknown",
			cfg:     config.EmbedLLMConfig{LLMConfig: config.LLMConfig{Provider: "faiss", Model: "x"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			embedder, err := NewEmbedder(&tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, embedder)
		})
	}
}

func TestNewEmbedderNilConfig(t *testing.T) {
	_, err := NewEmbedder(nil)
	assert.Error(t, err)
}

func TestIdentity(t *testing.T) {
	cfg := &config.EmbedLLMConfig{
		LLMConfig: config.LLMConfig{Provider: config.ProviderOllama, Model: "nomic-embed-text"},
		Dimension: 768,
	}
	assert.Equal(t, models.EmbeddingIdentity{Provider: "ollama", Model: "nomic-embed-text", Dimension: 768}, Identity(cfg))
	assert.Equal(t, "ollama/nomic-embed-text", Identity(cfg).String())
}
