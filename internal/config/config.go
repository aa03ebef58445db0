package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendChromem  = "chromem"
	BackendPostgres = "postgres"

	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	DriverPgdriver = "pgdriver"
	DriverPq       = "pq"

	DefaultOllamaURL = "http://localhost:11434"
	DefaultOpenAIURL = "https://api.openai.com/v1"
)

// LLMConfig selects a langchaingo provider and model.
type LLMConfig struct {
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"base_url"`
	Key      string `yaml:"key"`
	Model    string `yaml:"model"`
}

type EmbedLLMConfig struct {
	LLMConfig `yaml:",inline"`
	// Dimension is checked against a loaded index when non-zero.
	Dimension int `yaml:"dimension"`
	BatchSize int `yaml:"batch_size"`
}

type InferenceLLMConfig struct {
	LLMConfig       `yaml:",inline"`
	MaxNewTokens    int     `yaml:"max_new_tokens"`
	Truncation      bool    `yaml:"truncation"`
	MaxPromptTokens int     `yaml:"max_prompt_tokens"`
	PadToken        string  `yaml:"pad_token"`
	Temperature     float64 `yaml:"temperature"`
}

type IndexConfig struct {
	Backend       string `yaml:"backend"`
	Path          string `yaml:"path"`
	Collection    string `yaml:"collection"`
	Compress      bool   `yaml:"compress"`
	EncryptionKey string `yaml:"encryption_key"`
	ForceRebuild  bool   `yaml:"force_rebuild"`
}

type DatabaseConfig struct {
	URL    string `yaml:"url"`
	Driver string `yaml:"driver"`
	Debug  bool   `yaml:"debug"`
}

type RAGConfig struct {
	TopK           int    `yaml:"top_k"`
	PromptTemplate string `yaml:"prompt_template"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type Config struct {
	ProjectPath       string             `yaml:"project_path"`
	AllowedExtensions []string           `yaml:"allowed_extensions"`
	ExcludeDirs       []string           `yaml:"exclude_dirs"`
	Index             IndexConfig        `yaml:"index"`
	EmbedLLM          EmbedLLMConfig     `yaml:"embed_llm"`
	InferenceLLM      InferenceLLMConfig `yaml:"inference_llm"`
	RAG               RAGConfig          `yaml:"rag"`
	Database          DatabaseConfig     `yaml:"database"`
	Log               LogConfig          `yaml:"log"`
}

// LoadConfig reads a YAML config on top of the defaults. A missing file is not
// an error: the defaults are returned.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("error reading config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	mergeWithEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

// LoadDotEnv loads KEY=value files into the process environment without
// overriding variables that are already set.
func LoadDotEnv(paths ...string) error {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		ProjectPath:       "./backend",
		AllowedExtensions: []string{".ts", ".json"},
		Index: IndexConfig{
			Backend:    BackendChromem,
			Path:       "code_index",
			Collection: "code",
		},
		EmbedLLM: EmbedLLMConfig{
			LLMConfig: LLMConfig{
				Provider: ProviderOllama,
				Model:    "all-minilm",
			},
			BatchSize: 16,
		},
		InferenceLLM: InferenceLLMConfig{
			LLMConfig: LLMConfig{
				Provider: ProviderOllama,
				Model:    "starcoder2:7b",
			},
			MaxNewTokens:    256,
			Truncation:      true,
			MaxPromptTokens: 4096,
		},
		RAG: RAGConfig{
			TopK: 3,
		},
		Database: DatabaseConfig{
			Driver: DriverPgdriver,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.ProjectPath == "" {
		cfg.ProjectPath = def.ProjectPath
	}
	if len(cfg.AllowedExtensions) == 0 {
		cfg.AllowedExtensions = def.AllowedExtensions
	}
	if cfg.Index.Backend == "" {
		cfg.Index.Backend = def.Index.Backend
	}
	if cfg.Index.Path == "" {
		cfg.Index.Path = def.Index.Path
	}
	if cfg.Index.Collection == "" {
		cfg.Index.Collection = def.Index.Collection
	}
	applyProviderDefaults(&cfg.EmbedLLM.LLMConfig)
	applyProviderDefaults(&cfg.InferenceLLM.LLMConfig)
	if cfg.EmbedLLM.BatchSize == 0 {
		cfg.EmbedLLM.BatchSize = def.EmbedLLM.BatchSize
	}
	if cfg.InferenceLLM.MaxNewTokens == 0 {
		cfg.InferenceLLM.MaxNewTokens = def.InferenceLLM.MaxNewTokens
	}
	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = def.RAG.TopK
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = def.Database.Driver
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
}

func applyProviderDefaults(llm *LLMConfig) {
	if llm.BaseURL != "" {
		return
	}
	switch llm.Provider {
	case ProviderOllama:
		llm.BaseURL = DefaultOllamaURL
	case ProviderOpenAI:
		llm.BaseURL = DefaultOpenAIURL
	}
}

func mergeWithEnv(cfg *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		if cfg.EmbedLLM.Provider == ProviderOllama {
			cfg.EmbedLLM.BaseURL = baseURL
		}
		if cfg.InferenceLLM.Provider == ProviderOllama {
			cfg.InferenceLLM.BaseURL = baseURL
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if cfg.EmbedLLM.Provider == ProviderOpenAI && cfg.EmbedLLM.Key == "" {
			cfg.EmbedLLM.Key = key
		}
		if cfg.InferenceLLM.Provider == ProviderOpenAI && cfg.InferenceLLM.Key == "" {
			cfg.InferenceLLM.Key = key
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if projectPath := os.Getenv("CODE_RAG_PROJECT_PATH"); projectPath != "" {
		cfg.ProjectPath = projectPath
	}
}
