package testutils

import (
	"context"
	"errors"
	"sync"
)

var ErrScripted = errors.New("scripted failure")

// MockEmbedder returns the vector scripted for a text, or Default when the
// text is not in Vectors. Any text equal to FailOn makes the call fail.
type MockEmbedder struct {
	Vectors map[string][]float32
	Default []float32
	FailOn  string

	mu           sync.Mutex
	DocumentCall int
	Queries      []string
}

func NewMockEmbedder(vectors map[string][]float32) *MockEmbedder {
	return &MockEmbedder{Vectors: vectors, Default: []float32{0.1, 0.2, 0.3}}
}

func (m *MockEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.DocumentCall++
	m.mu.Unlock()

	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := m.embed(text)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}

func (m *MockEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.Queries = append(m.Queries, text)
	m.mu.Unlock()
	return m.embed(text)
}

func (m *MockEmbedder) embed(text string) ([]float32, error) {
	if m.FailOn != "" && text == m.FailOn {
		return nil, ErrScripted
	}
	if vec, ok := m.Vectors[text]; ok {
		return append([]float32(nil), vec...), nil
	}
	return append([]float32(nil), m.Default...), nil
}

// MockGenerator records every prompt and answers with Answer, or fails with Err.
type MockGenerator struct {
	Name   string
	Answer string
	Err    error

	mu      sync.Mutex
	Prompts []string
}

func (g *MockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Prompts = append(g.Prompts, prompt)
	if g.Err != nil {
		return "", g.Err
	}
	return g.Answer, nil
}

func (g *MockGenerator) Model() string {
	if g.Name == "" {
		return "mock"
	}
	return g.Name
}

// LastPrompt is the most recent prompt, or "" before any call.
func (g *MockGenerator) LastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.Prompts) == 0 {
		return ""
	}
	return g.Prompts[len(g.Prompts)-1]
}
