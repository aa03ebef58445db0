package rag

import (
	"strings"
	"unicode"

	"code-rag/internal/models"
)

// FormatContext joins document texts in order, separated by ContextSeparator.
func FormatContext(docs []models.Document) string {
	texts := make([]string, 0, len(docs))
	for _, doc := range docs {
		texts = append(texts, doc.Text)
	}
	return strings.Join(texts, models.ContextSeparator)
}

// CountTokens approximates a token count by whitespace-separated words.
func CountTokens(s string) int {
	return len(strings.Fields(s))
}

// TruncateTokens keeps the first n whitespace tokens of s and drops the rest,
// leaving the kept text byte-for-byte unchanged.
func TruncateTokens(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	inToken := false
	for i, r := range s {
		if unicode.IsSpace(r) {
			if inToken {
				inToken = false
				if count == n {
					return s[:i]
				}
			}
			continue
		}
		if !inToken {
			inToken = true
			count++
		}
	}
	return s
}
